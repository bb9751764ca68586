package webserv

import (
	"strconv"
	"strings"
	"time"
)

// httpTimeFormat is the RFC 7231 IMF-fixdate layout.
const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// httpTimeFormats are the layouts accepted when parsing an HTTP-date.
var httpTimeFormats = []string{
	httpTimeFormat,
	"Monday, 02-Jan-06 15:04:05 GMT",
	"Mon Jan _2 15:04:05 2006",
}

// parseHTTPDate parses the v as an HTTP-date.
func parseHTTPDate(v string) (time.Time, bool) {
	for _, layout := range httpTimeFormats {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// headerField is one response header line.
type headerField struct {
	name  string
	value string
}

// Response is an HTTP response under construction.
type Response struct {
	// Status is the status code of the response.
	Status int

	// headers is the ordered header multimap of the response.
	headers []headerField

	// Body is the response body.
	Body []byte
}

// newResponse returns a new instance of the `Response` with the status 200.
func newResponse() *Response {
	return &Response{
		Status: StatusOK,
	}
}

// AddHeader appends the value to the name of the r, preserving insertion
// order.
func (r *Response) AddHeader(name, value string) {
	r.headers = append(r.headers, headerField{
		name:  name,
		value: value,
	})
}

// HasHeader reports whether the name is present in the r. The comparison is
// case-insensitive.
func (r *Response) HasHeader(name string) bool {
	for _, hf := range r.headers {
		if strings.EqualFold(hf.name, name) {
			return true
		}
	}

	return false
}

// Header returns the first value of the name of the r, or "".
func (r *Response) Header(name string) string {
	for _, hf := range r.headers {
		if strings.EqualFold(hf.name, name) {
			return hf.value
		}
	}

	return ""
}

// loadCommonHeaders sets the headers every response carries: Server, Date,
// Content-Length and Connection: close. The connection is closed after every
// response on purpose, so the intent is always signaled.
func (r *Response) loadCommonHeaders() {
	if !r.HasHeader("Server") {
		r.AddHeader("Server", serverName)
	}

	if !r.HasHeader("Date") {
		r.AddHeader("Date", time.Now().UTC().Format(httpTimeFormat))
	}

	if !r.HasHeader("Content-Length") {
		r.AddHeader("Content-Length", strconv.Itoa(len(r.Body)))
	}

	if !r.HasHeader("Connection") {
		r.AddHeader("Connection", "close")
	}
}

// bytes serializes the r into HTTP/1.1 wire form.
func (r *Response) bytes() []byte {
	b := strings.Builder{}
	b.Grow(128 + len(r.Body))
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(r.Status))
	b.WriteByte(' ')
	b.WriteString(reasonPhrase(r.Status))
	b.WriteString("\r\n")
	for _, hf := range r.headers {
		b.WriteString(hf.name)
		b.WriteString(": ")
		b.WriteString(hf.value)
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	b.WriteString(string(r.Body))

	return []byte(b.String())
}
