package webserv

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResponseHeaders(t *testing.T) {
	resp := newResponse()
	assert.Equal(t, StatusOK, resp.Status)

	resp.AddHeader("Content-Type", "text/html")
	resp.AddHeader("Set-Cookie", "a=1")
	resp.AddHeader("Set-Cookie", "b=2")

	assert.True(t, resp.HasHeader("content-type"))
	assert.Equal(t, "text/html", resp.Header("CONTENT-TYPE"))
	assert.Equal(t, "a=1", resp.Header("Set-Cookie"))
	assert.False(t, resp.HasHeader("Server"))
}

func TestResponseLoadCommonHeaders(t *testing.T) {
	resp := newResponse()
	resp.Body = []byte("hello\n")
	resp.loadCommonHeaders()

	assert.Equal(t, "webserv", resp.Header("Server"))
	assert.Equal(t, "6", resp.Header("Content-Length"))
	assert.Equal(t, "close", resp.Header("Connection"))
	assert.NotEmpty(t, resp.Header("Date"))

	_, ok := parseHTTPDate(resp.Header("Date"))
	assert.True(t, ok)

	// Existing headers are preserved.
	resp2 := newResponse()
	resp2.AddHeader("Server", "other")
	resp2.loadCommonHeaders()
	assert.Equal(t, "other", resp2.Header("Server"))
}

func TestResponseBytes(t *testing.T) {
	resp := newResponse()
	resp.Status = StatusNotFound
	resp.AddHeader("Content-Type", "text/html")
	resp.Body = []byte("<h1>404 Not Found</h1>")
	resp.loadCommonHeaders()

	s := string(resp.bytes())
	assert.True(t, strings.HasPrefix(s, "HTTP/1.1 404 Not Found\r\n"))
	assert.Contains(t, s, "Content-Type: text/html\r\n")
	assert.Contains(t, s, "Connection: close\r\n")
	assert.True(t, strings.HasSuffix(s, "\r\n\r\n<h1>404 Not Found</h1>"))

	// Header order is insertion order.
	ct := strings.Index(s, "Content-Type:")
	srv := strings.Index(s, "Server:")
	assert.Less(t, ct, srv)
}

func TestParseHTTPDate(t *testing.T) {
	want := time.Date(2015, time.October, 21, 7, 28, 0, 0, time.UTC)

	got, ok := parseHTTPDate("Wed, 21 Oct 2015 07:28:00 GMT")
	assert.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = parseHTTPDate("Wednesday, 21-Oct-15 07:28:00 GMT")
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = parseHTTPDate("yesterday")
	assert.False(t, ok)
}
