package webserv

import (
	"fmt"
	"os"
	"path/filepath"
)

// errorResponse builds the reply for any failed request: a configured error
// page when one is readable, a synthesized minimal page otherwise.
type errorResponse struct {
	w      *Webserv
	server *ServerConfig
	route  string
	status int
}

// respond implements the `responder`.
func (r *errorResponse) respond() *Response {
	resp := newResponse()
	resp.Status = r.status
	resp.Body = r.w.errorPageBody(r.server, r.route, r.status)
	resp.AddHeader("Content-Type", "text/html")
	resp.loadCommonHeaders()

	return resp
}

// errorPageBody returns the body for the status: the configured error page
// file when present and readable, else the default page.
func (w *Webserv) errorPageBody(server *ServerConfig, route string, status int) []byte {
	if server != nil {
		if name, ok := server.effectiveErrorPages(route)[status]; ok {
			if !filepath.IsAbs(name) {
				name = filepath.Join(
					server.effectiveRoot(route),
					name,
				)
			}

			if b, err := os.ReadFile(name); err == nil {
				return b
			}
		}
	}

	b := []byte(fmt.Sprintf(
		"<h1>%d %s</h1>",
		status,
		reasonPhrase(status),
	))

	return w.minifier.minifyHTML(b)
}

// errorFor is the shorthand the pipelines use to fail with the status.
func errorFor(w *Webserv, server *ServerConfig, route string, status int) *Response {
	r := &errorResponse{
		w:      w,
		server: server,
		route:  route,
		status: status,
	}

	return r.respond()
}
