package webserv

// responder generates one `Response` for one parsed request. The GET, POST
// and DELETE pipelines, the redirect short-circuit and the error-response
// builder are its concrete implementations.
type responder interface {
	respond() *Response
}

// respond picks and runs the pipeline serving the req on the server,
// returning the wire form of the response. The status is the parser's
// verdict; any non-200 value routes straight to the error builder. The fd is
// the client connection, needed by the POST pipeline's 100-continue hop.
func (w *Webserv) respond(server *ServerConfig, req *Request, status int, fd int) []byte {
	route := server.matchRoute(req.URI)

	var r responder
	switch {
	case status != StatusOK:
		r = &errorResponse{
			w:      w,
			server: server,
			route:  route,
			status: status,
		}
	case server.effectiveReturn(route) != nil:
		r = &redirectResponse{
			redirect: server.effectiveReturn(route),
		}
	case req.Method == MethodGet:
		r = &getResponse{
			w:      w,
			server: server,
			req:    req,
			route:  route,
		}
	case req.Method == MethodPost:
		r = &postResponse{
			w:      w,
			server: server,
			req:    req,
			route:  route,
			fd:     fd,
		}
	case req.Method == MethodDelete:
		r = &deleteResponse{
			w:      w,
			server: server,
			req:    req,
			route:  route,
		}
	default:
		r = &errorResponse{
			w:      w,
			server: server,
			route:  route,
			status: StatusMethodNotAllowed,
		}
	}

	return r.respond().bytes()
}

// redirectResponse short-circuits a request whose effective configuration
// carries a return pair.
type redirectResponse struct {
	redirect *Redirect
}

// respond implements the `responder`.
func (r *redirectResponse) respond() *Response {
	resp := newResponse()
	resp.Status = r.redirect.Status
	resp.AddHeader("Location", r.redirect.Target)
	resp.AddHeader("Content-Type", "text/html")
	resp.loadCommonHeaders()

	return resp
}
