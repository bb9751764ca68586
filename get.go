package webserv

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// getResponse is the static file retrieval pipeline.
type getResponse struct {
	w      *Webserv
	server *ServerConfig
	req    *Request
	route  string
}

// respond implements the `responder`.
func (r *getResponse) respond() *Response {
	if !r.server.methodAllowed(r.route, MethodGet) {
		return errorFor(r.w, r.server, r.route, StatusMethodNotAllowed)
	}

	path, ok := resolvePath(
		r.server.effectiveRoot(r.route),
		r.req.URI,
	)
	if !ok {
		return errorFor(r.w, r.server, r.route, StatusForbidden)
	}

	if ext := r.server.effectiveCGIExt(r.route); ext != "" &&
		strings.HasSuffix(path, ext) {
		return r.w.respondCGI(r.server, r.route, r.req, path)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return errorFor(r.w, r.server, r.route, statStatus(err))
	}

	if fi.IsDir() {
		return r.respondDir(path)
	}

	return r.respondFile(path, fi)
}

// respondDir probes the configured index files of the directory and falls
// back to the generated listing when autoindex is on.
func (r *getResponse) respondDir(path string) *Response {
	for _, idx := range r.server.effectiveIndex(r.route) {
		name := filepath.Join(path, idx)
		fi, err := os.Stat(name)
		if err != nil || fi.IsDir() {
			continue
		}

		return r.respondFile(name, fi)
	}

	if !r.server.effectiveAutoIndex(r.route) {
		return errorFor(r.w, r.server, r.route, StatusForbidden)
	}

	return r.respondListing(path)
}

// respondFile loads the file, honoring If-Modified-Since, and sets the
// content headers.
func (r *getResponse) respondFile(path string, fi os.FileInfo) *Response {
	modTime := fi.ModTime().Truncate(time.Second)
	if v := r.req.Header.Get("If-Modified-Since"); v != "" {
		if since, ok := parseHTTPDate(v); ok &&
			!modTime.After(since.Truncate(time.Second)) {
			resp := newResponse()
			resp.Status = StatusNotModified
			resp.loadCommonHeaders()
			return resp
		}
	}

	b, err := r.w.fileContent(path)
	if err != nil {
		return errorFor(
			r.w,
			r.server,
			r.route,
			StatusInternalServerError,
		)
	}

	resp := newResponse()
	resp.Body = b
	resp.AddHeader("Content-Type", typeByExtension(path, b))
	resp.AddHeader("Last-Modified", modTime.UTC().Format(httpTimeFormat))
	if hasPathSegment(r.req.URI, "download") {
		name := filepath.Base(path)
		resp.AddHeader(
			"Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", name),
		)
	}

	resp.loadCommonHeaders()

	return resp
}

// respondListing generates the directory listing of the path: one row per
// entry with its name, last-modified time and size.
func (r *getResponse) respondListing(path string) *Response {
	des, err := os.ReadDir(path)
	if err != nil {
		return errorFor(
			r.w,
			r.server,
			r.route,
			StatusInternalServerError,
		)
	}

	sort.Slice(des, func(i, j int) bool {
		return des[i].Name() < des[j].Name()
	})

	uri := r.req.URI
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}

	b := strings.Builder{}
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<title>Index of ")
	b.WriteString(uri)
	b.WriteString("</title>\n</head>\n<body>\n<h1>Index of ")
	b.WriteString(uri)
	b.WriteString("</h1>\n<hr>\n<table>\n")
	for _, de := range des {
		name := de.Name()
		href := percentEncode(uri + name)
		modified, size := "-", "-"
		if fi, err := de.Info(); err == nil {
			modified = fi.ModTime().UTC().Format(httpTimeFormat)
			if !fi.IsDir() {
				size = fmt.Sprintf("%d", fi.Size())
			}
		}

		if de.IsDir() {
			name += "/"
			href += "/"
		}

		fmt.Fprintf(
			&b,
			"<tr><td><a href=\"%s\">%s</a></td>"+
				"<td>%s</td><td>%s</td></tr>\n",
			href,
			name,
			modified,
			size,
		)
	}

	b.WriteString("</table>\n<hr>\n</body>\n</html>\n")

	resp := newResponse()
	resp.Body = r.w.minifier.minifyHTML([]byte(b.String()))
	resp.AddHeader("Content-Type", "text/html")
	resp.loadCommonHeaders()

	return resp
}

// fileContent loads the file's bytes, through the static-file cache when it
// is enabled.
func (w *Webserv) fileContent(path string) ([]byte, error) {
	if w.CofferEnabled {
		if a, err := w.coffer.asset(path); err == nil && a != nil {
			if b := a.content(); b != nil {
				return b, nil
			}
		}
	}

	return os.ReadFile(path)
}

// resolvePath joins the root and the decoded URI into a filesystem path.
// The second return value is false when the URI escapes the root.
func resolvePath(root, uri string) (string, bool) {
	path := filepath.Join(root, filepath.FromSlash(uri))
	root = filepath.Clean(root)
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", false
	}

	return path, true
}

// hasPathSegment reports whether the decoded uri contains the literal path
// segment seg.
func hasPathSegment(uri, seg string) bool {
	for _, s := range strings.Split(uri, "/") {
		if s == seg {
			return true
		}
	}

	return false
}

// statStatus maps a stat failure to its status code.
func statStatus(err error) int {
	switch {
	case os.IsNotExist(err):
		return StatusNotFound
	case os.IsPermission(err):
		return StatusForbidden
	}

	return StatusInternalServerError
}
