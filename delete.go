package webserv

import (
	"errors"
	"os"
	"syscall"
)

// deleteResponse is the deletion pipeline: it unlinks a regular file or
// removes an empty directory.
type deleteResponse struct {
	w      *Webserv
	server *ServerConfig
	req    *Request
	route  string
}

// respond implements the `responder`.
func (r *deleteResponse) respond() *Response {
	if !r.server.methodAllowed(r.route, MethodDelete) {
		return errorFor(r.w, r.server, r.route, StatusMethodNotAllowed)
	}

	path, ok := resolvePath(
		r.server.effectiveRoot(r.route),
		r.req.URI,
	)
	if !ok {
		return errorFor(r.w, r.server, r.route, StatusForbidden)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return errorFor(r.w, r.server, r.route, StatusNotFound)
	}

	var status int
	if fi.IsDir() {
		status = r.deleteDir(path)
	} else {
		status = r.deleteFile(path, fi)
	}

	if status != StatusOK {
		return errorFor(r.w, r.server, r.route, status)
	}

	resp := newResponse()
	resp.Status = StatusNoContent
	resp.loadCommonHeaders()

	return resp
}

// deleteFile unlinks the regular file at the path and accounts its size out
// of the upload store.
func (r *deleteResponse) deleteFile(path string, fi os.FileInfo) int {
	if fi.Mode().Perm()&0o200 == 0 {
		return StatusForbidden
	}

	size := fi.Size()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, syscall.EACCES) {
			return StatusForbidden
		}

		return StatusInternalServerError
	}

	r.w.addStorageSize(-size)

	return StatusOK
}

// deleteDir removes the directory at the path. A directory with any entry
// other than "." and ".." conflicts.
func (r *deleteResponse) deleteDir(path string) int {
	des, err := os.ReadDir(path)
	if err != nil {
		return StatusInternalServerError
	}

	if len(des) > 0 {
		return StatusConflict
	}

	if err := os.Remove(path); err != nil {
		return StatusInternalServerError
	}

	return StatusOK
}
