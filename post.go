package webserv

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// defaultUploadPage is the body of a successful upload response.
const defaultUploadPage = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>Upload Successful</title>
</head>
<body>
	<h1>File Uploaded Successfully!</h1>
	<p>Your file has been uploaded.</p>
	<a href="index.html">Back to Index</a>
</body>
</html>
`

// postResponse is the upload pipeline.
type postResponse struct {
	w      *Webserv
	server *ServerConfig
	req    *Request
	route  string
	fd     int
}

// respond implements the `responder`.
func (r *postResponse) respond() *Response {
	if !r.server.methodAllowed(r.route, MethodPost) {
		return errorFor(r.w, r.server, r.route, StatusMethodNotAllowed)
	}

	limit := r.server.effectiveBodyLimit(r.route)
	if int64(len(r.req.Body)) > limit {
		return errorFor(r.w, r.server, r.route, StatusPayloadTooLarge)
	}

	if strings.EqualFold(
		r.req.Header.Get("Expect"),
		"100-continue",
	) && r.fd >= 0 {
		unix.Write(r.fd, []byte("HTTP/1.1 100 Continue\r\n\r\n"))
	}

	if ext := r.server.effectiveCGIExt(r.route); ext != "" {
		if path, ok := resolvePath(
			r.server.effectiveRoot(r.route),
			r.req.URI,
		); ok && strings.HasSuffix(path, ext) {
			return r.w.respondCGI(r.server, r.route, r.req, path)
		}
	}

	if status := r.uploadFiles(); status != StatusOK {
		return errorFor(r.w, r.server, r.route, status)
	}

	resp := newResponse()
	resp.Status = StatusCreated
	resp.Body = r.w.minifier.minifyHTML([]byte(defaultUploadPage))
	resp.AddHeader("Content-Type", "text/html")
	resp.loadCommonHeaders()

	return resp
}

// uploadFiles parses the multipart body and writes every file part into the
// upload store.
func (r *postResponse) uploadFiles() int {
	mediaType, params, err := mime.ParseMediaType(
		r.req.Header.Get("Content-Type"),
	)
	if err != nil || mediaType != "multipart/form-data" {
		return StatusBadRequest
	}

	boundary := params["boundary"]
	if boundary == "" {
		return StatusBadRequest
	}

	store := filepath.Clean(r.server.effectiveUploadStore(r.route))
	mr := multipart.NewReader(bytes.NewReader(r.req.Body), boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return StatusBadRequest
		}

		// The raw filename parameter is checked: Part.FileName strips
		// directory components and would hide an escaping name.
		_, dparams, _ := mime.ParseMediaType(
			p.Header.Get("Content-Disposition"),
		)
		name := dparams["filename"]
		if name == "" {
			continue
		}

		target := filepath.Join(store, filepath.FromSlash(name))
		if target != store && !strings.HasPrefix(
			target,
			store+string(filepath.Separator),
		) {
			return StatusForbidden
		}

		b, err := io.ReadAll(p)
		if err != nil {
			return StatusInternalServerError
		}

		if status := writeUpload(target, b); status != StatusOK {
			return status
		}

		r.w.addStorageSize(int64(len(b)))
	}

	return StatusOK
}

// writeUpload creates or truncates the target with the b.
func writeUpload(target string, b []byte) int {
	if err := os.WriteFile(target, b, 0o644); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return StatusInsufficientStorage
		}

		return StatusInternalServerError
	}

	return StatusOK
}
