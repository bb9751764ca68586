package webserv

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// multiValueHeaderNames are the lowercased request headers whose values are
// joined with ", " when exported to the CGI environment. Every other header
// is passed verbatim with its first value.
var multiValueHeaderNames = []string{
	"accept",
	"accept-encoding",
	"cache-control",
	"set-cookie",
	"via",
	"forwarded",
}

// respondCGI runs the script for the req and maps its output into a
// response. The script's headers are merged first, so the common headers
// only fill what the script left unset.
func (w *Webserv) respondCGI(server *ServerConfig, route string, req *Request, script string) *Response {
	headers, body, status := w.runCGI(req, script)
	if status != StatusOK {
		return errorFor(w, server, route, status)
	}

	resp := newResponse()
	resp.Body = body
	for _, hf := range headers {
		if !resp.HasHeader(hf.name) {
			resp.AddHeader(hf.name, hf.value)
		}
	}

	if !resp.HasHeader("Content-Type") {
		resp.AddHeader("Content-Type", "text/html")
	}

	resp.loadCommonHeaders()

	return resp
}

// runCGI executes the script with the request body on its stdin and a CGI
// environment, bounded by a wall-clock budget. The script's stdout is split
// at the first blank line into headers and body.
func (w *Webserv) runCGI(req *Request, script string) ([]headerField, []byte, int) {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		cgiTimeoutSeconds*time.Second,
	)
	defer cancel()

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = filepath.Dir(script)
	cmd.Stdin = bytes.NewReader(req.Body)
	cmd.Env = cgiEnv(req, script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := bytes.Buffer{}
	cmd.Stdout = &out

	// The script runs in its own process group, so the timeout kill also
	// reaches the processes it started, which would otherwise keep its
	// stdout open past the budget.
	err := cmd.Start()
	if err == nil {
		go func() {
			<-ctx.Done()
			if ctx.Err() == context.DeadlineExceeded {
				syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		}()
		err = cmd.Wait()
	}

	if ctx.Err() == context.DeadlineExceeded {
		w.logger.WARN(
			"webserv: cgi script timed out",
			map[string]interface{}{"script": script},
		)
		return nil, nil, StatusGatewayTimeout
	} else if err != nil {
		w.logger.ERROR(
			"webserv: cgi script failed",
			map[string]interface{}{
				"script": script,
				"error":  err.Error(),
			},
		)
		return nil, nil, StatusInternalServerError
	}

	i := bytes.Index(out.Bytes(), []byte("\r\n\r\n"))
	if i < 0 {
		return nil, nil, StatusInternalServerError
	}

	headers := parseCGIHeaders(string(out.Bytes()[:i]))
	body := append([]byte(nil), out.Bytes()[i+4:]...)

	return headers, body, StatusOK
}

// parseCGIHeaders parses the "Name: value" lines of the script's header
// block, preserving their order.
func parseCGIHeaders(s string) []headerField {
	var hfs []headerField
	for _, line := range strings.Split(s, "\r\n") {
		i := strings.Index(line, ": ")
		if i < 0 {
			continue
		}

		hfs = append(hfs, headerField{
			name:  line[:i],
			value: line[i+2:],
		})
	}

	return hfs
}

// cgiEnv builds the environment vector of the script: the request metadata
// plus one HTTP_* entry per request header.
func cgiEnv(req *Request, script string) []string {
	query := ""
	if i := strings.IndexByte(req.RawURI, '?'); i >= 0 {
		query = req.RawURI[i+1:]
	}

	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=" + req.Method.String(),
		"SERVER_PROTOCOL=" + req.Proto,
		"SERVER_SOFTWARE=" + serverName,
		"CONTENT_LENGTH=" + strconv.Itoa(len(req.Body)),
		"CONTENT_TYPE=" + req.Header.Get("Content-Type"),
		"QUERY_STRING=" + query,
		"SCRIPT_FILENAME=" + script,
	}

	for key := range req.Header {
		value := req.Header.Get(key)
		if stringSliceContains(multiValueHeaderNames, key) {
			value = strings.Join(req.Header.Values(key), ", ")
		}

		name := "HTTP_" + strings.ToUpper(
			strings.ReplaceAll(key, "-", "_"),
		)
		env = append(env, fmt.Sprint(name, "=", value))
	}

	return env
}
