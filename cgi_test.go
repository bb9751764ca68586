package webserv

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// writeScript writes an executable shell script into a temp dir.
func writeScript(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(
		path,
		[]byte("#!/bin/sh\n"+body),
		0o755,
	))
	return path
}

func TestRunCGI(t *testing.T) {
	w := New()
	script := writeScript(
		t,
		"hello.sh",
		`printf 'Content-Type: text/plain\r\nX-Script: yes\r\n\r\nhello from cgi'`,
	)

	req := mustRequest(t, "GET /hello.sh HTTP/1.1\r\nHost: a\r\n\r\n")
	headers, body, status := w.runCGI(req, script)

	assert.Equal(t, StatusOK, status)
	assert.Equal(t, "hello from cgi", string(body))
	assert.Equal(t, []headerField{
		{name: "Content-Type", value: "text/plain"},
		{name: "X-Script", value: "yes"},
	}, headers)
}

func TestRunCGIStdin(t *testing.T) {
	w := New()
	script := writeScript(
		t,
		"echo.sh",
		`printf 'Content-Type: text/plain\r\n\r\n'; cat`,
	)

	req := mustRequest(
		t,
		"POST /echo.sh HTTP/1.1\r\nHost: a\r\nContent-Length: 4\r\n\r\nbody",
	)
	_, body, status := w.runCGI(req, script)

	assert.Equal(t, StatusOK, status)
	assert.Equal(t, "body", string(body))
}

func TestRunCGIMissingTerminator(t *testing.T) {
	w := New()
	script := writeScript(t, "bad.sh", `printf 'no header block'`)

	req := mustRequest(t, "GET /bad.sh HTTP/1.1\r\nHost: a\r\n\r\n")
	_, _, status := w.runCGI(req, script)

	assert.Equal(t, StatusInternalServerError, status)
}

func TestRunCGINonZeroExit(t *testing.T) {
	w := New()
	script := writeScript(t, "fail.sh", `exit 3`)

	req := mustRequest(t, "GET /fail.sh HTTP/1.1\r\nHost: a\r\n\r\n")
	_, _, status := w.runCGI(req, script)

	assert.Equal(t, StatusInternalServerError, status)
}

func TestRunCGITimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping the wall-clock budget in short mode")
	}

	w := New()
	script := writeScript(t, "slow.sh", `sleep 10`)

	req := mustRequest(t, "GET /slow.sh HTTP/1.1\r\nHost: a\r\n\r\n")
	start := time.Now()
	_, _, status := w.runCGI(req, script)

	assert.Equal(t, StatusGatewayTimeout, status)
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestRunCGIWorkingDirectory(t *testing.T) {
	w := New()
	script := writeScript(
		t,
		"pwd.sh",
		`printf 'Content-Type: text/plain\r\n\r\n'; pwd`,
	)

	req := mustRequest(t, "GET /pwd.sh HTTP/1.1\r\nHost: a\r\n\r\n")
	_, body, status := w.runCGI(req, script)

	assert.Equal(t, StatusOK, status)
	assert.Equal(
		t,
		filepath.Dir(script),
		strings.TrimSpace(string(body)),
	)
}

func TestCGIEnv(t *testing.T) {
	req := mustRequest(
		t,
		"POST /run.py?x=1&y=2 HTTP/1.1\r\n"+
			"Host: a\r\n"+
			"Content-Type: application/json\r\n"+
			"Accept: text/html\r\n"+
			"Accept: application/json\r\n"+
			"X-Token: secret\r\n"+
			"\r\n",
	)
	req.Body = []byte(`{"k":"v"}`)

	env := cgiEnv(req, "/srv/cgi/run.py")
	sort.Strings(env)

	assert.Contains(t, env, "REQUEST_METHOD=POST")
	assert.Contains(t, env, "SERVER_PROTOCOL=HTTP/1.1")
	assert.Contains(t, env, "CONTENT_LENGTH=9")
	assert.Contains(t, env, "CONTENT_TYPE=application/json")
	assert.Contains(t, env, "QUERY_STRING=x=1&y=2")
	assert.Contains(t, env, "SCRIPT_FILENAME=/srv/cgi/run.py")
	assert.Contains(t, env, "HTTP_HOST=a")
	assert.Contains(t, env, "HTTP_X_TOKEN=secret")
	assert.Contains(t, env, "HTTP_ACCEPT=text/html, application/json")
}

func TestRespondCGIThroughGet(t *testing.T) {
	w := New()
	sc := testServer(t)
	sc.CGIExt = ".sh"

	assert.NoError(t, os.WriteFile(
		filepath.Join(sc.Root, "app.sh"),
		[]byte("#!/bin/sh\n"+
			`printf 'Content-Type: text/plain\r\n\r\ncgi body'`),
		0o755,
	))

	req := mustRequest(t, "GET /app.sh HTTP/1.1\r\nHost: a\r\n\r\n")
	s := string(w.respond(sc, req, StatusOK, -1))

	assert.True(t, strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, s, "Content-Type: text/plain\r\n")
	assert.Contains(t, s, "Server: webserv\r\n")
	assert.True(t, strings.HasSuffix(s, "cgi body"))
}
