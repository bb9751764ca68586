package webserv

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestCompleteBodyless(t *testing.T) {
	assert.False(t, requestComplete(nil))
	assert.False(t, requestComplete([]byte("GET / HTTP/1.1\r\nHost: a")))
	assert.True(t, requestComplete([]byte(
		"GET / HTTP/1.1\r\nHost: a\r\n\r\n",
	)))
}

func TestRequestCompleteContentLength(t *testing.T) {
	head := "POST /u HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\n\r\n"

	assert.False(t, requestComplete([]byte(head)))
	assert.False(t, requestComplete([]byte(head+"hel")))
	assert.True(t, requestComplete([]byte(head+"hello")))
	assert.True(t, requestComplete([]byte(head+"hello, and more")))
}

func TestRequestCompleteChunked(t *testing.T) {
	head := "POST /u HTTP/1.1\r\nHost: a\r\n" +
		"Transfer-Encoding: chunked\r\n\r\n"

	assert.False(t, requestComplete([]byte(head)))
	assert.False(t, requestComplete([]byte(head+"5\r\nhello\r\n")))
	assert.True(t, requestComplete([]byte(
		head+"5\r\nhello\r\n0\r\n\r\n",
	)))
}

func TestRequestCompleteMonotone(t *testing.T) {
	full := "POST /u HTTP/1.1\r\nHost: a\r\nContent-Length: 6\r\n\r\n" +
		"hello\n" + "trailing garbage"

	complete := false
	for i := 0; i <= len(full); i++ {
		now := requestComplete([]byte(full[:i]))
		if complete {
			assert.True(t, now, fmt.Sprintf("prefix %d", i))
		}

		complete = complete || now
	}

	assert.True(t, complete)
}

func TestContentLength(t *testing.T) {
	n, ok := contentLength("Host: a\r\nContent-Length: 42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	n, ok = contentLength("Host: a\r\ncontent-length: 7")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = contentLength("Host: a")
	assert.False(t, ok)

	_, ok = contentLength("Content-Length: nan")
	assert.False(t, ok)

	_, ok = contentLength("Content-Length: -1")
	assert.False(t, ok)
}

func TestHasChunkedEncoding(t *testing.T) {
	assert.True(t, hasChunkedEncoding("Transfer-Encoding: chunked"))
	assert.True(t, hasChunkedEncoding("transfer-encoding: Chunked"))
	assert.False(t, hasChunkedEncoding("Transfer-Encoding: gzip"))
	assert.False(t, hasChunkedEncoding("Host: a"))
}

func TestBindIP(t *testing.T) {
	ip, err := bindIP("")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, ip)

	ip, err = bindIP("0.0.0.0")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, ip)

	ip, err = bindIP("localhost")
	assert.NoError(t, err)
	assert.Equal(t, []byte{127, 0, 0, 1}, ip)

	ip, err = bindIP("10.1.2.3")
	assert.NoError(t, err)
	assert.Equal(t, []byte{10, 1, 2, 3}, ip)

	_, err = bindIP("not-an-ip")
	assert.Error(t, err)
}

func TestReadMaxClients(t *testing.T) {
	// The value comes from the system file when it is readable and falls
	// back to the default otherwise; either way it is positive.
	assert.Greater(t, readMaxClients(), 0)
}

func TestNewCluster(t *testing.T) {
	w := New()
	c := w.cluster

	assert.NotNil(t, c)
	assert.Equal(t, -1, c.epfd)
	assert.NotNil(t, c.listeners)
	assert.NotNil(t, c.conns)
	assert.True(t, strings.HasPrefix(maxClientsPath, "/proc/"))
}
