package webserv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeByExtension(t *testing.T) {
	assert.Equal(t, "text/html", typeByExtension("index.html", nil))
	assert.Equal(t, "text/html", typeByExtension("a/b/INDEX.HTM", nil))
	assert.Equal(t, "text/css", typeByExtension("style.css", nil))
	assert.Equal(t, "image/png", typeByExtension("logo.png", nil))
	assert.Equal(t, "application/json", typeByExtension("data.json", nil))
}

func TestTypeByExtensionSniffFallback(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	assert.Equal(t, "image/png", typeByExtension("mystery", png))

	assert.Equal(
		t,
		"application/octet-stream",
		typeByExtension("mystery", nil),
	)
}
