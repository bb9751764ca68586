package webserv

import (
	"bytes"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

// minifier minifies the HTML pages the server generates itself: directory
// listings, default error pages and the upload success page.
type minifier struct {
	w *Webserv

	loadOnce sync.Once
	m        *minify.M
}

// newMinifier returns a new instance of the `minifier` with the w.
func newMinifier(w *Webserv) *minifier {
	return &minifier{
		w: w,
	}
}

// minifyHTML minifies the b when minification is enabled. The b is returned
// untouched on any failure.
func (m *minifier) minifyHTML(b []byte) []byte {
	if !m.w.MinifierEnabled {
		return b
	}

	m.loadOnce.Do(func() {
		m.m = minify.New()
		m.m.AddFunc("text/html", html.Minify)
	})

	buf := bytes.Buffer{}
	if err := m.m.Minify(
		"text/html",
		&buf,
		bytes.NewReader(b),
	); err != nil {
		return b
	}

	return buf.Bytes()
}
