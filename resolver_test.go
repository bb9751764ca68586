package webserv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveServerByAddress(t *testing.T) {
	a := newServerConfig()
	a.Root = "/srv/a"
	a.Listen = []Socket{{IP: "127.0.0.1", Port: "8080"}}

	b := newServerConfig()
	b.Root = "/srv/b"
	b.Listen = []Socket{{IP: "127.0.0.1", Port: "9090"}}

	scs := []*ServerConfig{a, b}

	sc, err := resolveServer(
		scs,
		Socket{IP: "127.0.0.1", Port: "9090"},
		"",
	)
	assert.NoError(t, err)
	assert.Same(t, b, sc)
}

func TestResolveServerPortFallback(t *testing.T) {
	a := newServerConfig()
	a.Root = "/srv/a"
	a.Listen = []Socket{{IP: "10.0.0.1", Port: "8080"}}

	sc, err := resolveServer(
		[]*ServerConfig{a},
		Socket{IP: "127.0.0.1", Port: "8080"},
		"",
	)
	assert.NoError(t, err)
	assert.Same(t, a, sc)
}

func TestResolveServerHostTieBreak(t *testing.T) {
	a := newServerConfig()
	a.Root = "/srv/a"
	a.Listen = []Socket{{IP: "127.0.0.1", Port: "8080"}}
	a.ServerNames = []string{"a.example"}

	b := newServerConfig()
	b.Root = "/srv/b"
	b.Listen = []Socket{{IP: "127.0.0.1", Port: "8080"}}
	b.ServerNames = []string{"b.example"}

	scs := []*ServerConfig{a, b}
	addr := Socket{IP: "127.0.0.1", Port: "8080"}

	sc, err := resolveServer(scs, addr, "b.example")
	assert.NoError(t, err)
	assert.Same(t, b, sc)

	// An unknown host falls back to the first candidate in insertion
	// order.
	sc, err = resolveServer(scs, addr, "c.example")
	assert.NoError(t, err)
	assert.Same(t, a, sc)

	sc, err = resolveServer(scs, addr, "")
	assert.NoError(t, err)
	assert.Same(t, a, sc)
}

func TestResolveServerNoMatch(t *testing.T) {
	a := newServerConfig()
	a.Root = "/srv/a"
	a.Listen = []Socket{{IP: "127.0.0.1", Port: "8080"}}

	_, err := resolveServer(
		[]*ServerConfig{a},
		Socket{IP: "127.0.0.1", Port: "9090"},
		"",
	)
	assert.Error(t, err)
}
