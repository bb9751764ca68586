package webserv

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/fsnotify/fsnotify"
)

// coffer is a static-file manager that uses runtime memory to reduce disk
// I/O pressure. Cached contents are keyed by checksum and invalidated by a
// filesystem watcher the moment the file changes on disk.
type coffer struct {
	w *Webserv

	loadOnce  sync.Once
	loadError error
	assets    sync.Map
	cache     *fastcache.Cache
	watcher   *fsnotify.Watcher
}

// newCoffer returns a new instance of the `coffer` with the w.
func newCoffer(w *Webserv) *coffer {
	return &coffer{
		w: w,
	}
}

// load sets up the cache and the watcher of the c.
func (c *coffer) load() {
	c.watcher, c.loadError = fsnotify.NewWatcher()
	if c.loadError != nil {
		c.loadError = fmt.Errorf(
			"webserv: failed to build coffer watcher: %v",
			c.loadError,
		)
		return
	}

	c.cache = fastcache.New(c.w.CofferMaxMemoryBytes)

	go func() {
		for {
			select {
			case e, ok := <-c.watcher.Events:
				if !ok {
					return
				}

				c.w.logger.DEBUG(
					"webserv: asset file event occurs",
					map[string]interface{}{
						"file":  e.Name,
						"event": e.Op.String(),
					},
				)

				if ai, ok := c.assets.Load(e.Name); ok {
					a := ai.(*asset)
					c.assets.Delete(a.name)
					c.cache.Del(a.contentChecksum[:])
				}
			case err, ok := <-c.watcher.Errors:
				if !ok {
					return
				}

				c.w.logger.ERROR(
					"webserv: coffer watcher error",
					map[string]interface{}{
						"error": err.Error(),
					},
				)
			}
		}
	}()
}

// asset returns an `asset` from the c for the name, loading and caching it
// on first use.
func (c *coffer) asset(name string) (*asset, error) {
	c.loadOnce.Do(c.load)
	if c.loadError != nil {
		return nil, c.loadError
	}

	if ai, ok := c.assets.Load(name); ok {
		return ai.(*asset), nil
	}

	fi, err := os.Stat(name)
	if err != nil || fi.IsDir() {
		return nil, err
	}

	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}

	if err := c.watcher.Add(name); err != nil {
		return nil, err
	}

	a := &asset{
		coffer:          c,
		name:            name,
		modTime:         fi.ModTime(),
		contentChecksum: sha256.Sum256(b),
	}

	c.cache.Set(a.contentChecksum[:], b)
	c.assets.Store(name, a)

	return a, nil
}

// asset is one cached static file.
type asset struct {
	coffer          *coffer
	name            string
	modTime         time.Time
	contentChecksum [sha256.Size]byte
}

// content returns the cached content of the a, or nil when the cache has
// evicted it.
func (a *asset) content() []byte {
	c := a.coffer.cache.Get(nil, a.contentChecksum[:])
	if len(c) == 0 {
		a.coffer.assets.Delete(a.name)
		a.coffer.cache.Del(a.contentChecksum[:])
		return nil
	}

	return c
}
