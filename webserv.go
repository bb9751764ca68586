/*
Package webserv implements a configurable HTTP/1.1 origin server that
multiplexes its client connections over a single epoll readiness set.

A server set is described by a configuration file and loaded at startup.
Each accepted connection is read into a per-connection buffer on the event
loop's one thread; once the buffered bytes frame a whole request, the request
is parsed, routed to a virtual server by local address and Host header,
matched against a location, and dispatched through the GET, POST or DELETE
pipeline (or the CGI runner). Every response closes its connection.
*/
package webserv

import (
	"fmt"
	"sync/atomic"
)

// The process-wide defaults of the server.
const (
	serverName         = "webserv"
	defaultPort        = 8080
	defaultMaxBodySize = 1 << 20
	maxURILength       = 8192
	readBufferSize     = 2 << 10
	cgiTimeoutSeconds  = 5
	maxClientsPath     = "/proc/sys/fs/epoll/max_user_watches"
	defaultMaxClients  = 666
)

// Webserv is the top-level struct of this server.
//
// The new instances of the `Webserv` should only be created by calling the
// `New`. It is not safe to modify any field after calling the `Serve`.
type Webserv struct {
	// AppName is the name of the server application.
	//
	// Default value: "webserv"
	AppName string `mapstructure:"app_name"`

	// ConfigFile is the path to the configuration file that is parsed
	// into the `Servers` before the listeners are set up.
	//
	// The ".json" extension means the configuration file is JSON-based.
	//
	// The ".toml" extension means the configuration file is TOML-based.
	//
	// The ".yaml" and ".yml" extensions means the configuration file is
	// YAML-based.
	//
	// Default value: ""
	ConfigFile string `mapstructure:"-"`

	// Servers is the virtual server set. It is populated from the
	// `ConfigFile` by the `Serve`, or can be assigned directly.
	//
	// Default value: nil
	Servers []*ServerConfig `mapstructure:"-"`

	// LoggerEnabled indicates whether the logger is enabled.
	//
	// Default value: false
	LoggerEnabled bool `mapstructure:"logger_enabled"`

	// LoggerFormat is the output format of the logger.
	//
	// Default value: `{"app_name":"{{.AppName}}","time":"{{.Time}}",` +
	// `"level":"{{.Level}}","message":"{{.Message}}"}`
	LoggerFormat string `mapstructure:"logger_format"`

	// CofferEnabled indicates whether the static-file cache is enabled.
	//
	// The `CofferEnabled` gives the GET pipeline the ability to use the
	// runtime memory to reduce the disk I/O pressure.
	//
	// Default value: false
	CofferEnabled bool `mapstructure:"coffer_enabled"`

	// CofferMaxMemoryBytes is the maximum number of bytes of the runtime
	// memory allowed for the static-file cache to use.
	//
	// Default value: 33554432
	CofferMaxMemoryBytes int `mapstructure:"coffer_max_memory_bytes"`

	// MinifierEnabled indicates whether the generated HTML pages
	// (directory listings, default error pages, the upload success page)
	// are minified on the fly.
	//
	// Default value: false
	MinifierEnabled bool `mapstructure:"minifier_enabled"`

	logger   *Logger
	cluster  *cluster
	coffer   *coffer
	minifier *minifier

	running     atomic.Bool
	storageSize int64
}

// New returns a new instance of the `Webserv` with default field values.
func New() *Webserv {
	w := &Webserv{
		AppName: serverName,
		LoggerFormat: `{"app_name":"{{.AppName}}","time":"{{.Time}}",` +
			`"level":"{{.Level}}","message":"{{.Message}}"}`,
		CofferMaxMemoryBytes: 32 << 20,
	}

	w.logger = newLogger(w)
	w.cluster = newCluster(w)
	w.coffer = newCoffer(w)
	w.minifier = newMinifier(w)

	return w
}

// Serve loads the configuration, binds the listeners and runs the event loop
// until the `Stop` is called. The returned error is non-nil only for startup
// failures; runtime errors are logged and handled per connection.
func (w *Webserv) Serve() error {
	if w.ConfigFile != "" {
		scs, err := loadConfig(w.ConfigFile)
		if err != nil {
			return err
		}

		w.Servers = scs
	}

	if len(w.Servers) == 0 {
		return fmt.Errorf("webserv: no servers configured")
	}

	if err := validateServerConfigs(w.Servers); err != nil {
		return err
	}

	if err := w.cluster.setup(); err != nil {
		return err
	}
	defer w.cluster.close()

	w.running.Store(true)
	w.logger.INFO(
		"webserv: serving",
		map[string]interface{}{
			"listeners": len(w.cluster.listeners),
		},
	)

	return w.cluster.run()
}

// Stop makes the event loop exit after its current iteration. It is safe to
// call from a signal handling goroutine.
func (w *Webserv) Stop() {
	w.running.Store(false)
	w.cluster.wake()
}

// addStorageSize adjusts the upload store accounting by the delta bytes.
func (w *Webserv) addStorageSize(delta int64) {
	atomic.AddInt64(&w.storageSize, delta)
}

// StorageSize returns the number of bytes currently accounted to the upload
// store.
func (w *Webserv) StorageSize() int64 {
	return atomic.LoadInt64(&w.storageSize)
}
