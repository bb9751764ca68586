package webserv

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	libsize "github.com/nabbar/golib/size"
	"gopkg.in/yaml.v3"
)

// Socket is a listen endpoint of a virtual server.
//
// Sockets are ordered lexicographically by IP then port and are equal iff
// both fields are equal.
type Socket struct {
	IP   string
	Port string
}

// String returns the "ip:port" form of the s.
func (s Socket) String() string {
	return s.IP + ":" + s.Port
}

// less reports whether the s orders before the o.
func (s Socket) less(o Socket) bool {
	if s.IP != o.IP {
		return s.IP < o.IP
	}

	return s.Port < o.Port
}

// AutoIndexState is the tri-state autoindex flag.
type AutoIndexState uint8

// The states of the `AutoIndexState`.
const (
	AutoIndexUnset AutoIndexState = iota
	AutoIndexOn
	AutoIndexOff
)

// Redirect is a configured return/redirect pair.
type Redirect struct {
	Status int
	Target string
}

// ServerConfig is the configuration of one virtual server context.
type ServerConfig struct {
	// Listen is the list of endpoints the server is reachable on.
	Listen []Socket

	// ServerNames is the list of virtual host names of the server.
	ServerNames []string

	// ClientMaxBodySize is the request body limit in bytes. A negative
	// value means unset, which is treated as 1 MiB.
	ClientMaxBodySize int64

	// ErrorPages maps a status code in [300, 599] to an error-page file
	// path.
	ErrorPages map[int]string

	// Root is the absolute filesystem root of the server. It is never
	// empty in a validated configuration.
	Root string

	// Locations maps a route prefix to its configuration overlay.
	Locations map[string]*Location

	// Index is the ordered list of index file names probed for directory
	// requests.
	Index []string

	// AutoIndex enables the generated directory listing.
	AutoIndex AutoIndexState

	// UploadStore is the directory POST file parts are written to. When
	// empty, the Root is used.
	UploadStore string

	// Methods is the allowed method set of the server.
	Methods []Method

	// Return is the optional redirect pair of the server.
	Return *Redirect

	// CGIExt is the optional CGI script extension, e.g. ".py".
	CGIExt string
}

// Location is a URI-prefix-scoped overlay of a `ServerConfig`. Unset fields
// delegate up to the owning server.
type Location struct {
	ClientMaxBodySize int64
	ErrorPages        map[int]string
	Root              string
	Index             []string
	AutoIndex         AutoIndexState
	UploadStore       string
	LimitExcept       []Method
	Return            *Redirect
	CGIExt            string
}

// newServerConfig returns a new instance of the `ServerConfig` with the
// default field values.
func newServerConfig() *ServerConfig {
	return &ServerConfig{
		ClientMaxBodySize: -1,
		ErrorPages:        map[int]string{},
		Locations:         map[string]*Location{},
		Index:             []string{"index.html", "index.htm"},
		Methods:           []Method{MethodGet, MethodPost, MethodDelete},
	}
}

// matchRoute returns the route of the location whose route is the longest
// prefix of the decodedURI, or "" when no location matches and the bare
// server applies.
func (sc *ServerConfig) matchRoute(decodedURI string) string {
	route := ""
	for r := range sc.Locations {
		if !strings.HasPrefix(decodedURI, r) {
			continue
		}

		if len(r) > len(route) {
			route = r
		}
	}

	return route
}

// location returns the location of the route, or nil.
func (sc *ServerConfig) location(route string) *Location {
	if route == "" {
		return nil
	}

	return sc.Locations[route]
}

// effectiveRoot returns the filesystem root in effect for the route.
func (sc *ServerConfig) effectiveRoot(route string) string {
	if l := sc.location(route); l != nil && l.Root != "" {
		return l.Root
	}

	return sc.Root
}

// effectiveBodyLimit returns the request body limit in effect for the route.
func (sc *ServerConfig) effectiveBodyLimit(route string) int64 {
	if l := sc.location(route); l != nil && l.ClientMaxBodySize >= 0 {
		return l.ClientMaxBodySize
	}

	if sc.ClientMaxBodySize >= 0 {
		return sc.ClientMaxBodySize
	}

	return defaultMaxBodySize
}

// effectiveErrorPages returns the error-page map in effect for the route.
func (sc *ServerConfig) effectiveErrorPages(route string) map[int]string {
	if l := sc.location(route); l != nil && len(l.ErrorPages) > 0 {
		return l.ErrorPages
	}

	return sc.ErrorPages
}

// effectiveIndex returns the index file list in effect for the route.
func (sc *ServerConfig) effectiveIndex(route string) []string {
	if l := sc.location(route); l != nil && len(l.Index) > 0 {
		return l.Index
	}

	return sc.Index
}

// effectiveAutoIndex reports whether the generated directory listing is on
// for the route.
func (sc *ServerConfig) effectiveAutoIndex(route string) bool {
	if l := sc.location(route); l != nil && l.AutoIndex != AutoIndexUnset {
		return l.AutoIndex == AutoIndexOn
	}

	return sc.AutoIndex == AutoIndexOn
}

// effectiveUploadStore returns the upload store in effect for the route. It
// falls back to the root in effect when no store is configured.
func (sc *ServerConfig) effectiveUploadStore(route string) string {
	if l := sc.location(route); l != nil && l.UploadStore != "" {
		return l.UploadStore
	}

	if sc.UploadStore != "" {
		return sc.UploadStore
	}

	return sc.effectiveRoot(route)
}

// effectiveReturn returns the redirect pair in effect for the route, or nil.
func (sc *ServerConfig) effectiveReturn(route string) *Redirect {
	if l := sc.location(route); l != nil && l.Return != nil {
		return l.Return
	}

	return sc.Return
}

// effectiveCGIExt returns the CGI extension in effect for the route.
func (sc *ServerConfig) effectiveCGIExt(route string) string {
	if l := sc.location(route); l != nil && l.CGIExt != "" {
		return l.CGIExt
	}

	return sc.CGIExt
}

// methodAllowed reports whether the m is permitted for the route. A location
// with a limit_except set narrows the server's method set.
func (sc *ServerConfig) methodAllowed(route string, m Method) bool {
	if l := sc.location(route); l != nil && len(l.LimitExcept) > 0 {
		return methodSliceContains(l.LimitExcept, m)
	}

	return methodSliceContains(sc.Methods, m)
}

// methodSliceContains reports whether the ms contains the m.
func methodSliceContains(ms []Method, m Method) bool {
	for _, v := range ms {
		if v == m {
			return true
		}
	}

	return false
}

// rawLocation is the on-disk form of a `Location`.
type rawLocation struct {
	ClientMaxBodySize string            `mapstructure:"client_max_body_size"`
	ErrorPages        map[string]string `mapstructure:"error_page"`
	Root              string            `mapstructure:"root"`
	Index             []string          `mapstructure:"index"`
	AutoIndex         string            `mapstructure:"autoindex"`
	UploadStore       string            `mapstructure:"upload_store"`
	LimitExcept       []string          `mapstructure:"limit_except"`
	Return            []string          `mapstructure:"return"`
	CGIExt            string            `mapstructure:"cgi_ext"`
}

// rawServer is the on-disk form of a `ServerConfig`.
type rawServer struct {
	Listen            []string               `mapstructure:"listen"`
	ServerNames       []string               `mapstructure:"server_name"`
	ClientMaxBodySize string                 `mapstructure:"client_max_body_size"`
	ErrorPages        map[string]string      `mapstructure:"error_page"`
	Root              string                 `mapstructure:"root"`
	Index             []string               `mapstructure:"index"`
	AutoIndex         string                 `mapstructure:"autoindex"`
	UploadStore       string                 `mapstructure:"upload_store"`
	Return            []string               `mapstructure:"return"`
	CGIExt            string                 `mapstructure:"cgi_ext"`
	Locations         map[string]rawLocation `mapstructure:"location"`
}

// rawConfig is the on-disk form of the full configuration.
type rawConfig struct {
	Servers []rawServer `mapstructure:"server"`
}

// configDecoders maps a configuration file extension to the unmarshaller
// that turns its bytes into the generic map fed to mapstructure.
var configDecoders = map[string]func([]byte, interface{}) error{
	".json": json.Unmarshal,
	".toml": toml.Unmarshal,
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
}

// loadConfig reads the file targeted by the name and builds the validated
// server set. The decoder is picked by the filename extension; see
// `configDecoders` for the recognized formats.
func loadConfig(name string) ([]*ServerConfig, error) {
	decode := configDecoders[strings.ToLower(filepath.Ext(name))]
	if decode == nil {
		return nil, fmt.Errorf(
			"webserv: no decoder for configuration file: %s",
			name,
		)
	}

	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}

	m := map[string]interface{}{}
	if err := decode(b, &m); err != nil {
		return nil, err
	}

	rc := rawConfig{}
	if err := mapstructure.Decode(m, &rc); err != nil {
		return nil, err
	}

	scs := make([]*ServerConfig, 0, len(rc.Servers))
	for _, rs := range rc.Servers {
		sc, err := buildServerConfig(rs)
		if err != nil {
			return nil, err
		}

		scs = append(scs, sc)
	}

	if err := validateServerConfigs(scs); err != nil {
		return nil, err
	}

	return scs, nil
}

// buildServerConfig converts the rs into a `ServerConfig`.
func buildServerConfig(rs rawServer) (*ServerConfig, error) {
	sc := newServerConfig()
	sc.ServerNames = rs.ServerNames
	sc.Root = rs.Root
	sc.UploadStore = rs.UploadStore
	sc.CGIExt = rs.CGIExt
	if len(rs.Index) > 0 {
		sc.Index = rs.Index
	}

	for _, l := range rs.Listen {
		s, err := parseListen(l)
		if err != nil {
			return nil, err
		}

		sc.Listen = append(sc.Listen, s)
	}

	var err error
	if rs.ClientMaxBodySize != "" {
		sc.ClientMaxBodySize, err = parseSize(rs.ClientMaxBodySize)
		if err != nil {
			return nil, err
		}
	}

	if sc.ErrorPages, err = parseErrorPages(rs.ErrorPages); err != nil {
		return nil, err
	}

	if sc.AutoIndex, err = parseAutoIndex(rs.AutoIndex); err != nil {
		return nil, err
	}

	if sc.Return, err = parseReturn(rs.Return); err != nil {
		return nil, err
	}

	for route, rl := range rs.Locations {
		l, err := buildLocation(rl)
		if err != nil {
			return nil, err
		}

		sc.Locations[route] = l
	}

	return sc, nil
}

// buildLocation converts the rl into a `Location`.
func buildLocation(rl rawLocation) (*Location, error) {
	l := &Location{
		ClientMaxBodySize: -1,
		Root:              rl.Root,
		Index:             rl.Index,
		UploadStore:       rl.UploadStore,
		CGIExt:            rl.CGIExt,
	}

	var err error
	if rl.ClientMaxBodySize != "" {
		l.ClientMaxBodySize, err = parseSize(rl.ClientMaxBodySize)
		if err != nil {
			return nil, err
		}
	}

	if l.ErrorPages, err = parseErrorPages(rl.ErrorPages); err != nil {
		return nil, err
	}

	if l.AutoIndex, err = parseAutoIndex(rl.AutoIndex); err != nil {
		return nil, err
	}

	if l.Return, err = parseReturn(rl.Return); err != nil {
		return nil, err
	}

	for _, ms := range rl.LimitExcept {
		m := parseMethod(ms)
		if m == MethodUnknown {
			return nil, fmt.Errorf(
				"webserv: unknown method in limit_except: %s",
				ms,
			)
		}

		l.LimitExcept = append(l.LimitExcept, m)
	}

	return l, nil
}

// parseListen parses a listen directive value of the form "ip:port", a bare
// port or a bare IP.
func parseListen(v string) (Socket, error) {
	s := Socket{}
	if i := strings.IndexByte(v, ':'); i >= 0 {
		s.IP, s.Port = v[:i], v[i+1:]
		if s.IP == "" || s.Port == "" {
			return s, fmt.Errorf(
				"webserv: invalid listen directive: %s",
				v,
			)
		}
	} else if strings.Trim(v, "0123456789") == "" {
		s.Port = v
	} else {
		s.IP = v
	}

	if s.IP == "" {
		s.IP = "0.0.0.0"
	}

	if s.Port == "" {
		s.Port = strconv.Itoa(defaultPort)
	}

	if n, err := strconv.Atoi(s.Port); err != nil || n < 0 || n > 65535 {
		return s, fmt.Errorf("webserv: invalid listen port: %s", s.Port)
	}

	return s, nil
}

// parseErrorPages parses the status → file map of an error_page directive.
// Status codes must lie in [300, 599].
func parseErrorPages(m map[string]string) (map[int]string, error) {
	eps := map[int]string{}
	for k, v := range m {
		code, err := strconv.Atoi(k)
		if err != nil || code < 300 || code > 599 {
			return nil, fmt.Errorf(
				"webserv: invalid error_page status: %s",
				k,
			)
		}

		eps[code] = v
	}

	return eps, nil
}

// parseAutoIndex parses an autoindex directive value.
func parseAutoIndex(v string) (AutoIndexState, error) {
	switch strings.ToLower(v) {
	case "":
		return AutoIndexUnset, nil
	case "on":
		return AutoIndexOn, nil
	case "off":
		return AutoIndexOff, nil
	}

	return AutoIndexUnset, fmt.Errorf(
		"webserv: invalid autoindex value: %s",
		v,
	)
}

// parseReturn parses a return directive value of the form [status, target].
// Status codes must lie in [0, 999].
func parseReturn(vs []string) (*Redirect, error) {
	if len(vs) == 0 {
		return nil, nil
	}

	if len(vs) != 2 {
		return nil, fmt.Errorf("webserv: invalid return directive: %v", vs)
	}

	code, err := strconv.Atoi(vs[0])
	if err != nil || code < 0 || code > 999 {
		return nil, fmt.Errorf(
			"webserv: invalid return status: %s",
			vs[0],
		)
	}

	return &Redirect{
		Status: code,
		Target: vs[1],
	}, nil
}

// parseSize parses a byte count with an optional K, M or G unit suffix. The
// result must not overflow a signed 64-bit integer.
func parseSize(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "-") {
		return 0, fmt.Errorf("webserv: invalid size: %s", v)
	}

	if strings.Trim(v, "0123456789") == "" {
		return strconv.ParseInt(v, 10, 64)
	}

	s, err := libsize.Parse(v)
	if err != nil {
		return 0, fmt.Errorf("webserv: invalid size: %s", v)
	}

	if s.Uint64() > math.MaxInt64 {
		return 0, fmt.Errorf("webserv: size overflows int64: %s", v)
	}

	return s.Int64(), nil
}

// validateServerConfigs checks the invariants of the server set: every
// server has a non-empty root and no two servers share the exact same
// (address, name) pair.
func validateServerConfigs(scs []*ServerConfig) error {
	seen := map[string]bool{}
	for _, sc := range scs {
		if sc.Root == "" {
			return fmt.Errorf("webserv: server has no root")
		}

		names := sc.ServerNames
		if len(names) == 0 {
			names = []string{""}
		}

		for _, l := range sc.Listen {
			for _, n := range names {
				k := l.String() + "\x00" + n
				if seen[k] {
					return fmt.Errorf(
						"webserv: duplicate virtual "+
							"server: %s %s",
						l,
						n,
					)
				}

				seen[k] = true
			}
		}
	}

	return nil
}

// dedupListenSockets returns the union of the listen endpoints of the scs.
// When any endpoint uses the wildcard IP on a port, all specific IPs on that
// same port collapse into the wildcard.
func dedupListenSockets(scs []*ServerConfig) []Socket {
	wildcardPorts := map[string]bool{}
	for _, sc := range scs {
		for _, s := range sc.Listen {
			if s.IP == "0.0.0.0" || s.IP == "" {
				wildcardPorts[s.Port] = true
			}
		}
	}

	set := map[Socket]bool{}
	for _, sc := range scs {
		for _, s := range sc.Listen {
			if wildcardPorts[s.Port] && s.IP != "0.0.0.0" {
				s = Socket{IP: "0.0.0.0", Port: s.Port}
			}

			set[s] = true
		}
	}

	ss := make([]Socket, 0, len(set))
	for s := range set {
		ss = append(ss, s)
	}

	sort.Slice(ss, func(i, j int) bool {
		return ss[i].less(ss[j])
	})

	return ss
}
