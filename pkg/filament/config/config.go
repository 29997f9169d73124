// Package config defines the validated configuration model consumed by the
// router and the server core. The model is immutable after Load: the core
// treats every ServerBlock and Route as read-only for the lifetime of the
// process.
package config

import (
	"strings"
	"time"
)

// Default limits applied by Validate when the configuration leaves a field
// unset. BodyLimit follows the common 1 MiB client_max_body_size default.
const (
	DefaultBodyLimit   = 1 << 20
	DefaultIdleTimeout = 30 * time.Second
	DefaultCGITimeout  = 10 * time.Second
	DefaultRedirect    = 301
)

// Config is the root of the validated model: an ordered list of server
// blocks plus the process-wide timeout knobs driven by the reactor's sweep.
type Config struct {
	Servers []ServerBlock `json:"servers"`

	// Timeouts are declared in milliseconds in the file; Validate converts
	// them into the Duration fields the core reads.
	IdleTimeoutMS int `json:"idle_timeout_ms"`
	CGITimeoutMS  int `json:"cgi_timeout_ms"`

	// IdleTimeout closes connections with no activity; CGITimeout is the
	// per-handle deadline for spawned scripts.
	IdleTimeout time.Duration `json:"-"`
	CGITimeout  time.Duration `json:"-"`
}

// ServerBlock is one virtual server. Blocks sharing a (host, port) pair form
// a group; the first-declared block of a group is its default and serves
// requests whose Host header matches no server name.
type ServerBlock struct {
	Host       string         `json:"host"`
	Ports      []int          `json:"ports"`
	Names      []string       `json:"names"`
	Routes     []Route        `json:"routes"`
	BodyLimit  int64          `json:"body_limit"`
	ErrorPages map[int]string `json:"error_pages"`
}

// Route maps a path prefix to a behavior. Redirect is mutually exclusive
// with filesystem serving (Root, CGI, UploadDir): Validate rejects routes
// declaring both.
type Route struct {
	Prefix       string            `json:"prefix"`
	Methods      []string          `json:"methods"`
	Root         string            `json:"root"`
	Index        string            `json:"index"`
	Autoindex    bool              `json:"autoindex"`
	Redirect     string            `json:"redirect"`
	RedirectCode int               `json:"redirect_code"`
	CGI          map[string]string `json:"cgi"`
	UploadDir    string            `json:"upload_dir"`
}

// MatchName reports whether host selects this block. Matching is
// case-insensitive and ignores a :port suffix on the Host header value.
func (b *ServerBlock) MatchName(host string) bool {
	host = CanonicalHost(host)
	if host == "" {
		return false
	}
	for _, n := range b.Names {
		if strings.EqualFold(n, host) {
			return true
		}
	}
	return false
}

// ErrorPage returns the configured page path for a status code, or "" when
// none is set and the built-in default body should be used.
func (b *ServerBlock) ErrorPage(status int) string {
	if b.ErrorPages == nil {
		return ""
	}
	return b.ErrorPages[status]
}

// AllowsMethod reports whether the route permits the given method.
func (r *Route) AllowsMethod(method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// CanonicalHost lowercases a Host header value and strips any port suffix.
func CanonicalHost(host string) string {
	if i := strings.LastIndexByte(host, ':'); i != -1 && !strings.Contains(host[i+1:], "]") {
		// Keep a bare IPv6 literal like [::1] intact; strip ":8080".
		if !strings.HasPrefix(host, "[") || strings.HasSuffix(host[:i], "]") {
			host = host[:i]
		}
	}
	return strings.ToLower(host)
}
