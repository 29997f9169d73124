package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Known request methods a route may declare. The core implements GET, HEAD,
// POST, PUT and DELETE; the rest parse but dispatch to 501.
var knownMethods = map[string]bool{
	"GET":    true,
	"HEAD":   true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
}

var (
	ErrNoServers     = errors.New("config: no server blocks defined")
	ErrNoPorts       = errors.New("config: server block declares no ports")
	ErrBadPort       = errors.New("config: port out of range")
	ErrBadPrefix     = errors.New("config: route prefix must start with '/'")
	ErrBadMethod     = errors.New("config: unknown method in route")
	ErrRedirectMixed = errors.New("config: redirect is exclusive with root/cgi/upload")
	ErrDuplicateName = errors.New("config: duplicate server name on same host:port")
	ErrNoRoutes      = errors.New("config: server block declares no routes")
	ErrBadRedirect   = errors.New("config: redirect code must be 301 or 302")
	ErrMissingRoot   = errors.New("config: route serves the filesystem but has no root")
	ErrBadCGIMapping = errors.New("config: cgi extension must start with '.'")
)

// Load reads, decodes and validates a configuration file. Any failure here is
// a startup error: the caller must not enter the event loop with a partially
// valid model.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants and fills defaults in place. It is
// called once by Load; after it returns the model is frozen.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return ErrNoServers
	}
	c.IdleTimeout = DefaultIdleTimeout
	if c.IdleTimeoutMS > 0 {
		c.IdleTimeout = time.Duration(c.IdleTimeoutMS) * time.Millisecond
	}
	c.CGITimeout = DefaultCGITimeout
	if c.CGITimeoutMS > 0 {
		c.CGITimeout = time.Duration(c.CGITimeoutMS) * time.Millisecond
	}

	// (host, port, name) uniqueness across the whole model. Two blocks in the
	// same group may not claim the same server name: resolution would be
	// ambiguous.
	seen := map[string]bool{}

	for i := range c.Servers {
		blk := &c.Servers[i]
		if blk.Host == "" {
			blk.Host = "0.0.0.0"
		}
		if len(blk.Ports) == 0 {
			return fmt.Errorf("%w (server %d)", ErrNoPorts, i)
		}
		for _, p := range blk.Ports {
			if p < 1 || p > 65535 {
				return fmt.Errorf("%w: %d (server %d)", ErrBadPort, p, i)
			}
			for _, n := range blk.Names {
				key := fmt.Sprintf("%s|%d|%s", blk.Host, p, strings.ToLower(n))
				if seen[key] {
					return fmt.Errorf("%w: %q on %s:%d", ErrDuplicateName, n, blk.Host, p)
				}
				seen[key] = true
			}
		}
		if blk.BodyLimit <= 0 {
			blk.BodyLimit = DefaultBodyLimit
		}
		if len(blk.Routes) == 0 {
			return fmt.Errorf("%w (server %d)", ErrNoRoutes, i)
		}
		for j := range blk.Routes {
			if err := validateRoute(&blk.Routes[j]); err != nil {
				return fmt.Errorf("%w (server %d route %d)", err, i, j)
			}
		}
	}
	return nil
}

func validateRoute(r *Route) error {
	if !strings.HasPrefix(r.Prefix, "/") {
		return ErrBadPrefix
	}
	if len(r.Methods) == 0 {
		r.Methods = []string{"GET", "HEAD"}
	}
	for k, m := range r.Methods {
		m = strings.ToUpper(m)
		if !knownMethods[m] {
			return fmt.Errorf("%w: %q", ErrBadMethod, m)
		}
		r.Methods[k] = m
	}
	if r.Redirect != "" {
		if r.Root != "" || len(r.CGI) > 0 || r.UploadDir != "" {
			return ErrRedirectMixed
		}
		if r.RedirectCode == 0 {
			r.RedirectCode = DefaultRedirect
		}
		if r.RedirectCode != 301 && r.RedirectCode != 302 {
			return ErrBadRedirect
		}
		return nil
	}
	if r.Root == "" {
		return ErrMissingRoot
	}
	for ext := range r.CGI {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: %q", ErrBadCGIMapping, ext)
		}
	}
	return nil
}
