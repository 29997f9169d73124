// Package router turns a completed request into a dispatch decision: which
// virtual server owns it, which route matches, and what action the connection
// should run (static read, upload write, delete, redirect, autoindex, CGI).
// Failures come back as decisions too; the connection turns them into error
// pages, never into torn-down state.
package router

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/watt-toolkit/filament/pkg/filament/config"
	"github.com/watt-toolkit/filament/pkg/filament/http11"
)

// Kind labels the action a decision selects.
type Kind int

const (
	KindError Kind = iota
	KindStatic
	KindAutoindex
	KindRedirect
	KindUpload
	KindDelete
	KindCGI
)

// Decision is the router's verdict for one request.
type Decision struct {
	Kind   Kind
	Status int // error status for KindError, 3xx code for KindRedirect

	Route    *config.Route
	FsPath   string   // resolved filesystem target (static/upload/delete)
	Location string   // redirect target
	Allow    []string // populated for 405

	// CGI fields: the script on disk, the interpreter mapped to its
	// extension, and any trailing path info after the script segment.
	Script      string
	Interpreter string
	PathInfo    string
}

// Router resolves virtual hosts and routes against the immutable config.
type Router struct {
	groups map[int][]*config.ServerBlock
}

// New indexes the server blocks by listening port. Declaration order is
// preserved within each group: the first block of a group is its default.
func New(cfg *config.Config) *Router {
	groups := make(map[int][]*config.ServerBlock)
	for i := range cfg.Servers {
		blk := &cfg.Servers[i]
		for _, p := range blk.Ports {
			groups[p] = append(groups[p], blk)
		}
	}
	return &Router{groups: groups}
}

// ResolveBlock picks the server block for (listening port, Host header).
// Matching is case-insensitive and ignores a port suffix; no Host or no match
// selects the group's first-declared block. A nil return means the port has
// no group at all, which cannot happen for ports the server actually listens
// on.
func (rt *Router) ResolveBlock(port int, host string) *config.ServerBlock {
	group := rt.groups[port]
	if len(group) == 0 {
		return nil
	}
	if host != "" {
		for _, blk := range group {
			if blk.MatchName(host) {
				return blk
			}
		}
	}
	return group[0]
}

// Decide runs the dispatch decision procedure for a completed request
// against its resolved block.
func (rt *Router) Decide(blk *config.ServerBlock, req *http11.Request) Decision {
	route := matchRoute(blk, req.Path)
	if route == nil {
		return Decision{Kind: KindError, Status: 404}
	}
	if !route.AllowsMethod(req.Method) {
		allow := append([]string(nil), route.Methods...)
		sort.Strings(allow)
		return Decision{Kind: KindError, Status: 405, Allow: allow, Route: route}
	}

	if route.Redirect != "" {
		return Decision{Kind: KindRedirect, Status: route.RedirectCode,
			Location: route.Redirect, Route: route}
	}

	if script, interp, info, ok := matchCGI(route, req.Path); ok {
		return Decision{Kind: KindCGI, Route: route,
			Script: script, Interpreter: interp, PathInfo: info}
	}

	fsPath, ok := resolveUnderRoot(route, req.Path)
	if !ok {
		return Decision{Kind: KindError, Status: 403, Route: route}
	}

	switch req.MethodID {
	case http11.MethodGET, http11.MethodHEAD:
		return decideStatic(route, fsPath)
	case http11.MethodPOST, http11.MethodPUT:
		if route.UploadDir == "" {
			return Decision{Kind: KindError, Status: 403, Route: route}
		}
		name := path.Base(req.Path)
		if name == "/" || name == "." {
			return Decision{Kind: KindError, Status: 403, Route: route}
		}
		return Decision{Kind: KindUpload, Route: route,
			FsPath: filepath.Join(route.UploadDir, name)}
	case http11.MethodDELETE:
		return Decision{Kind: KindDelete, Route: route, FsPath: fsPath}
	default:
		// Parsed but unimplemented methods (OPTIONS, TRACE, ...).
		return Decision{Kind: KindError, Status: 501, Route: route}
	}
}

// decideStatic classifies a filesystem target for GET/HEAD.
func decideStatic(route *config.Route, fsPath string) Decision {
	info, err := os.Stat(fsPath)
	if err != nil {
		if os.IsPermission(err) {
			return Decision{Kind: KindError, Status: 403, Route: route}
		}
		return Decision{Kind: KindError, Status: 404, Route: route}
	}
	if !info.IsDir() {
		return Decision{Kind: KindStatic, Route: route, FsPath: fsPath}
	}

	if route.Index != "" {
		idx := filepath.Join(fsPath, route.Index)
		if st, err := os.Stat(idx); err == nil && !st.IsDir() {
			return Decision{Kind: KindStatic, Route: route, FsPath: idx}
		}
	}
	if route.Autoindex {
		return Decision{Kind: KindAutoindex, Route: route, FsPath: fsPath}
	}
	return Decision{Kind: KindError, Status: 403, Route: route}
}

// matchRoute returns the longest-prefix route for p, respecting segment
// boundaries: "/img" matches "/img" and "/img/x" but not "/imgx".
func matchRoute(blk *config.ServerBlock, p string) *config.Route {
	var best *config.Route
	bestLen := -1
	for i := range blk.Routes {
		r := &blk.Routes[i]
		if prefixMatches(r.Prefix, p) && len(r.Prefix) > bestLen {
			best = r
			bestLen = len(r.Prefix)
		}
	}
	return best
}

func prefixMatches(prefix, p string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	if len(p) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return p[len(prefix)] == '/'
}

// matchCGI scans the path segments for the first one whose extension has a
// CGI mapping; everything after that segment becomes PATH_INFO.
func matchCGI(route *config.Route, p string) (script, interpreter, pathInfo string, ok bool) {
	if len(route.CGI) == 0 {
		return "", "", "", false
	}
	rest := p
	for i := 0; i < len(rest); {
		next := strings.IndexByte(rest[i+1:], '/')
		var seg string
		if next == -1 {
			seg = rest
			i = len(rest)
		} else {
			seg = rest[:i+1+next]
			i = i + 1 + next
		}
		ext := path.Ext(seg)
		if ext == "" {
			continue
		}
		interp, mapped := route.CGI[ext]
		if !mapped {
			continue
		}
		fsPath, contained := resolveUnderRoot(route, seg)
		if !contained {
			return "", "", "", false
		}
		return fsPath, interp, p[len(seg):], true
	}
	return "", "", "", false
}

// resolveUnderRoot joins the request path (minus the route prefix) onto the
// route root and rejects any result that escapes it. The request path is
// already percent-decoded; Clean collapses every "..".
func resolveUnderRoot(route *config.Route, p string) (string, bool) {
	rel := strings.TrimPrefix(p, route.Prefix)
	rel = strings.TrimPrefix(rel, "/")
	joined := filepath.Join(route.Root, filepath.FromSlash(path.Clean("/"+rel)))
	root := filepath.Clean(route.Root)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", false
	}
	return joined, true
}
