package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watt-toolkit/filament/pkg/filament/config"
	"github.com/watt-toolkit/filament/pkg/filament/http11"
)

func testRequest(method, path string) *http11.Request {
	return &http11.Request{
		MethodID: http11.ParseMethodID([]byte(method)),
		Method:   method,
		Path:     path,
		Header:   make(http11.Header),
	}
}

func staticRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "index.html"), []byte("<p>ok</p>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bare"), 0o755))
	return root
}

func TestResolveBlock(t *testing.T) {
	cfg := &config.Config{Servers: []config.ServerBlock{
		{Ports: []int{8080}, Names: []string{"first.test"}},
		{Ports: []int{8080}, Names: []string{"second.test"}},
		{Ports: []int{9090}, Names: []string{"other.test"}},
	}}
	rt := New(cfg)

	assert.Same(t, &cfg.Servers[1], rt.ResolveBlock(8080, "second.test"))
	assert.Same(t, &cfg.Servers[1], rt.ResolveBlock(8080, "SECOND.TEST:8080"))

	// No Host or no match falls back to the group's first-declared block.
	assert.Same(t, &cfg.Servers[0], rt.ResolveBlock(8080, ""))
	assert.Same(t, &cfg.Servers[0], rt.ResolveBlock(8080, "unknown.test"))

	assert.Nil(t, rt.ResolveBlock(7070, "first.test"))
}

func TestDecideLongestPrefix(t *testing.T) {
	root := staticRoot(t)
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/", Methods: []string{"GET"}, Root: root},
		{Prefix: "/docs", Methods: []string{"GET"}, Root: filepath.Join(root, "docs"), Index: "index.html"},
	}}
	rt := New(&config.Config{})

	d := rt.Decide(blk, testRequest("GET", "/docs"))
	assert.Equal(t, KindStatic, d.Kind)
	assert.Same(t, &blk.Routes[1], d.Route)
	assert.Equal(t, filepath.Join(root, "docs", "index.html"), d.FsPath)

	d = rt.Decide(blk, testRequest("GET", "/hello.txt"))
	assert.Equal(t, KindStatic, d.Kind)
	assert.Same(t, &blk.Routes[0], d.Route)
}

func TestDecidePrefixSegmentBoundary(t *testing.T) {
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/img", Methods: []string{"GET"}, Root: t.TempDir()},
	}}
	rt := New(&config.Config{})

	// "/imgx" shares bytes with the prefix but not a path segment.
	d := rt.Decide(blk, testRequest("GET", "/imgx"))
	assert.Equal(t, KindError, d.Kind)
	assert.Equal(t, 404, d.Status)
}

func TestDecideNoRoute(t *testing.T) {
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/api", Methods: []string{"GET"}, Root: t.TempDir()},
	}}
	rt := New(&config.Config{})
	d := rt.Decide(blk, testRequest("GET", "/other"))
	assert.Equal(t, KindError, d.Kind)
	assert.Equal(t, 404, d.Status)
}

func TestDecideMethodNotAllowed(t *testing.T) {
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/", Methods: []string{"HEAD", "GET"}, Root: t.TempDir()},
	}}
	rt := New(&config.Config{})
	d := rt.Decide(blk, testRequest("DELETE", "/x"))
	assert.Equal(t, KindError, d.Kind)
	assert.Equal(t, 405, d.Status)
	assert.Equal(t, []string{"GET", "HEAD"}, d.Allow)
}

func TestDecideRedirect(t *testing.T) {
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/old", Methods: []string{"GET"}, Redirect: "https://example.com/new", RedirectCode: 302},
	}}
	rt := New(&config.Config{})
	d := rt.Decide(blk, testRequest("GET", "/old/page"))
	assert.Equal(t, KindRedirect, d.Kind)
	assert.Equal(t, 302, d.Status)
	assert.Equal(t, "https://example.com/new", d.Location)
}

func TestDecideStaticVariants(t *testing.T) {
	root := staticRoot(t)
	rt := New(&config.Config{})

	// Directory with a present index file.
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/", Methods: []string{"GET"}, Root: root, Index: "index.html"},
	}}
	d := rt.Decide(blk, testRequest("GET", "/docs"))
	assert.Equal(t, KindStatic, d.Kind)
	assert.Equal(t, filepath.Join(root, "docs", "index.html"), d.FsPath)

	// Directory without the index file, autoindex on.
	blk.Routes[0].Autoindex = true
	d = rt.Decide(blk, testRequest("GET", "/bare"))
	assert.Equal(t, KindAutoindex, d.Kind)
	assert.Equal(t, filepath.Join(root, "bare"), d.FsPath)

	// Same directory with autoindex off.
	blk.Routes[0].Autoindex = false
	d = rt.Decide(blk, testRequest("GET", "/bare"))
	assert.Equal(t, KindError, d.Kind)
	assert.Equal(t, 403, d.Status)

	// Missing file.
	d = rt.Decide(blk, testRequest("GET", "/absent.txt"))
	assert.Equal(t, KindError, d.Kind)
	assert.Equal(t, 404, d.Status)
}

func TestDecideTraversalContained(t *testing.T) {
	root := staticRoot(t)
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/", Methods: []string{"GET"}, Root: root},
	}}
	rt := New(&config.Config{})

	// Dot-dot segments collapse inside the root; the resolved target never
	// escapes it.
	d := rt.Decide(blk, testRequest("GET", "/a/../../../hello.txt"))
	assert.Equal(t, KindStatic, d.Kind)
	assert.Equal(t, filepath.Join(root, "hello.txt"), d.FsPath)
}

func TestDecideUpload(t *testing.T) {
	root := staticRoot(t)
	uploads := t.TempDir()
	rt := New(&config.Config{})

	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/up", Methods: []string{"POST", "PUT"}, Root: root, UploadDir: uploads},
	}}
	d := rt.Decide(blk, testRequest("POST", "/up/report.txt"))
	assert.Equal(t, KindUpload, d.Kind)
	assert.Equal(t, filepath.Join(uploads, "report.txt"), d.FsPath)

	// The stored name is always the final path segment.
	d = rt.Decide(blk, testRequest("PUT", "/up/nested/deep/file.bin"))
	assert.Equal(t, KindUpload, d.Kind)
	assert.Equal(t, filepath.Join(uploads, "file.bin"), d.FsPath)

	// POST on a route without an upload directory is refused.
	noUp := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/", Methods: []string{"POST"}, Root: root},
	}}
	d = rt.Decide(noUp, testRequest("POST", "/x"))
	assert.Equal(t, KindError, d.Kind)
	assert.Equal(t, 403, d.Status)
}

func TestDecideDelete(t *testing.T) {
	root := staticRoot(t)
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/", Methods: []string{"DELETE"}, Root: root},
	}}
	rt := New(&config.Config{})
	d := rt.Decide(blk, testRequest("DELETE", "/hello.txt"))
	assert.Equal(t, KindDelete, d.Kind)
	assert.Equal(t, filepath.Join(root, "hello.txt"), d.FsPath)
}

func TestDecideCGI(t *testing.T) {
	root := staticRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "app.py"), []byte("print()"), 0o755))

	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/", Methods: []string{"GET", "POST"}, Root: root,
			CGI: map[string]string{".py": "/usr/bin/python3"}},
	}}
	rt := New(&config.Config{})

	d := rt.Decide(blk, testRequest("GET", "/scripts/app.py"))
	assert.Equal(t, KindCGI, d.Kind)
	assert.Equal(t, filepath.Join(root, "scripts", "app.py"), d.Script)
	assert.Equal(t, "/usr/bin/python3", d.Interpreter)
	assert.Equal(t, "", d.PathInfo)

	// Trailing segments after the script become PATH_INFO.
	d = rt.Decide(blk, testRequest("GET", "/scripts/app.py/extra/info"))
	assert.Equal(t, KindCGI, d.Kind)
	assert.Equal(t, "/extra/info", d.PathInfo)

	// Unmapped extensions fall through to static serving.
	d = rt.Decide(blk, testRequest("GET", "/hello.txt"))
	assert.Equal(t, KindStatic, d.Kind)
}

func TestDecideUnimplementedMethod(t *testing.T) {
	blk := &config.ServerBlock{Routes: []config.Route{
		{Prefix: "/", Methods: []string{"OPTIONS"}, Root: t.TempDir()},
	}}
	rt := New(&config.Config{})
	d := rt.Decide(blk, testRequest("OPTIONS", "/"))
	assert.Equal(t, KindError, d.Kind)
	assert.Equal(t, 501, d.Status)
}

func TestAutoindexListing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bb"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a<b.txt"), []byte("x"), 0o644))

	page, err := Autoindex(dir, "/files")
	require.NoError(t, err)
	body := string(page)

	assert.Contains(t, body, "Index of /files/")
	assert.Contains(t, body, `<a href="../">../</a>`)
	assert.Contains(t, body, `<a href="sub/">sub/</a>`)
	assert.Contains(t, body, `<a href="b.txt">b.txt</a>`)

	// Markup in entry names is escaped.
	assert.Contains(t, body, "a&lt;b.txt")
	assert.NotContains(t, body, `<a href="a<b.txt">`)

	// Directories are listed before files.
	assert.Less(t, strings.Index(body, "sub/"), strings.Index(body, "b.txt"))
}
