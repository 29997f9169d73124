package router

import (
	"fmt"
	"html"
	"os"
	"sort"
	"strings"
)

// Autoindex renders a directory listing for urlPath. Entries are sorted
// directories-first, then by name, so the output is deterministic for tests
// and for clients diffing listings.
func Autoindex(dir, urlPath string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	if !strings.HasSuffix(urlPath, "/") {
		urlPath += "/"
	}
	esc := html.EscapeString(urlPath)

	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head><title>Index of %s</title></head>\n<body>\n", esc)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<hr>\n<pre>\n", esc)
	if urlPath != "/" {
		b.WriteString("<a href=\"../\">../</a>\n")
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		size := "-"
		mtime := ""
		if info, err := e.Info(); err == nil {
			mtime = info.ModTime().Format("02-Jan-2006 15:04")
			if !e.IsDir() {
				size = fmt.Sprintf("%d", info.Size())
			}
		}
		fmt.Fprintf(&b, "<a href=\"%s\">%s</a>  %s  %s\n",
			html.EscapeString(name), html.EscapeString(name), mtime, size)
	}
	b.WriteString("</pre>\n<hr>\n</body>\n</html>\n")
	return []byte(b.String()), nil
}
