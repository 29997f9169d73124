package server

import (
	"path/filepath"
	"strings"
)

// contentTypes maps file extensions to media types for static serving.
// Anything unknown ships as application/octet-stream.
var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".json":  "application/json",
	".xml":   "application/xml",
	".txt":   "text/plain; charset=utf-8",
	".csv":   "text/csv; charset=utf-8",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".pdf":   "application/pdf",
	".wasm":  "application/wasm",
	".mp4":   "video/mp4",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

func contentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// compressible reports whether a media type is worth re-encoding. Already
// compressed formats (images, video, fonts) are left alone.
func compressible(contentType string) bool {
	switch {
	case len(contentType) >= 5 && contentType[:5] == "text/":
		return true
	case contentType == "application/json",
		contentType == "application/xml",
		contentType == "image/svg+xml",
		contentType == "application/wasm":
		return true
	}
	return false
}
