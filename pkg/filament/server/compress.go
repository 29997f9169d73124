package server

import (
	"bytes"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// minEncodeSize skips encoding bodies too small to benefit; the framing
// overhead would dominate.
const minEncodeSize = 512

// negotiateEncoding picks a content coding from an Accept-Encoding value.
// Brotli wins over gzip when both are offered; identity wins otherwise.
func negotiateEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}
	var hasBr, hasGzip bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		token := strings.TrimSpace(part)
		if i := strings.IndexByte(token, ';'); i != -1 {
			// A q=0 weight is a refusal, not an offer.
			if strings.Contains(token[i:], "q=0") && !strings.Contains(token[i:], "q=0.") {
				continue
			}
			token = strings.TrimSpace(token[:i])
		}
		switch token {
		case "br":
			hasBr = true
		case "gzip":
			hasGzip = true
		}
	}
	switch {
	case hasBr:
		return "br"
	case hasGzip:
		return "gzip"
	default:
		return ""
	}
}

// encodeBody compresses an in-memory body with the negotiated coding.
// Returns the input unchanged (and "") when encoding is not worthwhile:
// tiny bodies, unknown codings, or output larger than the input.
func encodeBody(body []byte, encoding string) ([]byte, string) {
	if len(body) < minEncodeSize {
		return body, ""
	}
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
		if err != nil {
			return body, ""
		}
		if _, err := w.Write(body); err != nil || w.Close() != nil {
			return body, ""
		}
	case "br":
		w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := w.Write(body); err != nil || w.Close() != nil {
			return body, ""
		}
	default:
		return body, ""
	}
	if buf.Len() >= len(body) {
		return body, ""
	}
	return buf.Bytes(), encoding
}
