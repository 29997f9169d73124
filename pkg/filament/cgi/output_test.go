package cgi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOutputPlainBody(t *testing.T) {
	resp := ParseOutput([]byte("just some text, no headers"))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/html", resp.HeaderValue("Content-Type"))
	assert.Equal(t, "just some text, no headers", string(resp.Body))
}

func TestParseOutputHeaderBlock(t *testing.T) {
	raw := []byte("Content-Type: application/json\r\nX-Script: demo\r\n\r\n{\"ok\":true}")
	resp := ParseOutput(raw)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "application/json", resp.HeaderValue("Content-Type"))
	assert.Equal(t, "demo", resp.HeaderValue("X-Script"))
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func TestParseOutputLFOnly(t *testing.T) {
	resp := ParseOutput([]byte("Content-Type: text/plain\n\nhello"))
	assert.Equal(t, "text/plain", resp.HeaderValue("Content-Type"))
	assert.Equal(t, "hello", string(resp.Body))
}

func TestParseOutputStatusLine(t *testing.T) {
	resp := ParseOutput([]byte("Status: 404 Not Found\r\nContent-Type: text/plain\r\n\r\ngone"))
	assert.Equal(t, 404, resp.Status)
	assert.Equal(t, "gone", string(resp.Body))

	resp = ParseOutput([]byte("Status: 201\r\n\r\nmade"))
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, "text/html", resp.HeaderValue("Content-Type"))

	resp = ParseOutput([]byte("status: 302\r\nLocation: /elsewhere\r\n\r\n"))
	assert.Equal(t, 302, resp.Status)
	assert.Equal(t, "/elsewhere", resp.HeaderValue("Location"))
}

func TestParseOutputMalformedStatus(t *testing.T) {
	for _, raw := range []string{
		"Status: abc\r\n\r\nx",
		"Status: 42\r\n\r\nx",
		"Status: 900\r\n\r\nx",
	} {
		resp := ParseOutput([]byte(raw))
		assert.Equal(t, 500, resp.Status, "raw=%q", raw)
	}
}

func TestParseOutputContentLengthDropped(t *testing.T) {
	// The script's own framing claim is ignored; the engine counts bytes.
	resp := ParseOutput([]byte("Content-Length: 9999\r\nContent-Type: text/plain\r\n\r\nshort"))
	assert.Equal(t, "", resp.HeaderValue("Content-Length"))
	assert.Equal(t, int64(5), resp.ContentLength())
}

func TestParseOutputBodyWithBlankLineNotHeaders(t *testing.T) {
	// A body whose first paragraph has no colon must not be eaten as headers.
	raw := []byte("first paragraph\r\n\r\nsecond paragraph")
	resp := ParseOutput(raw)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, string(raw), string(resp.Body))
}

func TestParseOutputEmpty(t *testing.T) {
	resp := ParseOutput(nil)
	assert.Equal(t, 200, resp.Status)
	assert.Len(t, resp.Body, 0)
}
