package cgi

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/watt-toolkit/filament/pkg/filament/http11"
)

// ParseOutput converts raw script output into a response. A script may emit
// a header block ("Status:", "Content-Type:", arbitrary fields) terminated
// by a blank line; without one the whole output is wrapped in a 200
// text/html envelope. A malformed Status line degrades to 500 rather than
// leaking garbage framing to the client.
func ParseOutput(raw []byte) *http11.Response {
	head, body, ok := splitHead(raw)
	if !ok {
		resp := http11.NewResponse(200)
		resp.SetHeader("Content-Type", "text/html")
		resp.Body = raw
		return resp
	}

	resp := http11.NewResponse(200)
	for _, line := range splitLines(head) {
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		if name == "" {
			continue
		}
		if strings.EqualFold(name, "Status") {
			status, ok := parseStatusValue(value)
			if !ok {
				return internalError()
			}
			resp.Status = status
			continue
		}
		if strings.EqualFold(name, "Content-Length") {
			// The engine frames the body itself from the actual byte count.
			continue
		}
		resp.SetHeader(name, value)
	}
	if resp.HeaderValue("Content-Type") == "" {
		resp.SetHeader("Content-Type", "text/html")
	}
	resp.Body = body
	return resp
}

func internalError() *http11.Response {
	resp := http11.NewResponse(500)
	resp.SetHeader("Content-Type", "text/html")
	resp.Body = []byte("<html><body><h1>500 Internal Server Error</h1></body></html>")
	return resp
}

// splitHead separates a CGI header block from the body. Scripts in the wild
// use either CRLF or bare LF line endings; both are accepted.
func splitHead(raw []byte) (head, body []byte, ok bool) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i != -1 {
		if looksLikeHeaders(raw[:i]) {
			return raw[:i], raw[i+4:], true
		}
		return nil, nil, false
	}
	if i := bytes.Index(raw, []byte("\n\n")); i != -1 {
		if looksLikeHeaders(raw[:i]) {
			return raw[:i], raw[i+2:], true
		}
	}
	return nil, nil, false
}

// looksLikeHeaders guards against treating a body that merely contains a
// blank line as a header block: every line before the separator must have a
// colon.
func looksLikeHeaders(head []byte) bool {
	lines := splitLines(head)
	if len(lines) == 0 {
		return false
	}
	for _, line := range lines {
		if bytes.IndexByte(line, ':') <= 0 {
			return false
		}
	}
	return true
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i == -1 {
			lines = append(lines, bytes.TrimRight(b, "\r"))
			break
		}
		lines = append(lines, bytes.TrimRight(b[:i], "\r"))
		b = b[i+1:]
	}
	return lines
}

// parseStatusValue accepts "200", "200 OK" and similar.
func parseStatusValue(v string) (int, bool) {
	if i := strings.IndexByte(v, ' '); i != -1 {
		v = v[:i]
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 100 || n > 599 {
		return 0, false
	}
	return n, true
}
