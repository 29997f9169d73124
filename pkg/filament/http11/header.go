package http11

import "strings"

// Header stores request headers with lowercase-normalized names. Lookup is
// case-insensitive per RFC 7230; for non-singular headers the last duplicate
// wins (the singular ones, Host, Content-Length and Transfer-Encoding, are
// policed by the parser before insertion).
type Header map[string]string

// Get returns the value for name, or "" when absent.
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Has reports whether name is present, even with an empty value.
func (h Header) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// set stores a value under the normalized name. The parser passes names it
// already lowercased in place, so this is the only string conversion.
func (h Header) set(lowerName, value string) {
	h[lowerName] = value
}

// validToken reports whether a header field name is a legal RFC 7230 token.
// Space and tab before the colon are handled separately by the parser (they
// must reject the whole message, not just the field).
func validToken(name []byte) bool {
	if len(name) == 0 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '!' || c == '#' || c == '$' || c == '%' || c == '&' ||
			c == '\'' || c == '*' || c == '+' || c == '-' || c == '.' ||
			c == '^' || c == '_' || c == '`' || c == '|' || c == '~':
		default:
			return false
		}
	}
	return true
}

// trimOWS strips optional whitespace (space, htab) from both ends of a field
// value.
func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// lowerInPlace lowercases ASCII letters in b and returns it as a string.
func lowerInPlace(b []byte) string {
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
