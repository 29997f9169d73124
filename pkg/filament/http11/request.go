package http11

// Request is one fully- or partially-parsed HTTP/1.x request. The parser
// fills it incrementally; Body holds the reassembled payload with any chunked
// framing already stripped, so downstream consumers (upload handler, CGI
// stdin) always see a plain byte sequence.
type Request struct {
	MethodID uint8
	Method   string

	// Path is percent-decoded; RawQuery is everything after '?', undecoded.
	Path     string
	RawQuery string

	Proto  string
	Header Header
	Body   []byte

	// ContentLength is the declared fixed length, or -1 when absent.
	ContentLength int64
	Chunked       bool

	// Close records the negotiated connection semantics: true for HTTP/1.0
	// without "Connection: keep-alive" and for any request carrying
	// "Connection: close".
	Close bool
}

// Host returns the Host header value, "" when absent.
func (r *Request) Host() string {
	return r.Header.Get(headerHost)
}

// KeepAlive reports whether the connection may serve another request after
// this one, per the negotiated version and headers.
func (r *Request) KeepAlive() bool {
	return !r.Close
}

// HasBody reports whether the request declared a payload.
func (r *Request) HasBody() bool {
	return r.Chunked || r.ContentLength > 0
}
