package http11

import (
	"os"
	"strconv"
)

// Response is an outgoing message. The body comes from exactly one source:
// Body (in-memory bytes: generated pages, CGI output, small or re-encoded
// files) or File (a descriptor streamed with sendfile
// after the head drains). The framing header emitted by AppendHead is always
// derived from the actual source, so Content-Length can never disagree with
// the bytes written.
type Response struct {
	Status int
	Proto  string

	fields []field

	Body     []byte
	File     *os.File
	FileSize int64
}

type field struct {
	name, value string
}

// NewResponse returns a response with the given status, speaking HTTP/1.1
// unless the caller overrides Proto for a 1.0 peer.
func NewResponse(status int) *Response {
	return &Response{Status: status, Proto: ProtoHTTP11}
}

// SetHeader appends or replaces a header field, preserving emission order.
func (r *Response) SetHeader(name, value string) {
	for i := range r.fields {
		if equalFoldASCII(r.fields[i].name, name) {
			r.fields[i].value = value
			return
		}
	}
	r.fields = append(r.fields, field{name, value})
}

// HeaderValue returns the current value of a header field, "" when unset.
func (r *Response) HeaderValue(name string) string {
	for i := range r.fields {
		if equalFoldASCII(r.fields[i].name, name) {
			return r.fields[i].value
		}
	}
	return ""
}

// ContentLength reports the number of body bytes the response will carry.
func (r *Response) ContentLength() int64 {
	if r.File != nil {
		return r.FileSize
	}
	return int64(len(r.Body))
}

// AppendHead serializes the status line and header section (terminating
// CRLF included) into dst and returns the extended slice. A Content-Length
// field is always emitted except for 204, where a payload is forbidden.
func (r *Response) AppendHead(dst []byte) []byte {
	dst = append(dst, r.Proto...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(r.Status), 10)
	dst = append(dst, ' ')
	dst = append(dst, StatusText(r.Status)...)
	dst = append(dst, crlf...)

	if r.Status != 204 && r.HeaderValue("Content-Length") == "" {
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, r.ContentLength(), 10)
		dst = append(dst, crlf...)
	}
	for _, f := range r.fields {
		dst = append(dst, f.name...)
		dst = append(dst, ": "...)
		dst = append(dst, f.value...)
		dst = append(dst, crlf...)
	}
	return append(dst, crlf...)
}
