package http11

import "fmt"

// ParseError is the parser's terminal state: the request cannot proceed and
// Status is the response code the connection must write before closing.
// Pre-allocated instances below keep the hot path allocation free.
type ParseError struct {
	Status int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("http11: %s (%d)", e.Reason, e.Status)
}

var (
	// 400-class framing violations. Request line format: METHOD SP TARGET SP
	// VERSION CRLF, single spaces only.
	ErrInvalidRequestLine = &ParseError{400, "invalid request line"}
	ErrInvalidMethod      = &ParseError{400, "invalid HTTP method"}
	ErrInvalidPath        = &ParseError{400, "invalid request path"}
	ErrInvalidHeader      = &ParseError{400, "invalid HTTP header"}
	ErrInvalidChunk       = &ParseError{400, "invalid chunked framing"}

	// RFC 7230 §3.3.3 request-smuggling rejections: conflicting duplicate
	// Content-Length values, Content-Length combined with Transfer-Encoding,
	// and duplicate Host headers.
	ErrDuplicateContentLength = &ParseError{400, "conflicting Content-Length headers"}
	ErrContentLengthWithTE    = &ParseError{400, "Content-Length with Transfer-Encoding"}
	ErrDuplicateHost          = &ParseError{400, "duplicate Host header"}
	ErrInvalidContentLength   = &ParseError{400, "invalid Content-Length"}

	// Size caps.
	ErrRequestLineTooLarge = &ParseError{400, "request line too large"}
	ErrHeadersTooLarge     = &ParseError{400, "header section too large"}
	ErrURITooLong          = &ParseError{400, "URI too long"}

	// ErrBodyTooLarge fires the moment the body bound is exceeded, before the
	// excess is buffered, for both framing modes.
	ErrBodyTooLarge = &ParseError{413, "request body exceeds limit"}

	// ErrUnsupportedCoding rejects any transfer coding other than chunked.
	ErrUnsupportedCoding = &ParseError{501, "unsupported transfer coding"}

	// ErrVersionNotSupported rejects well-formed HTTP/x.y tokens outside 1.0
	// and 1.1.
	ErrVersionNotSupported = &ParseError{505, "unsupported HTTP version"}
)
