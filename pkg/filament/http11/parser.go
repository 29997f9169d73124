package http11

import "bytes"

// Outcome reports how far a Feed call advanced the current request.
type Outcome int

const (
	// NeedMore: the buffered bytes do not complete the current phase; the
	// connection must wait for the next readiness event.
	NeedMore Outcome = iota

	// HeadersComplete is returned exactly once per request, after the header
	// section is validated. The caller resolves the virtual host and route,
	// calls SetBodyLimit with the route's bound, then calls Feed(nil) to
	// resume on the already-buffered bytes.
	HeadersComplete

	// Complete: the request, body included, is fully assembled. Bytes beyond
	// the request boundary stay buffered for the next request (pipelining)
	// and are replayed after Reset.
	Complete
)

// Parser is an incremental HTTP/1.x request decoder driven by the readiness
// loop. It must tolerate being fed byte ranges of arbitrary size and resume
// across events exactly where its buffered state left off; no phase assumes
// a full request arrives in one read.
//
// States: requestLine → headers → body → done, with *ParseError as the
// terminal failure carrying the response status (400, 413, 501, 505).
type Parser struct {
	state parseState
	buf   []byte
	req   *Request

	// bodyLimit is the route's body-size bound; -1 until SetBodyLimit. The
	// body phase never buffers bytes past a known bound.
	bodyLimit int64

	bodyRemaining int64
	headerBytes   int
	chunk         chunkedDecoder
	err           *ParseError
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateDone
	stateFailed
)

// NewParser returns a parser ready for the first request on a connection.
func NewParser() *Parser {
	return &Parser{bodyLimit: -1}
}

// Request returns the request under construction. Valid from the
// HeadersComplete outcome onward.
func (p *Parser) Request() *Request {
	return p.req
}

// SetBodyLimit installs the body-size bound once the route is known.
func (p *Parser) SetBodyLimit(n int64) {
	p.bodyLimit = n
}

// Buffered returns the number of unconsumed bytes held for the next request.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Reset prepares for the next request on the same connection, keeping any
// pipelined bytes already received past the previous request boundary.
func (p *Parser) Reset() {
	p.state = stateRequestLine
	p.req = nil
	p.bodyLimit = -1
	p.bodyRemaining = 0
	p.headerBytes = 0
	p.chunk = chunkedDecoder{}
	p.err = nil
}

// Feed appends data (which may be nil to resume after SetBodyLimit) and runs
// the state machine as far as the buffered bytes allow. A returned
// *ParseError is sticky: the request is unrecoverable and the connection must
// answer with err.Status and close.
func (p *Parser) Feed(data []byte) (Outcome, *ParseError) {
	if p.err != nil {
		return NeedMore, p.err
	}
	p.buf = append(p.buf, data...)

	for {
		switch p.state {
		case stateRequestLine:
			nl := bytes.Index(p.buf, crlf)
			if nl == -1 {
				if len(p.buf) > MaxRequestLineSize {
					return NeedMore, p.fail(ErrRequestLineTooLarge)
				}
				// Tolerate a leading bare CRLF before the request line
				// (RFC 7230 §3.5); nothing to trim yet without a full line.
				return NeedMore, nil
			}
			if nl == 0 {
				p.buf = p.buf[2:]
				continue
			}
			req, perr := parseRequestLine(p.buf[:nl])
			if perr != nil {
				return NeedMore, p.fail(perr)
			}
			p.req = req
			p.buf = p.buf[nl+2:]
			p.state = stateHeaders

		case stateHeaders:
			advanced, sectionDone, perr := p.consumeHeaderLine()
			if perr != nil {
				return NeedMore, p.fail(perr)
			}
			if sectionDone {
				return HeadersComplete, nil
			}
			if !advanced {
				return NeedMore, nil
			}

		case stateBody:
			outcome, perr := p.consumeBody()
			if perr != nil {
				return NeedMore, p.fail(perr)
			}
			return outcome, nil

		case stateDone:
			return Complete, nil

		case stateFailed:
			return NeedMore, p.err
		}
	}
}

func (p *Parser) fail(perr *ParseError) *ParseError {
	p.state = stateFailed
	p.err = perr
	return perr
}

// consumeHeaderLine handles at most one header line. sectionDone is true when
// the blank line ending the section was consumed (always surfaced as
// HeadersComplete, since route resolution needs the Host header even for
// bodyless requests); advanced is false only when more bytes are required.
func (p *Parser) consumeHeaderLine() (advanced, sectionDone bool, perr *ParseError) {
	nl := bytes.Index(p.buf, crlf)
	if nl == -1 {
		if p.headerBytes+len(p.buf) > MaxHeadersSize {
			return false, false, ErrHeadersTooLarge
		}
		return false, false, nil
	}
	// The cap covers the whole section, not individual lines.
	p.headerBytes += nl + 2
	if p.headerBytes > MaxHeadersSize {
		return false, false, ErrHeadersTooLarge
	}
	if nl == 0 {
		// Blank line: end of the header section.
		p.buf = p.buf[2:]
		if perr := p.finishHeaders(); perr != nil {
			return false, false, perr
		}
		p.state = stateBody
		return true, true, nil
	}

	line := p.buf[:nl]
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return false, false, ErrInvalidHeader
	}
	// RFC 7230 §3.2.4: whitespace between the field name and the colon makes
	// the whole message invalid.
	if line[colon-1] == ' ' || line[colon-1] == '\t' {
		return false, false, ErrInvalidHeader
	}
	name := line[:colon]
	if !validToken(name) {
		return false, false, ErrInvalidHeader
	}
	value := trimOWS(line[colon+1:])

	if perr := p.storeHeader(lowerInPlace(name), string(value)); perr != nil {
		return false, false, perr
	}
	p.buf = p.buf[nl+2:]
	return true, false, nil
}

// storeHeader inserts one header, enforcing the singular-header rules before
// the generic last-duplicate-wins map insert.
func (p *Parser) storeHeader(name, value string) *ParseError {
	req := p.req
	switch name {
	case headerHost:
		if req.Header.Has(headerHost) {
			return ErrDuplicateHost
		}
	case headerContentLength:
		n, perr := parseContentLength(value)
		if perr != nil {
			return perr
		}
		// Repeated Content-Length with the same value is tolerated; a
		// conflicting duplicate is a smuggling attempt.
		if req.ContentLength >= 0 && req.ContentLength != n {
			return ErrDuplicateContentLength
		}
		req.ContentLength = n
	case headerTransferEncoding:
		if req.Header.Has(headerTransferEncoding) {
			return ErrInvalidHeader
		}
		if !equalFoldASCII(value, "chunked") {
			return ErrUnsupportedCoding
		}
		req.Chunked = true
	}
	req.Header.set(name, value)
	return nil
}

// finishHeaders applies the end-of-section framing rules and computes the
// connection semantics.
func (p *Parser) finishHeaders() *ParseError {
	req := p.req
	if req.Chunked && req.ContentLength >= 0 {
		return ErrContentLengthWithTE
	}
	switch req.Proto {
	case ProtoHTTP11:
		req.Close = equalFoldASCII(req.Header.Get(headerConnection), "close")
	case ProtoHTTP10:
		req.Close = !equalFoldASCII(req.Header.Get(headerConnection), "keep-alive")
	}
	if req.ContentLength > 0 {
		p.bodyRemaining = req.ContentLength
	}
	return nil
}

// consumeBody advances the body phase under the installed limit.
func (p *Parser) consumeBody() (Outcome, *ParseError) {
	req := p.req

	if req.Chunked {
		used, done, perr := p.chunk.consume(p.buf, &req.Body, p.bodyLimit)
		p.buf = p.buf[used:]
		if perr != nil {
			return 0, perr
		}
		if !done {
			return NeedMore, nil
		}
		p.state = stateDone
		return Complete, nil
	}

	if p.bodyRemaining > 0 {
		// A declared length past the bound is rejected up front, before a
		// single body byte is buffered.
		if p.bodyLimit >= 0 && req.ContentLength > p.bodyLimit {
			return 0, ErrBodyTooLarge
		}
		n := int64(len(p.buf))
		if n > p.bodyRemaining {
			n = p.bodyRemaining
		}
		req.Body = append(req.Body, p.buf[:n]...)
		p.buf = p.buf[n:]
		p.bodyRemaining -= n
		if p.bodyRemaining > 0 {
			return NeedMore, nil
		}
	}

	p.state = stateDone
	return Complete, nil
}

// parseRequestLine decodes "METHOD SP target SP HTTP-version".
func parseRequestLine(line []byte) (*Request, *ParseError) {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return nil, ErrInvalidRequestLine
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return nil, ErrInvalidRequestLine
	}
	method, target, version := line[:sp1], rest[:sp2], rest[sp2+1:]
	if bytes.IndexByte(target, ' ') != -1 || bytes.IndexByte(version, ' ') != -1 {
		return nil, ErrInvalidRequestLine
	}

	id := ParseMethodID(method)
	if id == MethodUnknown {
		return nil, ErrInvalidMethod
	}

	proto := string(version)
	switch proto {
	case ProtoHTTP10, ProtoHTTP11:
	default:
		if len(version) > 5 && string(version[:5]) == "HTTP/" {
			return nil, ErrVersionNotSupported
		}
		return nil, ErrInvalidRequestLine
	}

	if len(target) > MaxURILength {
		return nil, ErrURITooLong
	}
	if len(target) == 0 || target[0] != '/' {
		return nil, ErrInvalidPath
	}

	rawPath := target
	var rawQuery []byte
	if q := bytes.IndexByte(target, '?'); q != -1 {
		rawPath = target[:q]
		rawQuery = target[q+1:]
	}
	path, ok := unescapePath(rawPath)
	if !ok {
		return nil, ErrInvalidPath
	}

	return &Request{
		MethodID:      id,
		Method:        MethodString(id),
		Path:          path,
		RawQuery:      string(rawQuery),
		Proto:         proto,
		Header:        make(Header, 8),
		ContentLength: -1,
	}, nil
}

// parseContentLength accepts only a plain digit run.
func parseContentLength(v string) (int64, *ParseError) {
	if len(v) == 0 {
		return 0, ErrInvalidContentLength
	}
	var n int64
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < '0' || c > '9' {
			return 0, ErrInvalidContentLength
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return 0, ErrInvalidContentLength
		}
	}
	return n, nil
}

// unescapePath percent-decodes a request path. Control bytes and a decoded
// NUL are rejected; '+' is left alone (it is only special in query strings).
func unescapePath(b []byte) (string, bool) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c == '%' {
			if i+2 >= len(b) {
				return "", false
			}
			hi, ok1 := unhex(b[i+1])
			lo, ok2 := unhex(b[i+2])
			if !ok1 || !ok2 {
				return "", false
			}
			c = hi<<4 | lo
			i += 2
		}
		if c == 0 {
			return "", false
		}
		out = append(out, c)
	}
	return string(out), true
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// equalFoldASCII compares two short ASCII strings case-insensitively.
func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
