package http11

import "bytes"

// chunkedDecoder is the chunked transfer coding sub-state-machine
// (RFC 7230 §4.1). Unlike a Reader-style decoder it is push-fed: consume is
// handed whatever bytes the connection has buffered and reports how many it
// used, so feeding in arbitrarily small increments is observationally
// identical to a single-shot decode.
//
//	chunked-body = *chunk last-chunk trailer-section CRLF
//	chunk        = chunk-size [ chunk-ext ] CRLF chunk-data CRLF
//
// Chunk extensions are stripped and ignored; trailer fields are consumed and
// discarded. Both choices close the smuggling vectors those constructs open.
type chunkedDecoder struct {
	state     chunkState
	remaining int64
}

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
	chunkDone
)

// consume decodes as much of buf as possible, appending data bytes to *out.
// It returns the number of input bytes used and whether the terminal chunk
// (plus trailers and final CRLF) was reached. limit bounds the decoded total;
// crossing it fails with 413 before the excess is appended. limit < 0 means
// the bound is not yet known.
func (d *chunkedDecoder) consume(buf []byte, out *[]byte, limit int64) (int, bool, *ParseError) {
	used := 0
	for {
		switch d.state {
		case chunkSize:
			rest := buf[used:]
			nl := bytes.Index(rest, crlf)
			if nl == -1 {
				if len(rest) > MaxChunkLineSize {
					return used, false, ErrInvalidChunk
				}
				return used, false, nil
			}
			size, perr := parseChunkSize(rest[:nl])
			if perr != nil {
				return used, false, perr
			}
			used += nl + 2
			if size == 0 {
				d.state = chunkTrailer
				continue
			}
			if limit >= 0 && int64(len(*out))+size > limit {
				return used, false, ErrBodyTooLarge
			}
			d.remaining = size
			d.state = chunkData

		case chunkData:
			rest := buf[used:]
			if len(rest) == 0 {
				return used, false, nil
			}
			n := int64(len(rest))
			if n > d.remaining {
				n = d.remaining
			}
			*out = append(*out, rest[:n]...)
			used += int(n)
			d.remaining -= n
			if d.remaining == 0 {
				d.state = chunkDataCRLF
			}

		case chunkDataCRLF:
			rest := buf[used:]
			if len(rest) < 2 {
				return used, false, nil
			}
			if rest[0] != '\r' || rest[1] != '\n' {
				return used, false, ErrInvalidChunk
			}
			used += 2
			d.state = chunkSize

		case chunkTrailer:
			// Zero or more trailer field lines, terminated by a bare CRLF
			// which doubles as the final CRLF of the chunked body.
			rest := buf[used:]
			nl := bytes.Index(rest, crlf)
			if nl == -1 {
				if len(rest) > MaxHeadersSize {
					return used, false, ErrInvalidChunk
				}
				return used, false, nil
			}
			used += nl + 2
			if nl == 0 {
				d.state = chunkDone
				return used, true, nil
			}

		case chunkDone:
			return used, true, nil
		}
	}
}

// parseChunkSize parses a hex chunk-size token, ignoring any ";ext" suffix.
func parseChunkSize(line []byte) (int64, *ParseError) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = trimOWS(line)
	if len(line) == 0 {
		return 0, ErrInvalidChunk
	}
	var size int64
	for _, c := range line {
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'f':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int64(c-'A') + 10
		default:
			return 0, ErrInvalidChunk
		}
		size = size<<4 | d
		if size < 0 {
			return 0, ErrInvalidChunk
		}
	}
	return size, nil
}

var crlf = []byte("\r\n")
