package http11

import (
	"bytes"
	"testing"
)

// decodeAll runs a decoder over raw in one call.
func decodeAll(t *testing.T, raw string, limit int64) ([]byte, bool, *ParseError) {
	t.Helper()
	var d chunkedDecoder
	var out []byte
	used, done, perr := d.consume([]byte(raw), &out, limit)
	if perr == nil && used > len(raw) {
		t.Fatalf("consumed %d of %d bytes", used, len(raw))
	}
	return out, done, perr
}

func TestChunkedDecodeBasic(t *testing.T) {
	out, done, perr := decodeAll(t, "5\r\nhello\r\n0\r\n\r\n", -1)
	if perr != nil {
		t.Fatal(perr)
	}
	if !done {
		t.Fatal("decoder must report completion")
	}
	if string(out) != "hello" {
		t.Errorf("out = %q", out)
	}
}

func TestChunkedDecodeExtensionsStripped(t *testing.T) {
	out, done, perr := decodeAll(t, "5;name=val\r\nhello\r\n0;last\r\n\r\n", -1)
	if perr != nil || !done {
		t.Fatalf("done=%v err=%v", done, perr)
	}
	if string(out) != "hello" {
		t.Errorf("out = %q", out)
	}
}

func TestChunkedDecodeTrailersDiscarded(t *testing.T) {
	out, done, perr := decodeAll(t, "3\r\nabc\r\n0\r\nX-Sum: 9\r\nX-Other: z\r\n\r\n", -1)
	if perr != nil || !done {
		t.Fatalf("done=%v err=%v", done, perr)
	}
	if string(out) != "abc" {
		t.Errorf("out = %q", out)
	}
}

func TestChunkedDecodeUppercaseHex(t *testing.T) {
	out, done, perr := decodeAll(t, "A\r\n0123456789\r\n0\r\n\r\n", -1)
	if perr != nil || !done {
		t.Fatalf("done=%v err=%v", done, perr)
	}
	if string(out) != "0123456789" {
		t.Errorf("out = %q", out)
	}
}

// Byte-at-a-time feeding must reassemble the identical body.
func TestChunkedDecodeIncremental(t *testing.T) {
	raw := []byte("4\r\nWiki\r\n6\r\npedia \r\nB\r\nin \r\nchunks\r\n0\r\n\r\n")
	want := "Wikipedia in \r\nchunks"

	for _, step := range []int{1, 2, 3, 7} {
		var d chunkedDecoder
		var out []byte
		var pending []byte
		done := false
		for i := 0; i < len(raw) && !done; i += step {
			end := i + step
			if end > len(raw) {
				end = len(raw)
			}
			pending = append(pending, raw[i:end]...)
			used, fin, perr := d.consume(pending, &out, -1)
			if perr != nil {
				t.Fatalf("step=%d: %v", step, perr)
			}
			pending = pending[used:]
			done = fin
		}
		if !done {
			t.Fatalf("step=%d: decode did not finish", step)
		}
		if string(out) != want {
			t.Errorf("step=%d: out = %q, want %q", step, out, want)
		}
	}
}

func TestChunkedDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"nonhex size", "zz\r\nhi\r\n0\r\n\r\n"},
		{"empty size", "\r\nhi\r\n0\r\n\r\n"},
		{"missing data crlf", "2\r\nhiX\r\n0\r\n\r\n"},
		{"size overflow", "FFFFFFFFFFFFFFFFF\r\n"},
	}
	for _, tc := range cases {
		_, _, perr := decodeAll(t, tc.raw, -1)
		if perr == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if perr.Status != 400 {
			t.Errorf("%s: status = %d, want 400", tc.name, perr.Status)
		}
	}
}

func TestChunkedDecodeLimit(t *testing.T) {
	var d chunkedDecoder
	var out []byte
	_, _, perr := d.consume([]byte("64\r\n"+string(bytes.Repeat([]byte("x"), 100))+"\r\n0\r\n\r\n"), &out, 10)
	if perr == nil || perr.Status != 413 {
		t.Fatalf("err = %v, want 413", perr)
	}
	if len(out) != 0 {
		t.Errorf("excess must not be buffered, got %d bytes", len(out))
	}
}
