package tabular

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CleanReader streams text input with a leading UTF-8 BOM removed and
// invalid UTF-8 bytes replaced by U+FFFD. Memory use is bounded by the
// buffer size, not the file size.
type CleanReader struct {
	r *bufio.Reader

	// encoded bytes of a rune that did not fit the caller's buffer
	pending []byte
}

// NewCleanReader wraps r.
func NewCleanReader(r io.Reader) *CleanReader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return &CleanReader{r: br}
}

// Read implements io.Reader.
func (c *CleanReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(c.pending) > 0 {
			k := copy(p[n:], c.pending)
			c.pending = c.pending[k:]
			n += k
			continue
		}

		r, _, err := c.r.ReadRune()
		if err != nil {
			if err == io.EOF && n > 0 {
				return n, nil
			}
			return n, err
		}

		// ReadRune reports invalid bytes as RuneError; encoding it writes U+FFFD.
		if utf8.RuneLen(r) <= len(p)-n {
			n += utf8.EncodeRune(p[n:], r)
			continue
		}
		var buf [utf8.UTFMax]byte
		k := utf8.EncodeRune(buf[:], r)
		c.pending = append(c.pending[:0], buf[:k]...)
	}
	return n, nil
}
