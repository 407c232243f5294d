package parser

// streaming.go holds the reader wrappers applied to every upload before it
// reaches a format parser:
//
//   - bomReader drops a leading UTF-8 byte order mark
//   - utf8Sanitizer replaces invalid UTF-8 bytes with '?' without buffering
//     the whole file
//   - CountingReader tracks bytes consumed for progress reporting
//
// Uploads in a declared non-UTF-8 encoding are transcoded by Decode instead
// of being sanitized.

import (
	"io"
	"unicode/utf8"
)

// utf8Sanitizer rewrites invalid UTF-8 in place as it streams.
type utf8Sanitizer struct {
	r io.Reader

	// bytes of a multi-byte sequence split across two reads
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}
	if isASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitize compacts data in place and returns the number of bytes to hand
// out. Unless atEOF, an incomplete trailing sequence is held back.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		if !atEOF {
			if k := trailingPartial(data); k > 0 {
				s.pending = append(s.pending, data[len(data)-k:]...)
				return len(data) - k
			}
		}
		return len(data)
	}

	w := 0
	for r := 0; r < len(data); {
		if !atEOF && !utf8.FullRune(data[r:]) {
			s.pending = append(s.pending, data[r:]...)
			return w
		}
		c, size := utf8.DecodeRune(data[r:])
		if c == utf8.RuneError && size == 1 {
			// '?' keeps the output no longer than the input
			data[w] = '?'
			w++
			r++
			continue
		}
		copy(data[w:], data[r:r+size])
		w += size
		r += size
	}
	return w
}

// trailingPartial returns how many bytes at the end of data start a
// multi-byte sequence that is not complete yet.
func trailingPartial(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < sequenceLen(b) {
				return i
			}
			return 0
		}
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

func sequenceLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// bomReader skips a UTF-8 byte order mark at the start of the stream.
type bomReader struct {
	r       io.Reader
	checked bool
	head    []byte
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{r: r}
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		var buf [3]byte
		n, err := io.ReadFull(b.r, buf[:])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, err
		}
		if !(n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF) {
			b.head = append(b.head, buf[:n]...)
		}
		if n < 3 && len(b.head) == 0 {
			return 0, io.EOF
		}
	}

	if len(b.head) > 0 {
		n := copy(p, b.head)
		b.head = b.head[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// CountingReader counts bytes read through it.
type CountingReader struct {
	r         io.Reader
	BytesRead int64
	Total     int64 // 0 when unknown
}

// NewCountingReader wraps r. total is the expected size, or 0 if unknown.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{r: r, Total: total}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress in percent, or 0 when the total is unknown.
func (c *CountingReader) Progress() int {
	if c.Total <= 0 {
		return 0
	}
	return int(c.BytesRead * 100 / c.Total)
}
