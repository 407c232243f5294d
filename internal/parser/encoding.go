package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// EncodingAuto strips a BOM and sanitizes the stream as UTF-8.
const EncodingAuto = "auto"

// LookupEncoding resolves an encoding name. Both WHATWG labels
// ("windows-1252", "shift_jis") and underscore spellings ("utf_8", "cp1252")
// are accepted. An empty name or "auto" returns nil.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == EncodingAuto {
		return nil, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(strings.ReplaceAll(name, "_", "-")); err == nil {
		return enc, nil
	}
	return nil, fmt.Errorf("unsupported encoding: %q", name)
}

// Decode wraps r so that it yields UTF-8.
//
// With no declared encoding the stream is treated as UTF-8: a leading BOM
// is dropped and invalid bytes are replaced. A declared encoding is
// transcoded, honouring a BOM when the encoding is UTF-8 or UTF-16.
func Decode(r io.Reader, name string) (io.Reader, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == nil || enc == unicode.UTF8 {
		return newUTF8Sanitizer(newBOMReader(r)), nil
	}
	return enc.NewDecoder().Reader(r), nil
}
