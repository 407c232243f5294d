package parser

import (
	"io"
	"strings"
)

// conllReader groups token lines into sentences and turns their tags into
// spans over the space-joined sentence text.
//
//	EU      B-ORG
//	rejects O
//	German  B-MISC
//
// Tags may use IOB1, IOB2, BIOES or BILOU prefixes. A tag without a prefix
// other than "O" is read as an inside tag.
//
// A token line without a tag is left out of its sentence and reported as a
// row error after the sentence is returned.
type conllReader struct {
	lines   *lineScanner
	delim   rune
	done    bool
	pending []*RowError
}

func openCoNLL(r io.Reader, filename string, opts Options) (Reader, error) {
	return &conllReader{lines: newLineScanner(r, filename), delim: opts.Delimiter}, nil
}

type conllToken struct {
	word string
	tag  string
}

func (c *conllReader) Next() (Row, error) {
	if len(c.pending) > 0 {
		rerr := c.pending[0]
		c.pending = c.pending[1:]
		return Row{}, rerr
	}
	if c.done {
		return Row{}, io.EOF
	}

	var (
		tokens []conllToken
		first  int
	)
	for {
		line, err := c.lines.next()
		if err == io.EOF {
			c.done = true
			break
		}
		if err != nil {
			return Row{}, err
		}

		fields := c.split(line)
		if len(fields) == 0 {
			if len(tokens) > 0 {
				break
			}
			continue
		}
		if fields[0] == "-DOCSTART-" {
			continue
		}
		if len(fields) < 2 {
			c.pending = append(c.pending, &RowError{Filename: c.lines.filename, Line: c.lines.line, Message: "expected a token and a tag"})
			continue
		}
		if len(tokens) == 0 {
			first = c.lines.line
		}
		tokens = append(tokens, conllToken{word: fields[0], tag: fields[len(fields)-1]})
	}

	if len(tokens) == 0 {
		// Only malformed lines were left, or nothing at all.
		return c.Next()
	}
	text, spans := assembleSentence(tokens)
	return Row{
		Filename: c.lines.filename,
		Line:     first,
		Data:     map[string]any{"text": text, "label": spans},
	}, nil
}

func (c *conllReader) split(line string) []string {
	if c.delim == 0 {
		return strings.Fields(line)
	}
	if strings.TrimSpace(line) == "" {
		return nil
	}
	parts := strings.Split(line, string(c.delim))
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// assembleSentence joins the words with single spaces and converts tags into
// [start, end, type] spans.
func assembleSentence(tokens []conllToken) (string, []any) {
	var (
		b     strings.Builder
		spans = []any{}
		open  = false
		start int
		end   int
		typ   string
	)
	closeSpan := func() {
		if open {
			spans = append(spans, []any{start, end, typ})
			open = false
		}
	}

	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		tokStart := b.Len()
		b.WriteString(tok.word)
		tokEnd := b.Len()

		prefix, entity := splitTag(tok.tag)
		switch {
		case entity == "":
			closeSpan()
		case prefix == 'B' || prefix == 'S' || prefix == 'U':
			closeSpan()
			open, start, end, typ = true, tokStart, tokEnd, entity
		case open && entity == typ:
			end = tokEnd
		default:
			closeSpan()
			open, start, end, typ = true, tokStart, tokEnd, entity
		}
		if prefix == 'S' || prefix == 'U' || prefix == 'E' || prefix == 'L' {
			closeSpan()
		}
	}
	closeSpan()

	return b.String(), spans
}

// splitTag returns the position prefix (0 when absent) and the entity type.
// The outside tag yields an empty type.
func splitTag(tag string) (byte, string) {
	if tag == "O" || tag == "" {
		return 0, ""
	}
	if len(tag) > 2 && (tag[1] == '-' || tag[1] == '_') {
		switch tag[0] {
		case 'B', 'I', 'E', 'S', 'L', 'U':
			return tag[0], tag[2:]
		}
	}
	return 0, tag
}
