package parser

import (
	"fmt"
	"io"
	"strings"
)

// plainReader yields a single empty row; the payload is the file itself.
type plainReader struct {
	filename string
	done     bool
}

func openPlain(_ io.Reader, filename string, _ Options) (Reader, error) {
	return &plainReader{filename: filename}, nil
}

func (p *plainReader) Next() (Row, error) {
	if p.done {
		return Row{}, io.EOF
	}
	p.done = true
	return Row{Filename: p.filename, Line: 1, Data: map[string]any{}}, nil
}

// textFileReader yields the whole content as one row.
type textFileReader struct {
	r        io.Reader
	filename string
	done     bool
}

func openTextFile(r io.Reader, filename string, _ Options) (Reader, error) {
	return &textFileReader{r: r, filename: filename}, nil
}

func (t *textFileReader) Next() (Row, error) {
	if t.done {
		return Row{}, io.EOF
	}
	t.done = true
	content, err := io.ReadAll(t.r)
	if err != nil {
		return Row{}, &ParseError{Filename: t.filename, Message: "read failed", Err: err}
	}
	return Row{Filename: t.filename, Line: 1, Data: map[string]any{"text": string(content)}}, nil
}

// textLineReader yields one row per non-blank line.
type textLineReader struct {
	lines *lineScanner
}

func openTextLine(r io.Reader, filename string, _ Options) (Reader, error) {
	return &textLineReader{lines: newLineScanner(r, filename)}, nil
}

func (t *textLineReader) Next() (Row, error) {
	for {
		line, err := t.lines.next()
		if err != nil {
			return Row{}, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		return Row{Filename: t.lines.filename, Line: t.lines.line, Data: map[string]any{"text": line}}, nil
	}
}

// fastTextReader splits leading label tokens from the text:
//
//	__label__sports __label__news Some headline here
type fastTextReader struct {
	lines  *lineScanner
	prefix string
}

func openFastText(r io.Reader, filename string, opts Options) (Reader, error) {
	prefix := opts.LabelPrefix
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}
	return &fastTextReader{lines: newLineScanner(r, filename), prefix: prefix}, nil
}

func (f *fastTextReader) Next() (Row, error) {
	for {
		line, err := f.lines.next()
		if err != nil {
			return Row{}, err
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}

		labels := []any{}
		i := 0
		for ; i < len(tokens) && strings.HasPrefix(tokens[i], f.prefix); i++ {
			name := strings.TrimPrefix(tokens[i], f.prefix)
			if name == "" {
				return Row{}, &RowError{
					Filename: f.lines.filename,
					Line:     f.lines.line,
					Message:  fmt.Sprintf("label token %q has no name", tokens[i]),
				}
			}
			labels = append(labels, name)
		}

		return Row{
			Filename: f.lines.filename,
			Line:     f.lines.line,
			Data: map[string]any{
				"text":  strings.Join(tokens[i:], " "),
				"label": labels,
			},
		}, nil
	}
}
