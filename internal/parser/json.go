package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// jsonReader decodes a top-level array up front and hands out its elements.
// Line numbers are 1-based element positions.
type jsonReader struct {
	filename string
	items    []any
	pos      int
}

func openJSON(r io.Reader, filename string, _ Options) (Reader, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, &ParseError{Filename: filename, Message: "invalid JSON", Err: err}
	}
	if dec.More() {
		return nil, &ParseError{Filename: filename, Message: "unexpected data after the top-level array"}
	}
	return &jsonReader{filename: filename, items: items}, nil
}

func (j *jsonReader) Next() (Row, error) {
	if j.pos >= len(j.items) {
		return Row{}, io.EOF
	}
	item := j.items[j.pos]
	j.pos++

	obj, ok := item.(map[string]any)
	if !ok {
		return Row{}, &RowError{Filename: j.filename, Line: j.pos, Message: fmt.Sprintf("element is a %s, expected an object", jsonKind(item))}
	}
	return Row{Filename: j.filename, Line: j.pos, Data: obj}, nil
}

// jsonlReader decodes one object per line.
type jsonlReader struct {
	lines *lineScanner
}

func openJSONL(r io.Reader, filename string, _ Options) (Reader, error) {
	return &jsonlReader{lines: newLineScanner(r, filename)}, nil
}

func (j *jsonlReader) Next() (Row, error) {
	for {
		line, err := j.lines.next()
		if err != nil {
			return Row{}, err
		}
		trimmed := bytes.TrimSpace([]byte(line))
		if len(trimmed) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return Row{}, &RowError{Filename: j.lines.filename, Line: j.lines.line, Message: fmt.Sprintf("invalid JSON: %v", err)}
		}
		if dec.More() {
			return Row{}, &RowError{Filename: j.lines.filename, Line: j.lines.line, Message: "invalid JSON: trailing data"}
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return Row{}, &RowError{Filename: j.lines.filename, Line: j.lines.line, Message: fmt.Sprintf("line is a %s, expected an object", jsonKind(v))}
		}
		return Row{Filename: j.lines.filename, Line: j.lines.line, Data: obj}, nil
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "list"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
