package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

type csvReader struct {
	r        *csv.Reader
	filename string
	header   []string
}

func openCSV(r io.Reader, filename string, opts Options) (Reader, error) {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ','
	}
	return newCSVReader(r, filename, delim)
}

func openTSV(r io.Reader, filename string, opts Options) (Reader, error) {
	delim := opts.Delimiter
	if delim == 0 {
		delim = '\t'
	}
	return newCSVReader(r, filename, delim)
}

func newCSVReader(r io.Reader, filename string, delim rune) (*csvReader, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ParseError{Filename: filename, Message: "file is empty"}
	}
	if err != nil {
		return nil, &ParseError{Filename: filename, Message: "failed to read header", Err: err}
	}

	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, &ParseError{Filename: filename, Message: fmt.Sprintf("header column %d is empty", i+1)}
		}
		if seen[h] {
			return nil, &ParseError{Filename: filename, Message: fmt.Sprintf("duplicate header column %q", h)}
		}
		seen[h] = true
		header[i] = h
	}

	return &csvReader{r: cr, filename: filename, header: header}, nil
}

func (c *csvReader) Next() (Row, error) {
	for {
		record, err := c.r.Read()
		if err == io.EOF {
			return Row{}, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return Row{}, &RowError{Filename: c.filename, Line: perr.StartLine, Message: perr.Err.Error()}
			}
			return Row{}, &ParseError{Filename: c.filename, Message: "read failed", Err: err}
		}

		line, _ := c.r.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" && len(c.header) > 1 {
			continue
		}
		if len(record) > len(c.header) {
			return Row{}, &RowError{
				Filename: c.filename,
				Line:     line,
				Message:  fmt.Sprintf("row has %d fields, header has %d", len(record), len(c.header)),
			}
		}

		data := make(map[string]any, len(c.header))
		for i, h := range c.header {
			if i < len(record) {
				data[h] = record[i]
			} else {
				data[h] = nil
			}
		}
		return Row{Filename: c.filename, Line: line, Data: data}, nil
	}
}
