// Package parser turns uploaded dataset files into rows.
//
// Each supported [Format] has a reader that yields one [Row] at a time from
// an io.Reader. Readers are lazy and cannot be restarted. Errors come in two
// flavours: a *ParseError means the file as a whole is unusable, a *RowError
// means one row was skipped and reading may continue.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Format identifies a dataset file format.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatTextLine Format = "textline"
	FormatTextFile Format = "textfile"
	FormatCSV      Format = "csv"
	FormatTSV      Format = "tsv"
	FormatJSON     Format = "json"
	FormatJSONL    Format = "jsonl"
	FormatFastText Format = "fasttext"
	FormatCoNLL    Format = "conll"
)

// MaxLineSize bounds a single line for the line oriented formats.
const MaxLineSize = 16 * 1024 * 1024

// Row is one source record. Line is 1-based.
type Row struct {
	Filename string
	Line     int
	Data     map[string]any
}

// Options tunes individual formats. The zero value is valid for every format.
type Options struct {
	// Delimiter overrides the CSV field separator and the CoNLL column
	// separator (CoNLL otherwise splits on any whitespace).
	Delimiter rune

	// LabelPrefix marks label tokens in fastText input.
	LabelPrefix string
}

// DefaultLabelPrefix is the fastText label token prefix.
const DefaultLabelPrefix = "__label__"

// Reader yields rows. Next returns io.EOF once the source is exhausted.
type Reader interface {
	Next() (Row, error)
}

// ParseError reports a file that could not be parsed at all.
type ParseError struct {
	Filename string
	Message  string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Filename, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RowError reports a single row that was skipped.
type RowError struct {
	Filename string
	Line     int
	Message  string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Filename, e.Line, e.Message)
}

type opener func(r io.Reader, filename string, opts Options) (Reader, error)

var openers = map[Format]opener{
	FormatPlain:    openPlain,
	FormatTextLine: openTextLine,
	FormatTextFile: openTextFile,
	FormatCSV:      openCSV,
	FormatTSV:      openTSV,
	FormatJSON:     openJSON,
	FormatJSONL:    openJSONL,
	FormatFastText: openFastText,
	FormatCoNLL:    openCoNLL,
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := openers[f]; !ok {
		return "", fmt.Errorf("unknown format: %q", s)
	}
	return f, nil
}

// Formats lists the supported formats in name order.
func Formats() []Format {
	out := make([]Format, 0, len(openers))
	for f := range openers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Open returns a row reader for r. The input must already be UTF-8; see
// [Decode]. Formats that have to see the whole input before producing a
// row (JSON) may return a *ParseError here.
func Open(format Format, r io.Reader, filename string, opts Options) (Reader, error) {
	open, ok := openers[format]
	if !ok {
		return nil, fmt.Errorf("unknown format: %q", format)
	}
	return open(r, filename, opts)
}

// ReadAll drains a reader. Row errors are collected, a fatal error stops
// reading and is returned along with the rows read so far.
func ReadAll(r Reader) ([]Row, []*RowError, error) {
	var (
		rows    []Row
		rowErrs []*RowError
	)
	for {
		row, err := r.Next()
		if err == io.EOF {
			return rows, rowErrs, nil
		}
		var rerr *RowError
		if errors.As(err, &rerr) {
			rowErrs = append(rowErrs, rerr)
			continue
		}
		if err != nil {
			return rows, rowErrs, err
		}
		rows = append(rows, row)
	}
}

// lineScanner reads lines and tracks their 1-based numbers.
type lineScanner struct {
	sc       *bufio.Scanner
	filename string
	line     int
}

func newLineScanner(r io.Reader, filename string) *lineScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &lineScanner{sc: sc, filename: filename}
}

// next returns the next line without its line ending.
func (l *lineScanner) next() (string, error) {
	if !l.sc.Scan() {
		if err := l.sc.Err(); err != nil {
			return "", &ParseError{Filename: l.filename, Message: fmt.Sprintf("read failed after line %d", l.line), Err: err}
		}
		return "", io.EOF
	}
	l.line++
	return strings.TrimSuffix(l.sc.Text(), "\r"), nil
}
