package parser

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBOMReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"with BOM", append([]byte{0xEF, 0xBB, 0xBF}, "text,label"...), "text,label"},
		{"without BOM", []byte("text,label"), "text,label"},
		{"empty", []byte{}, ""},
		{"only BOM", []byte{0xEF, 0xBB, 0xBF}, ""},
		{"short input", []byte("ab"), "ab"},
		{"partial BOM", []byte{0xEF, 0xBB, 'x', 'y'}, string([]byte{0xEF, 0xBB, 'x', 'y'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newBOMReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"ascii", []byte("plain"), "plain"},
		{"multibyte", []byte("Grüße 世界"), "Grüße 世界"},
		{"invalid byte", []byte{'a', 0x80, 'b'}, "a?b"},
		{"truncated at end", []byte{'a', 0xE4, 0xB8}, "a??"},
		{"latin-1", []byte("caf\xe9"), "caf?"},
		{"empty", []byte{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newUTF8Sanitizer(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer_SplitAcrossReads(t *testing.T) {
	input := []byte("世界 emoji 👋 done")
	got, err := io.ReadAll(newUTF8Sanitizer(iotest.OneByteReader(bytes.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(input) {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestCountingReader(t *testing.T) {
	input := strings.Repeat("x", 1000)
	r := NewCountingReader(strings.NewReader(input), int64(len(input)))

	buf := make([]byte, 100)
	total := 0
	for {
		n, err := r.Read(buf)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if total != len(input) {
		t.Errorf("total = %d, want %d", total, len(input))
	}
	if r.Progress() != 100 {
		t.Errorf("Progress = %d, want 100", r.Progress())
	}
	if NewCountingReader(strings.NewReader(""), 0).Progress() != 0 {
		t.Error("Progress with unknown total should be 0")
	}
}
