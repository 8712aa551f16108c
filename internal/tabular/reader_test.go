package tabular

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestCleanReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: "\ufffd\ufffdabc",
		},
		{
			name:     "valid multibyte",
			input:    []byte("Zoë,Māori"),
			expected: "Zoë,Māori",
		},
		{
			name:     "invalid byte in the middle",
			input:    []byte{'a', 0xFF, 'b'},
			expected: "a\ufffdb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(NewCleanReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestCleanReader_SmallBuffers(t *testing.T) {
	input := "faculty,gender\nÉcole,F\n"

	// OneByteReader forces every multibyte rune across read boundaries.
	r := NewCleanReader(iotest.OneByteReader(strings.NewReader(input)))

	var out bytes.Buffer
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if out.String() != input {
		t.Errorf("got %q, want %q", out.String(), input)
	}
}

func TestCleanReader_PassesReadErrors(t *testing.T) {
	r := NewCleanReader(iotest.ErrReader(io.ErrUnexpectedEOF))
	if _, err := io.ReadAll(r); err != io.ErrUnexpectedEOF {
		t.Errorf("err = %v, want %v", err, io.ErrUnexpectedEOF)
	}
}
