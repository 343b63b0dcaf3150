package logparser

import (
	"bufio"
	"errors"
	"io"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

// DefaultMaxLineBytes bounds the memory held for a single line.
const DefaultMaxLineBytes = 64 * 1024

// LineReader yields the lines of a log lazily, once each. Lines longer than
// the configured limit are truncated and the rest of the line is discarded.
type LineReader struct {
	r         *bufio.Reader
	line      models.RawLogLine
	number    int
	truncated int
	err       error
	done      bool
}

// NewLineReader wraps r. maxLineBytes <= 0 selects DefaultMaxLineBytes.
func NewLineReader(r io.Reader, maxLineBytes int) *LineReader {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &LineReader{r: bufio.NewReaderSize(r, maxLineBytes)}
}

// Next advances to the next line. It returns false at end of input or on a
// read error; Err distinguishes the two.
func (lr *LineReader) Next() bool {
	if lr.done {
		return false
	}

	chunk, err := lr.r.ReadSlice('\n')
	text := string(chunk)

	if errors.Is(err, bufio.ErrBufferFull) {
		lr.truncated++
		err = lr.discardRestOfLine()
	}

	if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
		lr.done = true
		if !errors.Is(err, io.EOF) {
			lr.err = err
			return false
		}
		if text == "" {
			return false
		}
	}

	lr.number++
	lr.line = models.RawLogLine{Text: trimEOL(text), Number: lr.number}
	return true
}

// Line returns the current line.
func (lr *LineReader) Line() models.RawLogLine { return lr.line }

// Err returns the first non-EOF read error.
func (lr *LineReader) Err() error { return lr.err }

// Truncated returns how many lines were cut to the size limit.
func (lr *LineReader) Truncated() int { return lr.truncated }

func (lr *LineReader) discardRestOfLine() error {
	for {
		_, err := lr.r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func trimEOL(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
