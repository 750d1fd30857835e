package fhir

import (
	"bufio"
	"io"
	"strings"
)

// NDJSONScanner iterates over the lines of a newline-delimited JSON document.
// Blank lines are skipped; surrounding whitespace is trimmed. The scanner does
// not parse the lines, so a malformed line is still yielded and the caller
// decides how to treat it.
type NDJSONScanner struct {
	s    *bufio.Scanner
	line string
}

// maxLineBytes bounds a single export line. Partner records are small, but a
// pathological feed must not exhaust memory through one unbroken line.
const maxLineBytes = 4 << 20

// NewNDJSONScanner creates a scanner over r.
func NewNDJSONScanner(r io.Reader) *NDJSONScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64<<10), maxLineBytes)
	return &NDJSONScanner{s: s}
}

// Scan advances to the next non-blank line, reporting false at end of input.
func (n *NDJSONScanner) Scan() bool {
	for n.s.Scan() {
		line := strings.TrimSpace(n.s.Text())
		if line == "" {
			continue
		}
		n.line = line
		return true
	}
	return false
}

// Text returns the current line.
func (n *NDJSONScanner) Text() string {
	return n.line
}

// Err returns the first error encountered by the underlying scanner.
func (n *NDJSONScanner) Err() error {
	return n.s.Err()
}
