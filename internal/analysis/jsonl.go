package analysis

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxLineBytes bounds one dump line; sequencing_alignment records with many
// read groups exceed bufio's 64KiB default.
const maxLineBytes = 64 << 20

// ReadLines decodes line-delimited analysis records from r and calls fn for
// each one with its 1-based line number. Blank lines are ignored. Decoding
// stops at the first malformed line or the first error returned by fn.
func ReadLines(r io.Reader, fn func(line int, a *Analysis) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var a Analysis
		if err := json.Unmarshal([]byte(text), &a); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if err := fn(n, &a); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("line %d: %w", n+1, err)
	}
	return nil
}
