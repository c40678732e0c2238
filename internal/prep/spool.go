package prep

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"songmigration/internal/analysis"
)

// spool buffers one partition on local disk until the dump has been fully
// read, so a malformed line never leaves a partial partition in the store.
type spool struct {
	file    *os.File
	w       *bufio.Writer
	records int
}

func newSpool(dir string, t analysis.TypeName) (*spool, error) {
	f, err := os.CreateTemp(dir, "spool-"+string(t)+"-*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("create spool for %s: %w", t, err)
	}
	return &spool{file: f, w: bufio.NewWriter(f)}, nil
}

func (s *spool) write(a *analysis.Analysis) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	s.records++
	return nil
}

// reader flushes pending writes and rewinds the spool for upload.
func (s *spool) reader() (io.Reader, error) {
	if err := s.w.Flush(); err != nil {
		return nil, err
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return s.file, nil
}

func (s *spool) remove() {
	_ = s.file.Close()
	_ = os.Remove(s.file.Name())
}
