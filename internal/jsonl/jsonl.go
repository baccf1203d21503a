// Package jsonl implements the append-only, one-object-per-line record files
// used by every pipeline stage.
//
// Writers append a complete line with a single write followed by fsync, so a
// crash can at worst leave one torn trailing line. Readers skip lines that do
// not parse, which makes a torn line indistinguishable from an absent record.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Sink appends JSON records to a file. It is safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenSink opens path for appending, creating it and its parent directory if
// needed. If the file ends in a torn line (no trailing newline) the line is
// terminated first so the next record starts on a fresh line. Existing bytes
// are never rewritten.
func OpenSink(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: mkdir %s: %w", filepath.Dir(path), err)
	}
	torn, err := hasTornTail(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	if torn {
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return nil, fmt.Errorf("jsonl: terminate torn line in %s: %w", path, err)
		}
	}
	return &Sink{f: f, path: path}, nil
}

// Path returns the file path the sink appends to.
func (s *Sink) Path() string { return s.path }

// Append marshals v and writes it as one line. The call returns only after
// the line has been synced to stable storage.
func (s *Sink) Append(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonl: marshal: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("jsonl: append to closed sink %s", s.path)
	}
	if _, err := s.f.Write(b); err != nil {
		return fmt.Errorf("jsonl: write %s: %w", s.path, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("jsonl: sync %s: %w", s.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func hasTornTail(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("jsonl: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("jsonl: read tail of %s: %w", path, err)
	}
	return last[0] != '\n', nil
}

// Stats describes what a scan found.
type Stats struct {
	Lines   int // non-blank lines
	Parsed  int
	Corrupt int // lines that failed to parse
	// TornTail is true when the final line has no newline and does not parse.
	TornTail bool
}

// Read parses every line of path into T. Lines that fail to parse are
// counted in Stats.Corrupt and skipped. A missing file yields no records and
// no error.
func Read[T any](path string) ([]T, Stats, error) {
	var out []T
	stats, err := Scan(path, func(rec T) { out = append(out, rec) })
	return out, stats, err
}

// Scan parses every line of path into T and calls fn for each one that
// parses. Blank lines are ignored.
func Scan[T any](path string, fn func(T)) (Stats, error) {
	var stats Stats
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadBytes('\n')
		terminated := len(line) > 0 && line[len(line)-1] == '\n'
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			stats.Lines++
			var rec T
			if err := json.Unmarshal(trimmed, &rec); err != nil {
				stats.Corrupt++
				if !terminated {
					stats.TornTail = true
				}
			} else {
				stats.Parsed++
				fn(rec)
			}
		}
		if readErr == io.EOF {
			return stats, nil
		}
		if readErr != nil {
			return stats, fmt.Errorf("jsonl: read %s: %w", path, readErr)
		}
	}
}

// Count returns the number of lines in path that parse as T.
func Count[T any](path string) (int, error) {
	stats, err := Scan(path, func(T) {})
	return stats.Parsed, err
}
