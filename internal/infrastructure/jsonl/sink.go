// Package jsonl records published book updates as newline-delimited JSON so
// a session can be inspected or diffed offline.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

var ErrClosed = errors.New("jsonl sink is closed")

const bufferSize = 64 << 10

// Sink appends one update per line to a single file.
type Sink struct {
	path string

	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// New creates the file and its directories up front so a bad path fails at
// startup rather than on the first update.
func New(path string) (*Sink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("jsonl path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create jsonl dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	buf := bufio.NewWriterSize(f, bufferSize)
	return &Sink{path: path, f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *Sink) Name() string {
	return "jsonl"
}

// Publish writes the update and flushes it, so tailers only ever see whole
// lines.
func (s *Sink) Publish(ctx context.Context, update *marketdata.BookUpdate) error {
	if update == nil {
		return errors.New("jsonl: nil update")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := s.enc.Encode(update); err != nil {
		return fmt.Errorf("encode update %s: %w", update.ID, err)
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and syncs the file. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := errors.Join(s.buf.Flush(), s.f.Sync(), s.f.Close())
	s.f, s.buf, s.enc = nil, nil, nil
	return err
}
