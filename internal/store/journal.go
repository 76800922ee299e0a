package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/ledger"
)

type journalEntry struct {
	Event string `json:"event"` // open | close
	ledger.Position
	ExitPrice float64 `json:"exit_price,omitempty"`
	Realized  float64 `json:"realized,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Journal appends position events as JSON lines for later analysis.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJournal creates/opens the target file and returns a journal.
func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{file: file, enc: json.NewEncoder(file)}, nil
}

// SaveOpen writes an open event line.
func (j *Journal) SaveOpen(pos ledger.Position) error {
	return j.write(journalEntry{Event: "open", Position: pos})
}

// SaveClose writes a close event line.
func (j *Journal) SaveClose(cl ledger.Closed) error {
	return j.write(journalEntry{
		Event:     "close",
		Position:  cl.Position,
		ExitPrice: cl.ExitPrice,
		Realized:  cl.Realized,
		Reason:    string(cl.Reason),
	})
}

func (j *Journal) write(entry journalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	return j.enc.Encode(entry)
}

// Close flushes and closes the file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Fanout duplicates ledger writes across several sinks; the first error wins
// but every sink still sees the write.
type Fanout []ledger.Sink

// SaveOpen forwards to every sink.
func (f Fanout) SaveOpen(pos ledger.Position) error {
	var first error
	for _, s := range f {
		if err := s.SaveOpen(pos); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SaveClose forwards to every sink.
func (f Fanout) SaveClose(cl ledger.Closed) error {
	var first error
	for _, s := range f {
		if err := s.SaveClose(cl); err != nil && first == nil {
			first = err
		}
	}
	return first
}
