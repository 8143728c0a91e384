// Package feedback provides a simple feedback storage layer for the koemi
// closed beta. Feedback is stored as append-only JSON lines in a local file,
// suitable for a small number of beta testers.
//
// For production use, this should be replaced with a PostgreSQL-backed
// implementation.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is a single feedback entry written to the file store.
// The rating fields are 1–5 scores; zero means the tester skipped that
// question.
type Record struct {
	Timestamp      time.Time `json:"timestamp"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	ResponseSpeed  int       `json:"response_speed"`
	Personality    int       `json:"personality"`
	MemoryAccuracy int       `json:"memory_accuracy"`
	VoiceQuality   int       `json:"voice_quality"`
	Comments       string    `json:"comments,omitempty"`
}

// FileStore persists feedback as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created if it does not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends a feedback record to the file. A zero Timestamp is filled in
// with the current time.
func (fs *FileStore) Save(rec Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}
