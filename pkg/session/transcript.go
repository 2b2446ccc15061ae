package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/tether/internal/fileutil"
)

// Exchange kinds.
const (
	KindSend = "send"
	KindSync = "sync"
	KindExec = "exec"
)

// Exchange is one recorded round-trip with a daemon. Input and Output are
// already redacted.
type Exchange struct {
	Kind     string        `json:"kind"`
	Input    string        `json:"input,omitempty"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
}

// Transcript provides exchange history and state for a session.
type Transcript interface {
	// ID returns the session identifier.
	ID() string

	// History returns recorded exchanges, oldest first.
	History() []Exchange

	// Record appends an exchange.
	Record(ex Exchange)

	// GetState retrieves stored state.
	GetState(key string) (any, bool)

	// SetState stores state.
	SetState(key string, value any)

	// State returns a copy of all stored state.
	State() map[string]any

	// Clear removes all history.
	Clear()

	// Save persists the transcript.
	Save() error

	// Load restores the transcript.
	Load() error
}

// MemoryTranscript implements Transcript with in-memory storage.
type MemoryTranscript struct {
	mu        sync.RWMutex
	id        string
	exchanges []Exchange
	state     map[string]any
	created   time.Time
}

// NewMemoryTranscript creates a new in-memory transcript.
func NewMemoryTranscript(id string) *MemoryTranscript {
	return &MemoryTranscript{
		id:        id,
		exchanges: make([]Exchange, 0),
		state:     make(map[string]any),
		created:   time.Now(),
	}
}

func (t *MemoryTranscript) ID() string {
	return t.id
}

func (t *MemoryTranscript) History() []Exchange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Exchange, len(t.exchanges))
	copy(result, t.exchanges)
	return result
}

func (t *MemoryTranscript) Record(ex Exchange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchanges = append(t.exchanges, ex)
}

func (t *MemoryTranscript) GetState(key string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.state[key]
	return v, ok
}

func (t *MemoryTranscript) SetState(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state[key] = value
}

func (t *MemoryTranscript) State() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]any, len(t.state))
	for k, v := range t.state {
		out[k] = v
	}
	return out
}

func (t *MemoryTranscript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchanges = make([]Exchange, 0)
}

// Save is a no-op for memory transcripts.
func (t *MemoryTranscript) Save() error {
	return nil
}

// Load is a no-op for memory transcripts.
func (t *MemoryTranscript) Load() error {
	return nil
}

// FileTranscript persists a MemoryTranscript as JSON.
type FileTranscript struct {
	MemoryTranscript
	path string
}

// NewFileTranscript creates a file-backed transcript in dir, loading any
// transcript previously saved for id.
func NewFileTranscript(id, dir string) (*FileTranscript, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	t := &FileTranscript{
		MemoryTranscript: MemoryTranscript{
			id:        id,
			exchanges: make([]Exchange, 0),
			state:     make(map[string]any),
			created:   time.Now(),
		},
		path: TranscriptPath(dir, id),
	}

	if err := t.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return t, nil
}

// TranscriptPath returns the file a transcript for id is stored in.
func TranscriptPath(dir, id string) string {
	return filepath.Join(dir, fileutil.SafeName(id)+".json")
}

// Path returns the backing file.
func (t *FileTranscript) Path() string {
	return t.path
}

// transcriptData is the persisted transcript format.
type transcriptData struct {
	ID        string         `json:"id"`
	Exchanges []Exchange     `json:"exchanges"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Save persists the transcript to disk.
func (t *FileTranscript) Save() error {
	t.mu.RLock()
	data := transcriptData{
		ID:        t.id,
		Exchanges: t.exchanges,
		State:     t.state,
		CreatedAt: t.created,
		UpdatedAt: time.Now(),
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	t.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	return fileutil.WriteFileAtomic(t.path, jsonData, 0600)
}

// Load restores the transcript from disk.
func (t *FileTranscript) Load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return err
	}

	var td transcriptData
	if err := json.Unmarshal(data, &td); err != nil {
		return fmt.Errorf("parse transcript %s: %w", t.path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if td.Exchanges == nil {
		td.Exchanges = make([]Exchange, 0)
	}
	if td.State == nil {
		td.State = make(map[string]any)
	}
	t.exchanges = td.Exchanges
	t.state = td.State
	if !td.CreatedAt.IsZero() {
		t.created = td.CreatedAt
	}
	return nil
}
