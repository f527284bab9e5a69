// Package journal keeps a file-backed record of two-phase operations that
// stopped after the approval was confirmed, or whose approval was broadcast
// with an unknown outcome.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Entry struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Operation    string    `json:"operation"`
	Identity     string    `json:"identity"`
	Spender      string    `json:"spender"`
	Amount       string    `json:"amount,omitempty"`
	ApprovalHash string    `json:"approval_hash"`
	ActionHash   string    `json:"action_hash,omitempty"`
	Stage        string    `json:"stage"`
	Error        string    `json:"error"`
	Resolved     bool      `json:"resolved"`
}

type state struct {
	Entries []Entry `json:"entries"`
}

type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string {
	return s.path
}

// Append adds e and returns the stored copy with ID and Time filled in.
func (s *Store) Append(e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	if e.Time.IsZero() {
		e.Time = s.now().UTC()
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("%d-%d", e.Time.UnixNano(), len(st.Entries)+1)
	}
	st.Entries = append(st.Entries, e)
	if err := s.save(st); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// List returns entries in insertion order. Resolved entries are skipped
// unless all is set.
func (s *Store) List(all bool) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(st.Entries))
	for _, e := range st.Entries {
		if e.Resolved && !all {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

var ErrNotFound = errors.New("journal entry not found")

func (s *Store) Resolve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return err
	}
	for i := range st.Entries {
		if st.Entries[i].ID == id {
			st.Entries[i].Resolved = true
			return s.save(st)
		}
	}
	return ErrNotFound
}

func (s *Store) load() (state, error) {
	var st state
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("journal %s: %w", s.path, err)
	}
	return st, nil
}

func (s *Store) save(st state) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("journal rename: %w", err)
	}
	return nil
}
