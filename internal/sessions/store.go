package sessions

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/storage"
)

// Session stores conversation history and metadata for one session key.
type Session struct {
	Key      string        `json:"key"`
	Messages []llm.Message `json:"messages"`
	Summary  string        `json:"summary,omitempty"`
	Created  time.Time     `json:"created"`
	Updated  time.Time     `json:"updated"`

	Model    string `json:"model,omitempty"` // model used on the last completed turn
	Provider string `json:"provider,omitempty"`
	Channel  string `json:"channel,omitempty"`

	InputTokens     int64 `json:"input_tokens,omitempty"`
	OutputTokens    int64 `json:"output_tokens,omitempty"`
	CompactionCount int   `json:"compaction_count,omitempty"`

	PlanID   string `json:"plan_id,omitempty"`   // active plan, if plan mode engaged
	PlanMode bool   `json:"plan_mode,omitempty"` // collecting or executing a plan
	Label    string `json:"label,omitempty"`
}

// SessionInfo is a lightweight descriptor for listing.
type SessionInfo struct {
	Key          string    `json:"key"`
	Label        string    `json:"label,omitempty"`
	MessageCount int       `json:"message_count"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// Store keeps sessions in memory and persists each to its own JSON file
// under {root}/sessions/. Writes for one key are serialized; different keys
// save concurrently.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dir      string

	saveMu sync.Mutex
	saving map[string]*sync.Mutex
}

func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	s := &Store{
		sessions: make(map[string]*Session),
		dir:      dir,
		saving:   make(map[string]*sync.Mutex),
	}
	s.loadAll()
	return s, nil
}

// GetOrCreate returns an existing session or creates an empty one.
func (s *Store) GetOrCreate(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess
	}
	now := time.Now()
	sess := &Session{Key: key, Messages: []llm.Message{}, Created: now, Updated: now}
	s.sessions[key] = sess
	return sess
}

// Get returns a session without creating it.
func (s *Store) Get(key string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// AppendMessages adds messages to a session's history.
func (s *Store) AppendMessages(key string, msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		now := time.Now()
		sess = &Session{Key: key, Messages: []llm.Message{}, Created: now}
		s.sessions[key] = sess
	}
	sess.Messages = append(sess.Messages, msgs...)
	sess.Updated = time.Now()
}

// History returns a copy of the message history.
func (s *Store) History(key string) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	out := make([]llm.Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// ReplaceHistory swaps the full history, used by compaction.
func (s *Store) ReplaceHistory(key string, msgs []llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return
	}
	sess.Messages = msgs
	sess.Updated = time.Now()
}

// Update applies fn to the session under the write lock.
func (s *Store) Update(key string, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		fn(sess)
		sess.Updated = time.Now()
	}
}

// Reset clears history and summary but keeps the session file.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		sess.Messages = []llm.Message{}
		sess.Summary = ""
		sess.CompactionCount = 0
		sess.Updated = time.Now()
	}
}

// Delete removes a session and its file.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()

	path := filepath.Join(s.dir, FileNameForKey(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// List returns descriptors for all sessions, optionally filtered by channel.
func (s *Store) List(channel string) []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SessionInfo
	prefix := ""
	if channel != "" {
		prefix = channel + ":"
	}
	for key, sess := range s.sessions {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, SessionInfo{
			Key:          key,
			Label:        sess.Label,
			MessageCount: len(sess.Messages),
			Created:      sess.Created,
			Updated:      sess.Updated,
		})
	}
	return out
}

// Save persists one session atomically. Concurrent saves of the same key
// are serialized so a slow write never gets clobbered by a stale one.
func (s *Store) Save(key string) error {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	snapshot := *sess
	snapshot.Messages = make([]llm.Message, len(sess.Messages))
	copy(snapshot.Messages, sess.Messages)
	s.mu.RUnlock()

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.dir, FileNameForKey(key))
	if err := storage.SaveJSON(path, &snapshot); err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	lock, ok := s.saving[key]
	if !ok {
		lock = &sync.Mutex{}
		s.saving[key] = lock
	}
	return lock
}

func (s *Store) loadAll() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var sess Session
		if err := storage.LoadJSON(filepath.Join(s.dir, e.Name()), &sess); err != nil {
			slog.Warn("skipping corrupt session file", "file", e.Name(), "error", err)
			continue
		}
		if sess.Key == "" {
			continue
		}
		s.sessions[sess.Key] = &sess
	}
	slog.Info("sessions loaded", "count", len(s.sessions))
}
