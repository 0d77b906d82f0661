package plan

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/calder-ai/calder/internal/storage"
)

// Store persists plans to plans/{planId}.json with serialized writes per
// plan, and keeps a concurrent-safe cache of loaded plans.
type Store struct {
	mu    sync.RWMutex
	plans map[string]*Plan
	dir   string

	saveMu sync.Mutex
	saving map[string]*sync.Mutex
}

func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "plans")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plans dir: %w", err)
	}
	s := &Store{
		plans:  make(map[string]*Plan),
		dir:    dir,
		saving: make(map[string]*sync.Mutex),
	}
	s.loadAll()
	return s, nil
}

// Get returns a plan by id.
func (s *Store) Get(id string) (*Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	return p, ok
}

// ActiveForSession returns the non-terminal plan for a session, if any.
func (s *Store) ActiveForSession(sessionKey string) (*Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.SessionKey != sessionKey {
			continue
		}
		switch p.Status {
		case StatusCollecting, StatusReady, StatusApproved, StatusExecuting:
			return p, true
		}
	}
	return nil, false
}

// Put stores and persists a plan.
func (s *Store) Put(p *Plan) error {
	s.mu.Lock()
	s.plans[p.ID] = p
	snapshot := *p
	snapshot.Steps = append([]Step(nil), p.Steps...)
	s.mu.Unlock()
	return s.save(&snapshot)
}

// Update applies fn to the plan under the lock, then persists it.
func (s *Store) Update(id string, fn func(*Plan)) error {
	s.mu.Lock()
	p, ok := s.plans[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("plan %s not found", id)
	}
	fn(p)
	snapshot := *p
	snapshot.Steps = append([]Step(nil), p.Steps...)
	s.mu.Unlock()
	return s.save(&snapshot)
}

func (s *Store) save(p *Plan) error {
	s.saveMu.Lock()
	lock, ok := s.saving[p.ID]
	if !ok {
		lock = &sync.Mutex{}
		s.saving[p.ID] = lock
	}
	s.saveMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	path := filepath.Join(s.dir, p.ID+".json")
	if err := storage.SaveJSON(path, p); err != nil {
		return fmt.Errorf("save plan %s: %w", p.ID, err)
	}
	return nil
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
		var p Plan
		if err := storage.LoadJSON(filepath.Join(s.dir, e.Name()), &p); err != nil {
			slog.Warn("skipping corrupt plan file", "file", e.Name(), "error", err)
			continue
		}
		if p.ID == "" {
			continue
		}
		s.plans[p.ID] = &p
	}
}
