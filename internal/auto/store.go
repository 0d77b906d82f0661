package auto

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/calder-ai/calder/internal/storage"
)

// Store persists auto-mode state under {root}/auto/: state.json for the
// enable switch, goals.json for all goals with embedded tasks, and
// diary/YYYY-MM-DD.jsonl for the work log.
type Store struct {
	mu    sync.RWMutex
	state State
	goals []Goal
	dir   string
}

func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "auto")
	if err := os.MkdirAll(filepath.Join(dir, "diary"), 0o755); err != nil {
		return nil, fmt.Errorf("create auto dir: %w", err)
	}
	s := &Store{dir: dir}

	if err := storage.LoadJSON(filepath.Join(dir, "state.json"), &s.state); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load auto state: %w", err)
	}
	if err := storage.LoadJSON(filepath.Join(dir, "goals.json"), &s.goals); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load goals: %w", err)
	}
	return s, nil
}

// Enabled reports the auto-mode switch.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Enabled
}

// NotifyTarget returns the registered milestone channel, if any.
func (s *Store) NotifyTarget() *NotifyTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Notify == nil {
		return nil
	}
	t := *s.state.Notify
	return &t
}

// SetEnabled flips the switch and records the notify target on enable.
func (s *Store) SetEnabled(enabled bool, notify *NotifyTarget) error {
	s.mu.Lock()
	s.state.Enabled = enabled
	if notify != nil {
		s.state.Notify = notify
	}
	snapshot := s.state
	s.mu.Unlock()
	return storage.SaveJSON(filepath.Join(s.dir, "state.json"), &snapshot)
}

// Goals returns active goals ordered oldest first.
func (s *Store) Goals() []Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Goal, len(s.goals))
	copy(out, s.goals)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Goal returns one goal by id.
func (s *Store) Goal(id string) (Goal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}

// AddGoal stores a new goal.
func (s *Store) AddGoal(g Goal) error {
	s.mu.Lock()
	s.goals = append(s.goals, g)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return s.saveGoals(snapshot)
}

// UpdateGoal applies fn to the goal and persists.
func (s *Store) UpdateGoal(id string, fn func(*Goal)) error {
	s.mu.Lock()
	found := false
	for i := range s.goals {
		if s.goals[i].ID == id {
			fn(&s.goals[i])
			s.goals[i].Updated = time.Now().UTC()
			found = true
			break
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("goal %s not found", id)
	}
	return s.saveGoals(snapshot)
}

// UpdateTask applies fn to one task and persists.
func (s *Store) UpdateTask(goalID, taskID string, fn func(*Task)) error {
	return s.UpdateGoal(goalID, func(g *Goal) {
		for i := range g.Tasks {
			if g.Tasks[i].ID == taskID {
				fn(&g.Tasks[i])
				return
			}
		}
	})
}

func (s *Store) snapshotLocked() []Goal {
	out := make([]Goal, len(s.goals))
	copy(out, s.goals)
	return out
}

func (s *Store) saveGoals(goals []Goal) error {
	return storage.SaveJSON(filepath.Join(s.dir, "goals.json"), goals)
}

// AppendDiary writes one entry to the current day's log.
func (s *Store) AppendDiary(e DiaryEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	day := e.At.UTC().Format("2006-01-02")
	return storage.AppendJSONL(filepath.Join(s.dir, "diary", day+".jsonl"), e)
}

// RecentDiary returns up to limit entries from the last n days, newest last.
func (s *Store) RecentDiary(days, limit int) []DiaryEntry {
	var out []DiaryEntry
	now := time.Now().UTC()
	for d := days - 1; d >= 0; d-- {
		day := now.AddDate(0, 0, -d).Format("2006-01-02")
		path := filepath.Join(s.dir, "diary", day+".jsonl")
		storage.ReadJSONL(path, func(line []byte) error {
			var e DiaryEntry
			if err := json.Unmarshal(line, &e); err == nil {
				out = append(out, e)
			}
			return nil
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
