package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calder-ai/calder/internal/storage"
)

// Store keeps memory items in an in-memory index backed by append-only JSONL
// files. Episodic items partition per UTC day; semantic and procedural items
// each live in a single file. Records are replayed at load; the latest record
// for an id wins, so supersede and archive updates are plain appends.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Item          // id -> latest record
	byFp  map[string]string         // scope + "\x00" + fingerprint -> id
	dir   string

	writeMu sync.Mutex // serializes file appends
	now     func() time.Time
}

func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "memory", "items")
	if err := os.MkdirAll(filepath.Join(dir, "episodic"), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	s := &Store{
		items: make(map[string]*Item),
		byFp:  make(map[string]string),
		dir:   dir,
		now:   time.Now,
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func fpKey(scope, fingerprint string) string { return scope + "\x00" + fingerprint }

// Put stores an item. A fingerprint collision within the same scope updates
// the existing item (refreshing salience and timestamps) instead of creating
// a duplicate. For durable types with a matching title in the same scope,
// the old item is marked superseded.
func (s *Store) Put(item Item) (Item, error) {
	if item.Fingerprint == "" {
		item.Fingerprint = Fingerprint(item.Type, item.Title, item.Content)
	}

	s.mu.Lock()
	if id, ok := s.byFp[fpKey(item.Scope, item.Fingerprint)]; ok {
		existing := *s.items[id]
		existing.UpdatedAt = s.now().UTC()
		if item.Salience > existing.Salience {
			existing.Salience = item.Salience
		}
		s.items[id] = &existing
		s.mu.Unlock()
		return existing, s.append(existing)
	}

	var superseded []Item
	if durableType(item.Type) {
		for _, old := range s.items {
			if old.Scope == item.Scope && old.Status == StatusActive &&
				old.Type == item.Type && old.Title == item.Title && old.ID != item.ID {
				upd := *old
				upd.Status = StatusSuperseded
				upd.SupersededByID = item.ID
				upd.UpdatedAt = s.now().UTC()
				s.items[upd.ID] = &upd
				superseded = append(superseded, upd)
			}
		}
	}

	stored := item
	s.items[stored.ID] = &stored
	s.byFp[fpKey(stored.Scope, stored.Fingerprint)] = stored.ID
	s.mu.Unlock()

	for _, upd := range superseded {
		if err := s.append(upd); err != nil {
			return stored, err
		}
	}
	return stored, s.append(stored)
}

// Get returns an item by id.
func (s *Store) Get(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Archive marks an item archived, excluding it from retrieval.
func (s *Store) Archive(id string) error {
	s.mu.Lock()
	it, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memory item %s not found", id)
	}
	upd := *it
	upd.Status = StatusArchived
	upd.UpdatedAt = s.now().UTC()
	s.items[id] = &upd
	s.mu.Unlock()
	return s.append(upd)
}

// Query bounds one retrieval.
type Query struct {
	Scopes []string // precedence order, first = highest priority
	Tags   []string // any-match filter, empty = all
	Types  []Type   // empty = all
	Limit  int      // 0 = no count cap
}

// Retrieve returns active, unexpired items from the given scopes, ranked.
// Items from earlier scopes in the chain rank above later ones at equal
// score, which realizes task > goal > session > global precedence.
func (s *Store) Retrieve(q Query) []Item {
	now := s.now().UTC()
	scopeRank := make(map[string]int, len(q.Scopes))
	for i, sc := range q.Scopes {
		scopeRank[sc] = i
	}

	s.mu.RLock()
	var out []Item
	for _, it := range s.items {
		if it.Status != StatusActive || it.Layer == LayerWorking {
			continue
		}
		if _, ok := scopeRank[it.Scope]; !ok {
			continue
		}
		if it.Expired(now) {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, it.Type) {
			continue
		}
		if len(q.Tags) > 0 && !anyTag(it.Tags, q.Tags) {
			continue
		}
		out = append(out, *it)
	}
	s.mu.RUnlock()

	rank(out, scopeRank, now)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Touch records retrieval access time for the given items.
func (s *Store) Touch(ids []string) {
	now := s.now().UTC()
	s.mu.Lock()
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			upd := *it
			upd.LastAccessedAt = now
			s.items[id] = &upd
		}
	}
	s.mu.Unlock()
}

func (s *Store) append(item Item) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return storage.AppendJSONL(s.pathFor(item), item)
}

func (s *Store) pathFor(item Item) string {
	switch item.Layer {
	case LayerEpisodic:
		day := item.CreatedAt.UTC().Format("2006-01-02")
		return filepath.Join(s.dir, "episodic", day+".jsonl")
	case LayerProcedural:
		return filepath.Join(s.dir, "procedural.jsonl")
	default:
		return filepath.Join(s.dir, "semantic.jsonl")
	}
}

func (s *Store) loadAll() error {
	paths := []string{
		filepath.Join(s.dir, "semantic.jsonl"),
		filepath.Join(s.dir, "procedural.jsonl"),
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, "episodic"))
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".jsonl" {
				paths = append(paths, filepath.Join(s.dir, "episodic", e.Name()))
			}
		}
	}

	n := 0
	for _, p := range paths {
		err := storage.ReadJSONL(p, func(line []byte) error {
			var it Item
			if err := json.Unmarshal(line, &it); err != nil {
				slog.Warn("skipping corrupt memory record", "file", p, "error", err)
				return nil
			}
			if it.ID == "" {
				return nil
			}
			s.items[it.ID] = &it
			n++
			return nil
		})
		if err != nil {
			return fmt.Errorf("load memory %s: %w", p, err)
		}
	}

	// Rebuild the fingerprint index from the winning records only.
	for _, it := range s.items {
		if it.Status == StatusActive {
			s.byFp[fpKey(it.Scope, it.Fingerprint)] = it.ID
		}
	}
	slog.Info("memory loaded", "records", n, "items", len(s.items))
	return nil
}

func containsType(types []Type, t Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
