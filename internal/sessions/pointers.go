package sessions

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/calder-ai/calder/internal/storage"
)

const pointersVersion = 1

// pointersFile is the on-disk shape of preferences/pointers.json.
type pointersFile struct {
	Version  int               `json:"version"`
	Pointers map[string]string `json:"pointers"` // pointer key -> session key
}

// PointerRegistry remembers which named session each peer is currently
// talking to. A missing entry means the peer uses its default session.
// Pointers survive restarts; they are preferences, not history.
type PointerRegistry struct {
	mu       sync.RWMutex
	pointers map[string]string
	path     string
}

func NewPointerRegistry(dataDir string) (*PointerRegistry, error) {
	path := filepath.Join(dataDir, "preferences", "pointers.json")
	r := &PointerRegistry{
		pointers: make(map[string]string),
		path:     path,
	}

	var f pointersFile
	err := storage.LoadJSON(path, &f)
	switch {
	case os.IsNotExist(err):
		// fresh install
	case err != nil:
		slog.Warn("pointers file unreadable, starting empty", "path", path, "error", err)
	case f.Version != pointersVersion:
		slog.Warn("pointers file has unknown version, starting empty", "version", f.Version)
	default:
		if f.Pointers != nil {
			r.pointers = f.Pointers
		}
	}
	return r, nil
}

// Active returns the session key the peer's pointer targets, or "" when the
// peer has no pointer set.
func (r *PointerRegistry) Active(pointerKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pointers[pointerKey]
}

// SetActive points the peer at sessionKey and persists the registry.
func (r *PointerRegistry) SetActive(pointerKey, sessionKey string) error {
	r.mu.Lock()
	r.pointers[pointerKey] = sessionKey
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	return r.save(snapshot)
}

// Clear removes the peer's pointer, restoring the default session.
func (r *PointerRegistry) Clear(pointerKey string) error {
	r.mu.Lock()
	delete(r.pointers, pointerKey)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	return r.save(snapshot)
}

func (r *PointerRegistry) snapshotLocked() map[string]string {
	out := make(map[string]string, len(r.pointers))
	for k, v := range r.pointers {
		out[k] = v
	}
	return out
}

func (r *PointerRegistry) save(pointers map[string]string) error {
	f := pointersFile{Version: pointersVersion, Pointers: pointers}
	if err := storage.SaveJSON(r.path, &f); err != nil {
		return fmt.Errorf("save pointers: %w", err)
	}
	return nil
}
