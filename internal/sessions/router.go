package sessions

import (
	"log/slog"
	"strings"
	"time"
)

// Router resolves an inbound identity to the session key the turn should
// run against: the peer's active pointer when set, the default key otherwise.
type Router struct {
	store    *Store
	pointers *PointerRegistry
}

func NewRouter(store *Store, pointers *PointerRegistry) *Router {
	return &Router{store: store, pointers: pointers}
}

// Resolve returns the session for this identity, creating it if needed. A
// peer seen for the first time gets its pointer bound to the default key so
// later repoints and lookups always find an explicit binding.
func (r *Router) Resolve(id Identity) *Session {
	key := r.pointers.Active(id.PointerKey())
	if key == "" {
		key = id.DefaultKey()
		if err := r.pointers.SetActive(id.PointerKey(), key); err != nil {
			slog.Warn("pointer bind failed", "peer", id.PointerKey(), "error", err)
		}
	}
	sess := r.store.GetOrCreate(key)
	if sess.Channel == "" {
		r.store.Update(key, func(s *Session) { s.Channel = id.Channel })
	}
	return sess
}

// Switch points the peer at a named session and returns it. The target is
// created on first use; switching back later finds the history intact.
func (r *Router) Switch(id Identity, label string) (*Session, error) {
	key := BuildNamedKey(id.Channel, label)
	if err := r.pointers.SetActive(id.PointerKey(), key); err != nil {
		return nil, err
	}
	return r.store.GetOrCreate(key), nil
}

// SwitchDefault clears the peer's pointer and returns the default session.
func (r *Router) SwitchDefault(id Identity) (*Session, error) {
	if err := r.pointers.Clear(id.PointerKey()); err != nil {
		return nil, err
	}
	return r.store.GetOrCreate(id.DefaultKey()), nil
}

// Repoint aims the peer at its most recently updated surviving session on
// the channel, either the default or a named one. Used after a delete so the
// peer lands somewhere with history instead of always snapping to default.
// With nothing left it falls back to a fresh default session.
func (r *Router) Repoint(id Identity) (*Session, error) {
	namedPrefix := id.Channel + ":named:"
	defaultKey := id.DefaultKey()

	var bestKey string
	var bestAt time.Time
	for _, info := range r.store.List(id.Channel) {
		if info.Key != defaultKey && !strings.HasPrefix(info.Key, namedPrefix) {
			continue
		}
		if bestKey == "" || info.Updated.After(bestAt) {
			bestKey, bestAt = info.Key, info.Updated
		}
	}
	if bestKey == "" {
		bestKey = defaultKey
	}
	if err := r.pointers.SetActive(id.PointerKey(), bestKey); err != nil {
		return nil, err
	}
	return r.store.GetOrCreate(bestKey), nil
}

// Store exposes the underlying session store.
func (r *Router) Store() *Store { return r.store }
