package llm

import (
	"fmt"
	"log/slog"
	"sync"
)

// Tier is a named model capability bucket.
type Tier string

const (
	TierBalanced Tier = "balanced"
	TierSmart    Tier = "smart"
	TierCoding   Tier = "coding"
	TierDeep     Tier = "deep"
)

// ValidTier reports whether t is a known tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierBalanced, TierSmart, TierCoding, TierDeep:
		return true
	}
	return false
}

// ModelSpec binds a tier to a concrete provider model and reasoning effort.
type ModelSpec struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

// Selection is the result of routing a turn to a model.
type Selection struct {
	Provider        Provider
	Model           string
	ReasoningEffort string
}

// Router resolves (tier, skill override, user override) to a model selection.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	tiers     map[Tier]ModelSpec
	fallback  string // provider name used when a tier names an unknown provider
}

// NewRouter creates a router over the given tier table.
func NewRouter(tiers map[Tier]ModelSpec) *Router {
	if tiers == nil {
		tiers = map[Tier]ModelSpec{}
	}
	return &Router{
		providers: make(map[string]Provider),
		tiers:     tiers,
	}
}

// RegisterProvider adds a provider backend. The first registered provider
// becomes the fallback.
func (r *Router) RegisterProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.providers) == 0 {
		r.fallback = p.Name()
	}
	r.providers[p.Name()] = p
}

// Provider returns a registered provider by name.
func (r *Router) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Resolve picks the model for a turn. Precedence: explicit user model
// override, then skill tier override, then the requested tier, then balanced.
func (r *Router) Resolve(tier Tier, skillTier Tier, userModel string) (Selection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if userModel != "" {
		p, err := r.anyProvider()
		if err != nil {
			return Selection{}, err
		}
		return Selection{Provider: p, Model: userModel}, nil
	}

	effective := tier
	if skillTier != "" && ValidTier(skillTier) {
		effective = skillTier
	}
	if !ValidTier(effective) {
		effective = TierBalanced
	}

	spec, ok := r.tiers[effective]
	if !ok {
		spec, ok = r.tiers[TierBalanced]
	}
	if !ok {
		// No tier table at all: fall back to the default model of any provider.
		p, err := r.anyProvider()
		if err != nil {
			return Selection{}, err
		}
		return Selection{Provider: p, Model: p.DefaultModel()}, nil
	}

	p, ok := r.providers[spec.Provider]
	if !ok {
		var err error
		p, err = r.anyProvider()
		if err != nil {
			return Selection{}, err
		}
		slog.Warn("tier provider not registered, using fallback",
			"tier", effective, "wanted", spec.Provider, "using", p.Name())
	}

	model := spec.Model
	if model == "" {
		model = p.DefaultModel()
	}
	return Selection{Provider: p, Model: model, ReasoningEffort: spec.ReasoningEffort}, nil
}

func (r *Router) anyProvider() (Provider, error) {
	if p, ok := r.providers[r.fallback]; ok {
		return p, nil
	}
	for _, p := range r.providers {
		return p, nil
	}
	return nil, fmt.Errorf("no llm providers registered")
}
