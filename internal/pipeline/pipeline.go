// Package pipeline runs one turn through an ordered chain of systems. Each
// system owns one concern; a fault in one is recorded and the rest still
// run, so the user always gets feedback.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/calder-ai/calder/internal/turn"
)

// Canonical system orders.
const (
	OrderInputSanitization = 10
	OrderSkillRouting      = 15
	OrderAutoCompaction    = 18
	OrderContextBuilding   = 20
	OrderDynamicTier       = 25
	OrderToolLoop          = 30
	OrderMemoryPersist     = 50
	OrderRagIndexing       = 55
	OrderPreparation       = 58
	OrderFeedback          = 59
	OrderRouting           = 60
)

// System is one pipeline stage.
type System interface {
	Name() string
	Order() int
	ShouldProcess(tc *turn.Context) bool
	Process(ctx context.Context, tc *turn.Context) error
}

// Pipeline is an ordered, immutable-after-build chain of systems.
type Pipeline struct {
	mu      sync.RWMutex
	systems []System
}

func New() *Pipeline {
	return &Pipeline{}
}

// Add registers a system. Duplicate orders are rejected: two systems at the
// same order would have an undefined relative sequence.
func (p *Pipeline) Add(s System) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.systems {
		if existing.Order() == s.Order() {
			return fmt.Errorf("pipeline order %d already taken by %s", s.Order(), existing.Name())
		}
	}
	p.systems = append(p.systems, s)
	sort.Slice(p.systems, func(i, j int) bool { return p.systems[i].Order() < p.systems[j].Order() })
	return nil
}

// MustAdd registers systems and panics on order conflicts. Used at startup
// wiring where a conflict is a programming error.
func (p *Pipeline) MustAdd(systems ...System) {
	for _, s := range systems {
		if err := p.Add(s); err != nil {
			panic(err)
		}
	}
}

// Run executes the chain. A system error or panic is recorded as a failure
// event and the remaining systems still run.
func (p *Pipeline) Run(ctx context.Context, tc *turn.Context) {
	p.mu.RLock()
	systems := make([]System, len(p.systems))
	copy(systems, p.systems)
	p.mu.RUnlock()

	for _, s := range systems {
		if !s.ShouldProcess(tc) {
			continue
		}
		if err := p.runOne(ctx, s, tc); err != nil {
			slog.Error("pipeline system failed", "system", s.Name(), "session", tc.SessionKey, "error", err)
			tc.RecordFailure(s.Name(), err.Error())
		}
	}
}

func (p *Pipeline) runOne(ctx context.Context, s System, tc *turn.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Process(ctx, tc)
}
