package llm

import (
	"context"
	"errors"
	"testing"
)

// fakeProvider satisfies Provider for routing tests; Chat is never called.
type fakeProvider struct {
	name         string
	defaultModel string
}

func (f *fakeProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) ChatStream(context.Context, ChatRequest, func(StreamChunk)) (*ChatResponse, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) SupportsToolMessages() bool { return true }
func (f *fakeProvider) DefaultModel() string       { return f.defaultModel }
func (f *fakeProvider) Name() string               { return f.name }

func newTestRouter() *Router {
	r := NewRouter(map[Tier]ModelSpec{
		TierBalanced: {Provider: "openai", Model: "gpt-4o-mini"},
		TierSmart:    {Provider: "openai", Model: "gpt-4o"},
		TierDeep:     {Provider: "openai", Model: "o1", ReasoningEffort: "high"},
	})
	r.RegisterProvider(&fakeProvider{name: "openai", defaultModel: "gpt-4o"})
	return r
}

// TestResolve_Precedence verifies user model > skill tier > requested tier.
func TestResolve_Precedence(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name      string
		tier      Tier
		skillTier Tier
		userModel string
		wantModel string
	}{
		{"tier only", TierSmart, "", "", "gpt-4o"},
		{"skill overrides tier", TierBalanced, TierDeep, "", "o1"},
		{"user overrides everything", TierBalanced, TierDeep, "my-custom-model", "my-custom-model"},
		{"unknown tier falls back to balanced", Tier("nonsense"), "", "", "gpt-4o-mini"},
		{"invalid skill tier ignored", TierSmart, Tier("bogus"), "", "gpt-4o"},
		{"empty tier defaults to balanced", "", "", "", "gpt-4o-mini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := r.Resolve(tt.tier, tt.skillTier, tt.userModel)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if sel.Model != tt.wantModel {
				t.Errorf("model = %q, want %q", sel.Model, tt.wantModel)
			}
		})
	}
}

// TestResolve_ReasoningEffortCarried verifies the tier's reasoning effort
// lands on the selection.
func TestResolve_ReasoningEffortCarried(t *testing.T) {
	r := newTestRouter()
	sel, err := r.Resolve(TierDeep, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if sel.ReasoningEffort != "high" {
		t.Errorf("reasoning effort = %q, want high", sel.ReasoningEffort)
	}
}

// TestResolve_UnknownTierProvider verifies a tier naming an unregistered
// provider falls back to the first registered one.
func TestResolve_UnknownTierProvider(t *testing.T) {
	r := NewRouter(map[Tier]ModelSpec{
		TierBalanced: {Provider: "anthropic", Model: "claude"},
	})
	r.RegisterProvider(&fakeProvider{name: "openai", defaultModel: "gpt-4o"})

	sel, err := r.Resolve(TierBalanced, "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sel.Provider.Name() != "openai" {
		t.Errorf("provider = %q, want fallback openai", sel.Provider.Name())
	}
	if sel.Model != "claude" {
		t.Errorf("model = %q, tier model should survive the provider fallback", sel.Model)
	}
}

// TestResolve_NoProviders verifies resolution fails cleanly with nothing
// registered.
func TestResolve_NoProviders(t *testing.T) {
	r := NewRouter(nil)
	if _, err := r.Resolve(TierBalanced, "", ""); err == nil {
		t.Error("expected an error with no providers registered")
	}
}

// TestResolve_EmptyTierTable verifies the provider default model is used
// when no tier table exists.
func TestResolve_EmptyTierTable(t *testing.T) {
	r := NewRouter(nil)
	r.RegisterProvider(&fakeProvider{name: "openai", defaultModel: "gpt-4o"})
	sel, err := r.Resolve(TierBalanced, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Model != "gpt-4o" {
		t.Errorf("model = %q, want provider default", sel.Model)
	}
}

// TestErrorClassification verifies retry decisions ride on error kind.
func TestErrorClassification(t *testing.T) {
	transient := &Error{Provider: "openai", Kind: KindTransient, StatusCode: 502, Err: errors.New("bad gateway")}
	rate := &Error{Provider: "openai", Kind: KindRateLimit, StatusCode: 429, Err: errors.New("slow down")}
	perm := &Error{Provider: "openai", Kind: KindPermanent, StatusCode: 400, Err: errors.New("bad schema")}

	if !Retryable(transient) {
		t.Error("transient must be retryable")
	}
	if Retryable(rate) {
		t.Error("rate limit must not be retried within the turn")
	}
	if !IsRateLimit(rate) {
		t.Error("IsRateLimit missed a 429")
	}
	if Retryable(perm) || !IsPermanent(perm) {
		t.Error("permanent misclassified")
	}
	if !Retryable(context.DeadlineExceeded) {
		t.Error("bare deadline errors must be retryable")
	}
	if got := classifyStatus(503); got != KindTransient {
		t.Errorf("classifyStatus(503) = %q", got)
	}
	if got := classifyStatus(429); got != KindRateLimit {
		t.Errorf("classifyStatus(429) = %q", got)
	}
	if got := classifyStatus(404); got != KindPermanent {
		t.Errorf("classifyStatus(404) = %q", got)
	}
}
