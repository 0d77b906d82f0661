// Package memory implements layered structured memory: working notes for
// the current task, episodic records per day, and durable semantic and
// procedural items, all scoped so retrieval never crosses conversations.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Layer identifies where an item lives and how long it survives.
type Layer string

const (
	LayerWorking    Layer = "working"    // in-process only, cleared per task
	LayerEpisodic   Layer = "episodic"   // day-partitioned turn records
	LayerSemantic   Layer = "semantic"   // durable facts and preferences
	LayerProcedural Layer = "procedural" // durable how-to knowledge
)

// Type classifies what an item records.
type Type string

const (
	TypeDecision      Type = "decision"
	TypeConstraint    Type = "constraint"
	TypeFailure       Type = "failure"
	TypeFix           Type = "fix"
	TypePreference    Type = "preference"
	TypeProjectFact   Type = "project_fact"
	TypeTaskState     Type = "task_state"
	TypeCommandResult Type = "command_result"
)

// Status of an item in its layer.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusArchived   Status = "archived"
)

// Item is one structured memory record.
type Item struct {
	ID             string    `json:"id"`
	Layer          Layer     `json:"layer"`
	Type           Type      `json:"type"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Tags           []string  `json:"tags,omitempty"`
	Scope          string    `json:"scope"`
	Source         string    `json:"source,omitempty"`
	Confidence     float64   `json:"confidence"`
	Salience       float64   `json:"salience"`
	TTLDays        int       `json:"ttl_days,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at,omitzero"`
	References     []string  `json:"references,omitempty"`
	Fingerprint    string    `json:"fingerprint"`
	Status         Status    `json:"status"`
	SupersededByID string    `json:"superseded_by_id,omitempty"`
}

// Scope constructors. Retrieval walks a chain of scopes but never crosses
// session identities. Goal scope is keyed by the goal id alone: every run
// of a goal gets a fresh session key, and insights must carry across runs.
func ScopeGlobal() string                   { return "global" }
func ScopeSession(sessionKey string) string { return "session:" + sessionKey }
func ScopeGoal(goalID string) string        { return "goal:" + goalID }
func ScopeTask(taskID string) string        { return "task:" + taskID }

// Fingerprint derives the dedupe key for an item's content within a scope.
// Whitespace runs and case do not change identity.
func Fingerprint(itemType Type, title, content string) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	h := sha256.Sum256([]byte(string(itemType) + "\x00" + norm(title) + "\x00" + norm(content)))
	return hex.EncodeToString(h[:16])
}

// NewItem builds an item with id, timestamps, and fingerprint filled in.
func NewItem(layer Layer, itemType Type, title, content, scope string) Item {
	now := time.Now().UTC()
	return Item{
		ID:          uuid.NewString(),
		Layer:       layer,
		Type:        itemType,
		Title:       title,
		Content:     content,
		Scope:       scope,
		Confidence:  0.7,
		Salience:    0.5,
		CreatedAt:   now,
		UpdatedAt:   now,
		Fingerprint: Fingerprint(itemType, title, content),
		Status:      StatusActive,
	}
}

// Expired reports whether the item's TTL has passed.
func (it Item) Expired(now time.Time) bool {
	if it.TTLDays <= 0 {
		return false
	}
	return now.After(it.CreatedAt.AddDate(0, 0, it.TTLDays))
}

// durable types participate in contradiction/supersede detection.
func durableType(t Type) bool {
	switch t {
	case TypePreference, TypeProjectFact, TypeConstraint, TypeDecision:
		return true
	}
	return false
}
