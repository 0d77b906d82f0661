// Package sessions owns conversation identity: session keys, the session
// store, and the active-pointer registry that lets one peer switch between
// named conversations.
//
// Session keys follow the canonical format {channel}:{rest}:
//
//	DM:     {channel}:direct:{peerId}
//	Group:  {channel}:group:{groupId}
//	Named:  {channel}:named:{label}
//	Hook:   hook:{name}:{id}
//	Auto:   auto:{goalId}:run:{runId}
//
// Examples:
//
//	telegram:direct:386246614
//	discord:group:99812
//	web:named:planning
//	auto:goal-x1:run:r7f2
package sessions

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// Identity names one peer on one channel, before session resolution.
type Identity struct {
	Channel string
	Kind    PeerKind
	ChatID  string
}

// DefaultKey is the session key used when no active pointer overrides it.
func (id Identity) DefaultKey() string {
	return fmt.Sprintf("%s:%s:%s", id.Channel, id.Kind, id.ChatID)
}

// PointerKey identifies this peer in the active-pointer registry. Distinct
// peers on the same channel keep independent pointers.
func (id Identity) PointerKey() string {
	return fmt.Sprintf("%s:%s", id.Channel, id.ChatID)
}

// BuildNamedKey builds the key for a user-named conversation.
func BuildNamedKey(channel, label string) string {
	return fmt.Sprintf("%s:named:%s", channel, label)
}

// BuildHookKey builds the key for a webhook-initiated session.
func BuildHookKey(name, id string) string {
	return fmt.Sprintf("hook:%s:%s", name, id)
}

// BuildAutoRunKey builds the key for an autonomous goal run. Each run gets
// a fresh session so goal work never bleeds into user conversations.
func BuildAutoRunKey(goalID, runID string) string {
	return fmt.Sprintf("auto:%s:run:%s", goalID, runID)
}

// NewRunID returns a short unique id for scheduler runs and hook sessions.
func NewRunID() string {
	id, err := gonanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 10)
	if err != nil {
		// gonanoid only fails when the OS random source does.
		panic(fmt.Sprintf("nanoid: %v", err))
	}
	return id
}

// ParseKey splits a session key into channel and rest.
// Returns ("", "") if the key is not in the expected format.
func ParseKey(key string) (channel, rest string) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", ""
	}
	return parts[0], parts[1]
}

// IsAutoSession reports whether the key belongs to a scheduler run.
func IsAutoSession(key string) bool {
	return strings.HasPrefix(key, "auto:")
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}

// FileNameForKey maps a session key to its on-disk file name. Colons are
// kept when the filesystem allows them; the store replaces them on Windows.
func FileNameForKey(key string) string {
	return sanitizeFilename(key) + ".json"
}

func sanitizeFilename(key string) string {
	repl := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return repl.Replace(key)
}
