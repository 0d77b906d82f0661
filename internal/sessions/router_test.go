package sessions

import (
	"strings"
	"testing"

	"github.com/calder-ai/calder/internal/llm"
)

func newTestRouter(t *testing.T) (*Router, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pointers, err := NewPointerRegistry(dir)
	if err != nil {
		t.Fatalf("NewPointerRegistry: %v", err)
	}
	return NewRouter(store, pointers), dir
}

// TestRouter_DefaultResolution verifies a peer with no pointer lands on its
// default session and the channel is stamped.
func TestRouter_DefaultResolution(t *testing.T) {
	r, _ := newTestRouter(t)
	id := Identity{Channel: "telegram", Kind: PeerDirect, ChatID: "386246614"}

	sess := r.Resolve(id)
	if sess.Key != "telegram:direct:386246614" {
		t.Errorf("key = %q", sess.Key)
	}
	if got, _ := r.Store().Get(sess.Key); got.Channel != "telegram" {
		t.Errorf("channel = %q, want telegram", got.Channel)
	}
}

// TestRouter_SwitchAndBack verifies the pointer flow: switch to a named
// session, resolve there, switch back, and find the original history intact.
func TestRouter_SwitchAndBack(t *testing.T) {
	r, _ := newTestRouter(t)
	id := Identity{Channel: "web", Kind: PeerDirect, ChatID: "alice"}

	def := r.Resolve(id)
	r.Store().AppendMessages(def.Key, llm.Message{Role: llm.RoleUser, Content: "in default"})

	named, err := r.Switch(id, "planning")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if named.Key != "web:named:planning" {
		t.Errorf("named key = %q", named.Key)
	}
	if got := r.Resolve(id); got.Key != named.Key {
		t.Errorf("resolve after switch = %q, want %q", got.Key, named.Key)
	}
	r.Store().AppendMessages(named.Key, llm.Message{Role: llm.RoleUser, Content: "in planning"})

	back, err := r.SwitchDefault(id)
	if err != nil {
		t.Fatalf("SwitchDefault: %v", err)
	}
	if back.Key != def.Key {
		t.Errorf("default key = %q, want %q", back.Key, def.Key)
	}
	if hist := r.Store().History(def.Key); len(hist) != 1 || hist[0].Content != "in default" {
		t.Errorf("default history = %+v", hist)
	}
	if hist := r.Store().History(named.Key); len(hist) != 1 || hist[0].Content != "in planning" {
		t.Errorf("named history = %+v", hist)
	}
}

// TestRouter_PointerSurvivesRestart verifies pointers persist to disk and a
// fresh registry resolves the same named session.
func TestRouter_PointerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	pointers, _ := NewPointerRegistry(dir)
	r := NewRouter(store, pointers)
	id := Identity{Channel: "discord", Kind: PeerDirect, ChatID: "bob"}

	if _, err := r.Switch(id, "research"); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	store2, _ := NewStore(dir)
	pointers2, _ := NewPointerRegistry(dir)
	r2 := NewRouter(store2, pointers2)
	if got := r2.Resolve(id); got.Key != "discord:named:research" {
		t.Errorf("resolved %q after restart, want discord:named:research", got.Key)
	}
}

// TestRouter_ResolveBindsDefaultPointer verifies the first resolve writes an
// explicit pointer for the peer rather than leaving it unbound, and the
// binding survives a restart.
func TestRouter_ResolveBindsDefaultPointer(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	pointers, _ := NewPointerRegistry(dir)
	r := NewRouter(store, pointers)
	id := Identity{Channel: "telegram", Kind: PeerDirect, ChatID: "42"}

	sess := r.Resolve(id)
	if got := pointers.Active(id.PointerKey()); got != sess.Key {
		t.Errorf("pointer = %q, want %q", got, sess.Key)
	}

	pointers2, _ := NewPointerRegistry(dir)
	if got := pointers2.Active(id.PointerKey()); got != id.DefaultKey() {
		t.Errorf("pointer after restart = %q, want %q", got, id.DefaultKey())
	}
}

// TestRouter_RepointAfterDelete verifies deleting the active session lands
// the peer on the most recently updated remaining session, and only falls
// back to a fresh default once nothing else is left.
func TestRouter_RepointAfterDelete(t *testing.T) {
	r, _ := newTestRouter(t)
	id := Identity{Channel: "web", Kind: PeerDirect, ChatID: "alice"}

	def := r.Resolve(id)
	r.Store().AppendMessages(def.Key, llm.Message{Role: llm.RoleUser, Content: "in default"})
	research, err := r.Switch(id, "research")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	r.Store().AppendMessages(research.Key, llm.Message{Role: llm.RoleUser, Content: "in research"})
	scratch, err := r.Switch(id, "scratch")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	r.Store().AppendMessages(scratch.Key, llm.Message{Role: llm.RoleUser, Content: "in scratch"})

	if err := r.Store().Delete(scratch.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	next, err := r.Repoint(id)
	if err != nil {
		t.Fatalf("Repoint: %v", err)
	}
	if next.Key != research.Key {
		t.Errorf("repointed to %q, want %q", next.Key, research.Key)
	}
	if got := r.Resolve(id); got.Key != research.Key {
		t.Errorf("resolve after repoint = %q, want %q", got.Key, research.Key)
	}

	if err := r.Store().Delete(research.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Store().Delete(def.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	next, err = r.Repoint(id)
	if err != nil {
		t.Fatalf("Repoint: %v", err)
	}
	if next.Key != def.Key {
		t.Errorf("repoint with nothing left = %q, want fresh default %q", next.Key, def.Key)
	}
}

// TestRouter_PointersIndependentPerPeer verifies one peer's switch does not
// move another peer on the same channel.
func TestRouter_PointersIndependentPerPeer(t *testing.T) {
	r, _ := newTestRouter(t)
	alice := Identity{Channel: "web", Kind: PeerDirect, ChatID: "alice"}
	bob := Identity{Channel: "web", Kind: PeerDirect, ChatID: "bob"}

	if _, err := r.Switch(alice, "ops"); err != nil {
		t.Fatal(err)
	}
	if got := r.Resolve(bob); got.Key != bob.DefaultKey() {
		t.Errorf("bob resolved to %q, want default %q", got.Key, bob.DefaultKey())
	}
}

// TestKeyHelpers exercises the canonical key builders and parser.
func TestKeyHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"direct", Identity{Channel: "telegram", Kind: PeerDirect, ChatID: "7"}.DefaultKey(), "telegram:direct:7"},
		{"group", Identity{Channel: "discord", Kind: PeerGroup, ChatID: "99"}.DefaultKey(), "discord:group:99"},
		{"named", BuildNamedKey("web", "planning"), "web:named:planning"},
		{"hook", BuildHookKey("github", "abc"), "hook:github:abc"},
		{"auto", BuildAutoRunKey("goal-x1", "r7f2"), "auto:goal-x1:run:r7f2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	if ch, rest := ParseKey("telegram:direct:7"); ch != "telegram" || rest != "direct:7" {
		t.Errorf("ParseKey = (%q, %q)", ch, rest)
	}
	if ch, rest := ParseKey("noseparator"); ch != "" || rest != "" {
		t.Errorf("ParseKey on malformed key = (%q, %q), want empty", ch, rest)
	}
	if !IsAutoSession("auto:g:run:r") || IsAutoSession("web:direct:u") {
		t.Error("IsAutoSession misclassified")
	}
}

// TestFileNameForKey verifies traversal sequences never leak into file names.
func TestFileNameForKey(t *testing.T) {
	got := FileNameForKey(`web:direct:../..\evil`)
	for _, bad := range []string{"/", `\`, ".."} {
		if strings.Contains(got, bad) {
			t.Errorf("file name %q still contains %q", got, bad)
		}
	}
	if !strings.HasSuffix(got, ".json") {
		t.Errorf("file name %q missing .json suffix", got)
	}
}
