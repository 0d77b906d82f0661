package sessions

import (
	"testing"

	"github.com/calder-ai/calder/internal/llm"
)

// TestStore_SaveReload verifies a session written to disk loads back with
// history and metadata intact in a fresh store.
func TestStore_SaveReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	key := "telegram:direct:386246614"
	store.GetOrCreate(key)
	store.AppendMessages(key,
		llm.Message{Role: llm.RoleUser, Content: "remember the milk"},
		llm.Message{Role: llm.RoleAssistant, Content: "noted"},
	)
	store.Update(key, func(s *Session) {
		s.Model = "gpt-4o"
		s.Channel = "telegram"
		s.InputTokens = 120
	})
	if err := store.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	sess, ok := reloaded.Get(key)
	if !ok {
		t.Fatal("session missing after reload")
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Content != "remember the milk" {
		t.Errorf("first message = %q", sess.Messages[0].Content)
	}
	if sess.Model != "gpt-4o" || sess.Channel != "telegram" || sess.InputTokens != 120 {
		t.Errorf("metadata lost: %+v", sess)
	}
}

// TestStore_HistoryIsCopy verifies mutating the returned history does not
// affect the stored session.
func TestStore_HistoryIsCopy(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	key := "web:direct:u1"
	store.AppendMessages(key, llm.Message{Role: llm.RoleUser, Content: "original"})

	hist := store.History(key)
	hist[0].Content = "mutated"

	if store.History(key)[0].Content != "original" {
		t.Error("stored history was mutated through the returned copy")
	}
}

// TestStore_ResetKeepsSession verifies Reset clears history and summary but
// the key stays resolvable.
func TestStore_ResetKeepsSession(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	key := "discord:group:99812"
	store.AppendMessages(key, llm.Message{Role: llm.RoleUser, Content: "x"})
	store.Update(key, func(s *Session) {
		s.Summary = "old summary"
		s.CompactionCount = 2
	})

	store.Reset(key)

	sess, ok := store.Get(key)
	if !ok {
		t.Fatal("session gone after reset")
	}
	if len(sess.Messages) != 0 || sess.Summary != "" || sess.CompactionCount != 0 {
		t.Errorf("reset left state behind: %+v", sess)
	}
}

func TestStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	key := "web:direct:gone"
	store.GetOrCreate(key)
	if err := store.Save(key); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.Get(key); ok {
		t.Error("session still resolvable after delete")
	}
	reloaded, _ := NewStore(dir)
	if _, ok := reloaded.Get(key); ok {
		t.Error("session file survived delete")
	}
}

// TestStore_ListByChannel verifies the channel filter matches on key prefix.
func TestStore_ListByChannel(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	store.GetOrCreate("telegram:direct:1")
	store.GetOrCreate("telegram:named:ops")
	store.GetOrCreate("discord:direct:2")

	all := store.List("")
	if len(all) != 3 {
		t.Errorf("List(\"\") = %d sessions, want 3", len(all))
	}
	tg := store.List("telegram")
	if len(tg) != 2 {
		t.Errorf("List(telegram) = %d sessions, want 2", len(tg))
	}
}

// TestStore_ReplaceHistory verifies compaction-style replacement swaps the
// full message list.
func TestStore_ReplaceHistory(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	key := "web:direct:c"
	store.AppendMessages(key,
		llm.Message{Role: llm.RoleUser, Content: "a"},
		llm.Message{Role: llm.RoleAssistant, Content: "b"},
		llm.Message{Role: llm.RoleUser, Content: "c"},
	)
	store.ReplaceHistory(key, []llm.Message{{Role: llm.RoleUser, Content: "c"}})
	if got := store.History(key); len(got) != 1 || got[0].Content != "c" {
		t.Errorf("history after replace = %+v", got)
	}
}
