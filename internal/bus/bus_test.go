package bus

import (
	"sync"
	"testing"
	"time"
)

// TestDeduper_TTLWindow verifies an ID is suppressed inside the window and
// accepted again once it ages out.
func TestDeduper_TTLWindow(t *testing.T) {
	d := NewDeduper(time.Minute)
	base := time.Unix(1000, 0)
	d.now = func() time.Time { return base }

	if d.Seen("msg-1") {
		t.Error("first delivery flagged as duplicate")
	}
	if !d.Seen("msg-1") {
		t.Error("redelivery inside TTL not flagged")
	}

	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	if d.Seen("msg-1") {
		t.Error("delivery after TTL expiry flagged as duplicate")
	}
}

// TestDeduper_EmptyID verifies messages without an ID are never deduped.
func TestDeduper_EmptyID(t *testing.T) {
	d := NewDeduper(time.Minute)
	if d.Seen("") || d.Seen("") {
		t.Error("empty IDs must never be treated as duplicates")
	}
}

func TestDeduper_DistinctIDs(t *testing.T) {
	d := NewDeduper(time.Minute)
	if d.Seen("a") || d.Seen("b") {
		t.Error("distinct IDs flagged as duplicates")
	}
}

// TestDebouncer_MergesBurst verifies rapid texts from one sender coalesce into
// a single newline-joined message.
func TestDebouncer_MergesBurst(t *testing.T) {
	var mu sync.Mutex
	var got []InboundMessage
	done := make(chan struct{}, 1)

	d := NewDebouncer(20*time.Millisecond, func(m InboundMessage) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		done <- struct{}{}
	})

	msg := InboundMessage{Channel: "telegram", ChatID: "42", SenderID: "u1"}
	msg.Content = "hello"
	d.Add(msg)
	msg.Content = "are you"
	d.Add(msg)
	msg.Content = "there?"
	d.Add(msg)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("burst never flushed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	if got[0].Content != "hello\nare you\nthere?" {
		t.Errorf("content = %q", got[0].Content)
	}
}

// TestDebouncer_SeparateSenders verifies bursts are keyed per sender, not
// globally.
func TestDebouncer_SeparateSenders(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}
	done := make(chan struct{}, 2)

	d := NewDebouncer(10*time.Millisecond, func(m InboundMessage) {
		mu.Lock()
		got[m.SenderID] = m.Content
		mu.Unlock()
		done <- struct{}{}
	})

	d.Add(InboundMessage{Channel: "web", ChatID: "1", SenderID: "alice", Content: "hi"})
	d.Add(InboundMessage{Channel: "web", ChatID: "1", SenderID: "bob", Content: "yo"})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for flushes")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got["alice"] != "hi" || got["bob"] != "yo" {
		t.Errorf("got %v", got)
	}
}

// TestDebouncer_AttachmentBypass verifies a message carrying an attachment is
// emitted immediately and flushes any pending text first.
func TestDebouncer_AttachmentBypass(t *testing.T) {
	var mu sync.Mutex
	var got []InboundMessage
	done := make(chan struct{}, 2)

	d := NewDebouncer(time.Hour, func(m InboundMessage) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		done <- struct{}{}
	})

	d.Add(InboundMessage{Channel: "telegram", ChatID: "1", SenderID: "u", Content: "caption incoming"})
	d.Add(InboundMessage{
		Channel: "telegram", ChatID: "1", SenderID: "u",
		Attachments: []Attachment{{Type: "image", Path: "/tmp/x.png"}},
	})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("emitted %d messages, want 2", len(got))
	}
}

// TestDebouncer_ZeroWindow verifies coalescing is disabled with a zero window.
func TestDebouncer_ZeroWindow(t *testing.T) {
	count := 0
	d := NewDebouncer(0, func(InboundMessage) { count++ })
	d.Add(InboundMessage{Content: "a"})
	d.Add(InboundMessage{Content: "b"})
	if count != 2 {
		t.Errorf("emitted %d, want 2 immediate emissions", count)
	}
}

// TestInMemoryBus_PublishConsume verifies basic delivery and that a full
// queue drops instead of blocking.
func TestInMemoryBus_PublishConsume(t *testing.T) {
	b := NewInMemoryBus()
	defer b.Close()

	b.PublishInbound(InboundMessage{ID: "1", Content: "hi"})
	select {
	case m := <-b.ConsumeInbound():
		if m.ID != "1" {
			t.Errorf("got message %q", m.ID)
		}
	default:
		t.Fatal("no message on inbound queue")
	}

	for i := 0; i < defaultQueueSize+10; i++ {
		b.PublishOutbound(OutboundMessage{Content: "x"}) // must not block
	}
}

// TestInMemoryBus_ClosedDrops verifies publishing after Close is a no-op.
func TestInMemoryBus_ClosedDrops(t *testing.T) {
	b := NewInMemoryBus()
	b.Close()
	b.Close() // idempotent
	b.PublishInbound(InboundMessage{ID: "late"})
	select {
	case <-b.ConsumeInbound():
		t.Error("message delivered after close")
	default:
	}
}
