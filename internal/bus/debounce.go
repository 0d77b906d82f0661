package bus

import (
	"strings"
	"sync"
	"time"
)

// Debouncer coalesces rapid-fire messages from the same sender into one
// combined message, so a burst of short texts becomes a single turn.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingBurst
	emit    func(InboundMessage)
}

type pendingBurst struct {
	first InboundMessage
	parts []string
	timer *time.Timer
}

// NewDebouncer creates a debouncer that emits coalesced messages after the
// sender has been quiet for window. A zero window disables coalescing.
func NewDebouncer(window time.Duration, emit func(InboundMessage)) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingBurst),
		emit:    emit,
	}
}

// Add accepts one inbound message. Messages with attachments or audio are
// emitted immediately (after flushing any pending burst) since they cannot
// be textually merged.
func (d *Debouncer) Add(msg InboundMessage) {
	if d.window <= 0 {
		d.emit(msg)
		return
	}

	key := msg.Channel + ":" + msg.ChatID + ":" + msg.SenderID

	d.mu.Lock()
	if len(msg.Attachments) > 0 || msg.AudioPath != "" {
		d.flushLocked(key)
		d.mu.Unlock()
		d.emit(msg)
		return
	}

	burst, ok := d.pending[key]
	if !ok {
		burst = &pendingBurst{first: msg}
		d.pending[key] = burst
	}
	burst.parts = append(burst.parts, msg.Content)
	if burst.timer != nil {
		burst.timer.Stop()
	}
	burst.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		d.flushLocked(key)
		d.mu.Unlock()
	})
	d.mu.Unlock()
}

// Flush emits all pending bursts immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.pending {
		d.flushLocked(key)
	}
}

func (d *Debouncer) flushLocked(key string) {
	burst, ok := d.pending[key]
	if !ok {
		return
	}
	delete(d.pending, key)
	if burst.timer != nil {
		burst.timer.Stop()
	}
	msg := burst.first
	msg.Content = strings.Join(burst.parts, "\n")
	go d.emit(msg)
}
