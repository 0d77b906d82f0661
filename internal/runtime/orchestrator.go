// Package runtime owns turn scheduling: one FIFO lane per logical session,
// parallel lanes across sessions, cooperative cancellation, and the control
// commands handled before a message becomes a turn.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/pipeline"
	"github.com/calder-ai/calder/internal/plan"
	"github.com/calder-ai/calder/internal/sessions"
	"github.com/calder-ai/calder/internal/telemetry"
	"github.com/calder-ai/calder/internal/turn"
)

const (
	defaultTurnDeadline = time.Hour
	laneQueueSize       = 32
)

// Orchestrator dispatches inbound messages to per-session worker lanes.
// The lane key is the resolved conversation key, not the transport chat id,
// so two logical sessions in one chat never block each other.
type Orchestrator struct {
	pipeline *pipeline.Pipeline
	router   *sessions.Router
	store    *sessions.Store
	plans    *plan.Manager
	channels pipeline.ChannelSender
	events   turn.EventFunc

	turnDeadline time.Duration

	mu    sync.Mutex
	lanes map[string]*lane

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

type lane struct {
	queue chan laneItem

	mu      sync.Mutex
	current context.CancelFunc
}

type laneItem struct {
	msg  bus.InboundMessage
	done chan TurnResult
}

// TurnResult is what a synchronous caller gets back from a completed turn.
type TurnResult struct {
	Response   string
	StopReason turn.StopReason
	Failures   int
}

type Options struct {
	Pipeline     *pipeline.Pipeline
	Router       *sessions.Router
	Store        *sessions.Store
	Plans        *plan.Manager
	Channels     pipeline.ChannelSender
	Events       turn.EventFunc
	TurnDeadline time.Duration
}

func NewOrchestrator(opts Options) *Orchestrator {
	deadline := opts.TurnDeadline
	if deadline <= 0 {
		deadline = defaultTurnDeadline
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		pipeline:     opts.Pipeline,
		router:       opts.Router,
		store:        opts.Store,
		plans:        opts.Plans,
		channels:     opts.Channels,
		events:       opts.Events,
		turnDeadline: deadline,
		lanes:        make(map[string]*lane),
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// Shutdown cancels all in-flight turns and waits for lanes to drain.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

// ProcessMessage routes one inbound message: control commands are answered
// immediately, everything else is enqueued on the session's lane.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg bus.InboundMessage) error {
	id := o.identityFor(msg)

	if !strings.HasPrefix(msg.Channel, "auto") {
		if handled := o.handleCommand(ctx, id, msg); handled {
			return nil
		}
	}

	sessionKey := o.resolveKey(id, msg)
	ln := o.laneFor(sessionKey)

	select {
	case ln.queue <- laneItem{msg: msg}:
		return nil
	default:
		return fmt.Errorf("session %s queue full", sessionKey)
	}
}

// ProcessSync enqueues the message on its session lane and waits for the turn
// to finish. Used by webhook agent runs that deliver the response out of band.
func (o *Orchestrator) ProcessSync(ctx context.Context, msg bus.InboundMessage) (TurnResult, error) {
	id := o.identityFor(msg)
	sessionKey := o.resolveKey(id, msg)
	ln := o.laneFor(sessionKey)

	done := make(chan TurnResult, 1)
	select {
	case ln.queue <- laneItem{msg: msg, done: done}:
	default:
		return TurnResult{}, fmt.Errorf("session %s queue full", sessionKey)
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}
}

// Stop cancels the in-flight turn for the session, if any.
func (o *Orchestrator) Stop(sessionKey string) bool {
	o.mu.Lock()
	ln, ok := o.lanes[sessionKey]
	o.mu.Unlock()
	if !ok {
		return false
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.current == nil {
		return false
	}
	ln.current()
	return true
}

func (o *Orchestrator) identityFor(msg bus.InboundMessage) sessions.Identity {
	kind := sessions.PeerDirect
	if msg.Metadata["peerKind"] == string(sessions.PeerGroup) {
		kind = sessions.PeerGroup
	}
	return sessions.Identity{Channel: msg.Channel, Kind: kind, ChatID: msg.ChatID}
}

func (o *Orchestrator) resolveKey(id sessions.Identity, msg bus.InboundMessage) string {
	if msg.Metadata["autoMode"] == "true" {
		// Scheduler runs carry their full session key as the chat id.
		o.store.GetOrCreate(msg.ChatID)
		return msg.ChatID
	}
	return o.router.Resolve(id).Key
}

func (o *Orchestrator) laneFor(key string) *lane {
	o.mu.Lock()
	defer o.mu.Unlock()
	ln, ok := o.lanes[key]
	if !ok {
		ln = &lane{queue: make(chan laneItem, laneQueueSize)}
		o.lanes[key] = ln
		o.wg.Add(1)
		go o.runLane(key, ln)
	}
	return ln
}

func (o *Orchestrator) runLane(key string, ln *lane) {
	defer o.wg.Done()
	for {
		select {
		case <-o.baseCtx.Done():
			return
		case item := <-ln.queue:
			res := o.runTurn(key, ln, item.msg)
			if item.done != nil {
				item.done <- res
			}
		}
	}
}

func (o *Orchestrator) runTurn(sessionKey string, ln *lane, msg bus.InboundMessage) TurnResult {
	ctx, cancel := context.WithTimeout(o.baseCtx, o.turnDeadline)
	ln.mu.Lock()
	ln.current = cancel
	ln.mu.Unlock()
	defer func() {
		ln.mu.Lock()
		ln.current = nil
		ln.mu.Unlock()
		cancel()
	}()

	id := o.identityFor(msg)
	sess := o.store.GetOrCreate(sessionKey)

	tc := &turn.Context{
		Inbound:    msg,
		Identity:   id,
		SessionKey: sessionKey,
		AutoMode:   msg.Metadata["autoMode"] == "true",
		GoalID:     msg.Metadata["goalId"],
		TaskID:     msg.Metadata["taskId"],
		RunKind:    turn.RunKind(msg.Metadata["runKind"]),
		RunID:      msg.Metadata["runId"],
		UserModel:  msg.Metadata["model"],
		PlanActive: sess.PlanMode,
		StartedAt:  time.Now(),
		Deadline:   time.Now().Add(o.turnDeadline),
	}
	tc.SetEventSink(o.events)

	tc.Emit(turn.EventTurnStarted, map[string]any{"channel": msg.Channel})
	start := time.Now()

	ctx, span := telemetry.Tracer().Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("channel", msg.Channel),
			attribute.String("session", sessionKey),
		))
	o.pipeline.Run(ctx, tc)
	span.SetAttributes(
		attribute.String("stop_reason", string(tc.StopReason)),
		attribute.Int("llm_calls", tc.LlmCalls),
		attribute.Int("tool_executions", tc.ToolExecutions),
	)
	span.End()

	if err := o.store.Save(sessionKey); err != nil {
		slog.Error("session save failed", "session", sessionKey, "error", err)
	}

	name := turn.EventTurnFinished
	if len(tc.Failures) > 0 && tc.StopReason != turn.StopSuccess {
		name = turn.EventTurnFailed
	}
	tc.Emit(name, map[string]any{
		"stop_reason": string(tc.StopReason),
		"llm_calls":   tc.LlmCalls,
		"tools":       tc.ToolExecutions,
		"duration_ms": time.Since(start).Milliseconds(),
		"failures":    len(tc.Failures),
	})
	slog.Info("turn done",
		"session", sessionKey, "stop", tc.StopReason,
		"llm_calls", tc.LlmCalls, "tools", tc.ToolExecutions,
		"duration", time.Since(start))

	response := tc.FinalAnswer
	if tc.OutgoingResponse != nil {
		response = tc.OutgoingResponse.Text
	}
	return TurnResult{
		Response:   response,
		StopReason: tc.StopReason,
		Failures:   len(tc.Failures),
	}
}
