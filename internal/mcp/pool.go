// Package mcp pools stdio MCP tool servers declared by skills. A server is
// started when its skill first activates, its tool catalogue is exposed
// through the registry, and the process is stopped after sitting idle.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/calder-ai/calder/internal/tools"
)

const (
	defaultIdleTimeout = 5 * time.Minute
	sweepInterval      = time.Minute
	callTimeout        = 60 * time.Second
)

type pooledServer struct {
	skill  string
	client *mcpclient.Client

	// callMu serializes tool calls; stdio transports are not concurrent-safe.
	callMu    sync.Mutex
	lastUsed  time.Time
	toolNames []string
}

func (s *pooledServer) touch() {
	s.callMu.Lock()
	s.lastUsed = time.Now()
	s.callMu.Unlock()
}

// Pool owns at most one server process per skill.
type Pool struct {
	registry    *tools.Registry
	idleTimeout time.Duration

	mu      sync.Mutex
	servers map[string]*pooledServer
}

func NewPool(registry *tools.Registry, idleTimeout time.Duration) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Pool{
		registry:    registry,
		idleTimeout: idleTimeout,
		servers:     make(map[string]*pooledServer),
	}
}

// EnsureSkill starts the skill's tool server if it declares one and it is
// not already running. Idempotent.
func (p *Pool) EnsureSkill(ctx context.Context, skill, command string, args []string) error {
	if command == "" {
		return nil
	}
	p.mu.Lock()
	if srv, ok := p.servers[skill]; ok {
		p.mu.Unlock()
		srv.touch()
		return nil
	}
	p.mu.Unlock()

	client, err := mcpclient.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return fmt.Errorf("start mcp server for %s: %w", skill, err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "calder", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return fmt.Errorf("initialize mcp server for %s: %w", skill, err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		client.Close()
		return fmt.Errorf("list mcp tools for %s: %w", skill, err)
	}

	srv := &pooledServer{skill: skill, client: client, lastUsed: time.Now()}
	var registered []string
	for _, t := range listed.Tools {
		bridge := newBridgeTool(srv, t)
		name := bridge.Definition().Name
		if _, res := p.registry.Resolve(name); res == nil {
			slog.Warn("mcp tool name collision, skipping", "skill", skill, "tool", name)
			continue
		}
		p.registry.Register(bridge)
		registered = append(registered, name)
	}
	srv.toolNames = registered

	p.mu.Lock()
	p.servers[skill] = srv
	p.mu.Unlock()

	slog.Info("mcp server started", "skill", skill, "tools", len(registered))
	return nil
}

// ReleaseSkill stops the skill's server and drops its tools.
func (p *Pool) ReleaseSkill(skill string) {
	p.mu.Lock()
	srv, ok := p.servers[skill]
	if ok {
		delete(p.servers, skill)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.stop(srv)
}

// Run sweeps idle servers until ctx is cancelled, then stops everything.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Shutdown()
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	cutoff := time.Now().Add(-p.idleTimeout)

	p.mu.Lock()
	var idle []*pooledServer
	for skill, srv := range p.servers {
		srv.callMu.Lock()
		stale := srv.lastUsed.Before(cutoff)
		srv.callMu.Unlock()
		if stale {
			idle = append(idle, srv)
			delete(p.servers, skill)
		}
	}
	p.mu.Unlock()

	for _, srv := range idle {
		slog.Info("stopping idle mcp server", "skill", srv.skill)
		p.stop(srv)
	}
}

// Shutdown stops every pooled server.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	all := make([]*pooledServer, 0, len(p.servers))
	for _, srv := range p.servers {
		all = append(all, srv)
	}
	p.servers = make(map[string]*pooledServer)
	p.mu.Unlock()

	for _, srv := range all {
		p.stop(srv)
	}
}

func (p *Pool) stop(srv *pooledServer) {
	for _, name := range srv.toolNames {
		p.registry.Unregister(name)
	}
	if err := srv.client.Close(); err != nil {
		slog.Debug("mcp server close", "skill", srv.skill, "error", err)
	}
}
