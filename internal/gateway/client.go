package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/pkg/protocol"
)

const clientSendBuffer = 64

// Client is one WebSocket connection. Requests are handled on the read loop;
// events and responses go through a buffered send channel so a slow client
// never blocks a broadcast.
type Client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once

	mu         sync.RWMutex
	authed     bool
	username   string
	instanceID string
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		server: server,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
	}
}

func (c *Client) Authed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authed {
		return ""
	}
	return c.username
}

// Run pumps the connection until it closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Debug("bad frame from client", "id", c.id, "error", err)
			continue
		}
		c.handle(req)
	}
}

func (c *Client) handle(req protocol.RequestFrame) {
	switch req.Method {
	case protocol.MethodConnect:
		c.handleConnect(req)

	case protocol.MethodHealth:
		c.respond(req.ID, true, map[string]any{"status": "ok"}, "")

	case protocol.MethodChatSend:
		if !c.Authed() {
			c.respond(req.ID, false, nil, "not connected")
			return
		}
		var params protocol.ChatSendParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Text == "" {
			c.respond(req.ID, false, nil, "text required")
			return
		}
		c.mu.RLock()
		username, instance := c.username, c.instanceID
		c.mu.RUnlock()
		c.server.bus.PublishInbound(bus.InboundMessage{
			ID:         "web-" + uuid.NewString(),
			Channel:    "web",
			SenderID:   username,
			SenderName: username,
			ChatID:     username,
			Content:    params.Text,
			Metadata:   map[string]string{"clientInstanceId": instance},
			Timestamp:  time.Now(),
		})
		c.respond(req.ID, true, nil, "")

	default:
		c.respond(req.ID, false, nil, "unknown method: "+req.Method)
	}
}

func (c *Client) handleConnect(req protocol.RequestFrame) {
	var params protocol.ConnectParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.respond(req.ID, false, nil, "bad connect params")
		return
	}
	if token := c.server.cfg.Token; token != "" {
		if subtle.ConstantTimeCompare([]byte(params.Token), []byte(token)) != 1 {
			c.respond(req.ID, false, nil, "invalid token")
			return
		}
	}
	if params.Username == "" {
		c.respond(req.ID, false, nil, "username required")
		return
	}

	c.mu.Lock()
	c.authed = true
	c.username = params.Username
	c.instanceID = params.ClientInstanceID
	c.mu.Unlock()

	c.respond(req.ID, true, protocol.ConnectResult{
		Protocol: protocol.ProtocolVersion,
		ClientID: c.id,
	}, "")
}

func (c *Client) respond(id string, ok bool, payload any, errMsg string) {
	c.enqueue(protocol.ResponseFrame{
		Type:    protocol.FrameResponse,
		ID:      id,
		OK:      ok,
		Payload: payload,
		Error:   errMsg,
	})
}

// SendEvent queues an event; drops it if the client is backed up.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.enqueue(event)
}

func (c *Client) enqueue(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("frame marshal failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping frame", "id", c.id)
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}
