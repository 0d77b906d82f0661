// Package protocol defines the WebSocket wire frames exchanged between the
// gateway and web clients.
package protocol

import "encoding/json"

const ProtocolVersion = 1

// Frame type discriminators.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// RPC method names.
const (
	MethodConnect      = "connect"
	MethodChatSend     = "chat.send"
	MethodChatAbort    = "chat.abort"
	MethodHealth       = "health"
	MethodSessionsList = "sessions.list"
)

// RequestFrame is a client-to-server RPC call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers one RequestFrame by ID.
type ResponseFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventFrame is a server push; not correlated to a request.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

func NewEvent(name string, payload any) EventFrame {
	return EventFrame{Type: FrameEvent, Event: name, Payload: payload}
}

// ConnectParams authenticates a client and names its identity. The pair
// (username, clientInstanceId) lets several terminals share one conversation.
type ConnectParams struct {
	Token            string `json:"token,omitempty"`
	Username         string `json:"username"`
	ClientInstanceID string `json:"clientInstanceId"`
}

// ConnectResult is the payload of a successful connect response.
type ConnectResult struct {
	Protocol int    `json:"protocol"`
	ClientID string `json:"clientId"`
}

// ChatSendParams carries one user message into the runtime.
type ChatSendParams struct {
	Text string `json:"text"`
}

// Push event names sent to web clients.
const (
	EventChatMessage = "chat.message"
	EventChatStatus  = "chat.status"
)

// ChatMessagePayload is the body of a chat.message event.
type ChatMessagePayload struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}
