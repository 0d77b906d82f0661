package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/tools"
)

// bridgeTool exposes one remote MCP tool through the local registry. The
// name is prefixed with the skill so catalogues from different servers
// cannot shadow each other.
type bridgeTool struct {
	srv      *pooledServer
	def      llm.ToolDefinition
	original string
}

func newBridgeTool(srv *pooledServer, t mcpgo.Tool) *bridgeTool {
	return &bridgeTool{
		srv:      srv,
		original: t.Name,
		def: llm.ToolDefinition{
			Name:        "mcp_" + srv.skill + "_" + t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		},
	}
}

func (b *bridgeTool) Definition() llm.ToolDefinition { return b.def }

func (b *bridgeTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	b.srv.callMu.Lock()
	defer b.srv.callMu.Unlock()
	b.srv.lastUsed = time.Now()

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.original
	req.Params.Arguments = args

	result, err := b.srv.client.CallTool(ctx, req)
	if err != nil {
		return tools.ExecutionError(fmt.Errorf("mcp call %s: %w", b.original, err))
	}

	text := contentText(result.Content)
	if result.IsError {
		return tools.Failure(tools.FailureExecutionFailed, text)
	}
	return tools.Success(text)
}

func contentText(content []mcpgo.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	if sb.Len() == 0 {
		return "(no text content)"
	}
	return sb.String()
}

// schemaToMap flattens the typed input schema to the generic JSON Schema map
// the provider API expects.
func schemaToMap(schema mcpgo.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}
