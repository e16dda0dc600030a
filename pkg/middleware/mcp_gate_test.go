package middleware

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-connector/pkg/session"
)

// passthrough records whether the wrapped handler ran.
func passthrough(called *bool) mcp.MethodHandler {
	return func(context.Context, string, mcp.Request) (mcp.Result, error) {
		*called = true
		return &mcp.CallToolResult{}, nil
	}
}

func TestMCPSessionGate_AllowsValidSession(t *testing.T) {
	var called bool
	handler := MCPSessionGateMiddleware()(passthrough(&called))

	ctx := WithRequestContext(context.Background(), &RequestContext{
		SessionID: "sess-1",
		Valid:     true,
		Session:   &session.Session{ID: "sess-1"},
	})

	_, err := handler(ctx, methodToolsCall, nil)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestMCPSessionGate_RejectsInvalidSession(t *testing.T) {
	var called bool
	handler := MCPSessionGateMiddleware()(passthrough(&called))

	ctx := WithRequestContext(context.Background(), &RequestContext{
		SessionID:    "sess-1",
		Error:        session.ReasonExpired,
		RequiresAuth: true,
	})

	result, err := handler(ctx, methodToolsCall, nil)
	require.NoError(t, err)
	assert.False(t, called, "invalid sessions never reach the tool handler")

	callResult, ok := result.(*mcp.CallToolResult)
	require.True(t, ok)
	assert.True(t, callResult.IsError)

	text, ok := callResult.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, session.ReasonExpired)
	assert.Contains(t, text.Text, "re-authentication required")
}

func TestMCPSessionGate_SkipsOtherMethods(t *testing.T) {
	var called bool
	handler := MCPSessionGateMiddleware()(passthrough(&called))

	ctx := WithRequestContext(context.Background(), &RequestContext{Error: "expired"})

	_, err := handler(ctx, "tools/list", nil)
	require.NoError(t, err)
	assert.True(t, called, "only tools/call is gated")
}

func TestMCPSessionGate_SkipsUngatedRequests(t *testing.T) {
	var called bool
	handler := MCPSessionGateMiddleware()(passthrough(&called))

	// No RequestContext: the request never crossed the HTTP gate.
	_, err := handler(context.Background(), methodToolsCall, nil)
	require.NoError(t, err)
	assert.True(t, called)
}
