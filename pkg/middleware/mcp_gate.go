package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// methodToolsCall is the MCP method gated by the session middleware.
const methodToolsCall = "tools/call"

// MCPSessionGateMiddleware creates MCP protocol-level middleware that
// enforces the session gate's annotation for tools/call requests. The HTTP
// gate only annotates; this is the downstream collaborator that rejects.
//
// It must run inside the HTTP SessionGate so the RequestContext annotation
// is present. Requests for other methods pass through untouched.
func MCPSessionGateMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			rc := GetRequestContext(ctx)
			if rc == nil {
				// The request never crossed the gate (e.g. stdio
				// transport); nothing to enforce.
				return next(ctx, method, req)
			}

			if !rc.Valid {
				slog.Warn("mcp session gate: rejecting tool call",
					"session_id", rc.SessionID,
					"reason", rc.Error,
				)
				return createSessionErrorResult(rc), nil
			}

			return next(ctx, method, req)
		}
	}
}

// createSessionErrorResult builds the tool-call error result for an invalid
// session, in the format expected by the MCP protocol.
func createSessionErrorResult(rc *RequestContext) mcp.Result {
	msg := fmt.Sprintf("session invalid: %s", rc.Error)
	if rc.RequiresAuth {
		msg += " (re-authentication required)"
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}
