// Package mcpadapter exposes retrieval to the answer generator as an MCP tool.
package mcpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/ports"
)

const (
	ToolGetInformation = "get_information"

	userIDHeader = "X-User-Id"
)

type userIDContextKey struct{}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, strings.TrimSpace(userID))
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDContextKey{}).(string)
	return userID
}

type Handler struct {
	retriever ports.Retriever
	logger    *slog.Logger
}

func NewServer(retriever ports.Retriever, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{retriever: retriever, logger: logger}

	s := server.NewMCPServer(
		"folder-rag",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	tool := mcp.NewTool(ToolGetInformation,
		mcp.WithDescription("Retrieve cited passages from documents the caller may read. "+
			"Returns \""+domain.NoInformationSentinel+"\" when nothing relevant is accessible; do not answer from memory in that case."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The user's question, verbatim"),
		),
	)
	s.AddTool(tool, h.GetInformation)
	return s
}

// NewHTTPHandler serves the MCP server over streamable HTTP. The caller identity
// is read from the trusted X-User-Id header.
func NewHTTPHandler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return withUserID(ctx, r.Header.Get(userIDHeader))
		}),
	)
}

func (h *Handler) GetInformation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID := userIDFromContext(ctx)
	if userID == "" {
		return mcp.NewToolResultError("caller identity is missing"), nil
	}

	result, err := h.retriever.RetrieveForQuestion(ctx, userID, question)
	if err != nil {
		h.logger.Warn("mcp_get_information_failed", "user_id", userID, "error", err)
		if domain.IsKind(err, domain.ErrRetrieverUnavailable) {
			return mcp.NewToolResultError("document search is temporarily unavailable"), nil
		}
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(result.Context), nil
}
