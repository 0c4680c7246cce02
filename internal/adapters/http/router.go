package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/routers"

	"github.com/kirillkom/folder-rag/internal/config"
	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/ports"
	"github.com/kirillkom/folder-rag/internal/observability/metrics"
)

// userIDHeader carries the caller identity set by the upstream auth layer.
const userIDHeader = "X-User-Id"

const (
	serviceName      = "api"
	maxRequestBody   = 1 << 20
	backpressureWait = 50 * time.Millisecond
)

type Router struct {
	cfg       config.Config
	retriever ports.Retriever
	access    ports.AccessResolver
	mcp       http.Handler
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	openAPI   routers.Router
}

type RouterOption func(*Router)

// WithMCPHandler mounts the MCP transport at /mcp.
func WithMCPHandler(h http.Handler) RouterOption {
	return func(rt *Router) {
		rt.mcp = h
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		rt.logger = logger
	}
}

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func NewRouter(cfg config.Config, retriever ports.Retriever, access ports.AccessResolver, opts ...RouterOption) (*Router, error) {
	openAPI, err := loadOpenAPIRouter(context.Background())
	if err != nil {
		return nil, err
	}
	rt := &Router{
		cfg:       cfg,
		retriever: retriever,
		access:    access,
		openAPI:   openAPI,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.metrics == nil {
		rt.metrics = metrics.NewHTTPServerMetrics(serviceName)
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/retrieve", rt.retrieve)
	api.HandleFunc("GET /v1/access/documents", rt.accessibleDocuments)
	api.HandleFunc("GET /v1/folders/{folder_id}/access", rt.folderAccess)
	if rt.mcp != nil {
		api.Handle("/mcp", rt.mcp)
	}

	onReject := func(reason string) {
		rt.metrics.RecordRejected(serviceName, reason)
	}
	var controlled http.Handler = openAPIValidationMiddleware(rt.openAPI, api)
	controlled = backpressureMiddleware(controlled, rt.cfg.APIMaxInFlight, backpressureWait, onReject)
	controlled = rateLimitMiddleware(controlled, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)

	ops := http.NewServeMux()
	ops.HandleFunc("GET /healthz", rt.healthz)
	ops.Handle("GET /metrics", rt.metrics.Handler())

	handler := exemptPaths(controlled, ops, "/healthz", "/metrics")
	handler = rt.metrics.Middleware(serviceName, handler)
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, r, http.StatusBadRequest, "question is required")
		return
	}

	result, err := rt.retriever.RetrieveForQuestion(r.Context(), userID, req.Question)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if result.Relevant == nil {
		result.Relevant = []domain.CitedChunk{}
	}
	if result.Supplementary == nil {
		result.Supplementary = []domain.CitedChunk{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) accessibleDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	scope, err := rt.access.AccessibleDocumentIDs(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ids := scope.IDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_ids": ids,
		"count":        len(ids),
	})
}

func (rt *Router) folderAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var folderID string
	if err := bindPathParam(r, "folder_id", &folderID); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid folder_id: %v", err))
		return
	}

	decision, err := rt.access.FolderAccess(r.Context(), userID, folderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folderAccessResponse{
		FolderID:       decision.FolderID,
		Access:         decision.Level.String(),
		Via:            string(decision.Via),
		SourceFolderID: decision.SourceFolderID,
		Steps:          decision.Steps,
	})
}

type folderAccessResponse struct {
	FolderID       string `json:"folder_id"`
	Access         string `json:"access"`
	Via            string `json:"via"`
	SourceFolderID string `json:"source_folder_id,omitempty"`
	Steps          int    `json:"steps"`
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		writeError(w, r, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return "", false
	}
	return userID, true
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		message = http.StatusText(status)
	}
	writeError(w, r, status, message)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
