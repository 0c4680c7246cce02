package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/folder-rag/internal/config"
	"github.com/kirillkom/folder-rag/internal/core/domain"
)

type retrieverFake struct {
	result    *domain.RetrievalResult
	err       error
	gotUser   string
	gotPrompt string
}

func (f *retrieverFake) RetrieveForQuestion(_ context.Context, userID, question string) (*domain.RetrievalResult, error) {
	f.gotUser = userID
	f.gotPrompt = question
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type accessFake struct {
	scope    domain.DocumentIDSet
	decision domain.AccessDecision
	err      error
}

func (f *accessFake) AccessibleDocumentIDs(context.Context, string) (domain.DocumentIDSet, error) {
	return f.scope, f.err
}

func (f *accessFake) FolderAccess(_ context.Context, _ string, folderID string) (domain.AccessDecision, error) {
	if f.err != nil {
		return domain.AccessDecision{}, f.err
	}
	d := f.decision
	d.FolderID = folderID
	return d, nil
}

func newTestHandler(t *testing.T, cfg config.Config, retriever *retrieverFake, access *accessFake, opts ...RouterOption) http.Handler {
	t.Helper()
	if retriever == nil {
		retriever = &retrieverFake{result: &domain.RetrievalResult{Context: domain.NoInformationSentinel, NoInformation: true}}
	}
	if access == nil {
		access = &accessFake{scope: domain.NewDocumentIDSet()}
	}
	router, err := NewRouter(cfg, retriever, access, opts...)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler()
}

func postRetrieve(handler http.Handler, userID string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body=%q)", err, res.Body.String())
	}
	return out
}

func TestRetrieveReturnsContext(t *testing.T) {
	retriever := &retrieverFake{result: &domain.RetrievalResult{
		Context:  "<relevant_information>...</relevant_information>",
		Relevant: []domain.CitedChunk{{ChunkID: "c1", DocumentID: "d1", PageNumber: 2, Text: "alpha", Score: 0.9}},
	}}
	handler := newTestHandler(t, config.Config{}, retriever, nil)

	res := postRetrieve(handler, "u1", map[string]any{"question": "what is alpha?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if retriever.gotUser != "u1" || retriever.gotPrompt != "what is alpha?" {
		t.Fatalf("unexpected call: user=%q question=%q", retriever.gotUser, retriever.gotPrompt)
	}
	body := decodeBody(t, res)
	relevant, _ := body["relevant"].([]any)
	if len(relevant) != 1 {
		t.Fatalf("expected one relevant chunk, got %v", body["relevant"])
	}
	supplementary, ok := body["supplementary"].([]any)
	if !ok || len(supplementary) != 0 {
		t.Fatalf("expected empty supplementary array, got %v", body["supplementary"])
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRetrieveRequiresUserHeader(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, nil)

	res := postRetrieve(handler, "", map[string]any{"question": "q"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestRetrieveRejectsBodyThatViolatesSchema(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, nil)

	res := postRetrieve(handler, "u1", map[string]any{"prompt": "q"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if got := decodeBody(t, res)["error"]; got != "invalid request body" {
		t.Fatalf("unexpected error message: %v", got)
	}
}

func TestRetrieveMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:   "invalid input",
			err:    domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("question is blank")),
			status: http.StatusBadRequest,
		},
		{
			name:   "retrievers unavailable",
			err:    domain.WrapError(domain.ErrRetrieverUnavailable, "retrieve", errors.New("both down")),
			status: http.StatusServiceUnavailable,
		},
		{
			name:    "unexpected",
			err:     errors.New("pq: password authentication failed"),
			status:  http.StatusInternalServerError,
			message: http.StatusText(http.StatusInternalServerError),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(t, config.Config{}, &retrieverFake{err: tt.err}, nil)
			res := postRetrieve(handler, "u1", map[string]any{"question": "q"})
			if res.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, res.Code)
			}
			if tt.message != "" {
				if got := decodeBody(t, res)["error"]; got != tt.message {
					t.Fatalf("error = %v, want %q", got, tt.message)
				}
			}
		})
	}
}

func TestRetrieveWrongMethodReturns405(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/retrieve", nil)
	req.Header.Set(userIDHeader, "u1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestAccessibleDocumentsAreSorted(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, &accessFake{scope: domain.NewDocumentIDSet("d2", "d1")})

	req := httptest.NewRequest(http.MethodGet, "/v1/access/documents", nil)
	req.Header.Set(userIDHeader, "u1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	ids, _ := body["document_ids"].([]any)
	if len(ids) != 2 || ids[0] != "d1" || ids[1] != "d2" || body["count"] != float64(2) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestFolderAccessReportsDecision(t *testing.T) {
	access := &accessFake{decision: domain.AccessDecision{
		Level:          domain.AccessReadOnly,
		Via:            domain.ViaInherited,
		SourceFolderID: "parent",
		Steps:          2,
	}}
	handler := newTestHandler(t, config.Config{}, nil, access)

	req := httptest.NewRequest(http.MethodGet, "/v1/folders/child/access", nil)
	req.Header.Set(userIDHeader, "u1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["folder_id"] != "child" || body["access"] != "READ_ONLY" || body["via"] != "inherited" || body["source_folder_id"] != "parent" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestFolderAccessMapsNotFound(t *testing.T) {
	access := &accessFake{err: domain.WrapError(domain.ErrNotFound, "folder access", errors.New("folder missing"))}
	handler := newTestHandler(t, config.Config{}, nil, access)

	req := httptest.NewRequest(http.MethodGet, "/v1/folders/missing/access", nil)
	req.Header.Set(userIDHeader, "u1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, nil)

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, res.Code)
		}
	}
}

func TestMCPHandlerIsMounted(t *testing.T) {
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	handler := newTestHandler(t, config.Config{}, nil, nil, WithMCPHandler(mcp))

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected MCP handler response, got %d", res.Code)
	}
}
