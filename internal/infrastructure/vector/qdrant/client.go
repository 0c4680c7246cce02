package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/infrastructure/resilience"
)

const (
	payloadDocumentID = "document_id"
	payloadChunkID    = "chunk_id"
	payloadPage       = "page_number"
)

// chunkNamespace derives stable point ids from chunk ids, so re-upserting a
// chunk overwrites its previous point.
var chunkNamespace = uuid.MustParse("6f1c8f0e-4a53-4f37-9a55-3f1f4f0c2d7b")

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

// New builds a Qdrant REST client. A nil executor calls the API without retries.
func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

func PointID(chunkID string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

// Search returns the nearest chunks by cosine similarity. A nil filter searches
// every document; an empty non-nil filter matches nothing.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, filter domain.DocumentIDSet) ([]domain.RankedChunk, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	if filter != nil && filter.Len() == 0 {
		return nil, nil
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": []string{payloadChunkID, payloadDocumentID},
	}
	if filter != nil {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key":   payloadDocumentID,
					"match": map[string]any{"any": filter.IDs()},
				},
			},
		}
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	err := c.call(ctx, "qdrant_search", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPost, url, reqBody, &searchResp, "search")
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.RankedChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		chunkID := getStringPayload(r.Payload, payloadChunkID)
		if chunkID == "" {
			continue
		}
		out = append(out, domain.RankedChunk{ChunkID: chunkID, Score: r.Score})
	}
	return out, nil
}

// ReplaceDocumentChunks drops every point of the document and upserts the given chunks.
func (c *Client) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.Chunk, vectors [][]float32) error {
	if strings.TrimSpace(documentID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "replace document chunks", fmt.Errorf("document id is required"))
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	if err := c.deleteDocument(ctx, documentID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID:     PointID(chunk.ID),
			Vector: vectors[i],
			Payload: map[string]any{
				payloadChunkID:    chunk.ID,
				payloadDocumentID: documentID,
				payloadPage:       chunk.PageNumber,
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.call(ctx, "qdrant_upsert", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert")
	})
}

func (c *Client) deleteDocument(ctx context.Context, documentID string) error {
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   payloadDocumentID,
					"match": map[string]any{"value": documentID},
				},
			},
		},
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	err := c.call(ctx, "qdrant_delete", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPost, url, reqBody, nil, "delete")
	})
	// Nothing to delete before the first upsert creates the collection.
	if statusErr, ok := asStatusError(err); ok && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.doJSON(ctx, http.MethodPut, url, reqBody, nil, "ensure collection")
	// 409 if the collection already exists (depends on version/config).
	if statusErr, ok := asStatusError(err); ok && statusErr.StatusCode == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return err
	}

	indexBody := map[string]any{
		"field_name":   payloadDocumentID,
		"field_schema": "keyword",
	}
	indexURL := fmt.Sprintf("%s/collections/%s/index?wait=true", c.baseURL, c.collection)
	if err := c.doJSON(ctx, http.MethodPut, indexURL, indexBody, nil, "create payload index"); err != nil {
		return err
	}

	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return resilience.WrapTemporary(operation, fn(ctx), resilience.ClassifyHTTPError)
	}
	err := c.executor.Execute(ctx, operation, fn, resilience.ClassifyHTTPError)
	return resilience.WrapTemporary(operation, err, resilience.ClassifyHTTPError)
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Backend:    "qdrant",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(msg),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func asStatusError(err error) (*resilience.HTTPStatusError, bool) {
	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
