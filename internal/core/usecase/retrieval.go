package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/ports"
)

const (
	LexicalNormalizationMax  = "max"
	LexicalNormalizationNone = "none"

	outcomeAnswered      = "answered"
	outcomeNoAccess      = "no_access"
	outcomeNoInformation = "no_information"
	outcomeError         = "error"
)

type RetrievalConfig struct {
	TopK                    int
	DenseWeight             float64
	LexicalWeight           float64
	RelevanceThreshold      float64
	SupplementaryEnabled    bool
	SupplementaryCandidates int
	SupplementaryLimit      int
	LexicalNormalization    string
	DegradedMode            domain.DegradedMode
	RetrieverTimeout        time.Duration
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:                    10,
		DenseWeight:             0.7,
		LexicalWeight:           0.3,
		RelevanceThreshold:      0.57,
		SupplementaryEnabled:    true,
		SupplementaryCandidates: 15,
		SupplementaryLimit:      5,
		LexicalNormalization:    LexicalNormalizationMax,
		DegradedMode:            domain.DegradedFailOpen,
		RetrieverTimeout:        8 * time.Second,
	}
}

func (c RetrievalConfig) normalize() RetrievalConfig {
	def := DefaultRetrievalConfig()
	if c.TopK <= 0 {
		c.TopK = def.TopK
	}
	if c.SupplementaryCandidates < c.TopK {
		c.SupplementaryCandidates = c.TopK
	}
	if c.SupplementaryLimit < 0 {
		c.SupplementaryLimit = 0
	}
	if c.LexicalNormalization != LexicalNormalizationNone {
		c.LexicalNormalization = LexicalNormalizationMax
	}
	if c.DegradedMode != domain.DegradedFailClosed {
		c.DegradedMode = domain.DegradedFailOpen
	}
	if c.RetrieverTimeout <= 0 {
		c.RetrieverTimeout = def.RetrieverTimeout
	}
	return c
}

// RetrievalService selects the passages a user may see that best answer a question.
// It resolves the access scope, queries both retrievers concurrently, fuses the
// rankings, splits them at the relevance threshold and formats cited context.
// Fusion never runs on a cancelled pass.
type RetrievalService struct {
	scope     ports.AccessResolver
	dense     DenseSearcher
	lexical   LexicalSearcher
	documents ports.DocumentStore
	cfg       RetrievalConfig
	logger    *slog.Logger
	observer  ports.RetrievalObserver
}

func NewRetrievalService(
	scope ports.AccessResolver,
	dense DenseSearcher,
	lexical LexicalSearcher,
	documents ports.DocumentStore,
	cfg RetrievalConfig,
	logger *slog.Logger,
	observer ports.RetrievalObserver,
) *RetrievalService {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &RetrievalService{
		scope:     scope,
		dense:     dense,
		lexical:   lexical,
		documents: documents,
		cfg:       cfg.normalize(),
		logger:    logger,
		observer:  observer,
	}
}

func (s *RetrievalService) RetrieveForQuestion(ctx context.Context, userID, question string) (*domain.RetrievalResult, error) {
	started := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("question is required"))
	}

	scope, err := s.scope.AccessibleDocumentIDs(ctx, userID)
	if err != nil {
		s.observer.ObserveRetrieval(outcomeError, 0, 0, time.Since(started))
		return nil, fmt.Errorf("resolve access scope: %w", err)
	}
	if scope.Len() == 0 {
		s.logger.Debug("retrieval_no_accessible_documents", "user_id", userID)
		s.observer.ObserveRetrieval(outcomeNoAccess, 0, 0, time.Since(started))
		return noInformation(nil), nil
	}

	candidates := s.cfg.TopK
	if s.cfg.SupplementaryEnabled {
		candidates = s.cfg.SupplementaryCandidates
	}

	dense, lexical, degraded, err := s.retrieve(ctx, question, candidates, scope)
	if err != nil {
		s.observer.ObserveRetrieval(outcomeError, 0, 0, time.Since(started))
		return nil, err
	}

	fused := FuseRankings(s.sources(dense, lexical))
	relevantRanks, otherRanks := s.split(fused)
	s.logger.Debug("retrieval_fused",
		"dense_hits", len(dense),
		"lexical_hits", len(lexical),
		"fused", len(fused),
		"relevant", len(relevantRanks),
		"supplementary", len(otherRanks),
	)
	if len(relevantRanks) == 0 && len(otherRanks) == 0 {
		s.observer.ObserveRetrieval(outcomeNoInformation, 0, 0, time.Since(started))
		return noInformation(degraded), nil
	}

	relevant, other, err := s.cite(ctx, relevantRanks, otherRanks, scope)
	if err != nil {
		s.observer.ObserveRetrieval(outcomeError, 0, 0, time.Since(started))
		return nil, err
	}
	if len(relevant) == 0 && len(other) == 0 {
		s.observer.ObserveRetrieval(outcomeNoInformation, 0, 0, time.Since(started))
		return noInformation(degraded), nil
	}

	s.observer.ObserveRetrieval(outcomeAnswered, len(relevant), len(other), time.Since(started))
	return &domain.RetrievalResult{
		Context:       FormatContext(relevant, other),
		Relevant:      relevant,
		Supplementary: other,
		Degraded:      degraded,
	}, nil
}

// retrieve runs both retrievers concurrently. In fail-open mode a failed source
// is reported as degraded and the other is used alone; in fail-closed mode the
// first failure cancels the sibling and fails the pass.
func (s *RetrievalService) retrieve(
	ctx context.Context,
	question string,
	k int,
	scope domain.DocumentIDSet,
) ([]domain.RankedChunk, []domain.LexicalHit, []string, error) {
	var (
		dense      []domain.RankedChunk
		lexical    []domain.LexicalHit
		denseErr   error
		lexicalErr error
	)
	failClosed := s.cfg.DegradedMode == domain.DegradedFailClosed

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dense, denseErr = runRetriever(gctx, s, domain.SourceDense, func(c context.Context) ([]domain.RankedChunk, error) {
			return s.dense.Search(c, question, k, scope)
		})
		if denseErr != nil && failClosed {
			return denseErr
		}
		return nil
	})
	g.Go(func() error {
		lexical, lexicalErr = runRetriever(gctx, s, domain.SourceLexical, func(c context.Context) ([]domain.LexicalHit, error) {
			return s.lexical.Search(c, question, k, scope)
		})
		if lexicalErr != nil && failClosed {
			return lexicalErr
		}
		return nil
	})
	waitErr := g.Wait()

	if err := ctx.Err(); err != nil {
		s.logger.Debug("retrieval_abandoned", "error", err)
		return nil, nil, nil, fmt.Errorf("retrieve: %w", err)
	}
	if waitErr != nil {
		return nil, nil, nil, waitErr
	}
	if denseErr != nil && lexicalErr != nil {
		return nil, nil, nil, domain.WrapError(domain.ErrRetrieverUnavailable, "retrieve", errors.Join(denseErr, lexicalErr))
	}

	var degraded []string
	if denseErr != nil {
		s.logger.Warn("retriever_degraded", "source", domain.SourceDense, "error", denseErr)
		degraded = append(degraded, domain.SourceDense)
		dense = nil
	}
	if lexicalErr != nil {
		s.logger.Warn("retriever_degraded", "source", domain.SourceLexical, "error", lexicalErr)
		degraded = append(degraded, domain.SourceLexical)
		lexical = nil
	}
	return dense, lexical, degraded, nil
}

// runRetriever applies the per-retriever timeout and maps timeouts to ErrRetrieverUnavailable.
func runRetriever[T any](ctx context.Context, s *RetrievalService, source string, fn func(context.Context) ([]T, error)) ([]T, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RetrieverTimeout)
	defer cancel()

	started := time.Now()
	hits, err := fn(callCtx)
	if err != nil && !domain.IsKind(err, domain.ErrRetrieverUnavailable) {
		err = domain.WrapError(domain.ErrRetrieverUnavailable, source+" search", err)
	}
	s.observer.ObserveRetriever(source, time.Since(started), len(hits), err)
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// sources builds fusion inputs. A source with no hits is left out so its zero
// mean cannot drag down chunks found by the other retriever.
func (s *RetrievalService) sources(dense []domain.RankedChunk, lexical []domain.LexicalHit) []domain.RankingSource {
	sources := make([]domain.RankingSource, 0, 2)
	if len(dense) > 0 {
		sources = append(sources, domain.RankingSource{Name: domain.SourceDense, Chunks: dense, Weight: s.cfg.DenseWeight})
	}
	if len(lexical) > 0 {
		ranked := make([]domain.RankedChunk, 0, len(lexical))
		for _, hit := range lexical {
			ranked = append(ranked, domain.RankedChunk{ChunkID: hit.ChunkID, Score: hit.Rank})
		}
		if s.cfg.LexicalNormalization == LexicalNormalizationMax {
			ranked = normalizeByMax(ranked)
		}
		sources = append(sources, domain.RankingSource{Name: domain.SourceLexical, Chunks: ranked, Weight: s.cfg.LexicalWeight})
	}
	return sources
}

// split keeps the top K chunks at or above the threshold and, when enabled,
// the best below-threshold chunks as supplementary context.
func (s *RetrievalService) split(fused []domain.RankedChunk) ([]domain.RankedChunk, []domain.RankedChunk) {
	var relevant, other []domain.RankedChunk
	for _, chunk := range fused {
		if chunk.Score >= s.cfg.RelevanceThreshold {
			if len(relevant) < s.cfg.TopK {
				relevant = append(relevant, chunk)
			}
			continue
		}
		if s.cfg.SupplementaryEnabled && len(other) < s.cfg.SupplementaryLimit {
			other = append(other, chunk)
		}
	}
	return relevant, other
}

// cite loads chunk records in one batch. Chunks deleted since ranking, or
// outside the access scope, are skipped.
func (s *RetrievalService) cite(
	ctx context.Context,
	relevant, other []domain.RankedChunk,
	scope domain.DocumentIDSet,
) ([]domain.CitedChunk, []domain.CitedChunk, error) {
	ids := make([]string, 0, len(relevant)+len(other))
	for _, c := range relevant {
		ids = append(ids, c.ChunkID)
	}
	for _, c := range other {
		ids = append(ids, c.ChunkID)
	}

	chunks, err := s.documents.FindChunksByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]domain.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}

	build := func(ranked []domain.RankedChunk) []domain.CitedChunk {
		out := make([]domain.CitedChunk, 0, len(ranked))
		for _, r := range ranked {
			chunk, ok := byID[r.ChunkID]
			if !ok {
				s.logger.Debug("retrieval_chunk_missing", "chunk_id", r.ChunkID)
				continue
			}
			if !scope.Has(chunk.DocumentID) {
				s.logger.Warn("retrieval_chunk_out_of_scope", "chunk_id", r.ChunkID, "document_id", chunk.DocumentID)
				continue
			}
			out = append(out, domain.CitedChunk{
				ChunkID:    chunk.ID,
				DocumentID: chunk.DocumentID,
				PageNumber: chunk.PageNumber,
				Text:       chunk.Content,
				Score:      r.Score,
			})
		}
		return out
	}
	return build(relevant), build(other), nil
}

func noInformation(degraded []string) *domain.RetrievalResult {
	return &domain.RetrievalResult{
		Context:       domain.NoInformationSentinel,
		NoInformation: true,
		Degraded:      degraded,
	}
}
