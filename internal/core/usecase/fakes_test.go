package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

type folderStoreFake struct {
	mu          sync.Mutex
	folders     map[string]domain.Folder
	perms       map[string][]domain.GroupPermission
	findErr     error
	permErr     error
	listErr     error
	findCalls   int
	permCalls   int
	listCalls   int
	lookedUpIDs []string
}

func newFolderStoreFake(folders ...domain.Folder) *folderStoreFake {
	f := &folderStoreFake{
		folders: make(map[string]domain.Folder),
		perms:   make(map[string][]domain.GroupPermission),
	}
	for _, folder := range folders {
		f.folders[folder.ID] = folder
	}
	return f
}

func (f *folderStoreFake) grant(folderID, groupID string, level domain.AccessLevel) {
	f.perms[folderID] = append(f.perms[folderID], domain.GroupPermission{FolderID: folderID, GroupID: groupID, Level: level})
}

func (f *folderStoreFake) FindFolder(_ context.Context, id string) (domain.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	f.lookedUpIDs = append(f.lookedUpIDs, id)
	if f.findErr != nil {
		return domain.Folder{}, f.findErr
	}
	folder, ok := f.folders[id]
	if !ok {
		return domain.Folder{}, fmt.Errorf("folder %s: %w", id, domain.ErrNotFound)
	}
	return folder, nil
}

func (f *folderStoreFake) ListFolderIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.folders))
	for id := range f.folders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FindGroupPermissions returns every grant on the folder; the resolver filters by membership.
func (f *folderStoreFake) FindGroupPermissions(_ context.Context, folderID string, _ []string) ([]domain.GroupPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permCalls++
	if f.permErr != nil {
		return nil, f.permErr
	}
	return append([]domain.GroupPermission(nil), f.perms[folderID]...), nil
}

func (f *folderStoreFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls + f.permCalls + f.listCalls
}

type userDirectoryFake struct {
	admins map[string]bool
	groups map[string][]string
	err    error
}

func (f *userDirectoryFake) UserGroupIDs(_ context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[userID], nil
}

func (f *userDirectoryFake) IsAdmin(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

type documentStoreFake struct {
	mu            sync.Mutex
	docsByFolder  map[string][]string
	chunks        map[string]domain.Chunk
	chunksErr     error
	docsErr       error
	byFolderCalls int
	allCalls      int
	chunkCalls    int
	requestedIDs  []string
}

func newDocumentStoreFake() *documentStoreFake {
	return &documentStoreFake{
		docsByFolder: make(map[string][]string),
		chunks:       make(map[string]domain.Chunk),
	}
}

func (f *documentStoreFake) addChunk(chunk domain.Chunk) {
	f.chunks[chunk.ID] = chunk
}

func (f *documentStoreFake) DocumentIDsByFolders(_ context.Context, folderIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byFolderCalls++
	if f.docsErr != nil {
		return nil, f.docsErr
	}
	var out []string
	for _, id := range folderIDs {
		out = append(out, f.docsByFolder[id]...)
	}
	return out, nil
}

func (f *documentStoreFake) AllDocumentIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	if f.docsErr != nil {
		return nil, f.docsErr
	}
	var out []string
	for _, ids := range f.docsByFolder {
		out = append(out, ids...)
	}
	return out, nil
}

func (f *documentStoreFake) FindChunksByIDs(_ context.Context, ids []string) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkCalls++
	f.requestedIDs = append([]string(nil), ids...)
	if f.chunksErr != nil {
		return nil, f.chunksErr
	}
	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := f.chunks[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

func (f *documentStoreFake) ListChunksByDocument(_ context.Context, documentID string) ([]domain.Chunk, error) {
	if f.chunksErr != nil {
		return nil, f.chunksErr
	}
	var out []domain.Chunk
	for _, chunk := range f.chunks {
		if chunk.DocumentID == documentID {
			out = append(out, chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkOrder < out[j].ChunkOrder })
	return out, nil
}

type embedderFake struct {
	mu         sync.Mutex
	err        error
	queryCalls int
	batches    [][]string
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type vectorIndexFake struct {
	hits        []domain.RankedChunk
	err         error
	searchCalls int
	lastLimit   int
	lastFilter  domain.DocumentIDSet
	replaced    map[string]int
	replaceErr  error
}

func (f *vectorIndexFake) Search(_ context.Context, _ []float32, limit int, filter domain.DocumentIDSet) ([]domain.RankedChunk, error) {
	f.searchCalls++
	f.lastLimit = limit
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.RankedChunk(nil), f.hits...), nil
}

func (f *vectorIndexFake) ReplaceDocumentChunks(_ context.Context, documentID string, chunks []domain.Chunk, _ [][]float32) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	if f.replaced == nil {
		f.replaced = make(map[string]int)
	}
	f.replaced[documentID] = len(chunks)
	return nil
}

type fullTextIndexFake struct {
	hits      []domain.LexicalHit
	err       error
	calls     int
	lastQuery domain.LexicalQuery
	lastLimit int
}

func (f *fullTextIndexFake) Query(_ context.Context, query domain.LexicalQuery, limit int, _ domain.DocumentIDSet) ([]domain.LexicalHit, error) {
	f.calls++
	f.lastQuery = query
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.LexicalHit(nil), f.hits...), nil
}

type lexicalWriterFake struct {
	indexed map[string]int
	deleted []string
	err     error
}

func (f *lexicalWriterFake) IndexChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	if f.err != nil {
		return f.err
	}
	if f.indexed == nil {
		f.indexed = make(map[string]int)
	}
	f.indexed[documentID] = len(chunks)
	return nil
}

func (f *lexicalWriterFake) DeleteDocument(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, documentID)
	return nil
}

type accessResolverFake struct {
	scope domain.DocumentIDSet
	err   error
}

func (f *accessResolverFake) AccessibleDocumentIDs(context.Context, string) (domain.DocumentIDSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scope, nil
}

func (f *accessResolverFake) FolderAccess(context.Context, string, string) (domain.AccessDecision, error) {
	return domain.AccessDecision{}, nil
}

// denseSearcherFake blocks until ctx is done when block is set.
type denseSearcherFake struct {
	mu    sync.Mutex
	hits  []domain.RankedChunk
	err   error
	block bool
	calls int
	lastK int
}

func (f *denseSearcherFake) Search(ctx context.Context, _ string, k int, _ domain.DocumentIDSet) ([]domain.RankedChunk, error) {
	f.mu.Lock()
	f.calls++
	f.lastK = k
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *denseSearcherFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type lexicalSearcherFake struct {
	mu    sync.Mutex
	hits  []domain.LexicalHit
	err   error
	block bool
	calls int
}

func (f *lexicalSearcherFake) Search(ctx context.Context, _ string, _ int, _ domain.DocumentIDSet) ([]domain.LexicalHit, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *lexicalSearcherFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type observerFake struct {
	mu        sync.Mutex
	decisions []domain.AccessDecision
	outcomes  []string
	failures  map[string]int
}

func (f *observerFake) ObserveAccessDecision(d domain.AccessDecision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
}

func (f *observerFake) ObserveAccessScope(bool, int) {}

func (f *observerFake) ObserveRetriever(source string, _ time.Duration, _ int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		return
	}
	if f.failures == nil {
		f.failures = make(map[string]int)
	}
	f.failures[source]++
}

func (f *observerFake) ObserveRetrieval(outcome string, _, _ int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}
