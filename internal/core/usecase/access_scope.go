package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/ports"
)

const defaultAccessScopeConcurrency = 8

// AccessScope derives the documents a user may search over from the folder tree.
// Nothing is cached across calls: permissions are resolved fresh per request.
type AccessScope struct {
	users       ports.UserDirectory
	folders     ports.FolderStore
	documents   ports.DocumentStore
	resolver    *PermissionResolver
	concurrency int
	logger      *slog.Logger
	observer    ports.RetrievalObserver
}

func NewAccessScope(
	users ports.UserDirectory,
	folders ports.FolderStore,
	documents ports.DocumentStore,
	resolver *PermissionResolver,
	concurrency int,
	logger *slog.Logger,
	observer ports.RetrievalObserver,
) *AccessScope {
	if concurrency <= 0 {
		concurrency = defaultAccessScopeConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &AccessScope{
		users:       users,
		folders:     folders,
		documents:   documents,
		resolver:    resolver,
		concurrency: concurrency,
		logger:      logger,
		observer:    observer,
	}
}

func (s *AccessScope) principal(ctx context.Context, userID string) (domain.Principal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Principal{}, domain.WrapError(domain.ErrUnauthorized, "resolve principal", fmt.Errorf("user id is required"))
	}
	isAdmin, err := s.users.IsAdmin(ctx, userID)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("check admin: %w", err)
	}
	if isAdmin {
		return domain.Principal{UserID: userID, IsAdmin: true}, nil
	}
	groups, err := s.users.UserGroupIDs(ctx, userID)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("load user groups: %w", err)
	}
	return domain.Principal{UserID: userID, GroupIDs: groups}, nil
}

func (s *AccessScope) AccessibleDocumentIDs(ctx context.Context, userID string) (domain.DocumentIDSet, error) {
	p, err := s.principal(ctx, userID)
	if err != nil {
		return nil, err
	}

	if p.IsAdmin {
		ids, err := s.documents.AllDocumentIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list all documents: %w", err)
		}
		set := domain.NewDocumentIDSet(ids...)
		s.observer.ObserveAccessScope(true, set.Len())
		return set, nil
	}

	// Without groups only an open root can grant anything.
	if len(p.GroupIDs) == 0 && s.resolver.RootPolicy() != domain.RootPolicyOpen {
		s.logger.Debug("access_scope_empty", "user_id", p.UserID, "reason", "no_groups")
		s.observer.ObserveAccessScope(false, 0)
		return domain.NewDocumentIDSet(), nil
	}

	folderIDs, err := s.folders.ListFolderIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}

	memo := newResolutionMemo()
	allowed := make([]bool, len(folderIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, folderID := range folderIDs {
		g.Go(func() error {
			decision, err := s.resolver.resolve(gctx, folderID, p.GroupIDs, memo)
			if err != nil {
				return err
			}
			allowed[i] = decision.Allowed()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve folder access: %w", err)
	}

	readable := make([]string, 0, len(folderIDs))
	for i, folderID := range folderIDs {
		if allowed[i] {
			readable = append(readable, folderID)
		}
	}
	if len(readable) == 0 {
		s.observer.ObserveAccessScope(false, 0)
		return domain.NewDocumentIDSet(), nil
	}

	ids, err := s.documents.DocumentIDsByFolders(ctx, readable)
	if err != nil {
		return nil, fmt.Errorf("list documents by folders: %w", err)
	}
	set := domain.NewDocumentIDSet(ids...)
	s.logger.Debug("access_scope_resolved",
		"user_id", p.UserID,
		"folders_total", len(folderIDs),
		"folders_readable", len(readable),
		"documents", set.Len(),
	)
	s.observer.ObserveAccessScope(false, set.Len())
	return set, nil
}

func (s *AccessScope) FolderAccess(ctx context.Context, userID, folderID string) (domain.AccessDecision, error) {
	if strings.TrimSpace(folderID) == "" {
		return domain.AccessDecision{}, domain.WrapError(domain.ErrInvalidInput, "folder access", fmt.Errorf("folder id is required"))
	}
	p, err := s.principal(ctx, userID)
	if err != nil {
		return domain.AccessDecision{}, err
	}
	return s.resolver.Resolve(ctx, folderID, p.GroupIDs, p.IsAdmin)
}
