package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/ports"
)

const defaultPermissionMaxDepth = 64

type PermissionResolverConfig struct {
	RootPolicy domain.RootPolicy
	// MaxDepth bounds the ancestor walk; deeper chains are treated as broken.
	MaxDepth int
}

// PermissionResolver computes the effective access of a set of groups on a folder.
// Direct grants are checked first; inheritance is consulted only when no grant exists.
// Inconsistent trees (missing folders, cycles, runaway depth) resolve to NONE.
type PermissionResolver struct {
	folders    ports.FolderStore
	rootPolicy domain.RootPolicy
	maxDepth   int
	logger     *slog.Logger
	observer   ports.RetrievalObserver
}

func NewPermissionResolver(
	folders ports.FolderStore,
	cfg PermissionResolverConfig,
	logger *slog.Logger,
	observer ports.RetrievalObserver,
) *PermissionResolver {
	if cfg.RootPolicy != domain.RootPolicyOpen {
		cfg.RootPolicy = domain.RootPolicyExplicit
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultPermissionMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &PermissionResolver{
		folders:    folders,
		rootPolicy: cfg.RootPolicy,
		maxDepth:   cfg.MaxDepth,
		logger:     logger,
		observer:   observer,
	}
}

func (r *PermissionResolver) RootPolicy() domain.RootPolicy {
	return r.rootPolicy
}

// Resolve returns the access decision for folderID. Only store failures are returned as errors.
func (r *PermissionResolver) Resolve(ctx context.Context, folderID string, groupIDs []string, isAdmin bool) (domain.AccessDecision, error) {
	if isAdmin {
		decision := domain.AccessDecision{FolderID: folderID, Level: domain.AccessFull, Via: domain.ViaAdmin}
		r.observe(decision)
		return decision, nil
	}
	return r.resolve(ctx, folderID, groupIDs, nil)
}

// resolve walks from folderID towards the root. memo may be nil; when set it is
// shared by resolutions for the same group set within one request.
func (r *PermissionResolver) resolve(ctx context.Context, folderID string, groupIDs []string, memo *resolutionMemo) (domain.AccessDecision, error) {
	groups := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		groups[id] = struct{}{}
	}

	visited := make(map[string]struct{})
	path := make([]string, 0, 4)
	current := folderID
	var decision domain.AccessDecision
	// cachedSteps is the depth of a memo hit that ended the walk.
	cachedSteps := 0

walk:
	for {
		if cached, ok := memo.get(current); ok {
			decision = cached
			cachedSteps = cached.Steps
			if len(path) > 0 && decision.Via == domain.ViaDirect {
				decision.Via = domain.ViaInherited
			}
			break
		}
		if len(path) >= r.maxDepth {
			r.logger.Warn("permission_chain_too_deep", "folder_id", folderID, "max_depth", r.maxDepth)
			decision = brokenChain(current)
			break
		}
		if _, seen := visited[current]; seen {
			r.logger.Warn("permission_chain_cycle", "folder_id", folderID, "repeated_folder_id", current)
			decision = brokenChain(current)
			break
		}
		visited[current] = struct{}{}
		path = append(path, current)

		folder, err := r.folders.FindFolder(ctx, current)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				r.logger.Warn("permission_chain_missing_folder", "folder_id", folderID, "missing_folder_id", current)
				decision = brokenChain(current)
				break
			}
			return domain.AccessDecision{}, fmt.Errorf("find folder %s: %w", current, err)
		}

		if folder.IsRoot && r.rootPolicy == domain.RootPolicyOpen {
			decision = domain.AccessDecision{Level: domain.AccessFull, Via: domain.ViaRoot, SourceFolderID: folder.ID}
			break
		}

		level, err := r.directGrant(ctx, folder.ID, groupIDs, groups)
		if err != nil {
			return domain.AccessDecision{}, err
		}
		switch {
		case level != domain.AccessNone:
			via := domain.ViaDirect
			if len(path) > 1 {
				via = domain.ViaInherited
			}
			decision = domain.AccessDecision{Level: level, Via: via, SourceFolderID: folder.ID}
			break walk
		case folder.IsRoot, !folder.IsPermissionInherited:
			decision = domain.AccessDecision{Level: domain.AccessNone, Via: domain.ViaNoGrant, SourceFolderID: folder.ID}
			break walk
		case folder.ParentID == "":
			r.logger.Warn("permission_chain_orphan_folder", "folder_id", folderID, "orphan_folder_id", folder.ID)
			decision = brokenChain(folder.ID)
			break walk
		}
		current = folder.ParentID
	}

	memo.putPath(path, decision, cachedSteps)
	decision.Steps = cachedSteps + len(path)
	decision.FolderID = folderID
	r.observe(decision)
	return decision, nil
}

func (r *PermissionResolver) directGrant(ctx context.Context, folderID string, groupIDs []string, groups map[string]struct{}) (domain.AccessLevel, error) {
	if len(groupIDs) == 0 {
		return domain.AccessNone, nil
	}
	perms, err := r.folders.FindGroupPermissions(ctx, folderID, groupIDs)
	if err != nil {
		return domain.AccessNone, fmt.Errorf("find group permissions %s: %w", folderID, err)
	}
	best := domain.AccessNone
	for _, perm := range perms {
		if _, member := groups[perm.GroupID]; !member {
			continue
		}
		if perm.Level == domain.AccessFull {
			return domain.AccessFull, nil
		}
		if perm.Level > best {
			best = perm.Level
		}
	}
	return best, nil
}

func (r *PermissionResolver) observe(decision domain.AccessDecision) {
	r.logger.Debug("permission_resolved",
		"folder_id", decision.FolderID,
		"level", decision.Level.String(),
		"via", string(decision.Via),
		"source_folder_id", decision.SourceFolderID,
		"steps", decision.Steps,
	)
	r.observer.ObserveAccessDecision(decision)
}

func brokenChain(folderID string) domain.AccessDecision {
	return domain.AccessDecision{Level: domain.AccessNone, Via: domain.ViaBrokenChain, SourceFolderID: folderID}
}

// resolutionMemo caches decisions per folder for one group set. The zero-value pointer is a no-op.
type resolutionMemo struct {
	mu      sync.Mutex
	entries map[string]domain.AccessDecision
}

func newResolutionMemo() *resolutionMemo {
	return &resolutionMemo{entries: make(map[string]domain.AccessDecision)}
}

func (m *resolutionMemo) get(folderID string) (domain.AccessDecision, bool) {
	if m == nil {
		return domain.AccessDecision{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.entries[folderID]
	return d, ok
}

// putPath records the decision for every folder on the walked path. tailSteps
// is the depth already covered beyond the last folder of path, zero when the
// decision was made at that folder.
// Broken chains are not cached so each affected folder logs its own inconsistency.
func (m *resolutionMemo) putPath(path []string, decision domain.AccessDecision, tailSteps int) {
	if m == nil || len(path) == 0 || decision.Via == domain.ViaBrokenChain {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last := len(path) - 1
	for i, id := range path {
		entry := decision
		entry.FolderID = id
		entry.Steps = len(path) - i + tailSteps
		decidedHere := tailSteps == 0 && i == last
		if !decidedHere && entry.Via == domain.ViaDirect {
			entry.Via = domain.ViaInherited
		}
		if decidedHere && entry.Via == domain.ViaInherited {
			entry.Via = domain.ViaDirect
		}
		m.entries[id] = entry
	}
}
