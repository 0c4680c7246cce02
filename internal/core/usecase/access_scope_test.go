package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

type scopeFixture struct {
	folders   *folderStoreFake
	users     *userDirectoryFake
	documents *documentStoreFake
}

func newScopeFixture() scopeFixture {
	documents := newDocumentStoreFake()
	documents.docsByFolder["root"] = []string{"doc-root"}
	documents.docsByFolder["finance"] = []string{"doc-fin-1", "doc-fin-2"}
	documents.docsByFolder["reports"] = []string{"doc-rep"}
	documents.docsByFolder["private"] = []string{"doc-priv"}

	return scopeFixture{
		folders: folderTree(),
		users: &userDirectoryFake{
			admins: map[string]bool{"admin": true},
			groups: map[string][]string{"alice": {"staff"}, "bob": {"auditors"}},
		},
		documents: documents,
	}
}

func (f scopeFixture) scope(policy domain.RootPolicy) *AccessScope {
	resolver := NewPermissionResolver(f.folders, PermissionResolverConfig{RootPolicy: policy}, nil, nil)
	return NewAccessScope(f.users, f.folders, f.documents, resolver, 2, nil, nil)
}

func TestAccessScopeAdminSeesAllDocuments(t *testing.T) {
	fx := newScopeFixture()

	set, err := fx.scope(domain.RootPolicyExplicit).AccessibleDocumentIDs(context.Background(), "admin")
	if err != nil {
		t.Fatalf("AccessibleDocumentIDs() error = %v", err)
	}
	if set.Len() != 5 {
		t.Fatalf("expected all 5 documents, got %v", set.IDs())
	}
	if fx.folders.calls() != 0 {
		t.Fatalf("expected no folder lookups for admin, got %d", fx.folders.calls())
	}
}

func TestAccessScopeNoGroupsShortCircuits(t *testing.T) {
	fx := newScopeFixture()

	set, err := fx.scope(domain.RootPolicyExplicit).AccessibleDocumentIDs(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("AccessibleDocumentIDs() error = %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty scope, got %v", set.IDs())
	}
	if fx.folders.calls() != 0 || fx.documents.byFolderCalls != 0 {
		t.Fatalf("expected no scans, got folder=%d documents=%d", fx.folders.calls(), fx.documents.byFolderCalls)
	}
}

func TestAccessScopeNoGroupsWithOpenRoot(t *testing.T) {
	fx := newScopeFixture()

	set, err := fx.scope(domain.RootPolicyOpen).AccessibleDocumentIDs(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("AccessibleDocumentIDs() error = %v", err)
	}
	want := []string{"doc-fin-1", "doc-fin-2", "doc-rep", "doc-root"}
	if !reflect.DeepEqual(set.IDs(), want) {
		t.Fatalf("expected %v, got %v", want, set.IDs())
	}
}

func TestAccessScopeCollectsReadableFolders(t *testing.T) {
	fx := newScopeFixture()
	fx.folders.grant("finance", "staff", domain.AccessReadOnly)
	fx.folders.grant("private", "auditors", domain.AccessFull)

	alice, err := fx.scope(domain.RootPolicyExplicit).AccessibleDocumentIDs(context.Background(), "alice")
	if err != nil {
		t.Fatalf("AccessibleDocumentIDs(alice) error = %v", err)
	}
	if want := []string{"doc-fin-1", "doc-fin-2", "doc-rep"}; !reflect.DeepEqual(alice.IDs(), want) {
		t.Fatalf("expected %v, got %v", want, alice.IDs())
	}

	bob, err := fx.scope(domain.RootPolicyExplicit).AccessibleDocumentIDs(context.Background(), "bob")
	if err != nil {
		t.Fatalf("AccessibleDocumentIDs(bob) error = %v", err)
	}
	if want := []string{"doc-priv"}; !reflect.DeepEqual(bob.IDs(), want) {
		t.Fatalf("expected %v, got %v", want, bob.IDs())
	}
}

func TestAccessScopeNothingReadableSkipsDocumentLookup(t *testing.T) {
	fx := newScopeFixture()

	set, err := fx.scope(domain.RootPolicyExplicit).AccessibleDocumentIDs(context.Background(), "alice")
	if err != nil {
		t.Fatalf("AccessibleDocumentIDs() error = %v", err)
	}
	if set.Len() != 0 || fx.documents.byFolderCalls != 0 {
		t.Fatalf("expected empty scope without document lookup, got %v calls=%d", set.IDs(), fx.documents.byFolderCalls)
	}
}

func TestAccessScopeStoreErrors(t *testing.T) {
	fx := newScopeFixture()
	fx.folders.permErr = errors.New("db down")

	if _, err := fx.scope(domain.RootPolicyExplicit).AccessibleDocumentIDs(context.Background(), "alice"); err == nil {
		t.Fatalf("expected permission store error")
	}

	fx = newScopeFixture()
	fx.users.err = errors.New("directory down")
	if _, err := fx.scope(domain.RootPolicyExplicit).AccessibleDocumentIDs(context.Background(), "alice"); err == nil {
		t.Fatalf("expected user directory error")
	}
}

func TestAccessScopeRequiresUser(t *testing.T) {
	fx := newScopeFixture()

	_, err := fx.scope(domain.RootPolicyExplicit).AccessibleDocumentIDs(context.Background(), "  ")
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAccessScopeFolderAccess(t *testing.T) {
	fx := newScopeFixture()
	fx.folders.grant("finance", "staff", domain.AccessFull)
	scope := fx.scope(domain.RootPolicyExplicit)

	decision, err := scope.FolderAccess(context.Background(), "alice", "reports")
	if err != nil {
		t.Fatalf("FolderAccess() error = %v", err)
	}
	if decision.Level != domain.AccessFull || decision.Via != domain.ViaInherited {
		t.Fatalf("expected inherited FULL_ACCESS, got %+v", decision)
	}

	admin, err := scope.FolderAccess(context.Background(), "admin", "private")
	if err != nil {
		t.Fatalf("FolderAccess(admin) error = %v", err)
	}
	if admin.Via != domain.ViaAdmin {
		t.Fatalf("expected admin decision, got %+v", admin)
	}

	if _, err := scope.FolderAccess(context.Background(), "alice", ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
