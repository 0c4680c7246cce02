package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/usecase"
)

// passthroughConverter lets []string arguments reach the mock driver the way
// pgx receives them.
type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) {
	return v, nil
}

type stringsArg []string

func (a stringsArg) Match(v driver.Value) bool {
	got, ok := v.([]string)
	return ok && reflect.DeepEqual(got, []string(a))
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthroughConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, mock
}

func assertExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations were not met: %v", err)
	}
}

func TestFolderRepositoryFindFolder(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFolderRepository(db)

	mock.ExpectQuery(`SELECT id, name, COALESCE\(parent_id, ''\), is_root, is_permission_inherited`).
		WithArgs("child").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "parent_id", "is_root", "is_permission_inherited"}).
			AddRow("child", "Reports", "root", false, true))

	folder, err := repo.FindFolder(context.Background(), "child")
	if err != nil {
		t.Fatalf("FindFolder() error = %v", err)
	}
	want := domain.Folder{ID: "child", Name: "Reports", ParentID: "root", IsPermissionInherited: true}
	if folder != want {
		t.Fatalf("FindFolder() = %+v, want %+v", folder, want)
	}
	assertExpectations(t, mock)
}

func TestFolderRepositoryFindFolderNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFolderRepository(db)

	mock.ExpectQuery(`FROM folders`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindFolder(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("FindFolder() error = %v, want ErrNotFound", err)
	}
	assertExpectations(t, mock)
}

func TestFolderRepositoryFindGroupPermissions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFolderRepository(db)

	mock.ExpectQuery(`FROM folder_group_permissions\s+WHERE folder_id = \$1 AND group_id = ANY\(\$2\)`).
		WithArgs("f1", stringsArg{"g1", "g2"}).
		WillReturnRows(sqlmock.NewRows([]string{"folder_id", "group_id", "permission"}).
			AddRow("f1", "g1", "READ_ONLY").
			AddRow("f1", "g2", "FULL_ACCESS"))

	perms, err := repo.FindGroupPermissions(context.Background(), "f1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("FindGroupPermissions() error = %v", err)
	}
	want := []domain.GroupPermission{
		{FolderID: "f1", GroupID: "g1", Level: domain.AccessReadOnly},
		{FolderID: "f1", GroupID: "g2", Level: domain.AccessFull},
	}
	if !reflect.DeepEqual(perms, want) {
		t.Fatalf("FindGroupPermissions() = %+v, want %+v", perms, want)
	}
	assertExpectations(t, mock)
}

func TestFolderRepositoryFindGroupPermissionsWithoutGroupsSkipsQuery(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFolderRepository(db)

	perms, err := repo.FindGroupPermissions(context.Background(), "f1", nil)
	if err != nil || perms != nil {
		t.Fatalf("FindGroupPermissions() = %v, %v; want nil, nil", perms, err)
	}
	assertExpectations(t, mock)
}

func TestUserRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`SELECT group_id FROM group_members WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}).AddRow("g1").AddRow("g2"))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM app_admins WHERE user_id = \$1\)`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	groups, err := repo.UserGroupIDs(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UserGroupIDs() error = %v", err)
	}
	if !reflect.DeepEqual(groups, []string{"g1", "g2"}) {
		t.Fatalf("UserGroupIDs() = %v", groups)
	}
	admin, err := repo.IsAdmin(context.Background(), "u1")
	if err != nil || !admin {
		t.Fatalf("IsAdmin() = %v, %v; want true, nil", admin, err)
	}
	assertExpectations(t, mock)
}

func TestDocumentRepositoryFindChunksByIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(`FROM document_chunks\s+WHERE id = ANY\(\$1\)`).
		WithArgs(stringsArg{"c1", "c2"}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "content", "page_number", "chunk_order"}).
			AddRow("c1", "d1", "alpha", 3, 0))

	chunks, err := repo.FindChunksByIDs(context.Background(), []string{"c1", "c2"})
	if err != nil {
		t.Fatalf("FindChunksByIDs() error = %v", err)
	}
	want := []domain.Chunk{{ID: "c1", DocumentID: "d1", Content: "alpha", PageNumber: 3}}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("FindChunksByIDs() = %+v, want %+v", chunks, want)
	}
	assertExpectations(t, mock)
}

func TestDocumentRepositoryDocumentIDsByFolders(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(`SELECT id FROM documents WHERE folder_id = ANY\(\$1\)`).
		WithArgs(stringsArg{"f1"}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d1").AddRow("d2"))

	ids, err := repo.DocumentIDsByFolders(context.Background(), []string{"f1"})
	if err != nil {
		t.Fatalf("DocumentIDsByFolders() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"d1", "d2"}) {
		t.Fatalf("DocumentIDsByFolders() = %v", ids)
	}

	ids, err = repo.DocumentIDsByFolders(context.Background(), nil)
	if err != nil || ids != nil {
		t.Fatalf("DocumentIDsByFolders(nil) = %v, %v", ids, err)
	}
	assertExpectations(t, mock)
}

func TestDocumentRepositoryListChunksByDocumentError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(`WHERE document_id = \$1`).
		WithArgs("d1").
		WillReturnError(errors.New("connection reset"))

	if _, err := repo.ListChunksByDocument(context.Background(), "d1"); err == nil {
		t.Fatalf("expected error")
	}
	assertExpectations(t, mock)
}

func TestFullTextIndexQueryWithFilter(t *testing.T) {
	db, mock := newMockDB(t)
	index := NewFullTextIndex(db, "simple")

	mock.ExpectQuery(`to_tsquery\(\$1::regconfig, \$2\).*document_id = ANY\(\$4\)`).
		WithArgs("simple", "vacation:* & policy:*", 15, stringsArg{"d1", "d2"}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "content", "rank"}).
			AddRow("c1", "d1", "vacation policy", 0.42))

	hits, err := index.Query(context.Background(), domain.LexicalQuery{Terms: []string{"vacation", "policy"}}, 15, domain.NewDocumentIDSet("d2", "d1"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	want := []domain.LexicalHit{{ChunkID: "c1", DocumentID: "d1", Content: "vacation policy", Rank: 0.42}}
	if !reflect.DeepEqual(hits, want) {
		t.Fatalf("Query() = %+v, want %+v", hits, want)
	}
	assertExpectations(t, mock)
}

func TestFullTextIndexQueryWithoutFilter(t *testing.T) {
	db, mock := newMockDB(t)
	index := NewFullTextIndex(db, "")

	mock.ExpectQuery(`WHERE c.search_vector @@ q\s+ORDER BY`).
		WithArgs("simple", "budget:*", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "content", "rank"}))

	hits, err := index.Query(context.Background(), domain.LexicalQuery{Terms: []string{"budget"}}, 5, nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("Query() = %+v, want empty", hits)
	}
	assertExpectations(t, mock)
}

func TestPrefixTSQuerySplitsPunctuatedTerms(t *testing.T) {
	tests := map[string]string{
		"COVID-19":              "covid:* & 19:*",
		"e-mail policy":         "e:* & mail:* & policy:*",
		"Ba\u0301o ca\u0301o": "b\u00e1o:* & c\u00e1o:*",
		"budget:* | !draft":     "budget:* & draft:*",
	}
	for in, want := range tests {
		if got := PrefixTSQuery(usecase.ParseLexicalQuery(in)); got != want {
			t.Fatalf("PrefixTSQuery(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFullTextIndexQueryEmptyFilterSkipsQuery(t *testing.T) {
	db, mock := newMockDB(t)
	index := NewFullTextIndex(db, "simple")

	hits, err := index.Query(context.Background(), domain.LexicalQuery{Terms: []string{"budget"}}, 5, domain.NewDocumentIDSet())
	if err != nil || hits != nil {
		t.Fatalf("Query() = %v, %v; want nil, nil", hits, err)
	}
	assertExpectations(t, mock)
}

func TestEnsureSchemaRejectsUnsafeLanguage(t *testing.T) {
	db, mock := newMockDB(t)
	if err := EnsureSchema(context.Background(), db, "simple'); DROP TABLE folders; --"); err == nil {
		t.Fatalf("expected error for unsafe language")
	}
	assertExpectations(t, mock)
}

func TestEnsureSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(schemaLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`to_tsvector\('english', content\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db, "english"); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	assertExpectations(t, mock)
}
