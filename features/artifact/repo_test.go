package artifact_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"thebrain/backend/features/artifact"
)

func artifactRows(id, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "description", "type", "url", "content", "storage_path",
		"status", "metadata", "content_hash", "chunk_index", "parent_artifact_id",
		"indexed_at", "created_at", "updated_at",
	}).AddRow(id, "Note", nil, "note", nil, "hello", nil, status, []byte(`{"k":"v"}`), nil, nil, nil, nil, now, now)
}

func TestPostgresRepo_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := artifact.NewPostgresRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO artifacts (name, description, type, url, content, storage_path, content_hash, status)")).
		WithArgs("Note", nil, "note", nil, "hello", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at"}).
			AddRow("a1", "processing", now, now))

	a := &artifact.Artifact{Name: "Note", Type: artifact.TypeNote, Content: "hello"}
	err = repo.Save(context.Background(), a)
	assert.NoError(t, err)
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, artifact.StatusProcessing, a.Status)
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := artifact.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM artifacts WHERE id = \\$1").
			WithArgs("a1").
			WillReturnRows(artifactRows("a1", artifact.StatusIndexed))

		a, err := repo.Get(context.Background(), "a1")
		assert.NoError(t, err)
		assert.Equal(t, "a1", a.ID)
		assert.Equal(t, "v", a.Metadata["k"])
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM artifacts WHERE id = \\$1").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestPostgresRepo_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := artifact.NewPostgresRepo(db)

	t.Run("WithFilters", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM artifacts").
			WithArgs("indexed", "note").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		mock.ExpectQuery("SELECT (.+) FROM artifacts WHERE 1=1 AND status = \\$1 AND type = \\$2").
			WithArgs("indexed", "note", 10, 0).
			WillReturnRows(artifactRows("a1", artifact.StatusIndexed))

		artifacts, total, err := repo.List(context.Background(), artifact.ListFilter{Status: "indexed", Type: "note", Page: 1, Limit: 10})
		assert.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, artifacts, 1)
	})

	t.Run("DefaultsPagination", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM artifacts").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		mock.ExpectQuery("SELECT (.+) FROM artifacts WHERE 1=1").
			WithArgs(50, 0).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "description", "type", "url", "content", "storage_path",
				"status", "metadata", "content_hash", "chunk_index", "parent_artifact_id",
				"indexed_at", "created_at", "updated_at",
			}))

		artifacts, total, err := repo.List(context.Background(), artifact.ListFilter{})
		assert.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, artifacts)
	})
}

func TestPostgresRepo_MarkIndexed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := artifact.NewPostgresRepo(db)
	embedding := []float32{0.1, 0.2, 0.3}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE artifacts SET status = 'indexed', embedding = $2, content_hash = $3, metadata = $4, indexed_at = now(), updated_at = now() WHERE id = $1")).
		WithArgs("a1", pq.Array(embedding), "hash", []byte(`{"content_length":5}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.MarkIndexed(context.Background(), "a1", embedding, "hash", map[string]interface{}{"content_length": 5})
	assert.NoError(t, err)
}

func TestPostgresRepo_MarkFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := artifact.NewPostgresRepo(db)

	mock.ExpectExec("UPDATE artifacts SET status = 'failed'").
		WithArgs("a1", "embed error").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.MarkFailed(context.Background(), "a1", "embed error"))
}

func TestPostgresRepo_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := artifact.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM artifacts WHERE id = \\$1").
			WithArgs("a1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Delete(context.Background(), "a1"))
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM artifacts WHERE id = \\$1").
			WithArgs("missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), sql.ErrNoRows)
	})
}
