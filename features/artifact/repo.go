package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

type ListFilter struct {
	Page   int
	Limit  int
	Status string
	Type   string
}

type Repository interface {
	Save(ctx context.Context, a *Artifact) error
	Get(ctx context.Context, id string) (*Artifact, error)
	List(ctx context.Context, f ListFilter) ([]Artifact, int, error)
	UpdateStatus(ctx context.Context, id, status string) error
	MarkIndexed(ctx context.Context, id string, embedding []float32, contentHash string, metadata map[string]interface{}) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const artifactColumns = `id, name, description, type, url, content, storage_path, status, metadata, content_hash, chunk_index, parent_artifact_id, indexed_at, created_at, updated_at`

func (r *PostgresRepo) Save(ctx context.Context, a *Artifact) error {
	query := `INSERT INTO artifacts (name, description, type, url, content, storage_path, content_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'processing')
		RETURNING id, status, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		a.Name, nullable(a.Description), a.Type, nullable(a.URL), nullable(a.Content),
		nullable(a.StoragePath), nullable(a.ContentHash)).
		Scan(&a.ID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = $1`
	return scanArtifact(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Artifact, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 50
	}

	where := ""
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM artifacts WHERE 1=1` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`SELECT `+artifactColumns+` FROM artifacts WHERE 1=1`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, 0, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, total, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE artifacts SET status = $1, updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) MarkIndexed(ctx context.Context, id string, embedding []float32, contentHash string, metadata map[string]interface{}) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `UPDATE artifacts SET status = 'indexed', embedding = $2, content_hash = $3, metadata = $4, indexed_at = now(), updated_at = now() WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query, id, pq.Array(embedding), contentHash, meta)
	return err
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `UPDATE artifacts SET status = 'failed', metadata = jsonb_build_object('error', $2::text, 'failed_at', now()), updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, errMsg)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM artifacts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row scanner) (*Artifact, error) {
	a := &Artifact{}
	var description, url, content, storagePath, contentHash sql.NullString
	var chunkIndex sql.NullInt64
	var parentID sql.NullString
	var indexedAt sql.NullTime
	var meta []byte

	err := row.Scan(&a.ID, &a.Name, &description, &a.Type, &url, &content, &storagePath,
		&a.Status, &meta, &contentHash, &chunkIndex, &parentID, &indexedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Description = description.String
	a.URL = url.String
	a.Content = content.String
	a.StoragePath = storagePath.String
	a.ContentHash = contentHash.String
	if chunkIndex.Valid {
		idx := int(chunkIndex.Int64)
		a.ChunkIndex = &idx
	}
	if parentID.Valid {
		pid := parentID.String
		a.ParentArtifactID = &pid
	}
	if indexedAt.Valid {
		a.IndexedAt = &indexedAt.Time
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return a, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
