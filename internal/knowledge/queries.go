package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the subset of pgx pool/connection/transaction behavior the
// queries need, so Queries works over a pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the pgx implementation of Querier against the
// knowledge_chunks schema. All statements are parameterized.
type Queries struct {
	db DBTX
}

// NewQueries creates a Queries over the given connection source.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const upsertChunkSQL = `
INSERT INTO knowledge_chunks (
    content, content_hash, embedding, source_type, source_url, title,
    expires_at, relevance_score, authority_score, user_feedback_score, metadata
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (content_hash) DO UPDATE SET
    access_count  = knowledge_chunks.access_count + 1,
    last_accessed = now(),
    embedding     = COALESCE(knowledge_chunks.embedding, EXCLUDED.embedding)
RETURNING id, (xmax = 0) AS created, access_count`

// UpsertChunk implements the insert-or-increment primitive. The conflict
// branch keeps the earlier first_cached and backfills a missing embedding;
// (xmax = 0) distinguishes a fresh insert from a conflict update.
func (q *Queries) UpsertChunk(ctx context.Context, p UpsertChunkParams) (UpsertChunkRow, error) {
	metadataJSON, err := json.Marshal(orEmpty(p.Metadata))
	if err != nil {
		return UpsertChunkRow{}, fmt.Errorf("marshaling metadata: %w", err)
	}

	var embedding *pgvector.Vector
	if p.Embedding != nil {
		v := pgvector.NewVector(p.Embedding)
		embedding = &v
	}

	expiresAt := pgtype.Timestamptz{}
	if p.ExpiresAt != nil {
		expiresAt = pgtype.Timestamptz{Time: *p.ExpiresAt, Valid: true}
	}

	var row UpsertChunkRow
	err = q.db.QueryRow(ctx, upsertChunkSQL,
		p.Content, p.ContentHash, embedding, p.SourceType,
		nullableText(p.SourceURL), nullableText(p.Title), expiresAt,
		p.RelevanceScore, p.AuthorityScore, p.UserFeedbackScore, metadataJSON,
	).Scan(&row.ID, &row.Created, &row.AccessCount)
	if err != nil {
		return UpsertChunkRow{}, err
	}
	return row, nil
}

const searchChunksSQL = `
SELECT id, content, content_hash, source_type, source_url, title,
       access_count, last_accessed, first_cached, expires_at,
       relevance_score, authority_score, user_feedback_score,
       metadata, similarity
FROM match_chunks($1, $2, $3)`

// SearchChunks runs the filterable similarity function. An empty filter is
// passed as NULL, matching all source types.
func (q *Queries) SearchChunks(ctx context.Context, p SearchChunksParams) ([]ChunkRow, error) {
	vec := pgvector.NewVector(p.QueryEmbedding)
	var filter *string
	if p.SourceFilter != "" {
		filter = &p.SourceFilter
	}

	rows, err := q.db.Query(ctx, searchChunksSQL, &vec, p.Limit, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

const searchChunksBySourceSQL = `
SELECT id, content, content_hash, source_type, source_url, title,
       access_count, last_accessed, first_cached, expires_at,
       relevance_score, authority_score, user_feedback_score,
       metadata, similarity
FROM match_chunks_by_source($1, $2, $3)`

// SearchChunksBySource runs the fixed-source similarity function.
func (q *Queries) SearchChunksBySource(ctx context.Context, p SearchChunksBySourceParams) ([]ChunkRow, error) {
	vec := pgvector.NewVector(p.QueryEmbedding)

	rows, err := q.db.Query(ctx, searchChunksBySourceSQL, &vec, p.Limit, p.SourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

const deleteExpiredSQL = `
DELETE FROM knowledge_chunks
WHERE expires_at IS NOT NULL AND expires_at <= $1`

// DeleteExpiredChunks removes rows whose expiry has passed. Rows with a
// NULL expires_at are curated content and are never deleted.
func (q *Queries) DeleteExpiredChunks(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteExpiredSQL, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const recordAccessSQL = `
UPDATE knowledge_chunks
SET access_count = access_count + 1, last_accessed = now()
WHERE id = $1`

// RecordChunkAccess bumps access telemetry for one row.
func (q *Queries) RecordChunkAccess(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, recordAccessSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChunkNotFound
	}
	return nil
}

// scanChunkRows reads similarity hits, tolerating NULL provenance columns.
func scanChunkRows(rows pgx.Rows) ([]ChunkRow, error) {
	var out []ChunkRow
	for rows.Next() {
		var (
			row         ChunkRow
			sourceURL   pgtype.Text
			title       pgtype.Text
			expiresAt   pgtype.Timestamptz
			metadataRaw []byte
		)
		if err := rows.Scan(
			&row.ID, &row.Content, &row.ContentHash, &row.SourceType,
			&sourceURL, &title,
			&row.AccessCount, &row.LastAccessed, &row.FirstCached, &expiresAt,
			&row.RelevanceScore, &row.AuthorityScore, &row.UserFeedbackScore,
			&metadataRaw, &row.Similarity,
		); err != nil {
			return nil, err
		}

		row.SourceURL = sourceURL.String
		row.Title = title.String
		if expiresAt.Valid {
			t := expiresAt.Time
			row.ExpiresAt = &t
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &row.Metadata); err != nil {
				// Corrupt metadata should not poison the whole result set.
				row.Metadata = map[string]string{}
			}
		}

		out = append(out, row)
	}
	return out, rows.Err()
}

// nullableText maps an empty string to SQL NULL.
func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// orEmpty avoids persisting JSON null for absent metadata.
func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
