// Package knowledge implements the persistent, deduplicated, vector-indexed
// store of knowledge chunks and its cache maintenance.
//
// # Overview
//
// A Chunk is a unit of retrievable text with provenance, cache telemetry,
// and independent quality signals. Chunks are deduplicated by a
// content hash: upserting content that already exists collapses onto the
// existing row, preserving the original first_cached timestamp and
// incrementing its access count instead of inserting a duplicate.
//
// # Store
//
//	Upsert(ctx, chunks)                      - insert-or-increment by content hash
//	Search(ctx, embedding, k, sourceFilter)  - cosine similarity, optional filter
//	SearchBySource(ctx, embedding, k, src)   - fixed-source variant for ingestion
//	EvictExpired(ctx, now)                   - delete rows past their expiry
//	RecordAccess(ctx, id)                    - bump access telemetry
//
// The Store talks to PostgreSQL + pgvector through the Querier interface,
// abstracting the hand-written pgx queries so tests can substitute a fake.
// Search order is ascending cosine distance with deterministic tie-breaks
// on access_count then last_accessed; the ivfflat index makes the top-k
// best-effort rather than exact.
//
// # Maintainer
//
// The Maintainer runs the periodic eviction sweep (and reclaims idle
// session indexes when a session store is wired). Sweeps are idempotent.
package knowledge
