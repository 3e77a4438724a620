// Package pgvectorstore implements the Memory Index vtable (§4.9) on top of
// PostgreSQL + pgvector, as an optional persistent third backend alongside
// pkg/memindex/flat and pkg/memindex/hnsw.
//
// Grounded directly on the teacher's pkg/memory/postgres package (schema.go,
// semantic_index.go, store.go): the same connection-pool-plus-AfterConnect-
// hook setup, the same ON CONFLICT upsert shape, and the same
// pgx.CollectRows scan pattern, generalized from a single fixed cosine-HNSW
// chunks table to a table whose distance operator and ANN index operator
// class are chosen from the index's configured [memindex.Metric].
package pgvectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/runanywhere/racore/pkg/memindex"
	"github.com/runanywhere/racore/pkg/racerr"
)

// Store is a pgvector-backed [memindex.Index]. Construct with [Open].
type Store struct {
	pool      *pgxpool.Pool
	table     string
	metric    memindex.Metric
	dimension int
}

func operatorClass(metric memindex.Metric) (opClass, operator string, err error) {
	switch metric {
	case memindex.MetricL2:
		return "vector_l2_ops", "<->", nil
	case memindex.MetricCosine:
		return "vector_cosine_ops", "<=>", nil
	case memindex.MetricInnerProduct:
		return "vector_ip_ops", "<#>", nil
	default:
		return "", "", racerr.New(racerr.InvalidArgument, "memindex/pgvectorstore", "operatorClass", "unknown metric", 0)
	}
}

// Open connects to dsn, registers pgvector's wire types on every new
// connection, and migrates a dedicated table named table sized for
// dimension and the given metric's operator class. table must be a valid
// unquoted SQL identifier chosen by the caller (e.g. "memindex_rag_chunks"),
// since one Postgres database may host more than one Memory Index.
func Open(ctx context.Context, dsn string, table string, dimension int, metric memindex.Metric) (*Store, error) {
	opClass, _, err := operatorClass(metric)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memindex/pgvectorstore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memindex/pgvectorstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memindex/pgvectorstore: ping: %w", err)
	}

	s := &Store{pool: pool, table: table, metric: metric, dimension: dimension}
	if err := s.migrate(ctx, opClass); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context, opClass string) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id          TEXT         PRIMARY KEY,
    embedding   vector(%[2]d) NOT NULL,
    metadata    TEXT         NOT NULL DEFAULT '',
    content     TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding %[3]s);
`, s.table, s.dimension, opClass)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("memindex/pgvectorstore: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// Add implements [memindex.Index] as an upsert, matching [Store.Update]:
// pgvector's table has no separate "insert must not exist" mode worth
// exposing, so both verbs share one statement.
func (s *Store) Add(ctx context.Context, e memindex.Entry) error {
	return s.upsert(ctx, e)
}

// Update implements [memindex.Index].
func (s *Store) Update(ctx context.Context, e memindex.Entry) error {
	return s.upsert(ctx, e)
}

func (s *Store) upsert(ctx context.Context, e memindex.Entry) error {
	if len(e.Vector) != s.dimension {
		return racerr.New(racerr.InvalidArgument, "memindex/pgvectorstore", "upsert",
			fmt.Sprintf("expected dimension %d, got %d", s.dimension, len(e.Vector)), 0)
	}
	q := fmt.Sprintf(`
		INSERT INTO %[1]s (id, embedding, metadata, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    embedding = EXCLUDED.embedding,
		    metadata  = EXCLUDED.metadata,
		    content   = EXCLUDED.content`, s.table)
	_, err := s.pool.Exec(ctx, q, e.ID, pgvector.NewVector(e.Vector), e.Metadata, e.Text)
	if err != nil {
		return fmt.Errorf("memindex/pgvectorstore: upsert: %w", err)
	}
	return nil
}

// DeleteByID implements [memindex.Index].
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("memindex/pgvectorstore: delete: %w", err)
	}
	return nil
}

// Search implements [memindex.Index]. filter.Match, if set, is applied
// client-side after the database returns candidates, since [memindex.Filter]
// is an opaque Go predicate the database cannot evaluate; callers needing
// server-side filtering should narrow topK generously to compensate.
func (s *Store) Search(ctx context.Context, query []float32, k int, filter *memindex.Filter) ([]memindex.Result, error) {
	if len(query) != s.dimension {
		return nil, racerr.New(racerr.InvalidArgument, "memindex/pgvectorstore", "Search",
			fmt.Sprintf("expected dimension %d, got %d", s.dimension, len(query)), 0)
	}
	_, operator, err := operatorClass(s.metric)
	if err != nil {
		return nil, err
	}

	fetchLimit := k
	if filter != nil && filter.Match != nil {
		fetchLimit = k * 4 // over-fetch to compensate for client-side filtering
	}

	q := fmt.Sprintf(`
		SELECT id, metadata, content, embedding %[1]s $1 AS raw_distance
		FROM   %[2]s
		ORDER  BY raw_distance
		LIMIT  $2`, operator, s.table)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(query), fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("memindex/pgvectorstore: search: %w", err)
	}

	rawResults, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memindex.Result, error) {
		var (
			id, metadata, content string
			rawDistance           float64
		)
		if err := row.Scan(&id, &metadata, &content, &rawDistance); err != nil {
			return memindex.Result{}, err
		}
		// <=> returns cosine *distance*, <#> returns negative inner product;
		// convert both back to the raw metric convention flat/hnsw share
		// before normalizing, so NormalizeScore's sign rule stays uniform.
		raw := rawDistance
		switch s.metric {
		case memindex.MetricCosine:
			raw = 1 - rawDistance
		case memindex.MetricInnerProduct:
			raw = -rawDistance
		}
		return memindex.Result{ID: id, Score: memindex.NormalizeScore(s.metric, raw), Metadata: metadata, Text: content}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memindex/pgvectorstore: scan rows: %w", err)
	}

	out := make([]memindex.Result, 0, k)
	for _, r := range rawResults {
		if !filter.Accepts(r.Metadata) {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Size implements [memindex.Index].
func (s *Store) Size(ctx context.Context) (int, error) {
	var n int
	q := fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("memindex/pgvectorstore: size: %w", err)
	}
	return n, nil
}

// Clear implements [memindex.Index].
func (s *Store) Clear(ctx context.Context) error {
	q := fmt.Sprintf(`TRUNCATE TABLE %s`, s.table)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("memindex/pgvectorstore: clear: %w", err)
	}
	return nil
}

// snapshotRow is the JSON wire format for one row in a [Store.Snapshot].
type snapshotRow struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata string    `json:"metadata"`
	Text     string    `json:"text"`
}

// Snapshot implements [memindex.Index] by reading every row back as JSON.
// Intended for migrating between backends or taking an offline backup, not
// as a hot path — large tables should use pg_dump instead.
func (s *Store) Snapshot(ctx context.Context) (memindex.Snapshot, error) {
	q := fmt.Sprintf(`SELECT id, embedding, metadata, content FROM %s ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("memindex/pgvectorstore: snapshot: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (snapshotRow, error) {
		var (
			id, metadata, content string
			vec                   pgvector.Vector
		)
		if err := row.Scan(&id, &vec, &metadata, &content); err != nil {
			return snapshotRow{}, err
		}
		return snapshotRow{ID: id, Vector: vec.Slice(), Metadata: metadata, Text: content}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memindex/pgvectorstore: scan snapshot rows: %w", err)
	}
	return marshalSnapshot(results)
}

// Restore implements [memindex.Index]: it clears the table, then re-inserts
// every row from snap inside a single transaction.
func (s *Store) Restore(ctx context.Context, snap memindex.Snapshot) error {
	rows, err := unmarshalSnapshot(snap)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("memindex/pgvectorstore: restore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, s.table)); err != nil {
		return fmt.Errorf("memindex/pgvectorstore: restore: truncate: %w", err)
	}
	for _, r := range rows {
		q := fmt.Sprintf(`INSERT INTO %s (id, embedding, metadata, content) VALUES ($1, $2, $3, $4)`, s.table)
		if _, err := tx.Exec(ctx, q, r.ID, pgvector.NewVector(r.Vector), r.Metadata, r.Text); err != nil {
			return fmt.Errorf("memindex/pgvectorstore: restore: insert %q: %w", r.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("memindex/pgvectorstore: restore: commit: %w", err)
	}
	return nil
}
