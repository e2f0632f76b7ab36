package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/models"
)

// PGVectorStore keeps documents in a Postgres table with a pgvector column.
// The table is created on the first Upsert, sized to the first vector.
type PGVectorStore struct {
	db       *bun.DB
	cols     config.PGVectorConfig
	distance models.DistanceStrategy

	mu    sync.Mutex
	ready bool
}

type pgRow struct {
	ID       string  `bun:"id"`
	Content  string  `bun:"content"`
	Metadata string  `bun:"metadata"`
	Distance float64 `bun:"distance"`
}

func NewPGVectorStore(db *bun.DB, cols config.PGVectorConfig, distance models.DistanceStrategy) *PGVectorStore {
	return &PGVectorStore{db: db, cols: cols, distance: distance}
}

func (s *PGVectorStore) table() bun.Ident { return bun.Ident(s.cols.Table) }

// Init creates the vector extension and the documents table.
func (s *PGVectorStore) Init(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	if _, err := s.db.NewRaw("CREATE EXTENSION IF NOT EXISTS vector").Exec(ctx); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err := s.db.NewRaw(
		"CREATE TABLE IF NOT EXISTS ? (? text PRIMARY KEY, ? vector(?), ? text NOT NULL, ? jsonb NOT NULL DEFAULT '{}')",
		s.table(),
		bun.Ident(s.cols.IDColumn),
		bun.Ident(s.cols.VectorColumn), dims,
		bun.Ident(s.cols.ContentColumn),
		bun.Ident(s.cols.MetadataColumn),
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.cols.Table, err)
	}
	log.Debug().Str("table", s.cols.Table).Int("dims", dims).Msg("pgvector table ready")
	s.ready = true
	return nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, docs []models.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d documents and %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.Init(ctx, len(vectors[0])); err != nil {
		return err
	}

	id, vec := bun.Ident(s.cols.IDColumn), bun.Ident(s.cols.VectorColumn)
	content, meta := bun.Ident(s.cols.ContentColumn), bun.Ident(s.cols.MetadataColumn)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i, doc := range docs {
			metadata := doc.Metadata
			if metadata == nil {
				metadata = map[string]any{}
			}
			metaJSON, err := json.Marshal(metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata of %s: %w", doc.ID, err)
			}
			_, err = tx.NewRaw(
				"INSERT INTO ? (?, ?, ?, ?) VALUES (?, ?::vector, ?, ?::jsonb) "+
					"ON CONFLICT (?) DO UPDATE SET ? = EXCLUDED.?, ? = EXCLUDED.?, ? = EXCLUDED.?",
				s.table(), id, vec, content, meta,
				doc.ID, formatVector(vectors[i]), doc.PageContent, string(metaJSON),
				id, vec, vec, content, content, meta, meta,
			).Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to insert %s: %w", doc.ID, err)
			}
		}
		return nil
	})
}

func (s *PGVectorStore) exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready {
		return true, nil
	}
	var ok bool
	if err := s.db.NewRaw("SELECT to_regclass(?) IS NOT NULL", s.cols.Table).Scan(ctx, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *PGVectorStore) Search(ctx context.Context, vector []float32, k int, filter *models.Filter) ([]models.ScoredDocument, error) {
	if k <= 0 {
		return nil, models.ErrInvalidK
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ok, err := s.exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check table %s: %w", s.cols.Table, err)
	}
	if !ok {
		return nil, nil
	}

	var rows []pgRow
	if err := s.searchQuery(vector, k, filter).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", s.cols.Table, err)
	}

	out := make([]models.ScoredDocument, 0, len(rows))
	for _, r := range rows {
		var meta map[string]any
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", r.ID, err)
		}
		out = append(out, models.ScoredDocument{
			Document: models.Document{ID: r.ID, PageContent: r.Content, Metadata: meta},
			Score:    s.score(r.Distance),
		})
	}
	return out, nil
}

func (s *PGVectorStore) searchQuery(vector []float32, k int, filter *models.Filter) *bun.RawQuery {
	query := "SELECT ? AS id, ? AS content, ?::text AS metadata, ? ? ?::vector AS distance FROM ?"
	args := []any{
		bun.Ident(s.cols.IDColumn),
		bun.Ident(s.cols.ContentColumn),
		bun.Ident(s.cols.MetadataColumn),
		bun.Ident(s.cols.VectorColumn), bun.Safe(s.operator()), formatVector(vector),
		s.table(),
	}
	if where, whereArgs := filterSQL(filter, s.cols.MetadataColumn); where != "" {
		query += " WHERE " + where
		args = append(args, whereArgs...)
	}
	query += " ORDER BY distance LIMIT ?"
	args = append(args, k)
	return s.db.NewRaw(query, args...)
}

func (s *PGVectorStore) operator() string {
	switch s.distance {
	case models.DistanceInnerProduct:
		return "<#>"
	case models.DistanceEuclidean:
		return "<->"
	default:
		return "<=>"
	}
}

// score maps a pgvector distance to a similarity where higher is closer.
func (s *PGVectorStore) score(distance float64) float32 {
	if s.distance == models.DistanceCosine || s.distance == "" {
		return float32(1 - distance)
	}
	return float32(-distance)
}

// filterSQL renders the filter as a conjunction over the jsonb metadata column.
func filterSQL(filter *models.Filter, metadataColumn string) (string, []any) {
	if filter.Empty() {
		return "", nil
	}
	col := bun.Ident(metadataColumn)
	parts := make([]string, 0, len(filter.Conditions))
	var args []any
	for _, c := range filter.Conditions {
		switch c.Op {
		case models.OpEq:
			parts = append(parts, "?->>? = ?")
			args = append(args, col, c.Field, c.Values[0])
		case models.OpNe:
			parts = append(parts, "?->>? IS DISTINCT FROM ?")
			args = append(args, col, c.Field, c.Values[0])
		case models.OpIn:
			parts = append(parts, "?->>? = ANY(?)")
			args = append(args, col, c.Field, pgdialect.Array(c.Values))
		}
	}
	return strings.Join(parts, " AND "), args
}

func formatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Drop removes the documents table.
func (s *PGVectorStore) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.NewRaw("DROP TABLE IF EXISTS ?", s.table()).Exec(ctx)
	s.ready = false
	return err
}

// Close leaves the shared *bun.DB open; its owner closes it.
func (s *PGVectorStore) Close() error {
	return nil
}
