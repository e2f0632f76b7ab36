package redisdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/models"
)

const (
	// tagSeparator replaces the default "," so a value is always one tag.
	tagSeparator = "\x1f"

	contentField  = "content"
	metadataField = "metadata"
	vectorField   = "vector"
	scoreField    = "score"
)

// NewClient parses a redis:// URL. RESP2 keeps FT.SEARCH replies as flat arrays.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.Protocol = 2
	return redis.NewClient(opts), nil
}

// Store is a RediSearch vector index over HASH keys. Metadata fields named
// in TagFields are indexed as TAG and can be filtered on.
type Store struct {
	rdb      *redis.Client
	cfg      config.RedisIndex
	distance models.DistanceStrategy

	mu    sync.Mutex
	ready bool
}

func NewStore(rdb *redis.Client, cfg config.RedisIndex, distance models.DistanceStrategy) *Store {
	return &Store{rdb: rdb, cfg: cfg, distance: distance}
}

// EnsureIndex runs FT.CREATE once; an existing index is kept as is.
func (s *Store) EnsureIndex(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	err := s.rdb.Do(ctx, s.createArgs(dims)...).Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "index already exists") {
		return fmt.Errorf("failed to create index %s: %w", s.cfg.IndexName, err)
	}
	log.Debug().Str("index", s.cfg.IndexName).Int("dims", dims).Msg("redis index ready")
	s.ready = true
	return nil
}

func (s *Store) createArgs(dims int) []any {
	args := []any{
		"FT.CREATE", s.cfg.IndexName, "ON", "HASH", "PREFIX", 1, s.cfg.Prefix,
		"SCHEMA", vectorField, "VECTOR", "FLAT", 6,
		"TYPE", "FLOAT32", "DIM", dims, "DISTANCE_METRIC", s.metric(),
	}
	for _, f := range s.cfg.TagFields {
		args = append(args, f, "TAG", "SEPARATOR", tagSeparator, "CASESENSITIVE")
	}
	return args
}

func (s *Store) metric() string {
	switch s.distance {
	case models.DistanceInnerProduct:
		return "IP"
	case models.DistanceEuclidean:
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *Store) Upsert(ctx context.Context, docs []models.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d documents and %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.EnsureIndex(ctx, len(vectors[0])); err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	for i, doc := range docs {
		fields, err := s.hashFields(doc, vectors[i])
		if err != nil {
			return err
		}
		pipe.HSet(ctx, s.cfg.Prefix+doc.ID, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store documents: %w", err)
	}
	return nil
}

func (s *Store) hashFields(doc models.Document, vector []float32) (map[string]any, error) {
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata of %s: %w", doc.ID, err)
	}
	fields := map[string]any{
		contentField:  doc.PageContent,
		metadataField: string(metaJSON),
		vectorField:   encodeVector(vector),
	}
	for _, tag := range s.cfg.TagFields {
		if v, ok := metadata[tag]; ok {
			fields[tag] = models.MetadataString(v)
		}
	}
	return fields, nil
}

func (s *Store) Search(ctx context.Context, vector []float32, k int, filter *models.Filter) ([]models.ScoredDocument, error) {
	if k <= 0 {
		return nil, models.ErrInvalidK
	}
	args, err := s.searchArgs(vector, k, filter)
	if err != nil {
		return nil, err
	}

	reply, err := s.rdb.Do(ctx, args...).Slice()
	if err != nil {
		if isMissingIndex(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search %s: %w", s.cfg.IndexName, err)
	}
	return s.parseReply(reply)
}

func (s *Store) searchArgs(vector []float32, k int, filter *models.Filter) ([]any, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	pre, err := s.filterQuery(filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("%s=>[KNN %d @%s $BLOB AS %s]", pre, k, vectorField, scoreField)
	return []any{
		"FT.SEARCH", s.cfg.IndexName, query,
		"RETURN", 3, contentField, metadataField, scoreField,
		"SORTBY", scoreField, "ASC",
		"LIMIT", 0, k,
		"PARAMS", 2, "BLOB", encodeVector(vector),
		"DIALECT", 2,
	}, nil
}

// filterQuery renders the KNN pre-filter in RediSearch query syntax.
func (s *Store) filterQuery(filter *models.Filter) (string, error) {
	if filter.Empty() {
		return "*", nil
	}
	parts := make([]string, 0, len(filter.Conditions))
	for _, c := range filter.Conditions {
		if !slices.Contains(s.cfg.TagFields, c.Field) {
			return "", fmt.Errorf("%w: %s", models.ErrUnindexedField, c.Field)
		}
		values := make([]string, len(c.Values))
		for i, v := range c.Values {
			values[i] = escapeTag(v)
		}
		tag := fmt.Sprintf("@%s:{%s}", c.Field, strings.Join(values, " | "))
		if c.Op == models.OpNe {
			tag = "-" + tag
		}
		parts = append(parts, tag)
	}
	return "(" + strings.Join(parts, " ") + ")", nil
}

func (s *Store) parseReply(reply []any) ([]models.ScoredDocument, error) {
	if len(reply) == 0 {
		return nil, nil
	}
	var out []models.ScoredDocument
	for i := 1; i+1 < len(reply); i += 2 {
		key, ok := reply[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key type %T in search reply", reply[i])
		}
		pairs, ok := reply[i+1].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected field list %T in search reply", reply[i+1])
		}

		doc := models.ScoredDocument{Document: models.Document{ID: strings.TrimPrefix(key, s.cfg.Prefix)}}
		for j := 0; j+1 < len(pairs); j += 2 {
			name, _ := pairs[j].(string)
			value, _ := pairs[j+1].(string)
			switch name {
			case contentField:
				doc.PageContent = value
			case metadataField:
				if err := json.Unmarshal([]byte(value), &doc.Metadata); err != nil {
					return nil, fmt.Errorf("failed to decode metadata of %s: %w", key, err)
				}
			case scoreField:
				d, err := strconv.ParseFloat(value, 32)
				if err != nil {
					return nil, fmt.Errorf("bad score %q for %s: %w", value, key, err)
				}
				doc.Score = s.score(d)
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

// score turns a RediSearch distance into a similarity. COSINE and IP
// distances are 1 - similarity; L2 is a squared distance.
func (s *Store) score(distance float64) float32 {
	if s.distance == models.DistanceEuclidean {
		return float32(-distance)
	}
	return float32(1 - distance)
}

// Drop removes the index and its documents. A missing index is not an error.
func (s *Store) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	err := s.rdb.Do(ctx, "FT.DROPINDEX", s.cfg.IndexName, "DD").Err()
	if err != nil && !isMissingIndex(err) {
		return fmt.Errorf("failed to drop index %s: %w", s.cfg.IndexName, err)
	}
	return nil
}

func isMissingIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such index") || strings.Contains(msg, "unknown index name")
}

// Close leaves the shared client open; its owner closes it.
func (s *Store) Close() error {
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

const tagSpecials = ",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ "

func escapeTag(v string) string {
	var b strings.Builder
	for _, r := range v {
		if strings.ContainsRune(tagSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
