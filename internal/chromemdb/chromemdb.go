package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/sj48695/langchain-example/internal/models"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embed         chromem.EmbeddingFunc
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
}

type Options struct {
	// DBPath is the persistence directory. Empty keeps everything in memory.
	DBPath        string
	Compress      bool
	EncryptionKey string
	// Embed is used only when chromem has to embed text itself.
	Embed chromem.EmbeddingFunc
}

var errNoEmbedder = errors.New("chromem collection has no embedding function")

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(collectionName string, opts Options) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if opts.DBPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.DBPath, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	embed := opts.Embed
	if embed == nil {
		embed = func(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }
	}

	exportDir := opts.DBPath
	if exportDir == "" {
		exportDir = "."
	}
	m := &VectorDBManager{
		db:            db,
		embed:         embed,
		dbPath:        opts.DBPath,
		compress:      opts.Compress,
		encryptionKey: opts.EncryptionKey,
		filePath:      filepath.Join(exportDir, collectionName+".chromem"),
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// Upsert stores documents with precomputed vectors. Existing IDs are replaced.
func (m *VectorDBManager) Upsert(ctx context.Context, docs []models.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d documents and %d vectors", len(docs), len(vectors))
	}
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.PageContent,
			Metadata:  doc.StringMetadata(),
			Embedding: vectors[i],
		}
	}
	if err := m.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns the k most similar documents that pass filter, best first.
// Pure equality filters run inside chromem; ne/in conditions are applied
// to a full ranking of the collection.
func (m *VectorDBManager) Search(ctx context.Context, vector []float32, k int, filter *models.Filter) ([]models.ScoredDocument, error) {
	if k <= 0 {
		return nil, models.ErrInvalidK
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	total := m.collection.Count()
	if total == 0 {
		return nil, nil
	}

	where, pushdown := filter.EqualityOnly()
	n := min(k, total)
	if !pushdown {
		where, n = nil, total
	}

	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
		Where:          where,
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.ScoredDocument, 0, min(k, len(results)))
	for _, r := range results {
		doc := toDocument(r)
		if !pushdown && !filter.Match(doc.Metadata) {
			continue
		}
		out = append(out, models.ScoredDocument{Document: doc, Score: r.Similarity})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func toDocument(r chromem.Result) models.Document {
	meta := make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return models.Document{ID: r.ID, PageContent: r.Content, Metadata: meta}
}

// Read retrieves documents by ID or performs a similarity search
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}

	// Perform similarity search
	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// Drop deletes the collection and starts it over empty.
func (m *VectorDBManager) Drop(_ context.Context) error {
	name := m.collection.Name
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	if _, err := m.GetOrCreateCollection(name); err != nil {
		return err
	}
	log.Debug().Str("collection", name).Msg("Collection dropped")
	return nil
}

// Export writes the collection to an encrypted file next to the database.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", m.filePath).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the collection with the content of the export file.
func (m *VectorDBManager) Import(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	name := m.collection.Name
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// the import swaps in a new collection object
	if c := m.db.GetCollection(name, m.embed); c != nil {
		m.collection = c
	}
	log.Debug().Str("collection", name).Int("documents", m.collection.Count()).Msg("Imported collection")
	return nil
}

// Close is a no-op; persistent collections are written on every add.
func (m *VectorDBManager) Close() error {
	return nil
}
