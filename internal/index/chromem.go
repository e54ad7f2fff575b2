package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chromemTracer = otel.Tracer("uniguide.index.chromem")

// errNoEmbed is returned if chromem is ever asked to embed text itself.
// The index always supplies vectors.
var errNoEmbed = errors.New("chromem backend does not embed text")

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps data in memory.
	Path string
	// Compress gzips persisted documents.
	Compress bool
}

// ChromemBackend stores collections in an embedded chromem-go DB.
type ChromemBackend struct {
	db *chromem.DB
}

var _ Backend = (*ChromemBackend)(nil)

// NewChromemBackend opens or creates the DB at cfg.Path.
func NewChromemBackend(cfg ChromemConfig) (*ChromemBackend, error) {
	if cfg.Path == "" {
		return &ChromemBackend{db: chromem.NewDB()}, nil
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}
	return &ChromemBackend{db: db}, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbed
}

// collection must be given an embedding func, or chromem falls back to
// its OpenAI default for persisted collections.
func (b *ChromemBackend) collection(name string) (*chromem.Collection, error) {
	c := b.db.GetCollection(name, noEmbed)
	if c == nil {
		return nil, fmt.Errorf("collection %s not found", name)
	}
	return c, nil
}

func (b *ChromemBackend) CreateCollection(ctx context.Context, name string, dim int) error {
	_, span := chromemTracer.Start(ctx, "ChromemBackend.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("vector_size", dim))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if _, err := b.db.CreateCollection(name, nil, noEmbed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

func (b *ChromemBackend) DeleteCollection(ctx context.Context, name string) error {
	_, span := chromemTracer.Start(ctx, "ChromemBackend.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := b.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

func (b *ChromemBackend) ListCollections(context.Context) ([]string, error) {
	cols := b.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	return names, nil
}

func (b *ChromemBackend) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("record_count", len(records)))

	c, err := b.collection(collection)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Document,
			Metadata:  withSeq(r.Metadata, r.Seq),
			Embedding: r.Vector,
		}
	}
	// Vectors are precomputed, so no embedding concurrency is needed.
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

func (b *ChromemBackend) Get(ctx context.Context, collection, id string) (Record, bool, error) {
	c, err := b.collection(collection)
	if err != nil {
		return Record{}, false, err
	}
	doc, err := c.GetByID(ctx, id)
	if err != nil {
		// chromem reports a missing id only through the error text.
		if strings.Contains(err.Error(), "not found") {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	md, seq, err := splitSeq(doc.Metadata)
	if err != nil {
		return Record{}, false, err
	}
	return Record{ID: doc.ID, Vector: doc.Embedding, Document: doc.Content, Metadata: md, Seq: seq}, true, nil
}

func (b *ChromemBackend) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit))

	c, err := b.collection(collection)
	if err != nil {
		return nil, err
	}
	// chromem requires nResults <= document count.
	n := min(limit, c.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := c.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		md, seq, err := splitSeq(r.Metadata)
		if err != nil {
			return nil, err
		}
		hits[i] = Hit{
			Record:     Record{ID: r.ID, Document: r.Content, Metadata: md, Seq: seq},
			Similarity: r.Similarity,
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	return hits, nil
}

func (b *ChromemBackend) Count(_ context.Context, collection string) (int, error) {
	c, err := b.collection(collection)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// Close is a no-op; chromem persists on write.
func (b *ChromemBackend) Close() error { return nil }
