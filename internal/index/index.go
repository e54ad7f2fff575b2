// Package index is a similarity index over text records.
//
// Records live in a backend collection named "<name>_g<generation>". A
// rebuild writes a complete new generation next to the active one and
// swaps it in under the write lock, so queries never see a partial
// rebuild and a failed rebuild leaves the previous generation serving.
// The "<name>_manifest" collection records the committed generation; only
// that generation is adopted when an index is loaded.
package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/embeddings"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"go.uber.org/zap"
)

// Entry is one source record to be embedded and indexed.
type Entry struct {
	ID       string
	Document string
	Metadata map[string]string
}

// Source supplies the full set of entries for a rebuild.
type Source interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Entry, error)

func (f SourceFunc) Entries(ctx context.Context) ([]Entry, error) { return f(ctx) }

// Match is a query result. Distance is 1 - cosine similarity.
type Match struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float32
}

// Index is safe for concurrent use.
type Index struct {
	name        string
	backend     Backend
	backendName string
	embedder    embeddings.Embedder
	source      Source
	logger      *logging.Logger
	batchSize   int

	// loadMu serializes rebuilds and lazy loads.
	loadMu sync.Mutex

	mu      sync.RWMutex
	active  string
	gen     int
	dim     int
	nextSeq int64
}

// Option configures an Index.
type Option func(*Index)

// WithSource enables a lazy rebuild from src when a query finds no
// generation.
func WithSource(src Source) Option {
	return func(i *Index) { i.source = src }
}

func WithLogger(l *logging.Logger) Option {
	return func(i *Index) { i.logger = l.Named("index") }
}

// WithBatchSize sets how many entries are embedded per request. Default 64.
func WithBatchSize(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// New creates an index over backend. embedder may be nil when only
// vector operations are used.
func New(name string, backend Backend, embedder embeddings.Embedder, opts ...Option) (*Index, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(generationName(name, 1)); err != nil {
		return nil, err
	}
	if err := ValidateCollectionName(manifestName(name)); err != nil {
		return nil, err
	}
	i := &Index{
		name:        name,
		backend:     backend,
		backendName: backendLabel(backend),
		embedder:    embedder,
		logger:      logging.NewNop(),
		batchSize:   64,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func backendLabel(b Backend) string {
	switch b.(type) {
	case *ChromemBackend:
		return "chromem"
	case *QdrantBackend:
		return "qdrant"
	default:
		return "custom"
	}
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// Generation returns the active generation, 0 when not loaded.
func (i *Index) Generation() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.gen
}

// Collection returns the active collection name, empty when not loaded.
func (i *Index) Collection() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.active
}

// Count returns the number of records in the active generation.
func (i *Index) Count(ctx context.Context) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.active == "" {
		return 0, &IndexError{Op: "count", Collection: i.name, Err: ErrIndexNotBuilt}
	}
	return i.backend.Count(ctx, i.active)
}

// Add inserts a record, or replaces the record with the same id while
// keeping its original insertion position. The first Add on an unloaded
// index creates a generation.
func (i *Index) Add(ctx context.Context, id string, vector []float32, document string, metadata map[string]string) error {
	if id == "" {
		return &IndexError{Op: "add", Collection: i.name, Err: errors.New("id is required")}
	}
	if len(vector) == 0 {
		return &IndexError{Op: "add", Collection: i.name, Err: errors.New("vector is empty")}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if want := i.expectedDim(); want > 0 && len(vector) != want {
		return &IndexError{Op: "add", Collection: i.name, Err: fmt.Errorf("vector has dimension %d, want %d", len(vector), want)}
	}
	if i.active == "" {
		if err := i.createLocked(ctx, len(vector)); err != nil {
			return &IndexError{Op: "add", Collection: i.name, Err: err}
		}
	}

	existing, found, err := i.backend.Get(ctx, i.active, id)
	if err != nil {
		return &IndexError{Op: "add", Collection: i.active, Err: err}
	}
	seq := i.nextSeq
	if found {
		seq = existing.Seq
	}

	rec := Record{ID: id, Vector: vector, Document: document, Metadata: metadata, Seq: seq}
	if err := i.backend.Upsert(ctx, i.active, []Record{rec}); err != nil {
		return &IndexError{Op: "add", Collection: i.active, Err: err}
	}
	if !found {
		i.nextSeq++
		Records.WithLabelValues(i.name).Inc()
	}
	return nil
}

// createLocked adopts the committed generation, or starts and commits a
// fresh one, for Add. Caller holds mu.
func (i *Index) createLocked(ctx context.Context, dim int) error {
	gen, gens, err := i.loadable(ctx)
	if err != nil {
		return err
	}
	if gen > 0 {
		return i.adoptLocked(ctx, gen)
	}

	gen = nextGeneration(gens, i.gen)
	name := generationName(i.name, gen)
	if err := i.backend.CreateCollection(ctx, name, dim); err != nil {
		return err
	}
	if err := i.commit(ctx, gen); err != nil {
		_ = i.backend.DeleteCollection(context.WithoutCancel(ctx), name)
		return err
	}
	i.active, i.gen, i.dim, i.nextSeq = name, gen, dim, 0
	Generation.WithLabelValues(i.name).Set(float64(gen))
	Records.WithLabelValues(i.name).Set(0)
	return nil
}

func (i *Index) expectedDim() int {
	if i.dim > 0 {
		return i.dim
	}
	if i.embedder != nil {
		return i.embedder.Dimension()
	}
	return 0
}

// Query returns the k records closest to vector, nearest first. Equal
// distances are ordered by insertion. An unloaded index is loaded from the
// configured source once before giving up with ErrIndexNotBuilt.
func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, &IndexError{Op: "query", Collection: i.name, Err: fmt.Errorf("k must be positive, got %d", k)}
	}
	if len(vector) == 0 {
		return nil, &IndexError{Op: "query", Collection: i.name, Err: errors.New("vector is empty")}
	}

	matches, err := i.query(ctx, vector, k)
	if !errors.Is(err, ErrIndexNotBuilt) || i.source == nil {
		return matches, err
	}
	if lerr := i.EnsureLoaded(ctx, i.source); lerr != nil {
		return nil, &IndexError{Op: "query", Collection: i.name, Err: fmt.Errorf("%w: %w", ErrIndexNotBuilt, lerr)}
	}
	return i.query(ctx, vector, k)
}

func (i *Index) query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	start := time.Now()
	defer func() {
		QueryDuration.WithLabelValues(i.name, i.backendName).Observe(time.Since(start).Seconds())
	}()

	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.active == "" {
		return nil, &IndexError{Op: "query", Collection: i.name, Err: ErrIndexNotBuilt}
	}
	if want := i.expectedDim(); want > 0 && len(vector) != want {
		return nil, &IndexError{Op: "query", Collection: i.active, Err: fmt.Errorf("vector has dimension %d, want %d", len(vector), want)}
	}

	// Backends cut a run of equal similarities arbitrarily. Widen the
	// candidate set until the group tied with the k-th hit is complete, so
	// the cut falls by insertion order.
	limit := 2*k + 8
	var hits []Hit
	for {
		var err error
		hits, err = i.backend.Search(ctx, i.active, vector, limit)
		if err != nil {
			return nil, &IndexError{Op: "query", Collection: i.active, Err: err}
		}
		sortHits(hits)
		if len(hits) < limit || len(hits) <= k || hits[len(hits)-1].Similarity != hits[k-1].Similarity {
			break
		}
		limit *= 2
	}
	if len(hits) > k {
		hits = hits[:k]
	}

	matches := make([]Match, len(hits))
	for n, h := range hits {
		matches[n] = Match{ID: h.ID, Document: h.Document, Metadata: h.Metadata, Distance: 1 - h.Similarity}
	}
	return matches, nil
}

// sortHits orders hits nearest first, then by insertion.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Similarity != hits[b].Similarity {
			return hits[a].Similarity > hits[b].Similarity
		}
		return hits[a].Seq < hits[b].Seq
	})
}

// QueryText embeds text and queries with the result.
func (i *Index) QueryText(ctx context.Context, text string, k int) ([]Match, error) {
	if i.embedder == nil {
		return nil, &IndexError{Op: "query", Collection: i.name, Err: fmt.Errorf("%w: no embedder", ErrInvalidConfig)}
	}
	e, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &IndexError{Op: "query", Collection: i.name, Err: err}
	}
	return i.Query(ctx, e.Vector, k)
}

// Rebuild replaces the index contents with src. On any failure the staging
// generation is dropped and the active generation is left untouched.
func (i *Index) Rebuild(ctx context.Context, src Source) error {
	i.loadMu.Lock()
	defer i.loadMu.Unlock()
	return i.rebuild(ctx, src)
}

func (i *Index) rebuild(ctx context.Context, src Source) (err error) {
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		RebuildsTotal.WithLabelValues(i.name, result).Inc()
	}()

	if src == nil {
		return &IndexError{Op: "rebuild", Collection: i.name, Err: fmt.Errorf("%w: no source", ErrInvalidConfig)}
	}
	if i.embedder == nil {
		return &IndexError{Op: "rebuild", Collection: i.name, Err: fmt.Errorf("%w: no embedder", ErrInvalidConfig)}
	}

	entries, err := src.Entries(ctx)
	if err != nil {
		return &IndexError{Op: "rebuild", Collection: i.name, Err: err}
	}
	if err := validateEntries(entries); err != nil {
		return &IndexError{Op: "rebuild", Collection: i.name, Err: err}
	}

	records, err := i.embedEntries(ctx, entries)
	if err != nil {
		return &IndexError{Op: "rebuild", Collection: i.name, Err: err}
	}

	gens, err := i.generations(ctx)
	if err != nil {
		return &IndexError{Op: "rebuild", Collection: i.name, Err: err}
	}
	gen := nextGeneration(gens, i.Generation())
	staging := generationName(i.name, gen)
	dim := len(records[0].Vector)

	err = i.writeGeneration(ctx, staging, dim, records)
	if err == nil {
		err = i.commit(ctx, gen)
	}
	if err != nil {
		if derr := i.backend.DeleteCollection(context.WithoutCancel(ctx), staging); derr != nil {
			i.logger.Warn(ctx, "failed to drop staging generation", zap.String("collection", staging), zap.Error(derr))
		}
		return &IndexError{Op: "rebuild", Collection: staging, Err: err}
	}

	i.mu.Lock()
	old := i.active
	i.active, i.gen, i.dim, i.nextSeq = staging, gen, dim, int64(len(records))
	i.mu.Unlock()

	Generation.WithLabelValues(i.name).Set(float64(gen))
	Records.WithLabelValues(i.name).Set(float64(len(records)))
	i.dropStale(ctx, gen)

	i.logger.Info(ctx, "index rebuilt",
		zap.String("collection", staging),
		zap.String("previous", old),
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func validateEntries(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: source has no entries", ErrCorrupt)
	}
	seen := make(map[string]int, len(entries))
	for n, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("%w: entry %d has no id", ErrCorrupt, n)
		}
		if strings.TrimSpace(e.Document) == "" {
			return fmt.Errorf("%w: entry %q has no document", ErrCorrupt, e.ID)
		}
		if prev, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q at entries %d and %d", ErrCorrupt, e.ID, prev, n)
		}
		seen[e.ID] = n
	}
	return nil
}

func (i *Index) embedEntries(ctx context.Context, entries []Entry) ([]Record, error) {
	records := make([]Record, 0, len(entries))
	for start := 0; start < len(entries); start += i.batchSize {
		batch := entries[start:min(start+i.batchSize, len(entries))]
		texts := make([]string, len(batch))
		for n, e := range batch {
			texts[n] = e.Document
		}
		embedded, err := i.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding entries %d-%d: %w", start, start+len(batch)-1, err)
		}
		for n, e := range batch {
			records = append(records, Record{
				ID:       e.ID,
				Vector:   embedded[n].Vector,
				Document: e.Document,
				Metadata: e.Metadata,
				Seq:      int64(start + n),
			})
		}
	}
	return records, nil
}

func (i *Index) writeGeneration(ctx context.Context, name string, dim int, records []Record) error {
	// A leftover from an interrupted rebuild may hold this name.
	_ = i.backend.DeleteCollection(ctx, name)
	if err := i.backend.CreateCollection(ctx, name, dim); err != nil {
		return err
	}
	for start := 0; start < len(records); start += i.batchSize {
		if err := i.backend.Upsert(ctx, name, records[start:min(start+i.batchSize, len(records))]); err != nil {
			return err
		}
	}
	n, err := i.backend.Count(ctx, name)
	if err != nil {
		return err
	}
	if n != len(records) {
		return fmt.Errorf("%w: wrote %d records, collection holds %d", ErrCorrupt, len(records), n)
	}
	return nil
}

// generations returns existing generation numbers for this index.
func (i *Index) generations(ctx context.Context) ([]int, error) {
	cols, err := i.backend.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	var gens []int
	for _, c := range cols {
		if g, ok := parseGeneration(i.name, c); ok {
			gens = append(gens, g)
		}
	}
	sort.Ints(gens)
	return gens, nil
}

// nextGeneration returns a number above every existing generation and the
// active one. gens is sorted.
func nextGeneration(gens []int, active int) int {
	next := active + 1
	if len(gens) > 0 && gens[len(gens)-1] >= next {
		next = gens[len(gens)-1] + 1
	}
	return next
}

// dropStale deletes every generation other than keep, so keep 0 drops
// them all. Failures are logged; the next rebuild retries them.
func (i *Index) dropStale(ctx context.Context, keep int) {
	gens, err := i.generations(ctx)
	if err != nil {
		i.logger.Warn(ctx, "failed to list generations", zap.Error(err))
		return
	}
	for _, g := range gens {
		if g == keep {
			continue
		}
		name := generationName(i.name, g)
		if err := i.backend.DeleteCollection(ctx, name); err != nil {
			i.logger.Warn(ctx, "failed to drop old generation", zap.String("collection", name), zap.Error(err))
		}
	}
}

// EnsureLoaded makes a generation active: the committed generation is
// reused as-is, otherwise the index is rebuilt from src once. Generations
// that were never committed are dropped. A nil src with no committed
// generation yields ErrIndexNotBuilt.
func (i *Index) EnsureLoaded(ctx context.Context, src Source) error {
	i.loadMu.Lock()
	defer i.loadMu.Unlock()

	if i.Collection() != "" {
		return nil
	}

	gen, _, err := i.loadable(ctx)
	if err != nil {
		return &IndexError{Op: "load", Collection: i.name, Err: err}
	}
	i.dropStale(ctx, gen)
	if gen > 0 {
		i.mu.Lock()
		defer i.mu.Unlock()
		if err := i.adoptLocked(ctx, gen); err != nil {
			return &IndexError{Op: "load", Collection: i.name, Err: err}
		}
		return nil
	}

	if src == nil {
		return &IndexError{Op: "load", Collection: i.name, Err: ErrIndexNotBuilt}
	}
	return i.rebuild(ctx, src)
}

// loadable returns the committed generation, or 0 when nothing was
// committed or its collection is gone, along with every generation present.
func (i *Index) loadable(ctx context.Context) (int, []int, error) {
	gens, err := i.generations(ctx)
	if err != nil {
		return 0, nil, err
	}
	gen, err := i.committed(ctx)
	if err != nil {
		return 0, nil, err
	}
	if gen > 0 && !slices.Contains(gens, gen) {
		i.logger.Warn(ctx, "committed generation is missing", zap.String("collection", generationName(i.name, gen)))
		gen = 0
	}
	return gen, gens, nil
}

// adoptLocked makes an existing generation active. Caller holds mu.
func (i *Index) adoptLocked(ctx context.Context, gen int) error {
	name := generationName(i.name, gen)
	n, err := i.backend.Count(ctx, name)
	if err != nil {
		return err
	}
	i.active, i.gen, i.dim, i.nextSeq = name, gen, 0, int64(n)
	Generation.WithLabelValues(i.name).Set(float64(gen))
	Records.WithLabelValues(i.name).Set(float64(n))
	i.logger.Info(ctx, "index loaded", zap.String("collection", name), zap.Int("records", n))
	return nil
}

// Close releases the backend.
func (i *Index) Close() error {
	return i.backend.Close()
}
