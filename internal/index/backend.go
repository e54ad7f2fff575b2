package index

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Backend stores vectors in named collections. Implementations must be
// safe for concurrent use.
type Backend interface {
	// CreateCollection creates an empty collection for vectors of size dim.
	CreateCollection(ctx context.Context, name string, dim int) error
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
	// Upsert inserts records or replaces those with the same ID.
	Upsert(ctx context.Context, collection string, records []Record) error
	// Get returns the stored record for id, or false when absent.
	Get(ctx context.Context, collection, id string) (Record, bool, error)
	// Search returns up to limit hits ordered by descending similarity.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error)
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// Record is one stored entry. Seq is the insertion position used to break
// similarity ties.
type Record struct {
	ID       string
	Vector   []float32
	Document string
	Metadata map[string]string
	Seq      int64
}

// Hit is a search result from a backend.
type Hit struct {
	Record
	Similarity float32
}

// seqKey is the metadata key the insertion position is stored under.
const seqKey = "_seq"

var collectionNameRe = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against [a-z0-9_]{1,64}.
func ValidateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// generationName returns the collection name for generation gen of index.
func generationName(index string, gen int) string {
	return index + "_g" + strconv.Itoa(gen)
}

// parseGeneration extracts gen from "<index>_g<gen>".
func parseGeneration(index, collection string) (int, bool) {
	rest, ok := strings.CutPrefix(collection, index+"_g")
	if !ok || rest == "" {
		return 0, false
	}
	gen, err := strconv.Atoi(rest)
	if err != nil || gen <= 0 || strconv.Itoa(gen) != rest {
		return 0, false
	}
	return gen, true
}

// withSeq returns a copy of md carrying seq.
func withSeq(md map[string]string, seq int64) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[seqKey] = strconv.FormatInt(seq, 10)
	return out
}

// splitSeq removes the insertion position from stored metadata.
func splitSeq(md map[string]string) (map[string]string, int64, error) {
	raw, ok := md[seqKey]
	if !ok {
		return nil, 0, fmt.Errorf("%w: record missing %s", ErrCorrupt, seqKey)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad %s %q", ErrCorrupt, seqKey, raw)
	}
	out := make(map[string]string, len(md)-1)
	for k, v := range md {
		if k != seqKey {
			out[k] = v
		}
	}
	return out, seq, nil
}
