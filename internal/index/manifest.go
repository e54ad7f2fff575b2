package index

import (
	"context"
	"fmt"
	"slices"
	"strconv"
)

// The manifest collection holds a single record naming the committed
// generation. A generation is only adopted once the manifest points at it,
// so a collection left behind by an interrupted rebuild is never served.
const (
	manifestRecordID = "active"
	manifestGenKey   = "generation"
)

func manifestName(index string) string {
	return index + "_manifest"
}

// committed returns the generation recorded in the manifest, 0 when none
// has been committed.
func (i *Index) committed(ctx context.Context) (int, error) {
	name := manifestName(i.name)
	cols, err := i.backend.ListCollections(ctx)
	if err != nil {
		return 0, err
	}
	if !slices.Contains(cols, name) {
		return 0, nil
	}
	rec, found, err := i.backend.Get(ctx, name, manifestRecordID)
	if err != nil {
		return 0, fmt.Errorf("reading manifest: %w", err)
	}
	if !found {
		return 0, nil
	}
	gen, err := strconv.Atoi(rec.Metadata[manifestGenKey])
	if err != nil || gen <= 0 {
		return 0, fmt.Errorf("%w: manifest generation %q", ErrCorrupt, rec.Metadata[manifestGenKey])
	}
	return gen, nil
}

// commit points the manifest at gen. The single-record upsert is the
// commit point of a rebuild.
func (i *Index) commit(ctx context.Context, gen int) error {
	name := manifestName(i.name)
	cols, err := i.backend.ListCollections(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(cols, name) {
		if err := i.backend.CreateCollection(ctx, name, 1); err != nil {
			return fmt.Errorf("creating manifest: %w", err)
		}
	}
	rec := Record{
		ID:       manifestRecordID,
		Vector:   []float32{1},
		Document: generationName(i.name, gen),
		Metadata: map[string]string{manifestGenKey: strconv.Itoa(gen)},
	}
	if err := i.backend.Upsert(ctx, name, []Record{rec}); err != nil {
		return fmt.Errorf("committing generation %d: %w", gen, err)
	}
	return nil
}
