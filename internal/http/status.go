package http

import "context"

// catalogStatus reports the active catalog generation and its size.
// Records is -1 when the count cannot be read, for example before the
// first build.
func catalogStatus(ctx context.Context, idx CatalogIndex) *CatalogStatus {
	st := &CatalogStatus{
		Collection: idx.Collection(),
		Generation: idx.Generation(),
		Records:    -1,
	}
	if st.Generation == 0 {
		return st
	}
	if n, err := idx.Count(ctx); err == nil {
		st.Records = n
	}
	return st
}
