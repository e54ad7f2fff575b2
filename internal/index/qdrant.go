package index

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("uniguide.index.qdrant")

// pointNamespace derives stable point UUIDs from record ids.
var pointNamespace = uuid.MustParse("6f1c7e0a-3b2d-4c5e-9a8f-1d2e3f4a5b6c")

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host   string
	Port   int
	UseTLS bool
	APIKey string

	// MaxRetries bounds retries of transient gRPC failures. Default 3.
	MaxRetries int
	// RetryBackoff is the first retry delay, doubled per attempt. Default 1s.
	RetryBackoff time.Duration
	// MaxMessageSize bounds gRPC messages. Default 50MB.
	MaxMessageSize int
}

func (c *QdrantConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// QdrantBackend stores collections in a Qdrant server.
type QdrantBackend struct {
	client *qdrant.Client
	config QdrantConfig
}

var _ Backend = (*QdrantBackend)(nil)

// NewQdrantBackend connects and health-checks the server.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig) (*QdrantBackend, error) {
	cfg.applyDefaults()
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, cfg.Port)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	return &QdrantBackend{client: client, config: cfg}, nil
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func (b *QdrantBackend) retry(ctx context.Context, op string, fn func() error) error {
	backoff := b.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt == b.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", op, b.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func pointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

func (b *QdrantBackend) CreateCollection(ctx context.Context, name string, dim int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("vector_size", dim))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	err := b.retry(ctx, "create_collection", func() error {
		return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (b *QdrantBackend) DeleteCollection(ctx context.Context, name string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	err := b.retry(ctx, "delete_collection", func() error {
		return b.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (b *QdrantBackend) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := b.retry(ctx, "list_collections", func() error {
		var err error
		names, err = b.client.ListCollections(ctx)
		return err
	})
	return names, err
}

func (b *QdrantBackend) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("record_count", len(records)))

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		md := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"id":       r.ID,
				"document": r.Document,
				"seq":      r.Seq,
				"metadata": md,
			}),
		}
	}

	err := b.retry(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (b *QdrantBackend) Get(ctx context.Context, collection, id string) (Record, bool, error) {
	var points []*qdrant.RetrievedPoint
	err := b.retry(ctx, "get", func() error {
		var err error
		points, err = b.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            []*qdrant.PointId{pointID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return Record{}, false, err
	}
	if len(points) == 0 {
		return Record{}, false, nil
	}
	r, err := recordFromPayload(points[0].GetPayload())
	return r, err == nil, err
}

func (b *QdrantBackend) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit))

	var points []*qdrant.ScoredPoint
	err := b.retry(ctx, "query", func() error {
		var err error
		points, err = b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			// Catalogs are small; exact search keeps results deterministic.
			Params: &qdrant.SearchParams{Exact: qdrant.PtrOf(true)},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits := make([]Hit, len(points))
	for i, p := range points {
		r, err := recordFromPayload(p.GetPayload())
		if err != nil {
			return nil, err
		}
		hits[i] = Hit{Record: r, Similarity: p.GetScore()}
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	return hits, nil
}

func (b *QdrantBackend) Count(ctx context.Context, collection string) (int, error) {
	var n uint64
	err := b.retry(ctx, "count", func() error {
		var err error
		n, err = b.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	return int(n), err
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func recordFromPayload(payload map[string]*qdrant.Value) (Record, error) {
	id, ok := payload["id"]
	if !ok || id.GetStringValue() == "" {
		return Record{}, fmt.Errorf("%w: point missing id", ErrCorrupt)
	}
	seq, ok := payload["seq"]
	if !ok {
		return Record{}, fmt.Errorf("%w: point %s missing seq", ErrCorrupt, id.GetStringValue())
	}
	r := Record{
		ID:       id.GetStringValue(),
		Document: payload["document"].GetStringValue(),
		Seq:      seq.GetIntegerValue(),
	}
	if fields := payload["metadata"].GetStructValue().GetFields(); len(fields) > 0 {
		r.Metadata = make(map[string]string, len(fields))
		for k, v := range fields {
			r.Metadata[k] = v.GetStringValue()
		}
	}
	return r, nil
}
