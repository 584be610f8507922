package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("searchd.vectorindex")

// scrollPageSize is the page size for full-collection scans.
const scrollPageSize = 1000

// Config holds configuration for the Qdrant client.
type Config struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int

	// APIKey authenticates against Qdrant Cloud. Empty for local instances.
	APIKey string

	// Collection is the image collection name.
	Collection string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff duration; it doubles per retry.
	RetryBackoff time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// IsTransientError reports whether err should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
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

// Index is the Qdrant-backed vector index for the image collection.
type Index struct {
	client *qdrant.Client
	config Config
	logger *zap.Logger
}

// NewIndex connects to Qdrant and verifies the connection with a health check.
func NewIndex(cfg Config, logger *zap.Logger) (*Index, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &Index{client: client, config: cfg, logger: logger.Named("vectorindex")}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return idx, nil
}

// Close closes the gRPC connection.
func (i *Index) Close() error {
	if i.client != nil {
		return i.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on transient
// gRPC failures.
func (i *Index) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := i.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		if attempt == i.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, i.config.MaxRetries, err)
		}

		i.logger.Warn("retrying after transient error",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// EnsureCollection creates the image collection and the keyword payload index
// on filename if they do not exist yet. Safe to call on every startup.
func (i *Index) EnsureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Index.EnsureCollection")
	defer span.End()

	exists, err := i.client.CollectionExists(ctx, i.config.Collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking collection %s: %w", i.config.Collection, err)
	}

	if !exists {
		err = i.retryOperation(ctx, "create_collection", func() error {
			return i.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: i.config.Collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(VectorSize),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", i.config.Collection, err)
		}
		i.logger.Info("created collection", zap.String("collection", i.config.Collection))
	}

	// The filename keyword index makes the exact-match lookups cheap.
	// Creating it again on an existing collection is harmless.
	_, err = i.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: i.config.Collection,
		FieldName:      "filename",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		i.logger.Debug("payload index creation skipped", zap.Error(err))
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes points to the collection, overwriting points with the same id.
func (i *Index) Upsert(ctx context.Context, points []Point) error {
	ctx, span := tracer.Start(ctx, "Index.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("point_count", len(points)))

	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for n, p := range points {
		qpoints[n] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toQdrantPayload(p.Payload),
		}
	}

	err := i.retryOperation(ctx, "upsert", func() error {
		_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: i.config.Collection,
			Points:         qpoints,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// FindByFilename returns the single point whose payload filename equals key.
// Returns ErrNotFound when no point matches. The vector is fetched only when
// withVector is set (it is only needed for similar-image queries).
func (i *Index) FindByFilename(ctx context.Context, key string, withVector bool) (*Point, error) {
	ctx, span := tracer.Start(ctx, "Index.FindByFilename")
	defer span.End()
	span.SetAttributes(attribute.String("filename", key))

	var retrieved []*qdrant.RetrievedPoint
	err := i.retryOperation(ctx, "find_by_filename", func() error {
		points, _, err := i.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: i.config.Collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{filenameCondition(key)},
			},
			Limit:       qdrant.PtrOf(uint32(1)),
			WithPayload: qdrant.NewWithPayload(true),
			WithVectors: qdrant.NewWithVectors(withVector),
		})
		if err != nil {
			return err
		}
		retrieved = points
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(retrieved) == 0 {
		span.SetStatus(codes.Ok, "not found")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	rp := retrieved[0]
	point := &Point{
		ID:      pointIDString(rp.Id),
		Payload: payloadFromQdrant(rp.Payload),
	}
	if withVector {
		if vectors := rp.GetVectors(); vectors != nil {
			if v := vectors.GetVector(); v != nil {
				point.Vector = v.GetData()
			}
		}
	}

	span.SetStatus(codes.Ok, "success")
	return point, nil
}

// Filenames scans the whole collection and returns the set of payload
// filename values, paging through the cursor in batches of scrollPageSize.
func (i *Index) Filenames(ctx context.Context) (map[string]struct{}, error) {
	ctx, span := tracer.Start(ctx, "Index.Filenames")
	defer span.End()

	filenames := make(map[string]struct{})
	var offset *qdrant.PointId

	for {
		var points []*qdrant.RetrievedPoint
		var next *qdrant.PointId

		err := i.retryOperation(ctx, "scroll", func() error {
			p, n, err := i.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: i.config.Collection,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
				WithPayload:    qdrant.NewWithPayloadInclude("filename"),
				WithVectors:    qdrant.NewWithVectors(false),
			})
			if err != nil {
				return err
			}
			points, next = p, n
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		for _, p := range points {
			if name := payloadFromQdrant(p.Payload).Filename; name != "" {
				filenames[name] = struct{}{}
			}
		}

		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}

	span.SetAttributes(attribute.Int("filename_count", len(filenames)))
	span.SetStatus(codes.Ok, "success")
	return filenames, nil
}

// SetMetadata overwrites only the nid and delta payload fields of one point.
// The filename and ocr_text fields are untouched.
func (i *Index) SetMetadata(ctx context.Context, pointID string, nid int64, delta float64) error {
	ctx, span := tracer.Start(ctx, "Index.SetMetadata")
	defer span.End()
	span.SetAttributes(attribute.String("point_id", pointID))

	err := i.retryOperation(ctx, "set_payload", func() error {
		_, err := i.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: i.config.Collection,
			Payload: map[string]*qdrant.Value{
				"nid":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: nid}},
				"delta": {Kind: &qdrant.Value_DoubleValue{DoubleValue: delta}},
			},
			PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID)),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search runs a nearest-neighbor query and returns hits in index-native
// order (descending similarity).
func (i *Index) Search(ctx context.Context, vector []float32, filter Filter, limit, offset uint64) ([]Scored, error) {
	ctx, span := tracer.Start(ctx, "Index.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("limit", int64(limit)),
		attribute.Int64("offset", int64(offset)),
		attribute.String("delta_filter", string(filter.Delta)),
	)

	if err := filter.Delta.Validate(); err != nil {
		return nil, err
	}

	var qfilter *qdrant.Filter
	if conds := filter.conditions(); len(conds) > 0 {
		qfilter = &qdrant.Filter{Must: conds}
	}

	var results []*qdrant.ScoredPoint
	err := i.retryOperation(ctx, "query", func() error {
		res, err := i.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: i.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Filter:         qfilter,
			Limit:          qdrant.PtrOf(limit),
			Offset:         qdrant.PtrOf(offset),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits := make([]Scored, len(results))
	for n, sp := range results {
		hits[n] = Scored{
			Point: Point{
				ID:      pointIDString(sp.Id),
				Payload: payloadFromQdrant(sp.Payload),
			},
			Score: sp.Score,
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}
