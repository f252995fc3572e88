package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const (
	qdrantUpsertBatch = 100

	payloadChunkID  = "chunk_id"
	payloadSource   = "source"
	payloadText     = "text"
	payloadOrdinal  = "ordinal"
	payloadMetadata = "metadata"
)

// QdrantIndex implements VectorIndex with one Qdrant collection per name,
// over the gRPC API.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	prefix      string
	apiKey      string
}

// NewQdrantIndex connects to the configured Qdrant gRPC endpoint.
func NewQdrantIndex(cfg config.VectorsConfig) (*QdrantIndex, error) {
	creds := insecure.NewCredentials()
	if cfg.QdrantTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	addr := fmt.Sprintf("%s:%d", cfg.QdrantHost, cfg.QdrantPort)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, amerrors.NetworkError("failed to connect to Qdrant at "+addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		prefix:      cfg.CollectionPrefix,
		apiKey:      cfg.QdrantAPIKey,
	}, nil
}

func (q *QdrantIndex) ctx(ctx context.Context) context.Context {
	if q.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", q.apiKey)
}

func (q *QdrantIndex) remoteName(name string) string {
	return q.prefix + name
}

// CreateOrReplace implements VectorIndex by dropping and recreating the
// collection. A concurrent create or a dimension change is a build conflict.
func (q *QdrantIndex) CreateOrReplace(ctx context.Context, name string, chunks []chunk.Chunk, embeddings [][]float32) error {
	dims, err := validateEmbeddings(chunks, embeddings)
	if err != nil {
		return err
	}
	ctx = q.ctx(ctx)
	remote := q.remoteName(name)

	exists, err := q.exists(ctx, remote)
	if err != nil {
		return err
	}
	if exists {
		info, err := q.collections.Get(ctx, &qdrantclient.GetCollectionInfoRequest{CollectionName: remote})
		if err != nil {
			return qdrantError("get collection "+remote, err)
		}
		if size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(); size != uint64(dims) {
			return buildConflict(name, fmt.Sprintf("dimensions %d != %d", size, dims))
		}
		if _, err := q.collections.Delete(ctx, &qdrantclient.DeleteCollection{CollectionName: remote}); err != nil {
			return qdrantError("delete collection "+remote, err)
		}
	}

	_, err = q.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: remote,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(dims),
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if status.Code(err) == codes.AlreadyExists {
		return buildConflict(name, "collection created concurrently")
	}
	if err != nil {
		return qdrantError("create collection "+remote, err)
	}

	points, err := pointsFor(chunks, embeddings)
	if err != nil {
		return err
	}
	wait := true
	for start := 0; start < len(points); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(points))
		if _, err := q.points.Upsert(ctx, &qdrantclient.UpsertPoints{
			CollectionName: remote,
			Wait:           &wait,
			Points:         points[start:end],
		}); err != nil {
			return qdrantError("upsert points into "+remote, err)
		}
	}

	slog.Debug("collection_written",
		slog.String("collection", remote),
		slog.Int("chunks", len(chunks)),
		slog.Int("dimensions", dims))
	return nil
}

// Query implements VectorIndex.
func (q *QdrantIndex) Query(ctx context.Context, name string, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	ctx = q.ctx(ctx)
	remote := q.remoteName(name)

	resp, err := q.points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: remote,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if status.Code(err) == codes.NotFound {
		return nil, collectionNotFound(name)
	}
	if err != nil {
		return nil, qdrantError("search "+remote, err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		hit, err := hitFromPayload(p.GetPayload(), p.GetScore())
		if err != nil {
			return nil, amerrors.New(amerrors.ErrCodeCorruptCollection, "bad payload in "+remote, err)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Delete implements VectorIndex.
func (q *QdrantIndex) Delete(ctx context.Context, name string) error {
	ctx = q.ctx(ctx)
	remote := q.remoteName(name)
	exists, err := q.exists(ctx, remote)
	if err != nil || !exists {
		return err
	}
	if _, err := q.collections.Delete(ctx, &qdrantclient.DeleteCollection{CollectionName: remote}); err != nil {
		return qdrantError("delete collection "+remote, err)
	}
	return nil
}

// Exists implements VectorIndex.
func (q *QdrantIndex) Exists(ctx context.Context, name string) (bool, error) {
	return q.exists(q.ctx(ctx), q.remoteName(name))
}

// Load implements VectorIndex. Qdrant serves collections directly, so this
// only checks presence.
func (q *QdrantIndex) Load(ctx context.Context, name string) error {
	exists, err := q.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return collectionNotFound(name)
	}
	return nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

func (q *QdrantIndex) exists(ctx context.Context, remote string) (bool, error) {
	resp, err := q.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return false, qdrantError("list collections", err)
	}
	for _, c := range resp.GetCollections() {
		if c.GetName() == remote {
			return true, nil
		}
	}
	return false, nil
}

// pointsFor keys points by chunk ordinal.
func pointsFor(chunks []chunk.Chunk, embeddings [][]float32) ([]*qdrantclient.PointStruct, error) {
	points := make([]*qdrantclient.PointStruct, len(chunks))
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata for chunk %d: %w", i, err)
		}
		points[i] = &qdrantclient.PointStruct{
			Id: &qdrantclient.PointId{
				PointIdOptions: &qdrantclient.PointId_Num{Num: uint64(i)},
			},
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: embeddings[i]},
				},
			},
			Payload: map[string]*qdrantclient.Value{
				payloadChunkID:  stringValue(c.ID),
				payloadSource:   stringValue(c.Source),
				payloadText:     stringValue(c.Text),
				payloadOrdinal:  {Kind: &qdrantclient.Value_IntegerValue{IntegerValue: int64(c.Ordinal)}},
				payloadMetadata: stringValue(string(meta)),
			},
		}
	}
	return points, nil
}

func hitFromPayload(payload map[string]*qdrantclient.Value, score float32) (Hit, error) {
	c := chunk.Chunk{
		ID:      payload[payloadChunkID].GetStringValue(),
		Source:  payload[payloadSource].GetStringValue(),
		Text:    payload[payloadText].GetStringValue(),
		Ordinal: int(payload[payloadOrdinal].GetIntegerValue()),
	}
	if raw := payload[payloadMetadata].GetStringValue(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Metadata); err != nil {
			return Hit{}, fmt.Errorf("decode metadata of chunk %s: %w", strconv.Quote(c.ID), err)
		}
	}
	return Hit{Chunk: c, Similarity: float64(score)}, nil
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}

func collectionNotFound(name string) error {
	return amerrors.New(amerrors.ErrCodeCollectionNotFound, "collection not found: "+name, nil).
		WithDetail("collection", name)
}

func qdrantError(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return amerrors.NetworkError("qdrant "+op, err)
	default:
		return amerrors.New(amerrors.ErrCodeRetrievalFailed, "qdrant "+op, err)
	}
}

var _ VectorIndex = (*QdrantIndex)(nil)
