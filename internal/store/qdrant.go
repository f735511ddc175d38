package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore is the remote VectorStore backend: every vector lives in a
// Qdrant collection reached over gRPC instead of on local disk. It trades
// local durability and zero-dependency setup for horizontal scale and a
// store shared across multiple server instances.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	config     VectorStoreConfig
	// idByPoint maps our caller-supplied string IDs to the UUIDs Qdrant's
	// point-id type requires, since QdrantStore's callers use arbitrary
	// content-derived chunk IDs rather than UUIDs.
	idByPoint map[string]string
}

// QdrantConfig describes how to reach a Qdrant instance.
type QdrantConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	CollectionName string
}

// NewQdrantStore connects to a Qdrant instance and ensures the configured
// collection exists, creating it with the given dimensions/metric if not.
func NewQdrantStore(ctx context.Context, qc QdrantConfig, vsConfig VectorStoreConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   qc.Host,
		Port:   qc.Port,
		UseTLS: qc.UseTLS,
		APIKey: qc.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: qc.CollectionName,
		config:     vsConfig,
		idByPoint:  make(map[string]string),
	}

	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureCollection is idempotent: it is a no-op if the collection already
// exists, matching the spec's ensure_collection contract.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(s.config.Dimensions),
					Distance: s.distanceMetric(),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *QdrantStore) distanceMetric() qdrant.Distance {
	if s.config.Metric == "l2" {
		return qdrant.Distance_Euclid
	}
	return qdrant.Distance_Cosine
}

// pointUUID deterministically derives a UUID from our string ID, so the
// same logical chunk ID always maps to the same Qdrant point regardless
// of which process/session performs the upsert (matches upsert-by-id
// replaces behavior required across variants).
func pointUUID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (s *QdrantStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
		}
		pid := pointUUID(id)
		points[i] = &qdrant.PointStruct{
			Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: pid}},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vectors[i]}},
			},
			Payload: map[string]*qdrant.Value{
				"chunk_id": qdrant.NewValueString(id),
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	for _, id := range ids {
		s.idByPoint[id] = pointUUID(id)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	out := make([]*VectorResult, 0, len(results))
	for _, r := range results {
		id := r.Id.GetUuid()
		if cid, ok := r.Payload["chunk_id"]; ok {
			id = cid.GetStringValue()
		}
		out = append(out, &VectorResult{ID: id, Score: float32(r.Score)})
	}
	return out, nil
}

func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	uuids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		uuids[i] = &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: pointUUID(id)}}
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: uuids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	for _, id := range ids {
		delete(s.idByPoint, id)
	}
	return nil
}

func (s *QdrantStore) AllIDs() []string {
	ids := make([]string, 0, len(s.idByPoint))
	for id := range s.idByPoint {
		ids = append(ids, id)
	}
	return ids
}

func (s *QdrantStore) Contains(id string) bool {
	_, ok := s.idByPoint[id]
	return ok
}

func (s *QdrantStore) Count() int {
	ctx := context.Background()
	count, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection})
	if err != nil {
		return len(s.idByPoint)
	}
	return int(count)
}

// Save and Load are no-ops: Qdrant is itself the durable store, there is
// no separate local snapshot to write (spec.md §4.5).
func (s *QdrantStore) Save(path string) error { return nil }
func (s *QdrantStore) Load(path string) error { return nil }

func (s *QdrantStore) Close() error { return s.client.Close() }

var _ VectorStore = (*QdrantStore)(nil)
