package store

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
)

func TestPointUUID_IsDeterministic(t *testing.T) {
	a := pointUUID("chunk-123")
	b := pointUUID("chunk-123")
	assert.Equal(t, a, b)
}

func TestPointUUID_DiffersByID(t *testing.T) {
	assert.NotEqual(t, pointUUID("chunk-a"), pointUUID("chunk-b"))
}

func TestQdrantStore_DistanceMetric_DefaultsToCosine(t *testing.T) {
	s := &QdrantStore{config: VectorStoreConfig{Metric: ""}}
	assert.Equal(t, qdrant.Distance_Cosine, s.distanceMetric())
}

func TestQdrantStore_DistanceMetric_L2(t *testing.T) {
	s := &QdrantStore{config: VectorStoreConfig{Metric: "l2"}}
	assert.Equal(t, qdrant.Distance_Euclid, s.distanceMetric())
}
