// Package qdrant stores and searches artifact vectors in a Qdrant
// collection, one point per artifact keyed by the artifact id.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	qd "github.com/qdrant/go-client/qdrant"

	"thebrain/backend/internal/rag"
	"thebrain/backend/internal/worker"
)

type Store struct {
	client     *qd.Client
	collection string
	dimension  int
}

func NewStore(host string, port int, collection string, dimension int) (*Store, error) {
	client, err := qd.NewClient(&qd.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	return &Store{client: client, collection: collection, dimension: dimension}, nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qd.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qd.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	slog.InfoContext(ctx, "created qdrant collection", "collection", s.collection, "dimension", s.dimension)
	return nil
}

func (s *Store) Upsert(ctx context.Context, p worker.Point) error {
	if len(p.Vector) != s.dimension {
		return fmt.Errorf("vector has %d dimensions, collection expects %d", len(p.Vector), s.dimension)
	}

	_, err := s.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qd.PtrOf(true),
		Points: []*qd.PointStruct{
			{
				Id:      qd.NewIDUUID(p.ID),
				Vectors: qd.NewVectors(p.Vector...),
				Payload: qd.NewValueMap(p.Payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert point %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]rag.Hit, error) {
	points, err := s.client.Query(ctx, &qd.QueryPoints{
		CollectionName: s.collection,
		Query:          qd.NewQuery(vector...),
		Limit:          qd.PtrOf(uint64(limit)),
		ScoreThreshold: qd.PtrOf(threshold),
		WithPayload:    qd.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", s.collection, err)
	}

	hits := make([]rag.Hit, 0, len(points))
	for _, pt := range points {
		hits = append(hits, rag.Hit{
			ID:      pt.GetId().GetUuid(),
			Score:   pt.GetScore(),
			Payload: decodePayload(pt.GetPayload()),
		})
	}
	return hits, nil
}

func (s *Store) DeletePoint(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qd.DeletePoints{
		CollectionName: s.collection,
		Points:         qd.NewPointsSelector(qd.NewIDUUID(id)),
	})
	if err != nil {
		return fmt.Errorf("delete point %s: %w", id, err)
	}
	return nil
}

func (s *Store) CountPoints(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qd.CountPoints{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("count collection %s: %w", s.collection, err)
	}
	return count, nil
}

func decodePayload(payload map[string]*qd.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = decodeValue(v)
	}
	return out
}

func decodeValue(v *qd.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *qd.Value_StringValue:
		return kind.StringValue
	case *qd.Value_IntegerValue:
		return kind.IntegerValue
	case *qd.Value_DoubleValue:
		return kind.DoubleValue
	case *qd.Value_BoolValue:
		return kind.BoolValue
	case *qd.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]interface{}, 0, len(items))
		for _, item := range items {
			list = append(list, decodeValue(item))
		}
		return list
	case *qd.Value_StructValue:
		return decodePayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}
