// Package qdrant provides a Qdrant-backed retriever.
package qdrant

import (
	"context"
	"fmt"

	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/memory"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Store retrieves chunks from a Qdrant collection, embedding queries with
// the configured Embedder.
type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	embedder    memory.Embedder
	collection  string
}

// New connects to a Qdrant gRPC endpoint.
func New(addr, collection string, embedder memory.Embedder) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Store{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		embedder:    embedder,
		collection:  collection,
	}, nil
}

// EnsureCollection creates the collection if it doesn't exist.
func (s *Store) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Index embeds and upserts chunks into the collection.
func (s *Store) Index(ctx context.Context, chunks []core.Chunk) error {
	points := make([]*pb.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := s.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: chunk.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: map[string]*pb.Value{
				"text":   {Kind: &pb.Value_StringValue{StringValue: chunk.Text}},
				"source": {Kind: &pb.Value_StringValue{StringValue: chunk.Source}},
			},
		})
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Retrieve implements memory.Retriever: embeds the query and returns the k
// nearest chunks.
func (s *Store) Retrieve(ctx context.Context, query string, k int, _ string) ([]core.Chunk, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	chunks := make([]core.Chunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		chunk := core.Chunk{Score: float64(r.Score)}
		if id := r.Id.GetUuid(); id != "" {
			chunk.ID = id
		}
		if v, ok := r.Payload["text"]; ok {
			chunk.Text = v.GetStringValue()
		}
		if v, ok := r.Payload["source"]; ok {
			chunk.Source = v.GetStringValue()
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
