// Package memory provides retrieval backends for pre-retrieval (RAG) and
// the kb_query tool.
package memory

import (
	"context"

	"github.com/jllopis/telos/pkg/core"
)

// Retriever returns the k most relevant chunks for a query. The session id
// is a tag for request-scoped backends and may be empty.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, sessionID string) ([]core.Chunk, error)
}

// Embedder converts text into a vector for vector-store retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
