package tool

import (
	"context"
	"strings"
	"time"

	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/memory"
)

// LogSearch returns the built-in log_search tool definition. It searches
// the infrastructure log corpus for lines matching any query word.
func LogSearch(roles []core.Role) Definition {
	return Definition{
		Name:        "log_search",
		Description: "Search infrastructure logs for GPU/system events matching a query.",
		Input: Schema{
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Search terms, matched word by word."},
			},
			Required: []string{"query"},
		},
		AllowedRoles: roles,
		Timeout:      10 * time.Second,
		MaxAttempts:  2,
		Handler: func(_ context.Context, args map[string]any) (map[string]any, error) {
			query, _ := args["query"].(string)
			words := strings.Fields(strings.ToLower(query))

			var hits []string
			for _, chunk := range memory.LogCorpus() {
				line := chunk.Text
				lower := strings.ToLower(line)
				for _, w := range words {
					if strings.Contains(lower, w) {
						hits = append(hits, line)
						break
					}
				}
			}
			if len(hits) == 0 {
				hits = []string{"No matching logs found."}
			}
			return map[string]any{"results": hits}, nil
		},
	}
}

// KBQuery returns the kb_query tool definition, bound to a retriever. It
// queries the knowledge base and returns text snippets.
func KBQuery(retriever memory.Retriever, roles []core.Role) Definition {
	return Definition{
		Name:        "kb_query",
		Description: "Query the knowledge base for relevant documentation snippets.",
		Input: Schema{
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Free-text query against the knowledge base."},
			},
			Required: []string{"query"},
		},
		AllowedRoles: roles,
		Timeout:      10 * time.Second,
		MaxAttempts:  2,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query, _ := args["query"].(string)
			chunks, err := retriever.Retrieve(ctx, query, 3, "")
			if err != nil {
				return nil, errors.New(errors.CodeToolFailure, "knowledge base retrieval failed", err).
					WithRecoverable(true)
			}
			snippets := make([]string, 0, len(chunks))
			for _, chunk := range chunks {
				snippets = append(snippets, chunk.Text)
			}
			return map[string]any{"snippets": snippets}, nil
		},
	}
}
