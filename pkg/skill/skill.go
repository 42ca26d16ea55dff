// Package skill defines capability bundles (prompt, tool allowlist,
// retrieval policy) and the prefix router selecting among them.
package skill

// Query is one pre-retrieval request issued before the first model call.
// Corpus tags the target ("logs", "knowledge") for trace records; the
// retriever receives only the text.
type Query struct {
	Text   string
	Corpus string
}

// Skill is a capability bundle. Retrieval policy is per-skill: Queries
// returning nothing skips retrieval entirely.
type Skill interface {
	Name() string
	SystemPrompt() string
	AllowedTools() []string
	// Queries maps the cleaned request text to zero or more retrieval
	// queries.
	Queries(text string) []Query
}

// FinalValidator constrains the shape of a skill's final answer. Skills
// implementing it cause the engine to reject non-conforming model output
// with a fatal schema error.
type FinalValidator interface {
	ValidateFinal(content string) error
}
