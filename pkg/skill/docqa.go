package skill

// DocQA is the general documentation Q&A skill: retrieves once over the
// raw request text and answers freely.
type DocQA struct{}

// NewDocQA creates the doc_qa skill.
func NewDocQA() *DocQA {
	return &DocQA{}
}

func (*DocQA) Name() string { return "doc_qa" }

func (*DocQA) SystemPrompt() string {
	return "You are a helpful documentation assistant. Answer questions based on " +
		"the provided context. If the context is insufficient, say so. " +
		"Use the kb_query tool to search for additional information if needed."
}

func (*DocQA) AllowedTools() []string {
	return []string{"kb_query"}
}

func (*DocQA) Queries(text string) []Query {
	return []Query{{Text: text, Corpus: "knowledge"}}
}
