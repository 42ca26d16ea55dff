package skill

import (
	"encoding/json"
	"strings"

	"github.com/jllopis/telos/pkg/errors"
)

// Diagnosis is the fixed answer shape required by the gpu_diagnosis skill.
type Diagnosis struct {
	Summary   string   `json:"summary"`
	Evidence  []string `json:"evidence"`
	NextSteps []string `json:"next_steps"`
}

// GPUDiagnosis is the structured GPU issue diagnosis skill. It retrieves
// against both the log corpus and the knowledge base and constrains its
// final answer to the Diagnosis shape.
type GPUDiagnosis struct{}

// NewGPUDiagnosis creates the gpu_diagnosis skill.
func NewGPUDiagnosis() *GPUDiagnosis {
	return &GPUDiagnosis{}
}

func (*GPUDiagnosis) Name() string { return "gpu_diagnosis" }

func (*GPUDiagnosis) SystemPrompt() string {
	return "You are a GPU infrastructure diagnosis expert. Analyze the user's " +
		"GPU issue using available tools. Search logs with log_search and " +
		"the knowledge base with kb_query to gather evidence.\n\n" +
		"IMPORTANT: Your final response MUST be valid JSON with exactly " +
		"this structure:\n" +
		"{\n" +
		"  \"summary\": \"brief diagnosis summary\",\n" +
		"  \"evidence\": [\"evidence item 1\", \"evidence item 2\"],\n" +
		"  \"next_steps\": [\"recommended action 1\", \"recommended action 2\"]\n" +
		"}"
}

func (*GPUDiagnosis) AllowedTools() []string {
	return []string{"log_search", "kb_query"}
}

// Queries issues two independent retrievals: one against operational logs,
// one against the knowledge base.
func (*GPUDiagnosis) Queries(text string) []Query {
	return []Query{
		{Text: text, Corpus: "logs"},
		{Text: text, Corpus: "knowledge"},
	}
}

// ValidateFinal parses the model's final content as a Diagnosis. A parse
// failure is a fatal schema error for the invocation.
func (*GPUDiagnosis) ValidateFinal(content string) error {
	var diag Diagnosis
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&diag); err != nil {
		return errors.New(errors.CodeSchemaError, "final answer is not a valid diagnosis", err)
	}
	if strings.TrimSpace(diag.Summary) == "" {
		return errors.New(errors.CodeSchemaError, "diagnosis summary is required", nil)
	}
	return nil
}

// ParseDiagnosis decodes a diagnosis from final content. Used by callers
// that want the structured form rather than raw text.
func ParseDiagnosis(content string) (Diagnosis, error) {
	var diag Diagnosis
	if err := json.Unmarshal([]byte(content), &diag); err != nil {
		return Diagnosis{}, errors.New(errors.CodeSchemaError, "final answer is not a valid diagnosis", err)
	}
	return diag, nil
}
