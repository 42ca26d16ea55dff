// Package config loads telos configuration from defaults, an optional YAML
// file and TELOS_-prefixed environment variables, in that precedence order.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Engine    EngineConfig    `koanf:"engine"`
	Memory    MemoryConfig    `koanf:"memory"`
	Session   SessionConfig   `koanf:"session"`
	Trace     TraceConfig     `koanf:"trace"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Skills    SkillsConfig    `koanf:"skills"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, openai, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type EngineConfig struct {
	MaxIterations int `koanf:"max_iterations"`
	EventBuffer   int `koanf:"event_buffer"`
}

type MemoryConfig struct {
	Provider        string `koanf:"provider"` // keyword, qdrant
	QdrantAddr      string `koanf:"qdrant_addr"`
	Collection      string `koanf:"collection"`
	EmbedderBaseURL string `koanf:"embedder_base_url"`
	EmbedderModel   string `koanf:"embedder_model"`
	TopK            int    `koanf:"top_k"`
}

type SessionConfig struct {
	Provider   string `koanf:"provider"` // inmemory, sqlite
	SQLitePath string `koanf:"sqlite_path"`
}

type TraceConfig struct {
	Sink       string `koanf:"sink"` // jsonl, sqlite
	Dir        string `koanf:"dir"`
	SQLitePath string `koanf:"sqlite_path"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type SkillsConfig struct {
	Dir string `koanf:"dir"` // optional directory of SKILL.md bundles
}

// Load reads the configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("engine.max_iterations", 6)
	k.Set("engine.event_buffer", 16)

	k.Set("memory.provider", "keyword")
	k.Set("memory.qdrant_addr", "localhost:6334")
	k.Set("memory.collection", "telos")
	k.Set("memory.embedder_base_url", "http://localhost:11434")
	k.Set("memory.embedder_model", "nomic-embed-text")
	k.Set("memory.top_k", 3)

	k.Set("session.provider", "inmemory")
	k.Set("session.sqlite_path", "telos_sessions.db")

	k.Set("trace.sink", "jsonl")
	k.Set("trace.dir", "traces")
	k.Set("trace.sqlite_path", "telos_traces.db")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.otlp_insecure", true)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// TELOS_LLM_PROVIDER -> llm.provider
	if err := k.Load(env.Provider("TELOS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TELOS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
