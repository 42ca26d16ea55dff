// Package main provides the telos CLI: one request per stdin line, the
// event stream as JSON lines on stdout.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/jllopis/telos/pkg/config"
	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/engine"
	"github.com/jllopis/telos/pkg/llm"
	"github.com/jllopis/telos/pkg/memory"
	ollamamem "github.com/jllopis/telos/pkg/memory/ollama"
	qdrantmem "github.com/jllopis/telos/pkg/memory/qdrant"
	"github.com/jllopis/telos/pkg/session"
	"github.com/jllopis/telos/pkg/skill"
	"github.com/jllopis/telos/pkg/telemetry"
	"github.com/jllopis/telos/pkg/tool"
	"github.com/jllopis/telos/pkg/trace"
)

const version = "0.1.0"

// embeddingDim matches the nomic-embed-text output size.
const embeddingDim = 768

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	role := flag.String("role", "user", "caller role: user, operator, admin")
	sessionID := flag.String("session", "", "session id (empty generates one per request)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("telos", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("failed to init telemetry: %v", err)
	}
	defer shutdown(context.Background())

	eng, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}
	defer cleanup()

	if err := run(ctx, eng, core.ParseRole(*role), *sessionID); err != nil {
		log.Fatalf("run error: %v", err)
	}
}

func run(ctx context.Context, eng *engine.Engine, role core.Role, sessionID string) error {
	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		env := core.Envelope{
			Text:      scanner.Text(),
			SessionID: sessionID,
			Role:      role,
		}
		for ev := range eng.Handle(ctx, env) {
			if err := out.Encode(ev); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		return nil, cleanup, err
	}

	collector, err := buildCollector(cfg, &closers)
	if err != nil {
		return nil, cleanup, err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	knowledge, logs, err := buildRetrievers(ctx, cfg)
	if err != nil {
		return nil, cleanup, err
	}

	store, err := buildSessionStore(cfg, &closers)
	if err != nil {
		return nil, cleanup, err
	}

	registry := tool.NewRegistry(
		tool.WithCollector(collector),
		tool.WithMetrics(metrics),
	)
	if err := registry.Register(tool.LogSearch([]core.Role{core.RoleOperator, core.RoleAdmin})); err != nil {
		return nil, cleanup, err
	}
	if err := registry.Register(tool.KBQuery(knowledge, core.AllRoles())); err != nil {
		return nil, cleanup, err
	}

	router, err := buildRouter(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	eng, err := engine.New(provider, registry, router,
		engine.WithSessionStore(store),
		engine.WithRetriever(knowledge),
		engine.WithCorpusRetriever("logs", logs),
		engine.WithCollector(collector),
		engine.WithMetrics(metrics),
		engine.WithModel(cfg.LLM.Model),
		engine.WithMaxIterations(cfg.Engine.MaxIterations),
		engine.WithEventBuffer(cfg.Engine.EventBuffer),
		engine.WithTopK(cfg.Memory.TopK),
	)
	if err != nil {
		return nil, cleanup, err
	}
	return eng, cleanup, nil
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return llm.NewOllama(cfg.LLM.BaseURL), nil
	case "openai":
		return llm.NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey), nil
	case "mock":
		return &llm.MockProvider{Response: "ok"}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}
}

// buildRetrievers returns the knowledge retriever and the log retriever.
// Logs are always served from the keyword store; the knowledge corpus can
// be backed by qdrant.
func buildRetrievers(ctx context.Context, cfg *config.Config) (memory.Retriever, memory.Retriever, error) {
	logs := memory.NewKeywordStore(memory.LogCorpus())

	switch cfg.Memory.Provider {
	case "keyword":
		return memory.NewKeywordStore(nil), logs, nil
	case "qdrant":
		embedder := ollamamem.NewEmbedder(cfg.Memory.EmbedderBaseURL, cfg.Memory.EmbedderModel)
		store, err := qdrantmem.New(cfg.Memory.QdrantAddr, cfg.Memory.Collection, embedder)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureCollection(ctx, embeddingDim); err != nil {
			return nil, nil, err
		}
		return store, logs, nil
	default:
		return nil, nil, fmt.Errorf("unknown memory provider: %s", cfg.Memory.Provider)
	}
}

func buildSessionStore(cfg *config.Config, closers *[]func()) (session.Store, error) {
	switch cfg.Session.Provider {
	case "inmemory":
		return session.NewInMemoryStore(), nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Session.SQLitePath)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { db.Close() })
		return session.NewSQLiteStore(db)
	default:
		return nil, fmt.Errorf("unknown session provider: %s", cfg.Session.Provider)
	}
}

func buildCollector(cfg *config.Config, closers *[]func()) (trace.Collector, error) {
	switch cfg.Trace.Sink {
	case "jsonl":
		sink, err := trace.NewJSONLSink(cfg.Trace.Dir)
		if err != nil {
			return nil, err
		}
		return trace.NewBuffered(sink), nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Trace.SQLitePath)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { db.Close() })
		sink, err := trace.NewSQLiteSink(db)
		if err != nil {
			return nil, err
		}
		return trace.NewBuffered(sink), nil
	default:
		return nil, fmt.Errorf("unknown trace sink: %s", cfg.Trace.Sink)
	}
}

func buildRouter(cfg *config.Config) (*skill.Router, error) {
	router, err := skill.NewRouter(skill.NewDocQA())
	if err != nil {
		return nil, err
	}
	if err := router.Add("/gpu", skill.NewGPUDiagnosis()); err != nil {
		return nil, err
	}

	if cfg.Skills.Dir != "" {
		manifests, err := skill.LoadDir(cfg.Skills.Dir)
		if err != nil {
			return nil, err
		}
		for _, m := range manifests {
			if m.Prefix == "" {
				slog.Warn("skill.no_prefix", "skill", m.Name, "path", m.Path)
				continue
			}
			if err := router.Add(m.Prefix, skill.FromManifest(m)); err != nil {
				return nil, err
			}
		}
	}
	return router, nil
}
