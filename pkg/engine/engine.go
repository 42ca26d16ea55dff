// Package engine implements the orchestration loop: one inbound envelope in,
// one ordered event stream out. The engine routes the request to a skill,
// pre-retrieves context, drives the model/tool loop under an iteration
// budget, and guarantees exactly one terminal event plus one trace flush per
// invocation.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/governance"
	"github.com/jllopis/telos/pkg/llm"
	"github.com/jllopis/telos/pkg/memory"
	"github.com/jllopis/telos/pkg/session"
	"github.com/jllopis/telos/pkg/skill"
	"github.com/jllopis/telos/pkg/telemetry"
	"github.com/jllopis/telos/pkg/tool"
	"github.com/jllopis/telos/pkg/trace"
)

const (
	// DefaultMaxIterations bounds the model/tool loop per invocation.
	DefaultMaxIterations = 6

	// DefaultEventBuffer is the outbound channel capacity.
	DefaultEventBuffer = 16

	// DefaultTopK is the chunk count for pre-retrieval queries.
	DefaultTopK = 3
)

// Engine coordinates sessions, routing, retrieval, the model client and the
// tool registry for a single tenant deployment.
type Engine struct {
	provider   llm.Provider
	tools      *tool.Registry
	router     *skill.Router
	sessions   session.Store
	retrievers map[string]memory.Retriever
	retriever  memory.Retriever
	collector  trace.Collector

	model         string
	maxIterations int
	eventBuffer   int
	topK          int

	logger  *slog.Logger
	tracer  oteltrace.Tracer
	metrics *telemetry.EngineMetrics
}

// Option configures the engine.
type Option func(*Engine)

// WithSessionStore sets the conversation store. Defaults to in-memory.
func WithSessionStore(s session.Store) Option {
	return func(e *Engine) { e.sessions = s }
}

// WithRetriever sets the default retriever used for every corpus without a
// dedicated one. A nil retriever disables pre-retrieval.
func WithRetriever(r memory.Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithCorpusRetriever binds a retriever to one corpus name, e.g. "logs".
func WithCorpusRetriever(corpus string, r memory.Retriever) Option {
	return func(e *Engine) { e.retrievers[corpus] = r }
}

// WithCollector sets the trace collector. Defaults to an in-memory buffer.
func WithCollector(c trace.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithModel sets the model name passed to the provider.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithMaxIterations overrides the loop budget.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithEventBuffer overrides the outbound channel capacity.
func WithEventBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.eventBuffer = n
		}
	}
}

// WithTopK overrides the pre-retrieval chunk count.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics enables invocation and latency meters. Nil metrics are a
// no-op, so deployments without an exporter skip this option.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine. Provider, tools and router are required.
func New(provider llm.Provider, tools *tool.Registry, router *skill.Router, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if router == nil {
		return nil, fmt.Errorf("router is required")
	}
	e := &Engine{
		provider:      provider,
		tools:         tools,
		router:        router,
		sessions:      session.NewInMemoryStore(),
		retrievers:    make(map[string]memory.Retriever),
		collector:     trace.NewBuffered(&trace.MemorySink{}),
		maxIterations: DefaultMaxIterations,
		eventBuffer:   DefaultEventBuffer,
		topK:          DefaultTopK,
		logger:        slog.Default(),
		tracer:        otel.Tracer("telos/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Handle processes one envelope and returns the ordered event stream. The
// channel is closed after the terminal event; the terminal event is always
// last and occurs exactly once. The stream stops early only when ctx is
// cancelled.
func (e *Engine) Handle(ctx context.Context, env core.Envelope) <-chan core.Event {
	events := make(chan core.Event, e.eventBuffer)
	go func() {
		defer close(events)
		e.handle(ctx, env, events)
	}()
	return events
}

func (e *Engine) handle(ctx context.Context, env core.Envelope, events chan<- core.Event) {
	start := time.Now()
	env = env.Normalize()
	traceID := env.TraceID
	ctx = core.WithTraceID(ctx, traceID)

	ctx, span := e.tracer.Start(ctx, "engine.handle",
		oteltrace.WithAttributes(
			attribute.String("telos.trace_id", traceID),
			attribute.String("telos.session_id", env.SessionID),
		))
	defer span.End()

	var sess *session.Session
	skillName := ""
	terminal := string(core.EventError)
	defer func() {
		// Teardown runs on every path: persist the session, close the
		// trace and flush it once. Flush failures never fail delivery.
		bg := context.WithoutCancel(ctx)
		if sess != nil {
			if err := e.sessions.Save(bg, sess); err != nil {
				e.logger.Error("session.save_failed", "session_id", sess.ID, "error", err)
			}
		}
		e.collector.Record(traceID, trace.KindHandleDone, map[string]any{
			"total_latency_ms": time.Since(start).Milliseconds(),
		})
		if err := e.collector.Flush(bg, traceID); err != nil {
			e.logger.Error("trace.flush_failed", "trace_id", traceID, "error", err)
		}
		e.metrics.RecordInvocation(bg, skillName, terminal)
	}()

	if err := env.Validate(); err != nil {
		e.fatal(ctx, events, traceID, errors.New(errors.CodeInvalidInput, "invalid request", err))
		return
	}

	sess, err := e.loadOrCreate(ctx, env)
	if err != nil {
		e.fatal(ctx, events, traceID, errors.New(errors.CodeInternal, "session load failed", err))
		return
	}

	selected, cleaned := e.router.Select(env.Text)
	skillName = selected.Name()
	sess.SelectedSkill = selected.Name()
	sess.TraceID = traceID
	e.collector.Record(traceID, trace.KindRoute, map[string]any{
		"skill": selected.Name(),
	})
	e.logger.Info("engine.routed", "trace_id", traceID, "skill", selected.Name())
	if !e.emit(ctx, events, core.NewEvent(core.EventTrace, traceID, map[string]any{
		"trace_id": traceID,
		"skill":    selected.Name(),
	})) {
		return
	}

	filter := governance.NewToolFilter(selected.AllowedTools())
	chunks := e.preRetrieve(ctx, events, selected, cleaned, env.SessionID, traceID)
	e.prepareMessages(sess, selected, cleaned, chunks)

	schemas := e.tools.Schemas(env.Role, filter)

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		callStart := time.Now()
		resp, err := e.provider.Chat(ctx, llm.ChatRequest{
			Model:    e.model,
			Messages: sess.Messages,
			Tools:    schemas,
		})
		latency := time.Since(callStart)
		e.metrics.RecordModelLatency(ctx, e.model, latency)
		e.collector.Record(traceID, trace.KindLLMCall, map[string]any{
			"iteration":      iteration,
			"latency_ms":     latency.Milliseconds(),
			"has_tool_calls": err == nil && len(resp.ToolCalls) > 0,
		})
		if err != nil {
			e.fatal(ctx, events, traceID, errors.New(errors.CodeLLMError, "model call failed", err).
				WithContext("iteration", iteration))
			return
		}

		if len(resp.ToolCalls) > 0 {
			sess.Messages = append(sess.Messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			if !e.runToolCalls(ctx, events, sess, resp.ToolCalls, env.Role, filter, traceID) {
				return
			}
			continue
		}

		if resp.Content == "" {
			// Non-answer: neither content nor tool calls. Burns an
			// iteration and asks again.
			continue
		}

		if validator, ok := selected.(skill.FinalValidator); ok {
			if err := validator.ValidateFinal(resp.Content); err != nil {
				e.fatal(ctx, events, traceID, errors.New(errors.CodeSchemaError, "final answer rejected", err).
					WithContext("skill", selected.Name()))
				return
			}
		}

		sess.Messages = append(sess.Messages, llm.Message{
			Role:    llm.RoleAssistant,
			Content: resp.Content,
		})
		for _, word := range strings.Fields(resp.Content) {
			if !e.emit(ctx, events, core.NewEvent(core.EventToken, traceID, map[string]any{
				"text": word,
			})) {
				return
			}
		}
		terminal = string(core.EventFinal)
		e.emit(ctx, events, core.NewEvent(core.EventFinal, traceID, map[string]any{
			"content":    resp.Content,
			"skill":      selected.Name(),
			"iterations": iteration,
		}))
		return
	}

	e.fatal(ctx, events, traceID, errors.New(errors.CodeIterationLimit,
		fmt.Sprintf("no final answer after %d iterations", e.maxIterations), nil).
		WithContext("max_iterations", e.maxIterations))
}

func (e *Engine) loadOrCreate(ctx context.Context, env core.Envelope) (*session.Session, error) {
	sess, err := e.sessions.Load(ctx, env.SessionID)
	if err == nil {
		return sess, nil
	}
	if err == session.ErrNotFound {
		return session.New(env.SessionID, env.TenantID, env.UserID), nil
	}
	return nil, err
}

// preRetrieve runs every retrieval query the skill declares and emits one
// retrieve event per query. Retrieval is best-effort: a failing backend is
// logged and contributes no context.
func (e *Engine) preRetrieve(ctx context.Context, events chan<- core.Event, selected skill.Skill, text, sessionID, traceID string) []core.Chunk {
	var all []core.Chunk
	for _, query := range selected.Queries(text) {
		retriever := e.retrievers[query.Corpus]
		if retriever == nil {
			retriever = e.retriever
		}
		if retriever == nil {
			continue
		}
		chunks, err := retriever.Retrieve(ctx, query.Text, e.topK, sessionID)
		if err != nil {
			e.logger.Warn("engine.retrieve_failed", "trace_id", traceID, "corpus", query.Corpus, "error", err)
			e.collector.Record(traceID, trace.KindRetrieve, map[string]any{
				"corpus": query.Corpus,
				"k":      e.topK,
				"error":  err.Error(),
			})
			continue
		}
		e.collector.Record(traceID, trace.KindRetrieve, map[string]any{
			"corpus":   query.Corpus,
			"k":        e.topK,
			"returned": len(chunks),
		})
		sources := make([]map[string]any, 0, len(chunks))
		for _, chunk := range chunks {
			sources = append(sources, map[string]any{
				"id":     chunk.ID,
				"source": chunk.Source,
				"score":  chunk.Score,
			})
		}
		if !e.emit(ctx, events, core.NewEvent(core.EventRetrieve, traceID, map[string]any{
			"corpus": query.Corpus,
			"query":  query.Text,
			"chunks": sources,
		})) {
			return all
		}
		all = append(all, chunks...)
	}
	return all
}

// prepareMessages installs the skill's system prompt at index 0, folds the
// retrieved chunks into it, and appends the user turn. On follow-up turns
// the system prompt is replaced, not duplicated.
func (e *Engine) prepareMessages(sess *session.Session, selected skill.Skill, text string, chunks []core.Chunk) {
	system := selected.SystemPrompt()
	if len(chunks) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nContext:\n")
		for _, chunk := range chunks {
			fmt.Fprintf(&b, "[%s] %s\n", chunk.Source, chunk.Text)
		}
		system = strings.TrimRight(b.String(), "\n")
	}

	if len(sess.Messages) > 0 && sess.Messages[0].Role == llm.RoleSystem {
		sess.Messages[0].Content = system
	} else {
		sess.Messages = append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, sess.Messages...)
	}
	sess.Messages = append(sess.Messages, llm.Message{Role: llm.RoleUser, Content: text})
}

// runToolCalls executes the model's requested calls strictly in order. Tool
// failures become tool_result error payloads and the loop continues; they
// never terminate the stream. Returns false when ctx was cancelled.
func (e *Engine) runToolCalls(ctx context.Context, events chan<- core.Event, sess *session.Session, calls []llm.ToolCall, role core.Role, filter *governance.ToolFilter, traceID string) bool {
	for _, call := range calls {
		name := call.Function.Name
		if !e.emit(ctx, events, core.NewEvent(core.EventToolCall, traceID, map[string]any{
			"id":        call.ID,
			"name":      name,
			"arguments": call.Function.Arguments,
		})) {
			return false
		}

		var payload map[string]any
		args, err := decodeArgs(call.Function.Arguments)
		if err == nil {
			var output map[string]any
			output, err = e.tools.Execute(ctx, name, args, role, filter)
			if err == nil {
				payload = map[string]any{"id": call.ID, "name": name, "output": output}
			}
		}
		if err != nil {
			payload = map[string]any{"id": call.ID, "name": name, "error": errorPayload(err)}
		}

		content, merr := json.Marshal(payload)
		if merr != nil {
			content = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"unencodable tool result"}}`)
		}
		sess.Messages = append(sess.Messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    string(content),
			ToolCallID: call.ID,
		})
		if !e.emit(ctx, events, core.NewEvent(core.EventToolResult, traceID, payload)) {
			return false
		}
	}
	return true
}

func decodeArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "tool arguments are not valid JSON", err)
	}
	return args, nil
}

func errorPayload(err error) map[string]any {
	te := errors.As(err)
	if te == nil {
		te = errors.New(errors.CodeToolFailure, err.Error(), nil)
	}
	payload := map[string]any{
		"code":        string(te.Code),
		"message":     te.Message,
		"recoverable": te.Recoverable,
	}
	if len(te.Context) > 0 {
		payload["context"] = te.Context
	}
	return payload
}

// fatal records and emits the single terminal error event.
func (e *Engine) fatal(ctx context.Context, events chan<- core.Event, traceID string, te *errors.Error) {
	e.logger.Error("engine.fatal", "trace_id", traceID, "code", te.Code, "error", te)
	e.collector.Record(traceID, trace.KindError, map[string]any{
		"code":    string(te.Code),
		"message": te.Message,
	})
	e.emit(ctx, events, core.NewEvent(core.EventError, traceID, map[string]any{
		"error": map[string]any{
			"code":    string(te.Code),
			"message": te.Message,
		},
	}))
}

func (e *Engine) emit(ctx context.Context, events chan<- core.Event, ev core.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
