// Package tool implements the central tool registry: registration,
// two-layer authorization, bounded execution with per-attempt timeouts, and
// role/skill-scoped schema export.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/governance"
	"github.com/jllopis/telos/pkg/llm"
	"github.com/jllopis/telos/pkg/resilience"
	"github.com/jllopis/telos/pkg/telemetry"
	"github.com/jllopis/telos/pkg/trace"
)

// Handler executes one tool attempt. The context carries the per-attempt
// deadline; handlers should honor it on long operations.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Definition is the registration record for a single tool.
type Definition struct {
	Name        string
	Description string
	Input       Schema
	Handler     Handler

	// AllowedRoles is the first RBAC layer. Empty denies every role.
	AllowedRoles []core.Role

	// Timeout bounds each execution attempt. Zero disables the deadline.
	Timeout time.Duration

	// MaxAttempts is the total attempt budget, including the first
	// attempt. Zero means one attempt.
	MaxAttempts int
}

// Registry is the central tool store. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Definition
	collector trace.Collector
	metrics   *telemetry.EngineMetrics
	retryWait time.Duration
	log       *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCollector attaches a trace collector receiving one tool_exec audit
// record per execution attempt.
func WithCollector(c trace.Collector) Option {
	return func(r *Registry) { r.collector = c }
}

// WithMetrics attaches the engine meters for per-attempt counters.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithRetryWait sets the initial backoff between attempts.
func WithRetryWait(d time.Duration) Option {
	return func(r *Registry) { r.retryWait = d }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:     make(map[string]Definition),
		retryWait: 50 * time.Millisecond,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool definition. Registering a name twice fails.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errors.New(errors.CodeInvalidInput, "tool name is required", nil)
	}
	if def.Handler == nil {
		return errors.New(errors.CodeInvalidInput, "tool handler is required", nil)
	}
	if def.MaxAttempts < 1 {
		def.MaxAttempts = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("tool %q is already registered", def.Name), nil)
	}
	r.tools[def.Name] = def
	r.log.Info("tool.registered",
		slog.String("tool", def.Name),
		slog.Int("roles", len(def.AllowedRoles)),
	)
	return nil
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas exports the function schemas visible to one (role, skill)
// pairing: only tools the role may invoke that also pass the skill's
// allowlist. This is the proactive half of RBAC; the same checks run again
// at call time.
func (r *Registry) Schemas(role core.Role, filter *governance.ToolFilter) []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var schemas []llm.Tool
	for _, name := range names {
		def := r.tools[name]
		if !governance.RoleAllowed(role, def.AllowedRoles).Allowed {
			continue
		}
		if filter != nil && !filter.IsAllowed(def.Name).Allowed {
			continue
		}
		schemas = append(schemas, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Input.JSONSchema(),
			},
		})
	}
	return schemas
}

// Execute runs a tool on behalf of a role under a skill's allowlist.
// Order of checks: lookup, argument validation, role layer, skill layer.
// Authorized calls run under the tool's per-attempt timeout and total
// attempt budget; retries reuse the same validated arguments. Every
// attempt, successful or not, produces one tool_exec audit record.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, role core.Role, filter *governance.ToolFilter) (map[string]any, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("tool %q not found", name), nil)
	}

	if err := def.Input.Validate(args); err != nil {
		return nil, err
	}

	if decision := governance.RoleAllowed(role, def.AllowedRoles); !decision.Allowed {
		return nil, errors.New(errors.CodeUnauthorized, decision.Reason, nil).
			WithContext("tool", name).
			WithContext("role", string(role))
	}
	if filter != nil {
		if decision := filter.IsAllowed(name); !decision.Allowed {
			return nil, errors.New(errors.CodeUnauthorized, decision.Reason, nil).
				WithContext("tool", name).
				WithContext("role", string(role))
		}
	}

	traceID, _ := core.TraceID(ctx)

	retry := resilience.RetryConfig{
		MaxAttempts:  def.MaxAttempts,
		InitialDelay: r.retryWait,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	attempt := 0
	result, err := retry.DoWithResult(ctx, func() (any, error) {
		attempt++
		start := time.Now()
		out, attemptErr := resilience.WithTimeoutResult(ctx, def.Timeout, func(ctx context.Context) (any, error) {
			return def.Handler(ctx, args)
		})
		latency := time.Since(start)
		r.audit(ctx, traceID, name, attempt, latency, attemptErr)
		if attemptErr != nil {
			return nil, attemptErr
		}
		return out, nil
	})
	if err != nil {
		if te := errors.As(err); te != nil && te.Code == errors.CodeTimeout {
			return nil, te.WithContext("tool", name).WithContext("attempts", attempt)
		}
		return nil, errors.New(errors.CodeToolFailure,
			fmt.Sprintf("tool %q failed after %d attempt(s)", name, attempt), err).
			WithContext("tool", name).
			WithContext("attempts", attempt)
	}

	out, ok := result.(map[string]any)
	if !ok {
		return nil, errors.New(errors.CodeToolFailure,
			fmt.Sprintf("tool %q returned an unexpected result shape", name), nil)
	}
	return out, nil
}

// audit records one attempt outcome.
func (r *Registry) audit(ctx context.Context, traceID, name string, attempt int, latency time.Duration, err error) {
	status := "ok"
	fields := map[string]any{
		"tool":       name,
		"attempt":    attempt,
		"latency_ms": float64(latency.Microseconds()) / 1000.0,
	}
	if err != nil {
		if te := errors.As(err); te != nil && te.Code == errors.CodeTimeout {
			status = "timeout"
		} else {
			status = "error"
		}
		fields["error"] = err.Error()
	}
	fields["status"] = status

	r.log.Info("tool.exec",
		slog.String("tool", name),
		slog.Int("attempt", attempt),
		slog.Duration("latency", latency),
		slog.String("status", status),
	)
	if r.collector != nil && traceID != "" {
		r.collector.Record(traceID, trace.KindToolExec, fields)
	}
	r.metrics.RecordToolAttempt(ctx, name, status)
}
