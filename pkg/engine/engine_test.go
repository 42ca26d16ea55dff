package engine

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/governance"
	"github.com/jllopis/telos/pkg/llm"
	"github.com/jllopis/telos/pkg/memory"
	"github.com/jllopis/telos/pkg/session"
	"github.com/jllopis/telos/pkg/skill"
	"github.com/jllopis/telos/pkg/tool"
	"github.com/jllopis/telos/pkg/trace"
)

type fixture struct {
	engine    *Engine
	provider  *llm.ScriptedProvider
	sessions  *session.InMemoryStore
	collector *trace.Buffered
	sink      *trace.MemorySink
}

func newFixture(t *testing.T, provider *llm.ScriptedProvider, opts ...Option) *fixture {
	t.Helper()

	sink := &trace.MemorySink{}
	collector := trace.NewBuffered(sink)
	sessions := session.NewInMemoryStore()
	retriever := memory.NewKeywordStore(nil)

	registry := tool.NewRegistry(tool.WithCollector(collector))
	if err := registry.Register(tool.KBQuery(retriever, core.AllRoles())); err != nil {
		t.Fatalf("register kb_query: %v", err)
	}
	if err := registry.Register(tool.LogSearch([]core.Role{core.RoleOperator, core.RoleAdmin})); err != nil {
		t.Fatalf("register log_search: %v", err)
	}

	router, err := skill.NewRouter(skill.NewDocQA())
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	if err := router.Add("/gpu", skill.NewGPUDiagnosis()); err != nil {
		t.Fatalf("add route: %v", err)
	}

	base := []Option{
		WithSessionStore(sessions),
		WithRetriever(retriever),
		WithCorpusRetriever("logs", memory.NewKeywordStore(memory.LogCorpus())),
		WithCollector(collector),
		WithModel("test-model"),
	}
	eng, err := New(provider, registry, router, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{
		engine:    eng,
		provider:  provider,
		sessions:  sessions,
		collector: collector,
		sink:      sink,
	}
}

func collect(t *testing.T, ch <-chan core.Event) []core.Event {
	t.Helper()
	var events []core.Event
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("stream produced no events")
	}
	return events
}

func assertSingleTerminalLast(t *testing.T, events []core.Event) core.Event {
	t.Helper()
	terminals := 0
	for _, ev := range events {
		if ev.Type.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly 1 terminal event, got %d", terminals)
	}
	last := events[len(events)-1]
	if !last.Type.Terminal() {
		t.Fatalf("terminal event must be last, got %s", last.Type)
	}
	return last
}

func eventsOfType(events []core.Event, et core.EventType) []core.Event {
	var out []core.Event
	for _, ev := range events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

func TestHandleAnswersDirectly(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptContent("Use nvidia-smi dmon to monitor utilization."))
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{
		Text: "how do I monitor GPU utilization?",
	}))

	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventFinal {
		t.Fatalf("expected final, got %s: %v", last.Type, last.Data)
	}
	if last.Data["skill"] != "doc_qa" {
		t.Fatalf("unexpected skill: %v", last.Data["skill"])
	}
	if last.Data["content"] != "Use nvidia-smi dmon to monitor utilization." {
		t.Fatalf("unexpected content: %v", last.Data["content"])
	}

	if len(eventsOfType(events, core.EventRetrieve)) != 1 {
		t.Fatal("doc_qa should pre-retrieve exactly once")
	}

	tokens := eventsOfType(events, core.EventToken)
	if len(tokens) != 6 {
		t.Fatalf("expected 6 word tokens, got %d", len(tokens))
	}
	var streamed []string
	for _, tok := range tokens {
		streamed = append(streamed, tok.Data["text"].(string))
	}
	if strings.Join(streamed, " ") != "Use nvidia-smi dmon to monitor utilization." {
		t.Fatalf("token stream does not reassemble the answer: %v", streamed)
	}

	// Every event carries the same trace id.
	for _, ev := range events {
		if ev.TraceID != events[0].TraceID {
			t.Fatal("trace id varies across the stream")
		}
	}
}

func TestHandleToolCallLoop(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptToolCall("call-1", "kb_query", `{"query":"ECC errors"}`),
		llm.ScriptContent("ECC errors can indicate failing VRAM."),
	)
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{
		Text:      "what do ECC errors mean?",
		SessionID: "s-tools",
		Role:      core.RoleUser,
	}))

	assertSingleTerminalLast(t, events)

	calls := eventsOfType(events, core.EventToolCall)
	results := eventsOfType(events, core.EventToolResult)
	if len(calls) != 1 || len(results) != 1 {
		t.Fatalf("expected 1 call and 1 result, got %d/%d", len(calls), len(results))
	}
	if calls[0].Data["id"] != "call-1" || results[0].Data["id"] != "call-1" {
		t.Fatal("tool_call and tool_result must share the call id")
	}
	if calls[0].Data["name"] != "kb_query" {
		t.Fatalf("unexpected tool name: %v", calls[0].Data["name"])
	}
	if _, ok := results[0].Data["output"]; !ok {
		t.Fatalf("successful call should carry output: %v", results[0].Data)
	}

	// tool_call precedes tool_result precedes final.
	order := map[core.EventType]int{}
	for i, ev := range events {
		if _, seen := order[ev.Type]; !seen {
			order[ev.Type] = i
		}
	}
	if !(order[core.EventToolCall] < order[core.EventToolResult] &&
		order[core.EventToolResult] < order[core.EventFinal]) {
		t.Fatalf("event ordering broken: %v", order)
	}

	if provider.CallCount != 2 {
		t.Fatalf("expected 2 model calls, got %d", provider.CallCount)
	}
}

func TestHandlePersistsSession(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptContent("answer"))
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{
		Text:      "a question",
		SessionID: "s-persist",
	}))
	assertSingleTerminalLast(t, events)

	sess, err := f.sessions.Load(context.Background(), "s-persist")
	if err != nil {
		t.Fatalf("session not saved: %v", err)
	}
	if sess.SelectedSkill != "doc_qa" {
		t.Fatalf("selected skill not recorded: %s", sess.SelectedSkill)
	}
	if len(sess.Messages) < 3 {
		t.Fatalf("expected system+user+assistant, got %d messages", len(sess.Messages))
	}
	if sess.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("first message should be the system prompt, got %s", sess.Messages[0].Role)
	}
	if sess.Messages[len(sess.Messages)-1].Role != llm.RoleAssistant {
		t.Fatal("last message should be the assistant answer")
	}
}

func TestHandleSecondTurnKeepsOneSystemPrompt(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptContent("first answer"),
		llm.ScriptContent("second answer"),
	)
	f := newFixture(t, provider)

	ctx := context.Background()
	collect(t, f.engine.Handle(ctx, core.Envelope{Text: "first question", SessionID: "s-multi"}))
	collect(t, f.engine.Handle(ctx, core.Envelope{Text: "second question", SessionID: "s-multi"}))

	sess, err := f.sessions.Load(ctx, "s-multi")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	systems := 0
	for _, msg := range sess.Messages {
		if msg.Role == llm.RoleSystem {
			systems++
		}
	}
	if systems != 1 {
		t.Fatalf("expected exactly 1 system message, got %d", systems)
	}
	if len(sess.Messages) != 5 {
		t.Fatalf("expected system + 2x(user+assistant), got %d", len(sess.Messages))
	}
}

func TestHandleUnauthorizedToolBecomesResultPayload(t *testing.T) {
	// A plain user asks the gpu skill to search logs; log_search requires
	// operator. The denial must surface as a tool_result error payload and
	// the invocation still finishes with a final answer.
	provider := llm.NewScripted(
		llm.ScriptToolCall("call-1", "log_search", `{"query":"Xid"}`),
		llm.ScriptContent(`{"summary":"insufficient privileges to inspect logs","evidence":[],"next_steps":["rerun as operator"]}`),
	)
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{
		Text: "/gpu why did GPU0 drop off the bus?",
		Role: core.RoleUser,
	}))

	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventFinal {
		t.Fatalf("tool denial must not terminate the stream, got %s: %v", last.Type, last.Data)
	}

	results := eventsOfType(events, core.EventToolResult)
	if len(results) != 1 {
		t.Fatalf("expected 1 tool_result, got %d", len(results))
	}
	errPayload, ok := results[0].Data["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error payload: %v", results[0].Data)
	}
	if errPayload["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected error code: %v", errPayload["code"])
	}
}

func TestHandleGPUDiagnosisPreRetrievesTwice(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptContent(`{"summary":"Xid 79, GPU fell off the bus","evidence":["log line"],"next_steps":["reseat the card"]}`),
	)
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{
		Text: "/gpu GPU0 has fallen off the bus",
		Role: core.RoleOperator,
	}))

	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventFinal {
		t.Fatalf("expected final, got %s: %v", last.Type, last.Data)
	}

	retrieves := eventsOfType(events, core.EventRetrieve)
	if len(retrieves) != 2 {
		t.Fatalf("gpu_diagnosis should retrieve twice, got %d", len(retrieves))
	}
	if retrieves[0].Data["corpus"] != "logs" || retrieves[1].Data["corpus"] != "knowledge" {
		t.Fatalf("unexpected corpora: %v %v", retrieves[0].Data["corpus"], retrieves[1].Data["corpus"])
	}
}

func TestHandleSchemaErrorIsFatal(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptContent("the GPU is probably broken"))
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{
		Text: "/gpu diagnose GPU1",
		Role: core.RoleOperator,
	}))

	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventError {
		t.Fatalf("expected error terminal, got %s", last.Type)
	}
	errPayload := last.Data["error"].(map[string]any)
	if errPayload["code"] != "SCHEMA_ERROR" {
		t.Fatalf("unexpected code: %v", errPayload["code"])
	}
	if len(eventsOfType(events, core.EventToken)) != 0 {
		t.Fatal("rejected answers must not stream tokens")
	}
}

func TestHandleModelFailureIsFatal(t *testing.T) {
	provider := llm.NewScripted()
	provider.Err = stderrors.New("connection refused")
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{Text: "hello"}))

	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventError {
		t.Fatalf("expected error terminal, got %s", last.Type)
	}
	errPayload := last.Data["error"].(map[string]any)
	if errPayload["code"] != "LLM_ERROR" {
		t.Fatalf("unexpected code: %v", errPayload["code"])
	}
}

func TestHandleIterationLimit(t *testing.T) {
	// The model asks for a tool on every iteration and never answers.
	provider := llm.NewScripted(
		llm.ScriptToolCall("c1", "kb_query", `{"query":"a"}`),
		llm.ScriptToolCall("c2", "kb_query", `{"query":"b"}`),
	)
	f := newFixture(t, provider, WithMaxIterations(2))

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{Text: "loop forever"}))

	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventError {
		t.Fatalf("expected error terminal, got %s", last.Type)
	}
	errPayload := last.Data["error"].(map[string]any)
	if errPayload["code"] != "ITERATION_LIMIT" {
		t.Fatalf("unexpected code: %v", errPayload["code"])
	}
	if provider.CallCount != 2 {
		t.Fatalf("expected exactly 2 model calls, got %d", provider.CallCount)
	}
}

func TestHandleEmptyTextRejected(t *testing.T) {
	provider := llm.NewScripted()
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{Text: "   "}))

	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventError {
		t.Fatalf("expected error terminal, got %s", last.Type)
	}
	errPayload := last.Data["error"].(map[string]any)
	if errPayload["code"] != "INVALID_INPUT" {
		t.Fatalf("unexpected code: %v", errPayload["code"])
	}
	if provider.CallCount != 0 {
		t.Fatal("the model must not be called for invalid input")
	}
}

func TestHandleFlushesTraceOnce(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptContent("answer"))
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{Text: "a question"}))
	traceID := events[0].TraceID

	records := f.sink.Records()
	if len(records) == 0 {
		t.Fatal("trace was not flushed")
	}
	for _, rec := range records {
		if rec.TraceID != traceID {
			t.Fatalf("record with foreign trace id: %+v", rec)
		}
	}
	if records[len(records)-1].Kind != trace.KindHandleDone {
		t.Fatalf("handle_done must close the trace, got %s", records[len(records)-1].Kind)
	}
	kinds := map[string]int{}
	for _, rec := range records {
		kinds[rec.Kind]++
	}
	if kinds[trace.KindRoute] != 1 || kinds[trace.KindLLMCall] != 1 || kinds[trace.KindHandleDone] != 1 {
		t.Fatalf("unexpected trace composition: %v", kinds)
	}

	if f.collector.Pending(traceID) != 0 {
		t.Fatal("buffer must be empty after teardown")
	}
}

func TestHandleFlushFailureDoesNotAffectStream(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptContent("answer"))
	f := newFixture(t, provider)
	f.sink.Err = stderrors.New("sink unavailable")

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{Text: "a question"}))
	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventFinal {
		t.Fatalf("flush failure must not fail the invocation, got %s", last.Type)
	}
}

func TestHandleBadToolArguments(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptToolCall("call-1", "kb_query", `{not json`),
		llm.ScriptContent("recovered"),
	)
	f := newFixture(t, provider)

	events := collect(t, f.engine.Handle(context.Background(), core.Envelope{Text: "q"}))

	last := assertSingleTerminalLast(t, events)
	if last.Type != core.EventFinal {
		t.Fatalf("bad arguments must not terminate the stream, got %s", last.Type)
	}
	results := eventsOfType(events, core.EventToolResult)
	errPayload, ok := results[0].Data["error"].(map[string]any)
	if !ok || errPayload["code"] != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT payload, got %v", results[0].Data)
	}
}

func TestHandleToolMessagesCarryCallID(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptToolCall("call-9", "kb_query", `{"query":"ECC"}`),
		llm.ScriptContent("done"),
	)
	f := newFixture(t, provider)

	collect(t, f.engine.Handle(context.Background(), core.Envelope{
		Text:      "q",
		SessionID: "s-ids",
	}))

	sess, err := f.sessions.Load(context.Background(), "s-ids")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var toolMsg *llm.Message
	for i := range sess.Messages {
		if sess.Messages[i].Role == llm.RoleTool {
			toolMsg = &sess.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message recorded")
	}
	if toolMsg.ToolCallID != "call-9" {
		t.Fatalf("tool message must reference the call id: %q", toolMsg.ToolCallID)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(toolMsg.Content), &payload); err != nil {
		t.Fatalf("tool message content is not JSON: %v", err)
	}
	if payload["name"] != "kb_query" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestSchemasExposedToModelAreRoleFiltered(t *testing.T) {
	var seenTools []string
	capture := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		seenTools = nil
		for _, tl := range req.Tools {
			seenTools = append(seenTools, tl.Function.Name)
		}
		return &llm.ChatResponse{Content: `{"summary":"s","evidence":[],"next_steps":[]}`}, nil
	}}

	sink := &trace.MemorySink{}
	collector := trace.NewBuffered(sink)
	registry := tool.NewRegistry(tool.WithCollector(collector))
	retriever := memory.NewKeywordStore(nil)
	if err := registry.Register(tool.KBQuery(retriever, core.AllRoles())); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(tool.LogSearch([]core.Role{core.RoleOperator, core.RoleAdmin})); err != nil {
		t.Fatalf("register: %v", err)
	}
	router, err := skill.NewRouter(skill.NewDocQA())
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if err := router.Add("/gpu", skill.NewGPUDiagnosis()); err != nil {
		t.Fatalf("add: %v", err)
	}
	eng, err := New(capture, registry, router, WithCollector(collector))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	// gpu skill allows both tools, but a plain user loses log_search.
	collect(t, eng.Handle(context.Background(), core.Envelope{
		Text: "/gpu diagnose",
		Role: core.RoleUser,
	}))
	if len(seenTools) != 1 || seenTools[0] != "kb_query" {
		t.Fatalf("user should only see kb_query, got %v", seenTools)
	}

	// Operator sees both.
	collect(t, eng.Handle(context.Background(), core.Envelope{
		Text: "/gpu diagnose",
		Role: core.RoleOperator,
	}))
	if len(seenTools) != 2 {
		t.Fatalf("operator should see both tools, got %v", seenTools)
	}
}

func TestGovernanceFilterMatchesSkillAllowlist(t *testing.T) {
	// doc_qa only allows kb_query, so even an admin never sees log_search.
	filter := governance.NewToolFilter(skill.NewDocQA().AllowedTools())
	if d := filter.IsAllowed("log_search"); d.Allowed {
		t.Fatal("doc_qa must not expose log_search")
	}
	if d := filter.IsAllowed("kb_query"); !d.Allowed {
		t.Fatal("doc_qa should expose kb_query")
	}
}
