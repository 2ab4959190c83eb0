package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/model"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/tool"
)

// fakeSearchTool stands in for a remote tool-server tool.
type fakeSearchTool struct {
	result any
}

func (f *fakeSearchTool) Name() string        { return "web_search" }
func (f *fakeSearchTool) Description() string { return "Search the web" }
func (f *fakeSearchTool) Kind() tool.Kind     { return tool.KindMCP }
func (f *fakeSearchTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}}
}
func (f *fakeSearchTool) Call(context.Context, tool.Context, map[string]any) (any, error) {
	return f.result, nil
}

type fixture struct {
	store    *storage.Memory
	ledger   *session.Ledger
	provider *model.Scripted
	driver   *model.Driver
	handler  *TaskHandler
	logs     *session.EventLogs
}

func newFixture(t *testing.T, withFinalizer bool) *fixture {
	t.Helper()

	store := storage.NewMemory()
	ledger := session.NewLedger(session.WithSweepInterval(time.Hour))
	t.Cleanup(ledger.Stop)

	provider := model.NewScripted("test")
	registry := model.NewRegistry()
	registry.Register(provider)
	driver := model.NewDriver(registry)

	searchResult := map[string]any{
		"content": []any{map[string]any{
			"text": map[string]any{
				"content": `[{"title":"Web Sources","url":"https://x"}]`,
			},
		}},
	}

	exec := New(Config{
		Driver: driver,
		Ledger: ledger,
		Store:  store,
		Sources: func(_ context.Context, ref agent.ToolServerRef) ([]tool.Tool, error) {
			return []tool.Tool{&fakeSearchTool{result: searchResult}}, nil
		},
	})

	var finalizer *Finalizer
	if withFinalizer {
		finalizer = NewFinalizer(driver, store, storage.Scope{})
	}

	logs := session.NewEventLogs()
	router := NewRouter(nil, nil, store, storage.Scope{})
	handler := NewTaskHandler(HandlerConfig{
		Executor:  exec,
		Store:     store,
		Router:    router,
		Finalizer: finalizer,
		EventLogs: logs,
		GraphID:   "g1",
	})

	store.PutGraph(&agent.Graph{ID: "g1", Name: "support"})
	return &fixture{store: store, ledger: ledger, provider: provider, driver: driver, handler: handler, logs: logs}
}

func baseAgent(id string) *agent.Agent {
	return &agent.Agent{
		ID:      id,
		GraphID: "g1",
		Name:    id,
		Prompt:  "You are " + id + ".",
		Models: map[agent.ModelRole]agent.ModelSettings{
			agent.ModelRoleBase: {Model: "test/fake-1"},
		},
	}
}

func newTask(id, text string) *a2a.Task {
	return &a2a.Task{
		ID: id,
		Input: a2a.TaskInput{
			Parts: []a2a.Part{a2a.NewTextPart(text)},
		},
		Context: a2a.TaskContext{
			ConversationID: "conv-1",
			Metadata: map[string]any{
				a2a.MetaConversationID:  "conv-1",
				a2a.MetaStreamRequestID: "req-" + id,
			},
		},
	}
}

// Scenario A: pure text, no tools, no phase 2.
func TestTurn_PureText(t *testing.T) {
	f := newFixture(t, false)
	f.store.PutAgent(baseAgent("assistant"))
	f.provider.Enqueue(&model.ProviderResponse{Text: "hello there"})

	result, err := f.handler.Handle(context.Background(), "assistant", newTask("t1", "hello"))
	require.NoError(t, err)

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, result.Artifacts, 1)
	require.Len(t, result.Artifacts[0].Parts, 1)
	assert.Equal(t, "hello there", result.Artifacts[0].Parts[0].Text)

	// One scripted response consumed: phase 2 never ran.
	assert.Len(t, f.provider.Requests(), 1)
}

func TestTurn_EmptyInputFails(t *testing.T) {
	f := newFixture(t, false)
	f.store.PutAgent(baseAgent("assistant"))

	result, err := f.handler.Handle(context.Background(), "assistant", newTask("t1", "   "))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateFailed, result.Status.State)
	assert.Equal(t, "No text content found in task input", result.Status.Message)
}

func TestTurn_UnknownAgent(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.handler.Handle(context.Background(), "ghost", newTask("t1", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Agent not found: ghost")
}

// Scenario B: transfer ends the turn with a transfer artifact.
func TestTurn_Transfer(t *testing.T) {
	f := newFixture(t, false)
	ag := baseAgent("frontdesk")
	ag.TransferRelations = []string{"refund-agent"}
	f.store.PutAgent(ag)
	f.store.PutAgent(baseAgent("refund-agent"))

	f.provider.Enqueue(&model.ProviderResponse{ToolCalls: []tool.Call{{
		ID:   "c1",
		Name: "transfer_to_refund-agent",
		Args: map[string]any{"reason": "billing dispute"},
	}}})

	result, err := f.handler.Handle(context.Background(), "frontdesk", newTask("t2", "I want a refund"))
	require.NoError(t, err)

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, result.Artifacts, 1)
	require.Len(t, result.Artifacts[0].Parts, 1)

	data := result.Artifacts[0].Parts[0].Data
	assert.Equal(t, "transfer", data["type"])
	assert.Equal(t, "refund-agent", data["target"])
	assert.Equal(t, "t2", data["task_id"])
	assert.Equal(t, "billing dispute", data["reason"])
	assert.Equal(t, "I want a refund", data["original_message"])
	assert.Equal(t, "refund-agent", result.TransferTarget())

	// Phase 1 stopped at the transfer step; phase 2 never ran.
	assert.Len(t, f.provider.Requests(), 1)
}

// Scenario C: structured output with artifact creation.
func TestTurn_StructuredOutputWithArtifactCreation(t *testing.T) {
	f := newFixture(t, false)
	ag := baseAgent("researcher")
	ag.Tools = []agent.ToolServerRef{{ID: "ts1", Name: "search-server", URL: "http://tools"}}
	ag.DataComponents = []agent.DataComponent{{
		Name:        "Answer",
		Description: "The final answer",
		Props: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
	}}
	ag.ArtifactComponents = []agent.ArtifactComponent{{
		Name: "WebSource",
		SummaryProps: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
				"url":   map[string]any{"type": "string"},
			},
		},
	}}
	f.store.PutAgent(ag)

	// Phase 1: one remote tool call, then thinking_complete.
	f.provider.Enqueue(&model.ProviderResponse{ToolCalls: []tool.Call{{
		ID: "call-1", Name: "web_search", Args: map[string]any{"query": "sources"},
	}}})
	f.provider.Enqueue(&model.ProviderResponse{ToolCalls: []tool.Call{{
		ID: "call-2", Name: "thinking_complete",
	}}})
	// Phase 2: structured output citing the tool call.
	f.provider.Enqueue(&model.ProviderResponse{Text: `{
		"dataComponents": [
			{"name": "Answer", "props": {"text": "Found one source."}},
			{"name": "ArtifactCreate_WebSource", "props": {
				"tool_call_id": "call-1",
				"type": "WebSource",
				"base_selector": "content[0].text.content"
			}}
		]
	}`})

	task := newTask("t3", "find sources")
	result, err := f.handler.Handle(context.Background(), "researcher", task)
	require.NoError(t, err)
	require.Equal(t, a2a.TaskStateCompleted, result.Status.State, result.Status.Message)

	// Phase 1 forced tool use.
	first := f.provider.Requests()[0]
	assert.Equal(t, model.ToolChoiceRequired, first.ToolChoice)

	// Phase 2 was schema-constrained and saw the planning transcript.
	phase2 := f.provider.Requests()[2]
	require.NotNil(t, phase2.Schema)
	var sawTranscript bool
	for _, msg := range phase2.Messages {
		if msg.Role == model.RoleUser && len(msg.Content) > 0 {
			if containsAll(msg.Content, "Planning Transcript", "call-1") {
				sawTranscript = true
			}
		}
	}
	assert.True(t, sawTranscript, "phase 2 must be driven on the phase-1 transcript")

	// Output carries the Answer and the ArtifactCreate component.
	parts := result.Artifacts[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "Answer", parts[0].Data["name"])
	assert.Equal(t, "ArtifactCreate_WebSource", parts[1].Data["name"])

	// The extraction ran: a pending artifact exists with the projected
	// summary.
	artifacts, err := f.store.GetLedgerArtifacts(context.Background(), storage.Scope{}, storage.ArtifactQuery{TaskID: "t3"})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.True(t, artifacts[0].Pending)
	assert.Equal(t, "Web Sources", artifacts[0].SummaryData["title"])
	assert.Equal(t, "https://x", artifacts[0].SummaryData["url"])
}

// Scenario D: delegation round-trip.
func TestTurn_DelegationRoundTrip(t *testing.T) {
	f := newFixture(t, false)

	coordinator := baseAgent("coordinator")
	coordinator.DelegateRelations = []agent.DelegateRef{{Kind: agent.DelegateInternal, AgentID: "specialist"}}
	f.store.PutAgent(coordinator)
	f.store.PutAgent(baseAgent("specialist"))

	// Coordinator phase 1 step 1: delegate. Nested: specialist's whole
	// turn consumes the next scripted response. Then coordinator finishes.
	f.provider.Enqueue(&model.ProviderResponse{ToolCalls: []tool.Call{{
		ID: "del-call-1", Name: "delegate_to_specialist",
		Args: map[string]any{"message": "analyze the logs"},
	}}})
	f.provider.Enqueue(&model.ProviderResponse{Text: "specialist findings"})
	f.provider.Enqueue(&model.ProviderResponse{Text: "done, the specialist says: specialist findings"})

	task := newTask("t4", "coordinate this")
	result, err := f.handler.Handle(context.Background(), "coordinator", task)
	require.NoError(t, err)
	require.Equal(t, a2a.TaskStateCompleted, result.Status.State, result.Status.Message)

	// Delegation did NOT terminate phase 1: the coordinator kept going.
	assert.Contains(t, result.Text(), "specialist findings")

	// Exactly one a2a-request and one a2a-response, sharing a delegationId.
	history, err := f.store.GetFormattedConversationHistory(context.Background(), storage.Scope{}, storage.HistoryQuery{ConversationID: "conv-1"})
	require.NoError(t, err)

	var requests, responses []*storage.Message
	for _, msg := range history {
		switch msg.MessageType {
		case storage.MessageTypeA2ARequest:
			requests = append(requests, msg)
		case storage.MessageTypeA2AResponse:
			responses = append(responses, msg)
		}
	}
	require.Len(t, requests, 1)
	require.Len(t, responses, 1)
	assert.NotEmpty(t, requests[0].DelegationID)
	assert.Equal(t, requests[0].DelegationID, responses[0].DelegationID)
	assert.Equal(t, storage.VisibilityInternal, requests[0].Visibility)
	assert.Equal(t, "specialist", requests[0].ToAgentID)

	// The caller's ledger holds the delegate's answer under the delegate
	// tool call id, citable via save_tool_result.
	rec, ok := f.ledger.Get("req-t4", "del-call-1")
	require.True(t, ok)
	out := rec.Result.(map[string]any)
	assert.Equal(t, "specialist findings", out["response"])

	// Shared event log: delegation_sent and delegation_returned once each.
	log := f.logs.GetOrCreate("req-t4")
	assert.Len(t, log.OfType(session.EventDelegationSent), 1)
	assert.Len(t, log.OfType(session.EventDelegationReturned), 1)
}

// Scenario F: step cap with data components and no thinking_complete.
func TestTurn_StepCapReturnsPhase1Text(t *testing.T) {
	f := newFixture(t, false)
	ag := baseAgent("capped")
	ag.StopWhen = agent.StopWhen{StepCountIs: 3}
	ag.Tools = []agent.ToolServerRef{{ID: "ts1", Name: "search-server", URL: "http://tools"}}
	ag.DataComponents = []agent.DataComponent{{Name: "Answer", Props: map[string]any{"type": "object"}}}
	f.store.PutAgent(ag)

	keepSearching := &model.ProviderResponse{
		Text:      "still planning",
		ToolCalls: []tool.Call{{ID: "c", Name: "web_search", Args: map[string]any{"query": "x"}}},
	}
	f.provider.Enqueue(keepSearching)
	f.provider.Enqueue(keepSearching)
	f.provider.Enqueue(keepSearching)

	result, err := f.handler.Handle(context.Background(), "capped", newTask("t5", "research"))
	require.NoError(t, err)

	// Exactly 3 steps ran; phase 2 was skipped; the last step's text is
	// the turn's content.
	assert.Len(t, f.provider.Requests(), 3)
	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	assert.Equal(t, "still planning", result.Text())
}

func TestTurn_DelegatedTaskDoesNotStream(t *testing.T) {
	f := newFixture(t, false)
	f.store.PutAgent(baseAgent("assistant"))
	f.provider.Enqueue(&model.ProviderResponse{Text: "quiet answer"})

	task := newTask("t6", "hello")
	task.Context.Metadata[a2a.MetaIsDelegation] = true

	var streamed int
	result, err := f.handler.HandleStreaming(context.Background(), "assistant", task, func(a2a.Part) bool {
		streamed++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, "quiet answer", result.Text())
	assert.Zero(t, streamed, "delegated turns must not stream to the user")
}

func TestTurn_StreamingMatchesResultParts(t *testing.T) {
	f := newFixture(t, false)
	f.store.PutAgent(baseAgent("assistant"))
	f.provider.Enqueue(&model.ProviderResponse{Text: "streamed hello"})

	var parts []a2a.Part
	result, err := f.handler.HandleStreaming(context.Background(), "assistant", newTask("t7", "hi"), func(p a2a.Part) bool {
		parts = append(parts, p)
		return true
	})
	require.NoError(t, err)

	var streamedText string
	for _, p := range parts {
		streamedText += p.Text
	}
	assert.Equal(t, "streamed hello", streamedText)
	assert.Equal(t, result.Text(), streamedText)
}

func TestFinalizer_NamesPendingArtifacts(t *testing.T) {
	f := newFixture(t, true)
	ag := baseAgent("researcher")
	ag.Tools = []agent.ToolServerRef{{ID: "ts1", Name: "search-server", URL: "http://tools"}}
	ag.DataComponents = []agent.DataComponent{{Name: "Answer", Props: map[string]any{"type": "object"}}}
	ag.ArtifactComponents = []agent.ArtifactComponent{{
		Name: "WebSource",
		SummaryProps: map[string]any{
			"type":       "object",
			"properties": map[string]any{"title": map[string]any{"type": "string"}},
		},
	}}
	f.store.PutAgent(ag)

	f.provider.Enqueue(&model.ProviderResponse{ToolCalls: []tool.Call{{
		ID: "call-1", Name: "web_search", Args: map[string]any{"query": "x"},
	}}})
	f.provider.Enqueue(&model.ProviderResponse{ToolCalls: []tool.Call{{ID: "call-2", Name: "thinking_complete"}}})
	f.provider.Enqueue(&model.ProviderResponse{Text: `{
		"dataComponents": [
			{"name": "ArtifactCreate_WebSource", "props": {
				"tool_call_id": "call-1",
				"type": "WebSource",
				"base_selector": "content[0].text.content"
			}}
		]
	}`})
	// Finalizer naming call.
	f.provider.Enqueue(&model.ProviderResponse{Text: `{"name": "Web Sources", "description": "Search results about x."}`})

	_, err := f.handler.Handle(context.Background(), "researcher", newTask("t8", "find"))
	require.NoError(t, err)

	artifacts, err := f.store.GetLedgerArtifacts(context.Background(), storage.Scope{}, storage.ArtifactQuery{TaskID: "t8"})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.False(t, artifacts[0].Pending)
	assert.Equal(t, "Web Sources", artifacts[0].Name)
	assert.Equal(t, "Search results about x.", artifacts[0].Description)
}

func TestResolveContextID(t *testing.T) {
	cases := []struct {
		name string
		task *a2a.Task
		want string
	}{
		{
			name: "metadata wins",
			task: &a2a.Task{ID: "t", Context: a2a.TaskContext{
				ConversationID: "other",
				Metadata:       map[string]any{a2a.MetaConversationID: "conv-meta"},
			}},
			want: "conv-meta",
		},
		{
			name: "falls back to context",
			task: &a2a.Task{ID: "t", Context: a2a.TaskContext{ConversationID: "conv-ctx"}},
			want: "conv-ctx",
		},
		{
			name: "default triggers task id extraction",
			task: &a2a.Task{ID: "task_conv-42_abc123", Context: a2a.TaskContext{
				Metadata: map[string]any{a2a.MetaConversationID: "default"},
			}},
			want: "conv-42",
		},
		{
			name: "final fallback",
			task: &a2a.Task{ID: "plain-id"},
			want: "default",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveContextID(tc.task))
		})
	}
}

func TestPhase2Schema(t *testing.T) {
	ag := baseAgent("a")
	ag.DataComponents = []agent.DataComponent{{Name: "Answer", Props: map[string]any{"type": "object"}}}
	ag.ArtifactComponents = []agent.ArtifactComponent{{Name: "WebSource"}}

	schema := Phase2Schema(ag)
	props := schema["properties"].(map[string]any)
	items := props["dataComponents"].(map[string]any)["items"].(map[string]any)
	variants := items["anyOf"].([]any)

	// Answer + ArtifactCreate_WebSource + Artifact reference.
	require.Len(t, variants, 3)
	names := make([]string, 0, 3)
	for _, v := range variants {
		nameSchema := v.(map[string]any)["properties"].(map[string]any)["name"].(map[string]any)
		names = append(names, nameSchema["const"].(string))
	}
	assert.ElementsMatch(t, []string{"Answer", "ArtifactCreate_WebSource", "Artifact"}, names)
}

func TestReasoningFlow(t *testing.T) {
	steps := []model.Step{{
		Text: "looking things up",
		ToolCalls: []tool.Call{
			{ID: "c1", Name: "web_search", Args: map[string]any{"query": "x"}},
			{ID: "c2", Name: "thinking_complete"},
		},
		ToolResults: []tool.Result{
			{ToolCallID: "c1", Name: "web_search", Result: map[string]any{"items": []any{}}},
			{ToolCallID: "c2", Name: "thinking_complete", Result: "ok"},
		},
	}}

	flow := ReasoningFlow(steps)
	assert.Contains(t, flow, "web_search")
	assert.Contains(t, flow, "c1")
	assert.NotContains(t, flow, "thinking_complete")

	assert.Empty(t, ReasoningFlow(nil))
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
