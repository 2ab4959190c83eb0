package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/weave/pkg/session"
)

type fakeTool struct {
	name   string
	kind   Kind
	result any
	err    error
	calls  int
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "fake" }
func (f *fakeTool) Kind() Kind             { return f.kind }
func (f *fakeTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (f *fakeTool) Call(context.Context, Context, map[string]any) (any, error) {
	f.calls++
	return f.result, f.err
}

func newTestRegistry(t *testing.T, annotate Annotator) (*Registry, *session.Ledger, *session.EventLog, string) {
	t.Helper()
	ledger := session.NewLedger(session.WithSweepInterval(time.Hour))
	t.Cleanup(ledger.Stop)
	eventLog := session.NewEventLog("req-1")
	sessionID := ledger.Create("t", "p", "conv", "task")

	registry := NewRegistry(RegistryConfig{
		Base:     Context{AgentID: "a1", TaskID: "task", SessionID: sessionID},
		Ledger:   ledger,
		EventLog: eventLog,
		Annotate: annotate,
	})
	return registry, ledger, eventLog, sessionID
}

func TestRegistry_MCPToolRecordsAndEmits(t *testing.T) {
	registry, ledger, eventLog, sessionID := newTestRegistry(t, nil)
	require.NoError(t, registry.Register(&fakeTool{
		name: "search", kind: KindMCP,
		result: map[string]any{"items": []any{"a"}},
	}))

	result := registry.Execute(context.Background(), Call{ID: "c1", Name: "search"})
	assert.Empty(t, result.Error)

	rec, ok := ledger.Get(sessionID, "c1")
	require.True(t, ok)
	assert.Equal(t, "search", rec.ToolName)

	events := eventLog.OfType(session.EventToolExecution)
	require.Len(t, events, 1)
	assert.Equal(t, "search", events[0].Payload["toolName"])
	assert.Contains(t, events[0].Payload, "durationMs")
}

func TestRegistry_InternalToolsSkipToolExecutionEvent(t *testing.T) {
	registry, ledger, eventLog, sessionID := newTestRegistry(t, nil)
	require.NoError(t, registry.Register(&fakeTool{name: "thinking_complete", kind: KindBuiltin, result: "ok"}))
	require.NoError(t, registry.Register(&fakeTool{name: "transfer_to_x", kind: KindTransfer, result: "ok"}))

	registry.Execute(context.Background(), Call{ID: "c1", Name: "thinking_complete"})
	registry.Execute(context.Background(), Call{ID: "c2", Name: "transfer_to_x"})

	assert.Empty(t, eventLog.OfType(session.EventToolExecution))

	// Built-ins are not recorded into the ledger either.
	_, ok := ledger.Get(sessionID, "c1")
	assert.False(t, ok)
}

func TestRegistry_ErrorsComeBackAsResults(t *testing.T) {
	registry, ledger, eventLog, sessionID := newTestRegistry(t, nil)
	require.NoError(t, registry.Register(&fakeTool{
		name: "broken", kind: KindMCP, err: errors.New("server unreachable"),
	}))

	result := registry.Execute(context.Background(), Call{ID: "c1", Name: "broken"})
	assert.Contains(t, result.Error, "server unreachable")

	// Failures are not recorded into the ledger but are accounted in events.
	_, ok := ledger.Get(sessionID, "c1")
	assert.False(t, ok)
	events := eventLog.OfType(session.EventToolExecution)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Payload, "error")
}

func TestRegistry_UnknownTool(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t, nil)
	result := registry.Execute(context.Background(), Call{ID: "c1", Name: "ghost"})
	assert.Contains(t, result.Error, "unknown tool")
}

func TestRegistry_AnnotatorAppliesToMCPResults(t *testing.T) {
	annotate := func(result any) any {
		m, ok := result.(map[string]any)
		if !ok {
			return result
		}
		m["_structureHints"] = map[string]any{"note": "hints"}
		return m
	}
	registry, ledger, _, sessionID := newTestRegistry(t, annotate)
	require.NoError(t, registry.Register(&fakeTool{
		name: "search", kind: KindMCP, result: map[string]any{"items": []any{}},
	}))

	result := registry.Execute(context.Background(), Call{ID: "c1", Name: "search"})
	out := result.Result.(map[string]any)
	assert.Contains(t, out, "_structureHints")

	rec, _ := ledger.Get(sessionID, "c1")
	assert.Contains(t, rec.Result.(map[string]any), "_structureHints")
}

func TestRegistry_AllocatesMissingCallID(t *testing.T) {
	registry, ledger, _, sessionID := newTestRegistry(t, nil)
	require.NoError(t, registry.Register(&fakeTool{name: "search", kind: KindMCP, result: "r"}))

	result := registry.Execute(context.Background(), Call{Name: "search"})
	require.NotEmpty(t, result.ToolCallID)
	_, ok := ledger.Get(sessionID, result.ToolCallID)
	assert.True(t, ok)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t, nil)
	require.NoError(t, registry.Register(&fakeTool{name: "search", kind: KindMCP}))
	assert.Error(t, registry.Register(&fakeTool{name: "search", kind: KindMCP}))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "valid_name-1", SanitizeName("valid_name-1"))
	assert.Equal(t, "has_spaces_and_dots", SanitizeName("has spaces.and.dots"))
	assert.True(t, NamePattern.MatchString(SanitizeName("weird!@#name")))
	long := SanitizeName(string(make([]byte, 300)))
	assert.LessOrEqual(t, len(long), 100)
}

func TestRegistry_DefinitionsInRegistrationOrder(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t, nil)
	require.NoError(t, registry.Register(&fakeTool{name: "b", kind: KindMCP}))
	require.NoError(t, registry.Register(&fakeTool{name: "a", kind: KindMCP}))

	defs := registry.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].Name)
	assert.Equal(t, "a", defs[1].Name)
}
