package model

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/weave/pkg/tool"
)

// echoToolbox executes every call by echoing its args.
type echoToolbox struct {
	defs  []tool.Definition
	calls []tool.Call
}

func (tb *echoToolbox) Definitions() []tool.Definition { return tb.defs }

func (tb *echoToolbox) Execute(_ context.Context, call tool.Call) tool.Result {
	tb.calls = append(tb.calls, call)
	return tool.Result{ToolCallID: call.ID, Name: call.Name, Result: call.Args}
}

func newTestDriver(responses ...*ProviderResponse) (*Driver, *Scripted) {
	scripted := NewScripted("test", responses...)
	registry := NewRegistry()
	registry.Register(scripted)
	return NewDriver(registry), scripted
}

func TestGenerateText_SingleStep(t *testing.T) {
	driver, _ := newTestDriver(&ProviderResponse{Text: "hello"})

	resp, err := driver.GenerateText(context.Background(), &Request{
		Model:    "test/fake-1",
		Messages: []Message{UserMessage("hi")},
		MaxSteps: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Len(t, resp.Steps, 1)
}

func TestGenerateText_LoopsUntilNoToolCalls(t *testing.T) {
	driver, _ := newTestDriver(
		&ProviderResponse{ToolCalls: []tool.Call{{ID: "c1", Name: "search", Args: map[string]any{"q": "go"}}}},
		&ProviderResponse{ToolCalls: []tool.Call{{ID: "c2", Name: "fetch"}}},
		&ProviderResponse{Text: "done"},
	)
	toolbox := &echoToolbox{}

	resp, err := driver.GenerateText(context.Background(), &Request{
		Model:    "test/fake-1",
		Messages: []Message{UserMessage("hi")},
		Toolbox:  toolbox,
		MaxSteps: 10,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Steps, 3)
	assert.Equal(t, "done", resp.Text)
	require.Len(t, toolbox.calls, 2)
	assert.Equal(t, "search", toolbox.calls[0].Name)
}

func TestGenerateText_StopPredicateEndsLoop(t *testing.T) {
	driver, scripted := newTestDriver(
		&ProviderResponse{ToolCalls: []tool.Call{{ID: "c1", Name: "transfer_to_refunds"}}},
		&ProviderResponse{Text: "never reached"},
	)

	resp, err := driver.GenerateText(context.Background(), &Request{
		Model:    "test/fake-1",
		Messages: []Message{UserMessage("hi")},
		Toolbox:  &echoToolbox{},
		MaxSteps: 10,
		StopWhen: func(steps []Step) bool {
			return steps[len(steps)-1].HasToolCallPrefix("transfer_to_")
		},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Steps, 1)
	assert.Len(t, scripted.Requests(), 1)
}

func TestGenerateText_StepCap(t *testing.T) {
	keepCalling := &ProviderResponse{ToolCalls: []tool.Call{{ID: "c", Name: "noop"}}}
	driver, scripted := newTestDriver(keepCalling, keepCalling, keepCalling, keepCalling)

	resp, err := driver.GenerateText(context.Background(), &Request{
		Model:    "test/fake-1",
		Messages: []Message{UserMessage("hi")},
		Toolbox:  &echoToolbox{},
		MaxSteps: 3,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Steps, 3)
	assert.Len(t, scripted.Requests(), 3)
}

func TestGenerateText_TranscriptCarriesToolResults(t *testing.T) {
	driver, scripted := newTestDriver(
		&ProviderResponse{ToolCalls: []tool.Call{{ID: "c1", Name: "search", Args: map[string]any{"q": "x"}}}},
		&ProviderResponse{Text: "done"},
	)

	_, err := driver.GenerateText(context.Background(), &Request{
		Model:    "test/fake-1",
		Messages: []Message{UserMessage("hi")},
		Toolbox:  &echoToolbox{},
		MaxSteps: 5,
	})
	require.NoError(t, err)

	second := scripted.Requests()[1]
	require.Len(t, second.Messages, 3) // user, assistant w/ call, tool result
	assert.Equal(t, RoleAssistant, second.Messages[1].Role)
	require.Len(t, second.Messages[1].ToolCalls, 1)
	assert.Equal(t, RoleTool, second.Messages[2].Role)
	assert.Equal(t, "c1", second.Messages[2].ToolResult.ToolCallID)
}

func TestStreamText_YieldsDeltasAndFinish(t *testing.T) {
	driver, _ := newTestDriver(&ProviderResponse{Text: "hello world"})

	var deltas []string
	var final *Response
	for event, err := range driver.StreamText(context.Background(), &Request{
		Model:    "test/fake-1",
		Messages: []Message{UserMessage("hi")},
		MaxSteps: 2,
	}) {
		require.NoError(t, err)
		switch event.Type {
		case StreamTextDelta:
			deltas = append(deltas, event.TextDelta)
		case StreamFinish:
			final = event.Response
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, "hello world", strings.Join(deltas, ""))
	assert.Equal(t, "hello world", final.Text)
}

func TestGenerateObject(t *testing.T) {
	driver, _ := newTestDriver(&ProviderResponse{Text: `{"answer": "42"}`})

	resp, err := driver.GenerateObject(context.Background(), &Request{
		Model:    "test/fake-1",
		Messages: []Message{UserMessage("hi")},
		Schema:   map[string]any{"type": "object"},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.Object["answer"])
}

func TestGenerateObject_RequiresSchema(t *testing.T) {
	driver, _ := newTestDriver()
	_, err := driver.GenerateObject(context.Background(), &Request{Model: "test/fake-1"})
	assert.Error(t, err)
}

func TestRegistry_ResolvesByPrefix(t *testing.T) {
	a := NewScripted("alpha")
	b := NewScripted("beta")
	registry := NewRegistry()
	registry.Register(a)
	registry.Register(b)

	p, err := registry.ProviderFor("beta/model-x")
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Name())

	// Bare model ids fall back to the default (first registered).
	p, err = registry.ProviderFor("model-x")
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.Name())

	_, err = registry.ProviderFor("gamma/model-x")
	assert.Error(t, err)
}

func TestTimeoutFor(t *testing.T) {
	assert.Equal(t, DefaultGenerateTimeout, timeoutFor(DefaultGenerateTimeout, nil))
	assert.Equal(t, MaxTimeout, timeoutFor(DefaultGenerateTimeout, map[string]any{"maxDuration": 3600}))
	got := timeoutFor(DefaultGenerateTimeout, map[string]any{"maxDuration": 120})
	assert.Equal(t, "2m0s", got.String())
}
