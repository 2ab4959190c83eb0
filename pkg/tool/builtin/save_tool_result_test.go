package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/tool"
)

func newSaveFixture(t *testing.T) (*SaveToolResult, *session.Ledger, *session.EventLog, *storage.Memory, tool.Context) {
	t.Helper()

	ledger := session.NewLedger(session.WithSweepInterval(time.Hour))
	t.Cleanup(ledger.Stop)
	eventLog := session.NewEventLog("req-1")
	store := storage.NewMemory()

	a := &agent.Agent{
		ID: "researcher",
		ArtifactComponents: []agent.ArtifactComponent{{
			Name:        "WebSource",
			Description: "A cited web source",
			SummaryProps: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"url":   map[string]any{"type": "string"},
				},
			},
			FullProps: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":   map[string]any{"type": "string"},
					"url":     map[string]any{"type": "string"},
					"snippet": map[string]any{"type": "string"},
				},
			},
		}},
	}

	saveTool := &SaveToolResult{
		Ledger:   ledger,
		EventLog: eventLog,
		Store:    store,
		Agent:    a,
	}
	tc := tool.Context{
		AgentID:    "researcher",
		TaskID:     "task-1",
		SessionID:  ledger.Create("t", "p", "conv-1", "task-1"),
		ToolCallID: "save-call",
	}
	return saveTool, ledger, eventLog, store, tc
}

func TestSaveToolResult_UnknownToolCall(t *testing.T) {
	saveTool, _, eventLog, _, tc := newSaveFixture(t)

	out, err := saveTool.Call(context.Background(), tc, map[string]any{
		"toolCallId":   "nope",
		"baseSelector": "items",
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, false, result["saved"])
	assert.Equal(t, "Tool result not found", result["error"])
	assert.Zero(t, eventLog.Len())
}

func TestSaveToolResult_ExtractsEmbeddedJSON(t *testing.T) {
	saveTool, ledger, eventLog, store, tc := newSaveFixture(t)

	// Tool-server envelope with a JSON document embedded as a string.
	ledger.Record(tc.SessionID, session.ToolResultRecord{
		ToolCallID: "call-1",
		ToolName:   "web_search",
		Result: map[string]any{
			"content": []any{map[string]any{
				"text": map[string]any{
					"content": `[{"title":"Web Sources","url":"https://x","snippet":"s"}]`,
				},
			}},
		},
	})

	out, err := saveTool.Call(context.Background(), tc, map[string]any{
		"toolCallId":   "call-1",
		"baseSelector": "content[0].text.content",
		"artifactType": "WebSource",
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	require.Equal(t, true, result["saved"], "unexpected result: %v", result)

	saved := result["artifacts"].([]map[string]any)
	require.Len(t, saved, 1)
	summary := saved[0]["summaryData"].(map[string]any)
	assert.Equal(t, "Web Sources", summary["title"])
	assert.Equal(t, "https://x", summary["url"])

	events := eventLog.OfType(session.EventArtifactSaved)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].Payload["pendingGeneration"])
	assert.Equal(t, "call-1", events[0].Payload["toolCallId"])

	persisted, err := store.GetLedgerArtifacts(context.Background(), storage.Scope{}, storage.ArtifactQuery{TaskID: "task-1"})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.True(t, persisted[0].Pending)
	assert.Equal(t, "s", persisted[0].FullData["snippet"])
}

func TestSaveToolResult_PropSelectorsRelativeToItem(t *testing.T) {
	saveTool, ledger, _, _, tc := newSaveFixture(t)

	ledger.Record(tc.SessionID, session.ToolResultRecord{
		ToolCallID: "call-2",
		ToolName:   "web_search",
		Result: map[string]any{
			"results": []any{
				map[string]any{"meta": map[string]any{"heading": "One"}, "url": "https://1"},
				map[string]any{"meta": map[string]any{"heading": "Two"}, "url": "https://2"},
			},
		},
	})

	out, err := saveTool.Call(context.Background(), tc, map[string]any{
		"toolCallId":   "call-2",
		"baseSelector": "results",
		"propSelectors": map[string]any{
			"title": "meta.heading",
		},
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	require.Equal(t, true, result["saved"])
	saved := result["artifacts"].([]map[string]any)
	require.Len(t, saved, 2)
	assert.Equal(t, "One", saved[0]["summaryData"].(map[string]any)["title"])
	// url falls back to direct property access.
	assert.Equal(t, "https://2", saved[1]["summaryData"].(map[string]any)["url"])
}

func TestSaveToolResult_InvalidPropSelectorWarnsAndFallsBack(t *testing.T) {
	saveTool, ledger, _, _, tc := newSaveFixture(t)

	ledger.Record(tc.SessionID, session.ToolResultRecord{
		ToolCallID: "call-3",
		Result:     map[string]any{"items": []any{map[string]any{"title": "T", "url": "u"}}},
	})

	out, err := saveTool.Call(context.Background(), tc, map[string]any{
		"toolCallId":   "call-3",
		"baseSelector": "items",
		"propSelectors": map[string]any{
			"title": "[invalid jmespath",
		},
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	require.Equal(t, true, result["saved"])
	warnings := result["warnings"].([]string)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "title")

	saved := result["artifacts"].([]map[string]any)
	assert.Equal(t, "T", saved[0]["summaryData"].(map[string]any)["title"])
}

func TestSaveToolResult_DiagnosticOnEmptySelection(t *testing.T) {
	saveTool, ledger, eventLog, _, tc := newSaveFixture(t)

	ledger.Record(tc.SessionID, session.ToolResultRecord{
		ToolCallID: "call-4",
		Result: map[string]any{
			"items": []any{map[string]any{"documents": []any{map[string]any{"type": "api"}}}},
			"meta":  map[string]any{"count": float64(1)},
		},
	})

	out, err := saveTool.Call(context.Background(), tc, map[string]any{
		"toolCallId":   "call-4",
		"baseSelector": "result.documents[?type=='api']",
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	require.Equal(t, false, result["saved"])

	diag := result["error"].(string)
	assert.Contains(t, diag, "DETECTED ISSUES")
	assert.Contains(t, diag, "AVAILABLE TOP-LEVEL KEYS")
	assert.Contains(t, diag, "- items")
	assert.Contains(t, diag, "- meta")
	// The misplaced key is located deeper in the structure.
	assert.Contains(t, diag, `"documents" DOES exist at`)
	assert.Contains(t, diag, "items[0].documents")

	assert.Zero(t, eventLog.Len(), "failed extraction must not create artifacts")
}

func TestSaveToolResult_AbsentKeyStatesSo(t *testing.T) {
	saveTool, ledger, _, _, tc := newSaveFixture(t)

	ledger.Record(tc.SessionID, session.ToolResultRecord{
		ToolCallID: "call-5",
		Result:     map[string]any{"items": []any{}, "meta": map[string]any{}},
	})

	out, err := saveTool.Call(context.Background(), tc, map[string]any{
		"toolCallId":   "call-5",
		"baseSelector": "documents",
	})
	require.NoError(t, err)

	diag := out.(map[string]any)["error"].(string)
	assert.Contains(t, diag, `"documents" does not appear anywhere`)
}

func TestAnalyzeSelectorFailure_FilterMatchedNothing(t *testing.T) {
	data := map[string]any{
		"items": []any{map[string]any{"type": "guide"}},
	}
	diag := AnalyzeSelectorFailure(data, "items[?type=='missing']")
	assert.Contains(t, diag, "filter")
}

func TestStructureHints(t *testing.T) {
	hints := StructureHints(map[string]any{
		"result": map[string]any{
			"items": []any{
				map[string]any{"type": "guide", "status": "active", "body": "text"},
			},
			"count": float64(1),
		},
	})

	assert.Contains(t, hints["terminalPaths"], "result.count")
	assert.Contains(t, hints["arrayPaths"], "result.items")

	examples := hints["exampleSelectors"].([]string)
	require.NotEmpty(t, examples)
	assert.Contains(t, examples[0], "result.items[?")
	assert.Contains(t, hints["note"], "JMESPath")
}

func TestThinkingComplete(t *testing.T) {
	tc := &ThinkingComplete{}
	out, err := tc.Call(context.Background(), tool.Context{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"acknowledged": true}, out)
	assert.Equal(t, tool.KindBuiltin, tc.Kind())
}

func TestGetReferenceArtifact(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.AddLedgerArtifacts(context.Background(), storage.Scope{}, []*storage.Artifact{
		{ArtifactID: "art-1", TaskID: "t1", ArtifactType: "WebSource", Name: "Sources"},
	}))

	ref := &GetReferenceArtifact{Store: store}

	out, err := ref.Call(context.Background(), tool.Context{}, map[string]any{"artifactId": "art-1"})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, true, m["found"])
	assert.Equal(t, "Sources", m["name"])

	out, err = ref.Call(context.Background(), tool.Context{}, map[string]any{"artifactId": "missing"})
	require.NoError(t, err)
	assert.Equal(t, false, out.(map[string]any)["found"])
}
