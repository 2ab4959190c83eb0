package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
)

func seedGraph(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	m.PutGraph(&agent.Graph{ID: "g1", TenantID: "t", ProjectID: "p", Name: "support"})
	m.PutAgent(&agent.Agent{ID: "router", GraphID: "g1", Name: "router"})
	m.PutAgent(&agent.Agent{
		ID: "research", GraphID: "g1", Name: "research",
		ArtifactComponents: []agent.ArtifactComponent{{Name: "WebSource"}},
	})
	m.PutAgent(&agent.Agent{ID: "other", GraphID: "g2", Name: "other"})
	return m
}

func TestMemory_GraphDefinition(t *testing.T) {
	m := seedGraph(t)
	ctx := context.Background()
	scope := Scope{TenantID: "t", ProjectID: "p", GraphID: "g1"}

	def, err := m.GetFullGraphDefinition(ctx, scope, "g1")
	require.NoError(t, err)
	assert.Len(t, def.Agents, 2)
	assert.Equal(t, "support", def.Graph.Name)

	has, err := m.GraphHasArtifactComponents(ctx, scope, "g1")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = m.GetAgentByID(ctx, scope, "missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestMemory_TasksByContext(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	scope := Scope{}

	require.NoError(t, m.CreateTask(ctx, scope, &TaskRecord{ID: "t1", ContextID: "conv"}))
	require.NoError(t, m.CreateTask(ctx, scope, &TaskRecord{ID: "t2", ContextID: "conv"}))
	require.NoError(t, m.CreateTask(ctx, scope, &TaskRecord{ID: "t3", ContextID: "elsewhere"}))

	ids, err := m.ListTaskIDsByContextID(ctx, scope, "conv")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids)

	require.NoError(t, m.UpdateTaskState(ctx, scope, "t1", a2a.TaskStateCompleted))
	task, err := m.GetTask(ctx, scope, "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.State)
}

func TestMemory_ScopedHistory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	msgs := []*Message{
		{ConversationID: "conv", TaskID: "t1", Role: MessageRoleUser, MessageType: MessageTypeUser, ToAgentID: "a1", Content: MessageContent{Text: "hi"}},
		{ConversationID: "conv", TaskID: "t1", Role: MessageRoleAgent, MessageType: MessageTypeUser, FromAgentID: "a1", Content: MessageContent{Text: "hello"}},
		{ConversationID: "conv", TaskID: "t2", Role: MessageRoleAgent, MessageType: MessageTypeUser, FromAgentID: "a2", Content: MessageContent{Text: "other agent"}},
		{ConversationID: "zzz", TaskID: "t9", Role: MessageRoleUser, MessageType: MessageTypeUser, Content: MessageContent{Text: "wrong conv"}},
	}
	for _, msg := range msgs {
		require.NoError(t, m.CreateMessage(ctx, msg))
	}

	full, err := m.GetFormattedConversationHistory(ctx, Scope{}, HistoryQuery{ConversationID: "conv"})
	require.NoError(t, err)
	assert.Len(t, full, 3)

	scoped, err := m.GetFormattedConversationHistory(ctx, Scope{}, HistoryQuery{
		ConversationID: "conv", AgentID: "a1", TaskIDs: []string{"t1"},
	})
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, "hi", scoped[0].Content.Text)

	limited, err := m.GetFormattedConversationHistory(ctx, Scope{}, HistoryQuery{ConversationID: "conv", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "other agent", limited[0].Content.Text)
}

func TestMemory_ArtifactsByConversation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	scope := Scope{}

	require.NoError(t, m.CreateTask(ctx, scope, &TaskRecord{ID: "t1", ContextID: "conv"}))
	require.NoError(t, m.AddLedgerArtifacts(ctx, scope, []*Artifact{
		{ArtifactID: "a1", TaskID: "t1", ArtifactType: "WebSource", Pending: true},
		{ArtifactID: "a2", TaskID: "t-unrelated"},
	}))

	byConv, err := m.GetConversationScopedArtifacts(ctx, scope, "conv")
	require.NoError(t, err)
	require.Len(t, byConv, 1)
	assert.Equal(t, "a1", byConv[0].ArtifactID)

	// Upsert fills the pending name after generation.
	require.NoError(t, m.AddLedgerArtifacts(ctx, scope, []*Artifact{
		{ArtifactID: "a1", TaskID: "t1", ArtifactType: "WebSource", Name: "Web Sources", Pending: false},
	}))
	byTask, err := m.GetLedgerArtifacts(ctx, scope, ArtifactQuery{TaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, "Web Sources", byTask[0].Name)
	assert.False(t, byTask[0].Pending)
}
