// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/stream"
)

// defaultContextID is the fallback conversation id when none can be
// resolved from the task.
const defaultContextID = "default"

// TaskHandler adapts an incoming A2A task into an executor invocation:
// it hydrates the agent and its relations from storage, resolves the
// conversation id, runs the turn and persists the surrounding records.
type TaskHandler struct {
	executor  *Executor
	store     storage.Store
	router    *Router
	finalizer *Finalizer
	eventLogs *session.EventLogs
	scope     storage.Scope
	graphID   string
}

// HandlerConfig assembles a TaskHandler.
type HandlerConfig struct {
	Executor  *Executor
	Store     storage.Store
	Router    *Router
	Finalizer *Finalizer
	EventLogs *session.EventLogs
	Scope     storage.Scope
	GraphID   string
}

// NewTaskHandler creates a handler for one graph.
func NewTaskHandler(cfg HandlerConfig) *TaskHandler {
	eventLogs := cfg.EventLogs
	if eventLogs == nil {
		eventLogs = session.NewEventLogs()
	}
	h := &TaskHandler{
		executor:  cfg.Executor,
		store:     cfg.Store,
		router:    cfg.Router,
		finalizer: cfg.Finalizer,
		eventLogs: eventLogs,
		scope:     cfg.Scope,
		graphID:   cfg.GraphID,
	}
	if h.router != nil {
		h.router.local = h
	}
	return h
}

// Handle executes a task against the named agent without streaming.
func (h *TaskHandler) Handle(ctx context.Context, agentID string, task *a2a.Task) (*a2a.TaskResult, error) {
	return h.handle(ctx, agentID, task, nil)
}

// HandleStreaming executes a task, streaming parts into sink as they are
// produced. Delegated tasks never stream regardless of sink.
func (h *TaskHandler) HandleStreaming(ctx context.Context, agentID string, task *a2a.Task, sink stream.Sink) (*a2a.TaskResult, error) {
	return h.handle(ctx, agentID, task, sink)
}

func (h *TaskHandler) handle(ctx context.Context, agentID string, task *a2a.Task, sink stream.Sink) (*a2a.TaskResult, error) {
	in, err := h.Hydrate(ctx, agentID, task)
	if err != nil {
		return nil, err
	}
	in.Sink = sink

	sessionID := task.MetaString(a2a.MetaStreamRequestID, a2a.MetaStreamRequestIDAlt)
	if sessionID == "" {
		sessionID = uuid.NewString()
		if task.Context.Metadata == nil {
			task.Context.Metadata = map[string]any{}
		}
		task.Context.Metadata[a2a.MetaStreamRequestID] = sessionID
	}
	// Delegates reuse the caller's stream request id and therefore append
	// to the caller's event log.
	in.EventLog = h.eventLogs.GetOrCreate(sessionID)

	record := &storage.TaskRecord{
		ID:        task.ID,
		TenantID:  h.scope.TenantID,
		ProjectID: h.scope.ProjectID,
		GraphID:   h.graphID,
		AgentID:   agentID,
		ContextID: task.ContextID,
		State:     a2a.TaskStateWorking,
		Metadata:  task.Context.Metadata,
	}
	if err := h.store.CreateTask(ctx, h.scope, record); err != nil {
		slog.Warn("Failed to persist task record", "task_id", task.ID, "error", err)
	}

	h.persistUserMessage(ctx, in, task)

	result := h.executor.Run(ctx, in)

	state := result.Status.State
	if target := result.TransferTarget(); target != "" {
		// A transfer completes this turn; the ingress layer re-routes the
		// conversation to the target agent.
		state = a2a.TaskStateCompleted
	}
	if err := h.store.UpdateTaskState(ctx, h.scope, task.ID, state); err != nil {
		slog.Warn("Failed to update task state", "task_id", task.ID, "error", err)
	}

	h.persistAgentMessage(ctx, in, task, result)

	if h.finalizer != nil {
		h.finalizer.Finalize(ctx, in.Agent, in.EventLog)
	}

	return result, nil
}

// EventLog exposes the request log for tracing exporters.
func (h *TaskHandler) EventLog(streamRequestID string) *session.EventLog {
	return h.eventLogs.GetOrCreate(streamRequestID)
}

// Release drops the event log of a finished request. The ingress layer
// calls this once the response (and its trace export) is done; delegated
// turns never release because the log belongs to their caller.
func (h *TaskHandler) Release(streamRequestID string) {
	h.eventLogs.Release(streamRequestID)
}

// Hydrate loads the agent, its peers and the graph, and augments each
// internal relation's description with a one-level-deep summary of the
// peer's own relations so the model can reason about downstream routing.
func (h *TaskHandler) Hydrate(ctx context.Context, agentID string, task *a2a.Task) (TurnInput, error) {
	ag, err := h.store.GetAgentByID(ctx, h.scope, agentID)
	if err != nil {
		return TurnInput{}, fmt.Errorf("Agent not found: %s", agentID)
	}

	graphID := ag.GraphID
	if graphID == "" {
		graphID = h.graphID
	}
	graph, err := h.store.GetAgentGraphByID(ctx, h.scope, graphID)
	if err != nil {
		slog.Debug("Graph not found during hydration", "graph_id", graphID)
		graph = nil
	}

	peers, err := h.store.GetRelatedAgentsForGraph(ctx, h.scope, graphID)
	if err != nil {
		return TurnInput{}, fmt.Errorf("failed to load related agents: %w", err)
	}
	related := make(map[string]*agent.RelatedAgent, len(peers))
	for _, peer := range peers {
		related[peer.ID] = &agent.RelatedAgent{
			ID:          peer.ID,
			Name:        peer.Name,
			Description: describePeer(peer),
		}
	}
	for _, ref := range ag.DelegateRelations {
		if ref.Kind != agent.DelegateExternal {
			continue
		}
		if _, ok := related[ref.AgentID]; ok {
			continue
		}
		ext, err := h.store.GetExternalAgent(ctx, h.scope, ref.AgentID)
		if err != nil {
			if ref.BaseURL == "" {
				slog.Warn("External agent not found during hydration",
					"agent_id", ref.AgentID, "error", err)
			}
			continue
		}
		related[ext.ID] = &agent.RelatedAgent{
			ID:          ext.ID,
			Name:        ext.Name,
			Description: ext.Description,
			BaseURL:     ext.BaseURL,
		}
	}

	hasArtifacts, err := h.store.GraphHasArtifactComponents(ctx, h.scope, graphID)
	if err != nil {
		hasArtifacts = ag.HasArtifactComponents()
	}

	task.ContextID = resolveContextID(task)

	in := TurnInput{
		Task:              task,
		Agent:             ag,
		Graph:             graph,
		Related:           related,
		GraphHasArtifacts: hasArtifacts,
	}
	if h.router != nil {
		in.Send = h.router.Send
	}
	return in, nil
}

// describePeer folds a one-level-deep relation summary into the peer's
// description.
func describePeer(peer *agent.Agent) string {
	description := peer.Description
	var downstream []string
	for _, id := range peer.TransferRelations {
		downstream = append(downstream, "transfer to "+id)
	}
	for _, ref := range peer.DelegateRelations {
		downstream = append(downstream, "delegate to "+ref.AgentID)
	}
	if len(downstream) > 0 {
		if description != "" {
			description += " "
		}
		description += "(Can " + strings.Join(downstream, ", ") + ".)"
	}
	return description
}

// resolveContextID resolves the conversation id of a task. The metadata
// conversation id wins; absent (or the literal "default") it falls back to
// the task context's conversation id, then the task's context id, then a
// structured task id of the form task_<contextId>_<suffix>, and finally to
// "default".
func resolveContextID(task *a2a.Task) string {
	if id := task.MetaString(a2a.MetaConversationID); id != "" && id != defaultContextID {
		return id
	}
	if task.Context.ConversationID != "" && task.Context.ConversationID != defaultContextID {
		return task.Context.ConversationID
	}
	if task.ContextID != "" && task.ContextID != defaultContextID {
		return task.ContextID
	}
	if ctx := contextIDFromTaskID(task.ID); ctx != "" {
		return ctx
	}
	return defaultContextID
}

// contextIDFromTaskID extracts the embedded context id from task ids of the
// form task_<contextId>_<suffix>.
func contextIDFromTaskID(taskID string) string {
	if !strings.HasPrefix(taskID, "task_") {
		return ""
	}
	rest := strings.TrimPrefix(taskID, "task_")
	idx := strings.LastIndexByte(rest, '_')
	if idx <= 0 {
		return ""
	}
	return rest[:idx]
}

func (h *TaskHandler) persistUserMessage(ctx context.Context, in TurnInput, task *a2a.Task) {
	visibility := storage.VisibilityExternal
	messageType := storage.MessageTypeUser
	role := storage.MessageRoleUser
	fromAgent := ""
	if task.IsDelegation() {
		// Delegated requests are already persisted as a2a-request by the
		// caller; record the delegate's view internally for scoped history.
		visibility = storage.VisibilityInternal
		role = storage.MessageRoleAgent
		fromAgent = task.MetaString(a2a.MetaFromAgentID, a2a.MetaFromExternalAgent)
	}
	msg := &storage.Message{
		TenantID:       h.scope.TenantID,
		ProjectID:      h.scope.ProjectID,
		ConversationID: task.ContextID,
		TaskID:         task.ID,
		Role:           role,
		Content:        storage.MessageContent{Text: task.Text()},
		Visibility:     visibility,
		MessageType:    messageType,
		FromAgentID:    fromAgent,
		ToAgentID:      in.Agent.ID,
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		slog.Warn("Failed to persist inbound message", "task_id", task.ID, "error", err)
	}
}

func (h *TaskHandler) persistAgentMessage(ctx context.Context, in TurnInput, task *a2a.Task, result *a2a.TaskResult) {
	if result.Status.State != a2a.TaskStateCompleted || result.TransferTarget() != "" {
		return
	}
	text := result.Text()
	if text == "" {
		return
	}
	visibility := storage.VisibilityExternal
	if task.IsDelegation() {
		visibility = storage.VisibilityInternal
	}
	msg := &storage.Message{
		TenantID:       h.scope.TenantID,
		ProjectID:      h.scope.ProjectID,
		ConversationID: task.ContextID,
		TaskID:         task.ID,
		Role:           storage.MessageRoleAgent,
		Content:        storage.MessageContent{Text: text},
		Visibility:     visibility,
		MessageType:    storage.MessageTypeUser,
		FromAgentID:    in.Agent.ID,
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		slog.Warn("Failed to persist agent message", "task_id", task.ID, "error", err)
	}
}
