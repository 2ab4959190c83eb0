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

// Package executor runs agent turns: it binds the per-turn tool registry,
// assembles prompts, drives the two-phase generation loop and produces the
// task result.
//
// The turn is a small state machine: INIT -> LOAD -> PHASE_1 ->
// {TRANSFER | PHASE_2 | DONE} -> FORMAT -> END. Phase 1 plans with tools;
// phase 2 produces schema-validated structured output and only runs for
// agents with data components.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/model"
	"github.com/kadirpekel/weave/pkg/observability"
	"github.com/kadirpekel/weave/pkg/prompt"
	"github.com/kadirpekel/weave/pkg/reqctx"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/stream"
	"github.com/kadirpekel/weave/pkg/tool"
	"github.com/kadirpekel/weave/pkg/tool/builtin"
	"github.com/kadirpekel/weave/pkg/tool/relation"
	"github.com/kadirpekel/weave/pkg/utils"
)

// ToolSourceFactory builds the remote tools of one tool-server reference.
// The default factory connects over MCP with resolved credential headers;
// tests inject fakes.
type ToolSourceFactory func(ctx context.Context, ref agent.ToolServerRef) ([]tool.Tool, error)

// Executor runs one agent turn per Run call.
type Executor struct {
	driver   *model.Driver
	ledger   *session.Ledger
	store    storage.Store
	resolver reqctx.Resolver
	recorder observability.Recorder
	sources  ToolSourceFactory
}

// Config assembles an Executor.
type Config struct {
	Driver   *model.Driver
	Ledger   *session.Ledger
	Store    storage.Store
	Resolver reqctx.Resolver
	Recorder observability.Recorder
	Sources  ToolSourceFactory
}

// New creates an executor.
func New(cfg Config) *Executor {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = reqctx.Static(nil)
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observability.NoopRecorder{}
	}
	sources := cfg.Sources
	if sources == nil {
		sources = func(context.Context, agent.ToolServerRef) ([]tool.Tool, error) {
			return nil, nil
		}
	}
	return &Executor{
		driver:   cfg.Driver,
		ledger:   cfg.Ledger,
		store:    cfg.Store,
		resolver: resolver,
		recorder: recorder,
		sources:  sources,
	}
}

// TurnInput is one hydrated turn.
type TurnInput struct {
	Task  *a2a.Task
	Agent *agent.Agent
	Graph *agent.Graph

	// Related holds the hydrated peers keyed by agent id, with relation
	// summaries already folded into their descriptions.
	Related map[string]*agent.RelatedAgent

	GraphHasArtifacts bool

	// Send dispatches delegations. Required when the agent has delegate
	// relations.
	Send relation.SendFunc

	// Sink receives streamed parts. Nil (or a delegated turn) disables
	// streaming; the result parts are identical either way.
	Sink stream.Sink

	// EventLog collects the turn's trace. One log is shared across a
	// request and its delegates.
	EventLog *session.EventLog
}

// Run executes the turn and always returns a well-formed task result;
// failures at the turn boundary come back as state Failed.
func (e *Executor) Run(ctx context.Context, in TurnInput) *a2a.TaskResult {
	start := time.Now()
	result := e.run(ctx, in)
	var turnErr error
	if result.Status.State == a2a.TaskStateFailed {
		turnErr = fmt.Errorf("%s", result.Status.Message)
	}
	e.recorder.RecordAgentTurn(ctx, in.Agent.ID, time.Since(start), turnErr)
	return result
}

func failed(message string) *a2a.TaskResult {
	return &a2a.TaskResult{Status: a2a.TaskStatus{State: a2a.TaskStateFailed, Message: message}}
}

func (e *Executor) run(ctx context.Context, in TurnInput) *a2a.TaskResult {
	task := in.Task
	ag := in.Agent

	// INIT
	userText := task.Text()
	if strings.TrimSpace(userText) == "" {
		return failed("No text content found in task input")
	}

	sessionID := task.MetaString(a2a.MetaStreamRequestID, a2a.MetaStreamRequestIDAlt)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	scope := storage.Scope{TenantID: ag.TenantID, ProjectID: ag.ProjectID, GraphID: ag.GraphID}
	contextID := task.ContextID
	e.ledger.Ensure(sessionID, ag.TenantID, ag.ProjectID, contextID, task.ID)

	eventLog := in.EventLog
	if eventLog == nil {
		eventLog = session.NewEventLog(sessionID)
	}

	// Streaming is suppressed for delegated turns: the output belongs to
	// the caller, not the user.
	sink := in.Sink
	if task.IsDelegation() {
		sink = nil
	}

	// LOAD
	contextVars := e.resolveContext(ctx, in, contextID)

	history, err := e.loadHistory(ctx, scope, ag, contextID)
	if err != nil {
		return failed(fmt.Sprintf("failed to load conversation history: %v", err))
	}

	conversationArtifacts, err := e.store.GetConversationScopedArtifacts(ctx, scope, contextID)
	if err != nil {
		slog.Warn("Failed to load conversation artifacts",
			"context_id", contextID,
			"error", err)
	}

	base := tool.Context{
		TenantID:  ag.TenantID,
		ProjectID: ag.ProjectID,
		GraphID:   ag.GraphID,
		AgentID:   ag.ID,
		TaskID:    task.ID,
		ContextID: contextID,
		SessionID: sessionID,
	}
	registry, err := e.buildRegistry(ctx, in, base, eventLog, scope)
	if err != nil {
		return failed(err.Error())
	}

	graphPrompt := ""
	if in.Graph != nil {
		graphPrompt = in.Graph.Prompt
	}
	assembler := prompt.NewAssembler(ag, graphPrompt, contextVars)

	systemPrompt := assembler.Phase1(prompt.Phase1Input{
		Tools:             registry.Definitions(),
		Artifacts:         conversationArtifacts,
		GraphHasArtifacts: in.GraphHasArtifacts,
	})

	messages := []model.Message{model.SystemMessage(systemPrompt)}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, model.UserMessage(userText))

	toolChoice := model.ToolChoiceAuto
	if ag.HasDataComponents() {
		// Structured-output agents must not produce natural text in
		// phase 1; thinking_complete is the sanctioned exit.
		toolChoice = model.ToolChoiceRequired
	}

	stopWhen := func(steps []model.Step) bool {
		last := steps[len(steps)-1]
		if last.HasToolCallPrefix(relation.TransferPrefix) {
			return true
		}
		if ag.HasDataComponents() && last.HasToolCall(builtin.ThinkingCompleteName) {
			return true
		}
		return false
	}

	modelSettings, err := ag.ModelFor(agent.ModelRoleBase)
	if err != nil {
		return failed(err.Error())
	}

	req := &model.Request{
		Model:           modelSettings.Model,
		Messages:        messages,
		Toolbox:         registry,
		ToolChoice:      toolChoice,
		StopWhen:        stopWhen,
		MaxSteps:        ag.MaxSteps(),
		ProviderOptions: modelSettings.ProviderOptions,
		Telemetry: model.Telemetry{
			FunctionID: "agent-turn-phase1",
			AgentID:    ag.ID,
			TaskID:     task.ID,
		},
	}

	// PHASE_1
	resolve := stream.MapResolver(conversationArtifacts)
	streamPhase1 := sink != nil && !ag.HasDataComponents()

	var phase1 *model.Response
	var parser *stream.Parser
	if streamPhase1 {
		parser = stream.NewParser(resolve, sink)
		phase1, err = e.streamPhase1(ctx, req, parser)
	} else {
		phase1, err = e.driver.GenerateText(ctx, req)
	}
	if err != nil {
		return failed(err.Error())
	}

	eventLog.Append(session.EventAgentReasoning, ag.ID, map[string]any{
		"steps": len(phase1.Steps),
		"text":  utils.Truncate(phase1.Text, 500),
	})

	last := phase1.LastStep()

	// TRANSFER
	if last != nil && last.HasToolCallPrefix(relation.TransferPrefix) {
		return e.transferResult(task, userText, last)
	}

	// PHASE_2 or DONE
	var parts []a2a.Part
	switch {
	case ag.HasDataComponents() && last != nil && last.HasToolCall(builtin.ThinkingCompleteName):
		parts, err = e.runPhase2(ctx, in, assembler, registry, phase1, userText, history, conversationArtifacts, sink, eventLog, sessionID)
		if err != nil {
			return failed(err.Error())
		}
	case streamPhase1:
		parser.Finalize()
		parts = parser.Parts()
	default:
		// Cap exhaustion (or a plain-text agent): the last step's text is
		// the turn's content, even when data components are configured.
		formatter := stream.NewFormatter(resolve)
		parts = formatter.FormatText(phase1.Text)
		if sink != nil {
			for _, part := range parts {
				if !sink(part) {
					break
				}
			}
		}
	}

	// FORMAT / END
	eventLog.Append(session.EventAgentGenerate, ag.ID, map[string]any{
		"parts": len(parts),
	})

	return &a2a.TaskResult{
		Status: a2a.TaskStatus{State: a2a.TaskStateCompleted},
		Artifacts: []a2a.Artifact{{
			ArtifactID: uuid.NewString(),
			Parts:      parts,
		}},
	}
}

// streamPhase1 drives StreamText, feeding text deltas into the parser.
func (e *Executor) streamPhase1(ctx context.Context, req *model.Request, parser *stream.Parser) (*model.Response, error) {
	var final *model.Response
	for event, err := range e.driver.StreamText(ctx, req) {
		if err != nil {
			return nil, err
		}
		switch event.Type {
		case model.StreamTextDelta:
			parser.Feed(event.TextDelta)
		case model.StreamFinish:
			final = event.Response
		}
	}
	if final == nil {
		return nil, fmt.Errorf("model stream produced no final response")
	}
	return final, nil
}

// transferResult builds the terminal transfer artifact from the last step.
func (e *Executor) transferResult(task *a2a.Task, userText string, last *model.Step) *a2a.TaskResult {
	var target, reason string
	for _, call := range last.ToolCalls {
		if strings.HasPrefix(call.Name, relation.TransferPrefix) {
			target = strings.TrimPrefix(call.Name, relation.TransferPrefix)
			reason, _ = call.Args["reason"].(string)
			break
		}
	}
	// Prefer the tool's own return, which carries the unsanitized target id.
	for _, result := range last.ToolResults {
		if m, ok := result.Result.(map[string]any); ok && m["type"] == "transfer" {
			if t, ok := m["target"].(string); ok && t != "" {
				target = t
			}
			if r, ok := m["reason"].(string); ok && r != "" {
				reason = r
			}
			break
		}
	}
	if reason == "" {
		reason = "Transferred by " + task.ID
	}

	return &a2a.TaskResult{
		Status: a2a.TaskStatus{State: a2a.TaskStateCompleted},
		Artifacts: []a2a.Artifact{{
			ArtifactID: uuid.NewString(),
			Parts:      []a2a.Part{a2a.NewTransferPart(target, task.ID, reason, userText)},
		}},
	}
}

func (e *Executor) resolveContext(ctx context.Context, in TurnInput, contextID string) map[string]any {
	configID := in.Agent.ContextConfigID
	if configID == "" && in.Graph != nil {
		configID = in.Graph.ContextConfigID
	}
	if configID == "" {
		return nil
	}
	vars, err := e.resolver.Resolve(ctx, reqctx.Request{
		ContextConfigID: configID,
		ConversationID:  contextID,
	})
	if err != nil {
		slog.Warn("Context resolution failed; rendering without variables",
			"context_config_id", configID,
			"error", err)
		return nil
	}
	return vars
}

func (e *Executor) loadHistory(ctx context.Context, scope storage.Scope, ag *agent.Agent, contextID string) ([]*storage.Message, error) {
	switch ag.History.Mode {
	case agent.HistoryNone, "":
		return nil, nil
	case agent.HistoryFull:
		return e.store.GetFormattedConversationHistory(ctx, scope, storage.HistoryQuery{
			ConversationID: contextID,
			Limit:          ag.History.Limit,
		})
	case agent.HistoryScoped:
		taskIDs, err := e.store.ListTaskIDsByContextID(ctx, scope, contextID)
		if err != nil {
			return nil, err
		}
		return e.store.GetFormattedConversationHistory(ctx, scope, storage.HistoryQuery{
			ConversationID: contextID,
			Limit:          ag.History.Limit,
			AgentID:        ag.ID,
			TaskIDs:        taskIDs,
		})
	default:
		return nil, fmt.Errorf("unknown history mode %q", ag.History.Mode)
	}
}

func historyMessages(history []*storage.Message) []model.Message {
	var out []model.Message
	for _, msg := range history {
		if msg.Content.Text == "" {
			continue
		}
		switch msg.Role {
		case storage.MessageRoleUser:
			out = append(out, model.UserMessage(msg.Content.Text))
		case storage.MessageRoleAgent:
			out = append(out, model.AssistantMessage(msg.Content.Text))
		}
	}
	return out
}

// buildRegistry binds the four tool classes for this turn.
func (e *Executor) buildRegistry(ctx context.Context, in TurnInput, base tool.Context, eventLog *session.EventLog, scope storage.Scope) (*tool.Registry, error) {
	ag := in.Agent

	var annotate tool.Annotator
	if ag.HasArtifactComponents() {
		annotate = func(result any) any {
			parsed := utils.ParseEmbeddedJSON(result)
			m, ok := parsed.(map[string]any)
			if !ok {
				return parsed
			}
			m[builtin.StructureHintsKey] = builtin.StructureHints(m)
			return m
		}
	}

	registry := tool.NewRegistry(tool.RegistryConfig{
		Base:     base,
		Ledger:   e.ledger,
		EventLog: eventLog,
		Recorder: e.recorder,
		Annotate: annotate,
	})

	// Remote tool-server tools. A server that cannot be reached is logged
	// and skipped; the turn proceeds with the remaining tools.
	for _, ref := range ag.Tools {
		tools, err := e.sources(ctx, ref)
		if err != nil {
			slog.Warn("Tool server unavailable; skipping",
				"server", ref.Name,
				"agent_id", ag.ID,
				"error", err)
			continue
		}
		for _, t := range tools {
			if err := registry.Register(t); err != nil {
				return nil, fmt.Errorf("failed to register tool from %s: %w", ref.Name, err)
			}
		}
	}

	// Built-ins.
	if ag.HasArtifactComponents() {
		if err := registry.Register(&builtin.SaveToolResult{
			Ledger:   e.ledger,
			EventLog: eventLog,
			Store:    e.store,
			Scope:    scope,
			Agent:    ag,
		}); err != nil {
			return nil, err
		}
	}
	if in.GraphHasArtifacts {
		if err := registry.Register(&builtin.GetReferenceArtifact{Store: e.store, Scope: scope}); err != nil {
			return nil, err
		}
	}
	if ag.HasDataComponents() {
		if err := registry.Register(&builtin.ThinkingComplete{}); err != nil {
			return nil, err
		}
	}

	// Transfer tools.
	for _, targetID := range ag.TransferRelations {
		name, description := peerInfo(in.Related, targetID)
		if err := registry.Register(&relation.Transfer{
			TargetID:          targetID,
			TargetName:        name,
			TargetDescription: description,
			CallerID:          ag.ID,
			EventLog:          eventLog,
		}); err != nil {
			return nil, err
		}
	}

	// Delegate tools.
	for _, ref := range ag.DelegateRelations {
		if in.Send == nil {
			return nil, fmt.Errorf("agent %s has delegate relations but no sender is configured", ag.ID)
		}
		name, description := peerInfo(in.Related, ref.AgentID)
		if err := registry.Register(&relation.Delegate{
			Ref:               ref,
			TargetName:        name,
			TargetDescription: description,
			Caller:            ag,
			ThreadID:          in.Task.MetaString(a2a.MetaThreadID),
			Ledger:            e.ledger,
			EventLog:          eventLog,
			Store:             e.store,
			Scope:             scope,
			Send:              in.Send,
		}); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func peerInfo(related map[string]*agent.RelatedAgent, id string) (name, description string) {
	if peer, ok := related[id]; ok {
		return peer.Name, peer.Description
	}
	return id, ""
}
