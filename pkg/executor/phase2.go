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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/model"
	"github.com/kadirpekel/weave/pkg/prompt"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/stream"
	"github.com/kadirpekel/weave/pkg/tool"
	"github.com/kadirpekel/weave/pkg/tool/builtin"
)

// runPhase2 produces the structured output of a turn. It is driven on the
// phase-1 transcript plus the user message, constrained by the union schema
// of the agent's data and artifact components.
func (e *Executor) runPhase2(
	ctx context.Context,
	in TurnInput,
	assembler *prompt.Assembler,
	registry *tool.Registry,
	phase1 *model.Response,
	userText string,
	history []*storage.Message,
	conversationArtifacts []*storage.Artifact,
	sink stream.Sink,
	eventLog *session.EventLog,
	sessionID string,
) ([]a2a.Part, error) {
	ag := in.Agent

	systemPrompt := assembler.Phase2(prompt.Phase2Input{
		DataComponents:     ag.DataComponents,
		ArtifactComponents: ag.ArtifactComponents,
		Artifacts:          conversationArtifacts,
	})

	messages := []model.Message{model.SystemMessage(systemPrompt)}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, model.UserMessage(userText))
	if flow := ReasoningFlow(phase1.Steps); flow != "" {
		messages = append(messages, model.UserMessage(flow))
	}

	modelSettings, err := ag.ModelFor(agent.ModelRoleStructuredOutput)
	if err != nil {
		return nil, err
	}

	req := &model.Request{
		Model:           modelSettings.Model,
		Messages:        messages,
		Schema:          Phase2Schema(ag),
		ProviderOptions: modelSettings.ProviderOptions,
		Telemetry: model.Telemetry{
			FunctionID: "agent-turn-phase2",
			AgentID:    ag.ID,
			TaskID:     in.Task.ID,
		},
	}

	resolve := stream.MapResolver(conversationArtifacts)

	var object map[string]any
	if sink != nil {
		objectParser := stream.NewObjectParser(resolve, sink)
		for event, err := range e.driver.StreamObject(ctx, req) {
			if err != nil {
				return nil, err
			}
			switch event.Type {
			case model.StreamObjectDelta:
				objectParser.FeedDelta(event.Object)
			case model.StreamFinish:
				object = event.Response.Object
			}
		}
		if object == nil {
			return nil, fmt.Errorf("structured output stream produced no object")
		}
		e.applyArtifactCreates(ctx, registry, object, sessionID)
		objectParser.Finalize(object)
		return objectParser.Parts(), nil
	}

	resp, err := e.driver.GenerateObject(ctx, req)
	if err != nil {
		return nil, err
	}
	object = resp.Object
	e.applyArtifactCreates(ctx, registry, object, sessionID)

	formatter := stream.NewFormatter(resolve)
	return formatter.FormatObject(object), nil
}

// applyArtifactCreates executes an extraction for every ArtifactCreate
// component of the structured output. Extraction failures do not fail the
// turn; the component stays in the output either way. A failed extraction
// appends no event to the event log and its result is discarded.
func (e *Executor) applyArtifactCreates(ctx context.Context, registry *tool.Registry, object map[string]any, sessionID string) {
	components, _ := object["dataComponents"].([]any)
	for _, item := range components {
		component, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := component["name"].(string)
		if !strings.HasPrefix(name, ArtifactCreatePrefix) {
			continue
		}
		props, _ := component["props"].(map[string]any)

		args := map[string]any{
			"toolCallId":   props["tool_call_id"],
			"baseSelector": props["base_selector"],
			"artifactType": strings.TrimPrefix(name, ArtifactCreatePrefix),
		}
		selectors := map[string]any{}
		for _, key := range []string{"summary_props", "full_props"} {
			if m, ok := props[key].(map[string]any); ok {
				for prop, sel := range m {
					selectors[prop] = sel
				}
			}
		}
		if len(selectors) > 0 {
			args["propSelectors"] = selectors
		}

		registry.Execute(ctx, tool.Call{
			ID:   uuid.NewString(),
			Name: builtin.SaveToolResultName,
			Args: args,
		})
	}
}

// ReasoningFlow formats the phase-1 tool calls and results into the
// transcript block the phase-2 model reasons over. Structure hints recorded
// on tool results travel along verbatim.
func ReasoningFlow(steps []model.Step) string {
	var b strings.Builder
	for i, step := range steps {
		if len(step.ToolCalls) == 0 && step.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "### Step %d\n", i+1)
		if step.Text != "" {
			fmt.Fprintf(&b, "Reasoning: %s\n", step.Text)
		}
		for j, call := range step.ToolCalls {
			if call.Name == builtin.ThinkingCompleteName {
				continue
			}
			fmt.Fprintf(&b, "Tool call %s (id %s) args: %s\n", call.Name, call.ID, compact(call.Args))
			if j < len(step.ToolResults) {
				result := step.ToolResults[j]
				if result.Error != "" {
					fmt.Fprintf(&b, "Tool error: %s\n", result.Error)
				} else {
					fmt.Fprintf(&b, "Tool result: %s\n", compactAny(result.Result))
				}
			}
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return ""
	}
	return "## Planning Transcript\n\nThe following tools were executed during planning. Cite tool call ids when creating artifacts.\n\n" + strings.TrimRight(b.String(), "\n")
}

func compact(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func compactAny(v any) string {
	if v == nil {
		return "null"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
