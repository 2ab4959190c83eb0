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

// Package builtin implements the tools the runtime itself exposes to the
// model: save_tool_result (artifact extraction), get_reference_artifact
// and thinking_complete.
package builtin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmespath/go-jmespath"
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/tool"
	"github.com/kadirpekel/weave/pkg/utils"
)

// SaveToolResultName is the tool name exposed to the model.
const SaveToolResultName = "save_tool_result"

// SaveToolResult projects a prior tool result into artifact records.
// Failures are always returned as structured results so the model can
// correct its selectors and retry; this tool never raises.
type SaveToolResult struct {
	Ledger   *session.Ledger
	EventLog *session.EventLog
	Store    storage.RuntimeStore
	Scope    storage.Scope
	Agent    *agent.Agent
}

func (t *SaveToolResult) Name() string { return SaveToolResultName }

func (t *SaveToolResult) Description() string {
	return "Save one or more structured artifacts from a completed tool result. " +
		"Cite the tool call by id, select the base items with a JMESPath " +
		"expression, and map artifact props to JMESPath selectors relative to " +
		"each item."
}

func (t *SaveToolResult) Kind() tool.Kind { return tool.KindBuiltin }

func (t *SaveToolResult) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"toolCallId": map[string]any{
				"type":        "string",
				"description": "Id of the completed tool call to project from.",
			},
			"baseSelector": map[string]any{
				"type":        "string",
				"description": "JMESPath expression selecting the item or items to save.",
			},
			"propSelectors": map[string]any{
				"type":        "object",
				"description": "Map of artifact prop name to JMESPath selector, relative to each base item.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"artifactType": map[string]any{
				"type":        "string",
				"description": "Artifact component name. Defaults to the agent's only component.",
			},
		},
		"required": []string{"toolCallId", "baseSelector"},
	}
}

// saveArgs is the decoded argument shape of a save_tool_result call.
type saveArgs struct {
	ToolCallID    string            `mapstructure:"toolCallId"`
	BaseSelector  string            `mapstructure:"baseSelector"`
	PropSelectors map[string]string `mapstructure:"propSelectors"`
	ArtifactType  string            `mapstructure:"artifactType"`
}

func (t *SaveToolResult) Call(ctx context.Context, tc tool.Context, args map[string]any) (any, error) {
	var in saveArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return failure(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	toolCallID := in.ToolCallID
	baseSelector := in.BaseSelector
	artifactType := in.ArtifactType
	propSelectors := in.PropSelectors

	rec, ok := t.Ledger.Get(tc.SessionID, toolCallID)
	if !ok {
		return failure("Tool result not found"), nil
	}

	component, ok := t.component(artifactType)
	if !ok {
		return failure(fmt.Sprintf("Unknown artifact type %q; available: %s",
			artifactType, componentNames(t.Agent.ArtifactComponents))), nil
	}

	parsed := utils.ParseEmbeddedJSON(normalize(rec.Result))

	base, err := jmespath.Search(baseSelector, parsed)
	if err != nil {
		return failure(fmt.Sprintf("Invalid base selector %q: %v", baseSelector, err)), nil
	}
	items := asItems(base)
	if len(items) == 0 {
		return failure(AnalyzeSelectorFailure(parsed, baseSelector)), nil
	}

	var warnings []string
	var saved []map[string]any
	var records []*storage.Artifact

	for _, item := range items {
		summary, w1 := projectProps(item, component.SummaryProps, propSelectors)
		full, w2 := projectProps(item, component.FullProps, propSelectors)
		warnings = append(warnings, w1...)
		warnings = append(warnings, w2...)

		artifactID := uuid.NewString()
		records = append(records, &storage.Artifact{
			ArtifactID:   artifactID,
			TaskID:       tc.TaskID,
			ArtifactType: component.Name,
			SummaryData:  summary,
			FullData:     full,
			Pending:      true,
			Metadata: map[string]any{
				"toolCallId": toolCallID,
				"toolName":   rec.ToolName,
			},
		})
		saved = append(saved, map[string]any{
			"artifactId":  artifactID,
			"taskId":      tc.TaskID,
			"summaryData": summary,
		})

		t.EventLog.Append(session.EventArtifactSaved, tc.AgentID, map[string]any{
			"artifactId":        artifactID,
			"taskId":            tc.TaskID,
			"artifactType":      component.Name,
			"pendingGeneration": true,
			"summaryData":       summary,
			"fullData":          full,
			"toolCallId":        toolCallID,
			"toolName":          rec.ToolName,
		})
	}

	if err := t.Store.AddLedgerArtifacts(ctx, t.Scope, records); err != nil {
		slog.Warn("Failed to persist pending artifacts",
			"task_id", tc.TaskID,
			"error", err)
		return failure(fmt.Sprintf("Failed to persist artifacts: %v", err)), nil
	}

	result := map[string]any{
		"saved":     true,
		"artifacts": saved,
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return result, nil
}

// component resolves the artifact component for the call. A single
// configured component is used implicitly when no type is named.
func (t *SaveToolResult) component(artifactType string) (agent.ArtifactComponent, bool) {
	if artifactType == "" && len(t.Agent.ArtifactComponents) == 1 {
		return t.Agent.ArtifactComponents[0], true
	}
	return t.Agent.ArtifactComponentByName(artifactType)
}

// projectProps evaluates one projection schema against a base item. Each
// prop tries its selector first, then falls back to direct property access;
// selectors that fail either way are collected as warnings.
func projectProps(item any, propsSchema map[string]any, selectors map[string]string) (map[string]any, []string) {
	props, _ := propsSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(props))
	var warnings []string

	for propName := range props {
		if selector, ok := selectors[propName]; ok && selector != "" {
			v, err := jmespath.Search(selector, item)
			if err == nil && !isEmpty(v) {
				out[propName] = v
				continue
			}
			if err != nil {
				warnings = append(warnings, fmt.Sprintf(
					"selector %q for prop %q is invalid (%v); fell back to direct access", selector, propName, err))
			} else {
				warnings = append(warnings, fmt.Sprintf(
					"selector %q for prop %q matched nothing; fell back to direct access", selector, propName))
			}
		}
		if m, ok := item.(map[string]any); ok {
			if v, ok := m[propName]; ok {
				out[propName] = v
				continue
			}
		}
	}
	return out, warnings
}

func failure(message string) map[string]any {
	return map[string]any{"saved": false, "error": message}
}

// normalize converts arbitrary tool results into JSON-shaped values so
// JMESPath can traverse them.
func normalize(v any) any {
	switch v.(type) {
	case map[string]any, []any, string, float64, bool, nil:
		return v
	}
	out, err := utils.ToJSONValue(v)
	if err != nil {
		return v
	}
	return out
}

// asItems normalizes a base selection to a list of items. Empty values
// select nothing.
func asItems(v any) []any {
	if isEmpty(v) {
		return nil
	}
	if list, ok := v.([]any); ok {
		var items []any
		for _, item := range list {
			if !isEmpty(item) {
				items = append(items, item)
			}
		}
		return items
	}
	return []any{v}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func componentNames(components []agent.ArtifactComponent) string {
	names := make([]string, 0, len(components))
	for _, c := range components {
		names = append(names, c.Name)
	}
	if len(names) == 0 {
		return "(none configured)"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

var _ tool.Tool = (*SaveToolResult)(nil)
