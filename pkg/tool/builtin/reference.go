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

package builtin

import (
	"context"
	"fmt"

	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/tool"
)

// GetReferenceArtifactName is the tool name exposed to the model.
const GetReferenceArtifactName = "get_reference_artifact"

// GetReferenceArtifact reads one artifact from storage by id. It is bound
// only when any agent in the graph has artifact components.
type GetReferenceArtifact struct {
	Store storage.RuntimeStore
	Scope storage.Scope
}

func (t *GetReferenceArtifact) Name() string { return GetReferenceArtifactName }

func (t *GetReferenceArtifact) Description() string {
	return "Fetch the full content of a previously saved artifact by its id."
}

func (t *GetReferenceArtifact) Kind() tool.Kind { return tool.KindBuiltin }

func (t *GetReferenceArtifact) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"artifactId": map[string]any{
				"type":        "string",
				"description": "Id of the artifact to fetch.",
			},
		},
		"required": []string{"artifactId"},
	}
}

func (t *GetReferenceArtifact) Call(ctx context.Context, _ tool.Context, args map[string]any) (any, error) {
	artifactID, _ := args["artifactId"].(string)
	if artifactID == "" {
		return nil, fmt.Errorf("artifactId is required")
	}

	artifacts, err := t.Store.GetLedgerArtifacts(ctx, t.Scope, storage.ArtifactQuery{ArtifactID: artifactID})
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if len(artifacts) == 0 {
		return map[string]any{"found": false, "error": fmt.Sprintf("Artifact %s not found", artifactID)}, nil
	}

	a := artifacts[0]
	return map[string]any{
		"found":        true,
		"artifactId":   a.ArtifactID,
		"taskId":       a.TaskID,
		"artifactType": a.ArtifactType,
		"name":         a.Name,
		"description":  a.Description,
		"summaryData":  a.SummaryData,
		"fullData":     a.FullData,
	}, nil
}

// ThinkingCompleteName is the tool name exposed to the model.
const ThinkingCompleteName = "thinking_complete"

// ThinkingComplete is the zero-effect tool whose presence signals the end
// of planning. It is bound only when the agent has data components; the
// executor's stop predicate watches for it.
type ThinkingComplete struct{}

func (t *ThinkingComplete) Name() string { return ThinkingCompleteName }

func (t *ThinkingComplete) Description() string {
	return "Signal that planning is complete and the structured answer can be produced. Call this exactly once, with no arguments, as your final tool call."
}

func (t *ThinkingComplete) Kind() tool.Kind { return tool.KindBuiltin }

func (t *ThinkingComplete) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *ThinkingComplete) Call(context.Context, tool.Context, map[string]any) (any, error) {
	return map[string]any{"acknowledged": true}, nil
}

var (
	_ tool.Tool = (*GetReferenceArtifact)(nil)
	_ tool.Tool = (*ThinkingComplete)(nil)
)
