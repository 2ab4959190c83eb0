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
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/stream"
)

// ArtifactCreatePrefix names the artifact-creation components of the
// phase-2 schema: ArtifactCreate_<Type>.
const ArtifactCreatePrefix = "ArtifactCreate_"

// artifactReferenceProps cites an existing artifact from structured output.
type artifactReferenceProps struct {
	ArtifactID string `json:"artifact_id" jsonschema:"required,description=Id of the artifact to reference"`
	TaskID     string `json:"task_id" jsonschema:"required,description=Id of the task that produced the artifact"`
}

// artifactCreateProps creates a new artifact from a prior tool result.
type artifactCreateProps struct {
	ID           string            `json:"id,omitempty" jsonschema:"description=Client-chosen identifier for correlation"`
	ToolCallID   string            `json:"tool_call_id" jsonschema:"required,description=Id of the completed tool call to project from"`
	Type         string            `json:"type" jsonschema:"required,description=Artifact component name"`
	BaseSelector string            `json:"base_selector" jsonschema:"required,description=JMESPath selecting the base item or items"`
	SummaryProps map[string]string `json:"summary_props,omitempty" jsonschema:"description=Map of summary prop name to JMESPath selector relative to each item"`
	FullProps    map[string]string `json:"full_props,omitempty" jsonschema:"description=Map of full prop name to JMESPath selector relative to each item"`
}

// Phase2Schema builds the union response schema of a structured-output
// turn: one object schema per data component, one ArtifactCreate_<Type>
// schema per artifact component, and the universal artifact reference.
func Phase2Schema(ag *agent.Agent) map[string]any {
	var variants []any

	for _, dc := range ag.DataComponents {
		props := dc.Props
		if props == nil {
			props = map[string]any{"type": "object"}
		}
		variants = append(variants, componentSchema(dc.Name, dc.Description, props))
	}

	if ag.HasArtifactComponents() {
		createProps := reflectSchema(&artifactCreateProps{})
		for _, ac := range ag.ArtifactComponents {
			variants = append(variants, componentSchema(
				ArtifactCreatePrefix+ac.Name,
				"Create a "+ac.Name+" artifact from a tool result.",
				createProps))
		}
	}
	variants = append(variants, componentSchema(
		stream.ArtifactReferenceComponent,
		"Reference an existing artifact.",
		reflectSchema(&artifactReferenceProps{})))

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dataComponents": map[string]any{
				"type":  "array",
				"items": map[string]any{"anyOf": variants},
			},
		},
		"required": []string{"dataComponents"},
	}
}

func componentSchema(name, description string, props map[string]any) map[string]any {
	return map[string]any{
		"type":        "object",
		"description": description,
		"properties": map[string]any{
			"id":    map[string]any{"type": "string"},
			"name":  map[string]any{"const": name},
			"props": props,
		},
		"required": []string{"name", "props"},
	}
}

// reflectSchema renders a Go struct as an inline JSON schema map.
func reflectSchema(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
