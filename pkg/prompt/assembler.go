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

package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/tool"
)

const (
	thinkingPreparationBlock = `## Response Protocol

You are in the planning phase. Do NOT produce natural-language output in
this phase. Use tools to gather everything you need, then call the
` + "`thinking_complete`" + ` tool to signal that planning is done. Your final
answer is produced afterwards as structured output; any text you write here
is discarded.`

	artifactReferenceRules = `## Artifact References

Completed tool results can be saved as artifacts with ` + "`save_tool_result`" + `.
Reference an existing artifact inline with the exact marker form
` + "`<artifact:ref id=\"<artifactId>\" task=\"<taskId>\"/>`" + `. Do not invent
artifact ids; only reference artifacts listed in the artifact manifest.`
)

// Assembler builds the system prompts of one agent turn.
type Assembler struct {
	agent       *agent.Agent
	graphPrompt string
	contextVars map[string]any
}

// NewAssembler creates an assembler for an agent with resolved context.
func NewAssembler(a *agent.Agent, graphPrompt string, contextVars map[string]any) *Assembler {
	return &Assembler{agent: a, graphPrompt: graphPrompt, contextVars: contextVars}
}

// Phase1Input carries the per-turn manifests of the planning prompt.
type Phase1Input struct {
	Tools []tool.Definition

	// Artifacts already present in the conversation; rendered as a
	// reference manifest when non-empty.
	Artifacts []*storage.Artifact

	// GraphHasArtifacts includes the artifact-referencing rules even when
	// this agent has no artifact components of its own.
	GraphHasArtifacts bool
}

// Phase1 builds the planning-phase system prompt.
func (asm *Assembler) Phase1(in Phase1Input) string {
	var sections []string

	if core := Render(asm.agent.Prompt, asm.contextVars); core != "" {
		sections = append(sections, core)
	}
	if graph := Render(asm.graphPrompt, asm.contextVars); graph != "" {
		sections = append(sections, graph)
	}

	if len(in.Tools) > 0 {
		sections = append(sections, toolManifest(in.Tools))
	}
	if in.GraphHasArtifacts {
		sections = append(sections, artifactReferenceRules)
	}
	if len(in.Artifacts) > 0 {
		sections = append(sections, artifactManifest(in.Artifacts))
	}
	if asm.agent.HasDataComponents() {
		sections = append(sections, thinkingPreparationBlock)
	}

	return strings.Join(sections, "\n\n")
}

// Phase2Input carries the catalogues of the structured-output prompt.
type Phase2Input struct {
	DataComponents     []agent.DataComponent
	ArtifactComponents []agent.ArtifactComponent

	// Artifacts is the reference ledger: artifacts citable in the answer.
	Artifacts []*storage.Artifact
}

// Phase2 builds the structured-output system prompt. It is driven on the
// phase-1 transcript plus the user message; this prompt only describes the
// output contract.
func (asm *Assembler) Phase2(in Phase2Input) string {
	var sections []string

	if core := Render(asm.agent.Prompt, asm.contextVars); core != "" {
		sections = append(sections, core)
	}

	sections = append(sections, "## Structured Output\n\nProduce a single JSON object matching the response schema. Populate `dataComponents` with the components below, in the order that best answers the user.")

	if len(in.DataComponents) > 0 {
		var b strings.Builder
		b.WriteString("## Data Components\n")
		for _, dc := range in.DataComponents {
			fmt.Fprintf(&b, "\n### %s\n%s\n", dc.Name, dc.Description)
			if schema := compactJSON(dc.Props); schema != "" {
				fmt.Fprintf(&b, "Props schema: %s\n", schema)
			}
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(in.ArtifactComponents) > 0 {
		var b strings.Builder
		b.WriteString("## Artifact Creation\n\nTo create an artifact from a prior tool result, emit an `ArtifactCreate_<Type>` component citing the tool call id and JMESPath selectors.\n")
		for _, ac := range in.ArtifactComponents {
			fmt.Fprintf(&b, "\n### ArtifactCreate_%s\n%s\n", ac.Name, ac.Description)
			if schema := compactJSON(ac.SummaryProps); schema != "" {
				fmt.Fprintf(&b, "Summary props: %s\n", schema)
			}
			if schema := compactJSON(ac.FullProps); schema != "" {
				fmt.Fprintf(&b, "Full props: %s\n", schema)
			}
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(in.Artifacts) > 0 {
		sections = append(sections, artifactManifest(in.Artifacts))
	}

	return strings.Join(sections, "\n\n")
}

func toolManifest(defs []tool.Definition) string {
	var b strings.Builder
	b.WriteString("## Available Tools\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "\n### %s\n%s\n", tool.SanitizeName(def.Name), def.Description)
		if schema := compactJSON(def.Parameters); schema != "" {
			fmt.Fprintf(&b, "Input schema: %s\n", schema)
		}
	}
	b.WriteString("\nCall tools only with arguments matching their input schema.")
	return b.String()
}

func artifactManifest(artifacts []*storage.Artifact) string {
	var b strings.Builder
	b.WriteString("## Artifact Manifest\n\nArtifacts available for reference:\n")
	for _, a := range artifacts {
		name := a.Name
		if name == "" {
			name = a.ArtifactType
		}
		fmt.Fprintf(&b, "\n- id=%q task=%q type=%q name=%q", a.ArtifactID, a.TaskID, a.ArtifactType, name)
		if a.Description != "" {
			fmt.Fprintf(&b, " — %s", a.Description)
		}
	}
	return b.String()
}

func compactJSON(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
