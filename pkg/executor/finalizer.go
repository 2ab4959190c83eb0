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

	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/model"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
)

// Finalizer names pending artifacts after a turn ends. save_tool_result
// returns immediately with unnamed artifacts; the finalizer reads the
// artifact_saved events, generates a name and description with the agent's
// summarizer model and persists them.
type Finalizer struct {
	driver *model.Driver
	store  storage.RuntimeStore
	scope  storage.Scope
}

// NewFinalizer creates a finalizer.
func NewFinalizer(driver *model.Driver, store storage.RuntimeStore, scope storage.Scope) *Finalizer {
	return &Finalizer{driver: driver, store: store, scope: scope}
}

var namingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name": map[string]any{
			"type":        "string",
			"description": "Short, human-readable artifact name (max 8 words).",
		},
		"description": map[string]any{
			"type":        "string",
			"description": "One-sentence description of what the artifact contains.",
		},
	},
	"required": []string{"name", "description"},
}

// Finalize names every still-pending artifact recorded in the log. It is
// idempotent: artifacts already named (for example by a delegate's own
// finalizer pass over the shared log) are skipped.
func (f *Finalizer) Finalize(ctx context.Context, ag *agent.Agent, log *session.EventLog) {
	events := log.OfType(session.EventArtifactSaved)
	if len(events) == 0 {
		return
	}

	settings, err := ag.ModelFor(agent.ModelRoleSummarizer)
	if err != nil {
		slog.Warn("No summarizer model; artifacts keep fallback names", "agent_id", ag.ID, "error", err)
		settings = agent.ModelSettings{}
	}

	for _, event := range events {
		pending, _ := event.Payload["pendingGeneration"].(bool)
		if !pending {
			continue
		}
		artifactID, _ := event.Payload["artifactId"].(string)
		if artifactID == "" {
			continue
		}

		stored, err := f.store.GetLedgerArtifacts(ctx, f.scope, storage.ArtifactQuery{ArtifactID: artifactID})
		if err != nil || len(stored) == 0 {
			slog.Warn("Pending artifact vanished before finalization",
				"artifact_id", artifactID, "error", err)
			continue
		}
		artifact := stored[0]
		if !artifact.Pending {
			continue
		}

		name, description := f.generate(ctx, settings, ag, event)
		artifact.Name = name
		artifact.Description = description
		artifact.Pending = false

		if err := f.store.AddLedgerArtifacts(ctx, f.scope, []*storage.Artifact{artifact}); err != nil {
			slog.Warn("Failed to persist finalized artifact",
				"artifact_id", artifactID, "error", err)
		}
	}
}

// generate asks the summarizer model for a name and description, falling
// back to tool-derived naming when no model is available or the call fails.
func (f *Finalizer) generate(ctx context.Context, settings agent.ModelSettings, ag *agent.Agent, event session.Event) (string, string) {
	artifactType, _ := event.Payload["artifactType"].(string)
	toolName, _ := event.Payload["toolName"].(string)

	fallbackName := artifactType
	if fallbackName == "" {
		fallbackName = "Artifact"
	}
	if toolName != "" {
		fallbackName += " from " + toolName
	}
	fallbackDescription := fmt.Sprintf("Saved from the %s tool result.", toolName)

	if settings.Model == "" {
		return fallbackName, fallbackDescription
	}

	promptText := fmt.Sprintf(
		"Name this %s artifact extracted from the %s tool result.\n\nSummary: %s\nFull: %s",
		artifactType, toolName,
		compactAny(event.Payload["summaryData"]),
		compactAny(event.Payload["fullData"]))

	resp, err := f.driver.GenerateObject(ctx, &model.Request{
		Model:           settings.Model,
		Messages:        []model.Message{model.UserMessage(promptText)},
		Schema:          namingSchema,
		ProviderOptions: settings.ProviderOptions,
		Telemetry: model.Telemetry{
			FunctionID: "artifact-naming",
			AgentID:    ag.ID,
		},
	})
	if err != nil {
		slog.Warn("Artifact naming failed; using fallback",
			"artifact_type", artifactType, "error", err)
		return fallbackName, fallbackDescription
	}

	name, _ := resp.Object["name"].(string)
	description, _ := resp.Object["description"].(string)
	if name == "" {
		name = fallbackName
	}
	if description == "" {
		description = fallbackDescription
	}
	return name, description
}
