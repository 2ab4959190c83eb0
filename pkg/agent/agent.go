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

// Package agent defines the static configuration of graph participants.
//
// An Agent is one named participant in a directed graph of agents. Its
// relations hold peer ids rather than peer objects: graphs may contain
// cycles (A and B may transfer to each other), so peers are hydrated per
// turn from storage instead of being linked in memory.
package agent

import "fmt"

// DefaultMaxSteps is the hard ceiling on phase-1 generation steps when the
// agent does not configure one.
const DefaultMaxSteps = 12

// ModelRole selects which configured model an operation uses.
type ModelRole string

const (
	ModelRoleBase             ModelRole = "base"
	ModelRoleStructuredOutput ModelRole = "structuredOutput"
	ModelRoleSummarizer       ModelRole = "summarizer"
)

// ModelSettings names a model plus provider-specific options.
type ModelSettings struct {
	Model           string         `json:"model" yaml:"model"`
	ProviderOptions map[string]any `json:"providerOptions,omitempty" yaml:"provider_options,omitempty"`
}

// StopWhen bounds the phase-1 generation loop.
type StopWhen struct {
	StepCountIs int `json:"stepCountIs" yaml:"step_count_is"`
}

// HistoryMode controls how much conversation history a turn sees.
type HistoryMode string

const (
	// HistoryNone includes no prior messages.
	HistoryNone HistoryMode = "none"

	// HistoryFull includes the most recent messages of the conversation.
	HistoryFull HistoryMode = "full"

	// HistoryScoped filters messages by agent id and task id.
	HistoryScoped HistoryMode = "scoped"
)

// ConversationHistoryConfig selects the history mode and its limit.
type ConversationHistoryConfig struct {
	Mode  HistoryMode `json:"mode" yaml:"mode"`
	Limit int         `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// DelegateKind tags a delegate relation as in-graph or external.
type DelegateKind string

const (
	DelegateInternal DelegateKind = "internal"
	DelegateExternal DelegateKind = "external"
)

// DelegateRef names a peer an agent may delegate to.
type DelegateRef struct {
	Kind DelegateKind `json:"kind" yaml:"kind"`

	// AgentID is the in-graph agent id for internal delegates, or the
	// external agent's id otherwise.
	AgentID string `json:"agentId" yaml:"agent_id"`

	// BaseURL is required for external delegates.
	BaseURL string `json:"baseUrl,omitempty" yaml:"base_url,omitempty"`

	// CredentialRef resolves request headers for external delegates.
	CredentialRef string `json:"credentialRef,omitempty" yaml:"credential_ref,omitempty"`
}

// ToolServerRef names a remote tool server reachable over MCP.
type ToolServerRef struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	URL           string            `json:"url" yaml:"url"`
	CredentialRef string            `json:"credentialRef,omitempty" yaml:"credential_ref,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// DataComponent is one schema-typed output shape. An agent with data
// components produces structured output in a second generation phase.
type DataComponent struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Props       map[string]any `json:"props" yaml:"props"`
}

// ArtifactComponent is one artifact type schema. Summary and full
// projections each follow the matching props schema.
type ArtifactComponent struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description" yaml:"description"`
	SummaryProps map[string]any `json:"summaryProps" yaml:"summary_props"`
	FullProps    map[string]any `json:"fullProps" yaml:"full_props"`
}

// Agent is the static configuration of one graph participant.
type Agent struct {
	ID          string `json:"id" yaml:"id"`
	TenantID    string `json:"tenantId" yaml:"tenant_id"`
	ProjectID   string `json:"projectId" yaml:"project_id"`
	GraphID     string `json:"graphId" yaml:"graph_id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Prompt      string `json:"agentPrompt" yaml:"prompt"`

	Models   map[ModelRole]ModelSettings `json:"models" yaml:"models"`
	StopWhen StopWhen                    `json:"stopWhen" yaml:"stop_when"`

	TransferRelations []string      `json:"transferRelations,omitempty" yaml:"transfer_relations,omitempty"`
	DelegateRelations []DelegateRef `json:"delegateRelations,omitempty" yaml:"delegate_relations,omitempty"`

	Tools              []ToolServerRef     `json:"tools,omitempty" yaml:"tools,omitempty"`
	DataComponents     []DataComponent     `json:"dataComponents,omitempty" yaml:"data_components,omitempty"`
	ArtifactComponents []ArtifactComponent `json:"artifactComponents,omitempty" yaml:"artifact_components,omitempty"`

	History         ConversationHistoryConfig `json:"conversationHistoryConfig" yaml:"history"`
	ContextConfigID string                    `json:"contextConfigId,omitempty" yaml:"context_config_id,omitempty"`
}

// ModelFor returns the model settings for a role. structuredOutput and
// summarizer fall back to base when not configured.
func (a *Agent) ModelFor(role ModelRole) (ModelSettings, error) {
	if s, ok := a.Models[role]; ok && s.Model != "" {
		return s, nil
	}
	if role != ModelRoleBase {
		if s, ok := a.Models[ModelRoleBase]; ok && s.Model != "" {
			return s, nil
		}
	}
	return ModelSettings{}, fmt.Errorf("agent %s has no model for role %q and no base model", a.ID, role)
}

// MaxSteps returns the phase-1 step ceiling.
func (a *Agent) MaxSteps() int {
	if a.StopWhen.StepCountIs > 0 {
		return a.StopWhen.StepCountIs
	}
	return DefaultMaxSteps
}

// HasDataComponents reports whether the agent produces structured output.
func (a *Agent) HasDataComponents() bool {
	return len(a.DataComponents) > 0
}

// HasArtifactComponents reports whether the agent can create artifacts.
func (a *Agent) HasArtifactComponents() bool {
	return len(a.ArtifactComponents) > 0
}

// ArtifactComponentByName finds a component by name.
func (a *Agent) ArtifactComponentByName(name string) (ArtifactComponent, bool) {
	for _, c := range a.ArtifactComponents {
		if c.Name == name {
			return c, true
		}
	}
	return ArtifactComponent{}, false
}

// Graph identifies an agent's peer set.
type Graph struct {
	ID              string `json:"id" yaml:"id"`
	TenantID        string `json:"tenantId" yaml:"tenant_id"`
	ProjectID       string `json:"projectId" yaml:"project_id"`
	Name            string `json:"name" yaml:"name"`
	Prompt          string `json:"graphPrompt,omitempty" yaml:"prompt,omitempty"`
	ContextConfigID string `json:"contextConfigId,omitempty" yaml:"context_config_id,omitempty"`
	DefaultAgentID  string `json:"defaultAgentId,omitempty" yaml:"default_agent_id,omitempty"`
}

// RelatedAgent is a hydrated peer summary used for routing decisions. The
// description may be augmented with a one-level-deep summary of the peer's
// own relations.
type RelatedAgent struct {
	ID          string
	Name        string
	Description string
	BaseURL     string // set for external agents
}
