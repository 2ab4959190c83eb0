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

// Package storage defines the persistence operations the execution core
// consumes. Definitions (agents, graphs, tools, components) and runtime
// records (tasks, messages, artifacts) are separate interfaces so that
// definitions can come from configuration while runtime records go to a
// database.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
)

// Sentinel errors for lookup misses.
var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrGraphNotFound    = errors.New("graph not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrNotFound         = errors.New("not found")
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Scope names the tenant and project, and optionally the graph, of an
// operation. The Memory and SQL stores in this package accept it but do not
// filter by it.
type Scope struct {
	TenantID  string
	ProjectID string
	GraphID   string
}

// MessageRole is the author role of a persisted message.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// Visibility controls whether a message is user-facing.
type Visibility string

const (
	VisibilityExternal Visibility = "external"
	VisibilityInternal Visibility = "internal"
)

// MessageType classifies a persisted message.
type MessageType string

const (
	MessageTypeUser        MessageType = "user"
	MessageTypeA2ARequest  MessageType = "a2a-request"
	MessageTypeA2AResponse MessageType = "a2a-response"
)

// MessageContent is the text and/or data payload of a message.
type MessageContent struct {
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Message is one persisted conversation entry.
type Message struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	ProjectID      string         `json:"projectId"`
	ConversationID string         `json:"conversationId"`
	TaskID         string         `json:"taskId,omitempty"`
	Role           MessageRole    `json:"role"`
	Content        MessageContent `json:"content"`
	Visibility     Visibility     `json:"visibility"`
	MessageType    MessageType    `json:"messageType"`

	FromAgentID         string `json:"fromAgentId,omitempty"`
	ToAgentID           string `json:"toAgentId,omitempty"`
	FromExternalAgentID string `json:"fromExternalAgentId,omitempty"`
	ToExternalAgentID   string `json:"toExternalAgentId,omitempty"`

	// DelegationID correlates a2a-request/a2a-response pairs.
	DelegationID string `json:"delegationId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// TaskRecord is a persisted task.
type TaskRecord struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	ProjectID string         `json:"projectId"`
	GraphID   string         `json:"graphId"`
	AgentID   string         `json:"agentId"`
	ContextID string         `json:"contextId"`
	State     a2a.TaskState  `json:"state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Artifact is a persisted, citable projection of a tool result. Summary and
// full projections live in the single data part.
type Artifact struct {
	ArtifactID   string         `json:"artifactId"`
	TaskID       string         `json:"taskId"`
	ArtifactType string         `json:"artifactType"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	SummaryData  map[string]any `json:"summaryData"`
	FullData     map[string]any `json:"fullData"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	// Pending marks artifacts awaiting asynchronous name/description
	// generation.
	Pending   bool      `json:"pending,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Parts renders the artifact in its task-result shape: a single data part
// carrying summary and full projections.
func (a *Artifact) Parts() []a2a.Part {
	return []a2a.Part{a2a.NewDataPart(map[string]any{
		"summary": a.SummaryData,
		"full":    a.FullData,
	})}
}

// ContextConfig identifies how request context is fetched and validated.
// Opaque to the core; the resolver interprets it.
type ContextConfig struct {
	ID             string         `json:"id"`
	HeadersSchema  map[string]any `json:"headersSchema,omitempty"`
	ContextSources map[string]any `json:"contextSources,omitempty"`
}

// CredentialReference names a credential store entry plus retrieval params.
type CredentialReference struct {
	ID                string            `json:"id"`
	CredentialStoreID string            `json:"credentialStoreId"`
	RetrievalParams   map[string]string `json:"retrievalParams,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
}

// ExternalAgent is a peer outside the graph, reachable over A2A.
type ExternalAgent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	BaseURL       string `json:"baseUrl"`
	CredentialRef string `json:"credentialRef,omitempty"`
}

// GraphDefinition is a graph with all of its agents.
type GraphDefinition struct {
	Graph  *agent.Graph
	Agents map[string]*agent.Agent
}

// HistoryQuery selects conversation history for prompt assembly.
type HistoryQuery struct {
	ConversationID string
	Limit          int

	// Scoped filtering: when set, only messages from/to this agent within
	// these tasks are returned.
	AgentID string
	TaskIDs []string
}

// ArtifactQuery selects artifacts by task or conversation.
type ArtifactQuery struct {
	ArtifactID string
	TaskID     string
	ContextID  string
}

// DefinitionStore serves the static configuration of graphs and agents.
type DefinitionStore interface {
	GetAgentByID(ctx context.Context, scope Scope, agentID string) (*agent.Agent, error)
	GetAgentGraphByID(ctx context.Context, scope Scope, graphID string) (*agent.Graph, error)
	GetRelatedAgentsForGraph(ctx context.Context, scope Scope, graphID string) ([]*agent.Agent, error)
	GetToolsForAgent(ctx context.Context, scope Scope, agentID string) ([]agent.ToolServerRef, error)
	GetDataComponentsForAgent(ctx context.Context, scope Scope, agentID string) ([]agent.DataComponent, error)
	GetArtifactComponentsForAgent(ctx context.Context, scope Scope, agentID string) ([]agent.ArtifactComponent, error)
	GetContextConfigByID(ctx context.Context, scope Scope, id string) (*ContextConfig, error)
	GetCredentialReference(ctx context.Context, scope Scope, id string) (*CredentialReference, error)
	GetExternalAgent(ctx context.Context, scope Scope, id string) (*ExternalAgent, error)
	GetFullGraphDefinition(ctx context.Context, scope Scope, graphID string) (*GraphDefinition, error)
	GraphHasArtifactComponents(ctx context.Context, scope Scope, graphID string) (bool, error)
}

// RuntimeStore persists tasks, messages and artifacts.
type RuntimeStore interface {
	CreateTask(ctx context.Context, scope Scope, task *TaskRecord) error
	UpdateTaskState(ctx context.Context, scope Scope, taskID string, state a2a.TaskState) error
	GetTask(ctx context.Context, scope Scope, taskID string) (*TaskRecord, error)
	ListTaskIDsByContextID(ctx context.Context, scope Scope, contextID string) ([]string, error)

	CreateMessage(ctx context.Context, msg *Message) error
	SaveA2AMessageResponse(ctx context.Context, msg *Message) error
	GetFormattedConversationHistory(ctx context.Context, scope Scope, q HistoryQuery) ([]*Message, error)

	AddLedgerArtifacts(ctx context.Context, scope Scope, artifacts []*Artifact) error
	GetLedgerArtifacts(ctx context.Context, scope Scope, q ArtifactQuery) ([]*Artifact, error)
	GetConversationScopedArtifacts(ctx context.Context, scope Scope, contextID string) ([]*Artifact, error)
}

// Store combines definitions and runtime records.
type Store interface {
	DefinitionStore
	RuntimeStore
}

// Composite assembles a Store from separate definition and runtime
// implementations.
type Composite struct {
	DefinitionStore
	RuntimeStore
}

// NewComposite builds a Store from its halves.
func NewComposite(defs DefinitionStore, runtime RuntimeStore) Store {
	return &Composite{DefinitionStore: defs, RuntimeStore: runtime}
}
