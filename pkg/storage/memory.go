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

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
)

// Memory is an in-memory Store. It backs tests and single-process
// deployments without durability requirements.
type Memory struct {
	mu sync.RWMutex

	agents      map[string]*agent.Agent
	graphs      map[string]*agent.Graph
	contextCfgs map[string]*ContextConfig
	credentials map[string]*CredentialReference
	external    map[string]*ExternalAgent

	tasks     map[string]*TaskRecord
	messages  []*Message
	artifacts map[string]*Artifact
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		agents:      make(map[string]*agent.Agent),
		graphs:      make(map[string]*agent.Graph),
		contextCfgs: make(map[string]*ContextConfig),
		credentials: make(map[string]*CredentialReference),
		external:    make(map[string]*ExternalAgent),
		tasks:       make(map[string]*TaskRecord),
		artifacts:   make(map[string]*Artifact),
	}
}

// ============================================================================
// Seeding
// ============================================================================

// PutAgent stores an agent definition.
func (m *Memory) PutAgent(a *agent.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

// PutGraph stores a graph definition.
func (m *Memory) PutGraph(g *agent.Graph) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[g.ID] = g
}

// PutContextConfig stores a context config.
func (m *Memory) PutContextConfig(c *ContextConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contextCfgs[c.ID] = c
}

// PutCredentialReference stores a credential reference.
func (m *Memory) PutCredentialReference(c *CredentialReference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.ID] = c
}

// PutExternalAgent stores an external agent record.
func (m *Memory) PutExternalAgent(e *ExternalAgent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.external[e.ID] = e
}

// ============================================================================
// DefinitionStore
// ============================================================================

func (m *Memory) GetAgentByID(_ context.Context, _ Scope, agentID string) (*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return a, nil
}

func (m *Memory) GetAgentGraphByID(_ context.Context, _ Scope, graphID string) (*agent.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[graphID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	return g, nil
}

func (m *Memory) GetRelatedAgentsForGraph(_ context.Context, _ Scope, graphID string) ([]*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*agent.Agent
	for _, a := range m.agents {
		if a.GraphID == graphID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetToolsForAgent(ctx context.Context, scope Scope, agentID string) ([]agent.ToolServerRef, error) {
	a, err := m.GetAgentByID(ctx, scope, agentID)
	if err != nil {
		return nil, err
	}
	return a.Tools, nil
}

func (m *Memory) GetDataComponentsForAgent(ctx context.Context, scope Scope, agentID string) ([]agent.DataComponent, error) {
	a, err := m.GetAgentByID(ctx, scope, agentID)
	if err != nil {
		return nil, err
	}
	return a.DataComponents, nil
}

func (m *Memory) GetArtifactComponentsForAgent(ctx context.Context, scope Scope, agentID string) ([]agent.ArtifactComponent, error) {
	a, err := m.GetAgentByID(ctx, scope, agentID)
	if err != nil {
		return nil, err
	}
	return a.ArtifactComponents, nil
}

func (m *Memory) GetContextConfigByID(_ context.Context, _ Scope, id string) (*ContextConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contextCfgs[id]
	if !ok {
		return nil, fmt.Errorf("context config %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) GetCredentialReference(_ context.Context, _ Scope, id string) (*CredentialReference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, fmt.Errorf("credential reference %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) GetExternalAgent(_ context.Context, _ Scope, id string) (*ExternalAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.external[id]
	if !ok {
		return nil, fmt.Errorf("external agent %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (m *Memory) GetFullGraphDefinition(ctx context.Context, scope Scope, graphID string) (*GraphDefinition, error) {
	g, err := m.GetAgentGraphByID(ctx, scope, graphID)
	if err != nil {
		return nil, err
	}
	agents, err := m.GetRelatedAgentsForGraph(ctx, scope, graphID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*agent.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return &GraphDefinition{Graph: g, Agents: byID}, nil
}

func (m *Memory) GraphHasArtifactComponents(ctx context.Context, scope Scope, graphID string) (bool, error) {
	agents, err := m.GetRelatedAgentsForGraph(ctx, scope, graphID)
	if err != nil {
		return false, err
	}
	for _, a := range agents {
		if a.HasArtifactComponents() {
			return true, nil
		}
	}
	return false, nil
}

// ============================================================================
// RuntimeStore
// ============================================================================

func (m *Memory) CreateTask(_ context.Context, _ Scope, task *TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = task.CreatedAt
	m.tasks[task.ID] = task
	return nil
}

func (m *Memory) UpdateTaskState(_ context.Context, _ Scope, taskID string, state a2a.TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	t.State = state
	t.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) GetTask(_ context.Context, _ Scope, taskID string) (*TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t, nil
}

func (m *Memory) ListTaskIDsByContextID(_ context.Context, _ Scope, contextID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []*TaskRecord
	for _, t := range m.tasks {
		if t.ContextID == contextID {
			records = append(records, t)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	ids := make([]string, 0, len(records))
	for _, t := range records {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *Memory) SaveA2AMessageResponse(ctx context.Context, msg *Message) error {
	msg.MessageType = MessageTypeA2AResponse
	return m.CreateMessage(ctx, msg)
}

func (m *Memory) GetFormattedConversationHistory(_ context.Context, _ Scope, q HistoryQuery) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	taskSet := make(map[string]bool, len(q.TaskIDs))
	for _, id := range q.TaskIDs {
		taskSet[id] = true
	}

	var out []*Message
	for _, msg := range m.messages {
		if msg.ConversationID != q.ConversationID {
			continue
		}
		if q.AgentID != "" {
			if msg.FromAgentID != q.AgentID && msg.ToAgentID != q.AgentID {
				continue
			}
			if len(taskSet) > 0 && !taskSet[msg.TaskID] {
				continue
			}
		}
		out = append(out, msg)
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (m *Memory) AddLedgerArtifacts(_ context.Context, _ Scope, artifacts []*Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range artifacts {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		m.artifacts[a.ArtifactID] = a
	}
	return nil
}

func (m *Memory) GetLedgerArtifacts(ctx context.Context, scope Scope, q ArtifactQuery) ([]*Artifact, error) {
	if q.ContextID != "" {
		return m.GetConversationScopedArtifacts(ctx, scope, q.ContextID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Artifact
	for _, a := range m.artifacts {
		if q.ArtifactID != "" && a.ArtifactID != q.ArtifactID {
			continue
		}
		if q.TaskID != "" && a.TaskID != q.TaskID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetConversationScopedArtifacts(ctx context.Context, scope Scope, contextID string) ([]*Artifact, error) {
	taskIDs, err := m.ListTaskIDsByContextID(ctx, scope, contextID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	taskSet := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		taskSet[id] = true
	}
	var out []*Artifact
	for _, a := range m.artifacts {
		if taskSet[a.TaskID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ Store = (*Memory)(nil)
