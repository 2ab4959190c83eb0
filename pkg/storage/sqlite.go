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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	// SQLite driver registered for database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/weave/pkg/a2a"
)

// SQL implements RuntimeStore on database/sql. Only the sqlite dialect is
// exercised today; the schema sticks to portable column types.
type SQL struct {
	db *sql.DB
}

const runtimeSchemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(255) PRIMARY KEY,
    tenant_id VARCHAR(255) NOT NULL,
    project_id VARCHAR(255) NOT NULL,
    graph_id VARCHAR(255),
    agent_id VARCHAR(255),
    context_id VARCHAR(255) NOT NULL,
    state VARCHAR(50) NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_context_id ON tasks(context_id);

CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(255) PRIMARY KEY,
    tenant_id VARCHAR(255) NOT NULL,
    project_id VARCHAR(255) NOT NULL,
    conversation_id VARCHAR(255) NOT NULL,
    task_id VARCHAR(255),
    role VARCHAR(20) NOT NULL,
    content TEXT,
    visibility VARCHAR(20) NOT NULL,
    message_type VARCHAR(30) NOT NULL,
    from_agent_id VARCHAR(255),
    to_agent_id VARCHAR(255),
    from_external_agent_id VARCHAR(255),
    to_external_agent_id VARCHAR(255),
    delegation_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id VARCHAR(255) PRIMARY KEY,
    task_id VARCHAR(255) NOT NULL,
    artifact_type VARCHAR(255),
    name TEXT,
    description TEXT,
    summary_data TEXT,
    full_data TEXT,
    metadata TEXT,
    pending BOOLEAN NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_task_id ON artifacts(task_id);
`

// NewSQL wraps an open database handle and initializes the schema.
func NewSQL(db *sql.DB) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.Exec(runtimeSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQL{db: db}, nil
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(path string) (*SQL, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return NewSQL(db)
}

// Close releases the database handle.
func (s *SQL) Close() error {
	return s.db.Close()
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func (s *SQL) CreateTask(ctx context.Context, _ Scope, task *TaskRecord) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = task.CreatedAt

	metadata, err := marshalJSON(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal task metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tasks (id, tenant_id, project_id, graph_id, agent_id, context_id, state, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.TenantID, task.ProjectID, task.GraphID, task.AgentID,
		task.ContextID, string(task.State), metadata, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *SQL) UpdateTaskState(ctx context.Context, _ Scope, taskID string, state a2a.TaskState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now(), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

func (s *SQL) GetTask(ctx context.Context, _ Scope, taskID string) (*TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, tenant_id, project_id, graph_id, agent_id, context_id, state, metadata, created_at, updated_at
FROM tasks WHERE id = ?`, taskID)

	var t TaskRecord
	var state, metadata string
	err := row.Scan(&t.ID, &t.TenantID, &t.ProjectID, &t.GraphID, &t.AgentID,
		&t.ContextID, &state, &metadata, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task: %w", err)
	}
	t.State = a2a.TaskState(state)
	t.Metadata = unmarshalMap(metadata)
	return &t, nil
}

func (s *SQL) ListTaskIDsByContextID(ctx context.Context, _ Scope, contextID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tasks WHERE context_id = ? ORDER BY created_at ASC`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQL) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	content, err := marshalJSON(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO messages (id, tenant_id, project_id, conversation_id, task_id, role, content,
    visibility, message_type, from_agent_id, to_agent_id, from_external_agent_id,
    to_external_agent_id, delegation_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TenantID, msg.ProjectID, msg.ConversationID, msg.TaskID,
		string(msg.Role), content, string(msg.Visibility), string(msg.MessageType),
		msg.FromAgentID, msg.ToAgentID, msg.FromExternalAgentID, msg.ToExternalAgentID,
		msg.DelegationID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQL) SaveA2AMessageResponse(ctx context.Context, msg *Message) error {
	msg.MessageType = MessageTypeA2AResponse
	return s.CreateMessage(ctx, msg)
}

func (s *SQL) GetFormattedConversationHistory(ctx context.Context, _ Scope, q HistoryQuery) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tenant_id, project_id, conversation_id, task_id, role, content,
    visibility, message_type, from_agent_id, to_agent_id, from_external_agent_id,
    to_external_agent_id, delegation_id, created_at
FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`, q.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	taskSet := make(map[string]bool, len(q.TaskIDs))
	for _, id := range q.TaskIDs {
		taskSet[id] = true
	}

	var out []*Message
	for rows.Next() {
		var msg Message
		var role, visibility, messageType, content string
		err := rows.Scan(&msg.ID, &msg.TenantID, &msg.ProjectID, &msg.ConversationID,
			&msg.TaskID, &role, &content, &visibility, &messageType,
			&msg.FromAgentID, &msg.ToAgentID, &msg.FromExternalAgentID,
			&msg.ToExternalAgentID, &msg.DelegationID, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}
		msg.Role = MessageRole(role)
		msg.Visibility = Visibility(visibility)
		msg.MessageType = MessageType(messageType)
		if content != "" {
			if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
				return nil, fmt.Errorf("failed to decode message content: %w", err)
			}
		}

		if q.AgentID != "" {
			if msg.FromAgentID != q.AgentID && msg.ToAgentID != q.AgentID {
				continue
			}
			if len(taskSet) > 0 && !taskSet[msg.TaskID] {
				continue
			}
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (s *SQL) AddLedgerArtifacts(ctx context.Context, _ Scope, artifacts []*Artifact) error {
	for _, a := range artifacts {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		summary, err := marshalJSON(a.SummaryData)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact summary: %w", err)
		}
		full, err := marshalJSON(a.FullData)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact full data: %w", err)
		}
		metadata, err := marshalJSON(a.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact metadata: %w", err)
		}

		_, err = s.db.ExecContext(ctx, `
INSERT INTO artifacts (artifact_id, task_id, artifact_type, name, description,
    summary_data, full_data, metadata, pending, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(artifact_id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    summary_data = excluded.summary_data,
    full_data = excluded.full_data,
    metadata = excluded.metadata,
    pending = excluded.pending`,
			a.ArtifactID, a.TaskID, a.ArtifactType, a.Name, a.Description,
			summary, full, metadata, a.Pending, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert artifact %s: %w", a.ArtifactID, err)
		}
	}
	return nil
}

func (s *SQL) GetLedgerArtifacts(ctx context.Context, scope Scope, q ArtifactQuery) ([]*Artifact, error) {
	if q.ContextID != "" {
		return s.GetConversationScopedArtifacts(ctx, scope, q.ContextID)
	}

	query := `
SELECT artifact_id, task_id, artifact_type, name, description, summary_data,
    full_data, metadata, pending, created_at
FROM artifacts WHERE 1=1`
	var args []any
	if q.ArtifactID != "" {
		query += " AND artifact_id = ?"
		args = append(args, q.ArtifactID)
	}
	if q.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, q.TaskID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func (s *SQL) GetConversationScopedArtifacts(ctx context.Context, scope Scope, contextID string) ([]*Artifact, error) {
	taskIDs, err := s.ListTaskIDsByContextID(ctx, scope, contextID)
	if err != nil {
		return nil, err
	}
	var out []*Artifact
	for _, taskID := range taskIDs {
		artifacts, err := s.GetLedgerArtifacts(ctx, scope, ArtifactQuery{TaskID: taskID})
		if err != nil {
			return nil, err
		}
		out = append(out, artifacts...)
	}
	return out, nil
}

func scanArtifacts(rows *sql.Rows) ([]*Artifact, error) {
	var out []*Artifact
	for rows.Next() {
		var a Artifact
		var summary, full, metadata string
		err := rows.Scan(&a.ArtifactID, &a.TaskID, &a.ArtifactType, &a.Name,
			&a.Description, &summary, &full, &metadata, &a.Pending, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		a.SummaryData = unmarshalMap(summary)
		a.FullData = unmarshalMap(full)
		a.Metadata = unmarshalMap(metadata)
		out = append(out, &a)
	}
	return out, rows.Err()
}

var _ RuntimeStore = (*SQL)(nil)
