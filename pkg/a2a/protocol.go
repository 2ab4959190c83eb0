// Package a2a implements the Agent-to-Agent (A2A) message schema and
// HTTP+JSON transport used for inter-agent delegation.
//
// The schema is deliberately small: a Task carries input parts plus request
// metadata, a TaskResult carries a status and output artifacts. Delegation
// metadata (conversationId, streamRequestId, delegationId) rides in the
// message metadata map so that transports do not need to understand it.
package a2a

import (
	"strings"
)

// ============================================================================
// TASK - Unit of Work
// ============================================================================

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

// Task is one execution of one agent turn.
type Task struct {
	ID        string      `json:"id"`
	ContextID string      `json:"contextId,omitempty"` // conversation id
	Input     TaskInput   `json:"input"`
	Context   TaskContext `json:"context"`
}

// TaskInput holds the input parts of a task.
type TaskInput struct {
	Parts []Part `json:"parts"`
}

// TaskContext carries request-scoped routing metadata.
type TaskContext struct {
	ConversationID string         `json:"conversationId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Well-known metadata keys.
const (
	MetaConversationID  = "conversationId"
	MetaThreadID        = "threadId"
	MetaStreamRequestID = "streamRequestId"
	// MetaStreamRequestIDAlt is the snake_case alias some callers send.
	MetaStreamRequestIDAlt = "stream_request_id"
	MetaIsDelegation       = "isDelegation"
	MetaDelegationID       = "delegationId"
	MetaAPIKey             = "apiKey"
	MetaFromAgentID        = "fromAgentId"
	MetaFromExternalAgent  = "fromExternalAgentId"
)

// Text returns the concatenation of all text parts of the task input,
// joined with single spaces.
func (t *Task) Text() string {
	var texts []string
	for _, p := range t.Input.Parts {
		if p.Kind == PartKindText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// MetaString reads a string metadata value, checking the given keys in order.
func (t *Task) MetaString(keys ...string) string {
	for _, k := range keys {
		if v, ok := t.Context.Metadata[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// IsDelegation reports whether the task was sent by a delegating agent.
// Delegated turns must not stream to the user.
func (t *Task) IsDelegation() bool {
	v, _ := t.Context.Metadata[MetaIsDelegation].(bool)
	return v
}

// ============================================================================
// TASK RESULT
// ============================================================================

// TaskStatus is the terminal status of a task.
type TaskStatus struct {
	State   TaskState `json:"state"`
	Message string    `json:"message,omitempty"`
}

// TaskResult is the egress shape of an executed task.
type TaskResult struct {
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact is one output artifact of a task result.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Parts      []Part `json:"parts"`
}

// Text returns the concatenated text parts across all artifacts.
func (r *TaskResult) Text() string {
	var b strings.Builder
	for _, a := range r.Artifacts {
		for _, p := range a.Parts {
			if p.Kind == PartKindText {
				b.WriteString(p.Text)
			}
		}
	}
	return b.String()
}

// TransferTarget returns the transfer target agent id if the result is a
// transfer signal, and "" otherwise. A transfer is a single data part with
// type "transfer".
func (r *TaskResult) TransferTarget() string {
	for _, a := range r.Artifacts {
		for _, p := range a.Parts {
			if p.Kind != PartKindData {
				continue
			}
			if p.Data["type"] == "transfer" {
				target, _ := p.Data["target"].(string)
				return target
			}
		}
	}
	return ""
}

// ============================================================================
// PART - Message/Artifact Content
// ============================================================================

// PartKind discriminates part variants.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindData PartKind = "data"
)

// Part is one unit of message or artifact content.
type Part struct {
	Kind PartKind       `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// NewTextPart builds a text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewDataPart builds a data part.
func NewDataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// ============================================================================
// MESSAGE - Delegation RPC Payload
// ============================================================================

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// Message is the A2A delegation payload sent to a peer agent.
type Message struct {
	Role      MessageRole    `json:"role"`
	Parts     []Part         `json:"parts"`
	MessageID string         `json:"messageId"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Text returns the concatenation of the message's text parts.
func (m *Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartKindText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// ToTask converts a delegation message into an ingress task.
func (m *Message) ToTask(taskID string) *Task {
	conversationID, _ := m.Metadata[MetaConversationID].(string)
	if conversationID == "" {
		conversationID = m.ContextID
	}
	return &Task{
		ID:        taskID,
		ContextID: conversationID,
		Input:     TaskInput{Parts: m.Parts},
		Context: TaskContext{
			ConversationID: conversationID,
			Metadata:       m.Metadata,
		},
	}
}

// ============================================================================
// TRANSFER SIGNAL
// ============================================================================

// NewTransferPart builds the single data part that signals a transfer
// hand-off to the task handler.
func NewTransferPart(target, taskID, reason, originalMessage string) Part {
	return NewDataPart(map[string]any{
		"type":             "transfer",
		"target":           target,
		"task_id":          taskID,
		"reason":           reason,
		"original_message": originalMessage,
	})
}

// ============================================================================
// SEND PARAMS
// ============================================================================

// SendParams is the request body of message/send.
type SendParams struct {
	Message Message `json:"message"`
}
