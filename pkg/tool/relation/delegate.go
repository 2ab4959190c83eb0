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

package relation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/tool"
)

// DelegatePrefix names delegate tools.
const DelegatePrefix = "delegate_to_"

// SendFunc dispatches a delegation message to its target and returns the
// peer's task result. The executor wires internal refs to the in-process
// task handler and external refs to the A2A HTTP client.
type SendFunc func(ctx context.Context, ref agent.DelegateRef, msg a2a.Message) (*a2a.TaskResult, error)

// Delegate sends a sub-request to a peer agent and returns its response to
// the caller. Unlike a transfer, the caller's turn continues afterwards.
type Delegate struct {
	Ref agent.DelegateRef

	TargetName        string
	TargetDescription string

	Caller   *agent.Agent
	ThreadID string

	Ledger   *session.Ledger
	EventLog *session.EventLog
	Store    storage.RuntimeStore
	Scope    storage.Scope
	Send     SendFunc
}

func (d *Delegate) Name() string {
	return tool.SanitizeName(DelegatePrefix + d.Ref.AgentID)
}

func (d *Delegate) Description() string {
	desc := "Delegate a sub-task to agent \"" + d.TargetName + "\" and receive its answer."
	if d.TargetDescription != "" {
		desc += " " + d.TargetDescription
	}
	return desc
}

func (d *Delegate) Kind() tool.Kind { return tool.KindDelegation }

func (d *Delegate) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The complete, self-contained request for the delegate agent.",
			},
		},
		"required": []string{"message"},
	}
}

func (d *Delegate) Call(ctx context.Context, tc tool.Context, args map[string]any) (any, error) {
	text, _ := args["message"].(string)
	if text == "" {
		return nil, fmt.Errorf("message is required")
	}

	delegationID := "del_" + gonanoid.Must()
	external := d.Ref.Kind == agent.DelegateExternal

	metadata := map[string]any{
		a2a.MetaConversationID:  tc.ContextID,
		a2a.MetaThreadID:        d.ThreadID,
		a2a.MetaStreamRequestID: tc.SessionID,
		a2a.MetaIsDelegation:    true,
		a2a.MetaDelegationID:    delegationID,
	}
	metadata[a2a.MetaFromAgentID] = d.Caller.ID

	msg := a2a.Message{
		Role:      a2a.MessageRoleAgent,
		Parts:     []a2a.Part{a2a.NewTextPart(text)},
		MessageID: uuid.NewString(),
		ContextID: tc.ContextID,
		Metadata:  metadata,
	}

	visibility := storage.VisibilityInternal
	request := &storage.Message{
		TenantID:       d.Scope.TenantID,
		ProjectID:      d.Scope.ProjectID,
		ConversationID: tc.ContextID,
		TaskID:         tc.TaskID,
		Role:           storage.MessageRoleAgent,
		Content:        storage.MessageContent{Text: text},
		MessageType:    storage.MessageTypeA2ARequest,
		DelegationID:   delegationID,
		FromAgentID:    d.Caller.ID,
	}
	if external {
		visibility = storage.VisibilityExternal
		request.ToExternalAgentID = d.Ref.AgentID
	} else {
		request.ToAgentID = d.Ref.AgentID
	}
	request.Visibility = visibility

	// The request message is durably persisted before the network send so
	// causal order survives a crash mid-delegation.
	if err := d.Store.CreateMessage(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to persist a2a-request: %w", err)
	}

	d.EventLog.Append(session.EventDelegationSent, d.Caller.ID, map[string]any{
		"delegationId": delegationID,
		"target":       d.Ref.AgentID,
		"external":     external,
		"message":      text,
	})

	start := time.Now()
	result, err := d.Send(ctx, d.Ref, msg)
	if err != nil {
		return nil, fmt.Errorf("delegation to %s failed: %w", d.Ref.AgentID, err)
	}

	responseText := result.Text()
	response := &storage.Message{
		TenantID:       d.Scope.TenantID,
		ProjectID:      d.Scope.ProjectID,
		ConversationID: tc.ContextID,
		TaskID:         tc.TaskID,
		Role:           storage.MessageRoleAgent,
		Content:        storage.MessageContent{Text: responseText},
		Visibility:     visibility,
		DelegationID:   delegationID,
		ToAgentID:      d.Caller.ID,
	}
	if external {
		response.FromExternalAgentID = d.Ref.AgentID
	} else {
		response.FromAgentID = d.Ref.AgentID
	}
	if err := d.Store.SaveA2AMessageResponse(ctx, response); err != nil {
		return nil, fmt.Errorf("failed to persist a2a-response: %w", err)
	}

	d.EventLog.Append(session.EventDelegationReturned, d.Caller.ID, map[string]any{
		"delegationId": delegationID,
		"target":       d.Ref.AgentID,
		"durationMs":   time.Since(start).Milliseconds(),
	})

	out := map[string]any{
		"response":     responseText,
		"delegationId": delegationID,
		"fromAgent":    d.Ref.AgentID,
	}

	// Record the delegate's answer under this tool call so the caller can
	// cite it later via save_tool_result. For external delegation this is
	// the only place the remote result exists in-process.
	d.Ledger.Record(tc.SessionID, session.ToolResultRecord{
		ToolCallID: tc.ToolCallID,
		ToolName:   d.Name(),
		Args:       args,
		Result:     out,
	})

	return out, nil
}

var _ tool.Tool = (*Delegate)(nil)
