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

// Package relation implements the tools that connect an agent to its graph
// peers: transfer_to_<agent> (terminal hand-off) and delegate_to_<agent>
// (sub-RPC whose result returns to the caller).
package relation

import (
	"context"

	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/tool"
)

// TransferPrefix is the tool-name prefix the executor's stop predicate
// watches for.
const TransferPrefix = "transfer_to_"

// Transfer hands the conversation off to a peer agent. The executor treats
// its return as a terminal signal for the turn.
type Transfer struct {
	// TargetID is the in-graph agent id to hand off to.
	TargetID string

	// TargetName and TargetDescription describe the peer to the model.
	TargetName        string
	TargetDescription string

	CallerID string
	EventLog *session.EventLog
}

func (t *Transfer) Name() string {
	return tool.SanitizeName(TransferPrefix + t.TargetID)
}

func (t *Transfer) Description() string {
	desc := "Transfer this conversation to agent \"" + t.TargetName + "\"."
	if t.TargetDescription != "" {
		desc += " " + t.TargetDescription
	}
	desc += " The transfer ends your turn; the target agent takes over."
	return desc
}

func (t *Transfer) Kind() tool.Kind { return tool.KindTransfer }

func (t *Transfer) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the conversation is being transferred.",
			},
		},
		"required": []string{"reason"},
	}
}

func (t *Transfer) Call(_ context.Context, tc tool.Context, args map[string]any) (any, error) {
	reason, _ := args["reason"].(string)

	t.EventLog.Append(session.EventTransfer, tc.AgentID, map[string]any{
		"target":      t.TargetID,
		"fromAgentId": t.CallerID,
		"reason":      reason,
	})

	return map[string]any{
		"type":        "transfer",
		"target":      t.TargetID,
		"fromAgentId": t.CallerID,
		"reason":      reason,
	}, nil
}

var _ tool.Tool = (*Transfer)(nil)
