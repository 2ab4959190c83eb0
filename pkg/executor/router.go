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

	"github.com/google/uuid"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/credentials"
	"github.com/kadirpekel/weave/pkg/storage"
)

// localHandler is the in-process dispatch target of internal delegations.
type localHandler interface {
	Handle(ctx context.Context, agentID string, task *a2a.Task) (*a2a.TaskResult, error)
}

// Router dispatches delegation messages: internal refs loop back into the
// in-process task handler, external refs go over the A2A HTTP client with
// resolved credential headers.
//
// In a multi-process deployment each process has its own ledger; external
// delegation therefore never reaches into a remote ledger — the delegate
// tool records the remote response at this boundary instead.
type Router struct {
	local       localHandler
	client      *a2a.Client
	credentials credentials.Resolver
	store       storage.DefinitionStore
	scope       storage.Scope
}

// NewRouter creates a router. The local handler is attached by
// NewTaskHandler.
func NewRouter(client *a2a.Client, creds credentials.Resolver, store storage.DefinitionStore, scope storage.Scope) *Router {
	return &Router{
		client:      client,
		credentials: creds,
		store:       store,
		scope:       scope,
	}
}

// Send dispatches one delegation message and returns the peer's result.
func (r *Router) Send(ctx context.Context, ref agent.DelegateRef, msg a2a.Message) (*a2a.TaskResult, error) {
	switch ref.Kind {
	case agent.DelegateExternal:
		return r.sendExternal(ctx, ref, msg)
	default:
		return r.sendInternal(ctx, ref, msg)
	}
}

func (r *Router) sendInternal(ctx context.Context, ref agent.DelegateRef, msg a2a.Message) (*a2a.TaskResult, error) {
	if r.local == nil {
		return nil, fmt.Errorf("no local handler configured for internal delegation")
	}
	task := msg.ToTask("task_" + msg.ContextID + "_" + uuid.NewString())
	return r.local.Handle(ctx, ref.AgentID, task)
}

func (r *Router) sendExternal(ctx context.Context, ref agent.DelegateRef, msg a2a.Message) (*a2a.TaskResult, error) {
	baseURL := ref.BaseURL
	if baseURL == "" && r.store != nil {
		ext, err := r.store.GetExternalAgent(ctx, r.scope, ref.AgentID)
		if err != nil {
			return nil, fmt.Errorf("external agent %s is not registered: %w", ref.AgentID, err)
		}
		baseURL = ext.BaseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("external agent %s has no base URL", ref.AgentID)
	}

	var headers map[string]string
	if ref.CredentialRef != "" && r.credentials != nil && r.store != nil {
		credRef, err := r.store.GetCredentialReference(ctx, r.scope, ref.CredentialRef)
		if err != nil {
			slog.Warn("Credential reference not found; sending without credentials",
				"credential_ref", ref.CredentialRef,
				"error", err)
		} else {
			headers, err = r.credentials.Headers(ctx, credRef)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve credentials for %s: %w", ref.AgentID, err)
			}
		}
	}

	return r.client.Send(ctx, baseURL, msg, headers)
}
