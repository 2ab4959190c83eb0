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

package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/weave/pkg/observability"
	"github.com/kadirpekel/weave/pkg/session"
)

// Annotator enriches a remote tool result before it is recorded into the
// ledger. The registry uses it to attach structure hints when artifact
// components exist.
type Annotator func(result any) any

// Registry is the per-turn binding of every tool the model may call. All
// calls go through one wrapper: telemetry is recorded for every tool, while
// the tool_execution event and ledger recording apply to remote tool-server
// (MCP) tools only.
type Registry struct {
	base Context

	ledger   *session.Ledger
	eventLog *session.EventLog
	recorder observability.Recorder

	// annotate is applied to remote-tool results before ledger recording.
	// Nil means record as-is.
	annotate Annotator

	order []string
	tools map[string]Tool
}

// RegistryConfig configures a per-turn registry.
type RegistryConfig struct {
	Base     Context
	Ledger   *session.Ledger
	EventLog *session.EventLog
	Recorder observability.Recorder
	Annotate Annotator
}

// NewRegistry creates an empty per-turn registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observability.NoopRecorder{}
	}
	return &Registry{
		base:     cfg.Base,
		ledger:   cfg.Ledger,
		eventLog: cfg.EventLog,
		recorder: recorder,
		annotate: cfg.Annotate,
		tools:    make(map[string]Tool),
	}
}

// Register binds a tool under its sanitized name. Duplicate names are
// rejected so two tool servers cannot shadow each other silently.
func (r *Registry) Register(t Tool) error {
	name := SanitizeName(t.Name())
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Definitions returns the manifest in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, ToDefinition(r.tools[name]))
	}
	return defs
}

// Execute runs one tool call through the uniform wrapper. Failures come
// back as results, never as panics or lost errors: the model sees them and
// may retry.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	name := SanitizeName(call.Name)
	t, ok := r.tools[name]
	if !ok {
		return Result{
			ToolCallID: call.ID,
			Name:       call.Name,
			Error:      fmt.Sprintf("unknown tool %q", call.Name),
		}
	}

	tc := r.base
	tc.ToolCallID = call.ID
	if tc.ToolCallID == "" {
		tc.ToolCallID = uuid.NewString()
	}

	start := time.Now()
	out, err := t.Call(ctx, tc, call.Args)
	duration := time.Since(start)

	r.recorder.RecordToolExecution(ctx, name, duration, err)

	internal := t.Kind() != KindMCP
	if !internal {
		// Internal tools emit their own typed events; emitting
		// tool_execution for them would double-account.
		payload := map[string]any{
			"toolName":   name,
			"toolId":     tc.ToolCallID,
			"args":       call.Args,
			"durationMs": duration.Milliseconds(),
		}
		if err != nil {
			payload["error"] = err.Error()
		} else {
			payload["result"] = out
		}
		r.eventLog.Append(session.EventToolExecution, tc.AgentID, payload)
	}

	if err != nil {
		slog.Warn("Tool execution failed",
			"tool", name,
			"tool_call_id", tc.ToolCallID,
			"agent_id", tc.AgentID,
			"error", err)
		return Result{ToolCallID: tc.ToolCallID, Name: name, Error: err.Error()}
	}

	if t.Kind() == KindMCP {
		// The annotated result is both recorded and fed back to the model,
		// so structure hints reach the phase-2 transcript verbatim.
		if r.annotate != nil {
			out = r.annotate(out)
		}
		r.ledger.Record(tc.SessionID, session.ToolResultRecord{
			ToolCallID: tc.ToolCallID,
			ToolName:   name,
			Args:       call.Args,
			Result:     out,
		})
	}

	return Result{ToolCallID: tc.ToolCallID, Name: name, Result: out}
}
