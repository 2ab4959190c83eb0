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

// Package model provides a uniform text/object generation interface over
// external LLM providers.
//
// The Driver owns the multi-step loop: it calls the provider, hands tool
// calls to the turn's toolbox, folds results back into the transcript and
// stops on a stop predicate, on a step cap, or when the model produces no
// tool calls. Per-call timeouts are enforced here, not in providers.
package model

import (
	"context"
	"iter"

	"github.com/kadirpekel/weave/pkg/tool"
)

// Role identifies a message author within a model request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a model transcript.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant messages that request tool use.
	ToolCalls []tool.Call

	// ToolResult is set on tool messages.
	ToolResult *tool.Result
}

// SystemMessage builds a system message.
func SystemMessage(text string) Message { return Message{Role: RoleSystem, Content: text} }

// UserMessage builds a user message.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantMessage builds an assistant message.
func AssistantMessage(text string, calls ...tool.Call) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolMessage builds a tool-result message.
func ToolMessage(result tool.Result) Message {
	return Message{Role: RoleTool, ToolResult: &result}
}

// ToolChoice is the tool-use policy of one generation phase.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model mix natural text and tool calls.
	ToolChoiceAuto ToolChoice = "auto"

	// ToolChoiceRequired forces the model to call tools on every step.
	ToolChoiceRequired ToolChoice = "required"

	// ToolChoiceNone disables tools entirely.
	ToolChoiceNone ToolChoice = "none"
)

// Step is one provider round-trip plus the tool results it triggered.
type Step struct {
	Text        string
	ToolCalls   []tool.Call
	ToolResults []tool.Result
	Usage       Usage
}

// HasToolCall reports whether the step requested the named tool.
func (s *Step) HasToolCall(name string) bool {
	for _, c := range s.ToolCalls {
		if c.Name == name {
			return true
		}
	}
	return false
}

// HasToolCallPrefix reports whether any requested tool name has the prefix.
func (s *Step) HasToolCallPrefix(prefix string) bool {
	for _, c := range s.ToolCalls {
		if len(c.Name) >= len(prefix) && c.Name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// StopPredicate decides, after each completed step, whether the loop should
// stop before asking the model to continue.
type StopPredicate func(steps []Step) bool

// Toolbox executes tool calls on behalf of the driver. Implemented by the
// per-turn tool registry.
type Toolbox interface {
	Definitions() []tool.Definition
	Execute(ctx context.Context, call tool.Call) tool.Result
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Request is one generation request to the driver.
type Request struct {
	Model      string
	Messages   []Message
	Toolbox    Toolbox
	ToolChoice ToolChoice

	// StopWhen terminates the loop early. Optional.
	StopWhen StopPredicate

	// MaxSteps caps provider round-trips. Zero means one step.
	MaxSteps int

	// Schema requests structured output (generate/stream object).
	Schema map[string]any

	// ProviderOptions are passed through to the provider. The key
	// "maxDuration" (seconds) overrides the driver timeout, capped at
	// MaxTimeout.
	ProviderOptions map[string]any

	// Telemetry labels spans and metrics for this request.
	Telemetry Telemetry
}

// Telemetry labels a model call for tracing.
type Telemetry struct {
	FunctionID string
	AgentID    string
	TaskID     string
}

// Response is the aggregate outcome of a driver call.
type Response struct {
	Steps []Step
	Text  string

	// Object is set by GenerateObject/StreamObject.
	Object map[string]any

	Usage Usage
}

// LastStep returns the final step, or nil when no step ran.
func (r *Response) LastStep() *Step {
	if len(r.Steps) == 0 {
		return nil
	}
	return &r.Steps[len(r.Steps)-1]
}

// StreamEventType discriminates stream events.
type StreamEventType string

const (
	StreamTextDelta   StreamEventType = "text-delta"
	StreamToolCall    StreamEventType = "tool-call"
	StreamToolResult  StreamEventType = "tool-result"
	StreamObjectDelta StreamEventType = "object-delta"
	StreamFinish      StreamEventType = "finish"
)

// StreamEvent is one incremental output of a streaming call. The Finish
// event carries the aggregate Response.
type StreamEvent struct {
	Type       StreamEventType
	TextDelta  string
	ToolCall   *tool.Call
	ToolResult *tool.Result

	// Object is the latest partial object (object streams).
	Object map[string]any

	// Response is set on finish events yielded by the Driver.
	Response *Response

	// ProviderResponse is set on finish events yielded by a Provider.
	ProviderResponse *ProviderResponse
}

// ProviderRequest is one raw provider call prepared by the driver.
type ProviderRequest struct {
	Model      string
	Messages   []Message
	Tools      []tool.Definition
	ToolChoice ToolChoice
	Schema     map[string]any
	Options    map[string]any
}

// ProviderResponse is one raw provider completion.
type ProviderResponse struct {
	Text      string
	ToolCalls []tool.Call
	Usage     Usage
}

// Provider is a concrete LLM backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string

	// Generate performs one blocking completion.
	Generate(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error)

	// Stream performs one completion, yielding text deltas as they
	// arrive, then a finish event carrying the full ProviderResponse
	// (tool calls included).
	Stream(ctx context.Context, req *ProviderRequest) iter.Seq2[*StreamEvent, error]
}
