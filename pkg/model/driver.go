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

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/weave/pkg/tool"
)

// Per-call deadlines. Provider option "maxDuration" (seconds) overrides,
// capped at MaxTimeout.
const (
	DefaultStreamTimeout    = 270 * time.Second
	DefaultGenerateTimeout  = 90 * time.Second
	DefaultObjectTimeout    = 90 * time.Second
	MaxTimeout              = 10 * time.Minute
	tracerName              = "github.com/kadirpekel/weave/pkg/model"
	defaultMaxStepsFallback = 1
)

// Driver runs the generation loop against a Provider registry.
type Driver struct {
	registry *Registry
	tracer   trace.Tracer
}

// NewDriver creates a driver over the given provider registry.
func NewDriver(registry *Registry) *Driver {
	return &Driver{
		registry: registry,
		tracer:   otel.Tracer(tracerName),
	}
}

// timeoutFor computes the call deadline from the default and the optional
// maxDuration provider option.
func timeoutFor(defaultTimeout time.Duration, options map[string]any) time.Duration {
	timeout := defaultTimeout
	if v, ok := options["maxDuration"]; ok {
		switch d := v.(type) {
		case int:
			timeout = time.Duration(d) * time.Second
		case float64:
			timeout = time.Duration(d * float64(time.Second))
		case string:
			if parsed, err := time.ParseDuration(d); err == nil {
				timeout = parsed
			}
		}
	}
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return timeout
}

func (d *Driver) startSpan(ctx context.Context, name string, req *Request) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("gen_ai.request.model", req.Model),
		attribute.String("telemetry.function_id", req.Telemetry.FunctionID),
		attribute.String("agent.id", req.Telemetry.AgentID),
		attribute.String("task.id", req.Telemetry.TaskID),
	))
}

// GenerateText runs the blocking multi-step loop: provider call, tool
// execution, repeat. The loop ends when the model stops calling tools,
// when the stop predicate fires, or at the step cap.
func (d *Driver) GenerateText(ctx context.Context, req *Request) (*Response, error) {
	provider, err := d.registry.ProviderFor(req.Model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutFor(DefaultGenerateTimeout, req.ProviderOptions))
	defer cancel()

	ctx, span := d.startSpan(ctx, "model.generate_text", req)
	defer span.End()

	resp := &Response{}
	messages := append([]Message(nil), req.Messages...)
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxStepsFallback
	}

	for stepIdx := 0; stepIdx < maxSteps; stepIdx++ {
		providerResp, err := provider.Generate(ctx, d.providerRequest(req, messages))
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		step := d.executeStep(ctx, req, providerResp)
		resp.Steps = append(resp.Steps, step)
		resp.Usage.Add(step.Usage)
		resp.Text = step.Text

		messages = appendStep(messages, step)

		if len(step.ToolCalls) == 0 {
			break
		}
		if req.StopWhen != nil && req.StopWhen(resp.Steps) {
			break
		}
	}

	span.SetAttributes(attribute.Int("gen_ai.usage.total_tokens", resp.Usage.TotalTokens))
	return resp, nil
}

// StreamText is GenerateText with incremental delivery: text deltas, tool
// calls and tool results are yielded as they happen, then a finish event
// carries the aggregate response.
func (d *Driver) StreamText(ctx context.Context, req *Request) iter.Seq2[*StreamEvent, error] {
	return func(yield func(*StreamEvent, error) bool) {
		provider, err := d.registry.ProviderFor(req.Model)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, cancel := context.WithTimeout(ctx, timeoutFor(DefaultStreamTimeout, req.ProviderOptions))
		defer cancel()

		ctx, span := d.startSpan(ctx, "model.stream_text", req)
		defer span.End()

		resp := &Response{}
		messages := append([]Message(nil), req.Messages...)
		maxSteps := req.MaxSteps
		if maxSteps <= 0 {
			maxSteps = defaultMaxStepsFallback
		}

		for stepIdx := 0; stepIdx < maxSteps; stepIdx++ {
			var providerResp *ProviderResponse
			aborted := false

			for event, err := range provider.Stream(ctx, d.providerRequest(req, messages)) {
				if err != nil {
					yield(nil, fmt.Errorf("model call failed: %w", err))
					return
				}
				switch event.Type {
				case StreamTextDelta:
					if !yield(event, nil) {
						aborted = true
					}
				case StreamFinish:
					providerResp = event.ProviderResponse
				}
				if aborted {
					return
				}
			}
			if providerResp == nil {
				yield(nil, fmt.Errorf("model stream ended without a finish event"))
				return
			}

			step := Step{Text: providerResp.Text, Usage: providerResp.Usage}
			for _, call := range providerResp.ToolCalls {
				call := call
				if !yield(&StreamEvent{Type: StreamToolCall, ToolCall: &call}, nil) {
					return
				}
				result := tool.Result{ToolCallID: call.ID, Name: call.Name, Error: "no tools available"}
				if req.Toolbox != nil {
					result = req.Toolbox.Execute(ctx, call)
				}
				step.ToolCalls = append(step.ToolCalls, call)
				step.ToolResults = append(step.ToolResults, result)
				if !yield(&StreamEvent{Type: StreamToolResult, ToolResult: &result}, nil) {
					return
				}
			}

			resp.Steps = append(resp.Steps, step)
			resp.Usage.Add(step.Usage)
			resp.Text = step.Text
			messages = appendStep(messages, step)

			if len(step.ToolCalls) == 0 {
				break
			}
			if req.StopWhen != nil && req.StopWhen(resp.Steps) {
				break
			}
		}

		span.SetAttributes(attribute.Int("gen_ai.usage.total_tokens", resp.Usage.TotalTokens))
		yield(&StreamEvent{Type: StreamFinish, Response: resp}, nil)
	}
}

// GenerateObject runs one schema-constrained completion and parses the
// result object.
func (d *Driver) GenerateObject(ctx context.Context, req *Request) (*Response, error) {
	if req.Schema == nil {
		return nil, fmt.Errorf("generate_object requires a schema")
	}
	provider, err := d.registry.ProviderFor(req.Model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutFor(DefaultObjectTimeout, req.ProviderOptions))
	defer cancel()

	ctx, span := d.startSpan(ctx, "model.generate_object", req)
	defer span.End()

	providerResp, err := provider.Generate(ctx, &ProviderRequest{
		Model:      req.Model,
		Messages:   req.Messages,
		Schema:     req.Schema,
		ToolChoice: ToolChoiceNone,
		Options:    req.ProviderOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(providerResp.Text), &object); err != nil {
		return nil, fmt.Errorf("model returned non-conforming object: %w", err)
	}

	resp := &Response{
		Steps:  []Step{{Text: providerResp.Text, Usage: providerResp.Usage}},
		Text:   providerResp.Text,
		Object: object,
		Usage:  providerResp.Usage,
	}
	span.SetAttributes(attribute.Int("gen_ai.usage.total_tokens", resp.Usage.TotalTokens))
	return resp, nil
}

// StreamObject runs one schema-constrained completion, yielding the latest
// parseable partial object after each delta, then a finish event with the
// final object.
func (d *Driver) StreamObject(ctx context.Context, req *Request) iter.Seq2[*StreamEvent, error] {
	return func(yield func(*StreamEvent, error) bool) {
		if req.Schema == nil {
			yield(nil, fmt.Errorf("stream_object requires a schema"))
			return
		}
		provider, err := d.registry.ProviderFor(req.Model)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, cancel := context.WithTimeout(ctx, timeoutFor(DefaultObjectTimeout, req.ProviderOptions))
		defer cancel()

		ctx, span := d.startSpan(ctx, "model.stream_object", req)
		defer span.End()

		var buffer string
		var providerResp *ProviderResponse

		for event, err := range provider.Stream(ctx, &ProviderRequest{
			Model:      req.Model,
			Messages:   req.Messages,
			Schema:     req.Schema,
			ToolChoice: ToolChoiceNone,
			Options:    req.ProviderOptions,
		}) {
			if err != nil {
				yield(nil, fmt.Errorf("model call failed: %w", err))
				return
			}
			switch event.Type {
			case StreamTextDelta:
				buffer += event.TextDelta
				if partial, ok := ParsePartialObject(buffer); ok {
					if !yield(&StreamEvent{Type: StreamObjectDelta, Object: partial}, nil) {
						return
					}
				}
			case StreamFinish:
				providerResp = event.ProviderResponse
			}
		}
		if providerResp == nil {
			yield(nil, fmt.Errorf("model stream ended without a finish event"))
			return
		}

		var object map[string]any
		if err := json.Unmarshal([]byte(providerResp.Text), &object); err != nil {
			yield(nil, fmt.Errorf("model returned non-conforming object: %w", err))
			return
		}

		resp := &Response{
			Steps:  []Step{{Text: providerResp.Text, Usage: providerResp.Usage}},
			Text:   providerResp.Text,
			Object: object,
			Usage:  providerResp.Usage,
		}
		span.SetAttributes(attribute.Int("gen_ai.usage.total_tokens", resp.Usage.TotalTokens))
		yield(&StreamEvent{Type: StreamFinish, Response: resp}, nil)
	}
}

func (d *Driver) providerRequest(req *Request, messages []Message) *ProviderRequest {
	pr := &ProviderRequest{
		Model:      req.Model,
		Messages:   messages,
		ToolChoice: req.ToolChoice,
		Options:    req.ProviderOptions,
	}
	if req.Toolbox != nil {
		pr.Tools = req.Toolbox.Definitions()
	}
	return pr
}

// executeStep runs the tool calls of one provider response in the order the
// model emitted them.
func (d *Driver) executeStep(ctx context.Context, req *Request, providerResp *ProviderResponse) Step {
	step := Step{Text: providerResp.Text, Usage: providerResp.Usage}
	for _, call := range providerResp.ToolCalls {
		step.ToolCalls = append(step.ToolCalls, call)
		if req.Toolbox == nil {
			step.ToolResults = append(step.ToolResults, tool.Result{
				ToolCallID: call.ID,
				Name:       call.Name,
				Error:      "no tools available",
			})
			continue
		}
		step.ToolResults = append(step.ToolResults, req.Toolbox.Execute(ctx, call))
	}
	return step
}

// appendStep folds a completed step back into the transcript.
func appendStep(messages []Message, step Step) []Message {
	messages = append(messages, AssistantMessage(step.Text, step.ToolCalls...))
	for _, result := range step.ToolResults {
		messages = append(messages, ToolMessage(result))
	}
	return messages
}
