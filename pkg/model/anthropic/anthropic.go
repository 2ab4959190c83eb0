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

// Package anthropic implements the model.Provider interface on the
// Anthropic Messages API.
//
// Structured output is emulated with a forced tool call: the API has no
// native schema mode, so the schema becomes the input schema of a single
// tool and the tool input is returned as the object text.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kadirpekel/weave/pkg/model"
	"github.com/kadirpekel/weave/pkg/tool"
)

const (
	// structuredOutputTool is the tool name used to emulate schema mode.
	structuredOutputTool = "structured_output"

	defaultMaxTokens = 4096
)

// Provider is an Anthropic-backed model provider.
type Provider struct {
	client    anthropic.Client
	maxTokens int64
}

// Option configures the provider.
type Option func(*options)

type options struct {
	apiKey    string
	baseURL   string
	maxTokens int64
}

// WithAPIKey sets the API key. Defaults to ANTHROPIC_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithMaxTokens sets the response token ceiling.
func WithMaxTokens(n int64) Option {
	return func(o *options) { o.maxTokens = n }
}

// New creates an Anthropic provider.
func New(opts ...Option) *Provider {
	o := &options{
		apiKey:    os.Getenv("ANTHROPIC_API_KEY"),
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(o)
	}

	var reqOpts []option.RequestOption
	if o.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}

	return &Provider{
		client:    anthropic.NewClient(reqOpts...),
		maxTokens: o.maxTokens,
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Generate(ctx context.Context, req *model.ProviderRequest) (*model.ProviderResponse, error) {
	params, structured, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic message failed: %w", err)
	}
	return parseMessage(message, structured)
}

func (p *Provider) Stream(ctx context.Context, req *model.ProviderRequest) iter.Seq2[*model.StreamEvent, error] {
	return func(yield func(*model.StreamEvent, error) bool) {
		params, structured, err := p.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				yield(nil, fmt.Errorf("anthropic stream accumulation failed: %w", err))
				return
			}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !yield(&model.StreamEvent{Type: model.StreamTextDelta, TextDelta: delta.Text}, nil) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("anthropic stream failed: %w", err))
			return
		}

		resp, err := parseMessage(&message, structured)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&model.StreamEvent{Type: model.StreamFinish, ProviderResponse: resp}, nil)
	}
}

// buildParams converts a provider request into Messages API params. The
// bool return marks structured-output emulation.
func (p *Provider) buildParams(req *model.ProviderRequest) (anthropic.MessageNewParams, bool, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.BareModelID(req.Model)),
		MaxTokens: p.maxTokens,
	}
	if v, ok := req.Options["maxTokens"].(int); ok && v > 0 {
		params.MaxTokens = int64(v)
	}

	var system string
	var blocks []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case model.RoleUser:
			blocks = append(blocks, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case model.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(call.ID, call.Args, call.Name))
			}
			if len(content) == 0 {
				continue
			}
			blocks = append(blocks, anthropic.NewAssistantMessage(content...))
		case model.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			content, isError := renderToolResult(msg.ToolResult)
			blocks = append(blocks, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolResult.ToolCallID, content, isError)))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Messages = blocks

	structured := false
	switch {
	case req.Schema != nil:
		structured = true
		params.Tools = []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        structuredOutputTool,
				Description: anthropic.String("Return the final structured answer."),
				InputSchema: schemaToInputSchema(req.Schema),
			},
		}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: structuredOutputTool},
		}
	case len(req.Tools) > 0:
		for _, def := range req.Tools {
			def := def
			params.Tools = append(params.Tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        def.Name,
					Description: anthropic.String(def.Description),
					InputSchema: schemaToInputSchema(def.Parameters),
				},
			})
		}
		switch req.ToolChoice {
		case model.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case model.ToolChoiceNone:
			params.Tools = nil
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	return params, structured, nil
}

func schemaToInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = props
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	} else if required, ok := schema["required"].([]string); ok {
		out.Required = required
	}
	return out
}

func renderToolResult(result *tool.Result) (string, bool) {
	if result.Error != "" {
		return result.Error, true
	}
	raw, err := json.Marshal(result.Result)
	if err != nil {
		return fmt.Sprintf("%v", result.Result), false
	}
	return string(raw), false
}

func parseMessage(message *anthropic.Message, structured bool) (*model.ProviderResponse, error) {
	resp := &model.ProviderResponse{
		Usage: model.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += b.Text
		case anthropic.ToolUseBlock:
			if structured && b.Name == structuredOutputTool {
				resp.Text = string(b.Input)
				continue
			}
			var args map[string]any
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic tool input is not an object: %w", err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, tool.Call{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	return resp, nil
}

var _ model.Provider = (*Provider)(nil)
