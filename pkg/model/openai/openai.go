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

// Package openai implements the model.Provider interface on the OpenAI
// chat completions API. Any OpenAI-compatible endpoint works via the base
// URL option.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kadirpekel/weave/pkg/model"
	"github.com/kadirpekel/weave/pkg/tool"
)

// Provider is an OpenAI-compatible model provider.
type Provider struct {
	client *openai.Client
	name   string
}

// Option configures the provider.
type Option func(*options)

type options struct {
	apiKey  string
	baseURL string
	name    string
}

// WithAPIKey sets the API key. Defaults to OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithName overrides the provider name (for compatible endpoints that are
// registered under their own prefix).
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// New creates an OpenAI provider.
func New(opts ...Option) *Provider {
	o := &options{
		apiKey: os.Getenv("OPENAI_API_KEY"),
		name:   "openai",
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg := openai.DefaultConfig(o.apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return &Provider{client: openai.NewClientWithConfig(cfg), name: o.name}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req *model.ProviderRequest) (*model.ProviderResponse, error) {
	chatReq, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	out := &model.ProviderResponse{
		Text: resp.Choices[0].Message.Content,
		Usage: model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		call, err := parseToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

func (p *Provider) Stream(ctx context.Context, req *model.ProviderRequest) iter.Seq2[*model.StreamEvent, error] {
	return func(yield func(*model.StreamEvent, error) bool) {
		chatReq, err := buildRequest(req)
		if err != nil {
			yield(nil, err)
			return
		}
		chatReq.Stream = true
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			yield(nil, fmt.Errorf("openai stream failed: %w", err))
			return
		}
		defer stream.Close()

		var text string
		var usage model.Usage
		pending := map[int]*pendingToolCall{}

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("openai stream failed: %w", err))
				return
			}

			if chunk.Usage != nil {
				usage = model.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				text += delta.Content
				if !yield(&model.StreamEvent{Type: model.StreamTextDelta, TextDelta: delta.Content}, nil) {
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				p, ok := pending[idx]
				if !ok {
					p = &pendingToolCall{}
					pending[idx] = p
				}
				if tc.ID != "" {
					p.id = tc.ID
				}
				if tc.Function.Name != "" {
					p.name = tc.Function.Name
				}
				p.args += tc.Function.Arguments
			}
		}

		resp := &model.ProviderResponse{Text: text, Usage: usage}
		indices := make([]int, 0, len(pending))
		for idx := range pending {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			pc := pending[idx]
			call, err := parseToolCall(pc.id, pc.name, pc.args)
			if err != nil {
				yield(nil, err)
				return
			}
			resp.ToolCalls = append(resp.ToolCalls, call)
		}
		yield(&model.StreamEvent{Type: model.StreamFinish, ProviderResponse: resp}, nil)
	}
}

type pendingToolCall struct {
	id   string
	name string
	args string
}

func buildRequest(req *model.ProviderRequest) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: model.BareModelID(req.Model),
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleSystem:
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleSystem, Content: msg.Content,
			})
		case model.RoleUser:
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleUser, Content: msg.Content,
			})
		case model.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant, Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Args)
				if err != nil {
					return chatReq, fmt.Errorf("failed to marshal tool args: %w", err)
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			chatReq.Messages = append(chatReq.Messages, m)
		case model.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			content := msg.ToolResult.Error
			if content == "" {
				raw, err := json.Marshal(msg.ToolResult.Result)
				if err != nil {
					return chatReq, fmt.Errorf("failed to marshal tool result: %w", err)
				}
				content = string(raw)
			}
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: msg.ToolResult.ToolCallID,
				Name:       msg.ToolResult.Name,
			})
		}
	}

	for _, def := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	switch req.ToolChoice {
	case model.ToolChoiceRequired:
		chatReq.ToolChoice = "required"
	case model.ToolChoiceNone:
		chatReq.Tools = nil
	default:
		if len(chatReq.Tools) > 0 {
			chatReq.ToolChoice = "auto"
		}
	}

	if req.Schema != nil {
		raw, err := json.Marshal(req.Schema)
		if err != nil {
			return chatReq, fmt.Errorf("failed to marshal response schema: %w", err)
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: json.RawMessage(raw),
				Strict: true,
			},
		}
	}
	return chatReq, nil
}

func parseToolCall(id, name, rawArgs string) (tool.Call, error) {
	var args map[string]any
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return tool.Call{}, fmt.Errorf("tool call %s has malformed arguments: %w", name, err)
		}
	}
	return tool.Call{ID: id, Name: name, Args: args}, nil
}
