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

// Package mcptool connects remote tool servers over MCP and exposes one
// sub-tool per advertised capability.
//
// Connections are lazy: the server is contacted on the first Tools call of
// a turn, with credential headers resolved beforehand by the caller.
package mcptool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/weave/pkg/tool"
)

// Source is one MCP tool server with lazy connection.
type Source struct {
	name    string
	url     string
	headers map[string]string

	mu        sync.Mutex
	client    *client.Client
	tools     []tool.Tool
	connected bool
}

// NewSource creates a source for a tool server. headers carry resolved
// credentials.
func NewSource(name, url string, headers map[string]string) *Source {
	return &Source{name: name, url: url, headers: headers}
}

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Tools connects (once) and returns one tool per advertised capability.
func (s *Source) Tools(ctx context.Context) ([]tool.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return s.tools, nil
	}

	c, err := client.NewStreamableHttpClient(s.url,
		transport.WithHTTPHeaders(s.headers))
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for %s: %w", s.name, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client for %s: %w", s.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "weave", Version: "1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP session with %s: %w", s.name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to list tools from %s: %w", s.name, err)
	}

	s.client = c
	s.connected = true
	s.tools = make([]tool.Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		s.tools = append(s.tools, &serverTool{source: s, info: t})
	}
	slog.Debug("Connected MCP tool server",
		"source", s.name,
		"url", s.url,
		"tools", len(s.tools))
	return s.tools, nil
}

// Close tears down the connection.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.connected = false
	s.tools = nil
	return err
}

func (s *Source) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("MCP source %s is not connected", s.name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.CallTool(ctx, req)
}

// serverTool is one capability of a connected tool server.
type serverTool struct {
	source *Source
	info   mcp.Tool
}

func (t *serverTool) Name() string { return tool.SanitizeName(t.info.Name) }

func (t *serverTool) Description() string { return t.info.Description }

func (t *serverTool) Kind() tool.Kind { return tool.KindMCP }

func (t *serverTool) Schema() map[string]any {
	schema := map[string]any{"type": "object"}
	if t.info.InputSchema.Properties != nil {
		schema["properties"] = t.info.InputSchema.Properties
	}
	if len(t.info.InputSchema.Required) > 0 {
		schema["required"] = t.info.InputSchema.Required
	}
	return schema
}

func (t *serverTool) Call(ctx context.Context, _ tool.Context, args map[string]any) (any, error) {
	result, err := t.source.call(ctx, t.info.Name, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", t.info.Name, err)
	}

	content := make([]any, 0, len(result.Content))
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			content = append(content, map[string]any{"type": "text", "text": v.Text})
		case mcp.EmbeddedResource:
			content = append(content, map[string]any{"type": "resource", "resource": v.Resource})
		default:
			content = append(content, v)
		}
	}

	if result.IsError {
		return nil, fmt.Errorf("tool %s returned an error: %v", t.info.Name, content)
	}
	return map[string]any{"content": content}, nil
}

var _ tool.Tool = (*serverTool)(nil)
