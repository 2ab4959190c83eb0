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

// Package config loads and validates the YAML runtime configuration:
// providers, graphs, agents, credential stores and server settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/storage"
)

// Config is the root configuration document.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	TenantID   string `yaml:"tenant_id"`
	ProjectID  string `yaml:"project_id"`

	Storage   StorageConfig             `yaml:"storage"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	// DefaultProvider resolves bare model ids without a provider prefix.
	DefaultProvider string `yaml:"default_provider"`

	Graphs []GraphConfig  `yaml:"graphs"`
	Agents []*agent.Agent `yaml:"agents"`

	CredentialStores []CredentialStoreConfig `yaml:"credential_stores"`

	// CredentialReferences map tool servers and external agents to header
	// synthesis rules.
	CredentialReferences []CredentialReferenceConfig `yaml:"credential_references"`

	// Context holds static template variables available to every graph.
	Context map[string]any `yaml:"context"`
}

// StorageConfig selects the runtime store backend.
type StorageConfig struct {
	// Driver is "memory" (default) or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`
}

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	// Type is "anthropic" or "openai" (any OpenAI-compatible endpoint).
	Type string `yaml:"type"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

// GraphConfig declares one agent graph.
type GraphConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Prompt         string `yaml:"prompt"`
	DefaultAgentID string `yaml:"default_agent"`
}

// CredentialStoreConfig declares one named credential store.
type CredentialStoreConfig struct {
	Name string `yaml:"name"`
	// Type is "static" or "env".
	Type   string            `yaml:"type"`
	Values map[string]string `yaml:"values"`
}

// CredentialReferenceConfig declares one credential reference: which store
// to read and how header names map to store keys. Inline headers are
// copied as-is.
type CredentialReferenceConfig struct {
	ID              string            `yaml:"id"`
	Store           string            `yaml:"store"`
	RetrievalParams map[string]string `yaml:"retrieval_params"`
	Headers         map[string]string `yaml:"headers"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.TenantID == "" {
		c.TenantID = "default"
	}
	if c.ProjectID == "" {
		c.ProjectID = "default"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	for _, ag := range c.Agents {
		ag.TenantID = c.TenantID
		ag.ProjectID = c.ProjectID
	}
}

// Validate checks referential integrity: every transfer and internal
// delegate relation must name an agent within the same graph, and every
// agent needs a base model.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage: sqlite driver requires a path")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}

	graphs := make(map[string]bool, len(c.Graphs))
	for _, g := range c.Graphs {
		if g.ID == "" {
			return fmt.Errorf("graph with empty id")
		}
		if graphs[g.ID] {
			return fmt.Errorf("duplicate graph id %q", g.ID)
		}
		graphs[g.ID] = true
	}

	byGraph := make(map[string]map[string]bool)
	for _, ag := range c.Agents {
		if ag.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if !graphs[ag.GraphID] {
			return fmt.Errorf("agent %q references unknown graph %q", ag.ID, ag.GraphID)
		}
		if byGraph[ag.GraphID] == nil {
			byGraph[ag.GraphID] = make(map[string]bool)
		}
		if byGraph[ag.GraphID][ag.ID] {
			return fmt.Errorf("duplicate agent id %q in graph %q", ag.ID, ag.GraphID)
		}
		byGraph[ag.GraphID][ag.ID] = true

		if _, err := ag.ModelFor(agent.ModelRoleBase); err != nil {
			return fmt.Errorf("agent %q: %w", ag.ID, err)
		}
	}

	for _, ag := range c.Agents {
		peers := byGraph[ag.GraphID]
		for _, target := range ag.TransferRelations {
			if !peers[target] {
				return fmt.Errorf("agent %q transfers to unknown agent %q", ag.ID, target)
			}
		}
		for _, ref := range ag.DelegateRelations {
			switch ref.Kind {
			case agent.DelegateInternal, "":
				if !peers[ref.AgentID] {
					return fmt.Errorf("agent %q delegates to unknown agent %q", ag.ID, ref.AgentID)
				}
			case agent.DelegateExternal:
				if ref.BaseURL == "" {
					return fmt.Errorf("agent %q: external delegate %q needs a base_url", ag.ID, ref.AgentID)
				}
			default:
				return fmt.Errorf("agent %q: unknown delegate kind %q", ag.ID, ref.Kind)
			}
		}
	}

	for name, p := range c.Providers {
		switch p.Type {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
	}
	return nil
}

// SeedDefinitions loads the configured graphs and agents into an in-memory
// definition store.
func (c *Config) SeedDefinitions() *storage.Memory {
	mem := storage.NewMemory()
	for _, g := range c.Graphs {
		mem.PutGraph(&agent.Graph{
			ID:             g.ID,
			TenantID:       c.TenantID,
			ProjectID:      c.ProjectID,
			Name:           g.Name,
			Prompt:         g.Prompt,
			DefaultAgentID: g.DefaultAgentID,
		})
	}
	for _, ag := range c.Agents {
		mem.PutAgent(ag)
	}
	for _, ref := range c.CredentialReferences {
		mem.PutCredentialReference(&storage.CredentialReference{
			ID:                ref.ID,
			CredentialStoreID: ref.Store,
			RetrievalParams:   ref.RetrievalParams,
			Headers:           ref.Headers,
		})
	}
	return mem
}
