package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/weave/pkg/storage"
)

func dummyScope() storage.Scope { return storage.Scope{} }

const validYAML = `
listen_addr: ":9090"
tenant_id: acme
project_id: support

storage:
  driver: memory

providers:
  anthropic:
    type: anthropic
    api_key_env: ANTHROPIC_API_KEY
default_provider: anthropic

graphs:
  - id: g1
    name: support
    prompt: "Be helpful."
    default_agent: frontdesk

agents:
  - id: frontdesk
    graph_id: g1
    name: Front Desk
    prompt: "You triage requests."
    models:
      base:
        model: anthropic/claude-sonnet-4-20250514
    transfer_relations: [refunds]
  - id: refunds
    graph_id: g1
    name: Refunds
    prompt: "You process refunds."
    models:
      base:
        model: anthropic/claude-sonnet-4-20250514
    delegate_relations:
      - kind: internal
        agent_id: frontdesk
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "acme", cfg.Agents[0].TenantID)
	assert.Equal(t, []string{"refunds"}, cfg.Agents[0].TransferRelations)

	mem := cfg.SeedDefinitions()
	ag, err := mem.GetAgentByID(t.Context(), dummyScope(), "frontdesk")
	require.NoError(t, err)
	assert.Equal(t, "Front Desk", ag.Name)
}

func TestLoad_UnknownTransferTarget(t *testing.T) {
	bad := validYAML + `
  - id: lonely
    graph_id: g1
    name: Lonely
    prompt: p
    models:
      base:
        model: m
    transfer_relations: [nobody]
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestLoad_MissingBaseModel(t *testing.T) {
	bad := validYAML + `
  - id: modelless
    graph_id: g1
    name: M
    prompt: p
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no base model")
}

func TestLoad_SqliteRequiresPath(t *testing.T) {
	bad := `
storage:
  driver: sqlite
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a path")
}

func TestLoad_ExternalDelegateRequiresURL(t *testing.T) {
	bad := validYAML + `
  - id: outbound
    graph_id: g1
    name: O
    prompt: p
    models:
      base:
        model: m
    delegate_relations:
      - kind: external
        agent_id: partner
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}
