package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/mcpbridge/internal/mcpclient"
)

func TestParseProviders_JSONKeepsOrder(t *testing.T) {
	data := []byte(`{
	"mcpServers": {
		"weather": {
			"command": "uv",
			"args": ["--directory", "./mock-weather-mcp-server", "run", "main.py"],
			"env": {"MCP_LOG_LEVEL": "ERROR"}
		},
		"filesystem": {
			"command": "npx",
			"args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
		},
		"search": {"url": "http://localhost:9000/mcp"},
		"legacy": {"url": "http://localhost:9001/sse"},
		"off": {"command": "nothing", "disabled": true}
	}
}`)

	cfgs, err := ParseProviders(data)
	require.NoError(t, err)
	require.Len(t, cfgs, 4)

	assert.Equal(t, mcpclient.ProviderConfig{
		Name:    "weather",
		Command: "uv",
		Args:    []string{"--directory", "./mock-weather-mcp-server", "run", "main.py"},
		Env:     map[string]string{"MCP_LOG_LEVEL": "ERROR"},
	}, cfgs[0])
	assert.Equal(t, "filesystem", cfgs[1].Name)
	assert.Equal(t, mcpclient.TransportHTTP, cfgs[2].Kind())
	assert.Equal(t, mcpclient.TransportSSE, cfgs[3].Kind())
}

func TestParseProviders_YAML(t *testing.T) {
	data := []byte(`
mcpServers:
  zeta:
    command: zeta-server
  alpha:
    type: streamable-http
    url: https://tools.example.com/mcp
`)
	cfgs, err := ParseProviders(data)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "zeta", cfgs[0].Name)
	assert.Equal(t, "alpha", cfgs[1].Name)
	assert.Equal(t, mcpclient.TransportHTTP, cfgs[1].Transport)
}

func TestParseProviders_Errors(t *testing.T) {
	tests := map[string]string{
		"not a mapping":     `["a", "b"]`,
		"missing servers":   `{"servers": {}}`,
		"servers not a map": `{"mcpServers": ["a"]}`,
		"bad args type":     `{"mcpServers": {"x": {"command": "a", "args": {"k": "v"}}}}`,
		"duplicate name":    "mcpServers:\n  x:\n    command: a\n  x:\n    command: b\n",
		"bad syntax":        `{"mcpServers": {`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProviders([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestParseProviders_InvalidEntryKept(t *testing.T) {
	data := []byte(`{"mcpServers": {
		"weather": {"command": "weather-server"},
		"broken": {"args": ["--verbose"]},
		"files": {"command": "files-server"}
	}}`)

	cfgs, err := ParseProviders(data)
	require.NoError(t, err)
	require.Len(t, cfgs, 3)
	assert.Equal(t, []string{"weather", "broken", "files"}, []string{cfgs[0].Name, cfgs[1].Name, cfgs[2].Name})
	assert.NoError(t, cfgs[0].Validate())
	assert.ErrorContains(t, cfgs[1].Validate(), "url is empty")
	assert.NoError(t, cfgs[2].Validate())
}

func TestParseProviders_Empty(t *testing.T) {
	cfgs, err := ParseProviders(nil)
	require.NoError(t, err)
	assert.Empty(t, cfgs)

	cfgs, err = ParseProviders([]byte(`{"mcpServers": {}}`))
	require.NoError(t, err)
	assert.Empty(t, cfgs)
}

func TestLoadProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"weather": {"command": "weather"}}}`), 0o600))

	cfgs, err := LoadProviders(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)

	_, err = LoadProviders(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
