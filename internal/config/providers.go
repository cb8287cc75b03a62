package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/anatolykoptev/mcpbridge/internal/mcpclient"
)

// serverEntry is one value under "mcpServers".
type serverEntry struct {
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Transport string            `yaml:"transport"`
	Type      string            `yaml:"type"`
	Disabled  bool              `yaml:"disabled"`
}

// LoadProviders reads the provider file at path.
func LoadProviders(path string) ([]mcpclient.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider config: %w", err)
	}
	cfgs, err := ParseProviders(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfgs, nil
}

// ParseProviders parses {"mcpServers": {name: {...}}} in JSON or YAML.
// Providers are returned in file order; disabled ones are left out.
// An invalid entry, such as one missing its command or url, is logged and
// still returned; it fails on connect like any other unavailable provider.
func ParseProviders(data []byte) ([]mcpclient.ProviderConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(untab(data), &doc); err != nil {
		return nil, fmt.Errorf("parse provider config: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("provider config: top level must be a mapping")
	}
	servers := mappingValue(root, "mcpServers")
	if servers == nil {
		return nil, fmt.Errorf("provider config: missing mcpServers")
	}
	if servers.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("provider config: mcpServers must be a mapping")
	}

	var out []mcpclient.ProviderConfig
	seen := make(map[string]bool)
	for i := 0; i+1 < len(servers.Content); i += 2 {
		name := servers.Content[i].Value
		if seen[name] {
			return nil, fmt.Errorf("provider config: duplicate server %q", name)
		}
		seen[name] = true

		var e serverEntry
		if err := servers.Content[i+1].Decode(&e); err != nil {
			return nil, fmt.Errorf("provider config: server %q: %w", name, err)
		}
		if e.Disabled {
			continue
		}

		transport := e.Transport
		if transport == "" {
			transport = transportAlias(e.Type)
		}
		pc := mcpclient.ProviderConfig{
			Name:      name,
			Command:   e.Command,
			Args:      e.Args,
			Env:       e.Env,
			URL:       e.URL,
			Transport: transport,
		}
		if err := pc.Validate(); err != nil {
			slog.Warn("provider config entry is invalid", slog.String("provider", name), slog.Any("error", err))
		}
		out = append(out, pc)
	}
	return out, nil
}

// transportAlias maps the "type" spellings used by other MCP clients.
func transportAlias(t string) string {
	switch t {
	case "streamable-http", "streamableHttp", "http":
		return mcpclient.TransportHTTP
	case "sse":
		return mcpclient.TransportSSE
	case "stdio":
		return mcpclient.TransportStdio
	}
	return ""
}

// untab makes tab-indented JSON acceptable to the YAML parser. A raw tab
// can only be whitespace in valid JSON, so replacing it is safe.
func untab(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.ContainsRune(data, '\t') {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\t"), []byte(" "))
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
