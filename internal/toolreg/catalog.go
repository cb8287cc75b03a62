package toolreg

import (
	"context"
	"maps"

	"github.com/anatolykoptev/mcpbridge/internal/errs"
	"github.com/anatolykoptev/mcpbridge/internal/ollama"
)

// ToolDefinition is one catalog entry.
type ToolDefinition struct {
	CatalogName  string         `json:"name"`
	Description  string         `json:"description"`
	Parameters   map[string]any `json:"parameters"`
	Provider     string         `json:"provider"`
	OriginalName string         `json:"original_name"`
}

// Catalog is an immutable, ordered snapshot of the registered tools:
// providers in registration order, tools in the order each provider listed them.
type Catalog struct {
	defs      []ToolDefinition
	index     map[string]int
	invokers  map[string]Invoker
	providers []string
}

func buildCatalog(entries []providerEntry) *Catalog {
	c := &Catalog{
		index:    make(map[string]int),
		invokers: make(map[string]Invoker, len(entries)),
	}
	for _, p := range entries {
		c.providers = append(c.providers, p.name)
		c.invokers[p.name] = p.invoker
		for _, t := range p.tools {
			name := CatalogName(p.name, t.Name)
			c.index[name] = len(c.defs)
			c.defs = append(c.defs, ToolDefinition{
				CatalogName:  name,
				Description:  t.Description,
				Parameters:   maps.Clone(t.Parameters),
				Provider:     p.name,
				OriginalName: t.Name,
			})
		}
	}
	return c
}

// Len returns the number of tools.
func (c *Catalog) Len() int { return len(c.defs) }

// Providers returns the provider names in registration order.
func (c *Catalog) Providers() []string {
	return append([]string(nil), c.providers...)
}

// Definitions returns the catalog entries in order.
func (c *Catalog) Definitions() []ToolDefinition {
	return append([]ToolDefinition(nil), c.defs...)
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (ToolDefinition, bool) {
	i, ok := c.index[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return c.defs[i], true
}

// Resolve maps a catalog name to its provider and original tool name.
// Unknown names fail with a not-found error; names are never guessed.
func (c *Catalog) Resolve(name string) (provider, original string, err error) {
	def, ok := c.Lookup(name)
	if !ok {
		return "", "", errs.Newf(errs.KindNotFound, "resolve", "unknown tool %q", name)
	}
	return def.Provider, def.OriginalName, nil
}

// Dispatch resolves name in this snapshot and invokes the tool on its
// provider. Provider errors are returned unchanged.
func (c *Catalog) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	provider, original, err := c.Resolve(name)
	if err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]any{}
	}
	return c.invokers[provider].Invoke(ctx, original, args)
}

// Tools converts the catalog to Ollama function tools.
func (c *Catalog) Tools() []ollama.Tool {
	out := make([]ollama.Tool, 0, len(c.defs))
	for _, d := range c.defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, ollama.Tool{
			Type: "function",
			Function: ollama.ToolFunction{
				Name:        d.CatalogName,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
