// Package toolreg aggregates tools from several providers into one catalog
// of globally unique names and routes calls back to the owning provider.
package toolreg

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Invoker calls a tool by the name its provider advertised.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, name string, args map[string]any) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	return f(ctx, name, args)
}

// ToolInfo is a tool as listed by its provider.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// ConflictError reports tools rejected because their catalog name was taken.
type ConflictError struct {
	Provider string
	Names    []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("provider %s: catalog name conflict: %s", e.Provider, strings.Join(e.Names, ", "))
}

type providerEntry struct {
	name    string
	invoker Invoker
	tools   []ToolInfo
}

// Registry holds the providers and publishes immutable catalog snapshots.
// Mutations are serialized; readers load the current snapshot without locking.
type Registry struct {
	mu        sync.Mutex
	providers []providerEntry
	snap      atomic.Pointer[Catalog]
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(buildCatalog(nil))
	return r
}

// CatalogName derives the advertised name of a provider tool.
func CatalogName(provider, tool string) string {
	return provider + "_" + tool
}

// Register adds a provider and its tools. A tool whose catalog name is
// already taken is rejected; the rest are registered and a *ConflictError
// lists the rejected names.
func (r *Registry) Register(provider string, inv Invoker, tools []ToolInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.providers {
		if p.name == provider {
			return fmt.Errorf("provider %s already registered", provider)
		}
	}

	taken := make(map[string]bool)
	for _, p := range r.providers {
		for _, t := range p.tools {
			taken[CatalogName(p.name, t.Name)] = true
		}
	}

	entry := providerEntry{name: provider, invoker: inv}
	var rejected []string
	for _, t := range tools {
		name := CatalogName(provider, t.Name)
		if taken[name] {
			rejected = append(rejected, name)
			continue
		}
		taken[name] = true
		entry.tools = append(entry.tools, t)
	}

	r.providers = append(r.providers, entry)
	r.publish()

	if len(rejected) > 0 {
		slog.Warn("tool name conflict, keeping first registration",
			slog.String("provider", provider),
			slog.Any("rejected", rejected))
		return &ConflictError{Provider: provider, Names: rejected}
	}
	return nil
}

// Unregister removes a provider and its tools. It reports whether the
// provider was present.
func (r *Registry) Unregister(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.providers, func(p providerEntry) bool { return p.name == provider })
	if i < 0 {
		return false
	}
	r.providers = slices.Delete(r.providers, i, i+1)
	r.publish()
	return true
}

// Catalog returns the current snapshot. It never changes after it is returned.
func (r *Registry) Catalog() *Catalog {
	return r.snap.Load()
}

// Resolve maps a catalog name to its provider and original tool name.
func (r *Registry) Resolve(name string) (provider, original string, err error) {
	return r.Catalog().Resolve(name)
}

// Dispatch runs a tool against the current snapshot.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	return r.Catalog().Dispatch(ctx, name, args)
}

// publish must be called with mu held.
func (r *Registry) publish() {
	r.snap.Store(buildCatalog(r.providers))
}
