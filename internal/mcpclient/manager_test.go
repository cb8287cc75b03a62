package mcpclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/mcpbridge/internal/errs"
	"github.com/anatolykoptev/mcpbridge/internal/toolreg"
)

func newFilesServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "files", Version: "test"}, nil)
	mcp.AddTool(s, &mcp.Tool{Name: "read", Description: "read a file"},
		func(_ context.Context, _ *mcp.CallToolRequest, in struct {
			Path string `json:"path"`
		}) (*mcp.CallToolResult, any, error) {
			return textResult("contents of " + in.Path), nil, nil
		})
	return s
}

// fakeConnector serves providers from in-memory servers and counts dials.
type fakeConnector struct {
	t       *testing.T
	mu      sync.Mutex
	servers map[string]func() *mcp.Server
	dials   map[string]int
}

func newFakeConnector(t *testing.T) *fakeConnector {
	return &fakeConnector{
		t: t,
		servers: map[string]func() *mcp.Server{
			"weather": newWeatherServer,
			"files":   newFilesServer,
		},
		dials: make(map[string]int),
	}
}

func (f *fakeConnector) connect(ctx context.Context, cfg ProviderConfig, opts Options) (*Session, error) {
	f.mu.Lock()
	f.dials[cfg.Name]++
	newServer, ok := f.servers[cfg.Name]
	f.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.KindConnection, "connect "+cfg.Name, errors.New("spawn failed"))
	}
	ct := inMemory(f.t, newServer())
	return Dial(ctx, cfg.Name, func() (mcp.Transport, error) { return ct, nil }, opts)
}

func newTestManager(t *testing.T) (*Manager, *toolreg.Registry, *fakeConnector) {
	reg := toolreg.NewRegistry()
	m := NewManager(reg, Options{})
	fc := newFakeConnector(t)
	m.connect = fc.connect
	t.Cleanup(m.Close)
	return m, reg, fc
}

func TestManager_ConnectAllIsolatesFailures(t *testing.T) {
	m, reg, _ := newTestManager(t)

	n := m.ConnectAll(context.Background(), []ProviderConfig{
		{Name: "weather", Command: "weather-server"},
		{Name: "broken", Command: "missing"},
		{Name: "files", Command: "files-server"},
	})
	assert.Equal(t, 2, n)

	cat := reg.Catalog()
	assert.Equal(t, []string{"weather", "files"}, cat.Providers())
	_, ok := cat.Lookup("weather_get_weather")
	assert.True(t, ok)
	_, ok = cat.Lookup("files_read")
	assert.True(t, ok)

	status := m.Status()
	require.Len(t, status, 3)
	assert.Equal(t, ProviderStatus{Name: "weather", Connected: true, Tools: 4}, status[0])
	assert.False(t, status[1].Connected)
	assert.Contains(t, status[1].Error, "spawn failed")
	assert.Equal(t, ProviderStatus{Name: "files", Connected: true, Tools: 1}, status[2])
	assert.Equal(t, []string{"weather", "files"}, m.Connected())
}

func TestManager_InvalidConfigReportedDown(t *testing.T) {
	m, reg, fc := newTestManager(t)

	n := m.ConnectAll(context.Background(), []ProviderConfig{
		{Name: "weather", Command: "weather-server"},
		{Name: "misconfigured", Args: []string{"--verbose"}},
		{Name: "files", Command: "files-server"},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"weather", "files"}, reg.Catalog().Providers())

	status := m.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "misconfigured", status[1].Name)
	assert.False(t, status[1].Connected)
	assert.Contains(t, status[1].Error, "url is empty")

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Zero(t, fc.dials["misconfigured"])
}

func TestManager_DispatchThroughRegistry(t *testing.T) {
	m, reg, _ := newTestManager(t)
	require.NoError(t, m.Connect(context.Background(), ProviderConfig{Name: "weather", Command: "w"}))

	out, err := reg.Dispatch(context.Background(), "weather_get_weather", map[string]any{"city": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "Sunny, 22C in Paris", out)
}

func TestManager_ConnectTwice(t *testing.T) {
	m, _, _ := newTestManager(t)
	cfg := ProviderConfig{Name: "files", Command: "f"}
	require.NoError(t, m.Connect(context.Background(), cfg))
	assert.Error(t, m.Connect(context.Background(), cfg))
}

func TestManager_DisconnectRebuildsCatalog(t *testing.T) {
	m, reg, _ := newTestManager(t)
	m.ConnectAll(context.Background(), []ProviderConfig{
		{Name: "weather", Command: "w"},
		{Name: "files", Command: "f"},
	})

	before := reg.Catalog()
	require.NoError(t, m.Disconnect("weather"))
	assert.Error(t, m.Disconnect("weather"))

	assert.Equal(t, []string{"files"}, reg.Catalog().Providers())
	assert.Equal(t, 5, before.Len())
	assert.Equal(t, 1, reg.Catalog().Len())

	status := m.Status()
	require.Len(t, status, 2)
	assert.False(t, status[0].Connected)
	assert.Zero(t, status[0].Tools)
}

func TestManager_Reconnect(t *testing.T) {
	m, reg, fc := newTestManager(t)
	require.NoError(t, m.Connect(context.Background(), ProviderConfig{Name: "files", Command: "f"}))

	require.NoError(t, m.Reconnect(context.Background(), "files"))
	assert.Equal(t, 2, fc.dials["files"])
	assert.Equal(t, 1, reg.Catalog().Len())

	assert.Error(t, m.Reconnect(context.Background(), "unknown"))
}

func TestManager_CheckAllReconnectsDownProviders(t *testing.T) {
	m, reg, fc := newTestManager(t)
	m.ConnectAll(context.Background(), []ProviderConfig{
		{Name: "weather", Command: "w"},
		{Name: "files", Command: "f"},
	})
	require.NoError(t, m.Disconnect("files"))

	m.checkAll(context.Background(), time.Second)

	assert.Equal(t, 2, fc.dials["files"])
	assert.Equal(t, 1, fc.dials["weather"])
	assert.Equal(t, []string{"weather", "files"}, reg.Catalog().Providers())
}

func TestManager_CloseUnregistersEverything(t *testing.T) {
	m, reg, _ := newTestManager(t)
	m.ConnectAll(context.Background(), []ProviderConfig{{Name: "files", Command: "f"}})

	m.Close()
	assert.Zero(t, reg.Catalog().Len())
	assert.Empty(t, m.Connected())
}
