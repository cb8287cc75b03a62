package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/anatolykoptev/mcpbridge/internal/errs"
	"github.com/anatolykoptev/mcpbridge/internal/toolreg"
)

// ProviderStatus is a provider's connection state for health reporting.
type ProviderStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Tools     int    `json:"tools"`
	Error     string `json:"error,omitempty"`
}

type providerState struct {
	cfg        ProviderConfig
	session    *Session
	connecting bool
	tools      int
	err        error
}

// Manager owns the provider sessions and keeps the registry in step with them.
type Manager struct {
	reg  *toolreg.Registry
	opts Options

	// connect is replaced in tests.
	connect func(ctx context.Context, cfg ProviderConfig, opts Options) (*Session, error)

	mu        sync.Mutex
	providers map[string]*providerState
	order     []string
}

// NewManager creates a manager that publishes tools into reg.
func NewManager(reg *toolreg.Registry, opts Options) *Manager {
	return &Manager{
		reg:       reg,
		opts:      opts,
		connect:   Connect,
		providers: make(map[string]*providerState),
	}
}

// ConnectAll connects every provider in order. Failures are isolated:
// they are logged and recorded, and the provider's tools are left out.
// It returns the number of providers that connected.
func (m *Manager) ConnectAll(ctx context.Context, cfgs []ProviderConfig) int {
	connected := 0
	for _, cfg := range cfgs {
		if err := m.Connect(ctx, cfg); err != nil {
			slog.Error("mcp provider unavailable",
				slog.String("provider", cfg.Name),
				slog.Any("error", err))
			continue
		}
		connected++
	}
	return connected
}

// Connect opens a session to one provider and registers its tools.
// Name conflicts with already registered tools are logged, not fatal.
func (m *Manager) Connect(ctx context.Context, cfg ProviderConfig) error {
	m.mu.Lock()
	st, ok := m.providers[cfg.Name]
	if ok && (st.session != nil || st.connecting) {
		m.mu.Unlock()
		return fmt.Errorf("provider %s already connected", cfg.Name)
	}
	if !ok {
		st = &providerState{}
		m.providers[cfg.Name] = st
		m.order = append(m.order, cfg.Name)
	}
	st.cfg = cfg
	st.connecting = true
	m.mu.Unlock()

	session, tools, err := m.open(ctx, cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	st.connecting = false
	st.err = err
	if err != nil {
		return err
	}

	var conflict *toolreg.ConflictError
	if err := m.reg.Register(cfg.Name, session, tools); err != nil && !errors.As(err, &conflict) {
		_ = session.Close()
		st.err = err
		return err
	}
	st.session = session
	st.tools = m.countOwned(cfg.Name)

	slog.Info("mcp provider tools registered",
		slog.String("provider", cfg.Name),
		slog.Int("tools", st.tools))
	return nil
}

func (m *Manager) open(ctx context.Context, cfg ProviderConfig) (*Session, []toolreg.ToolInfo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, errs.New(errs.KindConnection, "connect "+cfg.Name, err)
	}
	session, err := m.connect(ctx, cfg, m.opts)
	if err != nil {
		return nil, nil, err
	}
	tools, err := session.ListTools(ctx)
	if err != nil {
		_ = session.Close()
		return nil, nil, err
	}
	return session, tools, nil
}

// countOwned returns the number of catalog tools owned by name.
func (m *Manager) countOwned(name string) int {
	n := 0
	for _, d := range m.reg.Catalog().Definitions() {
		if d.Provider == name {
			n++
		}
	}
	return n
}

// Disconnect removes a provider's tools from the catalog and closes its session.
// The provider stays known and can be connected again.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	st, ok := m.providers[name]
	if !ok || st.session == nil {
		m.mu.Unlock()
		return fmt.Errorf("provider %s not connected", name)
	}
	session := st.session
	st.session = nil
	st.tools = 0
	m.reg.Unregister(name)
	m.mu.Unlock()

	return session.Close()
}

// Reconnect replaces a provider's session with a fresh one.
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	m.mu.Lock()
	st, ok := m.providers[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	if err := m.Disconnect(name); err != nil {
		slog.Debug("reconnect: provider was not connected", slog.String("provider", name))
	}
	return m.Connect(ctx, st.cfg)
}

// Watch pings every connected provider at the given interval and reconnects
// the ones that stop answering. It returns when ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx, interval)
		}
	}
}

func (m *Manager) checkAll(ctx context.Context, pingTimeout time.Duration) {
	m.mu.Lock()
	var sessions []*Session
	var down []string
	for _, name := range m.order {
		st := m.providers[name]
		if st.session != nil {
			sessions = append(sessions, st.session)
		} else {
			down = append(down, name)
		}
	}
	m.mu.Unlock()

	for _, s := range sessions {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.Ping(pingCtx)
		cancel()
		if err == nil {
			continue
		}
		slog.Warn("mcp provider stopped answering, reconnecting",
			slog.String("provider", s.Name()),
			slog.Any("error", err))
		down = append(down, s.Name())
	}

	for _, name := range down {
		if ctx.Err() != nil {
			return
		}
		if err := m.Reconnect(ctx, name); err != nil {
			slog.Warn("mcp provider reconnect failed",
				slog.String("provider", name),
				slog.Any("error", err))
		}
	}
}

// Status reports every known provider in configuration order.
func (m *Manager) Status() []ProviderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ProviderStatus, 0, len(m.order))
	for _, name := range m.order {
		st := m.providers[name]
		ps := ProviderStatus{Name: name, Connected: st.session != nil, Tools: st.tools}
		if st.err != nil {
			ps.Error = st.err.Error()
		}
		out = append(out, ps)
	}
	return out
}

// Connected returns the names of the providers with a live session.
func (m *Manager) Connected() []string {
	var names []string
	for _, st := range m.Status() {
		if st.Connected {
			names = append(names, st.Name)
		}
	}
	return slices.Clip(names)
}

// Close disconnects every provider.
func (m *Manager) Close() {
	for _, name := range m.Connected() {
		if err := m.Disconnect(name); err != nil {
			slog.Warn("close mcp session", slog.String("provider", name), slog.Any("error", err))
		}
	}
}
