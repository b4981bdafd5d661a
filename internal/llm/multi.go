package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MultiClient routes each request to a provider by model name. Models
// nobody claimed go to the fallback client.
type MultiClient struct {
	mu        sync.RWMutex
	providers map[string]Client // provider name → client
	models    map[string]string // model name → provider name
	fallback  Client
	primary   string // provider probed by Ping
}

// NewMultiClient creates a router. fallback may be nil, in which case
// unrouted models fail with [ErrUnavailable].
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		providers: make(map[string]Client),
		models:    make(map[string]string),
		fallback:  fallback,
	}
}

// AddProvider registers a client under a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(model, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[model] = provider
}

// SetPrimary names the provider that carries the configured reasoner
// model. Ping checks it instead of the fallback.
func (m *MultiClient) SetPrimary(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primary = provider
}

// Providers returns the registered provider names, sorted.
func (m *MultiClient) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.providers))
	for name := range m.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *MultiClient) clientFor(model string) Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.providers[m.models[model]]; ok {
		return c
	}
	return m.fallback
}

// Complete sends req to the provider that owns req.Model.
func (m *MultiClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	c := m.clientFor(req.Model)
	if c == nil {
		return nil, fmt.Errorf("no provider configured for model %q: %w", req.Model, ErrUnavailable)
	}
	return c.Complete(ctx, req)
}

// Ping checks the primary provider, or the fallback when no primary
// is set.
func (m *MultiClient) Ping(ctx context.Context) error {
	m.mu.RLock()
	c, ok := m.providers[m.primary]
	if !ok {
		c = m.fallback
	}
	name := m.primary
	m.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("no provider %q to ping: %w", name, ErrUnavailable)
	}
	return c.Ping(ctx)
}
