// Package search provides pluggable web search for the reasoning loop.
//
// Each search provider implements the [Provider] interface and is
// registered by name. The [Manager] selects a provider based on
// configuration and exposes a single [Manager.Search] method that the
// tool adapter calls.
package search

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/nugget/sundevil-helper/internal/httpkit"
	"github.com/nugget/sundevil-helper/internal/tools"
)

// DefaultCount is the number of results requested when the caller does
// not specify one.
const DefaultCount = 5

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means DefaultCount.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

func (o Options) count() int {
	if o.Count <= 0 {
		return DefaultCount
	}
	return o.Count
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "tavily", "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// ProviderOption configures a provider's HTTP behaviour.
type ProviderOption func(*providerConfig)

type providerConfig struct {
	endpoint string
	client   *http.Client
}

// WithEndpoint overrides the provider's API endpoint.
func WithEndpoint(u string) ProviderOption {
	return func(c *providerConfig) { c.endpoint = u }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ProviderOption {
	return func(c *providerConfig) { c.client = hc }
}

// WithTimeout builds the default client with the given overall timeout.
func WithTimeout(d time.Duration) ProviderOption {
	return func(c *providerConfig) { c.client = newAPIClient(d) }
}

func newProviderConfig(endpoint string, opts []ProviderOption) providerConfig {
	cfg := providerConfig{endpoint: endpoint}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.client == nil {
		cfg.client = newAPIClient(15 * time.Second)
	}
	return cfg
}

// newAPIClient builds the client for a search API. A refused connection
// is replayed once before the provider is reported unavailable.
func newAPIClient(timeout time.Duration) *http.Client {
	return httpkit.NewClient(
		httpkit.WithTimeout(timeout),
		httpkit.WithRetry(1, 250*time.Millisecond),
	)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Primary returns the name of the default provider.
func (m *Manager) Primary() string { return m.primary }

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider. A provider
// whose API host cannot be reached is reported as [tools.ErrUnavailable].
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured: %w", provider, tools.ErrUnavailable)
	}
	results, err := p.Search(ctx, query, opts)
	if httpkit.IsUnreachable(err) {
		return nil, fmt.Errorf("%s: %w: %w", provider, tools.ErrUnavailable, err)
	}
	return results, err
}

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}
