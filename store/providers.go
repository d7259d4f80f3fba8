package store

import (
	"context"
	"time"

	"talespinner/gateway"
	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type ProvidersLoadedMsg struct {
	Epoch     int
	Gen       int
	Providers []ProviderInfo
	Err       error
}

type ModelsLoadedMsg struct {
	Epoch    int
	Provider ProviderType
	Kind     ModelType
	Response ProviderModelsResponse
	Err      error
}

type catalogEntry struct {
	models []ProviderModelInfo
	cached bool
}

// Providers holds the provider list and a per (provider, kind) model catalog
// that expires after the configured TTL.
type Providers struct {
	status
	api     ProviderAPI
	logger  *zap.Logger
	items   []ProviderInfo
	gen     int
	catalog *cache.Cache
	pending map[string]bool
}

func NewProviders(api ProviderAPI, catalogTTL time.Duration, logger *zap.Logger) *Providers {
	if catalogTTL <= 0 {
		catalogTTL = cache.NoExpiration
	}
	return &Providers{
		api:     api,
		logger:  logger,
		catalog: cache.New(catalogTTL, 2*catalogTTL),
		pending: make(map[string]bool),
	}
}

func catalogKey(provider ProviderType, kind ModelType) string {
	return string(provider) + "/" + string(kind)
}

func (s *Providers) Items() []ProviderInfo {
	return s.items
}

func (s *Providers) Get(id ProviderType) (ProviderInfo, bool) {
	for _, p := range s.items {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

func (s *Providers) LLM() []ProviderInfo {
	var out []ProviderInfo
	for _, p := range s.items {
		if p.SupportsLLM {
			out = append(out, p)
		}
	}
	return out
}

func (s *Providers) Embedding() []ProviderInfo {
	var out []ProviderInfo
	for _, p := range s.items {
		if p.SupportsEmbedding {
			out = append(out, p)
		}
	}
	return out
}

func (s *Providers) IsCurrent(msg ProvidersLoadedMsg) bool {
	return msg.Gen == s.gen
}

func (s *Providers) Load() tea.Cmd {
	s.gen++
	epoch, gen := s.begin(), s.gen
	return func() tea.Msg {
		providers, err := s.api.ListProviders(context.Background())
		return ProvidersLoadedMsg{Epoch: epoch, Gen: gen, Providers: providers, Err: err}
	}
}

// LoadModels populates the catalog entry for q.Provider and q.ModelType. A
// present entry is reused unless q.ForceRefresh is set, which drops the entry
// before fetching.
func (s *Providers) LoadModels(q gateway.ModelsQuery) tea.Cmd {
	key := catalogKey(q.Provider, q.ModelType)
	if q.ForceRefresh {
		s.catalog.Delete(key)
	} else if _, ok := s.catalog.Get(key); ok {
		return nil
	}
	if s.pending[key] && !q.ForceRefresh {
		return nil
	}

	s.pending[key] = true
	epoch := s.begin()
	return func() tea.Msg {
		resp, err := s.api.ListProviderModels(context.Background(), q)
		return ModelsLoadedMsg{Epoch: epoch, Provider: q.Provider, Kind: q.ModelType, Response: resp, Err: err}
	}
}

func (s *Providers) Models(provider ProviderType, kind ModelType) []ProviderModelInfo {
	if v, ok := s.catalog.Get(catalogKey(provider, kind)); ok {
		return v.(catalogEntry).models
	}
	return nil
}

// ModelsLoading reports whether a catalog fetch is in flight.
func (s *Providers) ModelsLoading(provider ProviderType, kind ModelType) bool {
	return s.pending[catalogKey(provider, kind)]
}

// CatalogCached reports whether the last catalog fetch for provider was
// served from the backend's cache.
func (s *Providers) CatalogCached(provider ProviderType) bool {
	for _, kind := range []ModelType{ModelTypeLLM, ModelTypeEmbedding, ""} {
		if v, ok := s.catalog.Get(catalogKey(provider, kind)); ok && v.(catalogEntry).cached {
			return true
		}
	}
	return false
}

func (s *Providers) Reset() {
	s.items = nil
	s.reset()
	s.gen++
	s.catalog.Flush()
	s.pending = make(map[string]bool)
}

func (s *Providers) Apply(msg tea.Msg) {
	switch msg := msg.(type) {
	case ProvidersLoadedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		if !s.IsCurrent(msg) {
			s.end(nil)
			return
		}
		s.end(msg.Err)
		if msg.Err == nil {
			s.items = msg.Providers
		}

	case ModelsLoadedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		key := catalogKey(msg.Provider, msg.Kind)
		delete(s.pending, key)
		s.end(msg.Err)
		if msg.Err != nil {
			s.logger.Warn("load models failed", zap.String("provider", string(msg.Provider)), zap.Error(msg.Err))
			return
		}
		models := msg.Response.Models
		if models == nil {
			models = []ProviderModelInfo{}
		}
		s.catalog.SetDefault(key, catalogEntry{models: models, cached: msg.Response.Cached})
	}
}
