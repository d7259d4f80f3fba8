package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"talespinner/gateway"
	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePresetAPI struct {
	list    []ConfigPreset
	listErr error
	created ConfigPreset
	updated ConfigPreset
	err     error
}

func (f *fakePresetAPI) ListPresets(context.Context, string) ([]ConfigPreset, error) {
	return f.list, f.listErr
}

func (f *fakePresetAPI) GetPreset(_ context.Context, _ string, id string) (ConfigPreset, error) {
	for _, p := range f.list {
		if p.ID == id {
			return p, nil
		}
	}
	return ConfigPreset{}, &gateway.APIError{Status: 404, Message: "Preset not found"}
}

func (f *fakePresetAPI) CreatePreset(context.Context, string, PresetCreate) (ConfigPreset, error) {
	return f.created, f.err
}

func (f *fakePresetAPI) InitializeDefaults(context.Context, string) (ConfigPreset, error) {
	return f.created, f.err
}

func (f *fakePresetAPI) UpdatePreset(context.Context, string, string, PresetUpdate) (ConfigPreset, error) {
	return f.updated, f.err
}

func (f *fakePresetAPI) DeletePreset(context.Context, string, string) error {
	return f.err
}

func run(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	return cmd()
}

func preset(id string, isDefault bool) ConfigPreset {
	return ConfigPreset{ID: id, Name: "preset " + id, IsDefault: isDefault, ConfigData: DefaultConfigData()}
}

func TestPresetsLoadAndDerivedViews(t *testing.T) {
	api := &fakePresetAPI{list: []ConfigPreset{preset("a", false), preset("b", true), preset("c", true)}}
	s := NewPresets(api, zap.NewNop())

	cmd := s.Load("u")
	assert.True(t, s.Loading())
	s.Apply(run(t, cmd))
	assert.False(t, s.Loading())

	require.Len(t, s.Items(), 3)
	def, ok := s.Default()
	require.True(t, ok)
	assert.Equal(t, "b", def.ID, "first default wins")

	got, ok := s.FindByName("preset c")
	require.True(t, ok)
	assert.Equal(t, "c", got.ID)
}

func TestPresetsStaleLoadDiscarded(t *testing.T) {
	api := &fakePresetAPI{list: []ConfigPreset{preset("old", false)}}
	s := NewPresets(api, zap.NewNop())

	first := s.Load("u")
	staleMsg := first()

	api.list = []ConfigPreset{preset("new", false)}
	second := s.Load("u")
	s.Apply(run(t, second))
	s.Apply(staleMsg)

	require.Len(t, s.Items(), 1)
	assert.Equal(t, "new", s.Items()[0].ID)
	assert.False(t, s.Loading())
}

func TestPresetsFailedLoadKeepsList(t *testing.T) {
	api := &fakePresetAPI{list: []ConfigPreset{preset("a", false)}}
	s := NewPresets(api, zap.NewNop())
	s.Apply(run(t, s.Load("u")))

	api.listErr = errors.New("boom")
	s.Apply(run(t, s.Load("u")))
	assert.Equal(t, "boom", s.Err())
	assert.Len(t, s.Items(), 1)

	api.listErr = nil
	cmd := s.Load("u")
	assert.Empty(t, s.Err(), "error cleared when the next operation starts")
	s.Apply(run(t, cmd))
}

func TestPresetsCreateDefaultClearsOthers(t *testing.T) {
	api := &fakePresetAPI{list: []ConfigPreset{preset("a", true), preset("b", false)}}
	s := NewPresets(api, zap.NewNop())
	s.Apply(run(t, s.Load("u")))

	api.created = preset("c", true)
	s.Apply(run(t, s.Create("u", PresetCreate{Name: "c", IsDefault: true})))

	require.Len(t, s.Items(), 3)
	assert.Equal(t, "c", s.Items()[2].ID)
	var defaults []string
	for _, p := range s.Items() {
		if p.IsDefault {
			defaults = append(defaults, p.ID)
		}
	}
	assert.Equal(t, []string{"c"}, defaults)
}

func TestPresetsUpdateDefaultClearsOthers(t *testing.T) {
	api := &fakePresetAPI{list: []ConfigPreset{preset("a", true), preset("b", false)}}
	s := NewPresets(api, zap.NewNop())
	s.Apply(run(t, s.Load("u")))

	api.updated = preset("b", true)
	api.updated.Name = "renamed"
	isDefault := true
	s.Apply(run(t, s.Update("u", "b", PresetUpdate{IsDefault: &isDefault})))

	a, _ := s.Get("a")
	b, _ := s.Get("b")
	assert.False(t, a.IsDefault)
	assert.True(t, b.IsDefault)
	assert.Equal(t, "renamed", b.Name)
}

func TestPresetsFailedMutationLeavesList(t *testing.T) {
	api := &fakePresetAPI{list: []ConfigPreset{preset("a", true)}}
	s := NewPresets(api, zap.NewNop())
	s.Apply(run(t, s.Load("u")))

	api.err = &gateway.APIError{Status: 500, Message: "nope"}
	s.Apply(run(t, s.Remove("u", "a")))

	assert.Equal(t, "nope", s.Err())
	assert.Len(t, s.Items(), 1)
}

func TestPresetsRemoveAndFetch(t *testing.T) {
	api := &fakePresetAPI{list: []ConfigPreset{preset("a", false), preset("b", false)}}
	s := NewPresets(api, zap.NewNop())
	s.Apply(run(t, s.Load("u")))

	s.Apply(run(t, s.Remove("u", "a")))
	require.Len(t, s.Items(), 1)

	s.Apply(run(t, s.Fetch("u", "a")))
	assert.Len(t, s.Items(), 2, "fetch inserts a missing record")

	s.Apply(run(t, s.Fetch("u", "missing")))
	assert.Equal(t, "Preset not found", s.Err())
}

func TestPresetsResetDiscardsInflightLoad(t *testing.T) {
	api := &fakePresetAPI{list: []ConfigPreset{preset("a", false)}}
	s := NewPresets(api, zap.NewNop())

	cmd := s.Load("u")
	s.Reset()
	s.Apply(run(t, cmd))

	assert.Empty(t, s.Items())
	assert.False(t, s.Loading())
}

type fakeTokenAPI struct {
	list []Token
	err  error
}

func (f *fakeTokenAPI) ListTokens(context.Context, string) ([]Token, error) { return f.list, nil }
func (f *fakeTokenAPI) GetToken(context.Context, string, string) (Token, error) {
	return Token{}, errors.New("not found")
}
func (f *fakeTokenAPI) CreateToken(_ context.Context, owner string, p TokenCreate) (Token, error) {
	if f.err != nil {
		return Token{}, f.err
	}
	return Token{ID: "new", UserID: owner, Provider: p.Provider, Name: p.Name, IsActive: true}, nil
}
func (f *fakeTokenAPI) UpdateToken(_ context.Context, _ string, id string, p TokenUpdate) (Token, error) {
	if f.err != nil {
		return Token{}, f.err
	}
	return Token{ID: id, Provider: ProviderOllama, IsActive: *p.IsActive}, nil
}
func (f *fakeTokenAPI) DeleteToken(context.Context, string, string) error { return f.err }

func TestTokensViews(t *testing.T) {
	api := &fakeTokenAPI{list: []Token{
		{ID: "1", Provider: ProviderOpenRouter, IsActive: true},
		{ID: "2", Provider: ProviderOllama, IsActive: true},
		{ID: "3", Provider: ProviderOpenRouter, IsActive: false},
	}}
	s := NewTokens(api, zap.NewNop())
	s.Apply(run(t, s.Load("u")))

	groups := s.ByProvider()
	assert.Len(t, groups[ProviderOpenRouter], 2)
	assert.Len(t, groups[ProviderOllama], 1)
	assert.Len(t, s.Active(), 2)

	active := s.ActiveFor(ProviderOpenRouter)
	require.Len(t, active, 1)
	assert.Equal(t, "1", active[0].ID)

	off := false
	s.Apply(run(t, s.Update("u", "2", TokenUpdate{IsActive: &off})))
	assert.Len(t, s.Active(), 1)

	s.Apply(run(t, s.Create("u", TokenCreate{Provider: ProviderOllama, Name: "x", Token: "y"})))
	assert.Len(t, s.Items(), 4)

	s.Apply(run(t, s.Remove("u", "new")))
	assert.Len(t, s.Items(), 3)
}

type fakeProviderAPI struct {
	providers []ProviderInfo
	calls     int
	cached    bool
}

func (f *fakeProviderAPI) ListProviders(context.Context) ([]ProviderInfo, error) {
	return f.providers, nil
}

func (f *fakeProviderAPI) ListProviderModels(_ context.Context, q gateway.ModelsQuery) (ProviderModelsResponse, error) {
	f.calls++
	return ProviderModelsResponse{
		Provider: q.Provider,
		Models:   []ProviderModelInfo{{ID: "m1", Provider: q.Provider, ModelType: q.ModelType}},
		Cached:   f.cached,
	}, nil
}

func TestProvidersFilters(t *testing.T) {
	api := &fakeProviderAPI{providers: []ProviderInfo{
		{ID: ProviderOpenRouter, SupportsLLM: true},
		{ID: ProviderOllama, SupportsLLM: true, SupportsEmbedding: true},
	}}
	s := NewProviders(api, time.Minute, zap.NewNop())
	s.Apply(run(t, s.Load()))

	assert.Len(t, s.LLM(), 2)
	require.Len(t, s.Embedding(), 1)
	assert.Equal(t, ProviderOllama, s.Embedding()[0].ID)
}

func TestProvidersCatalogIsLazyUntilForced(t *testing.T) {
	api := &fakeProviderAPI{cached: true}
	s := NewProviders(api, time.Minute, zap.NewNop())

	q := gateway.ModelsQuery{Provider: ProviderOllama, ModelType: ModelTypeEmbedding}
	s.Apply(run(t, s.LoadModels(q)))
	assert.Equal(t, 1, api.calls)
	assert.Len(t, s.Models(ProviderOllama, ModelTypeEmbedding), 1)
	assert.True(t, s.CatalogCached(ProviderOllama))

	assert.Nil(t, s.LoadModels(q), "present entry is reused")
	assert.Nil(t, s.Models(ProviderOllama, ModelTypeLLM))

	api.cached = false
	q.ForceRefresh = true
	cmd := s.LoadModels(q)
	assert.Nil(t, s.Models(ProviderOllama, ModelTypeEmbedding), "force refresh invalidates first")
	assert.True(t, s.ModelsLoading(ProviderOllama, ModelTypeEmbedding))
	s.Apply(run(t, cmd))

	assert.Equal(t, 2, api.calls)
	assert.False(t, s.CatalogCached(ProviderOllama))
	assert.False(t, s.ModelsLoading(ProviderOllama, ModelTypeEmbedding))
}

func TestTokensMutations(t *testing.T) {
	api := &fakeTokenAPI{list: []Token{{ID: "1", Provider: ProviderOllama, Name: "home", IsActive: true}}}
	s := NewTokens(api, zap.NewNop())
	s.Apply(run(t, s.Load("u")))

	s.Apply(run(t, s.Create("u", TokenCreate{Provider: ProviderOpenRouter, Name: "work", Token: "sk"})))
	var matches int
	for _, tok := range s.Items() {
		if tok.ID == "new" {
			matches++
		}
	}
	assert.Equal(t, 1, matches, "created token appears exactly once")

	api.err = &gateway.APIError{Status: 409, Message: "Token name taken"}
	before := append([]Token(nil), s.Items()...)
	off := false
	s.Apply(run(t, s.Create("u", TokenCreate{Provider: ProviderOllama, Name: "home", Token: "x"})))
	s.Apply(run(t, s.Update("u", "1", TokenUpdate{IsActive: &off})))
	s.Apply(run(t, s.Remove("u", "1")))
	assert.Equal(t, before, s.Items(), "failed operations leave the list untouched")
	assert.Equal(t, "Token name taken", s.Err())
	assert.False(t, s.Loading())

	api.err = nil
	s.Apply(run(t, s.Remove("u", "new")))
	_, ok := s.Get("new")
	assert.False(t, ok)
	assert.Len(t, s.Items(), 1)
}

// collection drives one store through the same load lifecycle.
type collection struct {
	load    func() tea.Cmd
	create  func() tea.Cmd
	apply   func(tea.Msg)
	reset   func()
	loading func() bool
	size    func() int
}

func collections() map[string]func() collection {
	return map[string]func() collection{
		"presets": func() collection {
			api := &fakePresetAPI{list: []ConfigPreset{preset("a", false)}, created: preset("b", false)}
			s := NewPresets(api, zap.NewNop())
			return collection{
				load:    func() tea.Cmd { return s.Load("u") },
				create:  func() tea.Cmd { return s.Create("u", PresetCreate{Name: "b"}) },
				apply:   s.Apply,
				reset:   s.Reset,
				loading: s.Loading,
				size:    func() int { return len(s.Items()) },
			}
		},
		"tokens": func() collection {
			api := &fakeTokenAPI{list: []Token{{ID: "1", Provider: ProviderOllama}}}
			s := NewTokens(api, zap.NewNop())
			return collection{
				load:    func() tea.Cmd { return s.Load("u") },
				create:  func() tea.Cmd { return s.Create("u", TokenCreate{Provider: ProviderOllama, Name: "n", Token: "t"}) },
				apply:   s.Apply,
				reset:   s.Reset,
				loading: s.Loading,
				size:    func() int { return len(s.Items()) },
			}
		},
		"providers": func() collection {
			api := &fakeProviderAPI{providers: []ProviderInfo{{ID: ProviderOllama, SupportsLLM: true}}}
			s := NewProviders(api, time.Minute, zap.NewNop())
			return collection{
				load: s.Load,
				create: func() tea.Cmd {
					return s.LoadModels(gateway.ModelsQuery{Provider: ProviderOllama, ModelType: ModelTypeLLM})
				},
				apply:   s.Apply,
				reset:   s.Reset,
				loading: s.Loading,
				size:    func() int { return len(s.Items()) },
			}
		},
	}
}

func TestOverlappingLoadsSettleLoading(t *testing.T) {
	for name, build := range collections() {
		t.Run(name, func(t *testing.T) {
			c := build()
			first := c.load()
			second := c.load()
			assert.True(t, c.loading())

			c.apply(run(t, second))
			c.apply(run(t, first))
			assert.False(t, c.loading(), "a discarded load still finishes")
			assert.Equal(t, 1, c.size())
		})
	}
}

func TestResetDropsLateCompletions(t *testing.T) {
	for name, build := range collections() {
		t.Run(name, func(t *testing.T) {
			c := build()
			late := c.create()
			c.reset()

			pending := c.load()
			c.apply(run(t, late))
			assert.Zero(t, c.size(), "completion from before the reset is ignored")
			assert.True(t, c.loading(), "it does not finish the newer load")

			c.apply(run(t, pending))
			assert.False(t, c.loading())
			assert.Equal(t, 1, c.size())
		})
	}
}
