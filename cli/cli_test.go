package cli

import (
	"testing"
	"time"

	"talespinner/app"
	"talespinner/config"
	"talespinner/form"
	"talespinner/gateway"
	"talespinner/gateway/gatewaytest"
	"talespinner/settings"
	. "talespinner/types"
	"talespinner/world"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapKV map[string]string

func (m mapKV) Get(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapKV) Set(key, value string) error {
	m[key] = value
	return nil
}

func (m mapKV) Remove(key string) error {
	delete(m, key)
	return nil
}

func newApp(t *testing.T) (*app.App, *gatewaytest.Server) {
	t.Helper()
	srv := gatewaytest.New(t)
	srv.Users = []User{{ID: "u1", Name: "Ada"}, {ID: "u2", Name: "Grace"}}
	srv.Providers = []ProviderInfo{
		{ID: ProviderOpenRouter, Name: "OpenRouter", SupportsLLM: true, RequiresAPIKey: true},
		{ID: ProviderOllama, Name: "Ollama", SupportsLLM: true, SupportsEmbedding: true},
	}
	cfg := config.DefaultAppConfig()
	cfg.Preferences.RenderMarkdown = false
	client := gateway.New(gateway.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	a := app.Wire(cfg, client, mapKV{}, nil)
	drain(a, a.Start())
	drain(a, a.Users.Select("u1"))
	require.Equal(t, "u1", a.Users.CurrentUserID())
	return a, srv
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSuggestProvider(t *testing.T) {
	providers := []ProviderInfo{{ID: ProviderOpenRouter}, {ID: ProviderOllama}, {ID: ProviderOpenAICompatible}}

	got, ok := suggestProvider("olama", providers)
	require.True(t, ok)
	assert.Equal(t, ProviderOllama, got)

	got, ok = suggestProvider("OpenRoutr", providers)
	require.True(t, ok)
	assert.Equal(t, ProviderOpenRouter, got)

	_, ok = suggestProvider("anthropic-bedrock", providers)
	assert.False(t, ok)
}

func TestFindUser(t *testing.T) {
	users := []User{{ID: "u1", Name: "Ada"}, {ID: "u2", Name: "Grace"}}

	u, ok := findUser(users, "u2")
	require.True(t, ok)
	assert.Equal(t, "Grace", u.Name)

	u, ok = findUser(users, "ada")
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)

	_, ok = findUser(users, "Linus")
	assert.False(t, ok)
}

func TestRenderPresetsShowsRoleState(t *testing.T) {
	cfg := DefaultConfigData()
	cfg.RAG = RoleSlot{Enabled: true}
	cfg.Guard = RoleSlot{Enabled: false, Config: &LLMConfigData{Provider: ProviderOllama, ModelID: "llama3"}}
	out := renderPresets([]ConfigPreset{{ID: "p1", Name: "Campaign", IsDefault: true, ConfigData: cfg}})

	assert.Contains(t, out, "Campaign")
	assert.Contains(t, out, "unconfigured")
	assert.Contains(t, out, "off")
	assert.NotContains(t, out, "llama3", "a disabled slot shows as off")
	assert.Contains(t, out, "p1")
}

func TestRenderUsersMarksCurrent(t *testing.T) {
	out := renderUsers([]User{{ID: "u1", Name: "Ada"}, {ID: "u2", Name: "Grace", HasPassword: true}}, "u2")
	assert.Contains(t, out, "Ada")
	assert.Contains(t, out, "Grace")
	assert.Contains(t, out, "●")
}

func TestSlotLabel(t *testing.T) {
	assert.Equal(t, "off", slotLabel(RoleSlot{}))
	assert.Equal(t, "unconfigured", slotLabel(RoleSlot{Enabled: true}))
	assert.Equal(t, "ollama/llama3", slotLabel(RoleSlot{Enabled: true, Config: &LLMConfigData{Provider: ProviderOllama, ModelID: "llama3"}}))
}

func TestDrainCreatesAndSelectsUser(t *testing.T) {
	a, srv := newApp(t)
	drain(a, a.Users.Create("Hedy", nil))

	u, ok := a.Users.Current()
	require.True(t, ok)
	assert.Equal(t, "Hedy", u.Name)
	assert.Len(t, a.Users.Users(), 3)
	assert.Len(t, srv.Users, 3)
}

func TestSettingsModelSwitchesIntoPreset(t *testing.T) {
	a, _ := newApp(t)
	m := newSettingsModel(a)
	drain(a, m.Init())
	require.True(t, a.Settings.IsOpen())

	drain(a, a.Settings.InitializeDefaults())
	m.rebuild()
	first, ok := m.list.SelectedItem().(menuItem)
	require.True(t, ok)
	assert.Contains(t, first.title, "Default Preset")

	next, _ := m.Update(key("enter"))
	m = next.(settingsModel)
	assert.Equal(t, pagePreset, m.page)
	assert.Contains(t, m.View(), "Main model")

	next, _ = m.Update(key("esc"))
	m = next.(settingsModel)
	assert.Equal(t, pagePresets, m.page)
}

func TestSettingsModelAsksBeforeDiscarding(t *testing.T) {
	a, _ := newApp(t)
	m := newSettingsModel(a)
	drain(a, m.Init())
	drain(a, a.Settings.InitializeDefaults())

	a.Settings.Main.Apply(form.LLMModel("gpt-test"))
	next, cmd := m.Update(key("esc"))
	m = next.(settingsModel)
	assert.Nil(t, cmd)
	require.True(t, a.Settings.ConfirmationRequired())
	assert.Contains(t, m.View(), "Discard them and close settings?")

	next, cmd = m.Update(key("y"))
	m = next.(settingsModel)
	require.NotNil(t, cmd)
	_, quit := m.Update(cmd())
	require.NotNil(t, quit)
	assert.IsType(t, tea.QuitMsg{}, quit())
	assert.False(t, a.Settings.IsOpen())
}

func TestSettingsModelRejectsBadTemperature(t *testing.T) {
	a, _ := newApp(t)
	m := newSettingsModel(a)
	drain(a, m.Init())
	drain(a, a.Settings.InitializeDefaults())
	m.page, m.role = pageRole, settings.RoleMain
	m.rebuild()

	for i := 0; i < 4; i++ {
		next, _ := m.Update(key("down"))
		m = next.(settingsModel)
	}
	item := m.list.SelectedItem().(menuItem)
	require.Equal(t, "Temperature", item.title)

	next, _ := m.Update(key("enter"))
	m = next.(settingsModel)
	require.NotNil(t, m.prompt)
	m.input.SetValue("hot")

	next, cmd := m.Update(key("enter"))
	m = next.(settingsModel)
	require.NotNil(t, cmd)
	next, _ = m.Update(cmd())
	m = next.(settingsModel)
	assert.Contains(t, m.status, "temperature")
	assert.False(t, a.Settings.Dirty())
}

func TestWorldModelFoundationFlow(t *testing.T) {
	a, _ := newApp(t)
	m := newWorldModel(a)

	next, _ := m.Update(key("A drowned city"))
	m = next.(worldModel)
	assert.Equal(t, "A drowned city", a.Wizard.Foundation().WorldDescription)

	next, _ = m.Update(key("enter"))
	m = next.(worldModel)
	assert.Equal(t, world.FoundationStep, a.Wizard.Step(), "plot type still missing")
	assert.Contains(t, m.View(), world.ErrFoundationMissing.Error())

	next, _ = m.Update(key("tab"))
	m = next.(worldModel)
	next, _ = m.Update(key("right"))
	m = next.(worldModel)
	assert.Equal(t, PlotTypes[0], a.Wizard.Foundation().PlotType)

	next, cmd := m.Update(key("enter"))
	m = next.(worldModel)
	require.NotNil(t, cmd)
	assert.Equal(t, world.HitlStep, a.Wizard.Step())
	assert.Equal(t, world.PhaseStarting, a.Wizard.Session().Phase)

	next, _ = m.Update(key("esc"))
	m = next.(worldModel)
	assert.Equal(t, world.FoundationStep, a.Wizard.Step())
	assert.Equal(t, "A drowned city", a.Wizard.Foundation().WorldDescription)
}

func TestWorldModelConflictToggle(t *testing.T) {
	a, _ := newApp(t)
	m := newWorldModel(a)
	require.True(t, a.Wizard.Foundation().GlobalConflict)

	for _, k := range []string{"tab", "tab", " "} {
		next, _ := m.Update(key(k))
		m = next.(worldModel)
	}
	assert.False(t, a.Wizard.Foundation().GlobalConflict)
}
