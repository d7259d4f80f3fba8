package cli

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"talespinner/app"
	"talespinner/form"
	"talespinner/gateway"
	"talespinner/settings"
	. "talespinner/types"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type settingsPage int

const (
	pagePresets settingsPage = iota
	pagePreset
	pageRole
	pageProvider
	pageModel
	pageTokens
	pageFallback
)

var strategies = []TokenSelectionStrategy{StrategyFailover, StrategyRandom, StrategySequential}

type statusMsg string

// prompt collects one line of text and hands it to submit.
type prompt struct {
	label  string
	submit func(string) tea.Cmd
}

type settingsModel struct {
	app   *app.App
	o     *settings.Orchestrator
	list  list.Model
	input textinput.Model

	page   settingsPage
	role   settings.Role
	prompt *prompt
	status string
}

func newSettingsModel(a *app.App) settingsModel {
	ti := textinput.New()
	ti.Width = 60
	m := settingsModel{app: a, o: a.Settings, input: ti}
	m.list = defaultList("", nil)
	m.rebuild()
	return m
}

func (m settingsModel) Init() tea.Cmd {
	return m.app.OpenSettings()
}

func (m settingsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil
	case settings.ClosedMsg:
		return m, tea.Quit
	case statusMsg:
		m.status = styleRed.Render(string(msg))
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		m, cmd = m.handleKey(msg)
	default:
		cmd = m.app.Update(msg)
	}
	m.rebuild()
	return m, cmd
}

func (m settingsModel) handleKey(msg tea.KeyMsg) (settingsModel, tea.Cmd) {
	if m.prompt != nil {
		switch msg.Type {
		case tea.KeyEnter:
			p := m.prompt
			m.prompt = nil
			m.input.Blur()
			return m, p.submit(strings.TrimSpace(m.input.Value()))
		case tea.KeyEsc:
			m.prompt = nil
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	if m.o.ConfirmationRequired() {
		switch msg.String() {
		case "y", "enter":
			return m, m.o.ConfirmDiscard()
		case "n", "esc":
			m.o.CancelPending()
		}
		return m, nil
	}

	m.status = ""
	switch msg.String() {
	case "enter":
		m.rebuild()
		if item, ok := m.list.SelectedItem().(menuItem); ok && item.action != nil {
			return m, item.action()
		}
		return m, nil
	case "esc", "backspace":
		return m.back()
	case "ctrl+s":
		return m, m.o.SaveAll()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m settingsModel) back() (settingsModel, tea.Cmd) {
	switch m.page {
	case pagePresets:
		return m, m.o.RequestClose()
	case pagePreset:
		m.goTo(pagePresets)
	case pageRole, pageFallback:
		m.goTo(pagePreset)
	default:
		m.goTo(pageRole)
	}
	return m, nil
}

func (m *settingsModel) goTo(page settingsPage) {
	m.page = page
	m.list.Select(0)
}

func (m *settingsModel) ask(label, value string, submit func(string) tea.Cmd) tea.Cmd {
	m.prompt = &prompt{label: label, submit: submit}
	m.input.Placeholder = label
	m.input.SetValue(value)
	m.input.Focus()
	return textinput.Blink
}

// fail reports invalid prompt input through the event loop, since prompts
// outlive the model value that opened them.
func fail(err error) tea.Cmd {
	return func() tea.Msg { return statusMsg(err.Error()) }
}

// rebuild regenerates the menu from the current state, keeping the cursor.
func (m *settingsModel) rebuild() {
	var (
		title string
		items []menuItem
	)
	if !m.o.IsOpen() && m.o.Err() == "" {
		title, items = "Settings", []menuItem{{title: "Loading..."}}
	} else {
		switch m.page {
		case pagePresets:
			title, items = m.presetsMenu()
		case pagePreset:
			title, items = m.presetMenu()
		case pageRole:
			title, items = m.roleMenu()
		case pageProvider:
			title, items = m.providerMenu()
		case pageModel:
			title, items = m.modelMenu()
		case pageTokens:
			title, items = m.tokensMenu()
		case pageFallback:
			title, items = m.fallbackMenu()
		}
	}

	listItems := make([]list.Item, len(items))
	for i, item := range items {
		listItems[i] = item
	}
	index := m.list.Index()
	m.list.Title = title
	m.list.SetItems(listItems)
	if index >= len(listItems) {
		index = max(0, len(listItems)-1)
	}
	m.list.Select(index)
}

func (m *settingsModel) presetsMenu() (string, []menuItem) {
	var items []menuItem
	if m.o.Presets.Loading() && len(m.o.Presets.Items()) == 0 {
		items = append(items, menuItem{title: "Loading presets..."})
	}
	for _, p := range m.o.Presets.Items() {
		data := ""
		if p.IsDefault {
			data = "default"
		}
		title := p.Name
		if p.ID == m.o.ActiveID() {
			title += " " + check(true)
		}
		items = append(items, menuItem{title: title, data: data, action: func() tea.Cmd {
			cmd := m.o.RequestSwitch(p.ID)
			if !m.o.ConfirmationRequired() {
				m.goTo(pagePreset)
			}
			return cmd
		}})
	}
	items = append(items,
		menuItem{title: "New preset", action: func() tea.Cmd {
			return m.ask("Preset name", "", func(name string) tea.Cmd {
				return m.o.CreatePreset(name, nil)
			})
		}},
		menuItem{title: "Create default presets", action: m.o.InitializeDefaults},
		menuItem{title: "Close", action: m.o.RequestClose},
	)
	return "Presets", items
}

func (m *settingsModel) presetMenu() (string, []menuItem) {
	p, ok := m.o.Active()
	if !ok {
		m.page = pagePresets
		return m.presetsMenu()
	}

	var items []menuItem
	for _, role := range settings.Roles {
		items = append(items, menuItem{title: roleTitle(role), data: m.roleSummary(p, role), action: func() tea.Cmd {
			m.role = role
			m.goTo(pageRole)
			return nil
		}})
	}

	description := ""
	if p.Description != nil {
		description = *p.Description
	}
	items = append(items,
		menuItem{title: "Fallback", data: fmt.Sprintf("%ds, %d retries", p.FallbackStrategy.TimeoutSeconds, p.FallbackStrategy.MaxRetries), action: func() tea.Cmd {
			m.goTo(pageFallback)
			return nil
		}},
		menuItem{title: "Rename", data: p.Name, action: func() tea.Cmd {
			return m.ask("Preset name", p.Name, m.o.Rename)
		}},
		menuItem{title: "Description", data: description, action: func() tea.Cmd {
			return m.ask("Description", description, m.o.SetDescription)
		}},
	)
	if !p.IsDefault {
		items = append(items, menuItem{title: "Make default", action: m.o.MakeDefault})
	}
	items = append(items,
		menuItem{title: "Duplicate", action: m.o.RequestDuplicate},
		menuItem{title: "Delete", action: func() tea.Cmd {
			cmd := m.o.RequestDelete()
			if !m.o.ConfirmationRequired() {
				m.goTo(pagePresets)
			}
			return cmd
		}},
	)
	if dirty := m.o.DirtyRoles(); len(dirty) > 0 {
		items = append(items, menuItem{title: "Save", data: fmt.Sprintf("%d unsaved", len(dirty)), action: m.o.SaveAll})
	}
	return "Preset: " + p.Name, items
}

func roleTitle(role settings.Role) string {
	switch role {
	case settings.RoleMain:
		return "Main model"
	case settings.RoleRAG:
		return "RAG model"
	case settings.RoleGuard:
		return "Guard model"
	case settings.RoleStorytelling:
		return "Storytelling model"
	}
	return "Embedding model"
}

func (m *settingsModel) roleSummary(p ConfigPreset, role settings.Role) string {
	var label string
	switch role {
	case settings.RoleMain:
		label = modelLabel(p.ConfigData.MainModel.Provider, p.ConfigData.MainModel.ModelID)
	case settings.RoleEmbedding:
		label = modelLabel(p.ConfigData.Embedding.Provider, p.ConfigData.Embedding.ModelID)
	default:
		slot, _ := m.o.Slot(role)
		label = slotLabel(slot)
	}
	if slices.Contains(m.o.DirtyRoles(), role) {
		label += ", unsaved"
	}
	return label
}

// roleTarget is the provider and model kind the role page is editing.
func (m *settingsModel) roleTarget() (ProviderType, ModelType, bool) {
	if m.role == settings.RoleEmbedding {
		d, ok := m.o.Embedding.Live()
		return d.Provider, ModelTypeEmbedding, ok
	}
	d, ok := m.o.LLMForm(m.role).Live()
	return d.Provider, ModelTypeLLM, ok
}

func (m *settingsModel) roleMenu() (string, []menuItem) {
	title := roleTitle(m.role)
	var items []menuItem

	slot, aux := m.o.Slot(m.role)
	if aux {
		items = append(items, menuItem{title: "Enabled", data: boolStatus(slot.Enabled), action: func() tea.Cmd {
			return m.o.SetRoleEnabled(m.role, !slot.Enabled)
		}})
		if !slot.Enabled {
			return title, items
		}
	}

	var fields []menuItem
	if m.role == settings.RoleEmbedding {
		fields = m.embeddingFields()
	} else {
		fields = m.llmFields()
	}
	if fields == nil {
		if aux {
			items = append(items, menuItem{title: "Configure", data: "start from the main model", action: func() tea.Cmd {
				m.o.DraftRole(m.role)
				return nil
			}})
		}
		return title, items
	}
	items = append(items, fields...)

	if aux && slot.Config != nil {
		items = append(items, menuItem{title: "Clear stored config", action: func() tea.Cmd {
			return m.o.ClearRoleConfig(m.role)
		}})
	}
	if m.o.Dirty() {
		items = append(items, menuItem{title: "Save", action: m.o.SaveAll})
	}
	return title, items
}

func (m *settingsModel) llmFields() []menuItem {
	f := m.o.LLMForm(m.role)
	d, ok := f.Live()
	if !ok {
		return nil
	}
	baseURL := ""
	if d.BaseURL != nil {
		baseURL = *d.BaseURL
	}
	return []menuItem{
		{title: "Provider", data: string(d.Provider), action: m.open(pageProvider)},
		{title: "Model", data: d.ModelID, action: m.openModels(false)},
		{title: "Tokens", data: fmt.Sprintf("%d selected", len(d.TokenIDs)), action: m.open(pageTokens)},
		{title: "Token strategy", data: string(d.TokenSelectionStrategy), action: func() tea.Cmd {
			i := slices.Index(strategies, d.TokenSelectionStrategy)
			f.Apply(form.LLMStrategy(strategies[(i+1)%len(strategies)]))
			return nil
		}},
		{title: "Temperature", data: strconv.FormatFloat(d.SamplerSettings.Temperature, 'f', -1, 64), action: func() tea.Cmd {
			return m.ask("Temperature", strconv.FormatFloat(d.SamplerSettings.Temperature, 'f', -1, 64), func(v string) tea.Cmd {
				t, err := strconv.ParseFloat(v, 64)
				if err != nil || t < 0 || t > 2 {
					return fail(errors.New("temperature must be a number between 0 and 2"))
				}
				s := d.SamplerSettings
				s.Temperature = t
				f.Apply(form.LLMSampler(s))
				return nil
			})
		}},
		{title: "Max tokens", data: strconv.Itoa(d.SamplerSettings.MaxTokens), action: func() tea.Cmd {
			return m.ask("Max tokens", strconv.Itoa(d.SamplerSettings.MaxTokens), func(v string) tea.Cmd {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					return fail(errors.New("max tokens must be a positive number"))
				}
				s := d.SamplerSettings
				s.MaxTokens = n
				f.Apply(form.LLMSampler(s))
				return nil
			})
		}},
		{title: "Base URL", data: baseURL, action: func() tea.Cmd {
			return m.ask("Base URL (empty for the provider default)", baseURL, func(v string) tea.Cmd {
				f.Apply(form.LLMBaseURL{URL: optional(v)})
				return nil
			})
		}},
	}
}

func (m *settingsModel) embeddingFields() []menuItem {
	f := m.o.Embedding
	d, ok := f.Live()
	if !ok {
		return nil
	}
	baseURL := ""
	if d.BaseURL != nil {
		baseURL = *d.BaseURL
	}
	dims := ""
	if d.Dimensions != nil {
		dims = strconv.Itoa(*d.Dimensions)
	}
	return []menuItem{
		{title: "Provider", data: string(d.Provider), action: m.open(pageProvider)},
		{title: "Model", data: d.ModelID, action: m.openModels(false)},
		{title: "Tokens", data: fmt.Sprintf("%d selected", len(d.TokenIDs)), action: m.open(pageTokens)},
		{title: "Dimensions", data: dims, action: func() tea.Cmd {
			return m.ask("Dimensions (empty for the model default)", dims, func(v string) tea.Cmd {
				if v == "" {
					f.Apply(form.EmbeddingDimensions{})
					return nil
				}
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					return fail(errors.New("dimensions must be a positive number"))
				}
				f.Apply(form.EmbeddingDimensions{Value: &n})
				return nil
			})
		}},
		{title: "Batch size", data: strconv.Itoa(d.BatchSize), action: func() tea.Cmd {
			return m.ask("Batch size", strconv.Itoa(d.BatchSize), func(v string) tea.Cmd {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					return fail(errors.New("batch size must be a positive number"))
				}
				f.Apply(form.EmbeddingBatchSize(n))
				return nil
			})
		}},
		{title: "Base URL", data: baseURL, action: func() tea.Cmd {
			return m.ask("Base URL (empty for the provider default)", baseURL, func(v string) tea.Cmd {
				f.Apply(form.EmbeddingBaseURL{URL: optional(v)})
				return nil
			})
		}},
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (m *settingsModel) open(page settingsPage) func() tea.Cmd {
	return func() tea.Cmd {
		m.goTo(page)
		return nil
	}
}

func (m *settingsModel) openModels(refresh bool) func() tea.Cmd {
	return func() tea.Cmd {
		provider, kind, ok := m.roleTarget()
		if !ok {
			return nil
		}
		if m.page != pageModel {
			m.goTo(pageModel)
		}
		return m.o.Providers.LoadModels(gateway.ModelsQuery{Provider: provider, ModelType: kind, ForceRefresh: refresh})
	}
}

func (m *settingsModel) providerMenu() (string, []menuItem) {
	current, kind, _ := m.roleTarget()
	providers := m.o.Providers.LLM()
	if kind == ModelTypeEmbedding {
		providers = m.o.Providers.Embedding()
	}

	var items []menuItem
	if len(providers) == 0 {
		items = append(items, menuItem{title: "Loading providers..."})
	}
	for _, p := range providers {
		title := p.Name
		if p.ID == current {
			title += " " + check(true)
		}
		items = append(items, menuItem{title: title, data: string(p.ID), action: func() tea.Cmd {
			if kind == ModelTypeEmbedding {
				m.o.Embedding.Apply(form.EmbeddingProvider(p.ID))
			} else {
				m.o.LLMForm(m.role).Apply(form.LLMProvider(p.ID))
			}
			m.goTo(pageRole)
			return nil
		}})
	}
	return roleTitle(m.role) + ": provider", items
}

func (m *settingsModel) modelMenu() (string, []menuItem) {
	provider, kind, _ := m.roleTarget()
	current := ""
	if kind == ModelTypeEmbedding {
		d, _ := m.o.Embedding.Live()
		current = d.ModelID
	} else {
		d, _ := m.o.LLMForm(m.role).Live()
		current = d.ModelID
	}

	var items []menuItem
	models := m.o.Providers.Models(provider, kind)
	switch {
	case m.o.Providers.ModelsLoading(provider, kind):
		items = append(items, menuItem{title: "Loading models..."})
	case m.o.Providers.Err() != "" && len(models) == 0:
		items = append(items, menuItem{title: "Could not load models", data: m.o.Providers.Err()})
	}
	for _, model := range models {
		title := model.Name
		if title == "" {
			title = model.ID
		}
		if model.ID == current {
			title += " " + check(true)
		}
		items = append(items, menuItem{title: title, data: model.ID, action: func() tea.Cmd {
			if kind == ModelTypeEmbedding {
				m.o.Embedding.Apply(form.EmbeddingModel(model.ID))
			} else {
				m.o.LLMForm(m.role).Apply(form.LLMModel(model.ID))
			}
			m.goTo(pageRole)
			return nil
		}})
	}
	items = append(items, menuItem{title: "Refresh", action: m.openModels(true)})
	return fmt.Sprintf("%s: %s models", roleTitle(m.role), provider), items
}

func (m *settingsModel) tokensMenu() (string, []menuItem) {
	provider, kind, _ := m.roleTarget()
	var selected []string
	if kind == ModelTypeEmbedding {
		d, _ := m.o.Embedding.Live()
		selected = d.TokenIDs
	} else {
		d, _ := m.o.LLMForm(m.role).Live()
		selected = d.TokenIDs
	}

	var items []menuItem
	tokens := m.o.Tokens.ActiveFor(provider)
	if len(tokens) == 0 {
		items = append(items, menuItem{title: "No active tokens for " + string(provider)})
	}
	for _, t := range tokens {
		on := slices.Contains(selected, t.ID)
		items = append(items, menuItem{title: t.Name, data: boolStatus(on), action: func() tea.Cmd {
			next := slices.DeleteFunc(slices.Clone(selected), func(id string) bool { return id == t.ID })
			if !on {
				next = append(next, t.ID)
			}
			if kind == ModelTypeEmbedding {
				m.o.Embedding.Apply(form.EmbeddingTokens(next))
			} else {
				m.o.LLMForm(m.role).Apply(form.LLMTokens(next))
			}
			return nil
		}})
	}
	return roleTitle(m.role) + ": tokens", items
}

func (m *settingsModel) fallbackMenu() (string, []menuItem) {
	p, ok := m.o.Active()
	if !ok {
		m.page = pagePresets
		return m.presetsMenu()
	}
	fb := p.FallbackStrategy
	return "Fallback", []menuItem{
		{title: "Use main model for unset roles", data: boolStatus(fb.UseMainForUnset), action: func() tea.Cmd {
			next := fb
			next.UseMainForUnset = !fb.UseMainForUnset
			return m.o.UpdateFallback(next)
		}},
		{title: "Timeout (seconds)", data: strconv.Itoa(fb.TimeoutSeconds), action: func() tea.Cmd {
			return m.ask("Timeout in seconds", strconv.Itoa(fb.TimeoutSeconds), func(v string) tea.Cmd {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					return fail(errors.New("timeout must be a positive number"))
				}
				next := fb
				next.TimeoutSeconds = n
				return m.o.UpdateFallback(next)
			})
		}},
		{title: "Max retries", data: strconv.Itoa(fb.MaxRetries), action: func() tea.Cmd {
			return m.ask("Max retries", strconv.Itoa(fb.MaxRetries), func(v string) tea.Cmd {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return fail(errors.New("retries must be zero or more"))
				}
				next := fb
				next.MaxRetries = n
				return m.o.UpdateFallback(next)
			})
		}},
	}
}

func (m settingsModel) View() string {
	var b strings.Builder
	if m.o.ConfirmationRequired() {
		pending := m.o.Pending()
		fmt.Fprintf(&b, "\n  You have unsaved changes in %s.\n", strings.Join(roleNames(m.o.DirtyRoles()), ", "))
		fmt.Fprintf(&b, "  Discard them and %s? %s\n", pending.Action, faintStyle.Render("(y/n)"))
		return b.String()
	}

	b.WriteString("\n" + m.list.View())
	if m.prompt != nil {
		b.WriteString("\n  " + m.prompt.label + "\n  " + m.input.View() + "\n")
	}
	for _, msg := range []string{m.o.Err(), m.o.Presets.Err()} {
		if msg != "" {
			b.WriteString("\n  " + styleRed.Render(msg))
		}
	}
	if m.o.Saving() {
		b.WriteString("\n  " + faintStyle.Render("Saving..."))
	}
	if m.status != "" {
		b.WriteString("\n  " + m.status)
	}
	b.WriteString("\n" + faintStyle.Render("  enter: select  esc: back  ctrl+s: save all") + "\n")
	return b.String()
}

func roleNames(roles []settings.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = roleTitle(r)
	}
	return out
}
