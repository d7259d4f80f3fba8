// Package settings drives the preset editor: one active preset, five forms
// over its config_data, and guards against losing unsaved edits.
package settings

import (
	"context"
	"fmt"

	"talespinner/form"
	"talespinner/store"
	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

type Role string

const (
	RoleMain         Role = "main"
	RoleRAG          Role = "rag"
	RoleGuard        Role = "guard"
	RoleStorytelling Role = "storytelling"
	RoleEmbedding    Role = "embedding"
)

// AuxRoles are the optional model roles that can be switched on and off.
var AuxRoles = []Role{RoleRAG, RoleGuard, RoleStorytelling}

var Roles = []Role{RoleMain, RoleRAG, RoleGuard, RoleStorytelling, RoleEmbedding}

type Action int

const (
	ActionNone Action = iota
	ActionSwitch
	ActionDelete
	ActionDuplicate
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionSwitch:
		return "switch preset"
	case ActionDelete:
		return "delete preset"
	case ActionDuplicate:
		return "duplicate preset"
	case ActionClose:
		return "close settings"
	default:
		return "none"
	}
}

// Pending is a guarded action parked until unsaved edits are discarded.
type Pending struct {
	Action   Action
	PresetID string
}

// ClosedMsg is emitted once the settings surface has been torn down.
type ClosedMsg struct{}

type createdMsg struct{ inner store.PresetCreatedMsg }

type deletedMsg struct{ inner store.PresetRemovedMsg }

type roleUpdatedMsg struct {
	role  Role
	inner store.PresetUpdatedMsg
}

type saveBatch struct {
	remaining map[string]int
	failed    map[Role]bool
}

type Orchestrator struct {
	Presets   *store.Presets
	Tokens    *store.Tokens
	Providers *store.Providers

	Main         *form.Form[LLMConfigData]
	RAG          *form.Form[LLMConfigData]
	Guard        *form.Form[LLMConfigData]
	Storytelling *form.Form[LLMConfigData]
	Embedding    *form.Form[EmbeddingConfigData]

	api    store.PresetAPI
	logger *zap.Logger

	owner      string
	open       bool
	activeID   string
	pending    Pending
	selectName string
	save       *saveBatch
	reinitSkip map[Role]bool
	err        string
}

func New(api store.PresetAPI, presets *store.Presets, tokens *store.Tokens, providers *store.Providers, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Presets:      presets,
		Tokens:       tokens,
		Providers:    providers,
		Main:         form.New[LLMConfigData](string(RoleMain), logger),
		RAG:          form.New[LLMConfigData](string(RoleRAG), logger),
		Guard:        form.New[LLMConfigData](string(RoleGuard), logger),
		Storytelling: form.New[LLMConfigData](string(RoleStorytelling), logger),
		Embedding:    form.New[EmbeddingConfigData](string(RoleEmbedding), logger),
		api:          api,
		logger:       logger,
	}
}

func (o *Orchestrator) IsOpen() bool { return o.open }

func (o *Orchestrator) Owner() string { return o.owner }

func (o *Orchestrator) ActiveID() string { return o.activeID }

func (o *Orchestrator) Active() (ConfigPreset, bool) {
	if o.activeID == "" {
		return ConfigPreset{}, false
	}
	return o.Presets.Get(o.activeID)
}

func (o *Orchestrator) Pending() Pending { return o.pending }

func (o *Orchestrator) ConfirmationRequired() bool { return o.pending.Action != ActionNone }

func (o *Orchestrator) Saving() bool { return o.save != nil }

// Err is the last orchestration error; collection errors live on the stores.
func (o *Orchestrator) Err() string { return o.err }

// LLMForm returns the form of an LLM role, or nil for the embedding role.
func (o *Orchestrator) LLMForm(role Role) *form.Form[LLMConfigData] {
	switch role {
	case RoleMain:
		return o.Main
	case RoleRAG:
		return o.RAG
	case RoleGuard:
		return o.Guard
	case RoleStorytelling:
		return o.Storytelling
	}
	return nil
}

func (o *Orchestrator) Dirty() bool {
	return o.Main.Dirty() || o.RAG.Dirty() || o.Guard.Dirty() || o.Storytelling.Dirty() || o.Embedding.Dirty()
}

// DirtyRoles lists the roles with unsaved edits in display order.
func (o *Orchestrator) DirtyRoles() []Role {
	var out []Role
	for _, role := range Roles {
		if o.roleDirty(role) {
			out = append(out, role)
		}
	}
	return out
}

func (o *Orchestrator) roleDirty(role Role) bool {
	if role == RoleEmbedding {
		return o.Embedding.Dirty()
	}
	return o.LLMForm(role).Dirty()
}

// Slot returns the stored state of an auxiliary role of the active preset.
func (o *Orchestrator) Slot(role Role) (RoleSlot, bool) {
	p, ok := o.Active()
	if !ok {
		return RoleSlot{}, false
	}
	switch role {
	case RoleRAG:
		return p.ConfigData.RAG, true
	case RoleGuard:
		return p.ConfigData.Guard, true
	case RoleStorytelling:
		return p.ConfigData.Storytelling, true
	}
	return RoleSlot{}, false
}

func slotOf(cfg *GlobalConfigSchema, role Role) *RoleSlot {
	switch role {
	case RoleRAG:
		return &cfg.RAG
	case RoleGuard:
		return &cfg.Guard
	case RoleStorytelling:
		return &cfg.Storytelling
	}
	return nil
}

// Open loads every collection the editor needs. The active preset is picked
// once presets arrive.
func (o *Orchestrator) Open(owner string) tea.Cmd {
	if owner == "" {
		o.err = "select a user before opening settings"
		return nil
	}
	o.owner = owner
	o.open = true
	o.err = ""
	o.activeID = ""
	o.pending = Pending{}
	o.resetForms()
	return tea.Batch(o.Providers.Load(), o.Tokens.Load(owner), o.Presets.Load(owner))
}

// Reload refetches presets, keeping the active selection when it survives.
func (o *Orchestrator) Reload() tea.Cmd {
	if !o.open {
		return nil
	}
	return o.Presets.Load(o.owner)
}

func (o *Orchestrator) resetForms() {
	o.save = nil
	o.Main.Reset()
	o.RAG.Reset()
	o.Guard.Reset()
	o.Storytelling.Reset()
	o.Embedding.Reset()
}

func (o *Orchestrator) revertForms() {
	o.save = nil
	o.Main.Revert()
	o.RAG.Revert()
	o.Guard.Revert()
	o.Storytelling.Revert()
	o.Embedding.Revert()
}

func (o *Orchestrator) setActive(id string) {
	o.activeID = id
	p, ok := o.Active()
	if !ok {
		o.activeID = ""
		o.resetForms()
		return
	}
	o.save = nil
	o.reinit(p, nil)
}

// reinit loads every form from p except the roles in skip.
func (o *Orchestrator) reinit(p ConfigPreset, skip map[Role]bool) {
	for _, role := range Roles {
		if skip[role] {
			continue
		}
		o.reinitRole(role, p)
	}
}

func (o *Orchestrator) reinitRole(role Role, p ConfigPreset) {
	switch role {
	case RoleMain:
		o.Main.Init(p.ConfigData.MainModel)
	case RoleEmbedding:
		o.Embedding.Init(p.ConfigData.Embedding)
	default:
		slot := slotOf(&p.ConfigData, role)
		f := o.LLMForm(role)
		if slot.Enabled && slot.Config != nil {
			f.Init(*slot.Config)
		} else {
			f.Reset()
		}
	}
}

func (o *Orchestrator) autoSelect() {
	if p, ok := o.Presets.Default(); ok {
		o.setActive(p.ID)
		return
	}
	if items := o.Presets.Items(); len(items) > 0 {
		o.setActive(items[0].ID)
		return
	}
	o.setActive("")
}

// reselect picks a successor after the active preset was deleted.
func (o *Orchestrator) reselect() {
	if p, ok := o.Presets.Default(); ok {
		o.setActive(p.ID)
		return
	}
	if items := o.Presets.Items(); len(items) > 0 {
		o.setActive(items[len(items)-1].ID)
		return
	}
	o.setActive("")
}

func (o *Orchestrator) guard(action Action, presetID string, perform func() tea.Cmd) tea.Cmd {
	if o.Dirty() {
		o.pending = Pending{Action: action, PresetID: presetID}
		return nil
	}
	return perform()
}

func (o *Orchestrator) RequestSwitch(id string) tea.Cmd {
	if id == o.activeID {
		return nil
	}
	return o.guard(ActionSwitch, id, func() tea.Cmd { return o.doSwitch(id) })
}

func (o *Orchestrator) RequestDelete() tea.Cmd {
	if o.activeID == "" {
		return nil
	}
	return o.guard(ActionDelete, o.activeID, o.doDelete)
}

func (o *Orchestrator) RequestDuplicate() tea.Cmd {
	if o.activeID == "" {
		return nil
	}
	return o.guard(ActionDuplicate, o.activeID, o.doDuplicate)
}

func (o *Orchestrator) RequestClose() tea.Cmd {
	return o.guard(ActionClose, "", o.doClose)
}

// ConfirmDiscard drops every unsaved edit and performs the parked action.
func (o *Orchestrator) ConfirmDiscard() tea.Cmd {
	pending := o.pending
	o.pending = Pending{}
	if pending.Action == ActionNone {
		return nil
	}
	o.revertForms()

	switch pending.Action {
	case ActionSwitch:
		return o.doSwitch(pending.PresetID)
	case ActionDelete:
		return o.doDelete()
	case ActionDuplicate:
		return o.doDuplicate()
	case ActionClose:
		return o.doClose()
	}
	return nil
}

func (o *Orchestrator) CancelPending() {
	o.pending = Pending{}
}

func (o *Orchestrator) doSwitch(id string) tea.Cmd {
	if _, ok := o.Presets.Get(id); !ok {
		o.err = fmt.Sprintf("preset %s not found", id)
		return nil
	}
	o.err = ""
	o.setActive(id)
	return nil
}

func (o *Orchestrator) doDelete() tea.Cmd {
	cmd := o.Presets.Remove(o.owner, o.activeID)
	return func() tea.Msg {
		return deletedMsg{inner: cmd().(store.PresetRemovedMsg)}
	}
}

func (o *Orchestrator) doDuplicate() tea.Cmd {
	p, ok := o.Active()
	if !ok {
		return nil
	}
	fallback := p.FallbackStrategy
	return o.create(PresetCreate{
		Name:             p.Name + " (Copy)",
		Description:      p.Description,
		ConfigData:       p.ConfigData,
		FallbackStrategy: &fallback,
	})
}

func (o *Orchestrator) doClose() tea.Cmd {
	o.open = false
	o.activeID = ""
	o.pending = Pending{}
	o.selectName = ""
	o.reinitSkip = nil
	o.err = ""
	o.resetForms()
	o.Presets.Reset()
	o.Tokens.Reset()
	o.Providers.Reset()
	return func() tea.Msg { return ClosedMsg{} }
}

func (o *Orchestrator) create(payload PresetCreate) tea.Cmd {
	cmd := o.Presets.Create(o.owner, payload)
	return func() tea.Msg {
		return createdMsg{inner: cmd().(store.PresetCreatedMsg)}
	}
}

// CreatePreset creates a preset with the default configuration and makes it
// active once it is listed.
func (o *Orchestrator) CreatePreset(name string, description *string) tea.Cmd {
	if name == "" {
		o.err = "preset name is required"
		return nil
	}
	fallback := DefaultFallbackStrategy()
	return o.create(PresetCreate{
		Name:             name,
		Description:      description,
		ConfigData:       DefaultConfigData(),
		FallbackStrategy: &fallback,
	})
}

func (o *Orchestrator) InitializeDefaults() tea.Cmd {
	cmd := o.Presets.InitializeDefaults(o.owner)
	return func() tea.Msg {
		return createdMsg{inner: cmd().(store.PresetCreatedMsg)}
	}
}

func (o *Orchestrator) Rename(name string) tea.Cmd {
	if o.activeID == "" {
		return nil
	}
	if name == "" {
		o.err = "preset name is required"
		return nil
	}
	return o.Presets.Update(o.owner, o.activeID, PresetUpdate{Name: &name})
}

func (o *Orchestrator) SetDescription(description string) tea.Cmd {
	if o.activeID == "" {
		return nil
	}
	return o.Presets.Update(o.owner, o.activeID, PresetUpdate{Description: &description})
}

func (o *Orchestrator) MakeDefault() tea.Cmd {
	if o.activeID == "" {
		return nil
	}
	isDefault := true
	return o.Presets.Update(o.owner, o.activeID, PresetUpdate{IsDefault: &isDefault})
}

func (o *Orchestrator) UpdateFallback(strategy FallbackStrategy) tea.Cmd {
	if o.activeID == "" {
		return nil
	}
	return o.Presets.Update(o.owner, o.activeID, PresetUpdate{FallbackStrategy: &strategy})
}

func (o *Orchestrator) patchSlot(role Role, mutate func(*RoleSlot)) tea.Cmd {
	p, ok := o.Active()
	if !ok {
		return nil
	}
	cfg := p.ConfigData
	slot := slotOf(&cfg, role)
	if slot == nil {
		return nil
	}
	mutate(slot)

	cmd := o.Presets.Update(o.owner, p.ID, PresetUpdate{ConfigData: &cfg})
	return func() tea.Msg {
		return roleUpdatedMsg{role: role, inner: cmd().(store.PresetUpdatedMsg)}
	}
}

// SetRoleEnabled persists the enabled flag of an auxiliary role. The stored
// config is kept when a role is switched off.
func (o *Orchestrator) SetRoleEnabled(role Role, enabled bool) tea.Cmd {
	return o.patchSlot(role, func(s *RoleSlot) { s.Enabled = enabled })
}

// ClearRoleConfig removes the stored config of an auxiliary role.
func (o *Orchestrator) ClearRoleConfig(role Role) tea.Cmd {
	return o.patchSlot(role, func(s *RoleSlot) { s.Config = nil })
}

// DraftRole seeds an enabled role that has no config yet with a copy of the
// main model settings.
func (o *Orchestrator) DraftRole(role Role) {
	slot, ok := o.Slot(role)
	if !ok || !slot.Enabled || slot.Config != nil {
		return
	}
	f := o.LLMForm(role)
	if _, present := f.Live(); present {
		return
	}
	seed := DefaultLLMConfig()
	if live, present := o.Main.Live(); present {
		seed = live
	}
	f.Draft(seed)
}

// SaveAll writes every dirty form. Each dirty role issues its own update that
// carries all dirty roles merged into one config_data document.
func (o *Orchestrator) SaveAll() tea.Cmd {
	p, ok := o.Active()
	if !ok || !o.Dirty() || o.Saving() {
		return nil
	}

	merged := p.ConfigData
	if live, present := o.Main.Live(); present && o.Main.Dirty() {
		merged.MainModel = live
	}
	for _, role := range AuxRoles {
		f := o.LLMForm(role)
		if live, present := f.Live(); present && f.Dirty() {
			cfg := live
			slotOf(&merged, role).Config = &cfg
		}
	}
	if live, present := o.Embedding.Live(); present && o.Embedding.Dirty() {
		merged.Embedding = live
	}

	owner, id := o.owner, p.ID
	update := func(ctx context.Context) (GlobalConfigSchema, error) {
		doc := merged
		updated, err := o.api.UpdatePreset(ctx, owner, id, PresetUpdate{ConfigData: &doc})
		if err != nil {
			return GlobalConfigSchema{}, err
		}
		return updated.ConfigData, nil
	}

	batch := &saveBatch{remaining: map[string]int{}, failed: map[Role]bool{}}
	var cmds []tea.Cmd

	for _, role := range []Role{RoleMain, RoleRAG, RoleGuard, RoleStorytelling} {
		f := o.LLMForm(role)
		if !f.Dirty() {
			continue
		}
		role := role
		cmds = append(cmds, f.Save(func(ctx context.Context, _ LLMConfigData) (LLMConfigData, error) {
			cfg, err := update(ctx)
			if err != nil {
				return LLMConfigData{}, err
			}
			if role == RoleMain {
				return cfg.MainModel, nil
			}
			slot := slotOf(&cfg, role)
			if slot.Config == nil {
				return LLMConfigData{}, fmt.Errorf("%s config missing from response", role)
			}
			return *slot.Config, nil
		}))
		batch.remaining[f.Key()] = f.Gen()
	}

	if o.Embedding.Dirty() {
		cmds = append(cmds, o.Embedding.Save(func(ctx context.Context, _ EmbeddingConfigData) (EmbeddingConfigData, error) {
			cfg, err := update(ctx)
			if err != nil {
				return EmbeddingConfigData{}, err
			}
			return cfg.Embedding, nil
		}))
		batch.remaining[o.Embedding.Key()] = o.Embedding.Gen()
	}

	o.save = batch
	o.logger.Info("saving preset", zap.String("preset", id), zap.Int("updates", len(cmds)))
	return tea.Batch(cmds...)
}

func (o *Orchestrator) settle(msg form.SavedMsg) bool {
	switch Role(msg.Key) {
	case RoleEmbedding:
		return o.Embedding.Settle(msg)
	default:
		if f := o.LLMForm(Role(msg.Key)); f != nil {
			return f.Settle(msg)
		}
	}
	return false
}

// Update reacts to effect results. Store messages must already have been
// applied to their store.
func (o *Orchestrator) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case store.PresetsLoadedMsg:
		if !o.open || !o.Presets.IsCurrent(msg) || msg.Err != nil {
			return nil
		}
		o.afterLoad()

	case form.SavedMsg:
		if !o.settle(msg) || o.save == nil {
			return nil
		}
		if gen, ok := o.save.remaining[msg.Key]; !ok || gen != msg.Gen {
			return nil
		}
		delete(o.save.remaining, msg.Key)
		if msg.Err != nil {
			o.save.failed[Role(msg.Key)] = true
		}
		if len(o.save.remaining) > 0 {
			return nil
		}
		o.reinitSkip = o.save.failed
		o.save = nil
		return o.Presets.Load(o.owner)

	case createdMsg:
		if !o.Presets.Accepts(msg.inner.Epoch) {
			return nil
		}
		o.Presets.Apply(msg.inner)
		if msg.inner.Err != nil || !o.open {
			return nil
		}
		o.selectName = msg.inner.Preset.Name
		return o.Presets.Load(o.owner)

	case deletedMsg:
		if !o.Presets.Accepts(msg.inner.Epoch) {
			return nil
		}
		o.Presets.Apply(msg.inner)
		if msg.inner.Err != nil || !o.open {
			return nil
		}
		if msg.inner.ID == o.activeID {
			o.reselect()
		}

	case roleUpdatedMsg:
		if !o.Presets.Accepts(msg.inner.Epoch) {
			return nil
		}
		o.Presets.Apply(msg.inner)
		if msg.inner.Err != nil || msg.inner.ID != o.activeID {
			return nil
		}
		o.reinitRole(msg.role, msg.inner.Preset)
	}
	return nil
}

func (o *Orchestrator) afterLoad() {
	if o.selectName != "" {
		name := o.selectName
		o.selectName = ""
		if p, ok := o.Presets.FindByName(name); ok {
			o.setActive(p.ID)
			return
		}
	}

	p, ok := o.Active()
	if !ok {
		o.autoSelect()
		return
	}

	if o.reinitSkip != nil {
		skip := o.reinitSkip
		o.reinitSkip = nil
		o.reinit(p, skip)
	}
}
