package store

import (
	"context"

	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

type PresetsLoadedMsg struct {
	Epoch   int
	Gen     int
	Presets []ConfigPreset
	Err     error
}

type PresetFetchedMsg struct {
	Epoch  int
	Preset ConfigPreset
	Err    error
}

type PresetCreatedMsg struct {
	Epoch  int
	Preset ConfigPreset
	Err    error
}

type PresetUpdatedMsg struct {
	Epoch  int
	ID     string
	Preset ConfigPreset
	Err    error
}

type PresetRemovedMsg struct {
	Epoch int
	ID    string
	Err   error
}

type Presets struct {
	status
	api    PresetAPI
	logger *zap.Logger
	items  []ConfigPreset
	gen    int
}

func NewPresets(api PresetAPI, logger *zap.Logger) *Presets {
	return &Presets{api: api, logger: logger}
}

func presetID(p ConfigPreset) string { return p.ID }

func (s *Presets) Items() []ConfigPreset {
	return s.items
}

func (s *Presets) Get(id string) (ConfigPreset, bool) {
	for _, p := range s.items {
		if p.ID == id {
			return p, true
		}
	}
	return ConfigPreset{}, false
}

// Default returns the first preset flagged as default.
func (s *Presets) Default() (ConfigPreset, bool) {
	for _, p := range s.items {
		if p.IsDefault {
			return p, true
		}
	}
	return ConfigPreset{}, false
}

func (s *Presets) FindByName(name string) (ConfigPreset, bool) {
	for _, p := range s.items {
		if p.Name == name {
			return p, true
		}
	}
	return ConfigPreset{}, false
}

// IsCurrent reports whether msg answers the most recent Load.
func (s *Presets) IsCurrent(msg PresetsLoadedMsg) bool {
	return msg.Gen == s.gen
}

func (s *Presets) Load(owner string) tea.Cmd {
	s.gen++
	epoch, gen := s.begin(), s.gen
	return func() tea.Msg {
		presets, err := s.api.ListPresets(context.Background(), owner)
		return PresetsLoadedMsg{Epoch: epoch, Gen: gen, Presets: presets, Err: err}
	}
}

func (s *Presets) Fetch(owner, id string) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		preset, err := s.api.GetPreset(context.Background(), owner, id)
		return PresetFetchedMsg{Epoch: epoch, Preset: preset, Err: err}
	}
}

func (s *Presets) Create(owner string, payload PresetCreate) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		preset, err := s.api.CreatePreset(context.Background(), owner, payload)
		return PresetCreatedMsg{Epoch: epoch, Preset: preset, Err: err}
	}
}

func (s *Presets) InitializeDefaults(owner string) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		preset, err := s.api.InitializeDefaults(context.Background(), owner)
		return PresetCreatedMsg{Epoch: epoch, Preset: preset, Err: err}
	}
}

func (s *Presets) Update(owner, id string, patch PresetUpdate) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		preset, err := s.api.UpdatePreset(context.Background(), owner, id, patch)
		return PresetUpdatedMsg{Epoch: epoch, ID: id, Preset: preset, Err: err}
	}
}

func (s *Presets) Remove(owner, id string) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		return PresetRemovedMsg{Epoch: epoch, ID: id, Err: s.api.DeletePreset(context.Background(), owner, id)}
	}
}

// Reset drops the collection and discards every in-flight operation.
func (s *Presets) Reset() {
	s.items = nil
	s.reset()
	s.gen++
}

func (s *Presets) Apply(msg tea.Msg) {
	switch msg := msg.(type) {
	case PresetsLoadedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		if !s.IsCurrent(msg) {
			s.logger.Debug("discarding stale preset load", zap.Int("gen", msg.Gen), zap.Int("current", s.gen))
			s.end(nil)
			return
		}
		s.end(msg.Err)
		if msg.Err == nil {
			s.items = msg.Presets
		}

	case PresetFetchedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		s.end(msg.Err)
		if msg.Err != nil {
			return
		}
		if _, ok := s.Get(msg.Preset.ID); ok {
			s.items = replaceByID(s.items, presetID, msg.Preset)
		} else {
			s.items = append(append([]ConfigPreset(nil), s.items...), msg.Preset)
		}

	case PresetCreatedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		s.end(msg.Err)
		if msg.Err != nil {
			s.logger.Warn("create preset failed", zap.Error(msg.Err))
			return
		}
		items := s.items
		if msg.Preset.IsDefault {
			items = clearDefault(items)
		}
		s.items = append(append([]ConfigPreset(nil), items...), msg.Preset)

	case PresetUpdatedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		s.end(msg.Err)
		if msg.Err != nil {
			s.logger.Warn("update preset failed", zap.String("id", msg.ID), zap.Error(msg.Err))
			return
		}
		items := s.items
		if msg.Preset.IsDefault {
			items = clearDefault(items)
		}
		s.items = replaceByID(items, presetID, msg.Preset)

	case PresetRemovedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		s.end(msg.Err)
		if msg.Err != nil {
			s.logger.Warn("delete preset failed", zap.String("id", msg.ID), zap.Error(msg.Err))
			return
		}
		s.items = removeByID(s.items, presetID, msg.ID)
	}
}

func clearDefault(items []ConfigPreset) []ConfigPreset {
	out := make([]ConfigPreset, len(items))
	for i, p := range items {
		p.IsDefault = false
		out[i] = p
	}
	return out
}
