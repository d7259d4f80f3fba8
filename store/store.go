// Package store keeps client-side copies of the backend collections. Every
// operation returns a tea.Cmd; the resulting message must be passed back to
// the owning store's Update on the event loop.
package store

import (
	"context"

	"talespinner/gateway"
	. "talespinner/types"
)

type ProviderAPI interface {
	ListProviders(ctx context.Context) ([]ProviderInfo, error)
	ListProviderModels(ctx context.Context, q gateway.ModelsQuery) (ProviderModelsResponse, error)
}

type TokenAPI interface {
	ListTokens(ctx context.Context, owner string) ([]Token, error)
	GetToken(ctx context.Context, owner, id string) (Token, error)
	CreateToken(ctx context.Context, owner string, payload TokenCreate) (Token, error)
	UpdateToken(ctx context.Context, owner, id string, patch TokenUpdate) (Token, error)
	DeleteToken(ctx context.Context, owner, id string) error
}

type PresetAPI interface {
	ListPresets(ctx context.Context, owner string) ([]ConfigPreset, error)
	GetPreset(ctx context.Context, owner, id string) (ConfigPreset, error)
	CreatePreset(ctx context.Context, owner string, payload PresetCreate) (ConfigPreset, error)
	InitializeDefaults(ctx context.Context, owner string) (ConfigPreset, error)
	UpdatePreset(ctx context.Context, owner, id string, patch PresetUpdate) (ConfigPreset, error)
	DeletePreset(ctx context.Context, owner, id string) error
}

// status tracks in-flight operations and the last error of one collection.
// The error is cleared whenever a new operation starts. Every completion
// carries the epoch it was started in; reset starts a new epoch so results
// of operations issued before it are dropped.
type status struct {
	inflight int
	epoch    int
	err      string
}

func (s *status) begin() int {
	s.inflight++
	s.err = ""
	return s.epoch
}

func (s *status) end(err error) {
	if s.inflight > 0 {
		s.inflight--
	}
	if err != nil {
		s.err = err.Error()
	}
}

func (s *status) reset() {
	s.inflight = 0
	s.err = ""
	s.epoch++
}

// Accepts reports whether a completion started in epoch still belongs to
// the collection.
func (s *status) Accepts(epoch int) bool {
	return epoch == s.epoch
}

func (s *status) Loading() bool {
	return s.inflight > 0
}

func (s *status) Err() string {
	return s.err
}

func replaceByID[T any](items []T, id func(T) string, item T) []T {
	out := make([]T, len(items))
	copy(out, items)
	for i := range out {
		if id(out[i]) == id(item) {
			out[i] = item
			return out
		}
	}
	return out
}

func removeByID[T any](items []T, id func(T) string, target string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if id(item) != target {
			out = append(out, item)
		}
	}
	return out
}
