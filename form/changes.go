package form

import (
	"maps"
	"slices"

	. "talespinner/types"
)

type LLMProvider ProviderType

func (c LLMProvider) Apply(d LLMConfigData) LLMConfigData {
	d.Provider = ProviderType(c)
	return d
}

type LLMModel string

func (c LLMModel) Apply(d LLMConfigData) LLMConfigData {
	d.ModelID = string(c)
	return d
}

type LLMTokens []string

func (c LLMTokens) Apply(d LLMConfigData) LLMConfigData {
	d.TokenIDs = slices.Clone([]string(c))
	return d
}

type LLMStrategy TokenSelectionStrategy

func (c LLMStrategy) Apply(d LLMConfigData) LLMConfigData {
	d.TokenSelectionStrategy = TokenSelectionStrategy(c)
	return d
}

// LLMSampler replaces the sampler settings as a whole.
type LLMSampler SamplerSettings

func (c LLMSampler) Apply(d LLMConfigData) LLMConfigData {
	s := SamplerSettings(c)
	s.StopSequences = slices.Clone(s.StopSequences)
	d.SamplerSettings = s
	return d
}

type LLMProviderSettings map[string]any

func (c LLMProviderSettings) Apply(d LLMConfigData) LLMConfigData {
	d.ProviderSettings = maps.Clone(map[string]any(c))
	return d
}

// LLMBaseURL sets the endpoint override; nil clears it.
type LLMBaseURL struct{ URL *string }

func (c LLMBaseURL) Apply(d LLMConfigData) LLMConfigData {
	d.BaseURL = cloneString(c.URL)
	return d
}

type LLMHeaders map[string]any

func (c LLMHeaders) Apply(d LLMConfigData) LLMConfigData {
	d.HTTPHeaders = maps.Clone(map[string]any(c))
	return d
}

type EmbeddingProvider ProviderType

func (c EmbeddingProvider) Apply(d EmbeddingConfigData) EmbeddingConfigData {
	d.Provider = ProviderType(c)
	return d
}

type EmbeddingModel string

func (c EmbeddingModel) Apply(d EmbeddingConfigData) EmbeddingConfigData {
	d.ModelID = string(c)
	return d
}

type EmbeddingTokens []string

func (c EmbeddingTokens) Apply(d EmbeddingConfigData) EmbeddingConfigData {
	d.TokenIDs = slices.Clone([]string(c))
	return d
}

// EmbeddingDimensions sets the vector size; nil lets the model decide.
type EmbeddingDimensions struct{ Value *int }

func (c EmbeddingDimensions) Apply(d EmbeddingConfigData) EmbeddingConfigData {
	if c.Value == nil {
		d.Dimensions = nil
		return d
	}
	v := *c.Value
	d.Dimensions = &v
	return d
}

type EmbeddingBatchSize int

func (c EmbeddingBatchSize) Apply(d EmbeddingConfigData) EmbeddingConfigData {
	d.BatchSize = int(c)
	return d
}

type EmbeddingProviderSettings map[string]any

func (c EmbeddingProviderSettings) Apply(d EmbeddingConfigData) EmbeddingConfigData {
	d.ProviderSettings = maps.Clone(map[string]any(c))
	return d
}

type EmbeddingBaseURL struct{ URL *string }

func (c EmbeddingBaseURL) Apply(d EmbeddingConfigData) EmbeddingConfigData {
	d.BaseURL = cloneString(c.URL)
	return d
}

type EmbeddingHeaders map[string]any

func (c EmbeddingHeaders) Apply(d EmbeddingConfigData) EmbeddingConfigData {
	d.HTTPHeaders = maps.Clone(map[string]any(c))
	return d
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
