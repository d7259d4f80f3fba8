package types

import "time"

type ProviderType string

const (
	ProviderOpenRouter       ProviderType = "openrouter"
	ProviderOllama           ProviderType = "ollama"
	ProviderOpenAICompatible ProviderType = "openai_compatible"
)

type ModelType string

const (
	ModelTypeLLM       ModelType = "llm"
	ModelTypeEmbedding ModelType = "embedding"
)

type TokenSelectionStrategy string

const (
	StrategyRandom     TokenSelectionStrategy = "random"
	StrategySequential TokenSelectionStrategy = "sequential"
	StrategyFailover   TokenSelectionStrategy = "failover"
)

type ProviderInfo struct {
	ID                ProviderType `json:"id"`
	Name              string       `json:"name"`
	SupportsLLM       bool         `json:"supports_llm"`
	SupportsEmbedding bool         `json:"supports_embedding"`
	RequiresAPIKey    bool         `json:"requires_api_key"`
}

type ProviderModelInfo struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Provider      ProviderType `json:"provider"`
	ModelType     ModelType    `json:"model_type"`
	ContextLength *int         `json:"context_length"`
	Description   *string      `json:"description"`
}

type ProviderModelsResponse struct {
	Provider ProviderType        `json:"provider"`
	Models   []ProviderModelInfo `json:"models"`
	Cached   bool                `json:"cached"`
}

// Token is a stored provider credential. The secret itself is write-only and
// only appears in TokenCreate and TokenUpdate.
type Token struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Provider  ProviderType `json:"provider"`
	Name      string       `json:"name"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type TokenCreate struct {
	Provider ProviderType `json:"provider"`
	Name     string       `json:"name"`
	Token    string       `json:"token"`
}

type TokenUpdate struct {
	Name     *string `json:"name,omitempty"`
	Token    *string `json:"token,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type SamplerSettings struct {
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	TopK             *int     `json:"top_k"`
	MaxTokens        int      `json:"max_tokens"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	StopSequences    []string `json:"stop_sequences"`
}

type LLMConfigData struct {
	Provider               ProviderType           `json:"provider"`
	ModelID                string                 `json:"model_id"`
	TokenIDs               []string               `json:"token_ids"`
	TokenSelectionStrategy TokenSelectionStrategy `json:"token_selection_strategy"`
	SamplerSettings        SamplerSettings        `json:"sampler_settings"`
	ProviderSettings       map[string]any         `json:"provider_settings"`
	BaseURL                *string                `json:"base_url,omitempty"`
	HTTPHeaders            map[string]any         `json:"http_headers,omitempty"`
}

type EmbeddingConfigData struct {
	Provider         ProviderType   `json:"provider"`
	ModelID          string         `json:"model_id"`
	TokenIDs         []string       `json:"token_ids"`
	Dimensions       *int           `json:"dimensions"`
	BatchSize        int            `json:"batch_size"`
	ProviderSettings map[string]any `json:"provider_settings"`
	BaseURL          *string        `json:"base_url,omitempty"`
	HTTPHeaders      map[string]any `json:"http_headers,omitempty"`
}

// RoleSlot wraps an auxiliary model role. A disabled slot may carry a stale
// config which must never be used for generation.
type RoleSlot struct {
	Enabled bool           `json:"enabled"`
	Config  *LLMConfigData `json:"config"`
}

// Ready reports whether the role is enabled and configured.
func (s RoleSlot) Ready() bool {
	return s.Enabled && s.Config != nil
}

type GlobalConfigSchema struct {
	MainModel    LLMConfigData       `json:"main_model"`
	RAG          RoleSlot            `json:"rag"`
	Guard        RoleSlot            `json:"guard"`
	Storytelling RoleSlot            `json:"storytelling"`
	Embedding    EmbeddingConfigData `json:"embedding"`
}

type FallbackStrategy struct {
	UseMainForUnset    bool     `json:"use_main_for_unset"`
	ModelFallbackOrder []string `json:"model_fallback_order"`
	TimeoutSeconds     int      `json:"timeout_seconds"`
	MaxRetries         int      `json:"max_retries"`
}

type ConfigPreset struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	Name             string             `json:"name"`
	Description      *string            `json:"description"`
	IsDefault        bool               `json:"is_default"`
	ConfigData       GlobalConfigSchema `json:"config_data"`
	FallbackStrategy FallbackStrategy   `json:"fallback_strategy"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type PresetCreate struct {
	Name             string             `json:"name"`
	Description      *string            `json:"description,omitempty"`
	IsDefault        bool               `json:"is_default,omitempty"`
	ConfigData       GlobalConfigSchema `json:"config_data"`
	FallbackStrategy *FallbackStrategy  `json:"fallback_strategy,omitempty"`
}

// PresetUpdate is a partial update; nil fields are left untouched server-side.
type PresetUpdate struct {
	Name             *string             `json:"name,omitempty"`
	Description      *string             `json:"description,omitempty"`
	IsDefault        *bool               `json:"is_default,omitempty"`
	ConfigData       *GlobalConfigSchema `json:"config_data,omitempty"`
	FallbackStrategy *FallbackStrategy   `json:"fallback_strategy,omitempty"`
}

const (
	DefaultLLMModel       = "openai/gpt-4o-mini"
	DefaultEmbeddingModel = "nomic-embed-text"
)

func DefaultSamplerSettings() SamplerSettings {
	return SamplerSettings{
		Temperature:   0.7,
		TopP:          1.0,
		MaxTokens:     4096,
		StopSequences: []string{},
	}
}

func DefaultLLMConfig() LLMConfigData {
	return LLMConfigData{
		Provider:               ProviderOpenRouter,
		ModelID:                DefaultLLMModel,
		TokenIDs:               []string{},
		TokenSelectionStrategy: StrategyFailover,
		SamplerSettings:        DefaultSamplerSettings(),
		ProviderSettings:       map[string]any{},
	}
}

func DefaultEmbeddingConfig() EmbeddingConfigData {
	return EmbeddingConfigData{
		Provider:         ProviderOllama,
		ModelID:          DefaultEmbeddingModel,
		TokenIDs:         []string{},
		BatchSize:        100,
		ProviderSettings: map[string]any{},
	}
}

// DefaultConfigData is the full document every new preset starts from.
// Auxiliary roles start disabled and unconfigured.
func DefaultConfigData() GlobalConfigSchema {
	return GlobalConfigSchema{
		MainModel: DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
	}
}

func DefaultFallbackStrategy() FallbackStrategy {
	return FallbackStrategy{
		UseMainForUnset:    true,
		ModelFallbackOrder: []string{},
		TimeoutSeconds:     30,
		MaxRetries:         3,
	}
}
