package gateway

import (
	"context"
	"net/http"
	"net/url"

	. "talespinner/types"
)

type ModelsQuery struct {
	Provider     ProviderType
	ModelType    ModelType
	ForceRefresh bool
	APIKey       string
	BaseURL      string
}

func (c *Client) ListProviders(ctx context.Context) ([]ProviderInfo, error) {
	var providers []ProviderInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/providers", "", nil, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (c *Client) ListProviderModels(ctx context.Context, q ModelsQuery) (ProviderModelsResponse, error) {
	params := url.Values{}
	if q.ModelType != "" {
		params.Set("model_type", string(q.ModelType))
	}
	if q.ForceRefresh {
		params.Set("force_refresh", "true")
	}
	if q.APIKey != "" {
		params.Set("api_key", q.APIKey)
	}
	if q.BaseURL != "" {
		params.Set("base_url", q.BaseURL)
	}

	path := "/api/v1/providers/" + url.PathEscape(string(q.Provider)) + "/models"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp ProviderModelsResponse
	err := c.do(ctx, http.MethodGet, path, "", nil, &resp)
	return resp, err
}

func (c *Client) ListTokens(ctx context.Context, owner string) ([]Token, error) {
	var tokens []Token
	if err := c.do(ctx, http.MethodGet, "/api/v1/tokens", owner, nil, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (c *Client) GetToken(ctx context.Context, owner, id string) (Token, error) {
	var token Token
	err := c.do(ctx, http.MethodGet, "/api/v1/tokens/"+url.PathEscape(id), owner, nil, &token)
	return token, err
}

func (c *Client) CreateToken(ctx context.Context, owner string, payload TokenCreate) (Token, error) {
	var token Token
	err := c.do(ctx, http.MethodPost, "/api/v1/tokens", owner, payload, &token)
	return token, err
}

func (c *Client) UpdateToken(ctx context.Context, owner, id string, patch TokenUpdate) (Token, error) {
	var token Token
	err := c.do(ctx, http.MethodPatch, "/api/v1/tokens/"+url.PathEscape(id), owner, patch, &token)
	return token, err
}

func (c *Client) DeleteToken(ctx context.Context, owner, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tokens/"+url.PathEscape(id), owner, nil, nil)
}

func (c *Client) ListPresets(ctx context.Context, owner string) ([]ConfigPreset, error) {
	var presets []ConfigPreset
	if err := c.do(ctx, http.MethodGet, "/api/v1/presets", owner, nil, &presets); err != nil {
		return nil, err
	}
	return presets, nil
}

func (c *Client) GetPreset(ctx context.Context, owner, id string) (ConfigPreset, error) {
	var preset ConfigPreset
	err := c.do(ctx, http.MethodGet, "/api/v1/presets/"+url.PathEscape(id), owner, nil, &preset)
	return preset, err
}

// GetDefaultPreset returns nil without error when the owner has no default.
func (c *Client) GetDefaultPreset(ctx context.Context, owner string) (*ConfigPreset, error) {
	var preset ConfigPreset
	if err := c.do(ctx, http.MethodGet, "/api/v1/presets/default", owner, nil, &preset); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &preset, nil
}

func (c *Client) CreatePreset(ctx context.Context, owner string, payload PresetCreate) (ConfigPreset, error) {
	var preset ConfigPreset
	err := c.do(ctx, http.MethodPost, "/api/v1/presets", owner, payload, &preset)
	return preset, err
}

func (c *Client) InitializeDefaults(ctx context.Context, owner string) (ConfigPreset, error) {
	var preset ConfigPreset
	err := c.do(ctx, http.MethodPost, "/api/v1/presets/initialize-defaults", owner, nil, &preset)
	return preset, err
}

func (c *Client) UpdatePreset(ctx context.Context, owner, id string, patch PresetUpdate) (ConfigPreset, error) {
	var preset ConfigPreset
	err := c.do(ctx, http.MethodPatch, "/api/v1/presets/"+url.PathEscape(id), owner, patch, &preset)
	return preset, err
}

func (c *Client) DeletePreset(ctx context.Context, owner, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/presets/"+url.PathEscape(id), owner, nil, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/api/v1/users", "", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(id), "", nil, &user)
	return user, err
}

func (c *Client) CreateUser(ctx context.Context, payload UserCreate) (User, error) {
	var user User
	err := c.do(ctx, http.MethodPost, "/api/v1/users", "", payload, &user)
	return user, err
}

func (c *Client) UpdateUserPassword(ctx context.Context, id string, password *string) (User, error) {
	var user User
	path := "/api/v1/users/" + url.PathEscape(id) + "/password"
	err := c.do(ctx, http.MethodPatch, path, "", PasswordUpdate{Password: password}, &user)
	return user, err
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/users/"+url.PathEscape(id), "", nil, nil)
}

func (c *Client) StartWorldRun(ctx context.Context, owner string, payload WorldArchitectStart) (string, error) {
	var resp RunCreateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/world-architect/runs", owner, payload, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

func (c *Client) SubmitAnswers(ctx context.Context, owner, runID string, answers map[string]HitlAnswer) error {
	path := "/api/v1/world-architect/runs/" + url.PathEscape(runID) + "/answers"
	return c.do(ctx, http.MethodPost, path, owner, SubmitAnswers{Answers: answers}, nil)
}
