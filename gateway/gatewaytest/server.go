// Package gatewaytest runs an in-memory talespinner backend for tests.
package gatewaytest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	. "talespinner/types"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Request struct {
	Method string
	Path   string
	UserID string
	Body   []byte
}

type failure struct {
	status int
	body   string
}

// Server is a fake backend. Collections are exported so tests can seed and
// inspect them; access them only while no request is in flight.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	Providers []ProviderInfo
	Models    map[ProviderType][]ProviderModelInfo
	Tokens    []Token
	Presets   []ConfigPreset
	Users     []User
	Runs      map[string][]RunEvent
	Answers   map[string]map[string]HitlAnswer
	// HoldStreams keeps event streams open after the scripted events.
	HoldStreams bool

	requests []Request
	failures map[string]failure
}

func New(t testing.TB) *Server {
	s := &Server{
		Models:   map[ProviderType][]ProviderModelInfo{},
		Runs:     map[string][]RunEvent{},
		Answers:  map[string]map[string]HitlAnswer{},
		failures: map[string]failure{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// Fail makes every request matching method and path answer with status and
// the raw body.
func (s *Server) Fail(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, body: body}
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests hit method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/providers", s.listProviders)
		r.Get("/providers/{id}/models", s.listModels)

		r.Get("/tokens", s.listTokens)
		r.Post("/tokens", s.createToken)
		r.Get("/tokens/{id}", s.getToken)
		r.Patch("/tokens/{id}", s.updateToken)
		r.Delete("/tokens/{id}", s.deleteToken)

		r.Get("/presets", s.listPresets)
		r.Post("/presets", s.createPreset)
		r.Get("/presets/default", s.defaultPreset)
		r.Post("/presets/initialize-defaults", s.initializeDefaults)
		r.Get("/presets/{id}", s.getPreset)
		r.Patch("/presets/{id}", s.updatePreset)
		r.Delete("/presets/{id}", s.deletePreset)

		r.Get("/users", s.listUsers)
		r.Post("/users", s.createUser)
		r.Get("/users/{id}", s.getUser)
		r.Patch("/users/{id}/password", s.updatePassword)
		r.Delete("/users/{id}", s.deleteUser)

		r.Post("/world-architect/runs", s.startRun)
		r.Post("/world-architect/runs/{id}/answers", s.submitAnswers)
		r.Get("/runs/{id}/events", s.streamEvents)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			UserID: r.Header.Get("X-User-Id"),
			Body:   body,
		})
		f, failing := s.failures[r.Method+" "+r.URL.Path]
		s.mu.Unlock()

		if failing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get("X-User-Id")
	if owner == "" {
		writeDetail(w, http.StatusUnauthorized, "X-User-Id header is required")
		return "", false
	}
	return owner, true
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.Providers))
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	provider := ProviderType(chi.URLParam(r, "id"))
	kind := ModelType(r.URL.Query().Get("model_type"))

	s.mu.Lock()
	defer s.mu.Unlock()
	all, ok := s.Models[provider]
	if !ok {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Unknown provider: %s", provider))
		return
	}
	models := []ProviderModelInfo{}
	for _, m := range all {
		if kind == "" || m.ModelType == kind {
			models = append(models, m)
		}
	}
	writeJSON(w, http.StatusOK, ProviderModelsResponse{
		Provider: provider,
		Models:   models,
		Cached:   r.URL.Query().Get("force_refresh") != "true",
	})
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Token{}
	for _, t := range s.Tokens {
		if t.UserID == owner {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.Tokens {
		if t.ID == chi.URLParam(r, "id") {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Token not found")
}

func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload TokenCreate
	if err := decode(r, &payload); err != nil || payload.Name == "" || payload.Token == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "name and token are required"}},
		})
		return
	}
	now := time.Now().UTC()
	token := Token{
		ID:        uuid.NewString(),
		UserID:    owner,
		Provider:  payload.Provider,
		Name:      payload.Name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.Tokens = append(s.Tokens, token)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, token)
}

func (s *Server) updateToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var patch TokenUpdate
	if err := decode(r, &patch); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.Tokens {
		if t.ID != chi.URLParam(r, "id") {
			continue
		}
		if patch.Name != nil {
			t.Name = *patch.Name
		}
		if patch.IsActive != nil {
			t.IsActive = *patch.IsActive
		}
		t.UpdatedAt = time.Now().UTC()
		s.Tokens[i] = t
		writeJSON(w, http.StatusOK, t)
		return
	}
	writeDetail(w, http.StatusNotFound, "Token not found")
}

func (s *Server) deleteToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.Tokens {
		if t.ID == chi.URLParam(r, "id") {
			s.Tokens = append(s.Tokens[:i], s.Tokens[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Token not found")
}

func (s *Server) listPresets(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ConfigPreset{}
	for _, p := range s.Presets {
		if p.UserID == owner {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPreset(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.presetIndex(chi.URLParam(r, "id")); i >= 0 {
		writeJSON(w, http.StatusOK, s.Presets[i])
		return
	}
	writeDetail(w, http.StatusNotFound, "Preset not found")
}

func (s *Server) defaultPreset(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Presets {
		if p.UserID == owner && p.IsDefault {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "No default preset")
}

func (s *Server) createPreset(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload PresetCreate
	if err := decode(r, &payload); err != nil || payload.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "name is required"}},
		})
		return
	}
	fallback := DefaultFallbackStrategy()
	if payload.FallbackStrategy != nil {
		fallback = *payload.FallbackStrategy
	}
	now := time.Now().UTC()
	preset := ConfigPreset{
		ID:               uuid.NewString(),
		UserID:           owner,
		Name:             payload.Name,
		Description:      payload.Description,
		IsDefault:        payload.IsDefault,
		ConfigData:       payload.ConfigData,
		FallbackStrategy: fallback,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if preset.IsDefault {
		s.clearDefault(owner)
	}
	s.Presets = append(s.Presets, preset)
	writeJSON(w, http.StatusCreated, preset)
}

func (s *Server) initializeDefaults(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	description := "Automatically created default configuration"
	now := time.Now().UTC()
	preset := ConfigPreset{
		ID:               uuid.NewString(),
		UserID:           owner,
		Name:             "Default Preset",
		Description:      &description,
		IsDefault:        true,
		ConfigData:       DefaultConfigData(),
		FallbackStrategy: DefaultFallbackStrategy(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearDefault(owner)
	s.Presets = append(s.Presets, preset)
	writeJSON(w, http.StatusCreated, preset)
}

func (s *Server) updatePreset(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	var patch PresetUpdate
	if err := decode(r, &patch); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.presetIndex(chi.URLParam(r, "id"))
	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Preset not found")
		return
	}
	p := s.Presets[i]
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = patch.Description
	}
	if patch.ConfigData != nil {
		p.ConfigData = *patch.ConfigData
	}
	if patch.FallbackStrategy != nil {
		p.FallbackStrategy = *patch.FallbackStrategy
	}
	if patch.IsDefault != nil {
		if *patch.IsDefault {
			s.clearDefault(owner)
		}
		p.IsDefault = *patch.IsDefault
	}
	p.UpdatedAt = time.Now().UTC()
	s.Presets[i] = p
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePreset(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.presetIndex(chi.URLParam(r, "id"))
	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Preset not found")
		return
	}
	s.Presets = append(s.Presets[:i], s.Presets[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) presetIndex(id string) int {
	for i, p := range s.Presets {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) clearDefault(owner string) {
	for i := range s.Presets {
		if s.Presets[i].UserID == owner {
			s.Presets[i].IsDefault = false
		}
	}
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.Users))
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if u.ID == chi.URLParam(r, "id") {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "User not found")
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var payload UserCreate
	if err := decode(r, &payload); err != nil || payload.Name == "" {
		writeDetail(w, http.StatusBadRequest, "name is required")
		return
	}
	user := User{
		ID:          uuid.NewString(),
		Name:        payload.Name,
		HasPassword: payload.Password != nil && *payload.Password != "",
	}
	s.mu.Lock()
	s.Users = append(s.Users, user)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) updatePassword(w http.ResponseWriter, r *http.Request) {
	var payload PasswordUpdate
	if err := decode(r, &payload); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.Users {
		if u.ID == chi.URLParam(r, "id") {
			u.HasPassword = payload.Password != nil && *payload.Password != ""
			s.Users[i] = u
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "User not found")
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.Users {
		if u.ID == chi.URLParam(r, "id") {
			s.Users = append(s.Users[:i], s.Users[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "User not found")
}

// Script registers the events streamed for the next started run and returns
// its id.
func (s *Server) Script(events ...RunEvent) string {
	runID := uuid.NewString()
	for i := range events {
		events[i].RunID = runID
		events[i].Seq = i + 1
	}
	s.mu.Lock()
	s.Runs[runID] = events
	s.mu.Unlock()
	return runID
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var payload WorldArchitectStart
	if err := decode(r, &payload); err != nil || payload.WorldDescription == "" {
		writeDetail(w, http.StatusBadRequest, "world_description is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.Runs {
		if _, used := s.Answers[id]; !used {
			s.Answers[id] = map[string]HitlAnswer{}
			writeJSON(w, http.StatusOK, RunCreateResponse{RunID: id})
			return
		}
	}
	id := uuid.NewString()
	s.Runs[id] = nil
	s.Answers[id] = map[string]HitlAnswer{}
	writeJSON(w, http.StatusOK, RunCreateResponse{RunID: id})
}

func (s *Server) submitAnswers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var payload SubmitAnswers
	if err := decode(r, &payload); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := s.Runs[id]; !ok {
		writeDetail(w, http.StatusNotFound, "Run not found")
		return
	}
	s.Answers[id] = payload.Answers
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	events, ok := s.Runs[chi.URLParam(r, "id")]
	hold := s.HoldStreams
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	fmt.Fprint(w, ": ping\n\n")
	if flusher != nil {
		flusher.Flush()
	}
	for _, event := range events {
		data, _ := json.Marshal(event)
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if hold {
		<-r.Context().Done()
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
