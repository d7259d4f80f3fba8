package app

import (
	"encoding/json"
	"testing"
	"time"

	"talespinner/config"
	"talespinner/db"
	"talespinner/gateway"
	"talespinner/gateway/gatewaytest"
	"talespinner/world"
	. "talespinner/types"

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

func newApp(t *testing.T, kv mapKV) (*App, *gatewaytest.Server) {
	t.Helper()
	srv := gatewaytest.New(t)
	srv.Users = []User{{ID: "u1", Name: "Ada"}}
	client := gateway.New(gateway.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	return Wire(config.DefaultAppConfig(), client, kv, nil), srv
}

// run drives cmd and every follow-up through the app until nothing is left.
func run(a *App, cmd tea.Cmd) {
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		msg := next()
		if batch, ok := msg.(tea.BatchMsg); ok {
			queue = append(queue, batch...)
			continue
		}
		queue = append(queue, a.Update(msg))
	}
}

func TestStartRestoresUserAndOpensSettings(t *testing.T) {
	a, srv := newApp(t, mapKV{db.KeyCurrentUser: "u1"})
	run(a, a.Start())
	require.Equal(t, "u1", a.Users.CurrentUserID())

	run(a, a.OpenSettings())
	assert.True(t, a.Settings.IsOpen())
	assert.Empty(t, a.Settings.ActiveID(), "no presets yet")

	run(a, a.Settings.InitializeDefaults())
	active, ok := a.Settings.Active()
	require.True(t, ok)
	assert.True(t, active.IsDefault)
	for _, req := range srv.Requests() {
		if req.Path != "/api/v1/providers" && req.Path != "/api/v1/users" && req.Path != "/api/v1/users/u1" {
			assert.Equal(t, "u1", req.UserID, req.Path)
		}
	}
}

func TestOpenSettingsWithoutUser(t *testing.T) {
	a, _ := newApp(t, mapKV{})
	run(a, a.Start())
	assert.Nil(t, a.OpenSettings())
	assert.NotEmpty(t, a.Settings.Err())
}

func TestWizardRunsAgainstBackend(t *testing.T) {
	a, srv := newApp(t, mapKV{})
	run(a, a.Start())
	run(a, a.SelectUser("u1"))

	srv.Script(
		RunEvent{Type: EventStage, TS: time.Now(), Payload: json.RawMessage(`{"stage":"analyzing"}`)},
		RunEvent{Type: EventWorldSkeleton, TS: time.Now(), Payload: json.RawMessage(`{"game_prompt":"gp","world_bible":"wb","global_conflict":null}`)},
	)

	w := a.Wizard
	w.Open()
	w.SetWorldDescription("A drowned city")
	w.SetPlotType(PlotExploration)
	run(a, w.NextStep())

	assert.Equal(t, world.PhaseIdle, w.Session().Phase, "session closed after advancing")
	assert.Equal(t, world.HitlStep+1, w.Step())
	assert.Equal(t, WorldDraft{GamePrompt: "gp", WorldBible: "wb"}, w.Draft())
}

func TestSelectUserClosesSettings(t *testing.T) {
	kv := mapKV{}
	a, srv := newApp(t, kv)
	srv.Users = append(srv.Users, User{ID: "u2", Name: "Lin"})
	run(a, a.Start())
	run(a, a.SelectUser("u1"))
	run(a, a.OpenSettings())
	require.True(t, a.Settings.IsOpen())

	run(a, a.SelectUser("u2"))
	assert.False(t, a.Settings.IsOpen())
	assert.Empty(t, a.Presets.Items())
	assert.Equal(t, "u2", kv[db.KeyCurrentUser])
}

func TestNewOpensStateUnderDataDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.DefaultAppConfig()
	cfg.Logging.File = ""
	cfg.Preferences.DataDir = t.TempDir()

	a, err := New(cfg)
	require.NoError(t, err)
	a.Users.Select("u9")
	v, ok, err := a.state.Get(db.KeyCurrentUser)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u9", v)
	assert.NoError(t, a.Close())
}
