// Package app wires the backend client, the stores and the orchestrators
// into one event-loop target.
package app

import (
	"fmt"

	"talespinner/config"
	"talespinner/db"
	"talespinner/gateway"
	"talespinner/logging"
	"talespinner/session"
	"talespinner/settings"
	"talespinner/store"
	"talespinner/world"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

type App struct {
	Config config.AppConfig
	Logger *zap.Logger
	Client *gateway.Client

	Users     *session.Store
	Providers *store.Providers
	Tokens    *store.Tokens
	Presets   *store.Presets
	Settings  *settings.Orchestrator
	Wizard    *world.Wizard

	state *db.DB
}

// New builds the application from cfg, opening the log file and the state
// database. Close releases both.
func New(cfg config.AppConfig) (*App, error) {
	logOpts, err := cfg.LoggingOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log file: %w", err)
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	path, err := db.DefaultPath(dataDir)
	if err != nil {
		return nil, err
	}
	state, err := db.Open(path)
	if err != nil {
		return nil, err
	}

	client := gateway.New(cfg.GatewayOptions(logger))
	a := Wire(cfg, client, state, logger)
	a.state = state
	logger.Info("talespinner started", zap.String("backend", client.BaseURL()), zap.String("state", path))
	return a, nil
}

// Wire assembles the components around an existing client and selection
// store.
func Wire(cfg config.AppConfig, client *gateway.Client, kv session.KV, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	presets := store.NewPresets(client, logging.Named(logger, "presets"))
	tokens := store.NewTokens(client, logging.Named(logger, "tokens"))
	providers := store.NewProviders(client, cfg.CatalogTTL(), logging.Named(logger, "providers"))
	users := session.New(client, kv, logging.Named(logger, "session"))

	wizard := world.NewWizard(world.NewGatewayRunner(client), users, logging.Named(logger, "world"))
	wizard.SetAutoAdvance(cfg.Preferences.AutoAdvance)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Client:    client,
		Users:     users,
		Providers: providers,
		Tokens:    tokens,
		Presets:   presets,
		Settings:  settings.New(client, presets, tokens, providers, logging.Named(logger, "settings")),
		Wizard:    wizard,
	}
}

// Start restores the acting user.
func (a *App) Start() tea.Cmd {
	return a.Users.Start()
}

// OpenSettings opens the preset editor for the acting user.
func (a *App) OpenSettings() tea.Cmd {
	return a.Settings.Open(a.Users.CurrentUserID())
}

// SelectUser switches the acting user. The wizard run and the settings
// editor belong to the previous user and are closed.
func (a *App) SelectUser(id string) tea.Cmd {
	a.Wizard.Close()
	var closeSettings tea.Cmd
	if a.Settings.IsOpen() {
		a.Settings.CancelPending()
		closeSettings = a.Settings.RequestClose()
		if a.Settings.ConfirmationRequired() {
			closeSettings = a.Settings.ConfirmDiscard()
		}
	}
	return tea.Batch(closeSettings, a.Users.Select(id))
}

// Update routes msg to the stores first and then to the orchestrators.
func (a *App) Update(msg tea.Msg) tea.Cmd {
	a.Providers.Apply(msg)
	a.Tokens.Apply(msg)
	a.Presets.Apply(msg)
	return tea.Batch(
		a.Users.Update(msg),
		a.Settings.Update(msg),
		a.Wizard.Update(msg),
	)
}

func (a *App) Close() error {
	a.Wizard.Close()
	_ = a.Logger.Sync()
	if a.state != nil {
		return a.state.Close()
	}
	return nil
}
