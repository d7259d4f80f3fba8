package cli

import (
	"errors"
	"fmt"
	"strings"

	"talespinner/app"
	"talespinner/config"
	"talespinner/gateway"
	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var errNoUser = errors.New("no user selected, run `talespinner users select <name>` first")

// drain runs cmd and every follow-up through the app until nothing is left.
// Only for commands that terminate; a live event stream would block it.
func drain(a *app.App, cmd tea.Cmd) {
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

func loadApp() (*app.App, error) {
	cfg, err := config.LoadAppConfig()
	if err != nil {
		config.PrintConfigErrorMessage(err)
		return nil, err
	}
	return app.New(cfg)
}

// withApp loads the app, restores the acting user and runs fn.
func withApp(fn func(a *app.App) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	drain(a, a.Start())
	return fn(a)
}

func requireUser(a *app.App) (string, error) {
	id := a.Users.CurrentUserID()
	if id == "" {
		return "", errNoUser
	}
	return id, nil
}

func storeErr(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

func runWorldProgram(a *app.App) error {
	if _, err := requireUser(a); err != nil {
		return err
	}
	m := newWorldModel(a)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}
	if wm, ok := final.(worldModel); ok && wm.summary != "" {
		fmt.Println(wm.summary)
	}
	return nil
}

func runSettingsProgram(a *app.App) error {
	if _, err := requireUser(a); err != nil {
		return err
	}
	m := newSettingsModel(a)
	_, err := tea.NewProgram(m).Run()
	return err
}

var RootCmd = &cobra.Command{
	Use:           "talespinner",
	Short:         "Story world builder and model configuration console",
	Long:          `Talespinner: build game worlds with the world architect and manage the model presets behind it.`,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runWorldProgram)
	},
}

var worldCmd = &cobra.Command{
	Use:   "world",
	Short: "Create a world with the world architect",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runWorldProgram)
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Edit model presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runSettingsProgram)
	},
}

var configCmd = &cobra.Command{
	Use:       "config [reset|revert]",
	Short:     "Edit client configuration",
	ValidArgs: []string{"reset", "revert"},
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		config.RunConfigProgram(append([]string{"config"}, args...))
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List model providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			drain(a, a.Providers.Load())
			if err := storeErr(a.Providers.Err()); err != nil {
				return err
			}
			fmt.Println(renderProviders(a.Providers.Items()))
			return nil
		})
	},
}

var (
	modelsEmbedding bool
	modelsRefresh   bool
	modelsAPIKey    string
	modelsBaseURL   string
)

var modelsCmd = &cobra.Command{
	Use:   "models <provider>",
	Short: "List the models of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			drain(a, a.Providers.Load())
			if err := storeErr(a.Providers.Err()); err != nil {
				return err
			}
			provider := ProviderType(strings.ToLower(args[0]))
			if _, ok := a.Providers.Get(provider); !ok {
				if guess, ok := suggestProvider(args[0], a.Providers.Items()); ok {
					return fmt.Errorf("unknown provider %q, did you mean %q?", args[0], guess)
				}
				return fmt.Errorf("unknown provider %q", args[0])
			}
			kind := ModelTypeLLM
			if modelsEmbedding {
				kind = ModelTypeEmbedding
			}
			drain(a, a.Providers.LoadModels(gateway.ModelsQuery{
				Provider:     provider,
				ModelType:    kind,
				ForceRefresh: modelsRefresh,
				APIKey:       modelsAPIKey,
				BaseURL:      modelsBaseURL,
			}))
			if err := storeErr(a.Providers.Err()); err != nil {
				return err
			}
			fmt.Println(renderModels(ProviderModelsResponse{
				Provider: provider,
				Models:   a.Providers.Models(provider, kind),
				Cached:   a.Providers.CatalogCached(provider),
			}))
			return nil
		})
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List provider tokens of the current user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			owner, err := requireUser(a)
			if err != nil {
				return err
			}
			drain(a, a.Tokens.Load(owner))
			if err := storeErr(a.Tokens.Err()); err != nil {
				return err
			}
			fmt.Println(renderTokens(a.Tokens.Items()))
			return nil
		})
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List configuration presets of the current user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			owner, err := requireUser(a)
			if err != nil {
				return err
			}
			drain(a, a.Presets.Load(owner))
			if err := storeErr(a.Presets.Err()); err != nil {
				return err
			}
			fmt.Println(renderPresets(a.Presets.Items()))
			return nil
		})
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			if err := storeErr(a.Users.Err()); err != nil {
				return err
			}
			fmt.Println(renderUsers(a.Users.Users(), a.Users.CurrentUserID()))
			return nil
		})
	},
}

var usersSelectCmd = &cobra.Command{
	Use:   "select <name-or-id>",
	Short: "Act as a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			user, ok := findUser(a.Users.Users(), args[0])
			if !ok {
				return fmt.Errorf("no user named %q", args[0])
			}
			drain(a, a.SelectUser(user.ID))
			if err := storeErr(a.Users.Err()); err != nil {
				return err
			}
			fmt.Println(greyStyle.Render("Acting as " + user.Name))
			return nil
		})
	},
}

var usersLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the selected user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			a.Users.ClearSelection()
			return nil
		})
	},
}

var userPassword string

var usersAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a user and act as it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			var password *string
			if cmd.Flags().Changed("password") {
				password = &userPassword
			}
			drain(a, a.Users.Create(args[0], password))
			return storeErr(a.Users.Err())
		})
	},
}

var usersPasswordCmd = &cobra.Command{
	Use:   "password <name-or-id> [new-password]",
	Short: "Set or, without a value, remove a user's password",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			user, ok := findUser(a.Users.Users(), args[0])
			if !ok {
				return fmt.Errorf("no user named %q", args[0])
			}
			var password *string
			if len(args) == 2 {
				password = &args[1]
			}
			drain(a, a.Users.UpdatePassword(user.ID, password))
			return storeErr(a.Users.Err())
		})
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <name-or-id>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			user, ok := findUser(a.Users.Users(), args[0])
			if !ok {
				return fmt.Errorf("no user named %q", args[0])
			}
			drain(a, a.Users.Delete(user.ID))
			return storeErr(a.Users.Err())
		})
	},
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsEmbedding, "embedding", false, "list embedding models instead of chat models")
	modelsCmd.Flags().BoolVar(&modelsRefresh, "refresh", false, "bypass the backend catalog cache")
	modelsCmd.Flags().StringVar(&modelsAPIKey, "api-key", "", "provider API key used for the lookup")
	modelsCmd.Flags().StringVar(&modelsBaseURL, "base-url", "", "provider base URL used for the lookup")
	providersCmd.AddCommand(modelsCmd)

	usersAddCmd.Flags().StringVar(&userPassword, "password", "", "password for the new user")
	usersCmd.AddCommand(usersSelectCmd, usersLogoutCmd, usersAddCmd, usersPasswordCmd, usersDeleteCmd)

	RootCmd.AddCommand(worldCmd, settingsCmd, configCmd, providersCmd, tokensCmd, presetsCmd, usersCmd)
}
