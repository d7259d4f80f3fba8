package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"talespinner/util"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const listHeight = 14

var (
	styleRed          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleGreen        = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	greyStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle        = lipgloss.NewStyle().MarginLeft(2).Foreground(lipgloss.Color("240"))
	itemStyle         = lipgloss.NewStyle().PaddingLeft(4)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("170"))
	paginationStyle   = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle         = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle     = lipgloss.NewStyle().Faint(true).Margin(1, 0, 2, 4)
)

var logLevels = []string{"debug", "info", "warn", "error"}

type itemDelegate struct{}

func (d itemDelegate) Height() int                             { return 1 }
func (d itemDelegate) Spacing() int                            { return 0 }
func (d itemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(menuItem)
	if !ok {
		return
	}

	fn := itemStyle.Render
	if index == m.Index() {
		fn = func(s ...string) string { return selectedItemStyle.Render("> " + strings.Join(s, " ")) }
	}
	text := fn(i.title)
	if i.data != "" {
		text = fmt.Sprintf("%s %s", text, greyStyle.Render("("+i.data+")"))
	}

	fmt.Fprint(w, text)
}

type menuItem struct {
	title     string
	selectCmd tea.Cmd
	data      string
}

func (i menuItem) FilterValue() string { return i.title }

type menuFunc func(config AppConfig) list.Model

type page int

const (
	ListPage page = iota
	InputPage
)

type inputMode int

const (
	inputNone inputMode = iota
	inputText
)

type setMenuMsg struct{ menu menuFunc }
type backMsg struct{}
type quitMsg struct{}
type editorFinishedMsg struct{ err error }
type editConfigMsg struct {
	edit func(*AppConfig) error
	back bool
}
type setInputModeMsg struct {
	prompt   string
	initial  string
	onSubmit func(string) tea.Cmd
}

type state struct {
	page      page
	menu      menuFunc
	listIndex int
}

type model struct {
	state         state
	list          list.Model
	backstack     []state
	appConfig     AppConfig
	quitting      bool
	inputMode     inputMode
	textInput     textinput.Model
	onInputSubmit func(string) tea.Cmd
	inputPrompt   string
	status        string
}

func cmdSetMenu(menu menuFunc) tea.Cmd { return func() tea.Msg { return setMenuMsg{menu} } }
func cmdBack() tea.Cmd                 { return func() tea.Msg { return backMsg{} } }
func cmdQuit() tea.Cmd                 { return func() tea.Msg { return quitMsg{} } }

// cmdEdit applies edit to a copy of the config and saves it. With back set
// the menu returns to the previous page afterwards.
func cmdEdit(back bool, edit func(*AppConfig) error) tea.Cmd {
	return func() tea.Msg { return editConfigMsg{edit: edit, back: back} }
}

func cmdSetInput(prompt, initial string, onSubmit func(string) tea.Cmd) tea.Cmd {
	return func() tea.Msg { return setInputModeMsg{prompt: prompt, initial: initial, onSubmit: onSubmit} }
}

func openEditor() tea.Cmd {
	fullPath, err := FullFilePath(configFilePath)
	if err != nil {
		return func() tea.Msg { return editorFinishedMsg{err: err} }
	}
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vim"
	}
	cmd := exec.Command(editor, fullPath) //nolint:gosec
	return tea.ExecProcess(cmd, func(err error) tea.Msg {
		return editorFinishedMsg{err: err}
	})
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.inputMode == inputText {
		return m.updateInput(msg)
	}

	switch msg := msg.(type) {
	case quitMsg:
		m.quitting = true
		return m, tea.Quit
	case backMsg:
		if len(m.backstack) > 0 {
			m.state = m.backstack[len(m.backstack)-1]
			m.backstack = m.backstack[:len(m.backstack)-1]
			m.list = m.state.menu(m.appConfig)
			m.list.Select(m.state.listIndex)
		}
		return m, nil
	case setMenuMsg:
		m.backstack = append(m.backstack, m.state)
		m.list = msg.menu(m.appConfig)
		m.state = state{page: ListPage, menu: msg.menu}
		return m, nil
	case editConfigMsg:
		next := m.appConfig
		if err := msg.edit(&next); err != nil {
			m.status = styleRed.Render(err.Error())
			return m, nil
		}
		if err := next.Validate(); err != nil {
			m.status = styleRed.Render(err.Error())
			return m, nil
		}
		if err := SaveAppConfig(next); err != nil {
			m.status = styleRed.Render("save failed: " + err.Error())
			return m, nil
		}
		m.appConfig = next
		m.status = styleGreen.Render("saved")
		if msg.back {
			return m, cmdBack()
		}
		m.list = m.state.menu(m.appConfig)
		m.list.Select(m.state.listIndex)
		return m, nil
	case setInputModeMsg:
		m.inputMode = inputText
		m.inputPrompt = msg.prompt
		m.onInputSubmit = msg.onSubmit
		ti := textinput.New()
		ti.Placeholder = msg.prompt
		ti.SetValue(msg.initial)
		ti.Focus()
		ti.Width = 64
		m.textInput = ti
		return m, textinput.Blink
	case editorFinishedMsg:
		if msg.err != nil {
			m.status = styleRed.Render("editor: " + msg.err.Error())
			return m, nil
		}
		cfg, err := LoadAppConfig()
		if err != nil {
			m.status = styleRed.Render(err.Error())
			return m, nil
		}
		m.appConfig = cfg
		m.list = m.state.menu(m.appConfig)
		return m, nil
	}

	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, cmdQuit()
		case tea.KeyEsc:
			if len(m.backstack) > 0 {
				return m, cmdBack()
			}
			return m, cmdQuit()
		case tea.KeyEnter:
			i, _ := m.list.SelectedItem().(menuItem)
			if i.selectCmd != nil {
				return m, i.selectCmd
			}
		}
	}

	var cmd tea.Cmd
	if !m.quitting {
		m.list, cmd = m.list.Update(msg)
	}
	m.state.listIndex = m.list.Index()
	return m, cmd
}

func (m model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch km := msg.(type) {
	case tea.KeyMsg:
		switch km.Type {
		case tea.KeyEnter:
			value := strings.TrimSpace(m.textInput.Value())
			m.inputMode = inputNone
			if m.onInputSubmit != nil {
				return m, m.onInputSubmit(value)
			}
			return m, nil
		case tea.KeyEsc:
			m.inputMode = inputNone
			return m, nil
		case tea.KeyCtrlC:
			return m, cmdQuit()
		}
	}
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if m.inputMode == inputText {
		return fmt.Sprintf("\n  %s\n\n  %s\n", m.inputPrompt, m.textInput.View())
	}
	view := "\n" + m.list.View()
	if m.status != "" {
		view += "\n  " + m.status + "\n"
	}
	return view
}

func defaultList(title string, items []menuItem) list.Model {
	listItems := make([]list.Item, len(items))
	for i, item := range items {
		listItems[i] = item
	}
	l := list.New(listItems, itemDelegate{}, 20, listHeight)
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = titleStyle
	l.SetWidth(100)
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle
	l.SetShowHelp(false)
	return l
}

func boolStatus(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func mainMenu(appConfig AppConfig) list.Model {
	items := []menuItem{
		{title: "Backend", data: appConfig.API.BaseURL, selectCmd: cmdSetMenu(apiMenu)},
		{title: "Model Catalog Cache", data: appConfig.Catalog.TTL, selectCmd: editDuration("Catalog cache lifetime (e.g. 10m)", appConfig.Catalog.TTL, func(c *AppConfig, v string) { c.Catalog.TTL = v })},
		{title: "Logging", data: appConfig.Logging.Level, selectCmd: cmdSetMenu(loggingMenu)},
		{title: "Preferences", selectCmd: cmdSetMenu(preferencesMenu)},
		{title: "Edit Config File", data: "~/" + configFilePath, selectCmd: openEditor()},
		{title: "Reset to Defaults", selectCmd: cmdSetMenu(resetConfirmMenu)},
		{title: "Quit", data: "esc", selectCmd: cmdQuit()},
	}
	return defaultList("Talespinner Settings", items)
}

func apiMenu(appConfig AppConfig) list.Model {
	api := appConfig.API
	items := []menuItem{
		{title: "Base URL", data: api.BaseURL, selectCmd: editString("Backend base URL", api.BaseURL, func(c *AppConfig, v string) { c.API.BaseURL = v })},
		{title: "Request Timeout", data: api.Timeout, selectCmd: editDuration("Request timeout (e.g. 300s)", api.Timeout, func(c *AppConfig, v string) { c.API.Timeout = v })},
		{title: "Retries", data: strconv.Itoa(api.RetryMax), selectCmd: editInt("Retries for failed requests", api.RetryMax, func(c *AppConfig, v int) { c.API.RetryMax = v })},
		{title: "Retry Wait Min", data: api.RetryWaitMin, selectCmd: editDuration("Minimum wait between retries", api.RetryWaitMin, func(c *AppConfig, v string) { c.API.RetryWaitMin = v })},
		{title: "Retry Wait Max", data: api.RetryWaitMax, selectCmd: editDuration("Maximum wait between retries", api.RetryWaitMax, func(c *AppConfig, v string) { c.API.RetryWaitMax = v })},
		{title: "← Back", selectCmd: cmdBack()},
	}
	return defaultList("Backend", items)
}

func loggingMenu(appConfig AppConfig) list.Model {
	file := appConfig.Logging.File
	if file == "" {
		file = "disabled"
	}
	items := []menuItem{
		{title: "Level", data: appConfig.Logging.Level, selectCmd: cmdSetMenu(logLevelMenu)},
		{title: "Log File", data: truncateString(file, 40), selectCmd: editString("Log file (blank disables logging)", appConfig.Logging.File, func(c *AppConfig, v string) { c.Logging.File = v })},
		{title: "← Back", selectCmd: cmdBack()},
	}
	return defaultList("Logging", items)
}

func logLevelMenu(appConfig AppConfig) list.Model {
	var items []menuItem
	for _, level := range logLevels {
		marker := ""
		if level == appConfig.Logging.Level {
			marker = "✓"
		}
		items = append(items, menuItem{title: level, data: marker, selectCmd: cmdEdit(true, func(c *AppConfig) error {
			c.Logging.Level = level
			return nil
		})})
	}
	items = append(items, menuItem{title: "← Back", selectCmd: cmdBack()})
	return defaultList("Select Log Level", items)
}

func preferencesMenu(appConfig AppConfig) list.Model {
	prefs := appConfig.Preferences
	dataDir, _ := appConfig.DataDir()
	items := []menuItem{
		{title: "Advance After World Is Built", data: boolStatus(prefs.AutoAdvance), selectCmd: cmdEdit(false, func(c *AppConfig) error {
			c.Preferences.AutoAdvance = !c.Preferences.AutoAdvance
			return nil
		})},
		{title: "Render Markdown", data: boolStatus(prefs.RenderMarkdown), selectCmd: cmdEdit(false, func(c *AppConfig) error {
			c.Preferences.RenderMarkdown = !c.Preferences.RenderMarkdown
			return nil
		})},
		{title: "Data Directory", data: truncateString(dataDir, 40), selectCmd: editString("Data directory (blank for ~/.talespinner)", prefs.DataDir, func(c *AppConfig, v string) { c.Preferences.DataDir = v })},
		{title: "← Back", selectCmd: cmdBack()},
	}
	return defaultList("Preferences", items)
}

func editString(prompt, initial string, set func(*AppConfig, string)) tea.Cmd {
	return cmdSetInput(prompt, initial, func(value string) tea.Cmd {
		return cmdEdit(false, func(c *AppConfig) error {
			set(c, value)
			return nil
		})
	})
}

func editDuration(prompt, initial string, set func(*AppConfig, string)) tea.Cmd {
	return cmdSetInput(prompt, initial, func(value string) tea.Cmd {
		return cmdEdit(false, func(c *AppConfig) error {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("%q is not a duration", value)
			}
			set(c, value)
			return nil
		})
	})
}

func editInt(prompt string, initial int, set func(*AppConfig, int)) tea.Cmd {
	return cmdSetInput(prompt, strconv.Itoa(initial), func(value string) tea.Cmd {
		return cmdEdit(false, func(c *AppConfig) error {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%q is not a number", value)
			}
			set(c, n)
			return nil
		})
	})
}

func resetConfirmMenu(appConfig AppConfig) list.Model {
	items := []menuItem{{title: "Yes, reset config to defaults", selectCmd: resetConfigAction()}, {title: "No, cancel", selectCmd: cmdBack()}}
	return defaultList("Reset configuration to defaults?", items)
}

func resetConfigAction() tea.Cmd {
	return func() tea.Msg {
		ResetAppConfigToDefault()
		return quitMsg{}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func PrintConfigErrorMessage(err error) {
	maxWidth := util.GetTermSafeMaxWidth()
	styleRed := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).PaddingLeft(2)
	styleDim := lipgloss.NewStyle().Faint(true).Width(maxWidth).PaddingLeft(2)

	r, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())

	msg1 := styleRed.Render("Failed to load config file.")
	filePath, _ := FullFilePath(configFilePath)
	msg2 := styleDim.Render(err.Error())

	messageString := fmt.Sprintf(
		"---\n"+
			"# Options:\n\n"+
			"1. Run `talespinner config revert` to load the automatic backup.\n"+
			"2. Run `talespinner config reset` to reset to defaults.\n"+
			"3. Fix manually at: `%s`\n\n",
		filePath)

	msg3, _ := r.Render(messageString)
	fmt.Printf("\n%s\n\n%s%s", msg1, msg2, msg3)
}

func handleConfigResets(args []string) {
	if len(args) < 2 {
		return
	}
	greyStylePadded := greyStyle.PaddingLeft(2)
	reader := bufio.NewReader(os.Stdin)
	warningMessage, confirmationMessage := getMessages(args[1], greyStylePadded)
	fmt.Print("\n" + styleRed.PaddingLeft(2).Render(warningMessage) + "\n\n" + confirmationMessage + " ")
	response, _ := reader.ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))
	if response == "yes" || response == "y" {
		handleResetOrRevert(args[1])
	} else {
		fmt.Println("\n" + styleRed.PaddingLeft(2).Render("Operation cancelled.\n"))
	}
	os.Exit(0)
}

func getMessages(arg string, greyStylePadded lipgloss.Style) (string, string) {
	warningMessage := "WARNING: You are about to "
	confirmationMessage := greyStylePadded.Render("Do you want to continue? (y/N):")
	switch arg {
	case "reset":
		warningMessage += "reset the config file to the default."
	case "revert":
		warningMessage += "revert the config file to the last working automatic backup."
	}
	return warningMessage, confirmationMessage
}

func handleResetOrRevert(arg string) {
	var err error
	var message string
	switch arg {
	case "reset":
		err = ResetAppConfigToDefault()
		message = "Config reset to default.\n"
	case "revert":
		err = RevertAppConfigToBackup()
		message = "Config reverted to backup.\n"
	}
	if err == nil {
		fmt.Println("\n" + greyStyle.PaddingLeft(2).Render(message))
	} else {
		fmt.Println("\n" + styleRed.PaddingLeft(2).Render("Operation failed.\n"))
		fmt.Println("\n" + styleRed.PaddingLeft(2).Render(fmt.Sprintf("Error: %s\n", err)))
	}
}

func RunConfigProgram(args []string) {
	handleConfigResets(args)
	appConfig, err := LoadAppConfig()
	if err != nil {
		PrintConfigErrorMessage(err)
		os.Exit(1)
	}
	m := model{
		appConfig: appConfig,
		list:      mainMenu(appConfig),
		state:     state{page: ListPage, menu: mainMenu},
	}
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}
