package cli

import (
	"fmt"
	"slices"
	"strings"

	"talespinner/app"
	. "talespinner/types"
	"talespinner/util"
	"talespinner/world"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

type foundationField int

const (
	fieldDescription foundationField = iota
	fieldPlot
	fieldCustom
	fieldConflict
)

var draftFields = []world.DraftField{world.DraftGamePrompt, world.DraftWorldBible, world.DraftGlobalConflict}

var draftTitles = map[world.DraftField]string{
	world.DraftGamePrompt:     "Game prompt",
	world.DraftWorldBible:     "World bible",
	world.DraftGlobalConflict: "Global conflict",
}

type worldModel struct {
	app      *app.App
	wizard   *world.Wizard
	renderer *glamour.TermRenderer
	input    textinput.Model
	spinner  spinner.Model
	maxWidth int

	field    foundationField
	question int
	option   int
	draft    int
	editing  bool

	status  string
	summary string
}

func newWorldModel(a *app.App) worldModel {
	maxWidth := util.GetTermSafeMaxWidth()
	ti := textinput.New()
	ti.Width = maxWidth
	ti.CharLimit = 0

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleAccent

	var r *glamour.TermRenderer
	if a.Config.Preferences.RenderMarkdown {
		r, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(maxWidth),
		)
	}

	a.Wizard.Open()
	m := worldModel{app: a, wizard: a.Wizard, renderer: r, input: ti, spinner: s, maxWidth: maxWidth}
	m.focusFoundation(fieldDescription)
	return m
}

func (m worldModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *worldModel) focusFoundation(field foundationField) {
	m.field = field
	f := m.wizard.Foundation()
	switch field {
	case fieldDescription:
		m.input.Placeholder = "Describe the world: genre, magic, technology, societies, conflicts..."
		m.input.SetValue(f.WorldDescription)
		m.input.Focus()
	case fieldCustom:
		m.input.Placeholder = "Describe your own plot type"
		m.input.SetValue(f.PlotTypeCustom)
		m.input.Focus()
	default:
		m.input.Blur()
	}
}

func (m *worldModel) foundationFields() []foundationField {
	fields := []foundationField{fieldDescription, fieldPlot}
	if m.wizard.Foundation().PlotType == PlotCustom {
		fields = append(fields, fieldCustom)
	}
	return append(fields, fieldConflict)
}

func (m *worldModel) cycleField(delta int) {
	fields := m.foundationFields()
	i := slices.Index(fields, m.field)
	i = (i + delta + len(fields)) % len(fields)
	m.focusFoundation(fields[i])
}

func (m *worldModel) cyclePlot(delta int) {
	current := slices.Index(PlotTypes, m.wizard.Foundation().PlotType)
	if current < 0 && delta > 0 {
		current = len(PlotTypes) - 1
	} else if current < 0 {
		current = 0
	}
	next := (current + delta + len(PlotTypes)) % len(PlotTypes)
	m.wizard.SetPlotType(PlotTypes[next])
}

func (m *worldModel) resetCursor() {
	m.question, m.option = 0, 0
	m.input.Blur()
}

func (m *worldModel) currentQuestion() (HitlQuestion, bool) {
	s := m.wizard.Session()
	if m.question >= len(s.Questions) {
		return HitlQuestion{}, false
	}
	return s.Questions[m.question], true
}

func (m *worldModel) moveOption(delta int) {
	q, ok := m.currentQuestion()
	if !ok {
		return
	}
	rows := len(q.Options) + 1
	m.option = (m.option + delta + rows) % rows
	if m.option == len(q.Options) {
		m.input.Placeholder = "Or answer in your own words"
		m.input.SetValue(m.wizard.Session().Answers[q.ID].FreeText)
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *worldModel) moveQuestion(delta int) {
	n := len(m.wizard.Session().Questions)
	if n == 0 {
		return
	}
	m.question = (m.question + delta + n) % n
	m.option = 0
	m.input.Blur()
}

func (m worldModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.wizard.Close()
			return m, tea.Quit
		}
		return m.handleKey(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	step, phase := m.wizard.Step(), m.wizard.Session().Phase
	questions := len(m.wizard.Session().Questions)
	cmd := m.app.Update(msg)
	if m.wizard.Step() != step {
		m.input.Blur()
		m.draft = 0
	}
	if s := m.wizard.Session(); s.Phase == world.PhaseQuestions && (phase != world.PhaseQuestions || len(s.Questions) != questions) {
		m.resetCursor()
	}
	return m, cmd
}

func (m worldModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.status = ""
	switch m.wizard.Step() {
	case world.FoundationStep:
		return m.foundationKey(msg)
	case world.HitlStep:
		return m.hitlKey(msg)
	case world.HitlStep + 1:
		return m.reviewKey(msg)
	}
	switch msg.String() {
	case "esc", "left":
		return m, m.wizard.PrevStep()
	case "enter", "right":
		if m.wizard.Step() == world.TotalSteps-1 {
			return m.finish()
		}
		return m, m.wizard.NextStep()
	}
	return m, nil
}

func (m worldModel) foundationKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.wizard.Close()
		return m, tea.Quit
	case "tab", "down":
		m.cycleField(1)
		return m, nil
	case "shift+tab", "up":
		m.cycleField(-1)
		return m, nil
	case "enter":
		cmd := m.wizard.NextStep()
		if cmd == nil && m.wizard.Step() == world.FoundationStep {
			m.status = styleRed.Render(world.ErrFoundationMissing.Error())
			return m, nil
		}
		m.input.Blur()
		return m, tea.Batch(cmd, m.spinner.Tick)
	}

	switch m.field {
	case fieldPlot:
		switch msg.String() {
		case "left", "h":
			m.cyclePlot(-1)
		case "right", "l", " ":
			m.cyclePlot(1)
		}
		return m, nil
	case fieldConflict:
		switch msg.String() {
		case "left", "right", " ", "h", "l":
			m.wizard.SetGlobalConflict(!m.wizard.Foundation().GlobalConflict)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.field == fieldCustom {
		m.wizard.SetPlotTypeCustom(m.input.Value())
	} else {
		m.wizard.SetWorldDescription(m.input.Value())
	}
	return m, cmd
}

func (m worldModel) hitlKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.wizard.Session()
	if msg.String() == "esc" {
		cmd := m.wizard.PrevStep()
		m.focusFoundation(fieldDescription)
		return m, cmd
	}

	switch s.Phase {
	case world.PhaseError:
		if msg.String() == "r" || msg.String() == "ctrl+r" {
			return m, tea.Batch(m.wizard.Retry(), m.spinner.Tick)
		}
		return m, nil
	case world.PhaseDone:
		if msg.String() == "enter" {
			return m, m.wizard.Continue()
		}
		return m, nil
	case world.PhaseQuestions:
	default:
		return m, nil
	}

	q, ok := m.currentQuestion()
	if !ok {
		return m, nil
	}
	onFreeText := m.option == len(q.Options)

	switch msg.String() {
	case "tab":
		m.moveQuestion(1)
		return m, nil
	case "shift+tab":
		m.moveQuestion(-1)
		return m, nil
	case "up":
		m.moveOption(-1)
		return m, nil
	case "down":
		m.moveOption(1)
		return m, nil
	case "enter":
		if !onFreeText {
			m.wizard.SelectOption(q.ID, q.Options[m.option].ID)
		}
		if m.wizard.CanContinue() {
			m.input.Blur()
			return m, tea.Batch(m.wizard.Continue(), m.spinner.Tick)
		}
		m.moveQuestion(1)
		return m, nil
	case " ":
		if !onFreeText {
			m.wizard.SelectOption(q.ID, q.Options[m.option].ID)
			return m, nil
		}
	}

	if !onFreeText {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.wizard.SetFreeText(q.ID, m.input.Value())
	return m, cmd
}

func (m worldModel) reviewKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	field := draftFields[m.draft]
	if m.editing {
		switch msg.String() {
		case "enter":
			m.wizard.SetDraftField(field, m.input.Value())
			m.editing = false
			m.input.Blur()
			return m, nil
		case "esc":
			m.editing = false
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "up", "k":
		m.draft = (m.draft + len(draftFields) - 1) % len(draftFields)
	case "down", "j", "tab":
		m.draft = (m.draft + 1) % len(draftFields)
	case "e":
		m.editing = true
		m.input.Placeholder = draftTitles[field]
		m.input.SetValue(draftValue(m.wizard.Draft(), field))
		m.input.Focus()
		return m, textinput.Blink
	case "c":
		if err := clipboard.WriteAll(draftValue(m.wizard.Draft(), field)); err != nil {
			m.status = styleRed.Render("copy failed: " + err.Error())
		} else {
			m.status = faintStyle.Render("Copied to clipboard.")
		}
	case "esc", "left":
		return m, m.wizard.PrevStep()
	case "enter", "right":
		return m, m.wizard.NextStep()
	}
	return m, nil
}

func (m worldModel) finish() (tea.Model, tea.Cmd) {
	d := m.wizard.Draft()
	var b strings.Builder
	for _, f := range draftFields {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", draftTitles[f], draftValue(d, f))
	}
	m.summary = m.render(b.String())
	m.wizard.Close()
	return m, tea.Quit
}

func draftValue(d WorldDraft, field world.DraftField) string {
	switch field {
	case world.DraftGamePrompt:
		return d.GamePrompt
	case world.DraftWorldBible:
		return d.WorldBible
	}
	return d.GlobalConflict
}

func (m worldModel) render(markdown string) string {
	if m.renderer == nil {
		return markdown
	}
	out, err := m.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.Trim(out, "\n")
}

func (m worldModel) statusBar() string {
	user := m.app.Users.CurrentUserID()
	if u, ok := m.app.Users.Current(); ok {
		user = u.Name
	}
	return statusBarStyle.Render(fmt.Sprintf("step %d/%d", m.wizard.Step()+1, world.TotalSteps)) + " " + greyStyle.Render(user)
}

func (m worldModel) View() string {
	var body string
	switch m.wizard.Step() {
	case world.FoundationStep:
		body = m.foundationView()
	case world.HitlStep:
		body = m.hitlView()
	case world.HitlStep + 1:
		body = m.reviewView()
	default:
		body = "\n  This step is not available yet.\n\n" + faintStyle.Render("  enter: next  esc: back")
	}
	view := m.statusBar() + "\n" + body
	if m.status != "" {
		view += "\n\n  " + m.status
	}
	return view + "\n"
}

func (m worldModel) marker(field foundationField) string {
	if m.field == field {
		return styleAccent.Render("> ")
	}
	return "  "
}

func (m worldModel) foundationView() string {
	f := m.wizard.Foundation()
	var b strings.Builder
	b.WriteString("\n  Lay the foundation\n\n")

	b.WriteString(m.marker(fieldDescription) + "World description\n")
	if m.field == fieldDescription {
		b.WriteString("  " + m.input.View() + "\n\n")
	} else {
		b.WriteString(faintStyle.Render("  "+util.Truncate(f.WorldDescription, m.maxWidth)) + "\n\n")
	}

	plot := string(f.PlotType)
	if plot == "" {
		plot = "choose with ← →"
	}
	b.WriteString(m.marker(fieldPlot) + "Plot type: " + styleAccent.Render(plot) + "\n")
	if f.PlotType == PlotCustom {
		b.WriteString(m.marker(fieldCustom) + "Custom plot: ")
		if m.field == fieldCustom {
			b.WriteString(m.input.View())
		} else {
			b.WriteString(faintStyle.Render(f.PlotTypeCustom))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.marker(fieldConflict) + "Global conflict: " + boolStatus(f.GlobalConflict) + "\n\n")
	b.WriteString(faintStyle.Render("  tab: next field  enter: continue  esc: quit"))
	return b.String()
}

func (m worldModel) hitlView() string {
	s := m.wizard.Session()
	switch s.Phase {
	case world.PhaseStarting:
		return "\n  " + m.spinner.View() + " Starting the world architect..."
	case world.PhaseThinking:
		return "\n  " + m.spinner.View() + " " + stageLabel(s.Stage)
	case world.PhaseError:
		return "\n  " + styleRed.Render(s.Err) + "\n\n" + faintStyle.Render("  r: retry  esc: back")
	case world.PhaseDone:
		return "\n  " + styleGreen.Render("The world is ready.") + "\n\n" + faintStyle.Render("  enter: review")
	case world.PhaseQuestions:
	default:
		return ""
	}

	var b strings.Builder
	b.WriteString("\n  The architect has some questions\n")
	for qi, q := range s.Questions {
		answer := s.Answers[q.ID]
		header := fmt.Sprintf("\n  %d. %s", qi+1, q.Question)
		if qi == m.question {
			header = styleAccent.Render(header)
		}
		b.WriteString(header + "\n")
		if qi != m.question {
			continue
		}
		for oi, o := range q.Options {
			cursor := "   "
			if oi == m.option {
				cursor = " > "
			}
			b.WriteString(fmt.Sprintf("  %s[%s] %s\n", cursor, radio(answer.SelectedOptionID == o.ID), o.Label))
		}
		cursor := "   "
		if m.option == len(q.Options) {
			cursor = " > "
		}
		b.WriteString("  " + cursor + m.input.View() + "\n")
	}
	b.WriteString("\n" + faintStyle.Render("  ↑↓: choose  space: select  tab: next question  enter: continue"))
	return b.String()
}

func radio(on bool) string {
	if on {
		return "x"
	}
	return " "
}

func stageLabel(stage string) string {
	switch stage {
	case world.StageAnalyzing:
		return "Analyzing your description..."
	case world.StageBuilding:
		return "Building the world..."
	case "":
		return "Thinking..."
	}
	return strings.ReplaceAll(stage, "_", " ") + "..."
}

func (m worldModel) reviewView() string {
	d := m.wizard.Draft()
	var b strings.Builder
	b.WriteString("\n  Review the world\n")
	for i, f := range draftFields {
		title := draftTitles[f]
		if i == m.draft {
			title = styleAccent.Render("> " + title)
		} else {
			title = "  " + title
		}
		b.WriteString("\n" + title + "\n")
		if i == m.draft && m.editing {
			b.WriteString("  " + m.input.View() + "\n")
			continue
		}
		value := draftValue(d, f)
		if value == "" {
			value = "_empty_"
		}
		if i == m.draft {
			b.WriteString(util.Indent(m.render(value), "  ") + "\n")
		} else {
			b.WriteString(faintStyle.Render("  "+util.Truncate(strings.ReplaceAll(value, "\n", " "), m.maxWidth)) + "\n")
		}
	}
	b.WriteString("\n" + faintStyle.Render("  ↑↓: field  e: edit  c: copy  enter: next  esc: back"))
	return b.String()
}
