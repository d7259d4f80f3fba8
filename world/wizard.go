// Package world drives the world creation wizard and its human-in-the-loop
// architect run.
package world

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"talespinner/gateway"
	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

const (
	TotalSteps     = 6
	FoundationStep = 0
	HitlStep       = 1
)

const (
	StageAnalyzing = "analyzing"
	StageBuilding  = "building"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseThinking
	PhaseQuestions
	PhaseDone
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseThinking:
		return "thinking"
	case PhaseQuestions:
		return "questions"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

var (
	ErrNoUser            = errors.New("select a user before creating a world")
	ErrFoundationMissing = errors.New("a world description and a plot type are required")
	errStreamEnded       = errors.New("the architect stream ended before the world was ready")
)

type Answer struct {
	SelectedOptionID string
	FreeText         string
}

func (a Answer) filled() bool {
	return a.SelectedOptionID != "" || strings.TrimSpace(a.FreeText) != ""
}

// Session is a snapshot of the current architect run.
type Session struct {
	RunID     string
	Phase     Phase
	Stage     string
	Questions []HitlQuestion
	Answers   map[string]Answer
	Err       string
}

type Foundation struct {
	WorldDescription string
	PlotType         PlotType
	PlotTypeCustom   string
	GlobalConflict   bool
}

type DraftField int

const (
	DraftGamePrompt DraftField = iota
	DraftWorldBible
	DraftGlobalConflict
)

type runStartedMsg struct {
	gen    int
	runID  string
	stream Stream
	err    error
}

type eventMsg struct {
	gen   int
	runID string
	event RunEvent
}

type streamEndedMsg struct {
	gen   int
	runID string
	err   error
}

type answersSentMsg struct {
	gen   int
	runID string
	err   error
}

type advanceMsg struct{ gen int }

type Wizard struct {
	runner Runner
	users  UserSource
	logger *zap.Logger

	open       bool
	step       int
	foundation Foundation
	draft      WorldDraft

	session Session
	stream  Stream
	gen     int

	holdOnDone bool
}

func NewWizard(runner Runner, users UserSource, logger *zap.Logger) *Wizard {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Wizard{runner: runner, users: users, logger: logger}
	w.reset()
	return w
}

// SetAutoAdvance controls whether a finished run moves on to the review
// step by itself. It is on by default.
func (w *Wizard) SetAutoAdvance(on bool) { w.holdOnDone = !on }

func (w *Wizard) reset() {
	w.step = FoundationStep
	w.foundation = Foundation{GlobalConflict: true}
	w.draft = WorldDraft{}
	w.session = Session{}
}

func (w *Wizard) IsOpen() bool { return w.open }

func (w *Wizard) Step() int { return w.step }

func (w *Wizard) Foundation() Foundation { return w.foundation }

func (w *Wizard) Draft() WorldDraft { return w.draft }

// Session returns a copy of the run state.
func (w *Wizard) Session() Session {
	s := w.session
	s.Questions = append([]HitlQuestion(nil), w.session.Questions...)
	s.Answers = make(map[string]Answer, len(w.session.Answers))
	for k, v := range w.session.Answers {
		s.Answers[k] = v
	}
	return s
}

func (w *Wizard) Open() {
	w.closeSession()
	w.reset()
	w.open = true
}

func (w *Wizard) Close() {
	w.closeSession()
	w.reset()
	w.open = false
}

func (w *Wizard) FoundationCanContinue() bool {
	f := w.foundation
	if strings.TrimSpace(f.WorldDescription) == "" || f.PlotType == "" {
		return false
	}
	if f.PlotType == PlotCustom && strings.TrimSpace(f.PlotTypeCustom) == "" {
		return false
	}
	return true
}

// CanContinue reports whether every question has an option or free text.
func (w *Wizard) CanContinue() bool {
	if w.session.Phase != PhaseQuestions {
		return false
	}
	for _, q := range w.session.Questions {
		if !w.session.Answers[q.ID].filled() {
			return false
		}
	}
	return true
}

func (w *Wizard) SetWorldDescription(s string) { w.foundation.WorldDescription = s }

func (w *Wizard) SetPlotType(p PlotType) { w.foundation.PlotType = p }

func (w *Wizard) SetPlotTypeCustom(s string) { w.foundation.PlotTypeCustom = s }

func (w *Wizard) SetGlobalConflict(enabled bool) { w.foundation.GlobalConflict = enabled }

func (w *Wizard) SelectOption(questionID, optionID string) {
	if w.session.Phase != PhaseQuestions {
		return
	}
	a := w.session.Answers[questionID]
	a.SelectedOptionID = optionID
	w.session.Answers[questionID] = a
}

func (w *Wizard) SetFreeText(questionID, text string) {
	if w.session.Phase != PhaseQuestions {
		return
	}
	a := w.session.Answers[questionID]
	a.FreeText = text
	w.session.Answers[questionID] = a
}

func (w *Wizard) SetDraftField(field DraftField, value string) {
	switch field {
	case DraftGamePrompt:
		w.draft.GamePrompt = value
	case DraftWorldBible:
		w.draft.WorldBible = value
	case DraftGlobalConflict:
		w.draft.GlobalConflict = value
	}
}

func (w *Wizard) NextStep() tea.Cmd {
	if w.step == FoundationStep && !w.FoundationCanContinue() {
		return nil
	}
	return w.goTo(min(TotalSteps-1, w.step+1))
}

func (w *Wizard) PrevStep() tea.Cmd {
	return w.goTo(max(0, w.step-1))
}

func (w *Wizard) goTo(step int) tea.Cmd {
	if step == w.step {
		return nil
	}
	if w.step == HitlStep {
		w.closeSession()
	}
	w.step = step
	if step == HitlStep {
		return w.start()
	}
	return nil
}

// Continue submits the answers while questions are shown and leaves the
// step once the run is done.
func (w *Wizard) Continue() tea.Cmd {
	switch w.session.Phase {
	case PhaseQuestions:
		if !w.CanContinue() {
			return nil
		}
		return w.submit()
	case PhaseDone:
		return w.NextStep()
	}
	return nil
}

// Retry drops the current run and starts a fresh one.
func (w *Wizard) Retry() tea.Cmd {
	if w.step != HitlStep {
		return nil
	}
	w.closeSession()
	return w.start()
}

// closeSession tears down the subscription and forgets the run. Completions
// of the old run are discarded by generation.
func (w *Wizard) closeSession() {
	w.gen++
	if w.stream != nil {
		if err := w.stream.Close(); err != nil {
			w.logger.Debug("closing event stream", zap.Error(err))
		}
		w.stream = nil
	}
	w.session = Session{}
}

func (w *Wizard) fail(err error) {
	w.session.Phase = PhaseError
	w.session.Err = err.Error()
	if w.stream != nil {
		_ = w.stream.Close()
		w.stream = nil
	}
	w.logger.Warn("architect run failed", zap.String("run_id", w.session.RunID), zap.Error(err))
}

func (w *Wizard) start() tea.Cmd {
	owner := w.users.CurrentUserID()
	if owner == "" {
		w.fail(ErrNoUser)
		return nil
	}
	if !w.FoundationCanContinue() {
		w.fail(ErrFoundationMissing)
		return nil
	}

	payload := WorldArchitectStart{
		WorldDescription:        strings.TrimSpace(w.foundation.WorldDescription),
		PlotType:                w.foundation.PlotType,
		IsGlobalConflictEnabled: w.foundation.GlobalConflict,
	}
	if w.foundation.PlotType == PlotCustom {
		custom := strings.TrimSpace(w.foundation.PlotTypeCustom)
		payload.PlotTypeCustom = &custom
	}

	w.session = Session{Phase: PhaseStarting, Answers: map[string]Answer{}}
	gen := w.gen
	runner := w.runner
	return func() tea.Msg {
		ctx := context.Background()
		runID, err := runner.StartWorldRun(ctx, owner, payload)
		if err != nil {
			return runStartedMsg{gen: gen, err: err}
		}
		stream, err := runner.Subscribe(ctx, runID)
		return runStartedMsg{gen: gen, runID: runID, stream: stream, err: err}
	}
}

func (w *Wizard) submit() tea.Cmd {
	owner := w.users.CurrentUserID()
	if owner == "" {
		w.fail(ErrNoUser)
		return nil
	}

	answers := make(map[string]HitlAnswer, len(w.session.Questions))
	for _, q := range w.session.Questions {
		a := w.session.Answers[q.ID]
		answers[q.ID] = HitlAnswer{
			SelectedOptionID: a.SelectedOptionID,
			FreeText:         strings.TrimSpace(a.FreeText),
		}
	}

	w.session.Phase = PhaseThinking
	w.session.Stage = StageBuilding
	gen, runID, runner := w.gen, w.session.RunID, w.runner
	return func() tea.Msg {
		err := runner.SubmitAnswers(context.Background(), owner, runID, answers)
		return answersSentMsg{gen: gen, runID: runID, err: err}
	}
}

func waitForEvent(gen int, runID string, stream Stream) tea.Cmd {
	return func() tea.Msg {
		event, err := stream.Next()
		if err != nil {
			return streamEndedMsg{gen: gen, runID: runID, err: err}
		}
		return eventMsg{gen: gen, runID: runID, event: event}
	}
}

func (w *Wizard) current(gen int, runID string) bool {
	return gen == w.gen && runID == w.session.RunID
}

func (w *Wizard) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case runStartedMsg:
		if msg.gen != w.gen || w.session.Phase != PhaseStarting {
			if msg.stream != nil {
				_ = msg.stream.Close()
			}
			return nil
		}
		if msg.err != nil {
			w.session.RunID = msg.runID
			w.fail(msg.err)
			return nil
		}
		w.session.RunID = msg.runID
		w.session.Phase = PhaseThinking
		w.session.Stage = StageAnalyzing
		w.stream = msg.stream
		w.logger.Info("architect run started", zap.String("run_id", msg.runID))
		return waitForEvent(w.gen, msg.runID, msg.stream)

	case eventMsg:
		if !w.current(msg.gen, msg.runID) || w.stream == nil {
			return nil
		}
		stream := w.stream
		w.handleEvent(msg.event)
		if w.stream == nil {
			if w.session.Phase == PhaseDone && !w.holdOnDone {
				return w.advance()
			}
			return nil
		}
		return waitForEvent(w.gen, msg.runID, stream)

	case streamEndedMsg:
		if !w.current(msg.gen, msg.runID) || w.stream == nil {
			return nil
		}
		if errors.Is(msg.err, gateway.ErrStreamClosed) {
			return nil
		}
		if errors.Is(msg.err, io.EOF) {
			w.fail(errStreamEnded)
			return nil
		}
		w.fail(msg.err)

	case answersSentMsg:
		if !w.current(msg.gen, msg.runID) || msg.err == nil {
			return nil
		}
		if w.session.Phase == PhaseDone {
			return nil
		}
		w.fail(msg.err)

	case advanceMsg:
		if msg.gen != w.gen || w.step != HitlStep {
			return nil
		}
		return w.NextStep()
	}
	return nil
}

func (w *Wizard) handleEvent(event RunEvent) {
	if w.session.Phase == PhaseDone || w.session.Phase == PhaseError {
		return
	}

	switch event.Type {
	case EventStage:
		var p StagePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			w.logger.Debug("bad stage payload", zap.Error(err))
			return
		}
		w.session.Stage = p.Stage

	case EventHitlQuestions:
		var p QuestionsPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			w.logger.Debug("bad questions payload", zap.Error(err))
			return
		}
		w.session.Questions = p.Questions
		w.session.Answers = map[string]Answer{}
		w.session.Phase = PhaseQuestions

	case EventWorldSkeleton:
		var p WorldSkeleton
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			w.fail(err)
			return
		}
		w.draft = WorldDraft{GamePrompt: p.GamePrompt, WorldBible: p.WorldBible}
		if p.GlobalConflict != nil {
			w.draft.GlobalConflict = *p.GlobalConflict
		}
		w.session.Phase = PhaseDone
		if w.stream != nil {
			_ = w.stream.Close()
			w.stream = nil
		}
		w.logger.Info("world skeleton received", zap.String("run_id", w.session.RunID))

	case EventError:
		var p ErrorPayload
		_ = json.Unmarshal(event.Payload, &p)
		if p.Message == "" {
			p.Message = "the architect run failed"
		}
		w.fail(errors.New(p.Message))

	case EventDone:
		// A done without a skeleton leaves the run waiting for the stream to end.
	}
}

func (w *Wizard) advance() tea.Cmd {
	gen := w.gen
	return func() tea.Msg { return advanceMsg{gen: gen} }
}
