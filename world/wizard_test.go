package world

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"talespinner/gateway"
	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticUser string

func (u staticUser) CurrentUserID() string { return string(u) }

type fakeStream struct {
	events []RunEvent
	closed int
}

func (s *fakeStream) Next() (RunEvent, error) {
	if s.closed > 0 {
		return RunEvent{}, gateway.ErrStreamClosed
	}
	if len(s.events) == 0 {
		return RunEvent{}, io.EOF
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, nil
}

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

type fakeRunner struct {
	runs     int
	started  []WorldArchitectStart
	answers  map[string]HitlAnswer
	startErr error
	stream   *fakeStream
}

func (r *fakeRunner) StartWorldRun(_ context.Context, _ string, payload WorldArchitectStart) (string, error) {
	if r.startErr != nil {
		return "", r.startErr
	}
	r.runs++
	r.started = append(r.started, payload)
	return "run-" + string(rune('0'+r.runs)), nil
}

func (r *fakeRunner) SubmitAnswers(_ context.Context, _ string, _ string, answers map[string]HitlAnswer) error {
	r.answers = answers
	return nil
}

func (r *fakeRunner) Subscribe(context.Context, string) (Stream, error) {
	r.stream = &fakeStream{}
	return r.stream, nil
}

func newWizard(user string) (*Wizard, *fakeRunner) {
	r := &fakeRunner{}
	w := NewWizard(r, staticUser(user), nil)
	w.Open()
	w.SetWorldDescription("X")
	w.SetPlotType(PlotMystery)
	return w, r
}

// started enters the HITL step and applies the run-start completion. The
// returned wait command is not executed.
func started(t *testing.T) (*Wizard, *fakeRunner) {
	t.Helper()
	w, r := newWizard("u1")
	cmd := w.NextStep()
	require.NotNil(t, cmd)
	require.Equal(t, PhaseStarting, w.Session().Phase)
	require.NotNil(t, w.Update(cmd()))
	return w, r
}

func feed(w *Wizard, eventType, payload string) tea.Cmd {
	return w.Update(eventMsg{
		gen:   w.gen,
		runID: w.session.RunID,
		event: RunEvent{RunID: w.session.RunID, Type: eventType, Payload: json.RawMessage(payload)},
	})
}

const oneQuestion = `{"questions":[{"id":"q1","question":"Tone?","options":[{"id":"o1","label":"Dark"},{"id":"o2","label":"Light"}]}]}`

func TestFoundationCanContinue(t *testing.T) {
	w := NewWizard(&fakeRunner{}, staticUser("u1"), nil)
	w.Open()
	assert.False(t, w.FoundationCanContinue())

	w.SetWorldDescription("   ")
	w.SetPlotType(PlotHeist)
	assert.False(t, w.FoundationCanContinue())

	w.SetWorldDescription("A floating archipelago")
	assert.True(t, w.FoundationCanContinue())

	w.SetPlotType(PlotCustom)
	assert.False(t, w.FoundationCanContinue())
	w.SetPlotTypeCustom("courtroom drama")
	assert.True(t, w.FoundationCanContinue())
}

func TestNextStepBlockedWithoutFoundation(t *testing.T) {
	w := NewWizard(&fakeRunner{}, staticUser("u1"), nil)
	w.Open()
	assert.Nil(t, w.NextStep())
	assert.Equal(t, FoundationStep, w.Step())
}

func TestStartRunEntersThinking(t *testing.T) {
	w, r := started(t)

	s := w.Session()
	assert.Equal(t, PhaseThinking, s.Phase)
	assert.Equal(t, StageAnalyzing, s.Stage)
	assert.Equal(t, "run-1", s.RunID)

	require.Len(t, r.started, 1)
	assert.Equal(t, "X", r.started[0].WorldDescription)
	assert.Equal(t, PlotMystery, r.started[0].PlotType)
	assert.Nil(t, r.started[0].PlotTypeCustom)
	assert.True(t, r.started[0].IsGlobalConflictEnabled)
}

func TestCustomPlotTypeSendsDetail(t *testing.T) {
	w, r := newWizard("u1")
	w.SetPlotType(PlotCustom)
	w.SetPlotTypeCustom("  heist in reverse ")
	w.SetGlobalConflict(false)

	w.Update(w.NextStep()())
	require.Len(t, r.started, 1)
	require.NotNil(t, r.started[0].PlotTypeCustom)
	assert.Equal(t, "heist in reverse", *r.started[0].PlotTypeCustom)
	assert.False(t, r.started[0].IsGlobalConflictEnabled)
}

func TestMissingUserFailsWithoutRequest(t *testing.T) {
	w, r := newWizard("")
	assert.Nil(t, w.NextStep())

	s := w.Session()
	assert.Equal(t, PhaseError, s.Phase)
	assert.Equal(t, ErrNoUser.Error(), s.Err)
	assert.Zero(t, r.runs)
}

func TestStageEventsUpdateLabel(t *testing.T) {
	w, _ := started(t)
	require.NotNil(t, feed(w, EventStage, `{"stage":"asking"}`))
	assert.Equal(t, "asking", w.Session().Stage)
	assert.Equal(t, PhaseThinking, w.Session().Phase)
}

func TestQuestionsAnswerAndContinue(t *testing.T) {
	w, r := started(t)

	feed(w, EventHitlQuestions, oneQuestion)
	s := w.Session()
	assert.Equal(t, PhaseQuestions, s.Phase)
	require.Len(t, s.Questions, 1)
	assert.False(t, w.CanContinue())
	assert.Nil(t, w.Continue())

	w.SetFreeText("q1", "   ")
	assert.False(t, w.CanContinue(), "blank free text is not an answer")

	w.SelectOption("q1", "o2")
	assert.True(t, w.CanContinue())

	cmd := w.Continue()
	require.NotNil(t, cmd)
	s = w.Session()
	assert.Equal(t, PhaseThinking, s.Phase)
	assert.Equal(t, StageBuilding, s.Stage)

	assert.Nil(t, w.Update(cmd()))
	assert.Equal(t, map[string]HitlAnswer{"q1": {SelectedOptionID: "o2"}}, r.answers)
}

func TestNewQuestionsClearAnswers(t *testing.T) {
	w, _ := started(t)
	feed(w, EventHitlQuestions, oneQuestion)
	w.SelectOption("q1", "o1")

	feed(w, EventHitlQuestions, oneQuestion)
	assert.Empty(t, w.Session().Answers)
	assert.False(t, w.CanContinue())
}

func TestSkeletonFinishesRunAndAdvances(t *testing.T) {
	w, r := started(t)
	feed(w, EventHitlQuestions, oneQuestion)

	cmd := feed(w, EventWorldSkeleton, `{"game_prompt":"gp","world_bible":"foo","global_conflict":"war"}`)
	require.NotNil(t, cmd)

	assert.Equal(t, PhaseDone, w.Session().Phase)
	assert.Equal(t, WorldDraft{GamePrompt: "gp", WorldBible: "foo", GlobalConflict: "war"}, w.Draft())
	assert.Equal(t, 1, r.stream.closed)

	assert.Nil(t, feed(w, EventHitlQuestions, oneQuestion))
	assert.Nil(t, feed(w, EventWorldSkeleton, `{"world_bible":"bar"}`))
	assert.Equal(t, PhaseDone, w.Session().Phase, "no event re-enters an earlier phase")
	assert.Equal(t, "foo", w.Draft().WorldBible)

	assert.Nil(t, w.Update(cmd()))
	assert.Equal(t, HitlStep+1, w.Step())
	assert.Equal(t, PhaseIdle, w.Session().Phase)
	assert.Equal(t, "foo", w.Draft().WorldBible, "draft survives leaving the step")
}

func TestErrorEventIsTerminal(t *testing.T) {
	w, r := started(t)
	assert.Nil(t, feed(w, EventError, `{"message":"model unavailable"}`))

	s := w.Session()
	assert.Equal(t, PhaseError, s.Phase)
	assert.Equal(t, "model unavailable", s.Err)
	assert.Equal(t, 1, r.stream.closed)

	assert.Nil(t, feed(w, EventHitlQuestions, oneQuestion))
	assert.Equal(t, PhaseError, w.Session().Phase)
}

func TestStreamEndBeforeSkeletonIsError(t *testing.T) {
	w, _ := started(t)
	w.Update(streamEndedMsg{gen: w.gen, runID: w.session.RunID, err: io.EOF})

	s := w.Session()
	assert.Equal(t, PhaseError, s.Phase)
	assert.Equal(t, errStreamEnded.Error(), s.Err)
}

func TestStartFailureIsError(t *testing.T) {
	w, r := newWizard("u1")
	r.startErr = &gateway.APIError{Status: 503, Message: "architect busy"}

	w.Update(w.NextStep()())
	s := w.Session()
	assert.Equal(t, PhaseError, s.Phase)
	assert.Equal(t, "architect busy", s.Err)
}

func TestStaleStartCompletionIsDiscarded(t *testing.T) {
	w, r := newWizard("u1")
	cmd := w.NextStep()
	require.NotNil(t, cmd)

	w.PrevStep()
	assert.Nil(t, w.Update(cmd()))

	assert.Equal(t, FoundationStep, w.Step())
	assert.Equal(t, PhaseIdle, w.Session().Phase)
	assert.Equal(t, 1, r.stream.closed, "late subscription is closed")
}

func TestLeavingStepClosesSubscription(t *testing.T) {
	w, r := started(t)
	feed(w, EventHitlQuestions, oneQuestion)
	w.SelectOption("q1", "o1")

	w.PrevStep()
	assert.Equal(t, 1, r.stream.closed)
	assert.Equal(t, Session{}.Phase, w.Session().Phase)
	assert.Empty(t, w.Session().RunID)
	assert.Empty(t, w.Session().Questions)

	stale := eventMsg{gen: w.gen - 1, runID: "run-1", event: RunEvent{Type: EventHitlQuestions, Payload: json.RawMessage(oneQuestion)}}
	assert.Nil(t, w.Update(stale))
	assert.Equal(t, PhaseIdle, w.Session().Phase)
}

func TestRetryStartsFreshRun(t *testing.T) {
	w, _ := started(t)
	feed(w, EventError, `{"message":"boom"}`)

	cmd := w.Retry()
	require.NotNil(t, cmd)
	w.Update(cmd())

	s := w.Session()
	assert.Equal(t, PhaseThinking, s.Phase)
	assert.Equal(t, "run-2", s.RunID)
	assert.Empty(t, s.Err)
}

func TestWaitCommandReadsStream(t *testing.T) {
	w, r := started(t)
	r.stream.events = []RunEvent{{RunID: "run-1", Type: EventStage, Payload: json.RawMessage(`{"stage":"asking"}`)}}

	msg := waitForEvent(w.gen, "run-1", r.stream)()
	require.IsType(t, eventMsg{}, msg)
	next := w.Update(msg)
	assert.Equal(t, "asking", w.Session().Stage)

	ended := next()
	require.IsType(t, streamEndedMsg{}, ended)
	w.Update(ended)
	assert.Equal(t, PhaseError, w.Session().Phase)
}

func TestCloseResetsEverything(t *testing.T) {
	w, r := started(t)
	w.Close()

	assert.False(t, w.IsOpen())
	assert.Equal(t, FoundationStep, w.Step())
	assert.Empty(t, w.Foundation().WorldDescription)
	assert.Equal(t, 1, r.stream.closed)
}

func TestSkeletonWithoutAutoAdvanceStays(t *testing.T) {
	w, _ := started(t)
	w.SetAutoAdvance(false)

	assert.Nil(t, feed(w, EventWorldSkeleton, `{"world_bible":"foo"}`))
	assert.Equal(t, PhaseDone, w.Session().Phase)
	assert.Equal(t, HitlStep, w.Step())

	assert.Nil(t, w.Continue())
	assert.Equal(t, HitlStep+1, w.Step())
}
