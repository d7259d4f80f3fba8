// Package form tracks an editable copy of one configuration document against
// the last saved baseline.
package form

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
)

type SaveStatus int

const (
	SaveIdle SaveStatus = iota
	SaveSaving
	SaveSuccess
	SaveError
)

func (s SaveStatus) String() string {
	switch s {
	case SaveSaving:
		return "saving"
	case SaveSuccess:
		return "success"
	case SaveError:
		return "error"
	default:
		return "idle"
	}
}

// Change is one typed field update. Implementations return a modified copy
// and never mutate slices or maps reachable from the input.
type Change[T any] interface {
	Apply(T) T
}

// Persist writes doc and returns the document as stored by the backend.
type Persist[T any] func(ctx context.Context, doc T) (T, error)

// SavedMsg reports the outcome of Save. It is dropped unless Key and Gen match
// the form's current identity.
type SavedMsg struct {
	Key string
	Gen int
	Doc any
	Err error
}

type Form[T any] struct {
	key      string
	logger   *zap.Logger
	live     *T
	baseline *T
	status   SaveStatus
	err      string
	gen      int
}

func New[T any](key string, logger *zap.Logger) *Form[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Form[T]{key: key, logger: logger.With(zap.String("form", key))}
}

func (f *Form[T]) Key() string { return f.key }

func (f *Form[T]) Gen() int { return f.gen }

func (f *Form[T]) Status() SaveStatus { return f.status }

func (f *Form[T]) Err() string { return f.err }

// Live returns the document being edited.
func (f *Form[T]) Live() (T, bool) {
	if f.live == nil {
		var zero T
		return zero, false
	}
	return *f.live, true
}

func (f *Form[T]) Baseline() (T, bool) {
	if f.baseline == nil {
		var zero T
		return zero, false
	}
	return *f.baseline, true
}

// Init loads a saved document as both live and baseline.
func (f *Form[T]) Init(doc T) {
	live, baseline := doc, doc
	f.live = &live
	f.baseline = &baseline
	f.status = SaveIdle
	f.err = ""
	f.gen++
}

// Draft seeds a document that has never been saved. The form is dirty until
// a save succeeds.
func (f *Form[T]) Draft(doc T) {
	f.live = &doc
	f.baseline = nil
	f.status = SaveIdle
	f.err = ""
	f.gen++
}

func (f *Form[T]) Reset() {
	f.live = nil
	f.baseline = nil
	f.status = SaveIdle
	f.err = ""
	f.gen++
}

// Revert drops unsaved edits. A draft with no baseline becomes empty.
func (f *Form[T]) Revert() {
	if f.baseline == nil {
		f.Reset()
		return
	}
	f.Init(*f.baseline)
}

// Apply is a no-op while the form holds no document.
func (f *Form[T]) Apply(change Change[T]) {
	if f.live == nil {
		return
	}
	next := change.Apply(*f.live)
	f.live = &next
	f.status = SaveIdle
	f.err = ""
}

func (f *Form[T]) Dirty() bool {
	if f.live == nil {
		return false
	}
	if f.baseline == nil {
		return true
	}
	return !cmp.Equal(*f.live, *f.baseline, cmpopts.EquateEmpty())
}

// Save persists the live document. It returns nil when there is nothing to
// save.
func (f *Form[T]) Save(persist Persist[T]) tea.Cmd {
	if f.live == nil {
		return nil
	}
	f.status = SaveSaving
	f.err = ""

	key, gen, doc := f.key, f.gen, *f.live
	return func() tea.Msg {
		saved, err := persist(context.Background(), doc)
		if err != nil {
			return SavedMsg{Key: key, Gen: gen, Err: err}
		}
		return SavedMsg{Key: key, Gen: gen, Doc: saved}
	}
}

// Owns reports whether msg is the current save result of this form.
func (f *Form[T]) Owns(msg SavedMsg) bool {
	return msg.Key == f.key && msg.Gen == f.gen
}

// Settle applies a save result. It reports false for results that belong to
// another form or were superseded by Init, Draft or Reset.
func (f *Form[T]) Settle(msg SavedMsg) bool {
	if !f.Owns(msg) {
		if msg.Key == f.key {
			f.logger.Debug("discarding stale save", zap.Int("gen", msg.Gen), zap.Int("current", f.gen))
		}
		return false
	}

	if msg.Err != nil {
		f.status = SaveError
		f.err = msg.Err.Error()
		f.logger.Warn("save failed", zap.Error(msg.Err))
		return true
	}

	doc, ok := msg.Doc.(T)
	if !ok {
		f.status = SaveError
		f.err = "unexpected document type"
		return true
	}
	live, baseline := doc, doc
	f.live = &live
	f.baseline = &baseline
	f.status = SaveSuccess
	return true
}
