package stream

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"taskstream/internal/domain/model"
)

// MaxImages caps images per response.
const MaxImages = 1

type ToolUse struct {
	Name    string          `json:"name"`
	Phase   ToolPhase       `json:"phase"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// State is the accumulated response of one stream attachment.
type State struct {
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	Images    []string   `json:"images,omitempty"`
	ToolUses  []ToolUse  `json:"toolUses,omitempty"`
	Citations []Citation `json:"citations,omitempty"`

	ThinkingDurationSeconds int  `json:"thinkingDurationSeconds,omitempty"`
	ThinkingMeasured        bool `json:"-"`

	Status        model.TaskStatus `json:"status,omitempty"`
	StatusMessage string           `json:"statusMessage,omitempty"`
	Cursor        int64            `json:"cursor"`

	// Err is set when the fold ended on an error frame. Content gathered up to
	// that point is kept.
	Err  *ErrorEvent `json:"error,omitempty"`
	Done bool        `json:"done"`
}

func (s State) clone() State {
	s.Images = append([]string(nil), s.Images...)
	s.ToolUses = append([]ToolUse(nil), s.ToolUses...)
	s.Citations = append([]Citation(nil), s.Citations...)
	if s.Err != nil {
		e := *s.Err
		s.Err = &e
	}
	return s
}

// Accumulator folds classified events into a State. It is not safe for
// concurrent use; one attachment owns one accumulator.
type Accumulator struct {
	st       State
	started  time.Time
	now      func() time.Time
	images   map[string]struct{}
	tools    map[string]int
	citeKeys map[string]struct{}
}

type Option func(*Accumulator)

// WithSeed restarts the fold from a prior state, typically a checkpoint.
func WithSeed(seed State) Option {
	return func(a *Accumulator) { a.st = seed.clone() }
}

// WithClock overrides the time source used for the thinking duration.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

func NewAccumulator(opts ...Option) *Accumulator {
	a := &Accumulator{now: time.Now}
	for _, o := range opts {
		o(a)
	}
	a.started = a.now()
	a.reindex()
	return a
}

// SeedFromOutput returns a State whose content is a resumed job's partial output.
func SeedFromOutput(partial string, cursor int64) State {
	return State{Content: partial, Cursor: cursor}
}

func (a *Accumulator) reindex() {
	a.images = make(map[string]struct{}, len(a.st.Images))
	for _, u := range a.st.Images {
		a.images[u] = struct{}{}
	}
	a.tools = make(map[string]int, len(a.st.ToolUses))
	for i, t := range a.st.ToolUses {
		a.tools[t.Name] = i
	}
	a.citeKeys = make(map[string]struct{}, len(a.st.Citations))
	for _, c := range a.st.Citations {
		a.citeKeys[c.Key()] = struct{}{}
	}
}

// State returns a snapshot of the current state.
func (a *Accumulator) State() State { return a.st.clone() }

// Done reports whether a terminal status or an error ended the fold.
func (a *Accumulator) Done() bool { return a.st.Done }

// Advance moves the cursor forward; it never moves back.
func (a *Accumulator) Advance(cursor int64) {
	if cursor > a.st.Cursor {
		a.st.Cursor = cursor
	}
}

// ApplyFrame applies every event of f in order and advances the cursor: to
// the frame's sequence number when it has one, otherwise by one for frames
// that carry output. Status and error frames without a sequence number are
// out of band and leave the cursor alone.
func (a *Accumulator) ApplyFrame(f Frame) State {
	if a.st.Done {
		return a.State()
	}
	if f.HasSeq {
		a.Advance(f.Seq)
	} else if f.CarriesOutput() {
		a.Advance(a.st.Cursor + 1)
	}
	for _, ev := range f.Events {
		a.apply(ev)
	}
	return a.State()
}

// Apply folds one event and returns the resulting snapshot. Events after the
// fold has ended are ignored.
func (a *Accumulator) Apply(ev Event) State {
	a.apply(ev)
	return a.State()
}

func (a *Accumulator) apply(ev Event) {
	if a.st.Done {
		return
	}
	switch e := ev.(type) {
	case ContentDelta:
		if e.Text == "" {
			return
		}
		if !a.st.ThinkingMeasured && a.st.Content == "" {
			a.st.ThinkingDurationSeconds = int(math.Round(a.now().Sub(a.started).Seconds()))
			a.st.ThinkingMeasured = true
		}
		a.st.Content += e.Text
	case ReasoningDelta:
		a.st.Reasoning += e.Text
	case ImageDelta:
		if _, seen := a.images[e.URL]; seen || e.URL == "" {
			return
		}
		a.images[e.URL] = struct{}{}
		a.st.Images = append(a.st.Images, e.URL)
		if len(a.st.Images) > MaxImages {
			a.st.Images = a.st.Images[:MaxImages]
		}
	case ToolUseEvent:
		tu := ToolUse{Name: e.Name, Phase: e.Phase, Payload: e.Payload}
		i, ok := a.tools[e.Name]
		if !ok {
			a.tools[e.Name] = len(a.st.ToolUses)
			a.st.ToolUses = append(a.st.ToolUses, tu)
			return
		}
		// An end supersedes its start; a late start never regresses an end.
		if a.st.ToolUses[i].Phase == ToolPhaseEnd && e.Phase == ToolPhaseStart {
			return
		}
		a.st.ToolUses[i] = tu
	case CitationDelta:
		k := e.Citation.Key()
		if _, seen := a.citeKeys[k]; seen {
			return
		}
		a.citeKeys[k] = struct{}{}
		a.st.Citations = append(a.st.Citations, e.Citation)
	case JobStatus:
		a.st.Status = e.Status
		a.st.StatusMessage = e.Message
		a.Advance(e.Cursor)
		if e.Status.IsTerminal() {
			a.st.Done = true
		}
	case ErrorEvent:
		ee := e
		a.st.Err = &ee
		a.st.Done = true
	case Unrecognized:
	default:
		panic(fmt.Sprintf("stream: unhandled event type %T", ev))
	}
}

// Fold runs events through a fresh accumulator seeded with seed.
func Fold(seed State, events []Event, opts ...Option) State {
	a := NewAccumulator(append([]Option{WithSeed(seed)}, opts...)...)
	for _, ev := range events {
		if a.Done() {
			break
		}
		a.apply(ev)
	}
	return a.State()
}
