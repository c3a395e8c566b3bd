package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestAccumulator_ImageCap(t *testing.T) {
	st := Fold(State{}, []Event{
		ImageDelta{URL: "https://img/1"},
		ImageDelta{URL: "https://img/2"},
		ImageDelta{URL: "https://img/3"},
	})
	assert.Equal(t, []string{"https://img/1"}, st.Images)
}

func TestAccumulator_CitationDedup(t *testing.T) {
	c := Citation{Type: CitationWeb, URL: "https://go.dev"}
	st := Fold(State{}, []Event{
		CitationDelta{Citation: c},
		CitationDelta{Citation: Citation{Type: CitationSearch, Source: "kb", StartBlock: 1, EndBlock: 2}},
		CitationDelta{Citation: Citation{Type: CitationWeb, URL: "https://go.dev", Title: "later"}},
	})
	require.Len(t, st.Citations, 2)
	assert.Equal(t, c, st.Citations[0])
	assert.Equal(t, CitationSearch, st.Citations[1].Type)
}

func TestAccumulator_ToolUseSupersession(t *testing.T) {
	st := Fold(State{}, []Event{
		ToolUseEvent{Name: "web_search", Phase: ToolPhaseStart},
		ToolUseEvent{Name: "code", Phase: ToolPhaseStart},
		ToolUseEvent{Name: "web_search", Phase: ToolPhaseEnd, Payload: []byte(`{"hits":3}`)},
	})
	require.Len(t, st.ToolUses, 2)
	assert.Equal(t, "web_search", st.ToolUses[0].Name)
	assert.Equal(t, ToolPhaseEnd, st.ToolUses[0].Phase)
	assert.JSONEq(t, `{"hits":3}`, string(st.ToolUses[0].Payload))
	assert.Equal(t, ToolPhaseStart, st.ToolUses[1].Phase)

	// A late start does not regress a finished tool.
	st = Fold(st, []Event{ToolUseEvent{Name: "web_search", Phase: ToolPhaseStart}})
	assert.Equal(t, ToolPhaseEnd, st.ToolUses[0].Phase)
}

func TestAccumulator_ReasoningIsSeparateChannel(t *testing.T) {
	st := Fold(State{}, []Event{
		ReasoningDelta{Text: "let me "},
		ContentDelta{Text: "Answer"},
		ReasoningDelta{Text: "think"},
	})
	assert.Equal(t, "Answer", st.Content)
	assert.Equal(t, "let me think", st.Reasoning)
}

func TestAccumulator_ThinkingDurationComputedOnce(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	a := NewAccumulator(WithClock(clk.Now))

	clk.t = clk.t.Add(2 * time.Second)
	a.Apply(ReasoningDelta{Text: "hmm"})
	clk.t = clk.t.Add(3 * time.Second)
	st := a.Apply(ContentDelta{Text: "A"})
	assert.True(t, st.ThinkingMeasured)
	assert.Equal(t, 5, st.ThinkingDurationSeconds)

	clk.t = clk.t.Add(10 * time.Second)
	st = a.Apply(ContentDelta{Text: "B"})
	assert.Equal(t, 5, st.ThinkingDurationSeconds)
}

func TestAccumulator_SeededContentSkipsThinkingMeasure(t *testing.T) {
	a := NewAccumulator(WithSeed(SeedFromOutput("prefix", 3)))
	st := a.Apply(ContentDelta{Text: "+"})
	assert.False(t, st.ThinkingMeasured)
	assert.Equal(t, "prefix+", st.Content)
}

func TestAccumulator_ErrorEndsFoldKeepingContent(t *testing.T) {
	st := Fold(State{}, []Event{
		ContentDelta{Text: "partial"},
		ErrorEvent{Type: "upstream", Message: "reset"},
		ContentDelta{Text: " ignored"},
	})
	assert.Equal(t, "partial", st.Content)
	require.NotNil(t, st.Err)
	assert.Equal(t, "reset", st.Err.Message)
	assert.True(t, st.Done)
}

func TestAccumulator_StatusIsAdvisoryUntilTerminal(t *testing.T) {
	a := NewAccumulator()
	st := a.Apply(JobStatus{Status: model.TaskStatusInProgress, Cursor: 4})
	assert.False(t, st.Done)
	assert.Empty(t, st.Content)
	assert.Equal(t, int64(4), st.Cursor)

	st = a.Apply(JobStatus{Status: model.TaskStatusCompleted})
	assert.True(t, st.Done)
	assert.Equal(t, model.TaskStatusCompleted, st.Status)
	assert.Equal(t, int64(4), st.Cursor)
}

func TestAccumulator_ApplyFrameAdvancesCursor(t *testing.T) {
	a := NewAccumulator(WithSeed(SeedFromOutput("", 10)))
	st := a.ApplyFrame(Frame{Events: []Event{ContentDelta{Text: "a"}}})
	assert.Equal(t, int64(11), st.Cursor)
	st = a.ApplyFrame(Frame{Seq: 20, HasSeq: true, Events: []Event{ContentDelta{Text: "b"}}})
	assert.Equal(t, int64(20), st.Cursor)
	st = a.ApplyFrame(Frame{Seq: 15, HasSeq: true})
	assert.Equal(t, int64(20), st.Cursor)
	assert.Equal(t, "ab", st.Content)
}

func TestAccumulator_SnapshotsDoNotAlias(t *testing.T) {
	a := NewAccumulator()
	s1 := a.Apply(CitationDelta{Citation: Citation{URL: "https://a"}})
	a.Apply(CitationDelta{Citation: Citation{URL: "https://b"}})
	assert.Len(t, s1.Citations, 1)
}

func TestAccumulator_ResumeScenario(t *testing.T) {
	a := NewAccumulator(WithSeed(SeedFromOutput("Hello, wo", 42)))
	a.Apply(ContentDelta{Text: "rld!"})
	st := a.Apply(JobStatus{Status: model.TaskStatusCompleted})
	assert.Equal(t, "Hello, world!", st.Content)
	assert.True(t, st.Done)
	assert.Equal(t, int64(42), st.Cursor)
}

func genEvent() gopter.Gen {
	text := gen.AlphaString()
	return gen.OneGenOf(
		text.Map(func(s string) Event { return ContentDelta{Text: s} }),
		text.Map(func(s string) Event { return ReasoningDelta{Text: s} }),
		gen.IntRange(0, 4).Map(func(i int) Event {
			return CitationDelta{Citation: Citation{Type: CitationWeb, URL: "https://c/" + string(rune('a'+i))}}
		}),
		gen.IntRange(0, 3).Map(func(i int) Event {
			return ImageDelta{URL: "https://i/" + string(rune('a'+i))}
		}),
		gen.IntRange(0, 5).Map(func(i int) Event {
			phase := ToolPhaseStart
			if i%2 == 1 {
				phase = ToolPhaseEnd
			}
			return ToolUseEvent{Name: "tool" + string(rune('a'+i/2)), Phase: phase}
		}),
	)
}

func TestAccumulator_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("content is the concatenation of content deltas", prop.ForAll(
		func(parts []string) bool {
			events := make([]Event, 0, len(parts))
			for _, p := range parts {
				events = append(events, ContentDelta{Text: p})
			}
			st := Fold(State{}, events)
			return st.Content == strings.Join(parts, "")
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("fold is deterministic", prop.ForAll(
		func(events []Event) bool {
			clk := &fakeClock{t: time.Unix(0, 0)}
			a := Fold(State{}, events, WithClock(clk.Now))
			b := Fold(State{}, events, WithClock(clk.Now))
			return assert.ObjectsAreEqual(a, b)
		},
		gen.SliceOf(genEvent()),
	))

	properties.Property("resume from a checkpoint matches a single pass", prop.ForAll(
		func(events []Event, cut int) bool {
			if cut > len(events) {
				cut = len(events)
			}
			clk := &fakeClock{t: time.Unix(0, 0)}
			whole := Fold(State{}, events, WithClock(clk.Now))

			checkpoint := Fold(State{}, events[:cut], WithClock(clk.Now))
			resumed := Fold(checkpoint, events[cut:], WithClock(clk.Now))

			return whole.Content == resumed.Content &&
				whole.Reasoning == resumed.Reasoning &&
				assert.ObjectsAreEqual(whole.Citations, resumed.Citations) &&
				assert.ObjectsAreEqual(whole.Images, resumed.Images) &&
				assert.ObjectsAreEqual(whole.ToolUses, resumed.ToolUses)
		},
		gen.SliceOf(genEvent()),
		gen.IntRange(0, 20),
	))

	properties.Property("images never exceed the cap and keep the first url", prop.ForAll(
		func(events []Event) bool {
			st := Fold(State{}, events)
			if len(st.Images) > MaxImages {
				return false
			}
			for _, ev := range events {
				if img, ok := ev.(ImageDelta); ok {
					return len(st.Images) == 1 && st.Images[0] == img.URL
				}
			}
			return len(st.Images) == 0
		},
		gen.SliceOf(genEvent()),
	))

	properties.TestingRun(t)
}

func TestAccumulator_StatusFramesDoNotAdvanceCursor(t *testing.T) {
	a := NewAccumulator(WithSeed(SeedFromOutput("", 3)))
	st := a.ApplyFrame(Frame{Events: []Event{JobStatus{Status: model.TaskStatusInProgress}}})
	assert.Equal(t, int64(3), st.Cursor)
	st = a.ApplyFrame(Frame{Events: []Event{ErrorEvent{Message: "boom"}}})
	assert.Equal(t, int64(3), st.Cursor)
}
