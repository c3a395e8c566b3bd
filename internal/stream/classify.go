package stream

import (
	"encoding/json"
	"strings"

	"taskstream/internal/domain/model"
)

// Frame is one classified record: its optional sequence number and the deltas
// it carried, in a fixed order (reasoning, content, images, tool uses,
// citations, status, error).
type Frame struct {
	Seq    int64
	HasSeq bool
	Events []Event
}

// CarriesOutput reports whether f holds anything besides status, error or
// unrecognized events.
func (f Frame) CarriesOutput() bool {
	for _, ev := range f.Events {
		switch ev.(type) {
		case JobStatus, ErrorEvent, Unrecognized:
		default:
			return true
		}
	}
	return false
}

type wireRecord struct {
	Seq        *int64          `json:"seq,omitempty"`
	Choices    []wireChoice    `json:"choices,omitempty"`
	Background *wireBackground `json:"background,omitempty"`
	Error      *wireError      `json:"error,omitempty"`
}

type wireChoice struct {
	Delta wireDelta `json:"delta"`
}

type wireDelta struct {
	Content          string              `json:"content,omitempty"`
	Reasoning        string              `json:"reasoning,omitempty"`
	ReasoningContent string              `json:"reasoning_content,omitempty"`
	ReasoningDetails []wireReasoningPart `json:"reasoning_details,omitempty"`
	Images           []wireImage         `json:"images,omitempty"`
	ToolUses         []wireToolUse       `json:"tool_uses,omitempty"`
	Citations        []Citation          `json:"citations,omitempty"`
}

type wireReasoningPart struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type wireImage struct {
	Type     string `json:"type,omitempty"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

type wireToolUse struct {
	Name    string          `json:"name"`
	Phase   ToolPhase       `json:"phase"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wireBackground struct {
	ResponseID string           `json:"responseId"`
	Status     model.TaskStatus `json:"status"`
	Message    string           `json:"message,omitempty"`
	Cursor     int64            `json:"cursor,omitempty"`
}

type wireError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// Classify maps a record to its first semantic delta. Records that fail to
// parse, or carry nothing known, are Unrecognized.
func Classify(record string) Event {
	f := ClassifyFrame(record)
	if len(f.Events) == 0 {
		return Unrecognized{}
	}
	return f.Events[0]
}

// ClassifyFrame maps a record to every delta it carries.
func ClassifyFrame(record string) Frame {
	var rec wireRecord
	if err := json.Unmarshal([]byte(record), &rec); err != nil {
		return Frame{}
	}
	var f Frame
	if rec.Seq != nil {
		f.Seq, f.HasSeq = *rec.Seq, true
	}
	for _, c := range rec.Choices {
		f.Events = append(f.Events, classifyDelta(c.Delta)...)
	}
	// Status and error end a fold, so they follow the record's own deltas.
	if b := rec.Background; b != nil && b.Status.Valid() {
		f.Events = append(f.Events, JobStatus{JobID: b.ResponseID, Status: b.Status, Message: b.Message, Cursor: b.Cursor})
	}
	if e := rec.Error; e != nil {
		msg := e.Message
		if msg == "" {
			msg = "unknown error"
		}
		f.Events = append(f.Events, ErrorEvent{Type: e.Type, Message: msg})
	}
	return f
}

func classifyDelta(d wireDelta) []Event {
	var out []Event
	if r := reasoningText(d); r != "" {
		out = append(out, ReasoningDelta{Text: r})
	}
	if d.Content != "" {
		out = append(out, ContentDelta{Text: d.Content})
	}
	for _, img := range d.Images {
		if img.ImageURL.URL != "" {
			out = append(out, ImageDelta{URL: img.ImageURL.URL})
		}
	}
	for _, t := range d.ToolUses {
		if t.Name == "" || (t.Phase != ToolPhaseStart && t.Phase != ToolPhaseEnd) {
			continue
		}
		out = append(out, ToolUseEvent{Name: t.Name, Phase: t.Phase, Payload: t.Payload})
	}
	for _, c := range d.Citations {
		out = append(out, CitationDelta{Citation: c})
	}
	return out
}

// reasoningText folds the direct reasoning field and typed detail fragments
// into one string.
func reasoningText(d wireDelta) string {
	var b strings.Builder
	b.WriteString(d.Reasoning)
	if d.Reasoning == "" {
		b.WriteString(d.ReasoningContent)
	}
	for _, p := range d.ReasoningDetails {
		switch p.Type {
		case "reasoning.text", "text":
			b.WriteString(p.Text)
		case "reasoning.summary", "summary":
			b.WriteString(p.Summary)
		}
	}
	return b.String()
}

// ClassifyAll returns every delta a record carries, in frame order.
func ClassifyAll(record string) []Event {
	return ClassifyFrame(record).Events
}
