package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Encoder writes events in the wire format: one "data: <json>" line followed
// by a blank line per frame.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes ev as a frame. Unrecognized events are skipped.
func (e *Encoder) Encode(ev Event) error {
	return e.EncodeSeq(ev, 0)
}

// EncodeSeq writes ev tagged with an upstream sequence number; seq <= 0 omits it.
func (e *Encoder) EncodeSeq(ev Event, seq int64) error {
	rec, ok := toWire(ev)
	if !ok {
		return nil
	}
	if seq > 0 {
		rec.Seq = &seq
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %T: %w", ev, err)
	}
	_, err = fmt.Fprintf(e.w, "data: %s\n\n", b)
	return err
}

// EncodeFrame writes every event of f as one record, so a decoder sees the
// same frame (and cursor step) the upstream produced.
func (e *Encoder) EncodeFrame(f Frame) error {
	var rec wireRecord
	var d wireDelta
	hasDelta := false
	for _, ev := range f.Events {
		switch ev := ev.(type) {
		case JobStatus:
			one, _ := toWire(ev)
			rec.Background = one.Background
		case ErrorEvent:
			one, _ := toWire(ev)
			rec.Error = one.Error
		case Unrecognized:
		default:
			one, _ := toWire(ev)
			merge(&d, one.Choices[0].Delta)
			hasDelta = true
		}
	}
	if hasDelta {
		rec.Choices = []wireChoice{{Delta: d}}
	}
	if rec.Background == nil && rec.Error == nil && !hasDelta {
		return nil
	}
	if f.HasSeq {
		seq := f.Seq
		rec.Seq = &seq
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	_, err = fmt.Fprintf(e.w, "data: %s\n\n", b)
	return err
}

func merge(dst *wireDelta, src wireDelta) {
	dst.Content += src.Content
	dst.Reasoning += src.Reasoning
	dst.Images = append(dst.Images, src.Images...)
	dst.ToolUses = append(dst.ToolUses, src.ToolUses...)
	dst.Citations = append(dst.Citations, src.Citations...)
}

// Done writes the terminal marker.
func (e *Encoder) Done() error {
	_, err := io.WriteString(e.w, "data: "+DoneMarker+"\n\n")
	return err
}

// Comment writes an SSE comment line; decoders drop it. Used as keep-alive.
func (e *Encoder) Comment(text string) error {
	_, err := fmt.Fprintf(e.w, ": %s\n\n", text)
	return err
}

func toWire(ev Event) (wireRecord, bool) {
	var d wireDelta
	switch e := ev.(type) {
	case ContentDelta:
		d.Content = e.Text
	case ReasoningDelta:
		d.Reasoning = e.Text
	case ImageDelta:
		var img wireImage
		img.Type = "image_url"
		img.ImageURL.URL = e.URL
		d.Images = []wireImage{img}
	case ToolUseEvent:
		d.ToolUses = []wireToolUse{{Name: e.Name, Phase: e.Phase, Payload: e.Payload}}
	case CitationDelta:
		d.Citations = []Citation{e.Citation}
	case JobStatus:
		return wireRecord{Background: &wireBackground{
			ResponseID: e.JobID,
			Status:     e.Status,
			Message:    e.Message,
			Cursor:     e.Cursor,
		}}, true
	case ErrorEvent:
		return wireRecord{Error: &wireError{Type: e.Type, Message: e.Message}}, true
	case Unrecognized:
		return wireRecord{}, false
	default:
		panic(fmt.Sprintf("stream: unhandled event type %T", ev))
	}
	return wireRecord{Choices: []wireChoice{{Delta: d}}}, true
}
