package upstream

import (
	"encoding/json"
	"strings"

	"taskstream/internal/domain/model"
	"taskstream/internal/stream"
)

// responsesEvent holds the subset of Responses API stream event fields the
// translator needs. Event payloads are decoded from their raw JSON so that
// new event types degrade to nothing instead of failing.
type responsesEvent struct {
	Type           string `json:"type"`
	SequenceNumber int64  `json:"sequence_number"`
	Delta          string `json:"delta"`
	Message        string `json:"message"`
	Code           string `json:"code"`
	Response       *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
		IncompleteDetails *struct {
			Reason string `json:"reason"`
		} `json:"incomplete_details"`
	} `json:"response"`
	Annotation *struct {
		Type       string `json:"type"`
		URL        string `json:"url"`
		Title      string `json:"title"`
		FileID     string `json:"file_id"`
		Filename   string `json:"filename"`
		Index      int    `json:"index"`
		StartIndex int    `json:"start_index"`
		EndIndex   int    `json:"end_index"`
	} `json:"annotation"`
	PartialImageB64 string `json:"partial_image_b64"`
	OutputFormat    string `json:"output_format"`
	Item            *struct {
		Type   string `json:"type"`
		Name   string `json:"name"`
		Result string `json:"result"`
	} `json:"item"`
}

// translateResponsesEvent maps one Responses API stream event to wire events.
func translateResponsesEvent(jobID string, raw []byte) (int64, []stream.Event) {
	var ev responsesEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return 0, nil
	}
	seq := ev.SequenceNumber
	switch ev.Type {
	case "response.output_text.delta", "response.refusal.delta":
		return seq, []stream.Event{stream.ContentDelta{Text: ev.Delta}}
	case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
		return seq, []stream.Event{stream.ReasoningDelta{Text: ev.Delta}}
	case "response.created", "response.queued", "response.in_progress",
		"response.completed", "response.failed", "response.incomplete", "response.cancelled":
		if ev.Response == nil {
			return seq, nil
		}
		st := model.TaskStatus(ev.Response.Status)
		if !st.Valid() {
			return seq, nil
		}
		js := stream.JobStatus{JobID: jobID, Status: st, Cursor: seq}
		switch {
		case ev.Response.Error != nil && ev.Response.Error.Message != "":
			js.Message = ev.Response.Error.Message
		case ev.Response.IncompleteDetails != nil && ev.Response.IncompleteDetails.Reason != "":
			js.Message = "incomplete: " + ev.Response.IncompleteDetails.Reason
		}
		return seq, []stream.Event{js}
	case "response.output_text.annotation.added":
		if ev.Annotation == nil {
			return seq, nil
		}
		a := ev.Annotation
		switch a.Type {
		case "url_citation":
			return seq, []stream.Event{stream.CitationDelta{Citation: stream.Citation{
				Type: stream.CitationWeb, URL: a.URL, Title: a.Title,
			}}}
		case "file_citation":
			return seq, []stream.Event{stream.CitationDelta{Citation: stream.Citation{
				Type: stream.CitationDocument, Title: a.Filename, Source: a.FileID, DocumentIndex: a.Index,
			}}}
		}
		return seq, nil
	case "response.output_item.added", "response.output_item.done":
		if ev.Item == nil {
			return seq, nil
		}
		name := toolName(ev.Item.Type, ev.Item.Name)
		if name == "" {
			return seq, nil
		}
		phase := stream.ToolPhaseStart
		if ev.Type == "response.output_item.done" {
			phase = stream.ToolPhaseEnd
		}
		events := []stream.Event{stream.ToolUseEvent{Name: name, Phase: phase}}
		if ev.Item.Type == "image_generation_call" && phase == stream.ToolPhaseEnd && ev.Item.Result != "" {
			events = append(events, stream.ImageDelta{URL: "data:image/png;base64," + ev.Item.Result})
		}
		return seq, events
	case "error":
		msg := ev.Message
		if msg == "" {
			msg = "upstream stream error"
		}
		typ := ev.Code
		if typ == "" {
			typ = "upstream"
		}
		return seq, []stream.Event{stream.ErrorEvent{Type: typ, Message: msg}}
	}
	return seq, nil
}

// toolName names a tool-carrying output item; plain messages and reasoning
// items are not tools.
func toolName(itemType, name string) string {
	switch itemType {
	case "function_call", "custom_tool_call", "mcp_call":
		return name
	case "message", "reasoning", "":
		return ""
	}
	return strings.TrimSuffix(itemType, "_call")
}
