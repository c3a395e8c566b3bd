// Package stream implements the wire protocol used for live task output:
// frame decoding, event classification, the accumulating fold and the
// matching encoder.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"taskstream/internal/domain/model"
)

// Event is a classified delta. The set of variants is closed: only types in
// this package implement it.
type Event interface {
	isEvent()
}

type ContentDelta struct {
	Text string
}

type ReasoningDelta struct {
	Text string
}

type ImageDelta struct {
	URL string
}

type ToolPhase string

const (
	ToolPhaseStart ToolPhase = "start"
	ToolPhaseEnd   ToolPhase = "end"
)

type ToolUseEvent struct {
	Name    string
	Phase   ToolPhase
	Payload json.RawMessage
}

type CitationDelta struct {
	Citation Citation
}

// JobStatus is advisory context about the background job behind the stream.
type JobStatus struct {
	JobID   string
	Status  model.TaskStatus
	Message string
	Cursor  int64
}

type ErrorEvent struct {
	Type    string
	Message string
}

// Unrecognized stands for a record that parsed to nothing useful. It is ignored
// by the fold.
type Unrecognized struct{}

func (ContentDelta) isEvent()   {}
func (ReasoningDelta) isEvent() {}
func (ImageDelta) isEvent()     {}
func (ToolUseEvent) isEvent()   {}
func (CitationDelta) isEvent()  {}
func (JobStatus) isEvent()      {}
func (ErrorEvent) isEvent()     {}
func (Unrecognized) isEvent()   {}

// Kind names the variant of ev, for logs and metrics.
func Kind(ev Event) string {
	switch ev.(type) {
	case ContentDelta:
		return "content"
	case ReasoningDelta:
		return "reasoning"
	case ImageDelta:
		return "image"
	case ToolUseEvent:
		return "tool_use"
	case CitationDelta:
		return "citation"
	case JobStatus:
		return "status"
	case ErrorEvent:
		return "error"
	case Unrecognized:
		return "unrecognized"
	default:
		panic(fmt.Sprintf("stream: unhandled event type %T", ev))
	}
}

func (e ErrorEvent) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Citation kinds.
const (
	CitationWeb      = "url_citation"
	CitationSearch   = "search_result"
	CitationDocument = "document"
)

const excerptKeyRunes = 64

// Citation is a reference attached to generated content.
type Citation struct {
	Type          string `json:"type"`
	URL           string `json:"url,omitempty"`
	Title         string `json:"title,omitempty"`
	Source        string `json:"source,omitempty"`
	StartBlock    int    `json:"start_block_index,omitempty"`
	EndBlock      int    `json:"end_block_index,omitempty"`
	DocumentIndex int    `json:"document_index,omitempty"`
	CitedText     string `json:"cited_text,omitempty"`
}

// Key is the identity used to deduplicate citations.
func (c Citation) Key() string {
	switch {
	case c.Type == CitationWeb || (c.Type == "" && c.URL != ""):
		return "url:" + c.URL
	case c.Type == CitationSearch:
		return fmt.Sprintf("search:%s:%d-%d", c.Source, c.StartBlock, c.EndBlock)
	default:
		return fmt.Sprintf("doc:%d:%s", c.DocumentIndex, runePrefix(c.CitedText, excerptKeyRunes))
	}
}

func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if n == 0 {
			break
		}
		b.WriteRune(r)
		n--
	}
	return b.String()
}
