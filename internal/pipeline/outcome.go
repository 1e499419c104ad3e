package pipeline

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// State is a position in the run state machine.
type State string

const (
	StateReceived    State = "received"
	StateSizeChecked State = "size_checked"
	StateFetched     State = "fetched"
	StateInspected   State = "inspected"
	StateTranscoded  State = "transcoded"
	StatePublished   State = "published"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Status is the terminal status of a run.
type Status string

const (
	StatusDone    Status = "done"
	StatusAborted Status = "aborted"
)

// Outcome is built incrementally by the orchestrator. After the first
// failure nothing but the terminal status is recorded.
type Outcome struct {
	RunID    string    `json:"run_id"`
	File     string    `json:"file"`
	Messages []string  `json:"messages"`
	Verdicts []Verdict `json:"verdicts"`
	States   []State   `json:"states"`
	Status   Status    `json:"status"`

	// Set when Status is StatusAborted.
	Kind        ErrorKind `json:"kind,omitempty"`
	FailedStage Stage     `json:"failed_stage,omitempty"`
	Reason      string    `json:"reason,omitempty"`

	// Asset is the file handed to the publisher. Its path no longer exists
	// once Run returns.
	Asset             *TransientAsset `json:"-"`
	Published         *PublishResult  `json:"published,omitempty"`
	TranscodeFallback bool            `json:"transcode_fallback,omitempty"`
	TranscodeMessage  string          `json:"transcode_message,omitempty"`
}

func (o *Outcome) terminal() bool { return o.Status != "" }

func (o *Outcome) advance(s State, msg string) {
	if o.terminal() {
		return
	}
	o.States = append(o.States, s)
	if msg != "" {
		o.Messages = append(o.Messages, msg)
	}
}

func (o *Outcome) note(msg string) {
	if o.terminal() {
		return
	}
	o.Messages = append(o.Messages, msg)
}

func (o *Outcome) verdict(v Verdict) {
	if o.terminal() {
		return
	}
	o.Verdicts = append(o.Verdicts, v)
}

func (o *Outcome) abort(stage Stage, kind ErrorKind, reason string) {
	if o.terminal() {
		return
	}
	o.Status = StatusAborted
	o.Kind = kind
	o.FailedStage = stage
	o.Reason = reason
	o.States = append(o.States, StateAborted)
	o.Messages = append(o.Messages, "aborted: "+reason)
}

func (o *Outcome) finish() {
	if o.terminal() {
		return
	}
	o.Status = StatusDone
	o.States = append(o.States, StateDone)
	o.Messages = append(o.Messages, "done")
}

// Last returns the most recent state.
func (o *Outcome) Last() State {
	if len(o.States) == 0 {
		return ""
	}
	return o.States[len(o.States)-1]
}

// UserMessage renders the single message shown to the sender. Raw tool
// diagnostics are never included.
func (o *Outcome) UserMessage() string {
	if o.Status == StatusDone {
		msg := fmt.Sprintf("✅ File '%s' processed and sent", o.File)
		if o.Published != nil {
			msg += fmt.Sprintf(" (%s)", humanize.IBytes(uint64(o.Published.Bytes)))
		}
		msg += "."
		if o.TranscodeFallback {
			msg += "\n⚠️ " + o.TranscodeMessage + "; the original file was sent instead."
		}
		return msg
	}
	switch o.Kind {
	case KindValidation, KindCodecIncompatible:
		return "❌ " + capitalize(o.Reason) + "."
	case KindToolUnavailable:
		return "❌ Video processing is unavailable right now. The operator has been notified."
	case KindFetch:
		return "❌ Download failed (" + o.Reason + "). Please try again later."
	case KindPublish:
		return "❌ The file could not be delivered. Please try again later."
	case KindCancelled:
		return "🛑 Processing cancelled."
	default:
		return "❌ Processing failed: " + o.Reason + "."
	}
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
