// Package pipeline validates, fetches, inspects, compresses and publishes a
// single uploaded video. A Run is sequential; independent runs share nothing
// but the work directory root, under which each run owns WorkDir/<runID>.
package pipeline

import (
	"strconv"
	"strings"
)

// IncomingFile describes an upload as reported by the transport. It is never
// modified once received.
type IncomingFile struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Name     string `json:"name"`
}

// Stage names a pipeline step.
type Stage string

const (
	StageGate      Stage = "gate"
	StageFetch     Stage = "fetch"
	StageInspect   Stage = "inspect"
	StageTranscode Stage = "transcode"
	StagePublish   Stage = "publish"
)

// TransientAsset is a working file owned by the stage that produced it.
type TransientAsset struct {
	Path  string
	Size  int64
	Stage Stage
}

// Verdict is the pass/fail decision of the gate and the inspector.
type Verdict struct {
	Passed  bool      `json:"passed"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message"`
	// Detail holds diagnostics (tool stderr); logged, never shown to users.
	Detail string `json:"-"`
}

func pass(msg string) Verdict { return Verdict{Passed: true, Message: msg} }

func fail(kind ErrorKind, msg, detail string) Verdict {
	return Verdict{Kind: kind, Message: msg, Detail: detail}
}

// Destination is a chat addressed either by numeric id or by @username.
type Destination struct {
	ChatID   int64  `json:"chat_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// ParseDestination accepts "-100123" or "@channel".
func ParseDestination(s string) (Destination, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") && len(s) > 1 {
		return Destination{Username: s}, true
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return Destination{}, false
	}
	return Destination{ChatID: id}, true
}

func (d Destination) String() string {
	if d.Username != "" {
		return d.Username
	}
	return strconv.FormatInt(d.ChatID, 10)
}

// PublishResult reports a successful delivery.
type PublishResult struct {
	Destination Destination
	MessageID   int
	Bytes       int64
	Attempts    int
}
