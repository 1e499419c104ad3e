package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is a coarse-grained categorization of stage failures.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindFetch             ErrorKind = "fetch"
	KindToolUnavailable   ErrorKind = "tool_unavailable"
	KindCodecIncompatible ErrorKind = "codec_incompatible"
	KindTranscode         ErrorKind = "transcode"
	KindPublish           ErrorKind = "publish"
	KindCancelled         ErrorKind = "cancelled"
)

// Retryable reports whether a failure of this kind may succeed when the same
// run is attempted again without user action.
func Retryable(k ErrorKind) bool {
	return k == KindFetch || k == KindPublish
}

// StageError wraps an underlying error with the stage, kind and a message
// suitable for end users. Detail carries raw diagnostics for the log.
type StageError struct {
	Stage   Stage
	Kind    ErrorKind
	Message string
	Detail  string
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Message)
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the kind of a StageError in err's chain. Context
// cancellation maps to KindCancelled; anything else is "".
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return ""
}

// PublishError carries what a caller needs to decide on a retry.
type PublishError struct {
	Destination Destination
	Bytes       int64
	Attempts    int
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %d bytes to %s failed after %d attempt(s): %v",
		e.Bytes, e.Destination, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
