package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	se := &StageError{Stage: StageFetch, Kind: KindFetch, Message: "download failed", Err: errConnReset}
	wrapped := fmt.Errorf("run: %w", se)

	if KindOf(wrapped) != KindFetch {
		t.Fatalf("KindOf(wrapped) = %q", KindOf(wrapped))
	}
	if !errors.Is(wrapped, errConnReset) {
		t.Fatalf("cause lost")
	}
	if KindOf(fmt.Errorf("x: %w", context.Canceled)) != KindCancelled {
		t.Fatalf("context.Canceled should map to cancelled")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no kind")
	}
	if !strings.Contains(se.Error(), "fetch: fetch: download failed") {
		t.Fatalf("Error() = %q", se.Error())
	}
}

func TestRetryable(t *testing.T) {
	for _, k := range []ErrorKind{KindFetch, KindPublish} {
		if !Retryable(k) {
			t.Errorf("%s should be retryable", k)
		}
	}
	for _, k := range []ErrorKind{KindValidation, KindToolUnavailable, KindCodecIncompatible, KindTranscode, KindCancelled} {
		if Retryable(k) {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestUserMessageHidesDetail(t *testing.T) {
	o := Outcome{File: "a.mkv"}
	o.abort(StageInspect, KindCodecIncompatible, "incompatible media: unsupported codec")
	if got := o.UserMessage(); got != "❌ Incompatible media: unsupported codec." {
		t.Fatalf("got %q", got)
	}

	o = Outcome{File: "a.mkv"}
	o.abort(StageGate, KindValidation, "too large: 3.0 GiB exceeds the 2.0 GiB limit")
	if !strings.HasPrefix(o.UserMessage(), "❌ Too large") {
		t.Fatalf("got %q", o.UserMessage())
	}
}
