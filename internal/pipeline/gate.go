package pipeline

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	DefaultContainerType    = "video/x-matroska"
	DefaultMaxFileSizeBytes = int64(2) << 30
	DefaultTranscodeQuality = 28
)

// Policy holds the recognized pipeline options.
type Policy struct {
	AllowedContainerType string
	MaxFileSizeBytes     int64
	TranscodeQuality     int
	ProcessTimeout       time.Duration
	FetchTimeout         time.Duration
	PublishTimeout       time.Duration
}

// DefaultPolicy accepts Matroska uploads up to 2 GiB.
func DefaultPolicy() Policy {
	return Policy{
		AllowedContainerType: DefaultContainerType,
		MaxFileSizeBytes:     DefaultMaxFileSizeBytes,
		TranscodeQuality:     DefaultTranscodeQuality,
		ProcessTimeout:       time.Hour,
		FetchTimeout:         30 * time.Minute,
		PublishTimeout:       30 * time.Minute,
	}
}

// Validate decides on an upload from its descriptor alone. The type check
// runs first; a size equal to the limit is accepted.
func Validate(f IncomingFile, p Policy) Verdict {
	if f.MimeType != p.AllowedContainerType {
		return fail(KindValidation,
			fmt.Sprintf("wrong format: only %s files are accepted", p.AllowedContainerType),
			fmt.Sprintf("declared mime %q", f.MimeType))
	}
	if f.Size > p.MaxFileSizeBytes {
		return fail(KindValidation,
			fmt.Sprintf("too large: %s exceeds the %s limit",
				humanize.IBytes(uint64(f.Size)), humanize.IBytes(uint64(p.MaxFileSizeBytes))),
			fmt.Sprintf("declared size %d", f.Size))
	}
	return pass(fmt.Sprintf("accepted %s (%s)", f.MimeType, humanize.IBytes(uint64(f.Size))))
}
