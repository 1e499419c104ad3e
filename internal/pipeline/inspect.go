package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wapuda/mkvpress/internal/logx"
	"github.com/wapuda/mkvpress/internal/proc"
)

// Inspector decides whether an asset's streams are usable.
type Inspector interface {
	Inspect(ctx context.Context, path string) Verdict
}

// ProbeInspector runs ffprobe and classifies its diagnostics.
type ProbeInspector struct {
	Runner  proc.Runner
	Bin     string
	Timeout time.Duration
}

func NewProbeInspector(r proc.Runner, bin string, timeout time.Duration) *ProbeInspector {
	if bin == "" {
		bin = "ffprobe"
	}
	return &ProbeInspector{Runner: r, Bin: bin, Timeout: timeout}
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "stream=index,codec_type,codec_name",
		"-of", "json",
		path,
	}
}

type probeStreams struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

func (pi *ProbeInspector) Inspect(ctx context.Context, path string) Verdict {
	res, err := pi.Runner.Run(ctx, pi.Bin, probeArgs(path), pi.Timeout)
	switch {
	case ctx.Err() != nil:
		return fail(KindCancelled, "cancelled during inspection", ctx.Err().Error())
	case errors.Is(err, proc.ErrNotStarted):
		return fail(KindToolUnavailable, "media analysis tool is unavailable", err.Error())
	case err != nil:
		return fail(KindToolUnavailable, "media analysis tool failed to run", err.Error())
	case res.TimedOut:
		return fail(KindToolUnavailable, "media analysis timed out",
			fmt.Sprintf("killed after %s", pi.Timeout))
	}

	if sig, ok := MatchFailureSignature(res.Stderr); ok {
		return fail(KindCodecIncompatible, "incompatible media: "+sig, res.Stderr)
	}

	l := logx.FromCtx(ctx)
	var ps probeStreams
	if jerr := json.Unmarshal([]byte(res.Stdout), &ps); jerr != nil || len(ps.Streams) == 0 {
		if !res.OK() {
			l.Warn().Str("path", path).Int("exit", res.ExitCode).Str("stderr", res.Stderr).
				Msg("ffprobe failed without a known signature; treating as pass")
		}
		return Verdict{Passed: true, Message: "inspection passed", Detail: res.Stderr}
	}

	var parts []string
	hasVideo := false
	for _, s := range ps.Streams {
		if s.CodecType == "video" {
			hasVideo = true
		}
		parts = append(parts, s.CodecType+" "+s.CodecName)
	}
	summary := strings.Join(parts, ", ")
	if !hasVideo {
		return fail(KindCodecIncompatible, "incompatible media: no video stream", summary)
	}
	l.Debug().Str("streams", summary).Dur("elapsed", res.Elapsed).Msg("ffprobe finished")
	return Verdict{Passed: true, Message: "inspection passed: " + summary, Detail: res.Stderr}
}
