package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wapuda/mkvpress/internal/logx"
	"github.com/wapuda/mkvpress/internal/proc"
)

// Transcoder re-encodes an asset into dir.
type Transcoder interface {
	Transcode(ctx context.Context, in *TransientAsset, dir string) (*TransientAsset, error)
}

// FFmpegTranscoder re-encodes the video stream to HEVC at a CRF target and
// copies every other stream (audio, subtitles, attachments) unchanged.
type FFmpegTranscoder struct {
	Runner  proc.Runner
	Bin     string
	Quality int
	Timeout time.Duration
}

func NewFFmpegTranscoder(r proc.Runner, bin string, quality int, timeout time.Duration) *FFmpegTranscoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegTranscoder{Runner: r, Bin: bin, Quality: quality, Timeout: timeout}
}

// TranscodeArgs is the fixed argument template. Only the quality varies.
func TranscodeArgs(in, out string, quality int) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", "error",
		"-i", in,
		"-map", "0",
		"-c", "copy",
		"-c:v", "libx265",
		"-crf", strconv.Itoa(quality),
		"-preset", "medium",
		out,
	}
}

func (ft *FFmpegTranscoder) Transcode(ctx context.Context, in *TransientAsset, dir string) (*TransientAsset, error) {
	out := filepath.Join(dir, "compressed"+filepath.Ext(in.Path))
	if filepath.Clean(out) == filepath.Clean(in.Path) {
		return nil, &StageError{Stage: StageTranscode, Kind: KindTranscode,
			Message: "compression output would overwrite the input", Detail: out}
	}
	res, err := ft.Runner.Run(ctx, ft.Bin, TranscodeArgs(in.Path, out, ft.Quality), ft.Timeout)

	var se *StageError
	switch {
	case ctx.Err() != nil:
		se = &StageError{Stage: StageTranscode, Kind: KindCancelled, Message: "cancelled during compression", Err: ctx.Err()}
	case errors.Is(err, proc.ErrNotStarted):
		se = &StageError{Stage: StageTranscode, Kind: KindTranscode, Message: "compression tool is unavailable", Err: err}
	case err != nil:
		se = &StageError{Stage: StageTranscode, Kind: KindTranscode, Message: "compression failed", Err: err}
	case res.TimedOut:
		se = &StageError{Stage: StageTranscode, Kind: KindTranscode,
			Message: fmt.Sprintf("compression timed out after %s", ft.Timeout), Detail: res.Stderr}
	case res.ExitCode != 0:
		se = &StageError{Stage: StageTranscode, Kind: KindTranscode,
			Message: fmt.Sprintf("compression failed (exit code %d)", res.ExitCode), Detail: res.Stderr}
	}
	if se != nil {
		_ = os.Remove(out)
		return nil, se
	}

	info, err := os.Stat(out)
	if err != nil {
		return nil, &StageError{Stage: StageTranscode, Kind: KindTranscode, Message: "compression produced no output", Err: err}
	}
	l := logx.FromCtx(ctx)
	l.Debug().Int64("bytes", info.Size()).Dur("elapsed", res.Elapsed).Msg("ffmpeg finished")
	return &TransientAsset{Path: out, Size: info.Size(), Stage: StageTranscode}, nil
}
