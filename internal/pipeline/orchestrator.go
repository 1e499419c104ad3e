package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"

	"github.com/wapuda/mkvpress/internal/logx"
)

// NewRunID returns a unique, sortable identifier usable as a directory name.
func NewRunID() string { return ulid.Make().String() }

// Orchestrator sequences the stages for one upload at a time per call; it is
// safe for concurrent use as long as run ids differ.
type Orchestrator struct {
	Policy     Policy
	WorkDir    string
	Fetcher    Fetcher
	Inspector  Inspector
	Transcoder Transcoder
	Publisher  Publisher
}

func validRunID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// Run executes the pipeline for f and delivers the result to dest. It always
// returns a terminal Outcome and removes every file it created.
func (o *Orchestrator) Run(ctx context.Context, runID string, f IncomingFile, dest Destination) (out Outcome) {
	l := logx.FromCtx(ctx)
	out = Outcome{RunID: runID, File: f.Name, States: []State{StateReceived}}

	v := Validate(f, o.Policy)
	out.verdict(v)
	if !v.Passed {
		l.Info().Str("mime", f.MimeType).Int64("size", f.Size).Str("reason", v.Message).Msg("upload rejected")
		out.abort(StageGate, v.Kind, v.Message)
		return out
	}
	out.advance(StateSizeChecked, v.Message)

	if !validRunID(runID) {
		out.abort(StageFetch, KindFetch, "invalid run id")
		return out
	}
	if err := os.MkdirAll(o.WorkDir, 0o755); err != nil {
		l.Error().Err(err).Str("dir", o.WorkDir).Msg("work dir unavailable")
		out.abort(StageFetch, KindFetch, "local storage is unavailable")
		return out
	}
	dir := filepath.Join(o.WorkDir, runID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		l.Error().Err(err).Str("dir", dir).Msg("run dir unavailable")
		out.abort(StageFetch, KindFetch, "local storage is unavailable")
		return out
	}

	var created []*TransientAsset
	defer func() {
		for _, a := range created {
			if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				l.Warn().Err(err).Str("path", a.Path).Msg("remove transient asset")
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			l.Warn().Err(err).Str("dir", dir).Msg("remove run dir")
		}
	}()

	if err := ctx.Err(); err != nil {
		out.abort(StageFetch, KindCancelled, "cancelled before download")
		return out
	}

	src, err := o.Fetcher.Fetch(ctx, dir, f)
	if err != nil {
		o.abortOnError(ctx, &out, StageFetch, KindFetch, err)
		return out
	}
	created = append(created, src)
	l.Info().Int64("bytes", src.Size).Msg("upload fetched")
	out.advance(StateFetched, "fetched "+humanize.IBytes(uint64(src.Size)))

	v = o.Inspector.Inspect(ctx, src.Path)
	out.verdict(v)
	if !v.Passed {
		ev := l.Warn()
		if v.Kind == KindToolUnavailable {
			ev = l.Error()
		}
		ev.Str("kind", string(v.Kind)).Str("detail", v.Detail).Msg("inspection failed")
		out.abort(StageInspect, v.Kind, v.Message)
		return out
	}
	out.advance(StateInspected, v.Message)

	final := src
	enc, err := o.Transcoder.Transcode(ctx, src, dir)
	switch {
	case err == nil:
		created = append(created, enc)
		final = enc
		out.advance(StateTranscoded, fmt.Sprintf("compressed %s → %s",
			humanize.IBytes(uint64(src.Size)), humanize.IBytes(uint64(enc.Size))))
	case KindOf(err) == KindCancelled || ctx.Err() != nil:
		out.abort(StageTranscode, KindCancelled, "cancelled during compression")
		return out
	default:
		msg := stageMessage(err, "compression failed")
		l.Warn().Err(err).Str("detail", stageDetail(err)).Msg("transcode failed; publishing original")
		out.TranscodeFallback = true
		out.TranscodeMessage = msg
		out.note(msg)
	}

	res, err := o.Publisher.Publish(ctx, final, dest, documentName(f, final), f.Name)
	if err != nil {
		o.abortOnError(ctx, &out, StagePublish, KindPublish, err)
		return out
	}
	out.Asset = final
	out.Published = &res
	l.Info().Str("dest", dest.String()).Int("msg_id", res.MessageID).Int("attempts", res.Attempts).Msg("published")
	out.advance(StatePublished, "published to "+dest.String())
	out.finish()
	return out
}

func (o *Orchestrator) abortOnError(ctx context.Context, out *Outcome, stage Stage, def ErrorKind, err error) {
	kind := KindOf(err)
	if ctx.Err() != nil {
		kind = KindCancelled
	}
	if kind == "" {
		kind = def
	}
	msg := stageMessage(err, string(stage)+" failed")
	if kind == KindCancelled {
		msg = "cancelled during " + string(stage)
	}
	l := logx.FromCtx(ctx)
	l.Warn().Err(err).Str("stage", string(stage)).Str("kind", string(kind)).
		Str("detail", stageDetail(err)).Msg("run aborted")
	out.abort(stage, kind, msg)
}

func stageMessage(err error, def string) string {
	var se *StageError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return def
}

func stageDetail(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Detail
	}
	return ""
}

// documentName picks the file name shown to recipients. It is never used
// to build a local path.
func documentName(f IncomingFile, a *TransientAsset) string {
	name := filepath.Base(strings.ReplaceAll(f.Name, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		name = "video"
	}
	ext := filepath.Ext(a.Path)
	if ext != "" && !strings.EqualFold(filepath.Ext(name), ext) {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ext
	}
	return name
}

// SweepStale removes run directories under workDir last modified before
// olderThan ago. Runs clean up after themselves; this catches directories
// left by a process that died mid-run.
func SweepStale(workDir string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(workDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !validRunID(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workDir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
