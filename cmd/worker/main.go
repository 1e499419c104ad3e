package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/mkvpress/internal/config"
	"github.com/wapuda/mkvpress/internal/jobs"
	"github.com/wapuda/mkvpress/internal/logx"
	"github.com/wapuda/mkvpress/internal/pipeline"
	"github.com/wapuda/mkvpress/internal/proc"
	"github.com/wapuda/mkvpress/internal/store"
	"github.com/wapuda/mkvpress/internal/telegram"
)

type worker struct {
	cfg  config.Config
	bot  *tgbotapi.BotAPI
	runs *store.Runs
	orch *pipeline.Orchestrator
}

func main() {
	c := config.Load()
	logx.Setup(logx.FromEnv("worker"))

	if c.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN required")
	}
	if err := c.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := os.MkdirAll(c.WorkDir(), 0o755); err != nil {
		log.Fatal().Err(err).Msg("create work dir")
	}
	for _, bin := range []string{c.FFprobeBin, c.FFmpegBin} {
		if _, err := exec.LookPath(bin); err != nil {
			log.Error().Str("bin", bin).Msg("media tool not found; uploads will fail until it is installed")
		}
	}
	stale := c.Policy.FetchTimeout + 2*c.Policy.ProcessTimeout + c.Policy.PublishTimeout
	if n, err := pipeline.SweepStale(c.WorkDir(), stale); err != nil {
		log.Warn().Err(err).Msg("sweep stale run dirs")
	} else if n > 0 {
		log.Info().Int("removed", n).Msg("swept stale run dirs")
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(c.BotToken, c.APIEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}

	w := &worker{
		cfg:  c,
		bot:  bot,
		runs: store.New(redis.NewClient(&redis.Options{Addr: c.RedisAddr})),
		orch: newOrchestrator(c, bot),
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: c.RedisAddr}, asynq.Config{
		Concurrency: c.Concurrency,
		Queues:      map[string]int{jobs.QueueDefault: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return time.Duration(n+1) * 30 * time.Second
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskProcessUpload, func(ctx context.Context, t *asynq.Task) error {
		p, err := jobs.ParseProcessUpload(t)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return w.handleProcessUpload(ctx, p)
	})

	log.Info().Int("concurrency", c.Concurrency).Str("work_dir", c.WorkDir()).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}

func newOrchestrator(c config.Config, bot *tgbotapi.BotAPI) *pipeline.Orchestrator {
	runner := proc.Exec{Logger: &log.Logger}
	return &pipeline.Orchestrator{
		Policy:     c.Policy,
		WorkDir:    c.WorkDir(),
		Fetcher:    pipeline.NewSourceFetcher(telegram.NewSource(bot, c.FileEndpoint), c.Policy),
		Inspector:  pipeline.NewProbeInspector(runner, c.FFprobeBin, c.Policy.ProcessTimeout),
		Transcoder: pipeline.NewFFmpegTranscoder(runner, c.FFmpegBin, c.Policy.TranscodeQuality, c.Policy.ProcessTimeout),
		Publisher:  pipeline.NewDocumentPublisher(telegram.NewSender(bot), c.PublishRetries, c.Policy.PublishTimeout),
	}
}

/* ---------------------- upload processing ---------------------- */

func (w *worker) handleProcessUpload(ctx context.Context, p jobs.ProcessUploadPayload) error {
	ctx = logx.WithRun(ctx, p.RunID, p.UserID)
	l := logx.FromCtx(ctx)
	l.Info().Str("file", p.File.Name).Int64("size", p.File.Size).Str("dest", p.Destination.String()).Msg("run started")

	out := w.orch.Run(ctx, p.RunID, p.File, p.Destination)

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	notify, err := decide(out, retried, maxRetry)

	l.Info().Str("status", string(out.Status)).Str("kind", string(out.Kind)).Str("reason", out.Reason).
		Str("state", string(out.Last())).Strs("messages", out.Messages).Bool("final", notify).Msg("run finished")

	if notify {
		// The task context may already be cancelled; bookkeeping must still land.
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := w.runs.SaveLast(bg, p.UserID, store.RecordFromOutcome(out, time.Now())); serr != nil {
			l.Warn().Err(serr).Msg("save last run")
		}
		if serr := w.runs.ClearActive(bg, p.UserID, p.RunID); serr != nil {
			l.Warn().Err(serr).Msg("clear active run")
		}
		if serr := telegram.Notify(w.bot, p.ChatID, out.UserMessage()); serr != nil {
			l.Warn().Err(serr).Msg("notify user")
		}
	}
	return err
}

// decide maps an outcome to (notify the user now, error for asynq).
// Retryable failures go back to the queue while attempts remain; the user
// hears about the run exactly once.
func decide(out pipeline.Outcome, retried, maxRetry int) (bool, error) {
	if out.Status == pipeline.StatusDone {
		return true, nil
	}
	reason := errors.New(string(out.Kind) + ": " + out.Reason)
	switch {
	case out.Kind == pipeline.KindCancelled:
		return true, nil
	case pipeline.Retryable(out.Kind) && retried < maxRetry:
		return false, reason
	case pipeline.Retryable(out.Kind):
		return true, reason
	case out.Kind == pipeline.KindToolUnavailable:
		return true, fmt.Errorf("%w: %w", reason, asynq.SkipRetry)
	default:
		return true, nil
	}
}
