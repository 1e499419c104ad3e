package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/mkvpress/internal/config"
	"github.com/wapuda/mkvpress/internal/jobs"
	"github.com/wapuda/mkvpress/internal/logx"
	"github.com/wapuda/mkvpress/internal/pipeline"
	"github.com/wapuda/mkvpress/internal/store"
	"github.com/wapuda/mkvpress/internal/telegram"
)

const notDocumentText = "Please upload the video as a file (document), MKV format only."

type server struct {
	cfg     config.Config
	bot     *tgbotapi.BotAPI
	runs    *store.Runs
	queue   *asynq.Client
	inspect *asynq.Inspector
}

func main() {
	c := config.Load()
	logx.Setup(logx.FromEnv("bot"))
	log.Info().Msg("bot starting")

	if c.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN is required")
	}
	if err := c.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// health endpoint
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
		log.Info().Str("addr", c.HealthAddr).Msg("health endpoint listening")
		if err := http.ListenAndServe(c.HealthAddr, mux); err != nil {
			log.Error().Err(err).Msg("health endpoint stopped")
		}
	}()

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(c.BotToken, c.APIEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}
	bot.Debug = false
	log.Info().Str("username", bot.Self.UserName).Msg("bot authorized")

	if _, err := bot.Request(tgbotapi.NewSetMyCommands(telegram.Commands()...)); err != nil {
		log.Warn().Err(err).Msg("register commands")
	}

	redisOpt := asynq.RedisClientOpt{Addr: c.RedisAddr}
	s := &server{
		cfg:     c,
		bot:     bot,
		runs:    store.New(redis.NewClient(&redis.Options{Addr: c.RedisAddr})),
		queue:   asynq.NewClient(redisOpt),
		inspect: asynq.NewInspector(redisOpt),
	}
	defer s.queue.Close()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for upd := range updates {
		if upd.Message != nil && upd.Message.From != nil {
			s.onMessage(context.Background(), upd.Message)
		}
	}
}

// --- Handlers ---

func (s *server) onMessage(ctx context.Context, m *tgbotapi.Message) {
	log.Info().
		Int64("chat_id", m.Chat.ID).
		Int64("user_id", m.From.ID).
		Bool("document", m.Document != nil).
		Msg("message received")

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			s.reply(m.Chat.ID, telegram.StartText)
		case "help":
			s.reply(m.Chat.ID, telegram.HelpText)
		case "status":
			s.onStatus(ctx, m)
		case "cancel":
			s.onCancel(ctx, m)
		default:
			s.reply(m.Chat.ID, "Unknown command. "+telegram.HelpText)
		}
		return
	}

	if m.Document == nil {
		if m.Video != nil || m.Animation != nil {
			s.reply(m.Chat.ID, notDocumentText)
		}
		return
	}
	s.onDocument(ctx, m)
}

func (s *server) onDocument(ctx context.Context, m *tgbotapi.Message) {
	f := telegram.IncomingFromDocument(m.Document)

	// The worker validates again; this only spares a queue round trip.
	if v := pipeline.Validate(f, s.cfg.Policy); !v.Passed {
		log.Info().Int64("user_id", m.From.ID).Str("mime", f.MimeType).Int64("size", f.Size).Str("reason", v.Message).Msg("upload rejected")
		s.reply(m.Chat.ID, rejectionText(v))
		return
	}

	p := jobs.ProcessUploadPayload{
		RunID:       pipeline.NewRunID(),
		ChatID:      m.Chat.ID,
		UserID:      m.From.ID,
		File:        f,
		Destination: s.cfg.Destination(m.Chat.ID),
	}
	task, err := jobs.NewProcessUploadTask(p, s.cfg.MaxRetry)
	if err != nil {
		log.Error().Err(err).Msg("build task")
		s.reply(m.Chat.ID, "Internal error. Try again.")
		return
	}
	info, err := enqueueRun(ctx, s.runs, s.queue, m.From.ID, p.RunID, task)
	if err != nil {
		log.Error().Err(err).Msg("asynq enqueue upload:process failed")
		s.reply(m.Chat.ID, "❌ The processing queue is unavailable. Please try again later.")
		return
	}

	log.Info().Str("run", p.RunID).Str("task", info.ID).Str("file", f.Name).Msg("upload queued")
	s.reply(m.Chat.ID, fmt.Sprintf("✅ File '%s' received (%s); processing…", f.Name, humanize.IBytes(uint64(f.Size))))
}

type activeRuns interface {
	SetActive(ctx context.Context, user int64, runID string) error
	ClearActive(ctx context.Context, user int64, runID string) error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// enqueueRun records the active run before enqueueing so a fast worker
// cannot clear it first, and forgets it again when the enqueue fails.
func enqueueRun(ctx context.Context, runs activeRuns, q enqueuer, user int64, runID string, task *asynq.Task) (*asynq.TaskInfo, error) {
	if err := runs.SetActive(ctx, user, runID); err != nil {
		log.Warn().Err(err).Str("run", runID).Msg("record active run")
	}
	info, err := q.EnqueueContext(ctx, task)
	if err != nil {
		if cerr := runs.ClearActive(ctx, user, runID); cerr != nil {
			log.Warn().Err(cerr).Str("run", runID).Msg("clear active run")
		}
		return nil, err
	}
	return info, nil
}

func (s *server) onStatus(ctx context.Context, m *tgbotapi.Message) {
	active, err := s.runs.Active(ctx, m.From.ID)
	if err != nil {
		log.Warn().Err(err).Msg("read active run")
	}
	last, err := s.runs.Last(ctx, m.From.ID)
	if err != nil {
		log.Warn().Err(err).Msg("read last run")
	}
	s.reply(m.Chat.ID, statusText(active, last))
}

func (s *server) onCancel(ctx context.Context, m *tgbotapi.Message) {
	id, err := s.runs.Active(ctx, m.From.ID)
	if err != nil {
		log.Warn().Err(err).Msg("read active run")
	}
	if id == "" {
		s.reply(m.Chat.ID, "Nothing to cancel.")
		return
	}

	// A queued task is deleted; a running one is signalled and reports back
	// through the worker with a cancelled outcome.
	queued := true
	if err := s.inspect.DeleteTask(jobs.QueueDefault, id); err != nil {
		queued = false
		if cerr := s.inspect.CancelProcessing(id); cerr != nil {
			log.Warn().Err(errors.Join(err, cerr)).Str("run", id).Msg("cancel run")
		}
	}
	if queued {
		if err := s.runs.ClearActive(ctx, m.From.ID, id); err != nil {
			log.Warn().Err(err).Msg("clear active run")
		}
		s.reply(m.Chat.ID, "🛑 Processing cancelled.")
	} else {
		s.reply(m.Chat.ID, "🛑 Cancelling the file being processed…")
	}
	log.Info().Str("run", id).Bool("queued", queued).Msg("cancel requested")
}

func (s *server) reply(chatID int64, text string) {
	if err := telegram.Notify(s.bot, chatID, text); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("send reply")
	}
}

// --- Texts ---

func rejectionText(v pipeline.Verdict) string {
	o := pipeline.Outcome{Status: pipeline.StatusAborted, Kind: v.Kind, Reason: v.Message}
	return o.UserMessage()
}

func statusText(active string, last *store.RunRecord) string {
	var b strings.Builder
	if active != "" {
		b.WriteString("⏳ A file is being processed.\n")
	}
	if last == nil {
		if active == "" {
			return "No files processed yet. " + telegram.StartText
		}
		return strings.TrimSpace(b.String())
	}
	fmt.Fprintf(&b, "Last file: '%s' (%s)\n", last.File, humanize.Time(last.FinishedAt))
	if last.Status == pipeline.StatusDone {
		b.WriteString("Result: sent")
		if last.Fallback {
			b.WriteString(" (original, compression failed)")
		}
	} else {
		fmt.Fprintf(&b, "Result: failed (%s)", last.Reason)
	}
	return b.String()
}
