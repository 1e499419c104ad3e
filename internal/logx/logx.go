package logx

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

// Context keys understood by FromCtx.
const (
	CtxKeyRunID  ctxKey = "run_id"
	CtxKeyUserID ctxKey = "user_id"
)

// Config selects where and how much the process logs.
type Config struct {
	Service string
	Level   zerolog.Level
	Console bool
	// Rotate, when non-nil, receives a copy of every event.
	Rotate *lumberjack.Logger
	// SampleEvery keeps one event in N; 0 keeps all.
	SampleEvery uint32
}

func envInt(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return n
}

func envBool(k string, def bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT (json or console), LOG_FILE with its
// LOG_FILE_MAX_* rotation knobs, and LOG_SAMPLE_EVERY.
func FromEnv(service string) Config {
	c := Config{
		Service: service,
		Level:   zerolog.InfoLevel,
		Console: strings.EqualFold(os.Getenv("LOG_FORMAT"), "console"),
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && lvl != zerolog.NoLevel {
		c.Level = lvl
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		c.Rotate = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    envInt("LOG_FILE_MAX_SIZE", 50),
			MaxBackups: envInt("LOG_FILE_MAX_BACKUPS", 3),
			MaxAge:     envInt("LOG_FILE_MAX_AGE", 7),
			Compress:   envBool("LOG_FILE_COMPRESS", true),
		}
	}
	if n := envInt("LOG_SAMPLE_EVERY", 0); n > 0 {
		c.SampleEvery = uint32(n)
	}
	return c
}

// Setup installs the global logger and returns it.
func Setup(c Config) zerolog.Logger {
	return setup(c, os.Stdout)
}

func setup(c Config, stdout io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := stdout
	if c.Console {
		out = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}
	if c.Rotate != nil {
		out = zerolog.MultiLevelWriter(out, c.Rotate)
	}

	logger := zerolog.New(out).Level(c.Level).With().
		Timestamp().
		Str("svc", c.Service).
		Logger()
	if c.SampleEvery > 0 {
		logger = logger.Sample(&zerolog.BasicSampler{N: c.SampleEvery})
	}

	log.Logger = logger
	return logger
}

// WithRun returns a context carrying the run and user ids for FromCtx.
func WithRun(ctx context.Context, runID string, userID int64) context.Context {
	ctx = context.WithValue(ctx, CtxKeyRunID, runID)
	if userID != 0 {
		ctx = context.WithValue(ctx, CtxKeyUserID, userID)
	}
	return ctx
}

// FromCtx attaches standard fields (if present) to the global logger.
func FromCtx(ctx context.Context) zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return l
	}
	if v, ok := ctx.Value(CtxKeyRunID).(string); ok && v != "" {
		l = l.With().Str("run", v).Logger()
	}
	if v, ok := ctx.Value(CtxKeyUserID).(int64); ok {
		l = l.With().Int64("uid", v).Logger()
	}
	return l
}
