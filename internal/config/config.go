// Package config loads bot and worker settings from the environment (and a
// .env file when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/wapuda/mkvpress/internal/pipeline"
)

type Config struct {
	BotToken       string
	APIEndpoint    string
	FileEndpoint   string
	RedisAddr      string
	DataDir        string
	DestChat       string
	HealthAddr     string
	Concurrency    int
	MaxRetry       int
	PublishRetries int
	FFmpegBin      string
	FFprobeBin     string
	Policy         pipeline.Policy
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func mustInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func seconds(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// Load reads .env (if any) and the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() Config {
	def := pipeline.DefaultPolicy()
	return Config{
		BotToken:       os.Getenv("BOT_TOKEN"),
		APIEndpoint:    getenv("TELEGRAM_API_ENDPOINT", tgbotapi.APIEndpoint),
		FileEndpoint:   getenv("TELEGRAM_FILE_ENDPOINT", tgbotapi.FileEndpoint),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		DataDir:        getenv("DATA_DIR", "/data"),
		DestChat:       getenv("DEST_CHAT", ""),
		HealthAddr:     getenv("HEALTH_ADDR", ":8080"),
		Concurrency:    mustInt("CONCURRENCY", 2),
		MaxRetry:       mustInt("MAX_RETRY", 3),
		PublishRetries: mustInt("PUBLISH_MAX_RETRIES", 3),
		FFmpegBin:      getenv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:     getenv("FFPROBE_BIN", "ffprobe"),
		Policy: pipeline.Policy{
			AllowedContainerType: getenv("ALLOWED_CONTAINER_TYPE", def.AllowedContainerType),
			MaxFileSizeBytes:     mustInt64("MAX_FILE_SIZE_BYTES", def.MaxFileSizeBytes),
			TranscodeQuality:     mustInt("TRANSCODE_QUALITY", def.TranscodeQuality),
			ProcessTimeout:       seconds("PROCESS_TIMEOUT_SECONDS", def.ProcessTimeout),
			FetchTimeout:         seconds("FETCH_TIMEOUT_SECONDS", def.FetchTimeout),
			PublishTimeout:       seconds("PUBLISH_TIMEOUT_SECONDS", def.PublishTimeout),
		},
	}
}

// WorkDir is the root under which each run gets its own directory.
func (c Config) WorkDir() string {
	return filepath.Join(c.DataDir, "runs")
}

// Destination resolves where results go: DEST_CHAT when set, otherwise the
// chat the upload came from.
func (c Config) Destination(fromChat int64) pipeline.Destination {
	if d, ok := pipeline.ParseDestination(c.DestChat); ok {
		return d
	}
	return pipeline.Destination{ChatID: fromChat}
}

// Validate reports every invalid setting at once. The bot token is checked
// by the binaries that need it.
func (c Config) Validate() error {
	var errs []error
	p := c.Policy
	if p.AllowedContainerType == "" {
		errs = append(errs, errors.New("ALLOWED_CONTAINER_TYPE must not be empty"))
	}
	if p.MaxFileSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE_BYTES must be positive, got %d", p.MaxFileSizeBytes))
	}
	if p.TranscodeQuality < 0 || p.TranscodeQuality > 51 {
		errs = append(errs, fmt.Errorf("TRANSCODE_QUALITY must be a CRF in 0..51, got %d", p.TranscodeQuality))
	}
	for name, d := range map[string]time.Duration{
		"PROCESS_TIMEOUT_SECONDS": p.ProcessTimeout,
		"FETCH_TIMEOUT_SECONDS":   p.FetchTimeout,
		"PUBLISH_TIMEOUT_SECONDS": p.PublishTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("CONCURRENCY must be at least 1, got %d", c.Concurrency))
	}
	if c.MaxRetry < 0 || c.PublishRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRY and PUBLISH_MAX_RETRIES must not be negative"))
	}
	if c.DestChat != "" {
		if _, ok := pipeline.ParseDestination(c.DestChat); !ok {
			errs = append(errs, fmt.Errorf("DEST_CHAT %q is neither a chat id nor an @username", c.DestChat))
		}
	}
	return errors.Join(errs...)
}
