package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wapuda/mkvpress/internal/pipeline"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"ALLOWED_CONTAINER_TYPE", "MAX_FILE_SIZE_BYTES", "TRANSCODE_QUALITY", "PROCESS_TIMEOUT_SECONDS", "DEST_CHAT", "DATA_DIR"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Policy.AllowedContainerType != "video/x-matroska" {
		t.Fatalf("container = %q", c.Policy.AllowedContainerType)
	}
	if c.Policy.MaxFileSizeBytes != 2*1024*1024*1024 {
		t.Fatalf("limit = %d", c.Policy.MaxFileSizeBytes)
	}
	if c.WorkDir() != filepath.Join("/data", "runs") {
		t.Fatalf("work dir = %q", c.WorkDir())
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE_BYTES", "1048576")
	t.Setenv("TRANSCODE_QUALITY", "23")
	t.Setenv("PROCESS_TIMEOUT_SECONDS", "90")
	t.Setenv("DEST_CHAT", "@archive")
	t.Setenv("CONCURRENCY", "not-a-number")

	c := FromEnv()
	if c.Policy.MaxFileSizeBytes != 1<<20 || c.Policy.TranscodeQuality != 23 {
		t.Fatalf("policy = %+v", c.Policy)
	}
	if c.Policy.ProcessTimeout != 90*time.Second {
		t.Fatalf("timeout = %s", c.Policy.ProcessTimeout)
	}
	if c.Concurrency != 2 {
		t.Fatalf("bad int should fall back to default, got %d", c.Concurrency)
	}
	if d := c.Destination(5); d != (pipeline.Destination{Username: "@archive"}) {
		t.Fatalf("destination = %+v", d)
	}
}

func TestDestinationDefaultsToSender(t *testing.T) {
	c := Config{}
	if d := c.Destination(12345); d.ChatID != 12345 {
		t.Fatalf("destination = %+v", d)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	c := Config{
		Concurrency: 0,
		DestChat:    "nope",
		Policy: pipeline.Policy{
			MaxFileSizeBytes: 0,
			TranscodeQuality: 60,
		},
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"ALLOWED_CONTAINER_TYPE", "MAX_FILE_SIZE_BYTES", "TRANSCODE_QUALITY", "PROCESS_TIMEOUT_SECONDS", "CONCURRENCY", "DEST_CHAT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %s in %v", want, err)
		}
	}
}
