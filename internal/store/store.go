// Package store keeps per-user run bookkeeping in Redis: the run currently
// queued or processing (for /cancel) and the last finished run (for /status).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wapuda/mkvpress/internal/pipeline"
)

const ttl = 24 * time.Hour

func keyActive(user int64) string { return fmt.Sprintf("mkvpress:active:%d", user) }
func keyLast(user int64) string   { return fmt.Sprintf("mkvpress:last:%d", user) }

// RunRecord is the persisted summary of a finished run.
type RunRecord struct {
	RunID      string             `json:"run_id"`
	File       string             `json:"file"`
	Status     pipeline.Status    `json:"status"`
	Kind       pipeline.ErrorKind `json:"kind,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Messages   []string           `json:"messages"`
	Fallback   bool               `json:"fallback,omitempty"`
	FinishedAt time.Time          `json:"finished_at"`
}

func RecordFromOutcome(o pipeline.Outcome, at time.Time) RunRecord {
	return RunRecord{
		RunID:      o.RunID,
		File:       o.File,
		Status:     o.Status,
		Kind:       o.Kind,
		Reason:     o.Reason,
		Messages:   o.Messages,
		Fallback:   o.TranscodeFallback,
		FinishedAt: at.UTC(),
	}
}

// Runs is the Redis-backed run registry.
type Runs struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Runs { return &Runs{rdb: rdb} }

// Deletes the key only when it still holds the given run id.
var clearIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *Runs) SetActive(ctx context.Context, user int64, runID string) error {
	return r.rdb.Set(ctx, keyActive(user), runID, ttl).Err()
}

// Active returns the user's active run id, or "" when there is none.
func (r *Runs) Active(ctx context.Context, user int64) (string, error) {
	id, err := r.rdb.Get(ctx, keyActive(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (r *Runs) ClearActive(ctx context.Context, user int64, runID string) error {
	return clearIfOwner.Run(ctx, r.rdb, []string{keyActive(user)}, runID).Err()
}

func (r *Runs) SaveLast(ctx context.Context, user int64, rec RunRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, keyLast(user), b, ttl).Err()
}

// Last returns the user's most recent finished run, or nil.
func (r *Runs) Last(ctx context.Context, user int64) (*RunRecord, error) {
	raw, err := r.rdb.Get(ctx, keyLast(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode last run: %w", err)
	}
	return &rec, nil
}
