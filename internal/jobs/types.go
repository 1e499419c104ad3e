package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/wapuda/mkvpress/internal/pipeline"
)

const (
	TaskProcessUpload = "upload:process"
	QueueDefault      = "default"
)

type ProcessUploadPayload struct {
	RunID       string                `json:"run_id"`
	ChatID      int64                 `json:"chat_id"` // where status messages go
	UserID      int64                 `json:"user_id"`
	File        pipeline.IncomingFile `json:"file"`
	Destination pipeline.Destination  `json:"destination"` // where the result goes
}

// NewProcessUploadTask builds the task with the run id as task id, so a run
// is enqueued at most once and can be cancelled by id.
func NewProcessUploadTask(p ProcessUploadPayload, maxRetry int) (*asynq.Task, error) {
	if p.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessUpload, b,
		asynq.TaskID(p.RunID),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(maxRetry),
	), nil
}

func ParseProcessUpload(t *asynq.Task) (ProcessUploadPayload, error) {
	var p ProcessUploadPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	return p, nil
}
