package syncqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Status is the lifecycle state of a queued mutation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// QueuedMutation is a write accepted while offline.
//
// pending -> completed on replay success, pending -> pending with a later
// NextAttemptAt on failure, pending -> failed once the attempt budget is spent.
// completed and failed are terminal.
type QueuedMutation struct {
	bun.BaseModel `bun:"table:sync_queue"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Verb          string     `bun:"verb,notnull" json:"verb"`
	TargetPath    string     `bun:"target_path,notnull" json:"target_path"`
	Params        string     `bun:"params,notnull" json:"params"`
	Status        Status     `bun:"status,notnull" json:"status"`
	Attempts      int        `bun:"attempts,notnull,default:0" json:"attempts"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero" json:"next_attempt_at,omitempty"`
	LastError     string     `bun:"last_error,notnull,default:''" json:"last_error,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// DecodeParams returns the stored params. "null" decodes to a nil map.
func (m *QueuedMutation) DecodeParams() (map[string]any, error) {
	if m.Params == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(m.Params), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// Eligible reports whether the row may be replayed at now.
func (m *QueuedMutation) Eligible(now time.Time) bool {
	if m.Status != StatusPending {
		return false
	}
	return m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)
}

// Mutation is the input to Enqueue.
type Mutation struct {
	Verb   string         `validate:"required,oneof=POST PATCH DELETE"`
	Path   string         `validate:"required,max=2048"`
	Params map[string]any `validate:"-"`
}

// Stats counts rows per status.
type Stats struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Capacity  int `json:"capacity"`
}

// DrainReport summarizes one Drain call.
type DrainReport struct {
	Selected  int `json:"selected"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	// Skipped rows were left untouched because the oracle reported offline.
	Skipped int `json:"skipped"`
	// Conflicts are rows another drain claimed or changed first.
	Conflicts int `json:"conflicts"`
}

// Processed is the number of rows whose state changed.
func (r DrainReport) Processed() int {
	return r.Completed + r.Retried + r.Failed
}
