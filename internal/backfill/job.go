package backfill

import (
	"time"

	"candlefeed/internal/market"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// JobRequest names a series and a range. Period takes precedence over
// Start/End when both are given.
type JobRequest struct {
	Symbol   string    `json:"symbol"`
	Provider string    `json:"provider"`
	Interval string    `json:"interval"`
	Period   string    `json:"period,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
}

type Job struct {
	ID          string             `json:"id"`
	Status      string             `json:"status"`
	Request     JobRequest         `json:"request"`
	Key         market.SeriesKey   `json:"key"`
	Window      market.FetchWindow `json:"window"`
	ChunksDone  int                `json:"chunks_done"`
	ChunksTotal int                `json:"chunks_total"`
	Rows        int                `json:"rows"`
	Coerced     int                `json:"coerced"`
	Failed      []FailedWindow     `json:"failed,omitempty"`
	Message     string             `json:"message,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (j *Job) copy() Job {
	out := *j
	out.Failed = append([]FailedWindow(nil), j.Failed...)
	return out
}

func (j Job) Finished() bool {
	switch j.Status {
	case JobStatusDone, JobStatusPartial, JobStatusFailed:
		return true
	}
	return false
}
