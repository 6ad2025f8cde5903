package db

import (
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

// Run is one pass of the orchestrator over a root.
type Run struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	Root           string     `gorm:"index" json:"root"`
	Format         string     `json:"format"`
	Status         Status     `gorm:"index" json:"status"`
	Processed      int        `json:"processed"`
	Errors         int        `json:"errors"`
	Skipped        int        `json:"skipped"`
	BytesReclaimed int64      `json:"bytes_reclaimed"`
	ElapsedMs      int64      `json:"elapsed_ms"`
	StartedAt      time.Time  `gorm:"index" json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// TaskHistory is one converted or failed file.
type TaskHistory struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	RunID          string    `gorm:"index;size:36" json:"run_id"`
	FilePath       string    `gorm:"index" json:"file_path"`
	OutputPath     string    `json:"output_path,omitempty"`
	Status         Status    `gorm:"index" json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	BytesReclaimed int64     `json:"bytes_reclaimed"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats aggregates the whole history.
type Stats struct {
	Runs           int64 `json:"runs"`
	Converted      int64 `json:"converted"`
	Failed         int64 `json:"failed"`
	BytesReclaimed int64 `json:"bytes_reclaimed"`
}
