// Package model contains the job records and status enumeration shared by the
// store, the orchestrator and the CLI.
package model

import "time"

// ImportJobStatus describes the lifecycle of one CSV import attempt.
type ImportJobStatus string

const (
	StatusUploading    ImportJobStatus = "uploading"
	StatusProcessing   ImportJobStatus = "processing"
	StatusPreviewReady ImportJobStatus = "preview_ready"
	StatusConfirming   ImportJobStatus = "confirming"
	StatusImporting    ImportJobStatus = "importing"
	StatusCompleted    ImportJobStatus = "completed"
	StatusFailed       ImportJobStatus = "failed"
)

// Terminal reports whether no further transitions are accepted for a job in
// this status.
func (s ImportJobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ImportRowResult is one row of the server-side validation preview. Fields are
// the raw candidate values as parsed from the CSV, not validated types.
type ImportRowResult struct {
	RowNumber   int      `json:"rowNumber"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Price       string   `json:"price"`
	Quantity    string   `json:"quantity"`
	Supplier    string   `json:"supplier"`
	IsValid     bool     `json:"isValid"`
	Errors      []string `json:"errors"`
}

// PreviewReport is delivered once per job when server-side validation finishes.
type PreviewReport struct {
	JobID          string            `json:"jobId"`
	SucceededCount int               `json:"succeededCount"`
	FailedCount    int               `json:"failedCount"`
	RowResults     []ImportRowResult `json:"rowResults"`
}

// ImportSummary is delivered once per job when the confirmed import finishes.
type ImportSummary struct {
	JobID         string    `json:"jobId"`
	TotalImported int       `json:"totalImported"`
	TotalFailed   int       `json:"totalFailed"`
	CompletedAt   time.Time `json:"completedAt"`
}

// ProgressUpdate is the payload of a progress push event.
type ProgressUpdate struct {
	JobID      string `json:"jobId"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// ImportJob tracks one import attempt. The JobID starts out as a locally
// assigned placeholder while the upload is in flight and is replaced by the
// server-assigned identifier once the upload response arrives.
type ImportJob struct {
	JobID           string          `json:"jobId"`
	FileName        string          `json:"fileName"`
	Status          ImportJobStatus `json:"status"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progressMessage,omitempty"`
	Report          *PreviewReport  `json:"report,omitempty"`
	Summary         *ImportSummary  `json:"summary,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}
