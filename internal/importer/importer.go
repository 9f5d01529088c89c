// Package importer drives a CSV import job through its lifecycle: upload,
// server-side validation, preview confirmation and completion. It owns the
// terminal-state guard (no updates are issued for a completed or failed job)
// and the reconciliation fallback used when the push channel missed events.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"invctl/internal/inventory"
	"invctl/internal/model"
	"invctl/internal/realtime"
	"invctl/internal/store"
)

const (
	processingMessage = "File uploaded, validating rows"
	importingMessage  = "Importing products"
)

type backendClient interface {
	UploadForPreview(ctx context.Context, fileName string, file io.Reader) (string, error)
	ConfirmImport(ctx context.Context, jobID string) error
	JobStatus(ctx context.Context, jobID string) (inventory.JobStatusResponse, error)
}

type eventChannel interface {
	On(event string, fn realtime.Handler) func()
	OnStateChange(fn realtime.StateHandler) func()
}

// Recorder persists jobs that reached a terminal state.
type Recorder interface {
	Record(job model.ImportJob) error
}

// Hooks are the user-facing notifications the workflow raises. Nil funcs are
// skipped.
type Hooks struct {
	// ProductsChanged fires once per completed import so unrelated views can
	// refresh their product data.
	ProductsChanged func()
	Info            func(msg string)
	Error           func(msg string)
	Recorder        Recorder
}

// Importer coordinates the upload workflow against the backend client, the
// push channel and the job store.
type Importer struct {
	api     backendClient
	channel eventChannel
	store   *store.Store
	hooks   Hooks
	unsubs  []func()

	now       func() time.Time
	newTempID func() string
}

// New wires an Importer; call Bind to start consuming channel events.
func New(api backendClient, channel eventChannel, st *store.Store, hooks Hooks) *Importer {
	return &Importer{
		api:     api,
		channel: channel,
		store:   st,
		hooks:   hooks,
		now:     time.Now,
		newTempID: func() string {
			return "temp-" + uuid.NewString()
		},
	}
}

// Bind subscribes to the push channel's events and state changes.
func (i *Importer) Bind() {
	i.unsubs = append(i.unsubs,
		i.channel.On(realtime.EventProgress, i.handleProgress),
		i.channel.On(realtime.EventPreviewReady, i.handlePreviewReady),
		i.channel.On(realtime.EventImportCompleted, i.handleImportCompleted),
		i.channel.On(realtime.EventJobFailed, i.handleJobFailed),
		i.channel.OnStateChange(i.handleConnState),
	)
}

// Close unsubscribes everything Bind registered.
func (i *Importer) Close() {
	for _, unsub := range i.unsubs {
		unsub()
	}
	i.unsubs = nil
}

// StartImport registers a job under a temporary id, uploads the file and, once
// the server assigns the real job id, replaces the placeholder with a
// processing-state record. On upload failure the placeholder job goes to
// failed and the error is returned.
func (i *Importer) StartImport(ctx context.Context, fileName string, file io.Reader) (string, error) {
	tempID := i.newTempID()
	i.store.Dispatch(store.AddJob{Job: model.ImportJob{
		JobID:     tempID,
		FileName:  fileName,
		Status:    model.StatusUploading,
		CreatedAt: i.now(),
	}})

	jobID, err := i.api.UploadForPreview(ctx, fileName, file)
	if err != nil {
		i.store.Dispatch(store.UpdateJob{JobID: tempID, Patch: store.Patch{
			Status:   ptr(model.StatusFailed),
			Progress: ptr(100),
			Error:    ptr(err.Error()),
		}})
		i.errorf("upload failed: %v", err)
		i.recordTerminal(tempID)
		return "", fmt.Errorf("upload %s: %w", fileName, err)
	}

	i.store.Dispatch(store.RemoveJob{JobID: tempID})
	i.store.Dispatch(store.AddJob{Job: model.ImportJob{
		JobID:           jobID,
		FileName:        fileName,
		Status:          model.StatusProcessing,
		Progress:        30,
		ProgressMessage: processingMessage,
		CreatedAt:       i.now(),
	}})
	return jobID, nil
}

// Confirm commits a previewed job. The job moves to confirming for the
// duration of the request; a rejected request reverts it to preview_ready so
// the user can retry.
func (i *Importer) Confirm(ctx context.Context, jobID string) error {
	job, ok := i.store.Job(jobID)
	if !ok {
		return fmt.Errorf("unknown job %q", jobID)
	}
	if job.Status != model.StatusPreviewReady {
		return fmt.Errorf("job %s is %s, not awaiting confirmation", jobID, job.Status)
	}

	i.store.Dispatch(store.UpdateJob{JobID: jobID, Patch: store.Patch{
		Status: ptr(model.StatusConfirming),
	}})
	if err := i.api.ConfirmImport(ctx, jobID); err != nil {
		i.store.Dispatch(store.UpdateJob{JobID: jobID, Patch: store.Patch{
			Status: ptr(model.StatusPreviewReady),
		}})
		i.errorf("confirm failed: %v", err)
		return fmt.Errorf("confirm import %s: %w", jobID, err)
	}
	i.store.Dispatch(store.UpdateJob{JobID: jobID, Patch: store.Patch{
		Status:          ptr(model.StatusImporting),
		Progress:        ptr(50),
		ProgressMessage: ptr(importingMessage),
	}})
	return nil
}

// Dismiss drops a job from local tracking. The server is not told; a
// still-running server-side job keeps running and its late events are ignored
// by the store's no-op-on-missing rule.
func (i *Importer) Dismiss(jobID string) {
	i.store.Dispatch(store.RemoveJob{JobID: jobID})
}

// SyncJobStatus pulls the job's status over HTTP and maps it onto the local
// lifecycle. Request failures are logged and leave local state unchanged.
func (i *Importer) SyncJobStatus(ctx context.Context, jobID string) {
	resp, err := i.api.JobStatus(ctx, jobID)
	if err != nil {
		log.Printf("importer: sync status for %s: %v", jobID, err)
		return
	}
	job, ok := i.store.Job(jobID)
	if !ok || job.Status.Terminal() {
		return
	}

	status := mapServerStatus(resp.Status)
	patch := store.Patch{Status: &status}
	switch status {
	case model.StatusPreviewReady:
		patch.Progress = ptr(100)
	case model.StatusCompleted:
		patch.Progress = ptr(100)
		patch.Summary = &model.ImportSummary{
			JobID:         jobID,
			TotalImported: resp.SucceededCount,
			TotalFailed:   resp.FailedCount,
			CompletedAt:   i.now(),
		}
	case model.StatusFailed:
		patch.Progress = ptr(100)
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "import failed"
		}
		patch.Error = &msg
	}
	i.store.Dispatch(store.UpdateJob{JobID: jobID, Patch: patch})

	if status == model.StatusCompleted {
		i.productsChanged()
		i.infof("import %s completed: %d imported, %d failed", jobID, resp.SucceededCount, resp.FailedCount)
	}
	if status.Terminal() {
		i.recordTerminal(jobID)
	}
}

// mapServerStatus translates the status endpoint's vocabulary onto the local
// enumeration. Unrecognized values map to processing rather than erroring so a
// newer server cannot wedge the client.
func mapServerStatus(status string) model.ImportJobStatus {
	switch status {
	case "pending", "processing":
		return model.StatusProcessing
	case "preview_ready":
		return model.StatusPreviewReady
	case "importing":
		return model.StatusImporting
	case "completed":
		return model.StatusCompleted
	case "failed":
		return model.StatusFailed
	default:
		return model.StatusProcessing
	}
}

func (i *Importer) handleProgress(data json.RawMessage) {
	var update model.ProgressUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		log.Printf("importer: bad progress payload: %v", err)
		return
	}
	job, ok := i.store.Job(update.JobID)
	if !ok || job.Status.Terminal() {
		return
	}
	i.store.Dispatch(store.UpdateJob{JobID: update.JobID, Patch: store.Patch{
		Progress:        ptr(update.Percentage),
		ProgressMessage: ptr(update.Message),
	}})
}

func (i *Importer) handlePreviewReady(data json.RawMessage) {
	var report model.PreviewReport
	if err := json.Unmarshal(data, &report); err != nil {
		log.Printf("importer: bad preview payload: %v", err)
		return
	}
	job, ok := i.store.Job(report.JobID)
	if !ok || job.Status.Terminal() {
		return
	}
	i.store.Dispatch(store.UpdateJob{JobID: report.JobID, Patch: store.Patch{
		Status:   ptr(model.StatusPreviewReady),
		Progress: ptr(100),
		Report:   &report,
	}})
}

func (i *Importer) handleImportCompleted(data json.RawMessage) {
	var summary model.ImportSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		log.Printf("importer: bad completion payload: %v", err)
		return
	}
	job, ok := i.store.Job(summary.JobID)
	if !ok || job.Status.Terminal() {
		return
	}
	i.store.Dispatch(store.UpdateJob{JobID: summary.JobID, Patch: store.Patch{
		Status:   ptr(model.StatusCompleted),
		Progress: ptr(100),
		Summary:  &summary,
	}})
	i.productsChanged()
	i.infof("import %s completed: %d imported, %d failed", summary.JobID, summary.TotalImported, summary.TotalFailed)
	i.recordTerminal(summary.JobID)
}

func (i *Importer) handleJobFailed(data json.RawMessage) {
	var failure realtime.JobFailure
	if err := json.Unmarshal(data, &failure); err != nil {
		log.Printf("importer: bad failure payload: %v", err)
		return
	}
	job, ok := i.store.Job(failure.JobID)
	if !ok || job.Status.Terminal() {
		return
	}
	i.store.Dispatch(store.UpdateJob{JobID: failure.JobID, Patch: store.Patch{
		Status:   ptr(model.StatusFailed),
		Progress: ptr(100),
		Error:    ptr(failure.ErrorMessage),
	}})
	i.errorf("import %s failed: %s", failure.JobID, failure.ErrorMessage)
	i.recordTerminal(failure.JobID)
}

// handleConnState records the transport state and, when the connection comes
// back, resynchronizes the active job if its last-known status could have
// silently advanced during the outage.
func (i *Importer) handleConnState(state realtime.ConnState) {
	i.store.Dispatch(store.SetConnection{State: state})
	if state != realtime.StateConnected {
		return
	}
	job, ok := i.store.ActiveJob()
	if !ok {
		return
	}
	if job.Status == model.StatusProcessing || job.Status == model.StatusImporting {
		i.SyncJobStatus(context.Background(), job.JobID)
	}
}

func (i *Importer) recordTerminal(jobID string) {
	if i.hooks.Recorder == nil {
		return
	}
	job, ok := i.store.Job(jobID)
	if !ok {
		return
	}
	if err := i.hooks.Recorder.Record(job); err != nil {
		log.Printf("importer: record history for %s: %v", jobID, err)
	}
}

func (i *Importer) productsChanged() {
	if i.hooks.ProductsChanged != nil {
		i.hooks.ProductsChanged()
	}
}

func (i *Importer) infof(format string, args ...any) {
	if i.hooks.Info != nil {
		i.hooks.Info(fmt.Sprintf(format, args...))
	}
}

func (i *Importer) errorf(format string, args ...any) {
	if i.hooks.Error != nil {
		i.hooks.Error(fmt.Sprintf(format, args...))
	}
}

func ptr[T any](v T) *T {
	return &v
}
