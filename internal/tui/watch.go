// Package tui renders the interactive import workflow: upload, live progress
// from the push channel, preview confirmation and the final summary.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"invctl/internal/importer"
	"invctl/internal/model"
	"invctl/internal/realtime"
	"invctl/internal/store"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	rowErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).PaddingLeft(2)
	summaryStyle = lipgloss.NewStyle().PaddingLeft(2)
)

const maxRowErrorsShown = 5

type storeChangedMsg struct{}

type startedMsg struct {
	jobID string
}

type startFailedMsg struct {
	err error
}

type confirmDoneMsg struct {
	err error
}

type importModel struct {
	imp         *importer.Importer
	st          *store.Store
	fileName    string
	file        io.Reader
	autoConfirm bool
	changes     chan struct{}

	spinner    spinner.Model
	bar        progress.Model
	jobID      string
	confirmed  bool
	notice     string
	startErr   error
	finalJob   *model.ImportJob
}

func newImportModel(imp *importer.Importer, st *store.Store, fileName string, file io.Reader, autoConfirm bool, changes chan struct{}) importModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return importModel{
		imp:         imp,
		st:          st,
		fileName:    fileName,
		file:        file,
		autoConfirm: autoConfirm,
		changes:     changes,
		spinner:     sp,
		bar:         progress.New(progress.WithDefaultGradient()),
	}
}

// Run executes the import workflow under a bubbletea program and returns an
// error when the upload or the import itself failed.
func Run(imp *importer.Importer, st *store.Store, fileName string, file io.Reader, autoConfirm bool) error {
	changes := make(chan struct{}, 1)
	unsub := st.Subscribe(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsub()

	m := newImportModel(imp, st, fileName, file, autoConfirm, changes)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}
	fm, ok := final.(importModel)
	if !ok {
		return nil
	}
	if fm.startErr != nil {
		return fm.startErr
	}
	if fm.finalJob != nil && fm.finalJob.Status == model.StatusFailed {
		return fmt.Errorf("import failed: %s", fm.finalJob.Error)
	}
	return nil
}

func (m importModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startImportCmd(), m.waitForChange())
}

func (m importModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "y":
			if job, ok := m.currentJob(); ok && m.awaitingConfirmation() {
				m.confirmed = true
				return m, m.confirmCmd(job.JobID)
			}
		case "n":
			if m.awaitingConfirmation() {
				m.imp.Dismiss(m.jobID)
				m.notice = "import cancelled"
				return m, tea.Quit
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case startedMsg:
		m.jobID = msg.jobID
		return m, nil

	case startFailedMsg:
		m.startErr = msg.err
		return m, tea.Quit

	case confirmDoneMsg:
		if msg.err != nil {
			// The orchestrator already reverted the job to preview_ready.
			m.confirmed = false
			m.notice = msg.err.Error()
		}
		return m, nil

	case storeChangedMsg:
		cmds := []tea.Cmd{m.waitForChange()}
		if job, ok := m.currentJob(); ok {
			if job.Status == model.StatusPreviewReady && m.autoConfirm && !m.confirmed {
				m.confirmed = true
				cmds = append(cmds, m.confirmCmd(job.JobID))
			}
			if job.Status.Terminal() {
				m.finalJob = &job
				cmds = append(cmds, tea.Quit)
			}
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m importModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Importing "+m.fileName) + "  " + connectionBadge(m.st.Connection()) + "\n\n")

	job, ok := m.currentJob()
	if !ok {
		b.WriteString(m.spinner.View() + " uploading...\n")
		return b.String()
	}

	b.WriteString(statusLine(job, m.spinner.View()) + "\n")
	if !job.Status.Terminal() {
		b.WriteString(m.bar.ViewAs(float64(job.Progress)/100) + "\n")
	}

	if job.Report != nil && job.Status == model.StatusPreviewReady {
		b.WriteString("\n" + previewSummary(*job.Report) + "\n")
		if m.awaitingConfirmation() {
			b.WriteString("\n" + warnStyle.Render("import these rows? (y/n)") + "\n")
		}
	}
	if job.Status == model.StatusCompleted && job.Summary != nil {
		b.WriteString(summaryStyle.Render(fmt.Sprintf("%d products imported, %d rows failed",
			job.Summary.TotalImported, job.Summary.TotalFailed)) + "\n")
	}
	if job.Status == model.StatusFailed {
		b.WriteString(failStyle.Render("Import failed: "+job.Error) + "\n")
	}
	if m.notice != "" {
		b.WriteString("\n" + subtleStyle.Render(m.notice) + "\n")
	}
	b.WriteString("\n" + subtleStyle.Render("q to quit") + "\n")
	return b.String()
}

func (m importModel) currentJob() (model.ImportJob, bool) {
	if m.jobID == "" {
		return m.st.ActiveJob()
	}
	return m.st.Job(m.jobID)
}

func (m importModel) awaitingConfirmation() bool {
	if m.autoConfirm || m.confirmed {
		return false
	}
	job, ok := m.currentJob()
	return ok && job.Status == model.StatusPreviewReady
}

func (m importModel) startImportCmd() tea.Cmd {
	return func() tea.Msg {
		jobID, err := m.imp.StartImport(context.Background(), m.fileName, m.file)
		if err != nil {
			return startFailedMsg{err: err}
		}
		return startedMsg{jobID: jobID}
	}
}

// waitForChange blocks on the store's change signal and turns it into a
// bubbletea message. Re-issued after every storeChangedMsg.
func (m importModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return storeChangedMsg{}
	}
}

// confirmCmd takes the job id from the caller's store snapshot rather than
// m.jobID: the preview-ready notification can arrive before startedMsg has
// recorded the server id.
func (m importModel) confirmCmd(jobID string) tea.Cmd {
	return func() tea.Msg {
		return confirmDoneMsg{err: m.imp.Confirm(context.Background(), jobID)}
	}
}

// statusLine renders the job's current state with the right accent.
func statusLine(job model.ImportJob, spin string) string {
	switch job.Status {
	case model.StatusUploading:
		return spin + " uploading " + job.FileName
	case model.StatusProcessing:
		return fmt.Sprintf("%s validating rows (%d%%) %s", spin, job.Progress, subtleStyle.Render(job.ProgressMessage))
	case model.StatusPreviewReady:
		return okStyle.Render("preview ready")
	case model.StatusConfirming:
		return spin + " confirming import"
	case model.StatusImporting:
		return fmt.Sprintf("%s importing (%d%%) %s", spin, job.Progress, subtleStyle.Render(job.ProgressMessage))
	case model.StatusCompleted:
		return okStyle.Render("import completed")
	case model.StatusFailed:
		return failStyle.Render("import failed")
	default:
		return string(job.Status)
	}
}

// connectionBadge is the always-visible transport indicator.
func connectionBadge(state realtime.ConnState) string {
	switch state {
	case realtime.StateConnected:
		return okStyle.Render("● connected")
	case realtime.StateConnecting:
		return warnStyle.Render("● connecting")
	case realtime.StateReconnecting:
		return warnStyle.Render("● reconnecting")
	default:
		return failStyle.Render("● disconnected")
	}
}

// previewSummary lists validation counts plus the first few row errors.
func previewSummary(report model.PreviewReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("preview: %s valid, %s invalid",
		okStyle.Render(fmt.Sprintf("%d", report.SucceededCount)),
		failStyle.Render(fmt.Sprintf("%d", report.FailedCount))))
	shown := 0
	for _, row := range report.RowResults {
		if row.IsValid {
			continue
		}
		if shown == maxRowErrorsShown {
			b.WriteString("\n" + rowErrStyle.Render("..."))
			break
		}
		b.WriteString("\n" + rowErrStyle.Render(fmt.Sprintf("row %d: %s", row.RowNumber, strings.Join(row.Errors, "; "))))
		shown++
	}
	return b.String()
}
