// Package main is the entry point for the invctl binary, the command-line
// client for the inventory backend's CSV product-import pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"invctl/internal/config"
	"invctl/internal/csvtmpl"
	"invctl/internal/history"
	"invctl/internal/importer"
	"invctl/internal/inventory"
	"invctl/internal/model"
	"invctl/internal/realtime"
	"invctl/internal/store"
	"invctl/internal/tui"
)

var (
	apiURL string
	hubURL string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "invctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invctl",
		Short: "Inventory admin CLI for CSV product imports",
		Long: `invctl uploads product CSV files to the inventory backend, tracks the
asynchronous import job over the push-notification hub, and lets you confirm
the validated preview before the rows are committed.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend API base URL (overrides INVCTL_API_URL)")
	cmd.PersistentFlags().StringVar(&hubURL, "hub-url", "", "Import-status hub URL (overrides INVCTL_HUB_URL)")
	cmd.AddCommand(
		newImportCmd(),
		newStatusCmd(),
		newTemplateCmd(),
		newHistoryCmd(),
	)
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIBaseURL = apiURL
	}
	if hubURL != "" {
		cfg.HubURL = hubURL
	}
	return cfg, nil
}

func newImportCmd() *cobra.Command {
	var autoConfirm bool
	var plain bool
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Upload a CSV, watch validation, confirm and import it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg, args[0], autoConfirm, plain)
		},
	}
	cmd.Flags().BoolVarP(&autoConfirm, "yes", "y", false, "Confirm the preview without prompting")
	cmd.Flags().BoolVar(&plain, "plain", false, "Log lines instead of the interactive view")
	return cmd
}

func runImport(ctx context.Context, cfg *config.Config, path string, autoConfirm, plain bool) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	st := store.New()
	api := inventory.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)
	channel := realtime.New(cfg.HubURL, realtime.Options{
		ReconnectAttempts:  cfg.ReconnectAttempts,
		ReconnectBaseDelay: cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.ReconnectMaxDelay,
	})

	hooks := importer.Hooks{}
	if plain {
		hooks.Info = func(msg string) { log.Print(msg) }
		hooks.Error = func(msg string) { log.Print(msg) }
	}
	if hist, err := history.Open(cfg.HistoryPath); err != nil {
		log.Printf("import history disabled: %v", err)
	} else {
		defer hist.Close()
		hooks.Recorder = hist
	}

	imp := importer.New(api, channel, st, hooks)
	imp.Bind()
	defer imp.Close()

	// Uploads are refused while the hub is unreachable; without the push
	// channel the job would appear to hang.
	if err := channel.Connect(ctx); err != nil {
		return err
	}
	defer channel.Disconnect()

	fileName := filepath.Base(path)
	if plain {
		return runPlainImport(ctx, imp, st, fileName, file, autoConfirm)
	}
	return tui.Run(imp, st, fileName, file, autoConfirm)
}

// runPlainImport drives the workflow without the interactive view. Plain mode
// is non-interactive, so an unconfirmed preview stops with instructions rather
// than prompting.
func runPlainImport(ctx context.Context, imp *importer.Importer, st *store.Store, fileName string, file *os.File, autoConfirm bool) error {
	changes := make(chan struct{}, 1)
	unsub := st.Subscribe(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsub()

	jobID, err := imp.StartImport(ctx, fileName, file)
	if err != nil {
		return err
	}
	log.Printf("job %s: uploaded, validating", jobID)

	var lastStatus model.ImportJobStatus
	var lastProgress int
	confirmed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
		}
		job, ok := st.Job(jobID)
		if !ok {
			return nil
		}
		if job.Status == lastStatus && job.Progress != lastProgress && !job.Status.Terminal() {
			log.Printf("job %s: %d%% %s", jobID, job.Progress, job.ProgressMessage)
		}
		lastProgress = job.Progress
		if job.Status == lastStatus {
			continue
		}
		lastStatus = job.Status

		switch job.Status {
		case model.StatusPreviewReady:
			if job.Report != nil {
				log.Printf("job %s: preview ready, %d valid rows, %d invalid",
					jobID, job.Report.SucceededCount, job.Report.FailedCount)
				printRowErrors(job.Report)
			}
			if confirmed {
				continue
			}
			if !autoConfirm {
				imp.Dismiss(jobID)
				return errors.New("preview not confirmed; re-run with --yes to import")
			}
			confirmed = true
			if err := imp.Confirm(ctx, jobID); err != nil {
				return err
			}
		case model.StatusCompleted:
			if job.Summary != nil {
				log.Printf("job %s: completed, %d imported, %d failed",
					jobID, job.Summary.TotalImported, job.Summary.TotalFailed)
			}
			return nil
		case model.StatusFailed:
			return errors.New(job.Error)
		}
	}
}

func printRowErrors(report *model.PreviewReport) {
	for _, row := range report.RowResults {
		if row.IsValid {
			continue
		}
		for _, msg := range row.Errors {
			log.Printf("  row %d: %s", row.RowNumber, msg)
		}
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Query the current server-side status of an import job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			api := inventory.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)
			resp, err := api.JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("job:       %s\n", resp.JobID)
			fmt.Printf("status:    %s\n", resp.Status)
			if resp.SucceededCount > 0 || resp.FailedCount > 0 {
				fmt.Printf("succeeded: %d\n", resp.SucceededCount)
				fmt.Printf("failed:    %d\n", resp.FailedCount)
			}
			if resp.ErrorMessage != "" {
				fmt.Printf("error:     %s\n", resp.ErrorMessage)
			}
			return nil
		},
	}
}

func newTemplateCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the CSV import template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return csvtmpl.Write(os.Stdout)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := csvtmpl.Write(f); err != nil {
				return err
			}
			fmt.Printf("template written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the template to a file instead of stdout")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished imports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			hist, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer hist.Close()
			entries, err := hist.Recent(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no imports recorded yet")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tFILE\tSTATUS\tIMPORTED\tFAILED\tJOB")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					e.FinishedAt.Local().Format("2006-01-02 15:04"),
					e.FileName, e.Status, e.Imported, e.Failed, e.JobID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	return cmd
}
