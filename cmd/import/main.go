package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ikkim/storecover-backend/config"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/app/service"
	"github.com/ikkim/storecover-backend/internal/db"
	"github.com/ikkim/storecover-backend/internal/storage"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"github.com/spf13/cobra"
)

type importOptions struct {
	apply    bool
	uploader string
	timeout  time.Duration
	asJSON   bool
}

var errValidationFailed = errors.New("roster failed validation")

func main() {
	if err := newImportCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	opts := importOptions{}

	cmd := &cobra.Command{
		Use:   "import <roster.csv|roster.xlsx>",
		Short: "Validate a store roster and optionally reconcile it into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.OutOrStdout(), args[0], opts)
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Apply changes to DB (default is dry-run)")
	cmd.Flags().StringVar(&opts.uploader, "uploader", "cli", "Name recorded on audit entries")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Maximum time to wait for the import job")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print reports as JSON")
	return cmd
}

func runImport(out io.Writer, filePath string, opts importOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Initialize(logger.Config{
		Level:       "warn",
		Format:      "console",
		EnableColor: true,
	})

	if err := storage.ValidateExtension(filePath, cfg.Import.AllowedExtensions); err != nil {
		return err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	if err := storage.ValidateFileSize(int64(len(data)), cfg.Import.MaxUploadBytes); err != nil {
		return err
	}

	processor := service.NewFileProcessor(service.FileProcessorOptions{
		MinFloorArea: cfg.Pricing.MinFloorArea,
		MaxFloorArea: cfg.Pricing.MaxFloorArea,
	})

	filename := filepath.Base(filePath)
	fmt.Fprintf(out, "Reading roster: %s\n", filePath)
	report := processor.ProcessFile(filename, string(data), opts.uploader)
	if err := printReport(out, report, opts.asJSON); err != nil {
		return err
	}
	if !report.Success {
		return errValidationFailed
	}
	if !opts.apply {
		fmt.Fprintln(out, "Dry run. Re-run with --apply to import.")
		return nil
	}

	if err := db.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := db.Seed(); err != nil {
		return fmt.Errorf("seed pricing configs: %w", err)
	}

	job, err := applyImport(out, cfg, processor, filename, string(data), opts)
	if err != nil {
		return err
	}
	return printResult(out, job, opts.asJSON)
}

// applyImport runs the roster through the same queue the server uses and
// waits for the job to finish.
func applyImport(out io.Writer, cfg *config.Config, processor service.FileProcessor, filename, content string, opts importOptions) (*model.ImportJobView, error) {
	pricingRepo := repository.NewPricingConfigRepository(db.GetDB())
	configs, err := pricingRepo.FindAll()
	if err != nil {
		return nil, err
	}

	audit := service.NewAuditService(repository.NewAuditRepository(db.GetDB()))
	pricing := service.NewPricingService(configs, service.PricingOptions{
		ValuationMultiplier: cfg.Pricing.ValuationMultiplier,
	})
	lifecycle := service.NewLifecycleService(repository.NewStoreRepository(db.GetDB()), audit)
	policies := service.NewPolicyService(repository.NewPolicyRepository(db.GetDB()), pricing, audit)
	queue := service.NewImportQueue(repository.NewImportJobRepository(db.GetDB()), processor, lifecycle, policies, service.ImportQueueOptions{
		Retention:         cfg.Import.JobRetention,
		MaxJobs:           cfg.Import.MaxJobs,
		ContentGraceDelay: -1,
		DefaultCoverage:   model.CoverageType(cfg.Pricing.DefaultCoverageType),
		DurationMonths:    cfg.Pricing.DefaultDuration,
	})

	waiter := newJobWaiter(out)
	unsubscribe := queue.Subscribe(waiter.observe)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	queue.Start(ctx)
	defer queue.Stop()

	job, err := queue.Enqueue(ctx, filename, content, opts.uploader, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Queued job %s\n", job.JobID)

	ev, err := waiter.wait(ctx, job.JobID)
	if err != nil {
		return nil, err
	}
	if ev.Type == service.JobEventFailed {
		return nil, errors.New(ev.Job.ErrorMessage)
	}
	return &ev.Job, nil
}

// jobWaiter records terminal job events without ever blocking the queue's
// dispatcher, including events for jobs resumed from an earlier run.
type jobWaiter struct {
	out      io.Writer
	mu       sync.Mutex
	terminal map[string]service.JobEvent
	notify   chan struct{}
}

func newJobWaiter(out io.Writer) *jobWaiter {
	return &jobWaiter{
		out:      out,
		terminal: make(map[string]service.JobEvent),
		notify:   make(chan struct{}, 1),
	}
}

func (w *jobWaiter) observe(ev service.JobEvent) {
	switch ev.Type {
	case service.JobEventProgress:
		fmt.Fprintf(w.out, "  %s ... %d%%\n", ev.Job.JobID, ev.Job.Progress)
	case service.JobEventCompleted, service.JobEventFailed:
		w.mu.Lock()
		w.terminal[ev.Job.JobID] = ev
		w.mu.Unlock()
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func (w *jobWaiter) wait(ctx context.Context, jobID string) (service.JobEvent, error) {
	for {
		w.mu.Lock()
		ev, ok := w.terminal[jobID]
		w.mu.Unlock()
		if ok {
			return ev, nil
		}

		select {
		case <-w.notify:
		case <-ctx.Done():
			return service.JobEvent{}, fmt.Errorf("job %s did not finish: %w", jobID, ctx.Err())
		}
	}
}

func printReport(out io.Writer, report service.ProcessingResult, asJSON bool) error {
	if asJSON {
		return printJSON(out, report.Validation)
	}

	fmt.Fprintf(out, "Total rows: %d, valid: %d\n", report.TotalRows, len(report.Rows))
	for _, e := range report.Validation.Errors {
		fmt.Fprintf(out, "  error   row %d %s: %s\n", e.Row, e.Field, e.Message)
	}
	for _, w := range report.Validation.Warnings {
		fmt.Fprintf(out, "  warning row %d %s: %s\n", w.Row, w.Field, w.Message)
	}
	if !report.Success {
		fmt.Fprintln(out, report.ErrorSummary())
	}
	return nil
}

func printResult(out io.Writer, job *model.ImportJobView, asJSON bool) error {
	if asJSON {
		return printJSON(out, job)
	}

	fmt.Fprintf(out, "Import %s completed\n", job.JobID)
	if job.Result == nil {
		return nil
	}
	r := job.Result
	fmt.Fprintf(out, "  created:     %d %v\n", len(r.Created), r.Created)
	fmt.Fprintf(out, "  updated:     %d %v\n", len(r.Updated), r.Updated)
	fmt.Fprintf(out, "  deactivated: %d %v\n", len(r.Deactivated), r.Deactivated)
	fmt.Fprintf(out, "  policies: %d created, %d repriced, %d cancelled\n", r.PoliciesCreated, r.PoliciesRepriced, r.PoliciesCancelled)
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
