package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrForbidden     = errors.New("role is not allowed to manage imports")
	ErrQueueCapacity = errors.New("import queue is at capacity")
	ErrJobNotFound   = errors.New("import job not found")
	ErrJobProcessing = errors.New("import job is being processed")
)

const (
	DefaultJobRetention      = 24 * time.Hour
	DefaultMaxJobs           = 100
	DefaultContentGraceDelay = 5 * time.Second

	eventBufferSize = 256
)

// Progress checkpoints published while a job runs.
const (
	ProgressStarted   = 10
	ProgressProcessed = 50
	ProgressApplied   = 90
	ProgressDone      = 100
)

type JobEventType string

const (
	JobEventQueued    JobEventType = "queued"
	JobEventStarted   JobEventType = "processing"
	JobEventProgress  JobEventType = "progress"
	JobEventCompleted JobEventType = "completed"
	JobEventFailed    JobEventType = "failed"
	JobEventDeleted   JobEventType = "deleted"
)

// JobEvent is delivered to subscribers in publication order.
type JobEvent struct {
	Type      JobEventType        `json:"type"`
	Job       model.ImportJobView `json:"job"`
	Timestamp time.Time           `json:"timestamp"`
}

type ImportQueueOptions struct {
	Retention         time.Duration
	MaxJobs           int
	ContentGraceDelay time.Duration // negative strips content as soon as a job finishes
	DefaultCoverage   model.CoverageType
	DurationMonths    int
}

type ImportQueue interface {
	Enqueue(ctx context.Context, filename, content, uploader string, role model.UserRole) (*model.ImportJobView, error)
	GetAllJobs() ([]model.ImportJobView, error)
	GetJob(jobID string) (*model.ImportJobView, error)
	DeleteJob(jobID string, role model.UserRole) error
	PruneExpired() (int, error)
	Subscribe(fn func(JobEvent)) (unsubscribe func())
	Start(ctx context.Context)
	Stop()
	InitSession(sessionID string) error
	ClearSessionData() error
}

type importQueue struct {
	// pipelineMu is held by the worker for a whole job; session changes
	// take it first so they never overlap a running reconciliation.
	pipelineMu sync.Mutex
	mu         sync.Mutex
	jobRepo    repository.ImportJobRepository
	processor  FileProcessor
	lifecycle  LifecycleService
	policies   PolicyService
	opts       ImportQueueOptions
	pending    chan string
	processing string
	session    string
	seq        int64
	seqLoaded  bool
	timers     map[string]*time.Timer

	events  chan JobEvent
	subsMu  sync.RWMutex
	subs    map[int]func(JobEvent)
	nextSub int

	runMu          sync.Mutex
	stopWorker     context.CancelFunc
	stopDispatcher context.CancelFunc
	workerDone     chan struct{}
	dispatchDone   chan struct{}

	now func() time.Time
}

func NewImportQueue(
	jobRepo repository.ImportJobRepository,
	processor FileProcessor,
	lifecycle LifecycleService,
	policies PolicyService,
	opts ImportQueueOptions,
) ImportQueue {
	if opts.Retention <= 0 {
		opts.Retention = DefaultJobRetention
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = DefaultMaxJobs
	}
	if opts.ContentGraceDelay == 0 {
		opts.ContentGraceDelay = DefaultContentGraceDelay
	}
	if !opts.DefaultCoverage.Valid() {
		opts.DefaultCoverage = model.CoverageCombined
	}
	if opts.DurationMonths <= 0 {
		opts.DurationMonths = DefaultPolicyDurationMonths
	}

	return &importQueue{
		jobRepo:   jobRepo,
		processor: processor,
		lifecycle: lifecycle,
		policies:  policies,
		opts:      opts,
		pending:   make(chan string, opts.MaxJobs+1),
		timers:    make(map[string]*time.Timer),
		events:    make(chan JobEvent, eventBufferSize),
		subs:      make(map[int]func(JobEvent)),
		now:       time.Now,
	}
}

// Enqueue accepts a roster file for processing. Authorization is checked
// before anything else is touched.
func (q *importQueue) Enqueue(ctx context.Context, filename, content, uploader string, role model.UserRole) (*model.ImportJobView, error) {
	if !role.CanManageImports() {
		logger.Warn("Import rejected for role", map[string]interface{}{
			"uploader": uploader,
			"role":     role,
		})
		return nil, ErrForbidden
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.pruneExpired(); err != nil {
		return nil, err
	}

	count, err := q.jobRepo.Count()
	if err != nil {
		return nil, err
	}
	if count >= int64(q.opts.MaxJobs) {
		logger.Warn("Import queue at capacity", map[string]interface{}{
			"jobs":     count,
			"max_jobs": q.opts.MaxJobs,
		})
		return nil, fmt.Errorf("%w: %d jobs retained", ErrQueueCapacity, count)
	}

	seq, err := q.nextSequence()
	if err != nil {
		return nil, err
	}

	job := &model.ImportJob{
		JobID:      uuid.New().String(),
		Sequence:   seq,
		SessionID:  q.session,
		Filename:   filename,
		UploadedBy: uploader,
		Status:     model.ImportJobQueued,
		Content:    content,
		CreatedAt:  q.now(),
	}
	if err := q.jobRepo.Create(job); err != nil {
		return nil, err
	}
	q.seq = seq

	select {
	case q.pending <- job.JobID:
	default:
		_ = q.jobRepo.Delete(job.JobID)
		return nil, fmt.Errorf("%w: wait list is full", ErrQueueCapacity)
	}

	view := job.View()
	q.publish(JobEventQueued, view)

	logger.Info("Import job queued", map[string]interface{}{
		"job_id":   job.JobID,
		"filename": filename,
		"uploader": uploader,
		"bytes":    len(content),
	})
	return &view, nil
}

func (q *importQueue) nextSequence() (int64, error) {
	if !q.seqLoaded {
		maxSeq, err := q.jobRepo.MaxSequence()
		if err != nil {
			return 0, err
		}
		q.seq = maxSeq
		q.seqLoaded = true
	}
	return q.seq + 1, nil
}

func (q *importQueue) GetAllJobs() ([]model.ImportJobView, error) {
	jobs, err := q.jobRepo.FindAll()
	if err != nil {
		return nil, err
	}
	views := make([]model.ImportJobView, len(jobs))
	for i := range jobs {
		views[i] = jobs[i].View()
	}
	return views, nil
}

func (q *importQueue) GetJob(jobID string) (*model.ImportJobView, error) {
	job, err := q.jobRepo.FindByID(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	view := job.View()
	return &view, nil
}

func (q *importQueue) DeleteJob(jobID string, role model.UserRole) error {
	if !role.CanManageImports() {
		return ErrForbidden
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.jobRepo.FindByID(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	if q.processing == jobID || job.Status == model.ImportJobProcessing {
		return ErrJobProcessing
	}

	if err := q.jobRepo.Delete(jobID); err != nil {
		return err
	}
	q.stopTimer(jobID)
	q.publish(JobEventDeleted, job.View())

	logger.Info("Import job deleted", map[string]interface{}{
		"job_id": jobID,
		"status": job.Status,
	})
	return nil
}

func (q *importQueue) PruneExpired() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pruneExpired()
}

// pruneExpired drops terminal jobs older than the retention window.
func (q *importQueue) pruneExpired() (int, error) {
	jobs, err := q.jobRepo.FindAll()
	if err != nil {
		return 0, err
	}

	cutoff := q.now().Add(-q.opts.Retention)
	var expired []string
	for _, job := range jobs {
		if !job.Status.Terminal() {
			continue
		}
		finished := job.CreatedAt
		if job.CompletedAt != nil {
			finished = *job.CompletedAt
		}
		if finished.Before(cutoff) {
			expired = append(expired, job.JobID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := q.jobRepo.DeleteByIDs(expired); err != nil {
		return 0, err
	}
	for _, id := range expired {
		q.stopTimer(id)
	}

	logger.Info("Expired import jobs pruned", map[string]interface{}{
		"removed": len(expired),
	})
	return len(expired), nil
}

func (q *importQueue) Subscribe(fn func(JobEvent)) func() {
	q.subsMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.subsMu.Lock()
			delete(q.subs, id)
			q.subsMu.Unlock()
		})
	}
}

// publish must be called with q.mu held so events leave in state order.
func (q *importQueue) publish(t JobEventType, view model.ImportJobView) {
	ev := JobEvent{Type: t, Job: view, Timestamp: q.now()}
	select {
	case q.events <- ev:
	default:
		logger.Warn("Import event dropped, buffer full", map[string]interface{}{
			"job_id": view.JobID,
			"type":   t,
		})
	}
}

func (q *importQueue) deliver(ev JobEvent) {
	q.subsMu.RLock()
	fns := make([]func(JobEvent), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	q.subsMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Import event subscriber panicked", fmt.Errorf("%v", r), map[string]interface{}{
						"job_id": ev.Job.JobID,
					})
				}
			}()
			fn(ev)
		}()
	}
}

// Start launches the worker and the event dispatcher. Jobs left queued by a
// previous run are resumed in order; jobs caught mid-processing are failed.
func (q *importQueue) Start(ctx context.Context) {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.stopWorker != nil {
		return
	}

	q.resume()

	workerCtx, stopWorker := context.WithCancel(ctx)
	dispatchCtx, stopDispatcher := context.WithCancel(context.Background())
	q.stopWorker = stopWorker
	q.stopDispatcher = stopDispatcher
	q.workerDone = make(chan struct{})
	q.dispatchDone = make(chan struct{})

	go q.dispatch(dispatchCtx)
	go q.work(workerCtx)

	logger.Info("Import queue started", map[string]interface{}{
		"max_jobs":  q.opts.MaxJobs,
		"retention": q.opts.Retention.String(),
	})
}

// Stop waits for the running job to finish, then flushes pending events.
func (q *importQueue) Stop() {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.stopWorker == nil {
		return
	}

	q.stopWorker()
	<-q.workerDone
	q.stopDispatcher()
	<-q.dispatchDone
	q.stopWorker = nil
	q.stopDispatcher = nil

	q.mu.Lock()
	for id := range q.timers {
		q.stopTimer(id)
	}
	q.mu.Unlock()

	logger.Info("Import queue stopped")
}

func (q *importQueue) resume() {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.jobRepo.FindAll()
	if err != nil {
		logger.Error("Failed to load persisted import jobs", err)
		return
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Sequence < jobs[j].Sequence })

	// Rebuild the wait list from storage so it follows sequence order.
	q.drainPending()
	for i := range jobs {
		job := &jobs[i]
		switch job.Status {
		case model.ImportJobProcessing:
			now := q.now()
			job.Status = model.ImportJobFailed
			job.ErrorMessage = "processing interrupted by restart"
			job.CompletedAt = &now
			if err := q.jobRepo.UpdateState(job); err == nil {
				q.scheduleContentStrip(job.JobID)
			}
		case model.ImportJobQueued:
			select {
			case q.pending <- job.JobID:
			default:
			}
		}
	}
}

func (q *importQueue) drainPending() []string {
	var ids []string
	for {
		select {
		case id := <-q.pending:
			ids = append(ids, id)
		default:
			return ids
		}
	}
}

func (q *importQueue) dispatch(ctx context.Context) {
	defer close(q.dispatchDone)
	for {
		select {
		case ev := <-q.events:
			q.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-q.events:
					q.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (q *importQueue) work(ctx context.Context) {
	defer close(q.workerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-q.pending:
			q.process(jobID)
		}
	}
}

// process runs one job to completion. Only the worker goroutine calls it.
func (q *importQueue) process(jobID string) {
	q.pipelineMu.Lock()
	defer q.pipelineMu.Unlock()

	q.mu.Lock()
	job, err := q.jobRepo.FindByID(jobID)
	if err != nil || job.Status != model.ImportJobQueued {
		q.mu.Unlock()
		return
	}

	started := q.now()
	job.Status = model.ImportJobProcessing
	job.StartedAt = &started
	job.Progress = ProgressStarted
	q.processing = jobID
	if err := q.jobRepo.UpdateState(job); err != nil {
		logger.Error("Failed to mark import job processing", err, map[string]interface{}{
			"job_id": jobID,
		})
	}
	q.publish(JobEventStarted, job.View())
	q.mu.Unlock()

	logger.Info("Import job processing", map[string]interface{}{
		"job_id":   jobID,
		"filename": job.Filename,
	})

	valid, runErr := q.runPipeline(job)

	q.mu.Lock()
	completed := q.now()
	job.CompletedAt = &completed
	eventType := JobEventCompleted
	switch {
	case runErr != nil:
		job.Status = model.ImportJobFailed
		job.ErrorMessage = runErr.Error()
		eventType = JobEventFailed
	case !valid:
		job.Status = model.ImportJobFailed
		job.ErrorMessage = q.failureSummary(job)
		eventType = JobEventFailed
	default:
		job.Status = model.ImportJobCompleted
		job.Progress = ProgressDone
	}
	if err := q.jobRepo.UpdateState(job); err != nil {
		logger.Error("Failed to save import job result", err, map[string]interface{}{
			"job_id": jobID,
		})
	}
	q.processing = ""
	q.publish(eventType, job.View())
	q.scheduleContentStrip(jobID)
	q.mu.Unlock()

	if runErr != nil || !valid {
		logger.Warn("Import job failed", map[string]interface{}{
			"job_id":   jobID,
			"progress": job.Progress,
			"error":    job.ErrorMessage,
		})
		return
	}
	logger.Info("Import job completed", map[string]interface{}{
		"job_id":      jobID,
		"created":     len(job.Result.Created),
		"updated":     len(job.Result.Updated),
		"deactivated": len(job.Result.Deactivated),
	})
}

func (q *importQueue) failureSummary(job *model.ImportJob) string {
	if job.Result == nil || len(job.Result.Errors) == 0 {
		return "Validation failed"
	}
	summary := ProcessingResult{Validation: ValidationResult{Errors: job.Result.Errors}}
	return summary.ErrorSummary()
}

// runPipeline parses, validates and, when the file is clean, reconciles
// stores and policies. A panic anywhere in here fails the job only.
func (q *importQueue) runPipeline(job *model.ImportJob) (valid bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("import processing panicked: %v", r)
		}
	}()

	processed := q.processor.ProcessFile(job.Filename, job.Content, job.UploadedBy)
	result := &model.ImportJobResult{
		TotalRows:   processed.TotalRows,
		ValidRows:   len(processed.Rows),
		Errors:      processed.Validation.Errors,
		Warnings:    processed.Validation.Warnings,
		Created:     []string{},
		Updated:     []string{},
		Deactivated: []string{},
	}
	q.advance(job, ProgressProcessed, result)

	if !processed.Success || len(processed.Rows) == 0 {
		return processed.Success, nil
	}

	if err := q.checkPricing(processed.Rows); err != nil {
		return true, err
	}

	existing, err := q.lifecycle.StoreMap()
	if err != nil {
		return true, fmt.Errorf("load stores: %w", err)
	}
	bulk, err := q.lifecycle.ProcessBulkUpdate(existing, processed.Rows, job.UploadedBy)
	if bulk != nil {
		result.Created = bulk.CreatedCodes()
		result.Updated = bulk.UpdatedCodes()
		result.Deactivated = bulk.DeactivatedCodes()
	}
	if err != nil {
		return true, fmt.Errorf("reconcile stores: %w", err)
	}

	if err := q.applyPolicies(bulk, result, job.UploadedBy); err != nil {
		return true, err
	}

	q.advance(job, ProgressApplied, result)
	return true, nil
}

// checkPricing fails the job before any store is written when a policy the
// import would create or reprice has no active rate.
func (q *importQueue) checkPricing(rows []ImportedRow) error {
	coverages := map[model.CoverageType]bool{q.opts.DefaultCoverage: true}
	for _, row := range rows {
		if policy, ok := q.policies.GetActivePolicy(row.StoreCode); ok {
			coverages[policy.CoverageType] = true
		}
	}
	for coverage := range coverages {
		if err := q.policies.CanPrice(coverage); err != nil {
			return fmt.Errorf("price policies: %w", err)
		}
	}
	return nil
}

// applyPolicies keeps policies in line with the reconciled stores. Pricing is
// checked up front; a storage failure here still leaves earlier writes in place.
func (q *importQueue) applyPolicies(bulk *BulkUpdateResult, result *model.ImportJobResult, actor string) error {
	touched := make([]model.Store, 0, len(bulk.Created)+len(bulk.Updated))
	touched = append(touched, bulk.Created...)
	touched = append(touched, bulk.Updated...)

	for i := range touched {
		store := &touched[i]
		if policy, ok := q.policies.GetActivePolicy(store.StoreCode); ok {
			if _, err := q.policies.UpdatePolicyPricing(policy.PolicyID, store, actor); err != nil {
				return fmt.Errorf("reprice policy for store %s: %w", store.StoreCode, err)
			}
			result.PoliciesRepriced++
			continue
		}
		if store.Status != model.StoreStatusActive {
			continue
		}
		if _, err := q.policies.CreatePolicy(CreatePolicyInput{
			Store:          store,
			CoverageType:   q.opts.DefaultCoverage,
			DurationMonths: q.opts.DurationMonths,
			Actor:          actor,
		}); err != nil {
			return fmt.Errorf("create policy for store %s: %w", store.StoreCode, err)
		}
		result.PoliciesCreated++
	}

	for i := range bulk.Deactivated {
		code := bulk.Deactivated[i].StoreCode
		policy, ok := q.policies.GetActivePolicy(code)
		if !ok {
			continue
		}
		if _, err := q.policies.CancelPolicy(policy.PolicyID, ReasonAbsentFromImport, actor); err != nil {
			return fmt.Errorf("cancel policy for store %s: %w", code, err)
		}
		result.PoliciesCancelled++
	}
	return nil
}

func (q *importQueue) advance(job *model.ImportJob, progress int, result *model.ImportJobResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job.Progress = progress
	job.Result = result
	if err := q.jobRepo.UpdateState(job); err != nil {
		logger.Error("Failed to save import job progress", err, map[string]interface{}{
			"job_id":   job.JobID,
			"progress": progress,
		})
	}
	q.publish(JobEventProgress, job.View())
}

// scheduleContentStrip drops the raw file after the grace delay. Caller holds q.mu.
func (q *importQueue) scheduleContentStrip(jobID string) {
	strip := func() {
		if err := q.jobRepo.ClearContent(jobID); err != nil {
			logger.Error("Failed to strip import job content", err, map[string]interface{}{
				"job_id": jobID,
			})
		}
	}

	q.stopTimer(jobID)
	if q.opts.ContentGraceDelay < 0 {
		strip()
		return
	}
	q.timers[jobID] = time.AfterFunc(q.opts.ContentGraceDelay, func() {
		strip()
		q.mu.Lock()
		delete(q.timers, jobID)
		q.mu.Unlock()
	})
}

// stopTimer cancels a pending content strip. Caller holds q.mu.
func (q *importQueue) stopTimer(jobID string) {
	if t, ok := q.timers[jobID]; ok {
		t.Stop()
		delete(q.timers, jobID)
	}
}

// InitSession adopts sessionID, dropping every job when it differs from the
// current one. A job already being processed finishes first.
func (q *importQueue) InitSession(sessionID string) error {
	q.pipelineMu.Lock()
	defer q.pipelineMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.session == sessionID {
		return nil
	}
	if err := q.clear(); err != nil {
		return err
	}
	q.session = sessionID
	return nil
}

func (q *importQueue) ClearSessionData() error {
	q.pipelineMu.Lock()
	defer q.pipelineMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clear()
}

// clear forgets waiting and finished jobs. Callers hold pipelineMu, so no
// job is mid-pipeline.
func (q *importQueue) clear() error {
	dropped := q.drainPending()
	for id := range q.timers {
		q.stopTimer(id)
	}
	if err := q.jobRepo.DeleteAll(); err != nil {
		logger.Error("Failed to clear import jobs", err)
		return err
	}
	q.seq = 0
	q.seqLoaded = true

	logger.Info("Import session data cleared", map[string]interface{}{
		"session_id":     q.session,
		"dropped_queued": len(dropped),
	})
	return nil
}
