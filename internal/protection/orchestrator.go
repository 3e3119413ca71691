package protection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"content-protection/internal/aiclient"
	"content-protection/internal/models"
	"content-protection/internal/storage"
	"content-protection/internal/telemetry"
)

// FailureMessage is stored on jobs where no operation produced a result.
const FailureMessage = "an error occurred during protection processing"

// UnknownFileName names results that have no matching original file.
const UnknownFileName = "unknown"

// ErrProtectionFailed is returned with the failed job when every operation failed.
var ErrProtectionFailed = errors.New("protection failed")

// Storage materializes uploads and hands out fetch URLs for them.
type Storage interface {
	Materialize(ctx context.Context, ownerID string, media models.MediaType, up storage.Upload) (models.OriginalFile, error)
	AccessURL(ctx context.Context, file models.OriginalFile) (string, error)
	Remove(ctx context.Context, file models.OriginalFile) error
}

// Processor is the external protection service.
type Processor interface {
	Healthy(ctx context.Context) bool
	Protect(ctx context.Context, inputURL string, ops []models.Operation, text string) aiclient.Batch
}

// URLRewriter turns result URLs into time-limited ones.
type URLRewriter interface {
	Rewrite(ctx context.Context, raw string) string
}

// JobStore persists jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ProtectionJob) error
	SaveJob(ctx context.Context, job *models.ProtectionJob) error
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Storage   Storage
	Processor Processor
	Rewriter  URLRewriter
	Store     JobStore
}

// Options tunes an Orchestrator.
type Options struct {
	// PerFile runs every operation for every uploaded file instead of only the first.
	PerFile bool
	Logger  zerolog.Logger
}

// Orchestrator drives a protection job from upload to terminal state.
type Orchestrator struct {
	storage   Storage
	processor Processor
	rewriter  URLRewriter
	store     JobStore
	perFile   bool
	log       zerolog.Logger
	now       func() time.Time
}

// New validates deps.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	if deps.Storage == nil || deps.Processor == nil || deps.Rewriter == nil || deps.Store == nil {
		return nil, errors.New("protection: storage, processor, rewriter and store are required")
	}
	return &Orchestrator{
		storage:   deps.Storage,
		processor: deps.Processor,
		rewriter:  deps.Rewriter,
		store:     deps.Store,
		perFile:   opts.PerFile,
		log:       opts.Logger.With().Str("component", "protection").Logger(),
		now:       time.Now,
	}, nil
}

// SubmitRequest is a validated submission.
type SubmitRequest struct {
	OwnerID       string
	Media         models.MediaType
	JobType       models.JobType
	WatermarkText string
	Files         []storage.Upload
}

// Result is one operation result and the index of the file it belongs to.
type Result struct {
	aiclient.OperationResult
	FileIndex int
}

// Outcome is what a processing pass produced: Success, Unavailable or TotalFailure.
type Outcome interface {
	outcome()
}

// Success carries at least one result.
type Success struct {
	Results []Result
}

// Unavailable means the service failed its health probe and nothing was called.
type Unavailable struct{}

// TotalFailure means the service was reachable but no operation produced a result.
type TotalFailure struct {
	Message string
}

func (Success) outcome()      {}
func (Unavailable) outcome()  {}
func (TotalFailure) outcome() {}

type target struct {
	index int
	url   string
}

// Submit materializes the uploads, creates the job, runs the operations and records the
// terminal state. When every operation fails the failed job is returned together with
// ErrProtectionFailed. Materialization errors leave no job behind.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.ProtectionJob, error) {
	ops := req.JobType.Operations()
	if len(ops) == 0 {
		return nil, models.Invalid("job_type", "must be one of noise, watermark, both")
	}
	if len(req.Files) == 0 {
		return nil, models.Invalid("files", "at least one file is required")
	}

	files, err := o.materialize(ctx, req)
	if err != nil {
		return nil, err
	}

	job := models.NewProtectionJob(uuid.NewString(), req.OwnerID, req.JobType, req.Media, files)
	if err := o.store.CreateJob(ctx, job); err != nil {
		o.cleanup(ctx, files)
		return nil, fmt.Errorf("create job: %w", err)
	}
	telemetry.JobsSubmitted.WithLabelValues(string(req.Media)).Inc()
	log := o.log.With().Str("job_id", job.ID).Str("job_type", string(job.JobType)).Logger()

	start := o.now()
	// terminal writes must land even if the caller went away mid-processing
	saveCtx := context.WithoutCancel(ctx)

	targets, err := o.targets(ctx, files)
	if err != nil {
		log.Error().Err(err).Msg("prepare input url failed")
		if ferr := o.fail(saveCtx, job, FailureMessage, o.now().Sub(start)); ferr != nil {
			return nil, ferr
		}
		return job, fmt.Errorf("%w: %v", ErrProtectionFailed, err)
	}

	var results []Result
	switch out := o.run(ctx, targets, ops, req.WatermarkText).(type) {
	case Success:
		results = out.Results
	case Unavailable:
		log.Warn().Msg("protection service unavailable, completing with placeholder results")
		telemetry.JobsDegraded.Inc()
		results = placeholders(targets, ops)
	case TotalFailure:
		log.Error().Msg("every protection operation failed")
		if ferr := o.fail(saveCtx, job, out.Message, o.now().Sub(start)); ferr != nil {
			return nil, ferr
		}
		return job, ErrProtectionFailed
	}

	protected := o.protectedFiles(ctx, files, results)
	elapsed := o.now().Sub(start)
	if err := job.Complete(protected, elapsed); err != nil {
		return nil, err
	}
	if err := o.store.SaveJob(saveCtx, job); err != nil {
		log.Error().Err(err).Str("status", string(job.Status)).Msg("persist terminal job state failed, row left pending")
		return nil, fmt.Errorf("save job %s: %w", job.ID, err)
	}
	telemetry.JobsCompleted.WithLabelValues(string(job.MediaType)).Inc()
	telemetry.ProcessingTime.Observe(elapsed.Seconds())
	log.Info().Int("results", len(protected)).Int64("processing_time_ms", job.ProcessingTimeMs).Msg("protection job completed")
	return job, nil
}

func (o *Orchestrator) materialize(ctx context.Context, req SubmitRequest) ([]models.OriginalFile, error) {
	files := make([]models.OriginalFile, 0, len(req.Files))
	for _, up := range req.Files {
		f, err := o.storage.Materialize(ctx, req.OwnerID, req.Media, up)
		if err != nil {
			o.cleanup(ctx, files)
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (o *Orchestrator) cleanup(ctx context.Context, files []models.OriginalFile) {
	for _, f := range files {
		if err := o.storage.Remove(context.WithoutCancel(ctx), f); err != nil {
			o.log.Warn().Err(err).Str("file_id", f.FileID).Msg("remove materialized file failed")
		}
	}
}

// targets lists the inputs sent to the service: the first file, or all of them.
func (o *Orchestrator) targets(ctx context.Context, files []models.OriginalFile) ([]target, error) {
	n := 1
	if o.perFile {
		n = len(files)
	}
	out := make([]target, 0, n)
	for i := 0; i < n; i++ {
		u, err := o.storage.AccessURL(ctx, files[i])
		if err != nil {
			return nil, fmt.Errorf("access url for %s: %w", files[i].FileName, err)
		}
		out = append(out, target{index: i, url: u})
	}
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, targets []target, ops []models.Operation, text string) Outcome {
	if !o.processor.Healthy(ctx) {
		return Unavailable{}
	}
	var results []Result
	for _, t := range targets {
		batch := o.processor.Protect(ctx, t.url, ops, text)
		if batch.Status != aiclient.BatchOK {
			continue
		}
		for _, r := range batch.Operations {
			results = append(results, Result{OperationResult: r, FileIndex: t.index})
		}
	}
	if len(results) == 0 {
		return TotalFailure{Message: FailureMessage}
	}
	return Success{Results: results}
}

func placeholders(targets []target, ops []models.Operation) []Result {
	var out []Result
	for _, t := range targets {
		for _, r := range aiclient.Placeholder(ops).Operations {
			out = append(out, Result{OperationResult: r, FileIndex: t.index})
		}
	}
	return out
}

func (o *Orchestrator) protectedFiles(ctx context.Context, files []models.OriginalFile, results []Result) []models.ProtectedFile {
	out := make([]models.ProtectedFile, 0, len(results))
	for i, r := range results {
		pf := models.ProtectedFile{RequestVersion: r.Version, FileName: o.fileName(files, i, r)}
		if r.URL != nil {
			fresh := o.rewriter.Rewrite(ctx, *r.URL)
			pf.ResultURL = &fresh
		}
		out = append(out, pf)
	}
	return out
}

// fileName pairs results with files by position unless each result knows its file.
func (o *Orchestrator) fileName(files []models.OriginalFile, pos int, r Result) string {
	idx := pos
	if o.perFile {
		idx = r.FileIndex
	}
	if idx < 0 || idx >= len(files) {
		return UnknownFileName
	}
	return files[idx].FileName
}

func (o *Orchestrator) fail(ctx context.Context, job *models.ProtectionJob, msg string, elapsed time.Duration) error {
	if err := job.Fail(msg, elapsed); err != nil {
		return err
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		o.log.Error().Err(err).Str("job_id", job.ID).Str("status", string(job.Status)).Msg("persist terminal job state failed, row left pending")
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	telemetry.JobsFailed.WithLabelValues(string(job.MediaType)).Inc()
	telemetry.ProcessingTime.Observe(elapsed.Seconds())
	return nil
}
