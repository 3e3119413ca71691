package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-protection/internal/models"
)

// Store wraps pgxpool for Postgres persistence. Every read is scoped by owner.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJob inserts a freshly created job row.
func (s *Store) CreateJob(ctx context.Context, job *models.ProtectionJob) error {
	original, err := json.Marshal(job.OriginalFiles)
	if err != nil {
		return fmt.Errorf("marshal original files: %w", err)
	}
	protected, err := marshalProtected(job.ProtectedFiles)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO protection_jobs (id, owner_id, job_type, media_type, original_files, protected_files, status,
			progress_percentage, error_message, processing_time_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, job.ID, job.OwnerID, string(job.JobType), string(job.MediaType), original, protected, string(job.Status),
		job.ProgressPercentage, job.ErrorMessage, job.ProcessingTimeMs, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// SaveJob overwrites the mutable fields of a job. original_files and owner never change.
func (s *Store) SaveJob(ctx context.Context, job *models.ProtectionJob) error {
	protected, err := marshalProtected(job.ProtectedFiles)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE protection_jobs
		SET status = $3, progress_percentage = $4, protected_files = $5, error_message = $6,
			processing_time_ms = $7, updated_at = $8
		WHERE id = $1 AND owner_id = $2
	`, job.ID, job.OwnerID, string(job.Status), job.ProgressPercentage, protected, job.ErrorMessage,
		job.ProcessingTimeMs, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, models.ErrNotFound)
	}
	return nil
}

// GetJob fetches a job owned by ownerID. Missing and foreign jobs both yield models.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id, ownerID string) (*models.ProtectionJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, job_type, media_type, original_files, protected_files, status, progress_percentage,
			error_message, processing_time_ms, created_at, updated_at
		FROM protection_jobs WHERE id = $1 AND owner_id = $2
	`, id, ownerID)

	var (
		job                     models.ProtectionJob
		jobType, media, status  string
		originalRaw, protectRaw []byte
		errMsg                  pgtype.Text
	)
	if err := row.Scan(&job.ID, &job.OwnerID, &jobType, &media, &originalRaw, &protectRaw, &status,
		&job.ProgressPercentage, &errMsg, &job.ProcessingTimeMs, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.JobType = models.JobType(jobType)
	job.MediaType = models.MediaType(media)
	job.Status = models.JobStatus(status)
	job.ErrorMessage = textPtr(errMsg)
	if err := json.Unmarshal(originalRaw, &job.OriginalFiles); err != nil {
		return nil, fmt.Errorf("unmarshal original files: %w", err)
	}
	if err := json.Unmarshal(protectRaw, &job.ProtectedFiles); err != nil {
		return nil, fmt.Errorf("unmarshal protected files: %w", err)
	}
	return &job, nil
}

// ListJobs streams the owner's job summaries, newest first. Rows are read as the caller iterates.
func (s *Store) ListJobs(ctx context.Context, ownerID string) iter.Seq2[models.JobSummary, error] {
	return func(yield func(models.JobSummary, error) bool) {
		rows, err := s.pool.Query(ctx, `
			SELECT id, job_type, media_type, status, progress_percentage,
				jsonb_array_length(original_files), jsonb_array_length(protected_files), created_at
			FROM protection_jobs WHERE owner_id = $1
			ORDER BY created_at DESC, id
		`, ownerID)
		if err != nil {
			yield(models.JobSummary{}, fmt.Errorf("query jobs: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				sum                    models.JobSummary
				jobType, media, status string
			)
			if err := rows.Scan(&sum.ID, &jobType, &media, &status, &sum.ProgressPercentage,
				&sum.FileCount, &sum.ProtectedCount, &sum.CreatedAt); err != nil {
				yield(models.JobSummary{}, fmt.Errorf("scan job summary: %w", err))
				return
			}
			sum.JobType = models.JobType(jobType)
			sum.MediaType = models.MediaType(media)
			sum.Status = models.JobStatus(status)
			if !yield(sum, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.JobSummary{}, fmt.Errorf("iterate jobs: %w", err))
		}
	}
}

// RecordEvent appends a system log row.
func (s *Store) RecordEvent(ctx context.Context, ev models.SystemLog) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_logs (log_level, category, message, error_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.Level, ev.Category, ev.Message, ev.ErrorCode, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert system log: %w", err)
	}
	return nil
}

const analysisColumns = `record_id, owner_id, analysis_type, file_name, file_size, file_format, original_path,
	heatmap_path, analysis_result, confidence_score, processing_time, ai_model_version, created_at`

// ListAnalyses returns the owner's detection records, newest first.
func (s *Store) ListAnalyses(ctx context.Context, ownerID string) ([]models.AnalysisRecord, error) {
	return s.listAnalyses(ctx, ownerID, 0)
}

func (s *Store) listAnalyses(ctx context.Context, ownerID string, limit int) ([]models.AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analysis_records WHERE owner_id = $1 ORDER BY created_at DESC, record_id`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	out := []models.AnalysisRecord{}
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return out, nil
}

// GetAnalysis fetches one record owned by ownerID.
func (s *Store) GetAnalysis(ctx context.Context, id, ownerID string) (models.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+analysisColumns+` FROM analysis_records WHERE record_id = $1 AND owner_id = $2`, id, ownerID)
	rec, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisRecord{}, models.ErrNotFound
	}
	return rec, err
}

// AnalysisStatistics counts verdicts for the owner and attaches the latest records.
func (s *Store) AnalysisStatistics(ctx context.Context, ownerID string) (models.AnalysisStatistics, error) {
	var stats models.AnalysisStatistics
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE analysis_result = $2),
			COUNT(*) FILTER (WHERE analysis_result = $3),
			COUNT(*) FILTER (WHERE analysis_result = $4)
		FROM analysis_records WHERE owner_id = $1
	`, ownerID, string(models.ResultSafe), string(models.ResultSuspicious), string(models.ResultDeepfake)).
		Scan(&stats.Total, &stats.Safe, &stats.Suspicious, &stats.Deepfake)
	if err != nil {
		return stats, fmt.Errorf("count analyses: %w", err)
	}
	stats.Recent, err = s.listAnalyses(ctx, ownerID, models.RecentAnalysesLimit)
	return stats, err
}

func scanAnalysis(row pgx.Row) (models.AnalysisRecord, error) {
	var (
		rec     models.AnalysisRecord
		heatmap pgtype.Text
		result  string
	)
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.AnalysisType, &rec.FileName, &rec.FileSize, &rec.FileFormat,
		&rec.OriginalPath, &heatmap, &result, &rec.ConfidenceScore, &rec.ProcessingTime, &rec.AIModelVersion,
		&rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan analysis: %w", err)
	}
	rec.HeatmapPath = textPtr(heatmap)
	rec.AnalysisResult = models.AnalysisResult(result)
	return rec, nil
}

func marshalProtected(files []models.ProtectedFile) ([]byte, error) {
	if files == nil {
		files = []models.ProtectedFile{}
	}
	raw, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("marshal protected files: %w", err)
	}
	return raw, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
