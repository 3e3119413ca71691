package models

import (
	"errors"
	"time"
)

// JobType selects which protection operations run.
type JobType string

const (
	JobTypeNoise     JobType = "noise"
	JobTypeWatermark JobType = "watermark"
	JobTypeBoth      JobType = "both"
)

// ParseJobType validates a client-supplied job type.
func ParseJobType(s string) (JobType, error) {
	switch jt := JobType(s); jt {
	case JobTypeNoise, JobTypeWatermark, JobTypeBoth:
		return jt, nil
	}
	return "", Invalid("job_type", "must be one of noise, watermark, both")
}

// Operations lists the AI service operations implied by the job type, noise first.
func (t JobType) Operations() []Operation {
	switch t {
	case JobTypeNoise:
		return []Operation{OperationNoise}
	case JobTypeWatermark:
		return []Operation{OperationWatermark}
	case JobTypeBoth:
		return []Operation{OperationNoise, OperationWatermark}
	}
	return nil
}

// Operation is the "request version" understood by the AI service.
type Operation string

const (
	OperationNoise     Operation = "Noise"
	OperationWatermark Operation = "Watermark"
)

// MediaType records which upload endpoint created the job.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StorageType tells where an uploaded file lives.
type StorageType string

const (
	StorageLocal StorageType = "local"
	StorageS3    StorageType = "s3"
)

// OriginalFile is the snapshot of an uploaded file taken at job creation.
type OriginalFile struct {
	FileID      string      `json:"file_id"`
	FileName    string      `json:"file_name"`
	FileSize    int64       `json:"file_size"`
	FilePath    string      `json:"file_path"`
	MimeType    string      `json:"mime_type"`
	StorageType StorageType `json:"storage_type"`
}

// ProtectedFile is one processed result. ResultURL is nil for degraded placeholders.
type ProtectedFile struct {
	RequestVersion string  `json:"request_version"`
	ResultURL      *string `json:"result_url"`
	FileName       string  `json:"file_name"`
}

var (
	// ErrJobFinalized is returned when a terminal job is asked to transition again.
	ErrJobFinalized = errors.New("job already finalized")
	// ErrNoResults guards the completed => at least one protected file invariant.
	ErrNoResults = errors.New("completed job needs at least one protected file")
)

// ProtectionJob is one user-submitted protection request and its lifecycle record.
type ProtectionJob struct {
	ID                 string          `json:"job_id"`
	OwnerID            string          `json:"-"`
	JobType            JobType         `json:"job_type"`
	MediaType          MediaType       `json:"media_type"`
	OriginalFiles      []OriginalFile  `json:"original_files"`
	ProtectedFiles     []ProtectedFile `json:"protected_files"`
	Status             JobStatus       `json:"status"`
	ProgressPercentage float64         `json:"progress_percentage"`
	ErrorMessage       *string         `json:"error_message"`
	ProcessingTimeMs   int64           `json:"processing_time_ms"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// NewProtectionJob returns a pending job at 0% progress.
func NewProtectionJob(id, ownerID string, jobType JobType, media MediaType, files []OriginalFile) *ProtectionJob {
	now := time.Now().UTC()
	return &ProtectionJob{
		ID:             id,
		OwnerID:        ownerID,
		JobType:        jobType,
		MediaType:      media,
		OriginalFiles:  files,
		ProtectedFiles: []ProtectedFile{},
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Complete moves a pending job to completed with its results.
func (j *ProtectionJob) Complete(files []ProtectedFile, elapsed time.Duration) error {
	if j.Status.Terminal() {
		return ErrJobFinalized
	}
	if len(files) == 0 {
		return ErrNoResults
	}
	j.ProtectedFiles = files
	j.Status = StatusCompleted
	j.ProgressPercentage = 100
	j.ErrorMessage = nil
	j.ProcessingTimeMs = elapsed.Milliseconds()
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail moves a pending job to failed. Progress keeps its last value.
func (j *ProtectionJob) Fail(message string, elapsed time.Duration) error {
	if j.Status.Terminal() {
		return ErrJobFinalized
	}
	j.Status = StatusFailed
	j.ErrorMessage = &message
	j.ProcessingTimeMs = elapsed.Milliseconds()
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Summary projects the job onto the list view.
func (j *ProtectionJob) Summary() JobSummary {
	return JobSummary{
		ID:                 j.ID,
		JobType:            j.JobType,
		MediaType:          j.MediaType,
		Status:             j.Status,
		ProgressPercentage: j.ProgressPercentage,
		FileCount:          len(j.OriginalFiles),
		ProtectedCount:     len(j.ProtectedFiles),
		CreatedAt:          j.CreatedAt,
	}
}

// JobSummary is the list projection of a job.
type JobSummary struct {
	ID                 string    `json:"job_id"`
	JobType            JobType   `json:"job_type"`
	MediaType          MediaType `json:"media_type"`
	Status             JobStatus `json:"status"`
	ProgressPercentage float64   `json:"progress_percentage"`
	FileCount          int       `json:"file_count"`
	ProtectedCount     int       `json:"protected_count"`
	CreatedAt          time.Time `json:"created_at"`
}

// SystemLog is an operational event row.
type SystemLog struct {
	Level     string    `json:"log_level"`
	Category  string    `json:"log_category"`
	Message   string    `json:"message"`
	ErrorCode string    `json:"error_code"`
	CreatedAt time.Time `json:"created_at"`
}
