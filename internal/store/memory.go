package store

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"content-protection/internal/models"
)

// MemoryStore is an in-process store with the same owner scoping as Store.
// It backs STORE_DRIVER=memory and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	jobs     map[string]memoryJob
	analyses map[string]models.AnalysisRecord
	events   []models.SystemLog
}

type memoryJob struct {
	seq int64
	raw []byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]memoryJob),
		analyses: make(map[string]models.AnalysisRecord),
	}
}

// Jobs are kept serialized so callers never share slices with the store.
type storedJob struct {
	models.ProtectionJob
	OwnerID string `json:"owner_id"`
}

func encodeJob(job *models.ProtectionJob) ([]byte, error) {
	return json.Marshal(storedJob{ProtectionJob: *job, OwnerID: job.OwnerID})
}

func decodeJob(raw []byte) (*models.ProtectionJob, error) {
	var sj storedJob
	if err := json.Unmarshal(raw, &sj); err != nil {
		return nil, err
	}
	job := sj.ProtectionJob
	job.OwnerID = sj.OwnerID
	return &job, nil
}

// CreateJob stores a new job. Duplicate ids are rejected.
func (m *MemoryStore) CreateJob(_ context.Context, job *models.ProtectionJob) error {
	raw, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("insert job: duplicate id %s", job.ID)
	}
	m.seq++
	m.jobs[job.ID] = memoryJob{seq: m.seq, raw: raw}
	return nil
}

// SaveJob overwrites the mutable fields of an existing job owned by job.OwnerID.
func (m *MemoryStore) SaveJob(_ context.Context, job *models.ProtectionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[job.ID]
	if !ok {
		return fmt.Errorf("update job %s: %w", job.ID, models.ErrNotFound)
	}
	existing, err := decodeJob(cur.raw)
	if err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	if existing.OwnerID != job.OwnerID {
		return fmt.Errorf("update job %s: %w", job.ID, models.ErrNotFound)
	}
	existing.Status = job.Status
	existing.ProgressPercentage = job.ProgressPercentage
	existing.ProtectedFiles = job.ProtectedFiles
	existing.ErrorMessage = job.ErrorMessage
	existing.ProcessingTimeMs = job.ProcessingTimeMs
	existing.UpdatedAt = job.UpdatedAt
	raw, err := encodeJob(existing)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	m.jobs[job.ID] = memoryJob{seq: cur.seq, raw: raw}
	return nil
}

// GetJob returns a copy of the job. Missing and foreign jobs both yield models.ErrNotFound.
func (m *MemoryStore) GetJob(_ context.Context, id, ownerID string) (*models.ProtectionJob, error) {
	m.mu.RLock()
	cur, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	job, err := decodeJob(cur.raw)
	if err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, models.ErrNotFound
	}
	return job, nil
}

// ListJobs snapshots the owner's jobs at call time and yields them newest first.
func (m *MemoryStore) ListJobs(_ context.Context, ownerID string) iter.Seq2[models.JobSummary, error] {
	return func(yield func(models.JobSummary, error) bool) {
		type entry struct {
			seq int64
			job *models.ProtectionJob
		}
		m.mu.RLock()
		entries := make([]entry, 0, len(m.jobs))
		var decodeErr error
		for _, cur := range m.jobs {
			job, err := decodeJob(cur.raw)
			if err != nil {
				decodeErr = err
				break
			}
			if job.OwnerID == ownerID {
				entries = append(entries, entry{seq: cur.seq, job: job})
			}
		}
		m.mu.RUnlock()
		if decodeErr != nil {
			yield(models.JobSummary{}, fmt.Errorf("decode job: %w", decodeErr))
			return
		}

		sort.Slice(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
				return a.job.CreatedAt.After(b.job.CreatedAt)
			}
			return a.seq > b.seq
		})
		for _, e := range entries {
			if !yield(e.job.Summary(), nil) {
				return
			}
		}
	}
}

// RecordEvent appends a system log entry.
func (m *MemoryStore) RecordEvent(_ context.Context, ev models.SystemLog) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded system logs.
func (m *MemoryStore) Events() []models.SystemLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.SystemLog(nil), m.events...)
}

// PutAnalysis stores a detection record. Detection itself runs elsewhere; this is the write side
// for seeding and tests.
func (m *MemoryStore) PutAnalysis(rec models.AnalysisRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.analyses[rec.ID] = rec
	m.mu.Unlock()
}

// ListAnalyses returns the owner's detection records, newest first.
func (m *MemoryStore) ListAnalyses(_ context.Context, ownerID string) ([]models.AnalysisRecord, error) {
	return m.ownedAnalyses(ownerID), nil
}

// GetAnalysis fetches one record owned by ownerID.
func (m *MemoryStore) GetAnalysis(_ context.Context, id, ownerID string) (models.AnalysisRecord, error) {
	m.mu.RLock()
	rec, ok := m.analyses[id]
	m.mu.RUnlock()
	if !ok || rec.OwnerID != ownerID {
		return models.AnalysisRecord{}, models.ErrNotFound
	}
	return rec, nil
}

// AnalysisStatistics counts verdicts for the owner and attaches the latest records.
func (m *MemoryStore) AnalysisStatistics(_ context.Context, ownerID string) (models.AnalysisStatistics, error) {
	recs := m.ownedAnalyses(ownerID)
	stats := models.AnalysisStatistics{Total: len(recs)}
	for _, r := range recs {
		switch r.AnalysisResult {
		case models.ResultSafe:
			stats.Safe++
		case models.ResultSuspicious:
			stats.Suspicious++
		case models.ResultDeepfake:
			stats.Deepfake++
		}
	}
	if len(recs) > models.RecentAnalysesLimit {
		recs = recs[:models.RecentAnalysesLimit]
	}
	stats.Recent = recs
	return stats, nil
}

func (m *MemoryStore) ownedAnalyses(ownerID string) []models.AnalysisRecord {
	m.mu.RLock()
	out := []models.AnalysisRecord{}
	for _, r := range m.analyses {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
