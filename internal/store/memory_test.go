package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"content-protection/internal/models"
)

func collect(t *testing.T, m *MemoryStore, owner string) []models.JobSummary {
	t.Helper()
	var out []models.JobSummary
	for sum, err := range m.ListJobs(context.Background(), owner) {
		if err != nil {
			t.Fatalf("list jobs: %v", err)
		}
		out = append(out, sum)
	}
	return out
}

func TestMemoryStoreIsolatesOwners(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	// overlapping job types across two owners
	for i, owner := range []string{"alice", "bob", "alice", "bob"} {
		jt := []models.JobType{models.JobTypeBoth, models.JobTypeBoth, models.JobTypeNoise, models.JobTypeNoise}[i]
		job := models.NewProtectionJob(owner+"-"+string(rune('a'+i)), owner, jt, models.MediaImage,
			[]models.OriginalFile{{FileID: "f", FileName: "x.png"}})
		if err := m.CreateJob(ctx, job); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	for _, owner := range []string{"alice", "bob"} {
		jobs := collect(t, m, owner)
		if len(jobs) != 2 {
			t.Fatalf("%s: expected 2 jobs, got %d", owner, len(jobs))
		}
		for _, j := range jobs {
			got, err := m.GetJob(ctx, j.ID, owner)
			if err != nil {
				t.Fatalf("%s: get own job: %v", owner, err)
			}
			if got.OwnerID != owner {
				t.Fatalf("%s: listed job owned by %s", owner, got.OwnerID)
			}
		}
	}

	if _, err := m.GetJob(ctx, "alice-a", "bob"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign job must look missing, got %v", err)
	}
	if _, err := m.GetJob(ctx, "nope", "bob"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing job: %v", err)
	}
}

func TestMemoryStoreListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		job := models.NewProtectionJob(id, "u", models.JobTypeNoise, models.MediaVideo, nil)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := m.CreateJob(ctx, job); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	jobs := collect(t, m, "u")
	if len(jobs) != 3 || jobs[0].ID != "new" || jobs[2].ID != "old" {
		t.Fatalf("unexpected order: %+v", jobs)
	}

	// stop early
	n := 0
	for _, err := range m.ListJobs(ctx, "u") {
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		n++
		break
	}
	if n != 1 {
		t.Fatalf("iterator ignored early break")
	}
}

func TestMemoryStoreSaveOverwritesMutableFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	job := models.NewProtectionJob("j1", "u", models.JobTypeWatermark, models.MediaImage,
		[]models.OriginalFile{{FileID: "f1", FileName: "a.png"}})
	if err := m.CreateJob(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	url := "https://bucket.s3.amazonaws.com/out.png"
	if err := job.Complete([]models.ProtectedFile{{RequestVersion: "Watermark", ResultURL: &url, FileName: "a.png"}}, time.Second); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job.OriginalFiles = nil // immutable after creation; save must ignore it
	if err := m.SaveJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.SaveJob(ctx, job); err != nil {
		t.Fatalf("second save must be idempotent: %v", err)
	}

	got, err := m.GetJob(ctx, "j1", "u")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusCompleted || len(got.ProtectedFiles) != 1 || got.ProgressPercentage != 100 {
		t.Fatalf("unexpected saved job: %+v", got)
	}
	if len(got.OriginalFiles) != 1 {
		t.Fatalf("original files must survive save, got %+v", got.OriginalFiles)
	}

	// mutate the returned copy; the store must not change
	got.ProtectedFiles[0].FileName = "changed"
	again, _ := m.GetJob(ctx, "j1", "u")
	if again.ProtectedFiles[0].FileName != "a.png" {
		t.Fatalf("store shares memory with callers")
	}

	foreign := *job
	foreign.OwnerID = "intruder"
	if err := m.SaveJob(ctx, &foreign); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("save by other owner: %v", err)
	}
}

func TestMemoryStoreAnalysisStatistics(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	results := []models.AnalysisResult{
		models.ResultSafe, models.ResultSafe, models.ResultSuspicious,
		models.ResultDeepfake, models.ResultError, models.ResultDeepfake, models.ResultSafe,
	}
	for i, r := range results {
		m.PutAnalysis(models.AnalysisRecord{
			ID: string(rune('a' + i)), OwnerID: "u", AnalysisResult: r,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	m.PutAnalysis(models.AnalysisRecord{ID: "z", OwnerID: "other", AnalysisResult: models.ResultDeepfake})

	stats, err := m.AnalysisStatistics(ctx, "u")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 7 || stats.Safe != 3 || stats.Suspicious != 1 || stats.Deepfake != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.Recent) != models.RecentAnalysesLimit || stats.Recent[0].ID != "g" {
		t.Fatalf("unexpected recent: %+v", stats.Recent)
	}
	if _, err := m.GetAnalysis(ctx, "z", "u"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign record must look missing, got %v", err)
	}
}
