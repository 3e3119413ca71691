package aiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"content-protection/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.SystemLog
}

func (r *recorder) RecordEvent(_ context.Context, ev models.SystemLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func newService(t *testing.T, handler http.HandlerFunc) (*Client, *recorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rec := &recorder{}
	c, err := New(Options{BaseURL: srv.URL + "/", Events: rec, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, rec
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Options{}); err != ErrMissingBaseURL {
		t.Fatalf("expected ErrMissingBaseURL, got %v", err)
	}
}

func TestHealthy(t *testing.T) {
	status := http.StatusOK
	c, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
	})
	if !c.Healthy(context.Background()) {
		t.Fatalf("expected healthy")
	}
	status = http.StatusNoContent
	if !c.Healthy(context.Background()) {
		t.Fatalf("expected healthy on 204")
	}
	status = http.StatusMovedPermanently
	if c.Healthy(context.Background()) {
		t.Fatalf("expected unhealthy on 301")
	}
	status = http.StatusServiceUnavailable
	if c.Healthy(context.Background()) {
		t.Fatalf("expected unhealthy on 503")
	}

	down, err := New(Options{BaseURL: "http://127.0.0.1:1", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if down.Healthy(context.Background()) {
		t.Fatalf("unreachable service must be unhealthy")
	}
}

func TestProcessSendsServicePayload(t *testing.T) {
	c, rec := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/add_watermark" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["request version"] != "Watermark" || body["InputUrl"] != "https://in/a.png" || body["WaterMark Text"] != "IMREAL" {
			t.Errorf("unexpected payload %v", body)
		}
		_, _ = w.Write([]byte(`{"request_version":"Watermark","ResultUrl":"https://bucket.s3.amazonaws.com/out/a.png"}`))
	})

	res := c.Process(context.Background(), Request{Operation: models.OperationWatermark, InputURL: "https://in/a.png", WatermarkText: "IMREAL"})
	if res == nil || res.Version != "Watermark" || res.URL == nil || *res.URL != "https://bucket.s3.amazonaws.com/out/a.png" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.events) != 0 {
		t.Fatalf("no events expected on success")
	}
}

func TestProcessFallsBackToRequestedVersion(t *testing.T) {
	c, _ := newService(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	res := c.Process(context.Background(), Request{Operation: models.OperationNoise, InputURL: "u"})
	if res == nil || res.Version != "Noise" || res.URL != nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProcessFailureRecordsEvent(t *testing.T) {
	c, rec := newService(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if res := c.Process(context.Background(), Request{Operation: models.OperationNoise, InputURL: "u"}); res != nil {
		t.Fatalf("expected nil on failure, got %+v", res)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one event, got %d", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Level != "error" || ev.Category != "protection" || ev.ErrorCode != ErrorCode {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestProcessRejectsMalformedBody(t *testing.T) {
	c, rec := newService(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	if res := c.Process(context.Background(), Request{Operation: models.OperationNoise, InputURL: "u"}); res != nil {
		t.Fatalf("expected nil, got %+v", res)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one event, got %d", len(rec.events))
	}
}

func TestProtectKeepsPartialResults(t *testing.T) {
	c, rec := newService(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["request version"] == "Noise" {
			http.Error(w, "noise down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"request_version":"Watermark","ResultUrl":"https://x/wm.png"}`))
	})

	batch := c.Protect(context.Background(), "u", []models.Operation{models.OperationNoise, models.OperationWatermark}, "IMREAL")
	if batch.Status != BatchOK || len(batch.Operations) != 1 || batch.Operations[0].Version != "Watermark" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one failure event, got %d", len(rec.events))
	}
}

func TestProtectAllFailed(t *testing.T) {
	c, _ := newService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	batch := c.Protect(context.Background(), "u", models.JobTypeBoth.Operations(), "IMREAL")
	if batch.Status != BatchError || len(batch.Operations) != 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestPlaceholder(t *testing.T) {
	batch := Placeholder(models.JobTypeWatermark.Operations())
	if batch.Status != BatchOK || len(batch.Operations) != 1 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if batch.Operations[0].Version != "Watermark" || batch.Operations[0].URL != nil {
		t.Fatalf("placeholder must carry the version and no url: %+v", batch.Operations[0])
	}
}
