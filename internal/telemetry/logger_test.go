package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerJSONInProduction(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("production", &buf)
	l.Debug().Msg("hidden")
	l.Info().Str("job_id", "j-1").Msg("job created")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["job_id"] != "j-1" || entry["service"] != "protection-api" {
		t.Fatalf("unexpected fields: %v", entry)
	}
}
