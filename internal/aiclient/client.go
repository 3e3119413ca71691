package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"content-protection/internal/models"
	"content-protection/internal/telemetry"
)

// ErrorCode tags every failed processing call in logs and system_logs.
const ErrorCode = "PROTECTION_API_ERROR"

// ErrMissingBaseURL indicates the client was configured without a service address.
var ErrMissingBaseURL = errors.New("aiclient: base url is required")

// EventRecorder persists operational events. The job stores implement it.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev models.SystemLog) error
}

// Options configures the protection service client.
type Options struct {
	BaseURL        string
	ProbeClient    *http.Client
	ProcessClient  *http.Client
	HealthTimeout  time.Duration
	ProcessTimeout time.Duration
	Events         EventRecorder
	Logger         zerolog.Logger
}

// Client talks to the external noise/watermark service. One instance is shared.
type Client struct {
	baseURL string
	probe   *http.Client
	process *http.Client
	events  EventRecorder
	log     zerolog.Logger
}

// Request is one operation against one input URL.
type Request struct {
	Operation     models.Operation
	InputURL      string
	WatermarkText string
}

// OperationResult is what the service returned for one operation. URL is nil for placeholders
// and for successful calls that carried no ResultUrl.
type OperationResult struct {
	Version string
	URL     *string
}

// BatchStatus tags a Batch.
type BatchStatus string

const (
	BatchOK    BatchStatus = "ok"
	BatchError BatchStatus = "error"
)

// Batch is the normalized result of running a set of operations.
type Batch struct {
	Status     BatchStatus
	Operations []OperationResult
}

type processRequest struct {
	RequestVersion string `json:"request version"`
	InputURL       string `json:"InputUrl"`
	WatermarkText  string `json:"WaterMark Text"`
}

type processResponse struct {
	RequestVersion string  `json:"request_version"`
	ResultURL      *string `json:"ResultUrl"`
}

// New constructs a client. Missing HTTP clients get the configured timeouts
// (2s probe, 600s processing by default).
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	probe := opts.ProbeClient
	if probe == nil {
		timeout := opts.HealthTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		probe = &http.Client{Timeout: timeout}
	}
	process := opts.ProcessClient
	if process == nil {
		timeout := opts.ProcessTimeout
		if timeout <= 0 {
			timeout = 600 * time.Second
		}
		process = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		probe:   probe,
		process: process,
		events:  opts.Events,
		log:     opts.Logger.With().Str("component", "aiclient").Logger(),
	}, nil
}

// Healthy probes GET /health. Any 2xx is healthy; errors and other statuses are not.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("health probe failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Process runs one operation. Failures are logged and recorded, and yield nil.
func (c *Client) Process(ctx context.Context, r Request) *OperationResult {
	res, err := c.call(ctx, r)
	if err != nil {
		c.fail(ctx, r.Operation, err)
		return nil
	}
	return res
}

func (c *Client) call(ctx context.Context, r Request) (*OperationResult, error) {
	body, err := json.Marshal(processRequest{
		RequestVersion: string(r.Operation),
		InputURL:       r.InputURL,
		WatermarkText:  r.WatermarkText,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/add_watermark", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.process.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded processResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	version := decoded.RequestVersion
	if version == "" {
		version = string(r.Operation)
	}
	return &OperationResult{Version: version, URL: decoded.ResultURL}, nil
}

func (c *Client) fail(ctx context.Context, op models.Operation, err error) {
	msg := fmt.Sprintf("%s protection failed: %v", op, err)
	c.log.Error().
		Err(err).
		Str("category", "protection").
		Str("error_code", ErrorCode).
		Str("operation", string(op)).
		Msg("protection call failed")
	telemetry.OperationErrors.WithLabelValues(string(op)).Inc()
	if c.events == nil {
		return
	}
	ev := models.SystemLog{
		Level:     "error",
		Category:  "protection",
		Message:   msg,
		ErrorCode: ErrorCode,
		CreatedAt: time.Now().UTC(),
	}
	// the request may already be cancelled; the event should still land
	if rerr := c.events.RecordEvent(context.WithoutCancel(ctx), ev); rerr != nil {
		c.log.Warn().Err(rerr).Msg("record system log failed")
	}
}

// Protect runs ops in order against inputURL. Each operation is independent; the batch is
// ok when at least one produced a result.
func (c *Client) Protect(ctx context.Context, inputURL string, ops []models.Operation, text string) Batch {
	out := Batch{Status: BatchError}
	for _, op := range ops {
		if res := c.Process(ctx, Request{Operation: op, InputURL: inputURL, WatermarkText: text}); res != nil {
			out.Operations = append(out.Operations, *res)
		}
	}
	if len(out.Operations) > 0 {
		out.Status = BatchOK
	}
	return out
}

// Placeholder is the degraded result used while the service is down: one entry per
// requested operation, no URL.
func Placeholder(ops []models.Operation) Batch {
	out := Batch{Status: BatchOK, Operations: make([]OperationResult, 0, len(ops))}
	for _, op := range ops {
		out.Operations = append(out.Operations, OperationResult{Version: string(op)})
	}
	return out
}
