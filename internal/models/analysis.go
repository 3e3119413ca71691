package models

import (
	"encoding/json"
	"time"
)

// AnalysisResult is the verdict of the external deepfake classifier.
type AnalysisResult string

const (
	ResultSafe       AnalysisResult = "safe"
	ResultSuspicious AnalysisResult = "suspicious"
	ResultDeepfake   AnalysisResult = "deepfake"
	ResultError      AnalysisResult = "error"
)

// AnalysisRecord is a finalized detection result. It is read-only here.
type AnalysisRecord struct {
	ID              string         `json:"record_id"`
	OwnerID         string         `json:"-"`
	AnalysisType    string         `json:"analysis_type"`
	FileName        string         `json:"file_name"`
	FileSize        int64          `json:"file_size"`
	FileFormat      string         `json:"file_format"`
	OriginalPath    string         `json:"original_path"`
	HeatmapPath     *string        `json:"heatmap_path"`
	AnalysisResult  AnalysisResult `json:"analysis_result"`
	ConfidenceScore float64        `json:"confidence_score"`
	ProcessingTime  float64        `json:"processing_time"`
	AIModelVersion  string         `json:"ai_model_version"`
	CreatedAt       time.Time      `json:"created_at"`
}

// IsDeepfake is derived from AnalysisResult on every call; it is never stored.
func (r AnalysisRecord) IsDeepfake() bool {
	return r.AnalysisResult == ResultSuspicious || r.AnalysisResult == ResultDeepfake
}

// MarshalJSON adds the derived is_deepfake flag.
func (r AnalysisRecord) MarshalJSON() ([]byte, error) {
	type plain AnalysisRecord
	return json.Marshal(struct {
		plain
		IsDeepfake bool `json:"is_deepfake"`
	}{plain: plain(r), IsDeepfake: r.IsDeepfake()})
}

// AnalysisStatistics aggregates a user's detection history.
type AnalysisStatistics struct {
	Total      int              `json:"total_analyses"`
	Safe       int              `json:"safe_count"`
	Suspicious int              `json:"suspicious_count"`
	Deepfake   int              `json:"deepfake_count"`
	Recent     []AnalysisRecord `json:"recent_analyses"`
}

// RecentAnalysesLimit caps AnalysisStatistics.Recent.
const RecentAnalysesLimit = 5
