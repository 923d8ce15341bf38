package models

import "time"

// SystemMetrics is the counter summary served by the health endpoint.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Transitions              uint64    `json:"transitions"`
	FallbackWrites           uint64    `json:"fallback_writes"`
	FailedWrites             uint64    `json:"failed_writes"`
	LogAppendFailures        uint64    `json:"log_append_failures"`
	FeedEvents               uint64    `json:"feed_events"`
	Resyncs                  uint64    `json:"resyncs"`
	MarkerHitRatio           float64   `json:"marker_hit_ratio"`
	StoreQueries             uint64    `json:"store_queries"`
	AverageStoreQueryMs      float64   `json:"average_store_query_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
