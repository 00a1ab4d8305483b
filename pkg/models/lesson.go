package models

import "time"

// LessonOutcome classifies how a routing decision turned out
type LessonOutcome string

const (
	LessonOutcomeSuccess  LessonOutcome = "success"
	LessonOutcomeFailure  LessonOutcome = "failure"
	LessonOutcomeRejected LessonOutcome = "rejected"
)

// Lesson records a {situation, decision, outcome} tuple used to bias
// future routing and to short-circuit repeat answers. Lessons are
// append-mostly, deduplicated by fingerprint+decision, and subject to
// TTL eviction unless pinned.
type Lesson struct {
	ID            string        `json:"id"`
	Fingerprint   string        `json:"fingerprint"`
	Decision      string        `json:"decision"`
	Outcome       LessonOutcome `json:"outcome"`
	CostUSD       float64       `json:"cost_usd,omitempty"`
	LatencyMs     int64         `json:"latency_ms,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	Confirmations int           `json:"confirmations"`
	Pinned        bool          `json:"pinned,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
