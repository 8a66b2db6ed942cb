// Package usage keeps the bounded ledger of completed requests and answers
// filtered aggregate queries over it.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ferro-labs/agent-router/internal/logging"
	"github.com/ferro-labs/agent-router/internal/metrics"
)

// DefaultRetention is the number of records kept before the oldest are evicted.
const DefaultRetention = 10_000

// UnknownAgentType groups records that carried no agent type.
const UnknownAgentType = "unknown"

// Tokens is the token accounting of one request.
type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Record is one completed request, successful or not. Records are never
// mutated once appended.
type Record struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ProjectID     string    `json:"projectId,omitempty"`
	AgentID       string    `json:"agentId,omitempty"`
	AgentType     string    `json:"agentType,omitempty"`
	TaskType      string    `json:"taskType,omitempty"`
	Model         string    `json:"model"`
	Provider      string    `json:"provider"`
	Tokens        Tokens    `json:"tokens"`
	Cost          float64   `json:"cost"`
	LatencyMs     int64     `json:"latencyMs"`
	Success       bool      `json:"success"`
	RoutingReason string    `json:"routingReason"`
	Error         string    `json:"error,omitempty"`
}

// TimeRange bounds Record.Timestamp inclusively. A zero bound is open.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Filter selects records. Every non-empty field must match.
type Filter struct {
	ProjectID string
	AgentID   string
	TimeRange *TimeRange
}

// Match reports whether rec satisfies every supplied filter.
func (f Filter) Match(rec Record) bool {
	if f.ProjectID != "" && rec.ProjectID != f.ProjectID {
		return false
	}
	if f.AgentID != "" && rec.AgentID != f.AgentID {
		return false
	}
	if tr := f.TimeRange; tr != nil {
		if !tr.Start.IsZero() && rec.Timestamp.Before(tr.Start) {
			return false
		}
		if !tr.End.IsZero() && rec.Timestamp.After(tr.End) {
			return false
		}
	}
	return true
}

// Aggregate summarizes the records matching a filter.
type Aggregate struct {
	TotalRequests    int            `json:"totalRequests"`
	Tokens           Tokens         `json:"tokens"`
	TotalCost        float64        `json:"totalCost"`
	AverageLatencyMs float64        `json:"averageLatencyMs"`
	SuccessRate      float64        `json:"successRate"`
	ByModel          map[string]int `json:"byModel"`
	ByAgentType      map[string]int `json:"byAgentType"`
}

// Summarize computes the aggregate view of records.
func Summarize(records []Record) Aggregate {
	agg := Aggregate{
		ByModel:     make(map[string]int),
		ByAgentType: make(map[string]int),
	}
	if len(records) == 0 {
		return agg
	}

	var latency int64
	var succeeded int
	for _, rec := range records {
		agg.TotalRequests++
		agg.Tokens.Input += rec.Tokens.Input
		agg.Tokens.Output += rec.Tokens.Output
		agg.Tokens.Total += rec.Tokens.Total
		agg.TotalCost += rec.Cost
		latency += rec.LatencyMs
		if rec.Success {
			succeeded++
		}
		agg.ByModel[rec.Model]++
		agentType := rec.AgentType
		if agentType == "" {
			agentType = UnknownAgentType
		}
		agg.ByAgentType[agentType]++
	}
	n := float64(agg.TotalRequests)
	agg.AverageLatencyMs = float64(latency) / n
	agg.SuccessRate = float64(succeeded) / n
	return agg
}

// Store is a bounded, append-ordered usage ledger.
type Store interface {
	// Append adds rec, evicting the oldest records past the retention cap.
	Append(ctx context.Context, rec Record) error
	// Record is Append for the request path: failures are logged and counted
	// but never returned.
	Record(ctx context.Context, rec Record)
	// Query returns matching records, oldest first.
	Query(ctx context.Context, f Filter) ([]Record, error)
	// Aggregate summarizes the records matching f.
	Aggregate(ctx context.Context, f Filter) (Aggregate, error)
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// prepare fills the generated fields of a record about to be appended.
func prepare(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Tokens.Total == 0 {
		rec.Tokens.Total = rec.Tokens.Input + rec.Tokens.Output
	}
	return rec
}

func recordBestEffort(ctx context.Context, s Store, rec Record) {
	if err := s.Append(ctx, rec); err != nil {
		metrics.UsageAppendFailures.Inc()
		logging.FromContext(ctx).Warn("usage record dropped",
			"component", "usage",
			"model", rec.Model,
			"provider", rec.Provider,
			"error", err,
		)
	}
}
