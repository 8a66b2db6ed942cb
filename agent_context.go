package agentrouter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ferro-labs/agent-router/internal/routeerr"
)

// AgentType classifies the caller for model selection.
type AgentType string

// AgentType values recognised in the X-Agent-Type hint.
const (
	AgentCoding    AgentType = "coding"
	AgentAnalysis  AgentType = "analysis"
	AgentReasoning AgentType = "reasoning"
	AgentGeneral   AgentType = "general"
)

// Valid reports whether t is one of the recognised agent types.
func (t AgentType) Valid() bool {
	switch t {
	case AgentCoding, AgentAnalysis, AgentReasoning, AgentGeneral:
		return true
	}
	return false
}

// Routing hint metadata keys, as sent in HTTP headers.
const (
	HeaderProjectID     = "X-Project-Id"
	HeaderAgentID       = "X-Agent-Id"
	HeaderAgentType     = "X-Agent-Type"
	HeaderTaskType      = "X-Task-Type"
	HeaderTokenEstimate = "X-Token-Estimate"
	HeaderCostLimits    = "X-Cost-Limits"
)

// CostLimits carries optional spend caps supplied by the caller.
type CostLimits struct {
	Daily   *float64 `json:"daily,omitempty"`
	Monthly *float64 `json:"monthly,omitempty"`
}

// AgentContext holds the routing hints for one request.
type AgentContext struct {
	ProjectID       string
	AgentID         string
	AgentType       AgentType
	TaskType        string
	EstimatedTokens int
	CostLimits      *CostLimits
}

// Metadata is the set of named hint values attached to a request.
type Metadata map[string]string

// MetadataFromHeader collects the routing hint headers from h.
func MetadataFromHeader(h http.Header) Metadata {
	meta := Metadata{}
	for _, key := range []string{HeaderProjectID, HeaderAgentID, HeaderAgentType, HeaderTaskType, HeaderTokenEstimate, HeaderCostLimits} {
		if v := strings.TrimSpace(h.Get(key)); v != "" {
			meta[key] = v
		}
	}
	return meta
}

// ExtractContext builds an AgentContext from request metadata. It never
// fails: unparsable hints are logged and treated as absent.
func ExtractContext(meta Metadata, logger *slog.Logger) AgentContext {
	if logger == nil {
		logger = slog.Default()
	}
	actx := AgentContext{
		ProjectID: meta[HeaderProjectID],
		AgentID:   meta[HeaderAgentID],
		TaskType:  meta[HeaderTaskType],
	}

	if raw := meta[HeaderAgentType]; raw != "" {
		t := AgentType(strings.ToLower(raw))
		if t.Valid() {
			actx.AgentType = t
		} else {
			logger.Debug("ignoring unknown agent type", "agent_type", raw)
		}
	}

	if raw := meta[HeaderTokenEstimate]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			actx.EstimatedTokens = n
		}
	}

	if raw := meta[HeaderCostLimits]; raw != "" {
		var limits CostLimits
		if err := json.Unmarshal([]byte(raw), &limits); err != nil {
			logger.Warn("ignoring malformed routing hint", "error", &routeerr.ParseError{Field: HeaderCostLimits, Err: err})
		} else {
			actx.CostLimits = &limits
		}
	}

	return actx
}
