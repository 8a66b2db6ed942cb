package agentrouter

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

func TestExtractContext_Empty(t *testing.T) {
	actx := ExtractContext(Metadata{}, nil)
	if actx != (AgentContext{}) {
		t.Errorf("ExtractContext(empty) = %+v, want zero value", actx)
	}
}

func TestExtractContext_AllFields(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderProjectID, "proj-1")
	h.Set(HeaderAgentID, "agent-7")
	h.Set(HeaderAgentType, "Coding")
	h.Set(HeaderTaskType, "refactor")
	h.Set(HeaderTokenEstimate, "1200")
	h.Set(HeaderCostLimits, `{"daily":5,"monthly":100.5}`)

	actx := ExtractContext(MetadataFromHeader(h), nil)

	if actx.ProjectID != "proj-1" || actx.AgentID != "agent-7" || actx.TaskType != "refactor" {
		t.Errorf("unexpected ids: %+v", actx)
	}
	if actx.AgentType != AgentCoding {
		t.Errorf("AgentType = %q, want coding", actx.AgentType)
	}
	if actx.EstimatedTokens != 1200 {
		t.Errorf("EstimatedTokens = %d, want 1200", actx.EstimatedTokens)
	}
	if actx.CostLimits == nil || *actx.CostLimits.Daily != 5 || *actx.CostLimits.Monthly != 100.5 {
		t.Errorf("CostLimits = %+v", actx.CostLimits)
	}
}

func TestExtractContext_BadTokenEstimate(t *testing.T) {
	for _, raw := range []string{"lots", "-5", "1e6", "12.5"} {
		actx := ExtractContext(Metadata{HeaderTokenEstimate: raw}, nil)
		if actx.EstimatedTokens != 0 {
			t.Errorf("estimate %q: EstimatedTokens = %d, want 0", raw, actx.EstimatedTokens)
		}
	}
}

func TestExtractContext_MalformedCostLimitsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	actx := ExtractContext(Metadata{HeaderCostLimits: `{"daily":`, HeaderProjectID: "p"}, logger)

	if actx.CostLimits != nil {
		t.Errorf("CostLimits = %+v, want nil", actx.CostLimits)
	}
	if actx.ProjectID != "p" {
		t.Error("other hints must survive a malformed cost limit")
	}
	if !strings.Contains(buf.String(), "malformed routing hint") {
		t.Errorf("expected a warning to be logged, got %q", buf.String())
	}
}

func TestExtractContext_UnknownAgentTypeDropped(t *testing.T) {
	actx := ExtractContext(Metadata{HeaderAgentType: "poet"}, nil)
	if actx.AgentType != "" {
		t.Errorf("AgentType = %q, want empty", actx.AgentType)
	}
}
