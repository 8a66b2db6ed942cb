// Package admin provides the HTTP handlers for the router administration
// API: configuration, provider health, usage and ad-hoc model tests.
// Routes are protected by static bearer tokens via AuthMiddleware.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	agentrouter "github.com/ferro-labs/agent-router"
	"github.com/ferro-labs/agent-router/internal/health"
	"github.com/ferro-labs/agent-router/internal/logging"
	"github.com/ferro-labs/agent-router/internal/routeerr"
	"github.com/ferro-labs/agent-router/internal/usage"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 1 << 20

// ConfigStore is the configuration view the admin API edits.
type ConfigStore interface {
	Load(ctx context.Context) agentrouter.RouterConfig
	Save(ctx context.Context, data []byte) (agentrouter.RouterConfig, error)
}

// RouterOps are the router operations exposed for diagnosis.
type RouterOps interface {
	CheckHealth(ctx context.Context) health.Summary
	TestModel(ctx context.Context, provider, model string) (agentrouter.TestResult, error)
}

// UsageReader answers usage queries.
type UsageReader interface {
	Aggregate(ctx context.Context, f usage.Filter) (usage.Aggregate, error)
	Recent(ctx context.Context, limit int) ([]usage.Record, error)
}

// Handlers holds dependencies for admin HTTP handlers. Usage may be nil.
type Handlers struct {
	Config ConfigStore
	Router RouterOps
	Usage  UsageReader

	validate *validator.Validate
}

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	if h.validate == nil {
		h.validate = validator.New()
	}
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeReadOnly, ScopeAdmin))
		r.Get("/config", h.getConfig)
		r.Get("/health", h.healthCheck)
		r.Get("/usage", h.usageSummary)
		r.Get("/usage/records", h.usageRecords)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeAdmin))
		r.Post("/config", h.updateConfig)
		r.Post("/test-model", h.testModel)
	})

	return r
}

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config.Load(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  redact(cfg),
	})
}

func (h *Handlers) updateConfig(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if _, err := h.Config.Save(r.Context(), data); err != nil {
		logging.FromContext(r.Context()).Warn("config update rejected", "component", "admin", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration updated",
	})
}

func (h *Handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	summary := h.Router.CheckHealth(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"health":  summary,
	})
}

func (h *Handlers) usageSummary(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	agg := usage.Summarize(nil)
	if h.Usage != nil {
		if agg, err = h.Usage.Aggregate(r.Context(), f); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"usage":   agg,
	})
}

func (h *Handlers) usageRecords(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, usage.DefaultRetention)
	}
	records := []usage.Record{}
	if h.Usage != nil {
		var err error
		if records, err = h.Usage.Recent(r.Context(), limit); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"records": records,
	})
}

type testModelRequest struct {
	Provider string `json:"provider" validate:"required"`
	Model    string `json:"model" validate:"required"`
}

func (h *Handlers) testModel(w http.ResponseWriter, r *http.Request) {
	var req testModelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, &routeerr.ParseError{Field: "body", Err: err})
		return
	}
	req.Provider = strings.TrimSpace(req.Provider)
	req.Model = strings.TrimSpace(req.Model)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, fieldErrors(err))
		return
	}

	result, err := h.Router.TestModel(r.Context(), req.Provider, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

// parseFilter reads projectId, agentId and a JSON timeRange from the query.
func parseFilter(r *http.Request) (usage.Filter, error) {
	q := r.URL.Query()
	f := usage.Filter{
		ProjectID: q.Get("projectId"),
		AgentID:   q.Get("agentId"),
	}
	if raw := q.Get("timeRange"); raw != "" {
		var tr usage.TimeRange
		if err := json.Unmarshal([]byte(raw), &tr); err != nil {
			return usage.Filter{}, &routeerr.ParseError{Field: "timeRange", Err: err}
		}
		if !tr.Start.IsZero() && !tr.End.IsZero() && tr.End.Before(tr.Start) {
			return usage.Filter{}, &routeerr.ParseError{Field: "timeRange", Err: errors.New("end is before start")}
		}
		f.TimeRange = &tr
	}
	return f, nil
}

func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &routeerr.ValidationError{Violations: []string{err.Error()}}
	}
	violations := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			violations = append(violations, field+" is required")
		default:
			violations = append(violations, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return &routeerr.ValidationError{Violations: violations}
}

// redact hides provider API keys in configuration responses.
func redact(cfg agentrouter.RouterConfig) agentrouter.RouterConfig {
	out := cfg.Clone()
	for name, p := range out.Providers {
		p.APIKey = maskKey(p.APIKey)
		out.Providers[name] = p
	}
	return out
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "..."
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope for err:
//
//	{"success":false,"error":"...","details":["..."]}
//
// The status follows the routeerr taxonomy.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{
		"success": false,
		"error":   err.Error(),
	}
	if details := routeerr.Details(err); len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, routeerr.StatusCode(err), body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
