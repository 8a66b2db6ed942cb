package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	agentrouter "github.com/ferro-labs/agent-router"
	"github.com/ferro-labs/agent-router/internal/admin"
	"github.com/ferro-labs/agent-router/internal/logging"
	"github.com/ferro-labs/agent-router/internal/routeerr"
	"github.com/ferro-labs/agent-router/internal/version"
)

// Routing headers set on proxied responses.
const (
	headerRouterModel    = "X-Router-Model"
	headerRouterProvider = "X-Router-Provider"
	headerRouterReason   = "X-Router-Reason"
)

// maxMessageBytes caps inbound Messages payloads.
const maxMessageBytes = 32 << 20

// serverDeps are the collaborators the HTTP surface needs.
type serverDeps struct {
	Router      *agentrouter.Router
	Admin       *admin.Handlers
	Tokens      *admin.Tokens
	CORSOrigins []string
}

// newRouter builds the HTTP router.
func newRouter(deps serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(corsHandler(deps.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version.Info(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(deps.Tokens))
		r.Mount("/", deps.Admin.Routes())
	})

	r.Post("/v1/messages", messagesHandler(deps.Router))

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Api-Key", "Anthropic-Version", logging.TraceHeader,
			agentrouter.HeaderProjectID, agentrouter.HeaderAgentID, agentrouter.HeaderAgentType,
			agentrouter.HeaderTaskType, agentrouter.HeaderTokenEstimate, agentrouter.HeaderCostLimits,
		},
		ExposedHeaders: []string{headerRouterModel, headerRouterProvider, headerRouterReason, logging.TraceHeader},
		MaxAge:         300,
	})
}

// messagesHandler serves POST /v1/messages: route, dispatch and relay the
// upstream body with the routing decision in response headers.
func messagesHandler(rt *agentrouter.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
		if err != nil {
			writeError(w, &routeerr.ParseError{Field: "body", Err: err})
			return
		}

		out, err := rt.Handle(r.Context(), body, agentrouter.MetadataFromHeader(r.Header))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set(headerRouterModel, out.Model)
		w.Header().Set(headerRouterProvider, out.Provider)
		w.Header().Set(headerRouterReason, string(out.Reason))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Response.Raw)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the router error envelope with the taxonomy status.
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
