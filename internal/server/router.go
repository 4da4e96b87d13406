package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type API struct {
	store      Store
	chains     ChainService
	obs        *Observability
	adminToken string
}

func NewAPI(store Store, chains ChainService, obs *Observability, adminToken string) *API {
	return &API{
		store:      store,
		chains:     chains,
		obs:        obs,
		adminToken: strings.TrimSpace(adminToken),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)

	mux.Handle("POST /api/v1/chains", a.requireToken(http.HandlerFunc(a.handleCreateChain)))
	mux.Handle("GET /api/v1/chains", a.requireToken(http.HandlerFunc(a.handleListChains)))
	mux.Handle("GET /api/v1/chains/{id}", a.requireToken(http.HandlerFunc(a.handleGetChain)))
	mux.Handle("GET /api/v1/chains/{id}/events", a.requireToken(http.HandlerFunc(a.handleChainEventsSSE)))
	mux.Handle("GET /api/v1/audit", a.requireToken(http.HandlerFunc(a.handleAudit)))
	mux.Handle("GET /api/v1/metrics/overview", a.requireToken(http.HandlerFunc(a.handleOverview)))

	wrapped := otelhttp.NewHandler(mux, "gate-api-http")
	return withCORS(wrapped)
}

// requireToken enforces the admin token when one is configured. An empty
// token leaves the API open for local use.
func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		provided := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		if provided == "" {
			provided = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(a.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": nowRFC3339(),
	})
}

func (a *API) handleCreateChain(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("gate-api").Start(r.Context(), "chains.create")
	defer span.End()
	var req ChainRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	span.SetAttributes(attribute.Bool("chain.dry_run", req.DryRun))
	meta, err := a.chains.CreateChain(req, "api")
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"chain_id": meta.ChainID,
		"status":   meta.Status,
	})
}

func (a *API) handleListChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"chains": a.store.ListChains(100),
	})
}

func (a *API) handleGetChain(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing chain id")
		return
	}
	meta, ok := a.store.GetChain(id)
	if !ok {
		writeError(w, http.StatusNotFound, "chain not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleChainEventsSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing chain id")
		return
	}
	if _, ok := a.store.GetChain(id); !ok {
		writeError(w, http.StatusNotFound, "chain not found")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	cursor := parseCursor(r)
	send := func(events []ChainEvent) {
		for _, event := range events {
			payload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "event: chain_event\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			cursor = event.Seq
		}
		flusher.Flush()
	}
	send(a.store.ListChainEvents(id, cursor))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events := a.store.ListChainEvents(id, cursor)
			if len(events) > 0 {
				send(events)
				continue
			}
			// Stop streaming once the chain is terminal and fully drained.
			if meta, ok := a.store.GetChain(id); ok {
				switch meta.Status {
				case StatusReleased, StatusDiscarded, StatusFailed:
					return
				}
			}
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetMetricsOverview())
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"audit": a.store.ListAudit(200),
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "json encode failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": strings.TrimSpace(message),
	})
}

func decodeJSONBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func parseCursor(r *http.Request) int64 {
	raw := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
