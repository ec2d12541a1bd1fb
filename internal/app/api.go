package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"stockmetrics/internal/model"
)

// RegisterRoutes adds the job endpoints to mux-like servers.
func (svc *Service) RegisterRoutes(handle func(pattern string, h http.Handler)) {
	handle("/run", http.HandlerFunc(svc.handleRun))
	handle("/status", http.HandlerFunc(svc.handleStatus))
}

// handleRun handles POST /run: one synchronous controller invocation.
func (svc *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	out, err := svc.RunBatch(r.Context())

	body := map[string]interface{}{
		"run_id":       out.RunID,
		"state":        out.State,
		"mode":         out.Mode,
		"start_at":     out.StartAt,
		"next":         out.Next,
		"total":        out.Total,
		"processed":    out.Processed,
		"failed":       out.Failed,
		"buys":         out.Buys,
		"sells":        out.Sells,
		"continuation": out.Continuation.String(),
	}
	code := http.StatusOK
	if err != nil {
		body["error"] = err.Error()
		switch {
		case errors.Is(err, model.ErrNoSymbols):
			code = http.StatusOK
		case errors.Is(err, model.ErrConfiguration):
			code = http.StatusBadRequest
		case errors.Is(err, context.Canceled):
			code = http.StatusServiceUnavailable
		default:
			code = http.StatusInternalServerError
		}
	}
	writeJSON(w, code, body)
}

// handleStatus handles GET /status?runs=N.
func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	runs := 10
	if v := r.URL.Query().Get("runs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "runs must be a positive integer", http.StatusBadRequest)
			return
		}
		runs = n
	}
	st, err := svc.Status(r.Context(), runs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[app] response encode failed: %v", err)
	}
}
