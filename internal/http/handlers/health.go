package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports liveness plus store and queue state.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	database := "memory"
	if a.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		database = "connected"
		if err := a.DB.Ping(ctx); err != nil {
			database = "disconnected"
		}
	}
	body := map[string]any{
		"status":    "ok",
		"timestamp": a.now().UTC().Format(time.RFC3339),
		"env":       a.Env,
		"database":  database,
	}
	if a.Jobs != nil {
		body["queuedJobs"] = a.Jobs.QueueDepth()
	}
	if a.Hub != nil {
		body["wsClients"] = a.Hub.Clients()
	}
	a.json(w, http.StatusOK, body)
}
