package handler

import "net/http"

// Health reports liveness.
type Health struct{}

func NewHealth() *Health { return &Health{} }

func (h *Health) Check(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
