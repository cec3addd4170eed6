package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lazypower/courier/internal/agent"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bundles": s.node.Bundles(),
	})
}

type submitRequest struct {
	Destination   string `json:"destination"`
	Payload       string `json:"payload"`
	PayloadBase64 string `json:"payload_base64"`
	Lifetime      string `json:"lifetime"`
}

func (s *Server) handleSubmitBundle(w http.ResponseWriter, r *http.Request) {
	if !s.submit.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Destination == "" {
		writeError(w, http.StatusBadRequest, "destination required")
		return
	}

	o := agent.Origination{
		Destination: req.Destination,
		Payload:     []byte(req.Payload),
	}
	if req.PayloadBase64 != "" {
		if req.Payload != "" {
			writeError(w, http.StatusBadRequest, "payload and payload_base64 are exclusive")
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload_base64")
			return
		}
		o.Payload = data
	}
	if req.Lifetime != "" {
		d, err := time.ParseDuration(req.Lifetime)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid lifetime")
			return
		}
		o.Lifetime = d
	}

	if err := s.node.Submit(o); err != nil {
		switch {
		case errors.Is(err, agent.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case errors.Is(err, agent.ErrPayloadTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "queued",
		"destination": o.Destination,
		"size":        len(o.Payload),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.events.RecentEvents(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
	})
}
