package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/sipring/internal/engine"
	"github.com/sebas/sipring/internal/store"
)

// RingResponse is returned by all ring endpoints.
type RingResponse struct {
	Status   string    `json:"status"`
	ConfigID uuid.UUID `json:"config_id"`
	Message  string    `json:"message"`
	Result   string    `json:"result,omitempty"`
}

// handleRing dispatches /ring/{idOrSlug}, /ring/{idOrSlug}/cancel and
// /ring/{idOrSlug}/status.
func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ring/")
	idOrSlug, action, _ := strings.Cut(path, "/")
	if idOrSlug == "" {
		http.NotFound(w, r)
		return
	}

	cfg, err := s.store.Get(idOrSlug)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "configuration not found: "+idOrSlug)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch action {
	case "":
		s.triggerRing(w, r, cfg)
	case "cancel":
		s.cancelRing(w, cfg)
	case "status":
		s.ringStatus(w, cfg)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) triggerRing(w http.ResponseWriter, r *http.Request, cfg store.RingConfig) {
	if !cfg.Enabled {
		writeError(w, http.StatusBadRequest, "configuration is disabled")
		return
	}

	duration := cfg.RingDuration
	if q := r.URL.Query().Get("duration"); q != "" {
		d, err := strconv.Atoi(q)
		if err != nil || d < 1 || d > 300 {
			writeError(w, http.StatusBadRequest, "duration must be between 1 and 300 seconds")
			return
		}
		duration = d
	}
	wait := r.URL.Query().Get("wait") == "true"

	if s.registry.IsActive(cfg.ID) {
		writeJSON(w, http.StatusOK, RingResponse{
			Status:   "already_ringing",
			ConfigID: cfg.ID,
			Message:  "ring already in progress for " + cfg.Name,
		})
		return
	}

	params := engine.Params{
		TargetUser:     cfg.SIPUser,
		TargetHost:     cfg.SIPServer,
		TargetPort:     cfg.SIPPort,
		CallerName:     cfg.CallerName,
		CallerUser:     cfg.CallerUser,
		LocalPort:      cfg.LocalPort,
		AdvertisedHost: s.cfg.SIPHost,
	}

	sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	ev := store.RingEvent{
		ID:          uuid.New(),
		ConfigID:    cfg.ID,
		ConfigName:  cfg.Name,
		ConfigSlug:  cfg.Slug,
		Duration:    duration,
		SourceIP:    sourceIP,
		SourceUser:  s.authUser(r),
		TriggerType: "ring",
		CreatedAt:   time.Now().UTC(),
	}

	// Tracking happens inside StartRing's exclusive section: a losing
	// concurrent trigger returns false before its event is ever tracked.
	started := s.registry.StartRing(cfg.ID, params, time.Duration(duration)*time.Second, func() {
		s.recorder.Track(ev)
	})
	if !started {
		writeJSON(w, http.StatusOK, RingResponse{
			Status:   "already_ringing",
			ConfigID: cfg.ID,
			Message:  "ring already in progress for " + cfg.Name,
		})
		return
	}

	slog.Info("[API] ring triggered", "config", cfg.Name, "duration", duration, "source", sourceIP)

	if wait {
		result, ok := s.registry.WaitForCompletion(cfg.ID, time.Duration(duration+10)*time.Second)
		resp := RingResponse{
			Status:   "completed",
			ConfigID: cfg.ID,
			Message:  "ring completed for " + cfg.Name,
			Result:   string(result),
		}
		if !ok {
			resp.Result = "unknown"
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusOK, RingResponse{
		Status:   "started",
		ConfigID: cfg.ID,
		Message:  "ring started for " + cfg.Name,
	})
}

func (s *Server) cancelRing(w http.ResponseWriter, cfg store.RingConfig) {
	if !s.registry.CancelRing(cfg.ID) {
		writeJSON(w, http.StatusOK, RingResponse{
			Status:   "not_active",
			ConfigID: cfg.ID,
			Message:  "no active ring for " + cfg.Name,
		})
		return
	}
	writeJSON(w, http.StatusOK, RingResponse{
		Status:   "cancelling",
		ConfigID: cfg.ID,
		Message:  "cancelling ring for " + cfg.Name,
	})
}

func (s *Server) ringStatus(w http.ResponseWriter, cfg store.RingConfig) {
	if state, ok := s.registry.State(cfg.ID); ok {
		writeJSON(w, http.StatusOK, RingResponse{
			Status:   "ringing",
			ConfigID: cfg.ID,
			Message:  "ring in progress for " + cfg.Name,
			Result:   state,
		})
		return
	}
	writeJSON(w, http.StatusOK, RingResponse{
		Status:   "idle",
		ConfigID: cfg.ID,
		Message:  "no active ring for " + cfg.Name,
		Result:   cfg.LastRingStatus,
	})
}
