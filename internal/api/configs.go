package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/sipring/internal/store"
)

// ConfigResponse is a RingConfig plus its generated trigger URLs.
type ConfigResponse struct {
	store.RingConfig
	RingURL   string `json:"ring_url"`
	CancelURL string `json:"cancel_url"`
}

// ConfigListResponse wraps the config list endpoint.
type ConfigListResponse struct {
	Configs []ConfigResponse `json:"configs"`
	Count   int              `json:"count"`
}

func (s *Server) configResponse(r *http.Request, cfg store.RingConfig) ConfigResponse {
	identifier := cfg.Slug
	if identifier == "" {
		identifier = cfg.ID.String()
	}
	base := s.baseURL(r)
	return ConfigResponse{
		RingConfig: cfg,
		RingURL:    base + "/ring/" + identifier,
		CancelURL:  base + "/ring/" + identifier + "/cancel",
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrSlugExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// handleConfigs serves GET (list) and POST (create) on /api/v1/configs.
func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configs, err := s.store.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := ConfigListResponse{Configs: make([]ConfigResponse, 0, len(configs))}
		for _, cfg := range configs {
			resp.Configs = append(resp.Configs, s.configResponse(r, cfg))
		}
		resp.Count = len(resp.Configs)
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var cfg store.RingConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		created, err := s.store.Create(cfg)
		if err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s.configResponse(r, created))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleConfigByID serves GET/PUT/DELETE on /api/v1/configs/{idOrSlug}.
func (s *Server) handleConfigByID(w http.ResponseWriter, r *http.Request) {
	idOrSlug := strings.TrimPrefix(r.URL.Path, "/api/v1/configs/")
	if idOrSlug == "" || strings.Contains(idOrSlug, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := s.store.Get(idOrSlug)
		if err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.configResponse(r, cfg))

	case http.MethodPut:
		var upd store.RingConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		cfg, err := s.store.Update(idOrSlug, upd)
		if err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.configResponse(r, cfg))

	case http.MethodDelete:
		if err := s.store.Delete(idOrSlug); err != nil {
			s.storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// EventListResponse wraps the event list endpoint.
type EventListResponse struct {
	Events []store.RingEvent `json:"events"`
	Count  int               `json:"count"`
	Total  int               `json:"total"`
}

// handleEvents serves GET /api/v1/events with filters: config_id, since
// (RFC 3339), hours, days, result, trigger_type, limit, offset.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	filter := store.EventFilter{
		Result:      q.Get("result"),
		TriggerType: q.Get("trigger_type"),
		Limit:       50,
	}

	if v := q.Get("config_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid config_id")
			return
		}
		filter.ConfigID = &id
	}

	// Priority: since > hours > days
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = &since
	} else if v := q.Get("hours"); v != "" {
		if h, err := strconv.Atoi(v); err == nil && h > 0 {
			since := time.Now().UTC().Add(-time.Duration(h) * time.Hour)
			filter.Since = &since
		}
	} else if v := q.Get("days"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			since := time.Now().UTC().AddDate(0, 0, -d)
			filter.Since = &since
		}
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 500 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	events, total, err := s.events.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, EventListResponse{Events: events, Count: len(events), Total: total})
}
