package api

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sebas/sipring/internal/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Templates holds all parsed templates
type Templates struct {
	dashboard *template.Template
}

// NewTemplates parses the embedded templates.
func NewTemplates() (*Templates, error) {
	dashboard, err := template.ParseFS(templatesFS, "templates/dashboard.html")
	if err != nil {
		return nil, err
	}
	return &Templates{dashboard: dashboard}, nil
}

// RenderDashboard renders the main dashboard.
func (t *Templates) RenderDashboard(w io.Writer, data TemplateData) error {
	return t.dashboard.Execute(w, data)
}

// TemplateData holds data for rendering the dashboard.
type TemplateData struct {
	Title       string
	Uptime      string
	ActiveCount int
	Configs     []ConfigRow
}

// ConfigRow holds one configuration row for display.
type ConfigRow struct {
	Config    store.RingConfig
	RingURL   string
	CancelURL string
	IsRinging bool
	RingState string
}

// handleDashboard renders the dashboard with all configs and their
// current ring state.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	configs, err := s.store.List()
	if err != nil {
		slog.Error("[API] failed to list configs", "error", err)
		http.Error(w, "failed to load configurations", http.StatusInternalServerError)
		return
	}
	active := s.registry.ActiveCalls()

	data := TemplateData{
		Title:       "SIPring",
		Uptime:      formatUptime(time.Since(s.startTime)),
		ActiveCount: len(active),
		Configs:     make([]ConfigRow, 0, len(configs)),
	}
	base := s.baseURL(r)
	for _, cfg := range configs {
		identifier := cfg.Slug
		if identifier == "" {
			identifier = cfg.ID.String()
		}
		state, ringing := active[cfg.ID]
		data.Configs = append(data.Configs, ConfigRow{
			Config:    cfg,
			RingURL:   base + "/ring/" + identifier,
			CancelURL: base + "/ring/" + identifier + "/cancel",
			IsRinging: ringing,
			RingState: state,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.RenderDashboard(w, data); err != nil {
		slog.Error("[API] failed to render dashboard", "error", err)
		http.Error(w, "failed to render template", http.StatusInternalServerError)
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
