package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RingConfig is a named ring target: who to call, who the call claims
// to be from, and how long to ring.
type RingConfig struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`

	SIPUser   string `json:"sip_user"`
	SIPServer string `json:"sip_server"`
	SIPPort   int    `json:"sip_port"`

	CallerName string `json:"caller_name"`
	CallerUser string `json:"caller_user"`

	RingDuration int  `json:"ring_duration"` // seconds
	LocalPort    int  `json:"local_port"`
	Enabled      bool `json:"enabled"`

	CreatedAt      time.Time  `json:"created_at"`
	LastRingAt     *time.Time `json:"last_ring_at,omitempty"`
	LastRingStatus string     `json:"last_ring_status,omitempty"`
}

// RingConfigUpdate is a partial update; nil fields are left unchanged.
type RingConfigUpdate struct {
	Name         *string `json:"name,omitempty"`
	Slug         *string `json:"slug,omitempty"`
	SIPUser      *string `json:"sip_user,omitempty"`
	SIPServer    *string `json:"sip_server,omitempty"`
	SIPPort      *int    `json:"sip_port,omitempty"`
	CallerName   *string `json:"caller_name,omitempty"`
	CallerUser   *string `json:"caller_user,omitempty"`
	RingDuration *int    `json:"ring_duration,omitempty"`
	LocalPort    *int    `json:"local_port,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
}

func (c *RingConfig) applyDefaults(d Defaults) {
	if c.SIPPort == 0 {
		c.SIPPort = d.SIPPort
	}
	if c.CallerUser == "" {
		c.CallerUser = "doorbell"
	}
	if c.RingDuration == 0 {
		c.RingDuration = d.RingDuration
	}
	if c.LocalPort == 0 {
		c.LocalPort = d.LocalPort
	}
	if c.Slug == "" {
		c.Slug = Slugify(c.Name)
	}
}

func (c *RingConfig) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(c.SIPUser) == "" {
		return errors.New("sip_user is required")
	}
	if strings.TrimSpace(c.SIPServer) == "" {
		return errors.New("sip_server is required")
	}
	if strings.HasPrefix(c.SIPServer, "http") {
		return errors.New("sip_server must be a hostname or IP, not a URL")
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip_port out of range: %d", c.SIPPort)
	}
	if c.RingDuration < 1 || c.RingDuration > 300 {
		return fmt.Errorf("ring_duration out of range: %d", c.RingDuration)
	}
	if c.LocalPort < 1024 || c.LocalPort > 65535 {
		return fmt.Errorf("local_port out of range: %d", c.LocalPort)
	}
	return nil
}

// Slugify converts a display name into a URL-friendly identifier.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// RingEvent is one entry in the append-only ring log.
type RingEvent struct {
	ID          uuid.UUID  `json:"id"`
	ConfigID    uuid.UUID  `json:"config_id"`
	ConfigName  string     `json:"config_name,omitempty"`
	ConfigSlug  string     `json:"config_slug,omitempty"`
	Duration    int        `json:"duration"` // requested ring duration, seconds
	SourceIP    string     `json:"source_ip,omitempty"`
	SourceUser  string     `json:"source_user,omitempty"`
	TriggerType string     `json:"trigger_type"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
