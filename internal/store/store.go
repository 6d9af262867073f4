// Package store persists ring configurations in a JSON file and ring
// events in an append-only JSONL log. Both are guarded by a process
// mutex with atomic tmp-and-rename writes, which is plenty for the
// single-process deployment this service targets.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports an unknown configuration ID or slug.
	ErrNotFound = errors.New("config not found")
	// ErrSlugExists reports a slug collision on create or update.
	ErrSlugExists = errors.New("slug already exists")
)

type fileData struct {
	Configs []RingConfig `json:"configs"`
}

// Defaults are applied to fields a new configuration leaves unset.
// Zero-valued fields fall back to the built-in values.
type Defaults struct {
	SIPPort      int
	LocalPort    int
	RingDuration int
}

func (d Defaults) orBuiltin() Defaults {
	if d.SIPPort == 0 {
		d.SIPPort = 5060
	}
	if d.LocalPort == 0 {
		d.LocalPort = 5062
	}
	if d.RingDuration == 0 {
		d.RingDuration = 30
	}
	return d
}

// Store is a JSON file holding all ring configurations.
type Store struct {
	path     string
	defaults Defaults
	mu       sync.Mutex
}

// NewStore creates a store backed by the given file path. The file is
// created on first write.
func NewStore(path string, defaults Defaults) *Store {
	return &Store{path: path, defaults: defaults.orBuiltin()}
}

func (s *Store) read() (*fileData, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Warn("[Store] invalid JSON in config file, resetting", "path", s.path)
		return &fileData{}, nil
	}
	return &data, nil
}

func (s *Store) write(data *fileData) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode configs: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// List returns all configurations.
func (s *Store) List() ([]RingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.Configs, nil
}

func findConfig(configs []RingConfig, idOrSlug string) int {
	if id, err := uuid.Parse(idOrSlug); err == nil {
		for i := range configs {
			if configs[i].ID == id {
				return i
			}
		}
	}
	for i := range configs {
		if configs[i].Slug == idOrSlug {
			return i
		}
	}
	return -1
}

// Get looks a configuration up by UUID or slug.
func (s *Store) Get(idOrSlug string) (RingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.read()
	if err != nil {
		return RingConfig{}, err
	}
	i := findConfig(data.Configs, idOrSlug)
	if i < 0 {
		return RingConfig{}, ErrNotFound
	}
	return data.Configs[i], nil
}

// Create validates and stores a new configuration, assigning its ID,
// slug and defaults.
func (s *Store) Create(cfg RingConfig) (RingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg.applyDefaults(s.defaults)
	if err := cfg.validate(); err != nil {
		return RingConfig{}, err
	}

	data, err := s.read()
	if err != nil {
		return RingConfig{}, err
	}
	for i := range data.Configs {
		if data.Configs[i].Slug == cfg.Slug {
			return RingConfig{}, fmt.Errorf("%w: %s", ErrSlugExists, cfg.Slug)
		}
	}

	cfg.ID = uuid.New()
	cfg.CreatedAt = time.Now().UTC()
	cfg.LastRingAt = nil
	cfg.LastRingStatus = ""

	data.Configs = append(data.Configs, cfg)
	if err := s.write(data); err != nil {
		return RingConfig{}, err
	}
	slog.Info("[Store] config created", "config_id", cfg.ID, "name", cfg.Name)
	return cfg, nil
}

// Update applies a partial update to an existing configuration.
func (s *Store) Update(idOrSlug string, upd RingConfigUpdate) (RingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return RingConfig{}, err
	}
	i := findConfig(data.Configs, idOrSlug)
	if i < 0 {
		return RingConfig{}, ErrNotFound
	}

	cfg := data.Configs[i]
	if upd.Name != nil {
		cfg.Name = *upd.Name
	}
	if upd.Slug != nil {
		cfg.Slug = *upd.Slug
	}
	if upd.SIPUser != nil {
		cfg.SIPUser = *upd.SIPUser
	}
	if upd.SIPServer != nil {
		cfg.SIPServer = *upd.SIPServer
	}
	if upd.SIPPort != nil {
		cfg.SIPPort = *upd.SIPPort
	}
	if upd.CallerName != nil {
		cfg.CallerName = *upd.CallerName
	}
	if upd.CallerUser != nil {
		cfg.CallerUser = *upd.CallerUser
	}
	if upd.RingDuration != nil {
		cfg.RingDuration = *upd.RingDuration
	}
	if upd.LocalPort != nil {
		cfg.LocalPort = *upd.LocalPort
	}
	if upd.Enabled != nil {
		cfg.Enabled = *upd.Enabled
	}

	// An emptied slug would make the config unaddressable; regenerate
	// it from the (possibly updated) name.
	if cfg.Slug == "" {
		cfg.Slug = Slugify(cfg.Name)
	}

	if err := cfg.validate(); err != nil {
		return RingConfig{}, err
	}
	for j := range data.Configs {
		if j != i && data.Configs[j].Slug == cfg.Slug {
			return RingConfig{}, fmt.Errorf("%w: %s", ErrSlugExists, cfg.Slug)
		}
	}

	data.Configs[i] = cfg
	if err := s.write(data); err != nil {
		return RingConfig{}, err
	}
	slog.Info("[Store] config updated", "config_id", cfg.ID)
	return cfg, nil
}

// Delete removes a configuration.
func (s *Store) Delete(idOrSlug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	i := findConfig(data.Configs, idOrSlug)
	if i < 0 {
		return ErrNotFound
	}
	id := data.Configs[i].ID
	data.Configs = append(data.Configs[:i], data.Configs[i+1:]...)
	if err := s.write(data); err != nil {
		return err
	}
	slog.Info("[Store] config deleted", "config_id", id)
	return nil
}

// UpdateRingStatus records the result and time of the last ring attempt.
func (s *Store) UpdateRingStatus(id uuid.UUID, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	i := findConfig(data.Configs, id.String())
	if i < 0 {
		return ErrNotFound
	}
	data.Configs[i].LastRingAt = &at
	data.Configs[i].LastRingStatus = status
	return s.write(data)
}
