package camera

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownPreset is returned for a preset name not in Presets.
var ErrUnknownPreset = errors.New("camera: unknown preset")

// ConfigError lists why a configuration was rejected.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "camera: invalid config: " + strings.Join(e.Problems, "; ")
}

// Patch is a partial update. A preset is applied first, then the
// individual fields on top of it.
type Patch struct {
	Preset    *string `json:"preset,omitempty"`
	Device    *int    `json:"device,omitempty"`
	Width     *int    `json:"width,omitempty"`
	Height    *int    `json:"height,omitempty"`
	Framerate *int    `json:"framerate,omitempty"`
	Quality   *int    `json:"quality,omitempty"`
}

// Apply returns cfg with the patch applied. The device survives a preset.
func (p Patch) Apply(cfg Config) (Config, error) {
	if p.Preset != nil {
		preset := GetPreset(*p.Preset)
		if preset == nil {
			return cfg, fmt.Errorf("%w %q", ErrUnknownPreset, *p.Preset)
		}
		device := cfg.Device
		cfg = *preset
		cfg.Device = device
	}
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.Device, p.Device)
	set(&cfg.Width, p.Width)
	set(&cfg.Height, p.Height)
	set(&cfg.Framerate, p.Framerate)
	set(&cfg.Quality, p.Quality)
	return cfg, nil
}

// Manager holds the camera configuration shared by the capture and the
// control API.
type Manager struct {
	mu     sync.Mutex
	config Config

	// OnConfigChange applies a new configuration to the open device. When
	// it fails the previous configuration is restored.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager starting from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current configuration.
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// SetConfig validates and applies cfg. Updates are serialized so a
// reconfigure never races another.
func (m *Manager) SetConfig(cfg Config) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.config
	m.config = cfg
	if m.OnConfigChange == nil {
		return nil
	}
	if err := m.OnConfigChange(cfg); err != nil {
		m.config = prev
		return fmt.Errorf("camera: apply config: %w", err)
	}
	return nil
}

// Update applies a patch to the current configuration.
func (m *Manager) Update(p Patch) (Config, error) {
	cfg, err := p.Apply(m.GetConfig())
	if err != nil {
		return m.GetConfig(), err
	}
	if err := m.SetConfig(cfg); err != nil {
		return m.GetConfig(), err
	}
	return cfg, nil
}
