package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"BINAURAL_PORT", "BINAURAL_TRACKS", "BINAURAL_FILTERS", "BINAURAL_ORDER",
		"BINAURAL_REVERB", "BINAURAL_SINK", "BINAURAL_SAMPLE_RATE",
		"BINAURAL_BLOCK_SIZE", "BINAURAL_LOAD_TIMEOUT", "BINAURAL_WEBRTC",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %q, want %q", cfg.Port, DefaultPort)
	}
	if cfg.Order != 4 {
		t.Errorf("Order = %d, want 4", cfg.Order)
	}
	if cfg.LoadTimeout != 10*time.Second {
		t.Errorf("LoadTimeout = %v, want 10s", cfg.LoadTimeout)
	}
	if cfg.WebRTC {
		t.Error("WebRTC should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BINAURAL_ORDER", "3")
	t.Setenv("BINAURAL_LOAD_TIMEOUT", "2s")
	t.Setenv("BINAURAL_WEBRTC", "true")
	t.Setenv("BINAURAL_BLOCK_SIZE", "not-a-number")

	cfg := Load()

	if cfg.Order != 3 {
		t.Errorf("Order = %d, want 3", cfg.Order)
	}
	if cfg.LoadTimeout != 2*time.Second {
		t.Errorf("LoadTimeout = %v, want 2s", cfg.LoadTimeout)
	}
	if !cfg.WebRTC {
		t.Error("WebRTC should be true")
	}
	if cfg.BlockSize != DefaultBlockSize {
		t.Errorf("invalid BlockSize should fall back, got %d", cfg.BlockSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"order zero", func(c *Config) { c.Order = 0 }, true},
		{"order too high", func(c *Config) { c.Order = 8 }, true},
		{"no port", func(c *Config) { c.Port = "" }, true},
		{"bad block", func(c *Config) { c.BlockSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTracks(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "tracks.toml")
	os.WriteFile(good, []byte(`
[[track]]
title = "One"
locator = "https://example.com/one.mpd"

[[track]]
title = "Two"
locator = "https://example.com/two.mpd"
`), 0o644)

	tracks, err := LoadTracks(good)
	if err != nil {
		t.Fatalf("LoadTracks failed: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	if tracks[1].Locator != "https://example.com/two.mpd" {
		t.Errorf("unexpected locator %q", tracks[1].Locator)
	}

	empty := filepath.Join(dir, "empty.toml")
	os.WriteFile(empty, []byte("# nothing\n"), 0o644)
	if _, err := LoadTracks(empty); !errors.Is(err, ErrNoTracks) {
		t.Errorf("expected ErrNoTracks, got %v", err)
	}

	missing := filepath.Join(dir, "nolocator.toml")
	os.WriteFile(missing, []byte("[[track]]\ntitle = \"x\"\n"), 0o644)
	if _, err := LoadTracks(missing); err == nil {
		t.Error("expected error for track without locator")
	}
}
