package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// TrackEntry is one [[track]] table in the tracks file.
//
//	[[track]]
//	title   = "Forest at dawn"
//	locator = "https://cdn.example.com/forest/manifest.mpd"
type TrackEntry struct {
	Title   string `toml:"title"`
	Locator string `toml:"locator"`
}

type tracksFile struct {
	Tracks []TrackEntry `toml:"track"`
}

// ErrNoTracks is returned when a tracks file parses but lists nothing.
var ErrNoTracks = errors.New("config: tracks file lists no tracks")

// LoadTracks reads the track list from a TOML file.
func LoadTracks(path string) ([]TrackEntry, error) {
	var raw tracksFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("config: read tracks %s: %w", path, err)
	}
	if len(raw.Tracks) == 0 {
		return nil, ErrNoTracks
	}
	for i, tr := range raw.Tracks {
		if tr.Locator == "" {
			return nil, fmt.Errorf("config: track %d has no locator", i)
		}
	}
	return raw.Tracks, nil
}
