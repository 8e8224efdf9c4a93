package media

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/teslashibe/go-binaural/internal/httpc"
)

var (
	// ErrInvalidDuration is returned for a string without a PT duration.
	ErrInvalidDuration = errors.New("media: invalid ISO-8601 duration")

	// ErrNoDuration is returned for a manifest without
	// mediaPresentationDuration.
	ErrNoDuration = errors.New("media: manifest has no duration")
)

var isoDuration = regexp.MustCompile(`PT(\d+H)?(\d+M)?(\d+\.?\d*S)?`)

// ParseISODuration converts a "PT#H#M#.#S" duration to seconds. Missing
// components count as zero, so "PT" alone is 0.
func ParseISODuration(s string) (float64, error) {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	part := func(v, unit string) float64 {
		if v == "" {
			return 0
		}
		f, _ := strconv.ParseFloat(strings.TrimSuffix(v, unit), 64)
		return f
	}

	return part(m[1], "H")*3600 + part(m[2], "M")*60 + part(m[3], "S"), nil
}

type mpd struct {
	XMLName  xml.Name `xml:"MPD"`
	Duration string   `xml:"mediaPresentationDuration,attr"`
}

// ParseManifestDuration reads MPD@mediaPresentationDuration from a DASH
// manifest.
func ParseManifestDuration(data []byte) (float64, error) {
	var doc mpd
	if err := xml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("media: parse manifest: %w", err)
	}
	if doc.Duration == "" {
		return 0, ErrNoDuration
	}
	return ParseISODuration(doc.Duration)
}

// ManifestDuration fetches a DASH manifest and returns its duration in
// seconds. A nil client uses the shared client.
func ManifestDuration(ctx context.Context, client *http.Client, url string) (float64, error) {
	data, err := httpc.Fetch(ctx, client, url)
	if err != nil {
		return 0, err
	}
	return ParseManifestDuration(data)
}

// IsManifest reports whether locator names a DASH manifest.
func IsManifest(locator string) bool {
	path := locator
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".mpd")
}
