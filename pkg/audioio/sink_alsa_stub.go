//go:build !linux

package audioio

import (
	"errors"
	"log/slog"
)

func newALSASink(Config, *slog.Logger) (Sink, error) {
	return nil, errors.New("audioio: ALSA playback needs Linux")
}
