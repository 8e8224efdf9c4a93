package audioio

import (
	"context"
	"io"
)

// Sink is a headphone output fed with interleaved PCM16 blocks.
type Sink interface {
	// Start opens the device. Writes before Start are rejected.
	Start(ctx context.Context) error

	// Stop closes the device and drops queued audio. It may be called
	// repeatedly; a stopped sink can be started again.
	Stop() error

	// Write queues one block. It may block while the device buffer is
	// full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush waits until queued audio has played.
	Flush(ctx context.Context) error

	// Clear drops queued audio, for seeks and track changes.
	Clear() error

	Config() Config
	Name() string
	Stats() SinkStats

	// Close stops the sink for good.
	io.Closer
}

// SinkStats are output counters.
type SinkStats struct {
	Backend         string `json:"backend"`
	Running         bool   `json:"running"`
	ChunksWritten   int64  `json:"chunks_written"`
	SamplesWritten  int64  `json:"samples_written"`
	Underruns       int64  `json:"underruns"`
	BufferedSamples int64  `json:"buffered_samples"`
}
