package stream

import "github.com/teslashibe/go-binaural/pkg/audioio"

// Framer regroups rendered stereo blocks of any size into fixed-size
// interleaved PCM16 frames, the unit the Opus encoder takes.
type Framer struct {
	frameSize int // frames per channel
	buf       []int16
	fill      int
}

// NewFramer creates a framer emitting frames of frameSize samples per
// channel.
func NewFramer(frameSize int) *Framer {
	return &Framer{
		frameSize: frameSize,
		buf:       make([]int16, 2*frameSize),
	}
}

// Push appends one block and calls emit for every frame completed. The
// slice passed to emit is reused after emit returns.
func (f *Framer) Push(left, right []float64, emit func(frame []int16)) {
	n := min(len(left), len(right))
	for i := 0; i < n; i++ {
		f.buf[2*f.fill] = audioio.FloatToPCM16(left[i])
		f.buf[2*f.fill+1] = audioio.FloatToPCM16(right[i])
		f.fill++
		if f.fill == f.frameSize {
			emit(f.buf)
			f.fill = 0
		}
	}
}

// Reset drops a partially filled frame.
func (f *Framer) Reset() {
	f.fill = 0
}

// Pending returns how many samples per channel are waiting for a full frame.
func (f *Framer) Pending() int {
	return f.fill
}
