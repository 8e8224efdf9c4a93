package audioio

import "math"

// AudioChunk represents a chunk of audio data.
type AudioChunk struct {
	// Samples contains interleaved PCM16 audio samples.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Bytes returns the raw little-endian bytes of the audio chunk.
func (c *AudioChunk) Bytes() []byte {
	buf := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// FromBytes populates the chunk from raw PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = make([]int16, len(data)/2)
	for i := range c.Samples {
		c.Samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
}

// Duration returns the duration of this audio chunk in seconds.
func (c *AudioChunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Frames returns the number of frames in the chunk.
func (c *AudioChunk) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// StereoChunk interleaves left and right into a PCM16 chunk, reusing buf
// when it is large enough. Samples outside [-1, 1] are clipped.
func StereoChunk(left, right []float64, sampleRate int, buf []int16) AudioChunk {
	n := len(left)
	if cap(buf) < 2*n {
		buf = make([]int16, 2*n)
	}
	buf = buf[:2*n]
	for i := 0; i < n; i++ {
		buf[2*i] = FloatToPCM16(left[i])
		buf[2*i+1] = FloatToPCM16(right[i])
	}
	return AudioChunk{Samples: buf, SampleRate: sampleRate, Channels: 2}
}

// FloatToPCM16 converts a sample in [-1, 1] to int16 with clipping.
func FloatToPCM16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	if v >= 1 {
		return math.MaxInt16
	}
	if v <= -1 {
		return -math.MaxInt16
	}
	return int16(math.Round(v * math.MaxInt16))
}
