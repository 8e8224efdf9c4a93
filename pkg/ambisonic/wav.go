package ambisonic

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned for data that is not a PCM WAV file.
var ErrInvalidWAV = errors.New("ambisonic: invalid wav data")

// DecodeWAV decodes integer PCM WAV data into per-channel samples in
// [-1, 1] and returns the sample rate.
func DecodeWAV(data []byte) ([][]float64, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, fmt.Errorf("%w: no channels", ErrInvalidWAV)
	}

	numCh := buf.Format.NumChannels
	frames := len(buf.Data) / numCh
	if frames == 0 {
		return nil, 0, fmt.Errorf("%w: no samples", ErrInvalidWAV)
	}

	bitDepth := int(dec.BitDepth)
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, 0, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bitDepth)
	}

	scale := 1 / float64(int64(1)<<(bitDepth-1))
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}

	out := make([][]float64, numCh)
	for ch := range out {
		out[ch] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < numCh; ch++ {
			out[ch][i] = float64(buf.Data[i*numCh+ch]-offset) * scale
		}
	}

	return out, buf.Format.SampleRate, nil
}

// EncodeWAV writes per-channel samples as 16-bit PCM WAV.
func EncodeWAV(channels [][]float64, sampleRate int) ([]byte, error) {
	if len(channels) == 0 || len(channels[0]) == 0 {
		return nil, errors.New("ambisonic: nothing to encode")
	}

	numCh := len(channels)
	frames := len(channels[0])
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numCh, SampleRate: sampleRate},
		Data:           make([]int, frames*numCh),
		SourceBitDepth: 16,
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < numCh; ch++ {
			v := channels[ch][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			buf.Data[i*numCh+ch] = int(v * 32767)
		}
	}

	ws := &seekBuffer{}
	enc := wav.NewEncoder(ws, sampleRate, 16, numCh, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("ambisonic: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("ambisonic: finish wav: %w", err)
	}
	return ws.buf, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(s.pos) + offset
	case io.SeekEnd:
		pos = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(pos)
	return pos, nil
}
