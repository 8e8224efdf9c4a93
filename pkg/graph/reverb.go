package graph

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/effects/reverb"
	"github.com/cwbudde/algo-dsp/dsp/resample"

	"github.com/teslashibe/go-binaural/pkg/ambisonic"
)

// Convolver loudness calibration, matching browser convolver nodes so impulse
// files tuned there sound the same here.
const (
	gainCalibration           = 0.00125
	gainCalibrationSampleRate = 44100.0
	minPower                  = 0.000125
)

// wetPath is one installed impulse: a convolver per ear plus scratch.
// Only the render goroutine touches it once published.
type wetPath struct {
	left, right *reverb.ConvolutionReverb
	bufL, bufR  []float64
}

// buildWetPath decodes a WAV impulse response and prepares per-ear
// convolvers at sampleRate. A mono impulse feeds both ears; for two or more
// channels the first goes left and the second right.
func buildWetPath(data []byte, sampleRate, blockSize int) (*wetPath, error) {
	channels, rate, err := ambisonic.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 || len(channels[0]) == 0 {
		return nil, ErrNoImpulse
	}
	if len(channels) > 2 {
		channels = channels[:2]
	}

	scale := normalizationScale(channels, rate)

	if rate != sampleRate {
		channels, err = resampleChannels(channels, rate, sampleRate)
		if err != nil {
			return nil, err
		}
	}

	for _, ch := range channels {
		for i := range ch {
			ch[i] *= scale
		}
	}

	left, err := newConvolver(channels[0])
	if err != nil {
		return nil, err
	}
	rightKernel := channels[0]
	if len(channels) > 1 {
		rightKernel = channels[1]
	}
	right, err := newConvolver(rightKernel)
	if err != nil {
		return nil, err
	}

	return &wetPath{
		left:  left,
		right: right,
		bufL:  make([]float64, blockSize),
		bufR:  make([]float64, blockSize),
	}, nil
}

func newConvolver(kernel []float64) (*reverb.ConvolutionReverb, error) {
	c, err := reverb.NewConvolutionReverb(kernel, ambisonic.MinBlockOrder)
	if err != nil {
		return nil, err
	}
	c.SetWetDry(1, 0)
	return c, nil
}

// normalizationScale returns the gain that brings an impulse to calibrated
// loudness: 1/rms, times the calibration constants.
func normalizationScale(channels [][]float64, sampleRate int) float64 {
	var sum float64
	var count int
	for _, ch := range channels {
		for _, v := range ch {
			sum += v * v
		}
		count += len(ch)
	}

	power := math.Sqrt(sum / float64(count))
	if math.IsNaN(power) || math.IsInf(power, 0) || power < minPower {
		power = minPower
	}

	scale := gainCalibration / power
	if sampleRate > 0 {
		scale *= gainCalibrationSampleRate / float64(sampleRate)
	}
	return scale
}

func resampleChannels(channels [][]float64, from, to int) ([][]float64, error) {
	out := make([][]float64, len(channels))
	for i, ch := range channels {
		r, err := resample.NewForRates(float64(from), float64(to))
		if err != nil {
			return nil, fmt.Errorf("resample %d -> %d: %w", from, to, err)
		}
		out[i] = r.Process(ch)
		if len(out[i]) == 0 {
			return nil, ErrNoImpulse
		}
	}
	return out, nil
}

// process adds the wet signal for one block into left and right. in holds
// the post-output-gain signal; gain is wet × reverb gain.
func (w *wetPath) process(inL, inR, left, right []float64, gain float64) error {
	n := len(inL)
	if cap(w.bufL) < n {
		w.bufL = make([]float64, n)
		w.bufR = make([]float64, n)
	}
	bl, br := w.bufL[:n], w.bufR[:n]
	copy(bl, inL)
	copy(br, inR)

	if err := w.left.ProcessInPlace(bl); err != nil {
		return err
	}
	if err := w.right.ProcessInPlace(br); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		left[i] += gain * bl[i]
		right[i] += gain * br[i]
	}
	return nil
}
