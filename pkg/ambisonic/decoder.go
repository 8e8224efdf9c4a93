package ambisonic

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/conv"
	"github.com/cwbudde/algo-dsp/dsp/core"
)

// Convolution partitioning. The smallest partition sets the decoder latency
// (2^6 = 64 samples).
const (
	MinBlockOrder = 6
	MaxBlockOrder = 13
)

var (
	// ErrFilterCount is returned when a filter set does not match the order.
	ErrFilterCount = errors.New("ambisonic: filter channel count does not match order")

	// ErrEmptyFilter is returned for a zero-length filter channel.
	ErrEmptyFilter = errors.New("ambisonic: empty filter")
)

type decoderState struct {
	convs     []*conv.PartitionedConvolution
	antisym   []bool
	scratch   []float64
	sym, anti []float64
}

// BinauralDecoder renders an ambisonic field to two ears with one filter
// per SH channel. Left/right symmetry of the head means the right ear uses
// the same filters with the sign of every m<0 channel flipped:
// left = S + A, right = S - A, where S sums the m>=0 channels and A the
// m<0 channels.
type BinauralDecoder struct {
	order    int
	channels int
	state    atomic.Pointer[decoderState]
}

// NewBinauralDecoder creates a decoder with no filters; it outputs silence
// until UpdateFilters succeeds.
func NewBinauralDecoder(order int) *BinauralDecoder {
	return &BinauralDecoder{order: order, channels: ChannelCount(order)}
}

// Order returns the ambisonic order.
func (d *BinauralDecoder) Order() int {
	return d.order
}

// Loaded reports whether filters are installed.
func (d *BinauralDecoder) Loaded() bool {
	return d.state.Load() != nil
}

// UpdateFilters installs one impulse response per ACN channel.
func (d *BinauralDecoder) UpdateFilters(filters [][]float64) error {
	if len(filters) != d.channels {
		return fmt.Errorf("%w: got %d, want %d", ErrFilterCount, len(filters), d.channels)
	}

	st := &decoderState{
		convs:   make([]*conv.PartitionedConvolution, d.channels),
		antisym: make([]bool, d.channels),
	}
	for ch, kernel := range filters {
		if len(kernel) == 0 {
			return fmt.Errorf("%w: channel %d", ErrEmptyFilter, ch)
		}
		c, err := conv.NewPartitionedConvolution(kernel, MinBlockOrder, MaxBlockOrder)
		if err != nil {
			return fmt.Errorf("ambisonic: channel %d: %w", ch, err)
		}
		st.convs[ch] = c
		_, m := DegreeOrder(ch)
		st.antisym[ch] = m < 0
	}

	d.state.Store(st)
	return nil
}

// Latency returns the decoder delay in samples.
func (d *BinauralDecoder) Latency() int {
	return 1 << MinBlockOrder
}

// Process decodes n frames of in into left and right. Must only be called
// from one goroutine.
func (d *BinauralDecoder) Process(in [][]float64, left, right []float64, n int) {
	st := d.state.Load()
	if st == nil {
		clear(left[:n])
		clear(right[:n])
		return
	}

	st.scratch = core.EnsureLen(st.scratch, n)
	st.sym = core.EnsureLen(st.sym, n)
	st.anti = core.EnsureLen(st.anti, n)
	clear(st.sym)
	clear(st.anti)

	for ch, c := range st.convs {
		if err := c.ProcessBlock(in[ch][:n], st.scratch); err != nil {
			continue
		}
		acc := st.sym
		if st.antisym[ch] {
			acc = st.anti
		}
		for i, v := range st.scratch {
			acc[i] += v
		}
	}

	for i := 0; i < n; i++ {
		left[i] = core.FlushDenormals(st.sym[i] + st.anti[i])
		right[i] = core.FlushDenormals(st.sym[i] - st.anti[i])
	}
}
