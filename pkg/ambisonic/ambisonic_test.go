package ambisonic

import (
	"errors"
	"math"
	"testing"
)

func TestChannelCount(t *testing.T) {
	tests := []struct{ order, want int }{{0, 1}, {1, 4}, {2, 9}, {3, 16}, {4, 25}}
	for _, tt := range tests {
		if got := ChannelCount(tt.order); got != tt.want {
			t.Errorf("ChannelCount(%d) = %d, want %d", tt.order, got, tt.want)
		}
	}
}

func TestDegreeOrder(t *testing.T) {
	for acn := 0; acn < ChannelCount(6); acn++ {
		l, m := DegreeOrder(acn)
		if m < -l || m > l || ACN(l, m) != acn {
			t.Fatalf("DegreeOrder(%d) = (%d, %d)", acn, l, m)
		}
	}
}

func TestEncode_FirstOrder(t *testing.T) {
	tests := []struct {
		name       string
		az, el     float64
		w, y, z, x float64
	}{
		{"front", 0, 0, 1, 0, 0, 1},
		{"left", 90, 0, 1, 1, 0, 0},
		{"up", 0, 90, 1, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float64, 4)
			Encode(1, tt.az, tt.el, out)
			want := []float64{tt.w, tt.y, tt.z, tt.x}
			for i := range want {
				if math.Abs(out[i]-want[i]) > 1e-12 {
					t.Fatalf("Encode = %v, want %v", out, want)
				}
			}
		})
	}
}

// planeWave returns an n-frame field of a constant-gain source.
func planeWave(order int, az, el float64, n int) [][]float64 {
	gains := make([]float64, ChannelCount(order))
	Encode(order, az, el, gains)
	field := make([][]float64, len(gains))
	for ch, g := range gains {
		field[ch] = make([]float64, n)
		for i := range field[ch] {
			field[ch][i] = g
		}
	}
	return field
}

func newField(order, n int) [][]float64 {
	field := make([][]float64, ChannelCount(order))
	for ch := range field {
		field[ch] = make([]float64, n)
	}
	return field
}

func TestRotator_Identity(t *testing.T) {
	r := NewRotator(4)
	in := planeWave(4, 37, -12, 8)
	out := newField(4, 8)

	r.Process(in, out, 8)

	for ch := range in {
		if math.Abs(in[ch][3]-out[ch][3]) > 1e-12 {
			t.Fatalf("channel %d changed under identity: %v -> %v", ch, in[ch][3], out[ch][3])
		}
	}
}

func TestRotator_YawMovesFrontToLeft(t *testing.T) {
	r := NewRotator(1)
	r.SetRotation(90, 0, 0)
	r.UpdateMatrix()

	in := planeWave(1, 0, 0, 4)
	out := newField(1, 4)
	r.Process(in, out, 4)

	// ACN 1 is Y (left), ACN 3 is X (front).
	if math.Abs(out[1][0]-1) > 1e-12 || math.Abs(out[3][0]) > 1e-12 {
		t.Errorf("after yaw 90: Y=%v X=%v, want Y=1 X=0", out[1][0], out[3][0])
	}
}

func TestRotator_MatchesRotatedEncoding(t *testing.T) {
	const order = 4
	angles := [][3]float64{
		{30, 0, 0},
		{0, 25, 0},
		{0, 0, -40},
		{-62, 17, 33},
		{75, -75, 75},
	}

	for _, a := range angles {
		r := NewRotator(order)
		r.SetRotation(a[0], a[1], a[2])
		r.UpdateMatrix()

		az, el := 20.0, 10.0
		in := planeWave(order, az, el, 2)
		out := newField(order, 2)
		r.Process(in, out, 2)

		// Rotate the source direction and encode it directly.
		d := [3]float64{
			math.Cos(el*math.Pi/180) * math.Cos(az*math.Pi/180),
			math.Cos(el*math.Pi/180) * math.Sin(az*math.Pi/180),
			math.Sin(el * math.Pi / 180),
		}
		R := rotationMatrix(a[0], a[1], a[2])
		var rd [3]float64
		for i := range 3 {
			rd[i] = R[i][0]*d[0] + R[i][1]*d[1] + R[i][2]*d[2]
		}
		want := make([]float64, ChannelCount(order))
		Encode(order, math.Atan2(rd[1], rd[0])*180/math.Pi, math.Asin(rd[2])*180/math.Pi, want)

		for ch := range want {
			if math.Abs(out[ch][1]-want[ch]) > 1e-9 {
				t.Fatalf("angles %v channel %d: got %v, want %v", a, ch, out[ch][1], want[ch])
			}
		}
	}
}

func TestRotator_MatricesAreOrthogonal(t *testing.T) {
	r := NewRotator(3)
	r.SetRotation(12, -48, 70)
	r.UpdateMatrix()

	for l := 1; l <= 3; l++ {
		w := 2*l + 1
		m := make([]float64, w*w)
		r.Matrix(l, m)
		for i := 0; i < w; i++ {
			for j := 0; j < w; j++ {
				var dot float64
				for k := 0; k < w; k++ {
					dot += m[i*w+k] * m[j*w+k]
				}
				want := 0.0
				if i == j {
					want = 1
				}
				if math.Abs(dot-want) > 1e-9 {
					t.Fatalf("band %d rows %d,%d: dot %v, want %v", l, i, j, dot, want)
				}
			}
		}
	}
}

func TestRotator_UpdateDoesNotAllocate(t *testing.T) {
	r := NewRotator(4)
	allocs := testing.AllocsPerRun(100, func() {
		r.SetRotation(10, 20, 30)
		r.UpdateMatrix()
	})
	if allocs != 0 {
		t.Errorf("UpdateMatrix allocated %v times per run", allocs)
	}
}

func deltaFilters(order int) [][]float64 {
	filters := make([][]float64, ChannelCount(order))
	for ch := range filters {
		filters[ch] = []float64{1}
	}
	return filters
}

func TestBinauralDecoder_SilentUntilLoaded(t *testing.T) {
	d := NewBinauralDecoder(1)
	in := planeWave(1, 0, 0, 32)
	left, right := make([]float64, 32), make([]float64, 32)
	for i := range left {
		left[i], right[i] = 1, 1
	}

	d.Process(in, left, right, 32)

	if d.Loaded() {
		t.Fatal("decoder should not report loaded")
	}
	for i := range left {
		if left[i] != 0 || right[i] != 0 {
			t.Fatal("decoder without filters should output silence")
		}
	}
}

func TestBinauralDecoder_Symmetry(t *testing.T) {
	const n = 256
	d := NewBinauralDecoder(1)
	if err := d.UpdateFilters(deltaFilters(1)); err != nil {
		t.Fatalf("UpdateFilters failed: %v", err)
	}

	tests := []struct {
		name      string
		channel   int
		wantLeft  float64
		wantRight float64
	}{
		{"omni", 0, 1, 1},
		{"left-right (m<0)", 1, 1, -1},
		{"front (m>0)", 3, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newField(1, n)
			in[tt.channel][0] = 1
			left, right := make([]float64, n), make([]float64, n)

			// Flush whatever previous subtests left in the pipeline.
			silence := newField(1, n)
			d.Process(silence, left, right, n)
			d.Process(silence, left, right, n)

			d.Process(in, left, right, n)

			lat := d.Latency()
			if math.Abs(left[lat]-tt.wantLeft) > 1e-9 || math.Abs(right[lat]-tt.wantRight) > 1e-9 {
				t.Errorf("impulse at latency: left=%v right=%v, want %v/%v",
					left[lat], right[lat], tt.wantLeft, tt.wantRight)
			}
		})
	}
}

func TestBinauralDecoder_RejectsWrongFilterCount(t *testing.T) {
	d := NewBinauralDecoder(4)
	if err := d.UpdateFilters(deltaFilters(3)); !errors.Is(err, ErrFilterCount) {
		t.Errorf("expected ErrFilterCount, got %v", err)
	}
	if d.Loaded() {
		t.Error("failed update should leave decoder unloaded")
	}

	filters := deltaFilters(4)
	filters[5] = nil
	if err := d.UpdateFilters(filters); !errors.Is(err, ErrEmptyFilter) {
		t.Errorf("expected ErrEmptyFilter, got %v", err)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	channels := [][]float64{
		{0, 0.5, -0.5, 0.25},
		{1, -1, 0, 0.125},
		{0.1, 0.2, 0.3, 0.4},
	}

	data, err := EncodeWAV(channels, 48000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	got, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 48000 {
		t.Errorf("rate = %d, want 48000", rate)
	}
	if len(got) != 3 || len(got[0]) != 4 {
		t.Fatalf("shape = %dx%d, want 3x4", len(got), len(got[0]))
	}
	for ch := range channels {
		for i := range channels[ch] {
			if math.Abs(got[ch][i]-channels[ch][i]) > 1e-3 {
				t.Errorf("ch %d sample %d = %v, want %v", ch, i, got[ch][i], channels[ch][i])
			}
		}
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("definitely not a wav file")); !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("expected ErrInvalidWAV, got %v", err)
	}
}

func TestRotator_ConcurrentUpdatePreservesBandEnergy(t *testing.T) {
	const order, n = 3, 64
	r := NewRotator(order)

	in := make([][]float64, ChannelCount(order))
	out := make([][]float64, ChannelCount(order))
	for ch := range in {
		in[ch] = make([]float64, n)
		out[ch] = make([]float64, n)
		for k := range in[ch] {
			in[ch][k] = math.Sin(float64(ch*7+k) * 0.37)
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			r.SetRotation(float64(i%360), float64(i%90)-45, float64(i%60)-30)
			r.UpdateMatrix()
		}
	}()

	// Every band matrix is orthogonal, so a coherent snapshot keeps each
	// band's energy per frame. A matrix torn between two updates would not.
	for block := 0; block < 200; block++ {
		r.Process(in, out, n)
		for l := 1; l <= order; l++ {
			for k := 0; k < n; k++ {
				var ein, eout float64
				for ch := l * l; ch < (l+1)*(l+1); ch++ {
					ein += in[ch][k] * in[ch][k]
					eout += out[ch][k] * out[ch][k]
				}
				if math.Abs(ein-eout) > 1e-9 {
					close(stop)
					<-done
					t.Fatalf("block %d band %d frame %d: energy %v in, %v out", block, l, k, ein, eout)
				}
			}
		}
	}
	close(stop)
	<-done
}
