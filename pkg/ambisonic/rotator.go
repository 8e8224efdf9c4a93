package ambisonic

import (
	"math"
	"sync"
)

// Rotator rotates an ambisonic sound field.
//
// Angles are in degrees. Yaw turns about +Z (positive moves a source from
// front toward the left), pitch about +Y, roll about +X, composed as
// Rz(yaw)·Ry(pitch)·Rx(roll). The per-band matrices come from the
// Ivanic-Ruedenberg recursion on the first-order rotation.
//
// SetRotation/UpdateMatrix may run on a control goroutine while Process
// runs on the audio goroutine. Neither allocates. The matrix lock is held
// only to copy the matrices, never across the block multiply. Process must
// not be called from two goroutines at once.
type Rotator struct {
	order int

	calc             sync.Mutex // guards angles and scratch
	yaw, pitch, roll float64
	scratch          [][]float64

	mu   sync.Mutex // guards live
	live [][]float64

	snap [][]float64 // Process only
}

// NewRotator creates a rotator at identity.
func NewRotator(order int) *Rotator {
	r := &Rotator{
		order:   order,
		scratch: make([][]float64, order+1),
		live:    make([][]float64, order+1),
		snap:    make([][]float64, order+1),
	}
	for l := 1; l <= order; l++ {
		size := (2*l + 1) * (2*l + 1)
		r.scratch[l] = make([]float64, size)
		r.live[l] = make([]float64, size)
		r.snap[l] = make([]float64, size)
		for i := 0; i <= 2*l; i++ {
			r.live[l][i*(2*l+1)+i] = 1
		}
	}
	return r
}

// Order returns the ambisonic order.
func (r *Rotator) Order() int {
	return r.order
}

// SetRotation stores the target angles. Call UpdateMatrix to apply them.
func (r *Rotator) SetRotation(yaw, pitch, roll float64) {
	r.calc.Lock()
	r.yaw, r.pitch, r.roll = yaw, pitch, roll
	r.calc.Unlock()
}

// Rotation returns the stored angles.
func (r *Rotator) Rotation() (yaw, pitch, roll float64) {
	r.calc.Lock()
	defer r.calc.Unlock()
	return r.yaw, r.pitch, r.roll
}

// UpdateMatrix recomputes the rotation matrices from the stored angles and
// publishes them to Process.
func (r *Rotator) UpdateMatrix() {
	r.calc.Lock()
	defer r.calc.Unlock()

	if r.order < 1 {
		return
	}

	R := rotationMatrix(r.yaw, r.pitch, r.roll)

	// First-order real harmonics are (y, z, x).
	perm := [3]int{1, 2, 0}
	b1 := r.scratch[1]
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			b1[i*3+j] = R[perm[i]][perm[j]]
		}
	}

	for l := 2; l <= r.order; l++ {
		r.computeBand(l)
	}

	r.mu.Lock()
	for l := 1; l <= r.order; l++ {
		copy(r.live[l], r.scratch[l])
	}
	r.mu.Unlock()
}

// Matrix copies the band-l matrix (row-major, (2l+1)²) into dst.
func (r *Rotator) Matrix(l int, dst []float64) {
	r.mu.Lock()
	copy(dst, r.live[l])
	r.mu.Unlock()
}

// Process rotates n frames. in and out hold ChannelCount(order) channels
// and must not alias.
func (r *Rotator) Process(in, out [][]float64, n int) {
	copy(out[0][:n], in[0][:n])

	r.mu.Lock()
	for l := 1; l <= r.order; l++ {
		copy(r.snap[l], r.live[l])
	}
	r.mu.Unlock()

	for l := 1; l <= r.order; l++ {
		width := 2*l + 1
		base := l * l
		m := r.snap[l]
		for i := 0; i < width; i++ {
			dst := out[base+i][:n]
			clear(dst)
			row := m[i*width : (i+1)*width]
			for j, coeff := range row {
				if coeff == 0 {
					continue
				}
				src := in[base+j][:n]
				for k := range dst {
					dst[k] += coeff * src[k]
				}
			}
		}
	}
}

func rotationMatrix(yaw, pitch, roll float64) [3][3]float64 {
	a, b, c := yaw*math.Pi/180, pitch*math.Pi/180, roll*math.Pi/180
	ca, sa := math.Cos(a), math.Sin(a)
	cb, sb := math.Cos(b), math.Sin(b)
	cc, sc := math.Cos(c), math.Sin(c)

	return [3][3]float64{
		{ca * cb, ca*sb*sc - sa*cc, ca*sb*cc + sa*sc},
		{sa * cb, sa*sb*sc + ca*cc, sa*sb*cc - ca*sc},
		{-sb, cb * sc, cb * cc},
	}
}

// r1 reads the first-order matrix at (i, j), i and j in {-1, 0, 1}.
func (r *Rotator) r1(i, j int) float64 {
	return r.scratch[1][(i+1)*3+(j+1)]
}

// prev reads band l-1 at (a, b).
func (r *Rotator) prev(l, a, b int) float64 {
	width := 2*l - 1
	return r.scratch[l-1][(a+l-1)*width+(b+l-1)]
}

func (r *Rotator) p(i, l, a, b int) float64 {
	ri1, rim1, ri0 := r.r1(i, 1), r.r1(i, -1), r.r1(i, 0)
	switch b {
	case -l:
		return ri1*r.prev(l, a, -l+1) + rim1*r.prev(l, a, l-1)
	case l:
		return ri1*r.prev(l, a, l-1) - rim1*r.prev(l, a, -l+1)
	default:
		return ri0 * r.prev(l, a, b)
	}
}

func (r *Rotator) computeBand(l int) {
	width := 2*l + 1
	cur := r.scratch[l]

	for m := -l; m <= l; m++ {
		am := abs(m)
		d := float64(kronecker(m))
		for n := -l; n <= l; n++ {
			var denom float64
			if abs(n) == l {
				denom = float64(2 * l * (2*l - 1))
			} else {
				denom = float64(l*l - n*n)
			}

			u := math.Sqrt(float64(l*l-m*m) / denom)
			v := math.Sqrt((1+d)*float64((l+am-1)*(l+am))/denom) * (1 - 2*d) * 0.5
			w := math.Sqrt(float64((l-am-1)*(l-am))/denom) * (1 - d) * -0.5

			var val float64
			if u != 0 {
				val += u * r.p(0, l, m, n)
			}
			if v != 0 {
				val += v * r.v(l, m, n)
			}
			if w != 0 {
				val += w * r.w(l, m, n)
			}
			cur[(m+l)*width+(n+l)] = val
		}
	}
}

func (r *Rotator) v(l, m, n int) float64 {
	switch {
	case m == 0:
		return r.p(1, l, 1, n) + r.p(-1, l, -1, n)
	case m > 0:
		d := float64(kronecker(m - 1))
		return r.p(1, l, m-1, n)*math.Sqrt(1+d) - r.p(-1, l, -m+1, n)*(1-d)
	default:
		d := float64(kronecker(m + 1))
		return r.p(1, l, m+1, n)*(1-d) + r.p(-1, l, -m-1, n)*math.Sqrt(1+d)
	}
}

func (r *Rotator) w(l, m, n int) float64 {
	if m > 0 {
		return r.p(1, l, m+1, n) + r.p(-1, l, -m-1, n)
	}
	return r.p(1, l, m-1, n) - r.p(-1, l, -m+1, n)
}
