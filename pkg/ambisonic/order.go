// Package ambisonic implements the two processing stages between an
// ambisonic stream and headphones: a scene rotator and a binaural decoder.
//
// Channels are in ACN order with SN3D normalization. Order N carries
// (N+1)² channels.
package ambisonic

import "math"

// DefaultOrder is the ambisonic order of the streams this player expects.
const DefaultOrder = 4

// ChannelCount returns (order+1)².
func ChannelCount(order int) int {
	return (order + 1) * (order + 1)
}

// ACN returns the channel index of degree l, order m.
func ACN(l, m int) int {
	return l*l + l + m
}

// DegreeOrder returns (l, m) for an ACN channel index.
func DegreeOrder(acn int) (l, m int) {
	l = int(math.Sqrt(float64(acn)))
	for (l+1)*(l+1) <= acn {
		l++
	}
	for l*l > acn {
		l--
	}
	return l, acn - l*l - l
}

// Encode writes the SN3D real spherical harmonics of a unit direction
// (azimuth counterclockwise from +X, elevation up from the horizon, both in
// degrees) into out, which must hold ChannelCount(order) values.
func Encode(order int, azimuth, elevation float64, out []float64) {
	az := azimuth * math.Pi / 180
	sinEl := math.Sin(elevation * math.Pi / 180)

	for l := 0; l <= order; l++ {
		for m := -l; m <= l; m++ {
			am := abs(m)
			norm := math.Sqrt(float64(2-kronecker(m)) * factorialRatio(l-am, l+am))
			p := legendre(l, am, sinEl)
			if m >= 0 {
				out[ACN(l, m)] = norm * p * math.Cos(float64(am)*az)
			} else {
				out[ACN(l, m)] = norm * p * math.Sin(float64(am)*az)
			}
		}
	}
}

// legendre evaluates the associated Legendre function P_l^m(x) without the
// Condon-Shortley phase, m >= 0.
func legendre(l, m int, x float64) float64 {
	pmm := 1.0
	if m > 0 {
		somx2 := math.Sqrt((1 - x) * (1 + x))
		fact := 1.0
		for i := 1; i <= m; i++ {
			pmm *= fact * somx2
			fact += 2
		}
	}
	if l == m {
		return pmm
	}
	pmmp1 := x * float64(2*m+1) * pmm
	if l == m+1 {
		return pmmp1
	}
	var pll float64
	for ll := m + 2; ll <= l; ll++ {
		pll = (float64(2*ll-1)*x*pmmp1 - float64(ll+m-1)*pmm) / float64(ll-m)
		pmm, pmmp1 = pmmp1, pll
	}
	return pll
}

// factorialRatio returns a!/b! for a <= b.
func factorialRatio(a, b int) float64 {
	r := 1.0
	for i := a + 1; i <= b; i++ {
		r /= float64(i)
	}
	return r
}

func kronecker(m int) int {
	if m == 0 {
		return 1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
