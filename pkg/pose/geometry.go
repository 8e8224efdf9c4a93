package pose

import (
	"math"

	"github.com/teslashibe/go-binaural/pkg/orientation"
)

type vec3 struct{ x, y, z float64 }

func (a vec3) sub(b vec3) vec3 { return vec3{a.x - b.x, a.y - b.y, a.z - b.z} }
func (a vec3) dot(b vec3) float64 { return a.x*b.x + a.y*b.y + a.z*b.z }
func (a vec3) norm() float64      { return math.Sqrt(a.dot(a)) }

var (
	axisX       = vec3{1, 0, 0}
	axisForward = vec3{0, 0, 1}
)

// angleBetween returns the angle in radians; ok is false for a zero vector.
func angleBetween(a, b vec3) (float64, bool) {
	n := a.norm() * b.norm()
	if n == 0 || math.IsNaN(n) {
		return 0, false
	}
	c := a.dot(b) / n
	return math.Acos(math.Max(-1, math.Min(1, c))), true
}

func point(p Point3) vec3 { return vec3{p.X, p.Y, p.Z} }

// FromKeypoints derives a head orientation from face mesh landmarks.
//
// The forehead-chin axis gives pitch (against the forward axis) and roll
// (against the X axis); the cheek-to-cheek axis gives yaw (against the
// forward axis). Each angle is 90° minus the angle between axis and
// reference, so a face looking straight at the camera reads 0/0/0.
// ok is false if an anchor is missing or the axes are degenerate.
func FromKeypoints(kp []Point3) (orientation.Orientation, bool) {
	if len(kp) <= LandmarkRightCheek {
		return orientation.Zero, false
	}

	vertical := point(kp[LandmarkForehead]).sub(point(kp[LandmarkChin]))
	horizontal := point(kp[LandmarkLeftCheek]).sub(point(kp[LandmarkRightCheek]))

	yaw, ok1 := angleBetween(horizontal, axisForward)
	pitch, ok2 := angleBetween(vertical, axisForward)
	roll, ok3 := angleBetween(vertical, axisX)
	if !ok1 || !ok2 || !ok3 {
		return orientation.Zero, false
	}

	return orientation.Orientation{
		Yaw:   degrees(math.Pi/2 - yaw),
		Pitch: degrees(math.Pi/2 - pitch),
		Roll:  degrees(math.Pi/2 - roll),
	}, true
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
