package scene

import "math"

// Vec3 is an x/y/z triple in world units.
type Vec3 [3]float64

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

func (v Vec3) Len() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func (v Vec3) DistanceTo(o Vec3) float64 { return v.Sub(o).Len() }

// Quat is a unit quaternion stored as x, y, z, w.
type Quat [4]float64

func IdentityQuat() Quat { return Quat{0, 0, 0, 1} }

// QuatFromYaw builds a rotation of yaw radians about +Y.
func QuatFromYaw(yaw float64) Quat {
	half := yaw / 2
	return Quat{0, math.Sin(half), 0, math.Cos(half)}
}

// Yaw extracts the heading about +Y. Exact for yaw-only rotations,
// which is all the grab workflow produces.
func (q Quat) Yaw() float64 {
	return math.Atan2(2*(q[3]*q[1]+q[0]*q[2]), 1-2*(q[1]*q[1]+q[0]*q[0]))
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	x, y, z, w := q[0], q[1], q[2], q[3]
	// t = 2 * (q.xyz cross v)
	tx := 2 * (y*v[2] - z*v[1])
	ty := 2 * (z*v[0] - x*v[2])
	tz := 2 * (x*v[1] - y*v[0])
	return Vec3{
		v[0] + w*tx + (y*tz - z*ty),
		v[1] + w*ty + (z*tx - x*tz),
		v[2] + w*tz + (x*ty - y*tx),
	}
}

// Transform is the replicated spatial state of an entity.
type Transform struct {
	Position   Vec3 `json:"position"`
	Quaternion Quat `json:"quaternion"`
	Scale      Vec3 `json:"scale"`
}

func DefaultTransform() Transform {
	return Transform{Quaternion: IdentityQuat(), Scale: Vec3{1, 1, 1}}
}

// Ray is a beam origin plus unit direction, used for pointer picking.
type Ray struct {
	Origin Vec3
	Dir    Vec3
}

const (
	Deg2Rad = math.Pi / 180
	Rad2Deg = 180 / math.Pi
)

// SnapDegrees rounds deg to the nearest multiple of step.
func SnapDegrees(deg, step float64) float64 {
	return math.Round(deg/step) * step
}
