package scene

import (
	"math"
	"testing"
)

func TestQuatYawRoundTrip(t *testing.T) {
	for _, deg := range []float64{-170, -45, 0, 5, 90, 135} {
		q := QuatFromYaw(deg * Deg2Rad)
		got := q.Yaw() * Rad2Deg
		if math.Abs(got-deg) > 1e-9 {
			t.Fatalf("yaw %v round-tripped to %v", deg, got)
		}
	}
}

func TestQuatRotate(t *testing.T) {
	// 90 degrees about +Y carries +Z onto +X.
	q := QuatFromYaw(90 * Deg2Rad)
	v := q.Rotate(Vec3{0, 0, 1})
	want := Vec3{1, 0, 0}
	for i := range v {
		if math.Abs(v[i]-want[i]) > 1e-9 {
			t.Fatalf("rotate = %v, want %v", v, want)
		}
	}
}

func TestSnapDegrees(t *testing.T) {
	cases := []struct{ in, step, want float64 }{
		{7, 5, 5},
		{8, 5, 10},
		{-7, 5, -5},
		{2.4, 5, 0},
		{359, 5, 360},
	}
	for _, c := range cases {
		if got := SnapDegrees(c.in, c.step); got != c.want {
			t.Fatalf("SnapDegrees(%v, %v) = %v, want %v", c.in, c.step, got, c.want)
		}
	}
}

func TestVecOps(t *testing.T) {
	a := Vec3{1, 2, 3}
	b := Vec3{4, 5, 6}
	if a.Add(b) != (Vec3{5, 7, 9}) {
		t.Fatalf("add")
	}
	if b.Sub(a) != (Vec3{3, 3, 3}) {
		t.Fatalf("sub")
	}
	if a.Scale(2) != (Vec3{2, 4, 6}) {
		t.Fatalf("scale")
	}
	if got := (Vec3{3, 4, 0}).Len(); got != 5 {
		t.Fatalf("len = %v", got)
	}
	if got := a.DistanceTo(a); got != 0 {
		t.Fatalf("distance to self = %v", got)
	}
}
