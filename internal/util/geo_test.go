package util

import (
	"math"
	"testing"
)

func TestHaversineM(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, tol              float64
	}{
		{"same point", 12.9716, 77.5946, 12.9716, 77.5946, 0, 0.001},
		{"one degree latitude", 0, 0, 1, 0, 111195, 200},
		{"short hop", 12.9716, 77.5946, 12.9717, 77.5946, 11.1, 0.5},
	}
	for _, tc := range cases {
		got := HaversineM(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
		if math.Abs(got-tc.want) > tc.tol {
			t.Errorf("%s: got %.2f m, want %.2f ± %.2f", tc.name, got, tc.want, tc.tol)
		}
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := HaversineM(12.97, 77.59, 13.01, 77.62)
	b := HaversineM(13.01, 77.62, 12.97, 77.59)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("not symmetric: %v vs %v", a, b)
	}
}
