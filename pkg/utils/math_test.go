package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v", v)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Error("zero vector should be unchanged")
	}
}

func TestIsDegenerate(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		v    []float32
		want bool
	}{
		{nil, true},
		{[]float32{0, 0, 0}, true},
		{[]float32{0, nan}, true},
		{[]float32{float32(math.Inf(1)), 1}, true},
		{[]float32{0, 0.1}, false},
	}
	for i, tt := range tests {
		if got := IsDegenerate(tt.v); got != tt.want {
			t.Errorf("case %d: IsDegenerate(%v)=%v, want %v", i, tt.v, got, tt.want)
		}
	}
}
