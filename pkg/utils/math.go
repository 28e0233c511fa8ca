package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := 1.0 / math.Sqrt(sum)
	for i := range x {
		x[i] = float32(float64(x[i]) * norm)
	}
}

// IsDegenerate reports whether x is empty, all zeros, or contains NaN or Inf.
// Such vectors cannot be compared by cosine similarity.
func IsDegenerate(x []float32) bool {
	if len(x) == 0 {
		return true
	}
	nonZero := false
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
		if v != 0 {
			nonZero = true
		}
	}
	return !nonZero
}
