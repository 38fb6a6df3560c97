package services

import (
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// cosineSimilarity returns the cosine of two equal-length dense vectors,
// 0 if either is all zeros or the lengths differ.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return clampRange(floats.Dot(a, b)/(na*nb), -1, 1)
}

// intersectionCosine is cosine similarity restricted to keys present in both
// vectors. Norms are taken over the intersection only. Keys are visited in
// sorted order so the float sums do not depend on map iteration.
func intersectionCosine(a, b map[uuid.UUID]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var va, vb []float64
	for _, k := range sortedKeys(a) {
		if y, ok := b[k]; ok {
			va = append(va, a[k])
			vb = append(vb, y)
		}
	}
	return cosineSimilarity(va, vb)
}

// normalizeL2 scales v in place to unit length; a zero vector is left as is.
func normalizeL2(v []float64) {
	n := floats.Norm(v, 2)
	if n == 0 {
		return
	}
	floats.Scale(1/n, v)
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}
