package embed

import "math"

// CosineSimilarity is dot(a,b) / (|a| * |b|). Mismatched lengths or a
// zero-magnitude side yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Average returns the element-wise mean of vectors of equal length.
// Vectors whose length differs from the first are ignored.
func Average(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}
