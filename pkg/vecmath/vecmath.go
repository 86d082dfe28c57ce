package vecmath

import "math"

// CosineDistance computes the cosine distance between two vectors.
// Returns a value between 0 (identical) and 2 (opposite).
// Cosine distance = 1 - cosine similarity.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. Zero vectors are returned as-is.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := Norm(v)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// RunningMean folds a new sample into a centroid that currently represents
// count samples: (centroid*count + sample)/(count+1), renormalized.
func RunningMean(centroid, sample []float32, count int) []float32 {
	out := make([]float32, len(centroid))
	n := float64(count)
	for i := range centroid {
		out[i] = float32((float64(centroid[i])*n + float64(sample[i])) / (n + 1))
	}
	return Normalize(out)
}

// WeightedBlend merges two centroids weighted by their sample counts,
// renormalized. Used when two clusters are merged into one.
func WeightedBlend(a []float32, countA int, b []float32, countB int) []float32 {
	out := make([]float32, len(a))
	total := float64(countA + countB)
	if total == 0 {
		copy(out, a)
		return Normalize(out)
	}
	for i := range a {
		out[i] = float32((float64(a[i])*float64(countA) + float64(b[i])*float64(countB)) / total)
	}
	return Normalize(out)
}

// Mean computes the renormalized mean of a set of vectors. Returns nil for
// an empty set.
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range v {
			out[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return Normalize(out)
}
