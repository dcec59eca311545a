package rag

import (
	"fmt"
	"math"
	"strings"
)

// Metric selects the distance function of an index. Smaller is closer.
type Metric string

const (
	MetricL2     Metric = "l2"
	MetricCosine Metric = "cosine"
)

// ParseMetric accepts "l2", "euclidean" and "cosine". Empty means l2.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "l2", "euclidean":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidArgument, s)
}

// Distance between two vectors of equal length.
func (m Metric) Distance(a, b []float32) float64 {
	if m == MetricCosine {
		return cosineDistance(a, b)
	}
	return euclidean(a, b)
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// cosineDistance is 1 - cosine similarity. A zero vector is at distance 1
// from everything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	if d < 0 {
		return 0
	}
	return d
}
