package vector

import (
	"fmt"
	"math"
)

// Metric selects how search scores candidates.
type Metric int

const (
	MetricCosine Metric = iota
	MetricL2
	MetricDot
)

// ParseMetric maps a metric name to its Metric.
func ParseMetric(name string) (Metric, error) {
	switch name {
	case "cosine":
		return MetricCosine, nil
	case "l2":
		return MetricL2, nil
	case "dot":
		return MetricDot, nil
	default:
		return 0, fmt.Errorf("metric must be cosine, l2 or dot; got %q", name)
	}
}

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricL2:
		return "l2"
	case MetricDot:
		return "dot"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// HigherIsBetter reports whether larger scores rank first.
func (m Metric) HigherIsBetter() bool {
	return m != MetricL2
}

// Score compares a query with a stored vector of the same length.
// Cosine against a zero vector scores 0. L2 is the Euclidean distance.
func (m Metric) Score(query, vec []float32) float64 {
	switch m {
	case MetricL2:
		var sum float64
		for i := range query {
			d := float64(query[i]) - float64(vec[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	case MetricDot:
		var dot float64
		for i := range query {
			dot += float64(query[i]) * float64(vec[i])
		}
		return dot
	default:
		var dot, nq, nv float64
		for i := range query {
			q, v := float64(query[i]), float64(vec[i])
			dot += q * v
			nq += q * q
			nv += v * v
		}
		if nq == 0 || nv == 0 {
			return 0
		}
		return dot / (math.Sqrt(nq) * math.Sqrt(nv))
	}
}
