package statistic

import "math"

// Welford keeps a running mean and variance without storing samples.
// The zero value is ready to use.
type Welford struct {
	count int64
	mean  float64
	m2    float64
}

// Update adds a sample. delta2 must use the updated mean.
func (w *Welford) Update(value float64) {
	w.count++
	delta := value - w.mean
	w.mean += delta / float64(w.count)
	delta2 := value - w.mean
	w.m2 += delta * delta2
}

// Count returns the number of samples seen.
func (w *Welford) Count() int64 {
	return w.count
}

// Mean returns the running mean, 0 when empty.
func (w *Welford) Mean() float64 {
	return w.mean
}

// Variance returns the sample variance (n-1 denominator), 0 when fewer than two samples.
func (w *Welford) Variance() float64 {
	if w.count > 1 {
		return w.m2 / float64(w.count-1)
	}
	return 0
}

// StdDev returns the sample standard deviation.
func (w *Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}
