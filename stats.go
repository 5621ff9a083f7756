package main

import (
	"fmt"
	"math"
)

// DescriptiveStats summarises a sample the way scipy.stats.describe does:
// sample variance (n-1), biased skewness and biased excess kurtosis.
type DescriptiveStats struct {
	Count    int
	Min      float64
	Max      float64
	Mean     float64
	Variance float64
	Skewness float64
	Kurtosis float64
}

func (s DescriptiveStats) String() string {
	return fmt.Sprintf("nobs=%d, minmax=(%.6f, %.6f), mean=%.6f, variance=%.6g, skewness=%.6f, kurtosis=%.6f",
		s.Count, s.Min, s.Max, s.Mean, s.Variance, s.Skewness, s.Kurtosis)
}

// MomentAccumulator tracks the first four central moments of a stream of
// samples in a single pass.
type MomentAccumulator struct {
	n              int
	min, max, mean float64
	m2, m3, m4     float64
}

// Add folds x into the accumulated moments.
func (a *MomentAccumulator) Add(x float64) {
	if a.n == 0 || x < a.min {
		a.min = x
	}
	if a.n == 0 || x > a.max {
		a.max = x
	}

	n1 := float64(a.n)
	a.n++
	n := float64(a.n)

	delta := x - a.mean
	deltaN := delta / n
	deltaN2 := deltaN * deltaN
	term1 := delta * deltaN * n1

	a.mean += deltaN
	a.m4 += term1*deltaN2*(n*n-3*n+3) + 6*deltaN2*a.m2 - 4*deltaN*a.m3
	a.m3 += term1*deltaN*(n-2) - 3*deltaN*a.m2
	a.m2 += term1
}

// Stats returns the statistics of every sample added so far.
func (a *MomentAccumulator) Stats() DescriptiveStats {
	if a.n == 0 {
		return DescriptiveStats{}
	}
	s := DescriptiveStats{Count: a.n, Min: a.min, Max: a.max, Mean: a.mean}
	n := float64(a.n)
	if a.n > 1 {
		s.Variance = a.m2 / (n - 1)
	}
	if a.m2 > 0 {
		s.Skewness = math.Sqrt(n) * a.m3 / math.Pow(a.m2, 1.5)
		s.Kurtosis = n*a.m4/(a.m2*a.m2) - 3
	}
	return s
}

// Describe computes the statistics of samples.
func Describe(samples []float64) DescriptiveStats {
	var acc MomentAccumulator
	for _, x := range samples {
		acc.Add(x)
	}
	return acc.Stats()
}
