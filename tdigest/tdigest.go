// Copyright 2020 Gregory Petrosyan <gregory.petrosyan@gmail.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tdigest provides a centroid-clustering sketch for streaming
// quantile estimation that favors accuracy at distribution tails over
// accuracy near the median. Unlike uddsketch it has no closed-form error
// bound, but its centroid budget (max_size, aka "compression") trades
// memory for tail accuracy directly.
package tdigest

import (
	"fmt"
	"math"

	"github.com/timescale/toolkit-sketches/quantile"
)

// centroid is a (mean, weight) pair summarizing a contiguous weight
// range of the sorted distribution.
type centroid struct {
	mean   float64
	weight float64
}

// Sketch is an immutable, finalized T-Digest. It is produced by
// Builder.Build and answers queries without further mutation.
type Sketch struct {
	maxSize   uint32
	centroids []centroid // sorted ascending by mean, weight > 0

	count uint64
	sum   float64
	min   float64
	max   float64
}

var _ quantile.Sketch = (*Sketch)(nil)

// Kind reports quantile.KindTDigest.
func (s *Sketch) Kind() quantile.Kind { return quantile.KindTDigest }

// NumVals returns the total number of values ingested.
func (s *Sketch) NumVals() uint64 { return s.count }

// MaxSize returns the centroid budget ("compression") fixed at
// construction.
func (s *Sketch) MaxSize() uint32 { return s.maxSize }

// NumCentroids returns the number of centroids currently retained.
func (s *Sketch) NumCentroids() int { return len(s.centroids) }

// Mean returns sum/count.
func (s *Sketch) Mean() (float64, error) {
	if s.count == 0 {
		return 0, emptyErr("mean")
	}
	return s.sum / float64(s.count), nil
}

// MinVal returns the exact minimum of all ingested values.
func (s *Sketch) MinVal() (float64, error) {
	if s.count == 0 {
		return 0, emptyErr("min_val")
	}
	return s.min, nil
}

// MaxVal returns the exact maximum of all ingested values.
func (s *Sketch) MaxVal() (float64, error) {
	if s.count == 0 {
		return 0, emptyErr("max_val")
	}
	return s.max, nil
}

// Sum returns the exact sum of all ingested values.
func (s *Sketch) Sum() (float64, error) {
	if s.count == 0 {
		return 0, emptyErr("sum")
	}
	return s.sum, nil
}

// ApproxPercentile returns an estimate of the q-quantile, q in [0, 1].
// q == 0 and q == 1 return the exact min/max; every other quantile is
// found by locating the target rank among centroid weights and linearly
// interpolating between adjacent centroid means (or between an extreme
// centroid and min/max at the tails).
func (s *Sketch) ApproxPercentile(q float64) (float64, error) {
	if math.IsNaN(q) || q < 0 || q > 1 {
		return 0, outOfRangeErr(q)
	}
	if s.count == 0 {
		return 0, emptyErr("approx_percentile")
	}
	if q == 0 {
		return s.min, nil
	}
	if q == 1 {
		return s.max, nil
	}
	if len(s.centroids) == 1 {
		return s.centroids[0].mean, nil
	}

	n := float64(s.count)
	r := q * n
	mids := s.centroidMidpoints()

	lastIdx := len(s.centroids) - 1
	if r < mids[0] {
		return interpolate(r, 0, s.min, mids[0], s.centroids[0].mean), nil
	}
	if r > mids[lastIdx] {
		return interpolate(r, mids[lastIdx], s.centroids[lastIdx].mean, n, s.max), nil
	}
	for i := 0; i < lastIdx; i++ {
		if r >= mids[i] && r <= mids[i+1] {
			return interpolate(r, mids[i], s.centroids[i].mean, mids[i+1], s.centroids[i+1].mean), nil
		}
	}
	return s.centroids[lastIdx].mean, nil
}

// ApproxPercentileRank returns an estimate, in [0, 1], of the fraction
// of ingested values less than or equal to v: the symmetric inverse of
// ApproxPercentile, found by linearly interpolating cumulative weight
// between centroid midpoints.
func (s *Sketch) ApproxPercentileRank(v float64) (float64, error) {
	if math.IsNaN(v) {
		return 0, fmt.Errorf("tdigest: approx_percentile_rank: %w", quantile.ErrInvalidValue)
	}
	if s.count == 0 {
		return 0, emptyErr("approx_percentile_rank")
	}
	if v <= s.min {
		return 0, nil
	}
	if v >= s.max {
		return 1, nil
	}

	n := float64(s.count)
	if len(s.centroids) == 1 {
		return interpolate(v, s.min, 0, s.max, n) / n, nil
	}

	mids := s.centroidMidpoints()
	lastIdx := len(s.centroids) - 1
	first, last := s.centroids[0], s.centroids[lastIdx]

	switch {
	case v <= first.mean:
		return interpolate(v, s.min, 0, first.mean, mids[0]) / n, nil
	case v >= last.mean:
		return interpolate(v, last.mean, mids[lastIdx], s.max, n) / n, nil
	}
	for i := 0; i < lastIdx; i++ {
		if v >= s.centroids[i].mean && v <= s.centroids[i+1].mean {
			return interpolate(v, s.centroids[i].mean, mids[i], s.centroids[i+1].mean, mids[i+1]) / n, nil
		}
	}
	return 1, nil
}

// centroidMidpoints returns, for each centroid, the cumulative weight
// at its own midpoint: the sum of all strictly preceding centroids'
// weight plus half of its own.
func (s *Sketch) centroidMidpoints() []float64 {
	mids := make([]float64, len(s.centroids))
	var prefix float64
	for i, c := range s.centroids {
		mids[i] = prefix + c.weight/2
		prefix += c.weight
	}
	return mids
}

func interpolate(x, x0, y0, x1, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	t := (x - x0) / (x1 - x0)
	return y0 + t*(y1-y0)
}

// scaleK is the T-Digest scale function k(q, delta) = (delta/2pi) *
// asin(2q-1): steep near q=0 and q=1, flat near q=0.5, so it bounds
// centroids to a narrower weight range at the tails than in the middle.
func scaleK(q, delta float64) float64 {
	x := 2*q - 1
	switch {
	case x > 1:
		x = 1
	case x < -1:
		x = -1
	}
	return delta / (2 * math.Pi) * math.Asin(x)
}

func emptyErr(op string) error {
	return fmt.Errorf("tdigest: %s: %w", op, quantile.ErrEmptySketch)
}

func outOfRangeErr(q float64) error {
	return fmt.Errorf("tdigest: approx_percentile: %w: q=%v", quantile.ErrOutOfRangeQuantile, q)
}
