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

// Package uddsketch provides a relative-error bucketed histogram for
// streaming quantile estimation. A UddSketch guarantees a maximum relative
// error (alpha) for any nonzero true value, and gracefully widens that
// guarantee (alpha grows, never shrinks) when its bucket budget is
// exhausted, instead of dropping data.
package uddsketch

import (
	"fmt"
	"math"

	"github.com/timescale/toolkit-sketches/quantile"
)

// extremalIndex pins the bucket that absorbs any value whose magnitude
// overflows the int32 bucket index space, which in practice means
// +/-Inf. It is kept stable across compactions: halving never moves a
// value out of the extremal bucket.
const extremalIndex = math.MaxInt32

// bucket is one occupied histogram slot: idx is the signed log-gamma
// bucket index (see bucketIndex), count the number of values routed to
// it.
type bucket struct {
	idx   int32
	count uint64
}

// Sketch is an immutable, finalized UddSketch. It is produced by
// Builder.Build and answers queries without further mutation.
type Sketch struct {
	maxBuckets  uint32
	alpha       float64
	gamma       float64
	gammaLn     float64
	compactions uint32

	count     uint64
	zeroCount uint64
	sum       float64
	min       float64
	max       float64

	// pos and neg are sorted ascending by idx. neg buckets are keyed by
	// the log-gamma index of |v| for a negative v, not by a negated
	// index, so ascending idx within neg means ascending magnitude, i.e.
	// descending (more negative) actual value.
	pos []bucket
	neg []bucket
}

var _ quantile.Sketch = (*Sketch)(nil)
var _ quantile.ErrorReporter = (*Sketch)(nil)

// Kind reports quantile.KindUddSketch.
func (s *Sketch) Kind() quantile.Kind { return quantile.KindUddSketch }

// NumVals returns the total number of values ingested.
func (s *Sketch) NumVals() uint64 { return s.count }

// MaxBuckets returns the bucket budget fixed at construction.
func (s *Sketch) MaxBuckets() uint32 { return s.maxBuckets }

// Compactions returns the number of times the sketch has halved its
// bucket resolution.
func (s *Sketch) Compactions() uint32 { return s.compactions }

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

// Error returns the current alpha: the maximum relative error the sketch
// guarantees for ApproxPercentile over any nonzero true value. It widens
// (never shrinks) each time the sketch compacts.
func (s *Sketch) Error() (float64, error) {
	if s.count == 0 {
		return 0, emptyErr("error")
	}
	return s.alpha, nil
}

// ApproxPercentile returns an estimate of the q-quantile, q in [0, 1].
// q == 0 returns the exact minimum, q == 1 the exact maximum. Any other
// estimate is the midpoint of the bucket containing the target rank,
// guaranteed to be within Error() relative distance of the true value.
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

	r := uint64(math.Ceil(q * float64(s.count)))
	if r < 1 {
		r = 1
	}

	var cumulative uint64
	for i := len(s.neg) - 1; i >= 0; i-- {
		cumulative += s.neg[i].count
		if cumulative >= r {
			return -s.bucketMidpoint(s.neg[i].idx), nil
		}
	}
	cumulative += s.zeroCount
	if cumulative >= r {
		return 0, nil
	}
	for _, b := range s.pos {
		cumulative += b.count
		if cumulative >= r {
			return s.bucketMidpoint(b.idx), nil
		}
	}
	return s.max, nil
}

// ApproxPercentileRank returns an estimate, in [0, 1], of the fraction of
// ingested values less than or equal to v. It maps v to the bucket it
// would occupy and counts all strictly-lesser buckets plus half of its
// own bucket's count; no interpolation within the bucket is attempted.
func (s *Sketch) ApproxPercentileRank(v float64) (float64, error) {
	if math.IsNaN(v) {
		return 0, fmt.Errorf("uddsketch: approx_percentile_rank: %w", quantile.ErrInvalidValue)
	}
	if s.count == 0 {
		return 0, emptyErr("approx_percentile_rank")
	}
	return s.cumulativeBelow(v) / float64(s.count), nil
}

func (s *Sketch) cumulativeBelow(v float64) float64 {
	switch {
	case v == 0:
		return sumCounts(s.neg) + float64(s.zeroCount)/2
	case v > 0:
		idx := bucketIndex(v, s.gammaLn)
		below := sumCounts(s.neg) + float64(s.zeroCount)
		var own uint64
		for _, b := range s.pos {
			if b.idx < idx {
				below += float64(b.count)
			} else if b.idx == idx {
				own = b.count
			}
		}
		return below + float64(own)/2
	default:
		idx := bucketIndex(-v, s.gammaLn)
		var below float64
		var own uint64
		for _, b := range s.neg {
			if b.idx > idx {
				below += float64(b.count)
			} else if b.idx == idx {
				own = b.count
			}
		}
		return below + float64(own)/2
	}
}

// bucketMidpoint returns the value whose relative error from any point
// in bucket idx is at most alpha.
func (s *Sketch) bucketMidpoint(idx int32) float64 {
	return 2 * math.Exp(float64(idx)*s.gammaLn) / (s.gamma + 1)
}

func sumCounts(bs []bucket) float64 {
	var total uint64
	for _, b := range bs {
		total += b.count
	}
	return float64(total)
}

// bucketIndex returns the log-gamma bucket index for a positive
// magnitude x: idx = ceil(ln(x) / ln(gamma)), clamped to the int32 range
// so that +/-Inf (and any overflowing finite magnitude) lands in the
// stable extremal bucket.
func bucketIndex(x float64, gammaLn float64) int32 {
	c := math.Ceil(math.Log(x) / gammaLn)
	switch {
	case c >= extremalIndex:
		return extremalIndex
	case c <= -extremalIndex:
		return -extremalIndex
	default:
		return int32(c)
	}
}

// bucketAfterCompaction maps a bucket index under the current gamma to
// its index after gamma is squared: old buckets 2k-1 and 2k (whose union
// spans exactly the new bucket's range) both map to new bucket k. The
// extremal index is pinned so infinities never drift back toward zero.
func bucketAfterCompaction(i int32) int32 {
	switch {
	case i == extremalIndex || i == -extremalIndex:
		return i
	case i%2 == 0:
		return i / 2
	case i > 0:
		return i/2 + 1
	default:
		return i / 2
	}
}

func emptyErr(op string) error {
	return fmt.Errorf("uddsketch: %s: %w", op, quantile.ErrEmptySketch)
}

func outOfRangeErr(q float64) error {
	return fmt.Errorf("uddsketch: approx_percentile: %w: q=%v", quantile.ErrOutOfRangeQuantile, q)
}
