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

package uddsketch

import (
	"fmt"
	"math"
	"sort"

	"github.com/timescale/toolkit-sketches/quantile"
)

// Builder is the mutable accumulator used during streaming ingest. It
// owns its bucket maps exclusively; concurrent mutation of a single
// Builder is undefined. Build finalizes it into an immutable Sketch.
//
// A Builder is single-use: calling Push, Merge, Build, or Discard after
// Build or Discard has already run panics, the same way writing to a
// closed channel does.
type Builder struct {
	maxBuckets  uint32
	alpha       float64
	gamma       float64
	gammaLn     float64
	compactions uint32

	count     uint64
	zeroCount uint64
	sum       float64
	sumC      float64 // Kahan compensation
	min       float64
	max       float64

	pos map[int32]uint64
	neg map[int32]uint64

	done bool
}

// NewBuilder returns a builder for a UddSketch with the given bucket
// budget and initial relative error. It fails with ErrInvalidParameter
// if maxBuckets < 1 or alpha is outside [1e-12, 1.0).
func NewBuilder(maxBuckets uint32, alpha float64) (*Builder, error) {
	if maxBuckets < 1 {
		return nil, fmt.Errorf("uddsketch: new: %w: max_buckets must be >= 1, got %d", quantile.ErrInvalidParameter, maxBuckets)
	}
	if math.IsNaN(alpha) || alpha < 1e-12 || alpha >= 1.0 {
		return nil, fmt.Errorf("uddsketch: new: %w: alpha must be in [1e-12, 1.0), got %v", quantile.ErrInvalidParameter, alpha)
	}

	gamma := (1 + alpha) / (1 - alpha)
	return &Builder{
		maxBuckets: maxBuckets,
		alpha:      alpha,
		gamma:      gamma,
		gammaLn:    math.Log(gamma),
		min:        math.Inf(1),
		max:        math.Inf(-1),
		pos:        make(map[int32]uint64),
		neg:        make(map[int32]uint64),
	}, nil
}

// Push ingests v. It fails with ErrInvalidValue if v is NaN; +/-Inf are
// accepted and routed to the extremal bucket for their sign.
func (b *Builder) Push(v float64) error {
	b.mustBeLive()

	if math.IsNaN(v) {
		return fmt.Errorf("uddsketch: push: %w", quantile.ErrInvalidValue)
	}

	b.addKahan(v)
	if v < b.min {
		b.min = v
	}
	if v > b.max {
		b.max = v
	}
	b.count++

	if v == 0 {
		b.zeroCount++
		return nil
	}

	idx := bucketIndex(math.Abs(v), b.gammaLn)
	if v > 0 {
		b.pos[idx]++
	} else {
		b.neg[idx]++
	}

	b.compactUntilFits()
	return nil
}

// Merge folds other into b. It fails with ErrMergeMismatch if the two
// builders have different max_buckets. If the builders have compacted a
// different number of times, the one with fewer compactions is
// compacted forward (on a private copy of its buckets, leaving other
// unmodified) until the resolutions match, then bucket counts are
// summed pairwise and a final compaction runs if the merged bucket
// cardinality exceeds max_buckets.
func (b *Builder) Merge(other *Builder) error {
	b.mustBeLive()
	other.mustBeLive()

	if b.maxBuckets != other.maxBuckets {
		return fmt.Errorf("uddsketch: merge: %w: max_buckets %d != %d", quantile.ErrMergeMismatch, b.maxBuckets, other.maxBuckets)
	}

	bPos, bNeg, bGamma, bGammaLn, bAlpha, bCompactions := b.pos, b.neg, b.gamma, b.gammaLn, b.alpha, b.compactions
	oPos, oNeg := other.pos, other.neg

	target := b.compactions
	if other.compactions > target {
		target = other.compactions
	}
	if bCompactions < target {
		bPos, bNeg, bGamma, bGammaLn, bAlpha, bCompactions = compactForward(cloneBuckets(bPos), cloneBuckets(bNeg), bGamma, bGammaLn, bAlpha, bCompactions, target)
	}
	if other.compactions < target {
		oPos, oNeg, _, _, _, _ = compactForward(cloneBuckets(other.pos), cloneBuckets(other.neg), other.gamma, other.gammaLn, other.alpha, other.compactions, target)
	}

	merged := bPos
	if merged == nil {
		merged = make(map[int32]uint64)
	}
	for idx, c := range oPos {
		merged[idx] += c
	}
	mergedNeg := bNeg
	if mergedNeg == nil {
		mergedNeg = make(map[int32]uint64)
	}
	for idx, c := range oNeg {
		mergedNeg[idx] += c
	}

	b.pos = merged
	b.neg = mergedNeg
	b.gamma = bGamma
	b.gammaLn = bGammaLn
	b.alpha = bAlpha
	b.compactions = bCompactions

	b.count += other.count
	b.zeroCount += other.zeroCount
	b.addKahan(other.sum)
	if other.min < b.min {
		b.min = other.min
	}
	if other.max > b.max {
		b.max = other.max
	}

	b.compactUntilFits()
	return nil
}

// Build finalizes the builder into an immutable Sketch. The builder
// must not be used again afterward.
//
// gamma/gammaLn are recomputed from the final alpha here rather than
// carried forward from the incrementally squared values used during
// ingest: Deserialize reconstructs them the same way from the
// serialized alpha, and the two derivations can differ by a few ULPs
// after repeated squaring, which would otherwise make a freshly built
// sketch and its round-tripped copy disagree on bucket midpoints for
// the same index.
func (b *Builder) Build() (*Sketch, error) {
	b.mustBeLive()
	b.done = true

	gamma := (1 + b.alpha) / (1 - b.alpha)
	s := &Sketch{
		maxBuckets:  b.maxBuckets,
		alpha:       b.alpha,
		gamma:       gamma,
		gammaLn:     math.Log(gamma),
		compactions: b.compactions,
		count:       b.count,
		zeroCount:   b.zeroCount,
		sum:         b.sum,
		min:         b.min,
		max:         b.max,
		pos:         sortedBuckets(b.pos),
		neg:         sortedBuckets(b.neg),
	}

	b.pos, b.neg = nil, nil
	return s, nil
}

// Discard releases the builder's state without producing a Sketch. The
// builder must not be used again afterward.
func (b *Builder) Discard() {
	b.mustBeLive()
	b.done = true
	b.pos, b.neg = nil, nil
}

func (b *Builder) mustBeLive() {
	if b.done {
		panic("uddsketch: use of builder after Build or Discard")
	}
}

func (b *Builder) addKahan(v float64) {
	y := v - b.sumC
	t := b.sum + y
	b.sumC = (t - b.sum) - y
	b.sum = t
}

// compactUntilFits halves bucket resolution until the occupied bucket
// count fits the budget. A single pass can leave the count unchanged
// (when no two occupied indices collide) while a later pass still
// reduces it, so passes are tried ahead on the side and committed only
// once the count has dropped. Indices 0, 1 and the extremal indices map
// to themselves, and positive and negative values are kept in separate
// maps that never merge, so the count has a floor that a very small
// max_buckets can sit below: once every occupied index is such a fixed
// point, compaction stops and leaves the state unchanged instead of
// widening alpha for passes that merge nothing.
func (b *Builder) compactUntilFits() {
	for uint32(len(b.pos)+len(b.neg)) > b.maxBuckets {
		before := len(b.pos) + len(b.neg)
		pos, neg, gamma, gammaLn, alpha, compactions := b.pos, b.neg, b.gamma, b.gammaLn, b.alpha, b.compactions
		for len(pos)+len(neg) >= before {
			if atFixedPoint(pos) && atFixedPoint(neg) {
				return
			}
			pos, neg, gamma, gammaLn, alpha, compactions = compactForward(pos, neg, gamma, gammaLn, alpha, compactions, compactions+1)
		}
		b.pos, b.neg, b.gamma, b.gammaLn, b.alpha, b.compactions = pos, neg, gamma, gammaLn, alpha, compactions
	}
}

// atFixedPoint reports whether bucketAfterCompaction maps every index in
// m to itself, so that no further compaction pass can change m.
func atFixedPoint(m map[int32]uint64) bool {
	for idx := range m {
		if bucketAfterCompaction(idx) != idx {
			return false
		}
	}
	return true
}

// compactForward repeatedly halves bucket resolution until compactions
// reaches target, returning the new state without mutating its inputs'
// backing maps beyond what the caller already cloned.
func compactForward(pos, neg map[int32]uint64, gamma, gammaLn, alpha float64, compactions, target uint32) (map[int32]uint64, map[int32]uint64, float64, float64, float64, uint32) {
	for compactions < target {
		pos = compactBucketMap(pos)
		neg = compactBucketMap(neg)
		gamma *= gamma
		gammaLn *= 2
		alpha = (gamma - 1) / (gamma + 1)
		compactions++
	}
	return pos, neg, gamma, gammaLn, alpha, compactions
}

func compactBucketMap(m map[int32]uint64) map[int32]uint64 {
	out := make(map[int32]uint64, len(m))
	for idx, c := range m {
		out[bucketAfterCompaction(idx)] += c
	}
	return out
}

func cloneBuckets(m map[int32]uint64) map[int32]uint64 {
	out := make(map[int32]uint64, len(m))
	for idx, c := range m {
		out[idx] = c
	}
	return out
}

func sortedBuckets(m map[int32]uint64) []bucket {
	out := make([]bucket, 0, len(m))
	for idx, c := range m {
		out = append(out, bucket{idx: idx, count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].idx < out[j].idx })
	return out
}
