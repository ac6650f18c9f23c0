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

package tdigest

import (
	"fmt"
	"math"
	"sort"

	"github.com/timescale/toolkit-sketches/quantile"
)

// Builder is the mutable accumulator used during streaming ingest. It
// owns its centroid list and staging buffer exclusively; concurrent
// mutation of a single Builder is undefined. Build finalizes it into an
// immutable Sketch.
//
// A Builder is single-use: calling Push, Merge, Build, or Discard after
// Build or Discard has already run panics, the same way writing to a
// closed channel does.
type Builder struct {
	maxSize uint32

	centroids []centroid // sorted ascending by mean
	buffered  []float64  // unsorted singletons awaiting merge

	count uint64
	sum   float64
	sumC  float64 // Kahan compensation
	min   float64
	max   float64

	done bool
}

// NewBuilder returns a builder for a T-Digest with the given centroid
// budget ("compression"). It fails with ErrInvalidParameter if maxSize
// < 1.
func NewBuilder(maxSize uint32) (*Builder, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("tdigest: new: %w: max_size must be >= 1, got %d", quantile.ErrInvalidParameter, maxSize)
	}
	return &Builder{
		maxSize: maxSize,
		min:     math.Inf(1),
		max:     math.Inf(-1),
	}, nil
}

// Push ingests v. It fails with ErrInvalidValue if v is NaN.
func (b *Builder) Push(v float64) error {
	b.mustBeLive()

	if math.IsNaN(v) {
		return fmt.Errorf("tdigest: push: %w", quantile.ErrInvalidValue)
	}

	b.addKahan(v)
	if v < b.min {
		b.min = v
	}
	if v > b.max {
		b.max = v
	}
	b.count++

	b.buffered = append(b.buffered, v)
	if len(b.buffered) >= int(b.maxSize) {
		b.mergeAndCompact()
	}
	return nil
}

// Merge folds other into b. Both buffers are flushed, all centroids are
// concatenated and sorted by mean, and the scale-function compaction
// pass runs once over the combined sequence using the combined total
// weight and b's own max_size. Unlike UddSketch, T-Digest places no
// requirement on the two max_size values matching.
func (b *Builder) Merge(other *Builder) error {
	b.mustBeLive()
	other.mustBeLive()

	all := make([]centroid, 0, len(b.centroids)+len(b.buffered)+len(other.centroids)+len(other.buffered))
	all = append(all, b.centroids...)
	all = appendSingletons(all, b.buffered)
	all = append(all, other.centroids...)
	all = appendSingletons(all, other.buffered)
	sort.Slice(all, func(i, j int) bool { return all[i].mean < all[j].mean })

	var total float64
	for _, c := range all {
		total += c.weight
	}
	b.centroids = compactCentroids(all, total, float64(b.maxSize))
	b.buffered = b.buffered[:0]

	b.count += other.count
	b.addKahan(other.sum)
	if other.min < b.min {
		b.min = other.min
	}
	if other.max > b.max {
		b.max = other.max
	}

	return nil
}

// Build finalizes the builder into an immutable Sketch, flushing any
// remaining buffered singletons first. The builder must not be used
// again afterward.
func (b *Builder) Build() (*Sketch, error) {
	b.mustBeLive()
	b.done = true

	if len(b.buffered) > 0 {
		b.mergeAndCompact()
	}

	s := &Sketch{
		maxSize:   b.maxSize,
		centroids: append([]centroid(nil), b.centroids...),
		count:     b.count,
		sum:       b.sum,
		min:       b.min,
		max:       b.max,
	}

	b.centroids, b.buffered = nil, nil
	return s, nil
}

// Discard releases the builder's state without producing a Sketch. The
// builder must not be used again afterward.
func (b *Builder) Discard() {
	b.mustBeLive()
	b.done = true
	b.centroids, b.buffered = nil, nil
}

func (b *Builder) mustBeLive() {
	if b.done {
		panic("tdigest: use of builder after Build or Discard")
	}
}

func (b *Builder) addKahan(v float64) {
	y := v - b.sumC
	t := b.sum + y
	b.sumC = (t - b.sum) - y
	b.sum = t
}

// mergeAndCompact sorts the buffered singletons by mean, interleaves
// them with the existing sorted centroid list, and runs the
// scale-function compaction pass over the combined sequence.
func (b *Builder) mergeAndCompact() {
	buffered := make([]centroid, len(b.buffered))
	for i, v := range b.buffered {
		buffered[i] = centroid{mean: v, weight: 1}
	}
	sort.Slice(buffered, func(i, j int) bool { return buffered[i].mean < buffered[j].mean })

	combined := mergeSortedCentroids(b.centroids, buffered)

	var total float64
	for _, c := range combined {
		total += c.weight
	}

	b.centroids = compactCentroids(combined, total, float64(b.maxSize))
	b.buffered = b.buffered[:0]
}

func appendSingletons(dst []centroid, values []float64) []centroid {
	for _, v := range values {
		dst = append(dst, centroid{mean: v, weight: 1})
	}
	return dst
}

// mergeSortedCentroids interleaves two centroid lists already sorted
// ascending by mean into one sorted list, the same linear merge used to
// combine two sorted runs in a merge sort.
func mergeSortedCentroids(a, b []centroid) []centroid {
	out := make([]centroid, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].mean <= b[j].mean {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// compactCentroids performs the greedy scale-function compaction sweep:
// two adjacent centroids merge iff the combined centroid's k-width does
// not exceed 1.
func compactCentroids(sorted []centroid, total float64, delta float64) []centroid {
	if len(sorted) == 0 {
		return nil
	}

	result := make([]centroid, 0, len(sorted))
	cur := sorted[0]
	var wBefore float64

	for i := 1; i < len(sorted); i++ {
		cand := sorted[i]
		combinedWeight := cur.weight + cand.weight

		q1 := wBefore / total
		q2 := (wBefore + combinedWeight) / total
		if scaleK(q2, delta)-scaleK(q1, delta) <= 1.0 {
			cur.mean = (cur.mean*cur.weight + cand.mean*cand.weight) / combinedWeight
			cur.weight = combinedWeight
			continue
		}

		result = append(result, cur)
		wBefore += cur.weight
		cur = cand
	}
	result = append(result, cur)
	return result
}
