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

package tdigest_test

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timescale/toolkit-sketches/quantile"
	"github.com/timescale/toolkit-sketches/tdigest"
	"pgregory.net/rapid"
)

func TestNewBuilderValidation(t *testing.T) {
	t.Parallel()

	_, err := tdigest.NewBuilder(0)
	require.ErrorIs(t, err, quantile.ErrInvalidParameter)

	b, err := tdigest.NewBuilder(100)
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestPushRejectsNaN(t *testing.T) {
	t.Parallel()

	b, err := tdigest.NewBuilder(100)
	require.NoError(t, err)
	err = b.Push(math.NaN())
	require.ErrorIs(t, err, quantile.ErrInvalidValue)
}

func TestEmptySketchQueriesFail(t *testing.T) {
	t.Parallel()

	b, err := tdigest.NewBuilder(100)
	require.NoError(t, err)
	s, err := b.Build()
	require.NoError(t, err)

	require.Equal(t, uint64(0), s.NumVals())

	_, err = s.Mean()
	require.ErrorIs(t, err, quantile.ErrEmptySketch)
	_, err = s.MinVal()
	require.ErrorIs(t, err, quantile.ErrEmptySketch)
	_, err = s.MaxVal()
	require.ErrorIs(t, err, quantile.ErrEmptySketch)
	_, err = s.Sum()
	require.ErrorIs(t, err, quantile.ErrEmptySketch)
	_, err = s.ApproxPercentile(0.5)
	require.ErrorIs(t, err, quantile.ErrEmptySketch)
	_, err = s.ApproxPercentileRank(0.5)
	require.ErrorIs(t, err, quantile.ErrEmptySketch)
}

func TestOutOfRangeQuantile(t *testing.T) {
	t.Parallel()

	b, err := tdigest.NewBuilder(100)
	require.NoError(t, err)
	require.NoError(t, b.Push(1))
	s, err := b.Build()
	require.NoError(t, err)

	_, err = s.ApproxPercentile(-0.01)
	require.ErrorIs(t, err, quantile.ErrOutOfRangeQuantile)
	_, err = s.ApproxPercentile(1.01)
	require.ErrorIs(t, err, quantile.ErrOutOfRangeQuantile)
}

func TestScenarioOneToHundred(t *testing.T) {
	t.Parallel()

	b, err := tdigest.NewBuilder(100)
	require.NoError(t, err)
	for i := 1; i <= 100; i++ {
		require.NoError(t, b.Push(float64(i)))
	}
	s, err := b.Build()
	require.NoError(t, err)

	require.Equal(t, uint64(100), s.NumVals())

	min, err := s.MinVal()
	require.NoError(t, err)
	require.Equal(t, 1.0, min)

	max, err := s.MaxVal()
	require.NoError(t, err)
	require.Equal(t, 100.0, max)

	mean, err := s.Mean()
	require.NoError(t, err)
	require.InDelta(t, 50.5, mean, 1e-9)

	sum, err := s.Sum()
	require.NoError(t, err)
	require.InDelta(t, 5050.0, sum, 1e-6)

	p90, err := s.ApproxPercentile(0.90)
	require.NoError(t, err)
	require.InEpsilon(t, 90.0, p90, 0.05)

	rank, err := s.ApproxPercentileRank(90)
	require.NoError(t, err)
	require.InDelta(t, 0.90, rank, 0.05)
}

func TestMinMaxSumExact(t *testing.T) {
	t.Parallel()

	vals := []float64{5, -3, 2.5, 100, -17, 0}
	b, err := tdigest.NewBuilder(50)
	require.NoError(t, err)
	var want float64
	for _, v := range vals {
		require.NoError(t, b.Push(v))
		want += v
	}
	s, err := b.Build()
	require.NoError(t, err)

	min, err := s.MinVal()
	require.NoError(t, err)
	require.Equal(t, -17.0, min)

	max, err := s.MaxVal()
	require.NoError(t, err)
	require.Equal(t, 100.0, max)

	sum, err := s.Sum()
	require.NoError(t, err)
	require.InDelta(t, want, sum, 1e-9)
}

func TestMergeCombinesCounts(t *testing.T) {
	t.Parallel()

	b1, err := tdigest.NewBuilder(100)
	require.NoError(t, err)
	for i := 1; i <= 500; i++ {
		require.NoError(t, b1.Push(float64(i)))
	}

	b2, err := tdigest.NewBuilder(100)
	require.NoError(t, err)
	for i := 501; i <= 1000; i++ {
		require.NoError(t, b2.Push(float64(i)))
	}

	require.NoError(t, b1.Merge(b2))
	s, err := b1.Build()
	require.NoError(t, err)

	require.Equal(t, uint64(1000), s.NumVals())
	min, err := s.MinVal()
	require.NoError(t, err)
	require.Equal(t, 1.0, min)
	max, err := s.MaxVal()
	require.NoError(t, err)
	require.Equal(t, 1000.0, max)

	median, err := s.ApproxPercentile(0.5)
	require.NoError(t, err)
	require.InEpsilon(t, 500.0, median, 0.05)
}

func TestMergeAllowsDifferentMaxSize(t *testing.T) {
	t.Parallel()

	b1, err := tdigest.NewBuilder(20)
	require.NoError(t, err)
	require.NoError(t, b1.Push(1))

	b2, err := tdigest.NewBuilder(200)
	require.NoError(t, err)
	require.NoError(t, b2.Push(2))

	require.NoError(t, b1.Merge(b2))
	s, err := b1.Build()
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.NumVals())
}

func TestMonotoneRank(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		maxSize := uint32(rapid.IntRange(5, 200).Draw(t, "max_size").(int))
		values := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), 1, 500).Draw(t, "values").([]float64)

		b, err := tdigest.NewBuilder(maxSize)
		if err != nil {
			t.Fatalf("new builder: %v", err)
		}
		for _, v := range values {
			if err := b.Push(v); err != nil {
				t.Fatalf("push: %v", err)
			}
		}
		s, err := b.Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}

		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		var prevRank float64
		for _, q := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1} {
			v, err := s.ApproxPercentile(q)
			if err != nil {
				t.Fatalf("approx_percentile(%v): %v", q, err)
			}
			if v < sorted[0] || v > sorted[len(sorted)-1] {
				t.Fatalf("approx_percentile(%v) = %v out of observed range [%v, %v]", q, v, sorted[0], sorted[len(sorted)-1])
			}
			rank, err := s.ApproxPercentileRank(v)
			if err != nil {
				t.Fatalf("approx_percentile_rank(%v): %v", v, err)
			}
			if rank < prevRank-1e-9 {
				t.Fatalf("rank not monotone: q=%v rank=%v prevRank=%v", q, rank, prevRank)
			}
			prevRank = rank
		}
	})
}
