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

package uddsketch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timescale/toolkit-sketches/quantile"
	"github.com/timescale/toolkit-sketches/uddsketch"
	"pgregory.net/rapid"
)

func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		maxBuckets := uint32(rapid.IntRange(1, 64).Draw(t, "max_buckets").(int))
		alpha := rapid.Float64Range(1e-6, 0.5).Draw(t, "alpha").(float64)
		values := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), 0, 300).Draw(t, "values").([]float64)

		b, err := uddsketch.NewBuilder(maxBuckets, alpha)
		if err != nil {
			t.Fatalf("new builder: %v", err)
		}
		for _, v := range values {
			if err := b.Push(v); err != nil {
				t.Fatalf("push: %v", err)
			}
		}
		s1, err := b.Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}

		data := s1.Serialize()
		s2, err := uddsketch.Deserialize(data)
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}

		if s1.NumVals() != s2.NumVals() {
			t.Fatalf("num_vals mismatch: %v != %v", s1.NumVals(), s2.NumVals())
		}

		for _, q := range []float64{0, 0.01, 0.25, 0.5, 0.75, 0.99, 1} {
			v1, err1 := s1.ApproxPercentile(q)
			v2, err2 := s2.ApproxPercentile(q)
			if (err1 == nil) != (err2 == nil) {
				t.Fatalf("q=%v: error mismatch %v vs %v", q, err1, err2)
			}
			if err1 == nil && v1 != v2 {
				t.Fatalf("q=%v: value mismatch %v != %v", q, v1, v2)
			}
		}
	})
}

func TestDeserializeRejectsBadTag(t *testing.T) {
	t.Parallel()

	b, err := uddsketch.NewBuilder(10, 0.01)
	require.NoError(t, err)
	s, err := b.Build()
	require.NoError(t, err)

	data := s.Serialize()
	data[0] = 0xFF
	_, err = uddsketch.Deserialize(data)
	require.ErrorIs(t, err, quantile.ErrCorruptSketch)
}

func TestDeserializeRejectsBadVersion(t *testing.T) {
	t.Parallel()

	b, err := uddsketch.NewBuilder(10, 0.01)
	require.NoError(t, err)
	s, err := b.Build()
	require.NoError(t, err)

	data := s.Serialize()
	data[1] = 0xFF
	_, err = uddsketch.Deserialize(data)
	require.ErrorIs(t, err, quantile.ErrCorruptSketch)
}

func TestDeserializeRejectsTruncated(t *testing.T) {
	t.Parallel()

	b, err := uddsketch.NewBuilder(10, 0.01)
	require.NoError(t, err)
	require.NoError(t, b.Push(1))
	require.NoError(t, b.Push(2))
	s, err := b.Build()
	require.NoError(t, err)

	data := s.Serialize()
	for cut := 0; cut < len(data); cut++ {
		_, err := uddsketch.Deserialize(data[:cut])
		require.Error(t, err)
	}
}

func TestDeserializeRejectsCountMismatch(t *testing.T) {
	t.Parallel()

	b, err := uddsketch.NewBuilder(10, 0.01)
	require.NoError(t, err)
	require.NoError(t, b.Push(1))
	require.NoError(t, b.Push(2))
	require.NoError(t, b.Push(3))
	s, err := b.Build()
	require.NoError(t, err)

	data := s.Serialize()
	// count field sits right after max_buckets (4) + compactions (4) +
	// alpha (8) in the body, which itself follows the 2-byte header.
	countOffset := 2 + 4 + 4 + 8
	data[countOffset] ^= 0xFF

	_, err = uddsketch.Deserialize(data)
	require.ErrorIs(t, err, quantile.ErrCorruptSketch)
}

func TestDeserializeRejectsNonMonotoneIndices(t *testing.T) {
	t.Parallel()

	b, err := uddsketch.NewBuilder(10, 0.01)
	require.NoError(t, err)
	require.NoError(t, b.Push(1))
	require.NoError(t, b.Push(100))
	s, err := b.Build()
	require.NoError(t, err)

	data := s.Serialize()

	// Locate the n_pos count (right after the fixed header) and, if
	// there are at least two positive buckets, swap their idx fields so
	// ascending order is violated.
	nPosOffset := 2 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8
	nPos := int(data[nPosOffset]) | int(data[nPosOffset+1])<<8 | int(data[nPosOffset+2])<<16 | int(data[nPosOffset+3])<<24
	if nPos < 2 {
		t.Skip("need at least two positive buckets to exercise ordering check")
	}
	firstIdx := nPosOffset + 4
	secondIdx := firstIdx + (4 + 8)
	for k := 0; k < 4; k++ {
		data[firstIdx+k], data[secondIdx+k] = data[secondIdx+k], data[firstIdx+k]
	}

	_, err = uddsketch.Deserialize(data)
	require.ErrorIs(t, err, quantile.ErrCorruptSketch)
}
