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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/timescale/toolkit-sketches/quantile"
)

// bucketEntrySize is the on-wire size, in bytes, of one (idx, count)
// pair: an i32 index followed by a u64 count.
const bucketEntrySize = 4 + 8

// headerSize is the size, in bytes, of the fixed body fields that
// precede the bucket arrays: max_buckets, compactions, alpha, count,
// zero_count, sum, min, max.
const headerSize = 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8

// Serialize encodes the sketch to its canonical versioned byte form: a
// kind tag, a version byte, then the fixed header fields, then the
// positive and negative bucket arrays in ascending-idx order.
func (s *Sketch) Serialize() []byte {
	size := 2 + headerSize + 4 + len(s.pos)*bucketEntrySize + 4 + len(s.neg)*bucketEntrySize
	buf := make([]byte, size)
	le := binary.LittleEndian
	i := 0

	buf[i] = byte(quantile.KindUddSketch)
	i++
	buf[i] = byte(quantile.SerialVersion)
	i++

	le.PutUint32(buf[i:], s.maxBuckets)
	i += 4
	le.PutUint32(buf[i:], s.compactions)
	i += 4
	le.PutUint64(buf[i:], math.Float64bits(s.alpha))
	i += 8
	le.PutUint64(buf[i:], s.count)
	i += 8
	le.PutUint64(buf[i:], s.zeroCount)
	i += 8
	le.PutUint64(buf[i:], math.Float64bits(s.sum))
	i += 8
	le.PutUint64(buf[i:], math.Float64bits(s.min))
	i += 8
	le.PutUint64(buf[i:], math.Float64bits(s.max))
	i += 8

	i = putBuckets(buf, i, s.pos)
	i = putBuckets(buf, i, s.neg)

	return buf[:i]
}

func putBuckets(buf []byte, i int, bs []bucket) int {
	le := binary.LittleEndian
	le.PutUint32(buf[i:], uint32(len(bs)))
	i += 4
	for _, b := range bs {
		le.PutUint32(buf[i:], uint32(b.idx))
		i += 4
		le.PutUint64(buf[i:], b.count)
		i += 8
	}
	return i
}

// Deserialize decodes a byte form produced by (*Sketch).Serialize. It
// fails with ErrCorruptSketch if the tag, version, cardinality, or any
// cross-checked invariant (count conservation, strictly increasing
// bucket indices, sum/min/max not NaN and min <= max when count > 0)
// does not validate. Infinite sum/min/max are accepted, since Push
// accepts +/-Inf.
func Deserialize(data []byte) (*Sketch, error) {
	if len(data) < 2 {
		return nil, corruptErr("truncated header: %d bytes", len(data))
	}
	if quantile.Kind(data[0]) != quantile.KindUddSketch {
		return nil, corruptErr("unexpected kind tag %#02x", data[0])
	}
	if data[1] != quantile.SerialVersion {
		return nil, corruptErr("unsupported version %#02x", data[1])
	}

	le := binary.LittleEndian
	body := data[2:]
	if len(body) < headerSize {
		return nil, corruptErr("truncated body: %d bytes, need at least %d", len(body), headerSize)
	}

	i := 0
	maxBuckets := le.Uint32(body[i:])
	i += 4
	compactions := le.Uint32(body[i:])
	i += 4
	alpha := math.Float64frombits(le.Uint64(body[i:]))
	i += 8
	count := le.Uint64(body[i:])
	i += 8
	zeroCount := le.Uint64(body[i:])
	i += 8
	sum := math.Float64frombits(le.Uint64(body[i:]))
	i += 8
	min := math.Float64frombits(le.Uint64(body[i:]))
	i += 8
	max := math.Float64frombits(le.Uint64(body[i:]))
	i += 8

	if maxBuckets < 1 {
		return nil, corruptErr("max_buckets must be >= 1, got %d", maxBuckets)
	}
	if math.IsNaN(alpha) || alpha < 1e-12 || alpha >= 1.0 {
		return nil, corruptErr("alpha out of range: %v", alpha)
	}

	pos, i, err := readBuckets(body, i)
	if err != nil {
		return nil, err
	}
	neg, i, err := readBuckets(body, i)
	if err != nil {
		return nil, err
	}
	if i != len(body) {
		return nil, corruptErr("trailing garbage: %d unread bytes", len(body)-i)
	}

	if err := validateAscending(pos); err != nil {
		return nil, err
	}
	if err := validateAscending(neg); err != nil {
		return nil, err
	}

	var summedPos, summedNeg uint64
	for _, b := range pos {
		summedPos += b.count
	}
	for _, b := range neg {
		summedNeg += b.count
	}
	if zeroCount+summedPos+summedNeg != count {
		return nil, corruptErr("count %d does not match summed weights %d", count, zeroCount+summedPos+summedNeg)
	}

	if count > 0 {
		if math.IsNaN(sum) || math.IsNaN(min) || math.IsNaN(max) {
			return nil, corruptErr("NaN sum/min/max with nonzero count")
		}
		if min > max {
			return nil, corruptErr("min %v > max %v", min, max)
		}
	}

	gamma := (1 + alpha) / (1 - alpha)
	return &Sketch{
		maxBuckets:  maxBuckets,
		alpha:       alpha,
		gamma:       gamma,
		gammaLn:     math.Log(gamma),
		compactions: compactions,
		count:       count,
		zeroCount:   zeroCount,
		sum:         sum,
		min:         min,
		max:         max,
		pos:         pos,
		neg:         neg,
	}, nil
}

func readBuckets(body []byte, i int) ([]bucket, int, error) {
	le := binary.LittleEndian
	if len(body)-i < 4 {
		return nil, i, corruptErr("truncated bucket count at offset %d", i)
	}
	n := le.Uint32(body[i:])
	i += 4

	need := int(n) * bucketEntrySize
	if len(body)-i < need {
		return nil, i, corruptErr("truncated bucket array: need %d bytes, have %d", need, len(body)-i)
	}

	bs := make([]bucket, n)
	for j := range bs {
		bs[j].idx = int32(le.Uint32(body[i:]))
		i += 4
		bs[j].count = le.Uint64(body[i:])
		i += 8
	}
	return bs, i, nil
}

func validateAscending(bs []bucket) error {
	for i := 1; i < len(bs); i++ {
		if bs[i].idx <= bs[i-1].idx {
			return corruptErr("bucket indices not strictly increasing at position %d", i)
		}
	}
	return nil
}

func corruptErr(format string, args ...interface{}) error {
	return fmt.Errorf("uddsketch: deserialize: %w: %s", quantile.ErrCorruptSketch, fmt.Sprintf(format, args...))
}
