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
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/timescale/toolkit-sketches/quantile"
)

// centroidEntrySize is the on-wire size, in bytes, of one (mean,
// weight) pair.
const centroidEntrySize = 8 + 8

// headerSize is the size, in bytes, of the fixed body fields that
// precede the centroid array: max_size, count, sum, min, max.
const headerSize = 4 + 8 + 8 + 8 + 8

// Serialize encodes the sketch to its canonical versioned byte form: a
// kind tag, a version byte, the fixed header fields, then the centroid
// array in ascending-mean order.
func (s *Sketch) Serialize() []byte {
	size := 2 + headerSize + 4 + len(s.centroids)*centroidEntrySize
	buf := make([]byte, size)
	le := binary.LittleEndian
	i := 0

	buf[i] = byte(quantile.KindTDigest)
	i++
	buf[i] = byte(quantile.SerialVersion)
	i++

	le.PutUint32(buf[i:], s.maxSize)
	i += 4
	le.PutUint64(buf[i:], s.count)
	i += 8
	le.PutUint64(buf[i:], math.Float64bits(s.sum))
	i += 8
	le.PutUint64(buf[i:], math.Float64bits(s.min))
	i += 8
	le.PutUint64(buf[i:], math.Float64bits(s.max))
	i += 8

	le.PutUint32(buf[i:], uint32(len(s.centroids)))
	i += 4
	for _, c := range s.centroids {
		le.PutUint64(buf[i:], math.Float64bits(c.mean))
		i += 8
		le.PutUint64(buf[i:], math.Float64bits(c.weight))
		i += 8
	}

	return buf[:i]
}

// Deserialize decodes a byte form produced by (*Sketch).Serialize. It
// fails with ErrCorruptSketch if the tag, version, cardinality, or any
// cross-checked invariant (strictly increasing centroid means, positive
// weights, weights summing to count, sum/min/max not NaN and min <= max
// when count > 0) does not validate. Infinite sum/min/max are accepted,
// since Push accepts +/-Inf.
func Deserialize(data []byte) (*Sketch, error) {
	if len(data) < 2 {
		return nil, corruptErr("truncated header: %d bytes", len(data))
	}
	if quantile.Kind(data[0]) != quantile.KindTDigest {
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
	maxSize := le.Uint32(body[i:])
	i += 4
	count := le.Uint64(body[i:])
	i += 8
	sum := math.Float64frombits(le.Uint64(body[i:]))
	i += 8
	min := math.Float64frombits(le.Uint64(body[i:]))
	i += 8
	max := math.Float64frombits(le.Uint64(body[i:]))
	i += 8

	if maxSize < 1 {
		return nil, corruptErr("max_size must be >= 1, got %d", maxSize)
	}

	if len(body)-i < 4 {
		return nil, corruptErr("truncated centroid count at offset %d", i)
	}
	n := le.Uint32(body[i:])
	i += 4

	need := int(n) * centroidEntrySize
	if len(body)-i < need {
		return nil, corruptErr("truncated centroid array: need %d bytes, have %d", need, len(body)-i)
	}

	centroids := make([]centroid, n)
	var totalWeight float64
	for j := range centroids {
		mean := math.Float64frombits(le.Uint64(body[i:]))
		i += 8
		weight := math.Float64frombits(le.Uint64(body[i:]))
		i += 8
		if math.IsNaN(mean) || math.IsNaN(weight) || weight <= 0 {
			return nil, corruptErr("centroid %d has invalid mean/weight: %v/%v", j, mean, weight)
		}
		centroids[j] = centroid{mean: mean, weight: weight}
		totalWeight += weight
	}
	if i != len(body) {
		return nil, corruptErr("trailing garbage: %d unread bytes", len(body)-i)
	}

	for j := 1; j < len(centroids); j++ {
		if centroids[j].mean <= centroids[j-1].mean {
			return nil, corruptErr("centroid means not strictly increasing at position %d", j)
		}
	}

	if uint64(math.Round(totalWeight)) != count {
		return nil, corruptErr("count %d does not match summed centroid weight %v", count, totalWeight)
	}

	if count > 0 {
		if math.IsNaN(sum) || math.IsNaN(min) || math.IsNaN(max) {
			return nil, corruptErr("NaN sum/min/max with nonzero count")
		}
		if min > max {
			return nil, corruptErr("min %v > max %v", min, max)
		}
	}

	return &Sketch{
		maxSize:   maxSize,
		centroids: centroids,
		count:     count,
		sum:       sum,
		min:       min,
		max:       max,
	}, nil
}

// SerializeText renders the sketch in a human-readable, line-oriented
// form: a header line of max_size/count/sum/min/max followed by one
// "mean weight" line per centroid. It exists for operators inspecting a
// sketch by hand; Serialize/Deserialize remain the canonical wire form.
func (s *Sketch) SerializeText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tdigest v%d max_size=%d count=%d sum=%s min=%s max=%s\n",
		quantile.SerialVersion, s.maxSize, s.count,
		strconv.FormatFloat(s.sum, 'g', -1, 64),
		strconv.FormatFloat(s.min, 'g', -1, 64),
		strconv.FormatFloat(s.max, 'g', -1, 64))
	for _, c := range s.centroids {
		fmt.Fprintf(&sb, "%s %s\n",
			strconv.FormatFloat(c.mean, 'g', -1, 64),
			strconv.FormatFloat(c.weight, 'g', -1, 64))
	}
	return sb.String()
}

// DeserializeText parses the form produced by SerializeText. It applies
// the same cross-checks as Deserialize.
func DeserializeText(s string) (*Sketch, error) {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, corruptErr("empty text form")
	}

	var version uint32
	var maxSize uint32
	var count uint64
	var sumStr, minStr, maxStr string
	n, err := fmt.Sscanf(lines[0], "tdigest v%d max_size=%d count=%d sum=%s min=%s max=%s",
		&version, &maxSize, &count, &sumStr, &minStr, &maxStr)
	if err != nil || n != 6 {
		return nil, corruptErr("malformed header line: %q", lines[0])
	}
	if version != quantile.SerialVersion {
		return nil, corruptErr("unsupported version %d", version)
	}
	if maxSize < 1 {
		return nil, corruptErr("max_size must be >= 1, got %d", maxSize)
	}

	sum, err1 := strconv.ParseFloat(sumStr, 64)
	min, err2 := strconv.ParseFloat(minStr, 64)
	max, err3 := strconv.ParseFloat(maxStr, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, corruptErr("malformed sum/min/max in header line: %q", lines[0])
	}

	centroids := make([]centroid, 0, len(lines)-1)
	var totalWeight float64
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, corruptErr("malformed centroid line: %q", line)
		}
		mean, errA := strconv.ParseFloat(fields[0], 64)
		weight, errB := strconv.ParseFloat(fields[1], 64)
		if errA != nil || errB != nil || math.IsNaN(mean) || math.IsNaN(weight) || weight <= 0 {
			return nil, corruptErr("malformed centroid line: %q", line)
		}
		centroids = append(centroids, centroid{mean: mean, weight: weight})
		totalWeight += weight
	}

	for j := 1; j < len(centroids); j++ {
		if centroids[j].mean <= centroids[j-1].mean {
			return nil, corruptErr("centroid means not strictly increasing at position %d", j)
		}
	}
	if uint64(math.Round(totalWeight)) != count {
		return nil, corruptErr("count %d does not match summed centroid weight %v", count, totalWeight)
	}
	if count > 0 {
		if math.IsNaN(sum) || math.IsNaN(min) || math.IsNaN(max) {
			return nil, corruptErr("NaN sum/min/max with nonzero count")
		}
		if min > max {
			return nil, corruptErr("min %v > max %v", min, max)
		}
	}

	return &Sketch{
		maxSize:   maxSize,
		centroids: centroids,
		count:     count,
		sum:       sum,
		min:       min,
		max:       max,
	}, nil
}

func corruptErr(format string, args ...interface{}) error {
	return fmt.Errorf("tdigest: deserialize: %w: %s", quantile.ErrCorruptSketch, fmt.Sprintf(format, args...))
}
