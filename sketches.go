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

// Package sketches is the polymorphic entry point over the two
// quantile-sketch engines provided by this module, uddsketch and
// tdigest. Most callers who already know which kind they hold should
// import that engine's package directly; this package exists for
// callers — such as a database-embedding layer storing an opaque
// serialized aggregate state — that receive a tagged byte sequence and
// need to recover the right concrete Sketch without knowing its kind
// ahead of time.
package sketches

import (
	"fmt"

	"github.com/timescale/toolkit-sketches/quantile"
	"github.com/timescale/toolkit-sketches/tdigest"
	"github.com/timescale/toolkit-sketches/uddsketch"
)

// Deserialize decodes a byte form produced by either engine's
// Serialize, dispatching on the leading kind tag. It fails with
// ErrCorruptSketch if the input is empty or the tag does not match a
// known kind.
func Deserialize(data []byte) (quantile.Sketch, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("sketches: deserialize: %w: empty input", quantile.ErrCorruptSketch)
	}

	switch quantile.Kind(data[0]) {
	case quantile.KindUddSketch:
		return uddsketch.Deserialize(data)
	case quantile.KindTDigest:
		return tdigest.Deserialize(data)
	default:
		return nil, fmt.Errorf("sketches: deserialize: %w: unknown kind tag %#02x", quantile.ErrCorruptSketch, data[0])
	}
}
