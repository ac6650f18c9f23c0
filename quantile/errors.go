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

package quantile

import "errors"

// The sentinel errors below are the closed set of failure kinds a sketch
// engine can report. Every fallible operation in uddsketch and tdigest
// wraps one of these with fmt.Errorf's %w so that callers can test for a
// specific kind with errors.Is, regardless of the operation-specific
// message text wrapped around it.
var (
	// ErrInvalidParameter is returned when a construction parameter (e.g.
	// max_buckets, alpha, max_size) is out of range.
	ErrInvalidParameter = errors.New("quantile: invalid parameter")

	// ErrInvalidValue is returned when a pushed value cannot be
	// represented in a sketch (currently: NaN).
	ErrInvalidValue = errors.New("quantile: invalid value")

	// ErrEmptySketch is returned by any query run against a sketch whose
	// count is zero.
	ErrEmptySketch = errors.New("quantile: empty sketch")

	// ErrMergeMismatch is returned when merging two sketches that are not
	// compatible: UddSketch builders with different max_buckets. The two
	// engines' Builder types cannot be passed to each other's Merge, so a
	// merge across kinds never reaches run time.
	ErrMergeMismatch = errors.New("quantile: merge mismatch")

	// ErrCorruptSketch is returned by deserialization when the byte
	// stream fails tag, version, or invariant validation.
	ErrCorruptSketch = errors.New("quantile: corrupt sketch")

	// ErrOutOfRangeQuantile is returned when a requested quantile q is
	// outside [0, 1].
	ErrOutOfRangeQuantile = errors.New("quantile: quantile out of range")
)
