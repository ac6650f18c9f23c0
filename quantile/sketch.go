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

// Sketch is the read-only query surface shared by every finalized sketch,
// regardless of which engine built it. A builder in either engine package
// produces a value implementing this interface from its Build method.
//
// Every method that returns an error fails with ErrEmptySketch when
// NumVals() == 0; Kind, NumVals and Serialize are always well-defined.
type Sketch interface {
	// Kind reports which engine produced the sketch.
	Kind() Kind

	// NumVals returns the total number of values ingested.
	NumVals() uint64

	// Mean returns sum/count.
	Mean() (float64, error)

	// MinVal returns the exact minimum of all ingested values.
	MinVal() (float64, error)

	// MaxVal returns the exact maximum of all ingested values.
	MaxVal() (float64, error)

	// Sum returns the exact sum of all ingested values.
	Sum() (float64, error)

	// ApproxPercentile returns an estimate of the q-quantile, q in [0, 1].
	// It fails with ErrOutOfRangeQuantile if q is outside that range.
	ApproxPercentile(q float64) (float64, error)

	// ApproxPercentileRank returns an estimate, in [0, 1], of the
	// fraction of ingested values less than or equal to v.
	ApproxPercentileRank(v float64) (float64, error)

	// Serialize encodes the sketch to its canonical versioned byte form.
	Serialize() []byte
}

// ErrorReporter is implemented by sketch kinds that can report a
// guaranteed relative error bound for the estimates they currently
// produce. UddSketch implements it; T-Digest has no closed-form bound and
// does not.
type ErrorReporter interface {
	// Error returns the maximum relative error the sketch guarantees for
	// ApproxPercentile over any nonzero true value.
	Error() (float64, error)
}
