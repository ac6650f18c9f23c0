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

// Package quantile holds the error vocabulary, sketch-kind tags, and the
// read-only query surface shared by every streaming quantile sketch engine
// in this module (uddsketch and tdigest). It has no dependency on either
// engine, so both can depend on it without creating an import cycle.
package quantile

import "fmt"

// Kind tags which sketch algorithm produced a value, or a serialized byte
// stream. It is the discriminant of the tagged union formed by the two
// sketch engines: a caller holding a Sketch, or a blob on the wire, can
// always recover which engine built it from this one byte.
type Kind uint8

const (
	// KindUddSketch tags a relative-error bucketed histogram sketch.
	KindUddSketch Kind = 0x01
	// KindTDigest tags a centroid-clustering sketch.
	KindTDigest Kind = 0x02
)

// SerialVersion is the current binary layout version. It is embedded right
// after the kind tag in every serialized sketch so that future layout
// changes can be detected by readers built against an older version.
const SerialVersion = 0x01

func (k Kind) String() string {
	switch k {
	case KindUddSketch:
		return "UddSketch"
	case KindTDigest:
		return "TDigest"
	default:
		return fmt.Sprintf("Kind(%#02x)", uint8(k))
	}
}
