// Copyright ZJU Automated Reasoning Group. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package taint implements the taint half of the analysis: the four-point
// lattice, the sparse transfer function over the def-use module, the
// fixpoint engine, and the sink-violation checker.
package taint

import "github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"

// Lattice is the four-point taint lattice:
//
//	Unknown ⊑ Untainted ⊑ Either
//	Unknown ⊑ Tainted   ⊑ Either
//
// Unknown is bottom (not yet computed), Either is top (both precise values
// merged away).
type Lattice uint8

const (
	Unknown Lattice = iota
	Untainted
	Tainted
	Either
)

func (l Lattice) String() string {
	switch l {
	case Unknown:
		return "Unknown"
	case Untainted:
		return "Untainted"
	case Tainted:
		return "Tainted"
	default:
		return "Either"
	}
}

// Merge returns the least upper bound of a and b.
func Merge(a, b Lattice) Lattice {
	if a == b || b == Unknown {
		return a
	}
	if a == Unknown {
		return b
	}
	// Distinct known values merge to top.
	return Either
}

// MergeAll folds Merge over a value list.
func MergeAll(vals []Lattice) Lattice {
	out := Unknown
	for _, v := range vals {
		out = Merge(out, v)
	}
	return out
}

// Leq reports a ⊑ b in the lattice order.
func Leq(a, b Lattice) bool {
	if a == b || a == Unknown || b == Either {
		return true
	}
	return false
}

// FromAnnotation converts a table lattice constant.
func FromAnnotation(v annotation.LatticeValue) Lattice {
	switch v {
	case annotation.LatTainted:
		return Tainted
	case annotation.LatUntainted:
		return Untainted
	default:
		return Either
	}
}
