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

// Package annotation holds the external-function effect tables consumed by
// the pointer and taint engines, and the parser for their text format.
// External behavior the engines cannot see (libc-style externals, syscall
// wrappers, unanalyzed package boundaries) is described by one table entry
// per function.
package annotation

import "fmt"

type posKind uint8

const (
	posRet posKind = iota
	posArg
	posAfterArg
)

// Position designates a value slot at a call site: the return value, a
// specific argument, or the variadic tail starting at an argument index.
type Position struct {
	kind  posKind
	index int
}

// ReturnPosition returns the position designating the call result.
func ReturnPosition() Position { return Position{kind: posRet} }

// ArgPosition returns the position designating argument i.
func ArgPosition(i int) Position { return Position{kind: posArg, index: i} }

// AfterArgPosition returns the position designating every argument from index
// i onward.
func AfterArgPosition(i int) Position { return Position{kind: posAfterArg, index: i} }

// IsReturn reports whether the position is the return slot.
func (p Position) IsReturn() bool { return p.kind == posRet }

// IsAfterArg reports whether the position covers a variadic tail.
func (p Position) IsAfterArg() bool { return p.kind == posAfterArg }

// Index returns the argument index; it is meaningless for return positions.
func (p Position) Index() int { return p.index }

func (p Position) String() string {
	switch p.kind {
	case posRet:
		return "Ret"
	case posArg:
		return fmt.Sprintf("Arg%d", p.index)
	default:
		return fmt.Sprintf("AfterArg%d", p.index)
	}
}

// Class selects how much memory an effect touches relative to a value.
type Class uint8

const (
	// ValueOnly: the SSA value itself.
	ValueOnly Class = iota
	// DirectMemory: the objects the value points to.
	DirectMemory
	// ReachableMemory: every object reachable from the value's pointees by
	// walking type layouts.
	ReachableMemory
)

func (c Class) String() string {
	switch c {
	case ValueOnly:
		return "V"
	case DirectMemory:
		return "D"
	default:
		return "R"
	}
}

// CopySource is the source class of an external copy effect. It extends
// Class with the three value-free sources a copy can draw from.
type CopySource uint8

const (
	SrcValue CopySource = iota
	SrcDirectMemory
	SrcReachableMemory
	SrcUniversal
	SrcNull
	SrcStatic
)

func (c CopySource) String() string {
	switch c {
	case SrcValue:
		return "Value"
	case SrcDirectMemory:
		return "DirectMem"
	case SrcReachableMemory:
		return "ReachMem"
	case SrcUniversal:
		return "Universal"
	case SrcNull:
		return "Null"
	default:
		return "Static"
	}
}

// LatticeValue is the taint lattice constant carried by SOURCE entries.
// The taint package converts it to its own lattice type.
type LatticeValue uint8

const (
	LatTainted LatticeValue = iota
	LatUntainted
	LatEither
)

func (v LatticeValue) String() string {
	switch v {
	case LatTainted:
		return "T"
	case LatUntainted:
		return "U"
	default:
		return "E"
	}
}
