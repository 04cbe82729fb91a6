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

package pointer

import (
	"fmt"

	"golang.org/x/tools/go/ssa"
)

// NodeKind discriminates the semi-sparse program nodes. Only
// memory-affecting instructions get a node; everything else is elided.
type NodeKind uint8

const (
	// KindEntry is the per-function entry node.
	KindEntry NodeKind = iota
	// KindAlloc creates a memory object.
	KindAlloc
	// KindCopy moves pointer values between SSA names, possibly with a
	// field offset.
	KindCopy
	// KindLoad reads through a pointer.
	KindLoad
	// KindStore writes through a pointer.
	KindStore
	// KindCall transfers control to callees.
	KindCall
	// KindReturn leaves the function.
	KindReturn
)

func (k NodeKind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindAlloc:
		return "alloc"
	case KindCopy:
		return "copy"
	case KindLoad:
		return "load"
	case KindStore:
		return "store"
	case KindCall:
		return "call"
	default:
		return "return"
	}
}

// closureBinding records one captured variable of a MakeClosure: the callee
// free variable and the value bound to it at closure creation.
type closureBinding struct {
	freeVar *ssa.FreeVar
	bound   ssa.Value
}

// Node is one instruction of the semi-sparse program. It carries explicit
// operand lists so the transfer function never inspects IR operand structure
// during the fixpoint, the reduced-CFG edges for memory-level propagation,
// the SSA def-use edges for top-level propagation, and its reverse-post-order
// priority.
type Node struct {
	kind  NodeKind
	fn    *ssa.Function
	instr ssa.Instruction // nil for entry nodes

	dest ssa.Value   // value defined, nil if none
	srcs []ssa.Value // operands: copy sources, [ptr] for loads, [ptr, val] for stores

	offset   int64 // byte offset for field-address copies
	heap     bool  // alloc nodes: heap vs stack
	bindings []closureBinding

	succs []*Node // reduced-CFG successors (memory level)
	preds []*Node
	uses  []*Node // SSA users (top level)

	priority int
}

// Kind returns the node's kind.
func (n *Node) Kind() NodeKind { return n.kind }

// Func returns the function the node belongs to.
func (n *Node) Func() *ssa.Function { return n.fn }

// Instr returns the wrapped instruction; nil for entry nodes.
func (n *Node) Instr() ssa.Instruction { return n.instr }

// Dest returns the value the node defines, or nil.
func (n *Node) Dest() ssa.Value { return n.dest }

// Srcs returns the node's operand list.
func (n *Node) Srcs() []ssa.Value { return n.srcs }

// Succs returns the reduced-CFG successors.
func (n *Node) Succs() []*Node { return n.succs }

// Uses returns the SSA users of the node's result.
func (n *Node) Uses() []*Node { return n.uses }

// Priority returns the node's reverse-post-order priority; entry nodes carry
// the maximal priority of their function.
func (n *Node) Priority() int { return n.priority }

// Call returns the call common of a call node.
func (n *Node) Call() *ssa.CallCommon {
	return n.instr.(ssa.CallInstruction).Common()
}

// CallInstruction returns the wrapped call instruction of a call node.
func (n *Node) CallInstruction() ssa.CallInstruction {
	return n.instr.(ssa.CallInstruction)
}

func (n *Node) String() string {
	if n.kind == KindEntry {
		return fmt.Sprintf("entry(%s)", n.fn.Name())
	}
	return fmt.Sprintf("%s(%s)", n.kind, n.instr)
}
