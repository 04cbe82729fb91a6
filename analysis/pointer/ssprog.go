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
	"go/token"
	"go/types"
	"sort"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Function is the semi-sparse form of one IR function: its entry node, the
// reduced node list in instruction order, and the return nodes.
type Function struct {
	fn      *ssa.Function
	entry   *Node
	nodes   []*Node
	byInstr map[ssa.Instruction]*Node
	returns []*Node
}

// Entry returns the function's entry node.
func (f *Function) Entry() *Node { return f.entry }

// Nodes returns every node of the function, entry first.
func (f *Function) Nodes() []*Node { return f.nodes }

// NodeFor returns the node wrapping instr, or nil when instr was elided.
func (f *Function) NodeFor(instr ssa.Instruction) *Node { return f.byInstr[instr] }

// Returns returns the function's return nodes.
func (f *Function) Returns() []*Node { return f.returns }

// Program is the semi-sparse whole-program representation, built once from
// the IR before the fixpoint starts.
type Program struct {
	ssaProg *ssa.Program
	typeMap *memory.TypeMap
	fns     map[*ssa.Function]*Function
	fnList  []*ssa.Function
	main    *ssa.Function
	inits   []*ssa.Function
}

// BuildProgram reduces every function of prog that has a body. Functions are
// ordered by name so every traversal of the program is deterministic.
func BuildProgram(prog *ssa.Program, typeMap *memory.TypeMap) *Program {
	p := &Program{
		ssaProg: prog,
		typeMap: typeMap,
		fns:     make(map[*ssa.Function]*Function),
	}
	all := make([]*ssa.Function, 0, 128)
	for fn := range ssautil.AllFunctions(prog) {
		if len(fn.Blocks) > 0 {
			all = append(all, fn)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].String() < all[j].String() })
	p.fnList = all
	for _, fn := range all {
		p.fns[fn] = buildFunction(fn, typeMap)
		if fn.Name() == "main" && fn.Pkg != nil && fn.Pkg.Pkg.Name() == "main" {
			p.main = fn
		}
		if fn.Name() == "init" && fn.Parent() == nil && fn.Pkg != nil && fn.Pkg.Pkg.Name() == "main" {
			p.inits = append(p.inits, fn)
		}
	}
	return p
}

// SSAProgram returns the underlying IR program.
func (p *Program) SSAProgram() *ssa.Program { return p.ssaProg }

// TypeMap returns the layout cache shared with the memory manager.
func (p *Program) TypeMap() *memory.TypeMap { return p.typeMap }

// Functions returns the reduced functions in name order.
func (p *Program) Functions() []*ssa.Function { return p.fnList }

// FunctionOf returns the reduced form of fn, or nil for bodyless functions.
func (p *Program) FunctionOf(fn *ssa.Function) *Function { return p.fns[fn] }

// Main returns the program entry function, or nil.
func (p *Program) Main() *ssa.Function { return p.main }

// Inits returns the package initializers of the main package.
func (p *Program) Inits() []*ssa.Function { return p.inits }

// IsExternal reports whether fn has no body to analyze.
func (p *Program) IsExternal(fn *ssa.Function) bool {
	return p.fns[fn] == nil
}

// PointerLike reports whether values of type t can carry references.
func PointerLike(t types.Type) bool {
	switch u := t.Underlying().(type) {
	case *types.Pointer, *types.Slice, *types.Map, *types.Chan, *types.Signature, *types.Interface:
		return true
	case *types.Basic:
		return u.Kind() == types.UnsafePointer
	case *types.Struct:
		for i := 0; i < u.NumFields(); i++ {
			if PointerLike(u.Field(i).Type()) {
				return true
			}
		}
	case *types.Array:
		return PointerLike(u.Elem())
	case *types.Tuple:
		for i := 0; i < u.Len(); i++ {
			if PointerLike(u.At(i).Type()) {
				return true
			}
		}
	}
	return false
}

func buildFunction(fn *ssa.Function, typeMap *memory.TypeMap) *Function {
	f := &Function{
		fn:      fn,
		entry:   &Node{kind: KindEntry, fn: fn},
		byInstr: make(map[ssa.Instruction]*Node),
	}
	f.nodes = append(f.nodes, f.entry)

	blockNodes := make(map[*ssa.BasicBlock][]*Node)
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			n := reduceInstr(fn, instr, typeMap)
			if n == nil {
				continue
			}
			f.nodes = append(f.nodes, n)
			f.byInstr[instr] = n
			blockNodes[b] = append(blockNodes[b], n)
			if n.kind == KindReturn {
				f.returns = append(f.returns, n)
			}
		}
	}

	// firstNodes resolves the first nodes reachable from the start of a
	// block, walking through blocks that reduced to nothing.
	var firstNodes func(b *ssa.BasicBlock, seen map[*ssa.BasicBlock]bool) []*Node
	firstNodes = func(b *ssa.BasicBlock, seen map[*ssa.BasicBlock]bool) []*Node {
		if seen[b] {
			return nil
		}
		seen[b] = true
		if ns := blockNodes[b]; len(ns) > 0 {
			return []*Node{ns[0]}
		}
		var out []*Node
		for _, s := range b.Succs {
			out = append(out, firstNodes(s, seen)...)
		}
		return out
	}
	connect := func(from *Node, to []*Node) {
		for _, t := range to {
			from.succs = append(from.succs, t)
			t.preds = append(t.preds, from)
		}
	}

	if len(fn.Blocks) > 0 {
		connect(f.entry, firstNodes(fn.Blocks[0], map[*ssa.BasicBlock]bool{}))
	}
	for _, b := range fn.Blocks {
		ns := blockNodes[b]
		if len(ns) == 0 {
			continue
		}
		for i := 0; i+1 < len(ns); i++ {
			connect(ns[i], []*Node{ns[i+1]})
		}
		last := ns[len(ns)-1]
		if last.kind == KindReturn {
			continue
		}
		seen := map[*ssa.BasicBlock]bool{b: true}
		for _, s := range b.Succs {
			connect(last, firstNodes(s, seen))
		}
	}

	buildUses(f)
	assignPriorities(f)
	return f
}

// reduceInstr maps one IR instruction to its semi-sparse node, or nil when
// the instruction cannot affect pointer memory.
func reduceInstr(fn *ssa.Function, instr ssa.Instruction, typeMap *memory.TypeMap) *Node {
	switch v := instr.(type) {
	case *ssa.Alloc:
		return &Node{kind: KindAlloc, fn: fn, instr: instr, dest: v, heap: v.Heap}
	case *ssa.MakeSlice:
		return &Node{kind: KindAlloc, fn: fn, instr: instr, dest: v, heap: true}
	case *ssa.MakeMap:
		return &Node{kind: KindAlloc, fn: fn, instr: instr, dest: v, heap: true}
	case *ssa.MakeChan:
		return &Node{kind: KindAlloc, fn: fn, instr: instr, dest: v, heap: true}
	case *ssa.MakeClosure:
		n := &Node{kind: KindCopy, fn: fn, instr: instr, dest: v, srcs: []ssa.Value{v.Fn}}
		closureFn := v.Fn.(*ssa.Function)
		for i, b := range v.Bindings {
			n.bindings = append(n.bindings, closureBinding{freeVar: closureFn.FreeVars[i], bound: b})
		}
		return n
	case *ssa.Phi:
		if !PointerLike(v.Type()) {
			return nil
		}
		return &Node{kind: KindCopy, fn: fn, instr: instr, dest: v, srcs: append([]ssa.Value(nil), v.Edges...)}
	case *ssa.ChangeType:
		return copyNode(fn, instr, v, v.X)
	case *ssa.Convert:
		return copyNode(fn, instr, v, v.X)
	case *ssa.ChangeInterface:
		return copyNode(fn, instr, v, v.X)
	case *ssa.MakeInterface:
		return copyNode(fn, instr, v, v.X)
	case *ssa.TypeAssert:
		return copyNode(fn, instr, v, v.X)
	case *ssa.Slice:
		return copyNode(fn, instr, v, v.X)
	case *ssa.SliceToArrayPointer:
		return copyNode(fn, instr, v, v.X)
	case *ssa.Extract:
		return copyNode(fn, instr, v, v.Tuple)
	case *ssa.Field:
		return copyNode(fn, instr, v, v.X)
	case *ssa.Index:
		return copyNode(fn, instr, v, v.X)
	case *ssa.Range:
		return copyNode(fn, instr, v, v.X)
	case *ssa.FieldAddr:
		ptrT := v.X.Type().Underlying().(*types.Pointer)
		st := ptrT.Elem().Underlying().(*types.Struct)
		return &Node{
			kind: KindCopy, fn: fn, instr: instr, dest: v,
			srcs:   []ssa.Value{v.X},
			offset: typeMap.FieldOffset(st, v.Field),
		}
	case *ssa.IndexAddr:
		// Elements collapse onto element zero of the array layout.
		return &Node{kind: KindCopy, fn: fn, instr: instr, dest: v, srcs: []ssa.Value{v.X}}
	case *ssa.UnOp:
		switch v.Op {
		case token.MUL, token.ARROW:
			if !PointerLike(v.Type()) {
				return nil
			}
			return &Node{kind: KindLoad, fn: fn, instr: instr, dest: v, srcs: []ssa.Value{v.X}}
		}
		return nil
	case *ssa.Lookup:
		if _, ok := v.X.Type().Underlying().(*types.Map); !ok {
			return nil
		}
		if !PointerLike(v.Type()) {
			return nil
		}
		return &Node{kind: KindLoad, fn: fn, instr: instr, dest: v, srcs: []ssa.Value{v.X}}
	case *ssa.Next:
		if v.IsString || !PointerLike(v.Type()) {
			return nil
		}
		return &Node{kind: KindLoad, fn: fn, instr: instr, dest: v, srcs: []ssa.Value{v.Iter}}
	case *ssa.Store:
		if !PointerLike(v.Val.Type()) {
			return nil
		}
		return &Node{kind: KindStore, fn: fn, instr: instr, srcs: []ssa.Value{v.Addr, v.Val}}
	case *ssa.Send:
		if !PointerLike(v.X.Type()) {
			return nil
		}
		return &Node{kind: KindStore, fn: fn, instr: instr, srcs: []ssa.Value{v.Chan, v.X}}
	case *ssa.MapUpdate:
		if !PointerLike(v.Value.Type()) {
			return nil
		}
		return &Node{kind: KindStore, fn: fn, instr: instr, srcs: []ssa.Value{v.Map, v.Value}}
	case *ssa.Call:
		return &Node{kind: KindCall, fn: fn, instr: instr, dest: v}
	case *ssa.Defer:
		return &Node{kind: KindCall, fn: fn, instr: instr}
	case *ssa.Go:
		return &Node{kind: KindCall, fn: fn, instr: instr}
	case *ssa.Return:
		return &Node{kind: KindReturn, fn: fn, instr: instr, srcs: append([]ssa.Value(nil), v.Results...)}
	}
	return nil
}

func copyNode(fn *ssa.Function, instr ssa.Instruction, dest ssa.Value, src ssa.Value) *Node {
	if !PointerLike(dest.Type()) {
		return nil
	}
	return &Node{kind: KindCopy, fn: fn, instr: instr, dest: dest, srcs: []ssa.Value{src}}
}

// buildUses wires the top-level def-use edges: users of a node's result, and
// users of parameters and free variables hanging off the entry node.
func buildUses(f *Function) {
	addUsers := func(from *Node, v ssa.Value) {
		refs := v.Referrers()
		if refs == nil {
			return
		}
		for _, user := range *refs {
			if un := f.byInstr[user]; un != nil && un != from {
				from.uses = append(from.uses, un)
			}
		}
	}
	for _, n := range f.nodes {
		if n.dest != nil {
			addUsers(n, n.dest)
		}
	}
	for _, p := range f.fn.Params {
		addUsers(f.entry, p)
	}
	for _, fv := range f.fn.FreeVars {
		addUsers(f.entry, fv)
	}
}

// assignPriorities numbers the nodes so that the entry carries the maximal
// priority and reverse post order decreases along the CFG. Nodes unreachable
// from the entry keep priority zero and sort last.
func assignPriorities(f *Function) {
	post := 0
	seen := make(map[*Node]bool, len(f.nodes))
	var visit func(n *Node)
	visit = func(n *Node) {
		seen[n] = true
		for _, s := range n.succs {
			if !seen[s] {
				visit(s)
			}
		}
		post++
		n.priority = post
	}
	visit(f.entry)
}
