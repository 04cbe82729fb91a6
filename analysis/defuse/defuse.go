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

package defuse

import (
	"fmt"
	"go/token"
	"sort"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"golang.org/x/tools/go/ssa"
)

// Instruction is one def-use node: a function entry, or a wrapper over an IR
// instruction. It carries the sparse edges the taint engine walks: the SSA
// users of its result (top level) and, per memory object it may define, the
// readers it reaches (memory level). The def-use graph over-approximates
// semantic dependence: every semantic dependency has an edge, spurious edges
// are possible.
type Instruction struct {
	fn    *ssa.Function
	instr ssa.Instruction // nil for entry nodes

	priority int

	topSuccs []*Instruction
	memSuccs map[*memory.Object][]*Instruction
	memPreds map[*memory.Object][]*Instruction
}

// Func returns the owning function.
func (n *Instruction) Func() *ssa.Function { return n.fn }

// Instr returns the wrapped IR instruction; nil for entry nodes.
func (n *Instruction) Instr() ssa.Instruction { return n.instr }

// IsEntry reports whether the node is a function entry.
func (n *Instruction) IsEntry() bool { return n.instr == nil }

// Priority returns the node's scheduling priority; the entry carries the
// function's maximal value.
func (n *Instruction) Priority() int { return n.priority }

// TopSuccs returns the SSA users of the node's result.
func (n *Instruction) TopSuccs() []*Instruction { return n.topSuccs }

// MemSuccs iterates the memory-level successors, keyed by the object whose
// definition reaches them, in object order.
func (n *Instruction) MemSuccs(f func(o *memory.Object, readers []*Instruction)) {
	objs := make([]*memory.Object, 0, len(n.memSuccs))
	for o := range n.memSuccs {
		objs = append(objs, o)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID() < objs[j].ID() })
	for _, o := range objs {
		f(o, n.memSuccs[o])
	}
}

// MemSuccsFor returns the readers reached through o.
func (n *Instruction) MemSuccsFor(o *memory.Object) []*Instruction { return n.memSuccs[o] }

// MemPreds returns the defining nodes reaching this node through o.
func (n *Instruction) MemPreds(o *memory.Object) []*Instruction { return n.memPreds[o] }

// MemObjects returns the objects this node may define, in object order.
func (n *Instruction) MemObjects() []*memory.Object {
	objs := make([]*memory.Object, 0, len(n.memSuccs))
	for o := range n.memSuccs {
		objs = append(objs, o)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID() < objs[j].ID() })
	return objs
}

func (n *Instruction) String() string {
	if n.IsEntry() {
		return fmt.Sprintf("entry(%s)", n.fn.Name())
	}
	return n.instr.String()
}

// Function is the def-use graph of one IR function.
type Function struct {
	fn      *ssa.Function
	entry   *Instruction
	insts   map[ssa.Instruction]*Instruction
	nodes   []*Instruction
	returns []*Instruction
}

// Fn returns the IR function.
func (f *Function) Fn() *ssa.Function { return f.fn }

// Entry returns the entry node.
func (f *Function) Entry() *Instruction { return f.entry }

// NodeFor returns the node wrapping instr, or nil when elided.
func (f *Function) NodeFor(instr ssa.Instruction) *Instruction { return f.insts[instr] }

// Nodes returns every node, entry first, in instruction order.
func (f *Function) Nodes() []*Instruction { return f.nodes }

// Returns returns the function's return nodes.
func (f *Function) Returns() []*Instruction { return f.returns }

// Module is the whole-program def-use graph, built once after the pointer
// fixpoint stabilizes.
type Module struct {
	fns  map[*ssa.Function]*Function
	res  *pointer.Result
	main *ssa.Function
}

// FunctionOf returns fn's def-use graph, or nil for externals.
func (m *Module) FunctionOf(fn *ssa.Function) *Function { return m.fns[fn] }

// Main returns the program entry function.
func (m *Module) Main() *ssa.Function { return m.main }

// PointerResult returns the points-to solution the module was built from.
func (m *Module) PointerResult() *pointer.Result { return m.res }

type moduleBuilder struct {
	res    *pointer.Result
	modref *ModRefModule
	logger *config.LogGroup
}

// BuildModule constructs the def-use module: reaching definitions per
// function, then top-level and per-object memory-level edges, then
// reverse-post-order priorities.
func BuildModule(res *pointer.Result, modref *ModRefModule, logger *config.LogGroup) *Module {
	b := &moduleBuilder{res: res, modref: modref, logger: logger}
	m := &Module{
		fns:  make(map[*ssa.Function]*Function),
		res:  res,
		main: res.Program.Main(),
	}
	for _, fn := range res.Program.Functions() {
		m.fns[fn] = b.buildFunction(fn)
	}
	return m
}

// elided reports whether an instruction carries no dataflow of its own:
// control transfers and debug markers.
func elided(instr ssa.Instruction) bool {
	switch instr.(type) {
	case *ssa.Jump, *ssa.If, *ssa.RunDefers, *ssa.DebugRef:
		return true
	}
	return false
}

func (b *moduleBuilder) buildFunction(fn *ssa.Function) *Function {
	f := &Function{
		fn:    fn,
		entry: &Instruction{fn: fn, memSuccs: map[*memory.Object][]*Instruction{}, memPreds: map[*memory.Object][]*Instruction{}},
		insts: make(map[ssa.Instruction]*Instruction),
	}
	f.nodes = append(f.nodes, f.entry)
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			if elided(instr) {
				continue
			}
			n := &Instruction{
				fn:       fn,
				instr:    instr,
				memSuccs: map[*memory.Object][]*Instruction{},
				memPreds: map[*memory.Object][]*Instruction{},
			}
			f.insts[instr] = n
			f.nodes = append(f.nodes, n)
			if _, ok := instr.(*ssa.Return); ok {
				f.returns = append(f.returns, n)
			}
		}
	}

	b.buildTopEdges(f)
	b.buildMemEdges(f)
	assignPriorities(f)
	return f
}

// buildTopEdges wires the SSA def-use edges, with parameter and free
// variable uses hanging off the entry.
func (b *moduleBuilder) buildTopEdges(f *Function) {
	addUsers := func(from *Instruction, v ssa.Value) {
		refs := v.Referrers()
		if refs == nil {
			return
		}
		for _, user := range *refs {
			if un := f.insts[user]; un != nil && un != from {
				from.topSuccs = append(from.topSuccs, un)
			}
		}
	}
	for _, n := range f.nodes {
		if n.instr == nil {
			continue
		}
		if v, ok := n.instr.(ssa.Value); ok {
			addUsers(n, v)
		}
	}
	for _, p := range f.fn.Params {
		addUsers(f.entry, p)
	}
	for _, fv := range f.fn.FreeVars {
		addUsers(f.entry, fv)
	}
}

// buildMemEdges runs reaching definitions and connects every definition to
// the readers it reaches, keyed by the memory object read.
func (b *moduleBuilder) buildMemEdges(f *Function) {
	rd := b.computeReachingDefs(f.fn)
	idx := make(map[ssa.Instruction]int, len(f.nodes))
	for i, n := range f.nodes {
		if n.instr != nil {
			idx[n.instr] = i
		}
	}
	for _, n := range f.nodes {
		if n.instr == nil {
			continue
		}
		objs := b.readObjects(n.instr)
		if len(objs) == 0 {
			continue
		}
		reaching := rd.at[n.instr]
		if reaching == nil {
			continue
		}
		for _, o := range objs {
			defs := make([]ssa.Instruction, 0, len(reaching[o]))
			for def := range reaching[o] {
				defs = append(defs, def)
			}
			// The nil (entry) definition sorts first; the rest follow node
			// order so edge lists are deterministic.
			sort.Slice(defs, func(i, j int) bool {
				if defs[i] == nil || defs[j] == nil {
					return defs[i] == nil
				}
				return idx[defs[i]] < idx[defs[j]]
			})
			for _, def := range defs {
				defNode := f.entry
				if def != nil {
					defNode = f.insts[def]
					if defNode == nil {
						continue
					}
				}
				addMemEdge(defNode, o, n)
			}
		}
	}
}

func addMemEdge(def *Instruction, o *memory.Object, reader *Instruction) {
	for _, r := range def.memSuccs[o] {
		if r == reader {
			return
		}
	}
	def.memSuccs[o] = append(def.memSuccs[o], reader)
	reader.memPreds[o] = append(reader.memPreds[o], def)
}

// readObjects resolves the memory objects an instruction may read: loads
// read their pointees, calls read what their callees reference, returns
// read every caller-visible object the function touches so the state flows
// back.
func (b *moduleBuilder) readObjects(instr ssa.Instruction) []*memory.Object {
	set := make(map[*memory.Object]bool)
	add := func(o *memory.Object) { set[o] = true }
	switch v := instr.(type) {
	case *ssa.UnOp:
		if v.Op == token.MUL || v.Op == token.ARROW {
			for _, o := range b.res.Pts(v.X).Objects() {
				add(o)
			}
		}
	case *ssa.Lookup:
		for _, o := range b.res.Pts(v.X).Objects() {
			add(o)
		}
	case *ssa.Next:
		if !v.IsString {
			for _, o := range b.res.Pts(v.Iter).Objects() {
				add(o)
			}
		}
	case ssa.CallInstruction:
		for _, callee := range b.res.Callees(v) {
			if b.res.Program.IsExternal(callee) {
				b.externalRefObjects(v, callee, add)
				continue
			}
			summary := b.modref.SummaryOf(callee)
			summary.ReadSet(add)
			summary.WriteSet(add)
		}
	case *ssa.Return:
		summary := b.modref.SummaryOf(instr.Parent())
		summary.ReadSet(add)
		summary.WriteSet(add)
	}
	return sortedObjects(set)
}

// externalRefObjects resolves the objects an external callee may read. An
// annotated callee follows its REF entries; an unannotated one
// conservatively reads the direct pointees of its pointer arguments, so
// direct-memory sink checks see the state at the call.
func (b *moduleBuilder) externalRefObjects(call ssa.CallInstruction, callee *ssa.Function, add func(*memory.Object)) {
	entry, ok := b.modref.table.Lookup(callee.String())
	if !ok {
		entry, ok = b.modref.table.Lookup(callee.Name())
	}
	if !ok {
		for _, o := range b.argPointees(call) {
			add(o)
		}
		return
	}
	for _, eff := range entry.Effects {
		if eff.Kind != annotation.EffectRef {
			continue
		}
		for _, o := range b.modref.effectObjects(call.Parent(), call, eff) {
			add(o)
		}
	}
}

// assignPriorities numbers the nodes in reverse post order over the basic
// blocks, entry maximal, so the engines schedule definitions before uses on
// acyclic regions.
func assignPriorities(f *Function) {
	order := make([]*ssa.BasicBlock, 0, len(f.fn.Blocks))
	seen := make(map[*ssa.BasicBlock]bool)
	var visit func(b *ssa.BasicBlock)
	visit = func(b *ssa.BasicBlock) {
		seen[b] = true
		for _, s := range b.Succs {
			if !seen[s] {
				visit(s)
			}
		}
		order = append(order, b) // post order
	}
	if len(f.fn.Blocks) > 0 {
		visit(f.fn.Blocks[0])
	}

	prio := 1
	// Post order reversed: assign increasing priorities from the back so
	// earlier blocks get larger values.
	for _, blk := range order {
		for i := len(blk.Instrs) - 1; i >= 0; i-- {
			if n := f.insts[blk.Instrs[i]]; n != nil {
				n.priority = prio
				prio++
			}
		}
	}
	f.entry.priority = prio + 1
}
