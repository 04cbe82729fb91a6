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
	"go/token"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"golang.org/x/tools/go/ssa"
)

// rdDefs is the set of instructions that may have last written one object.
// The nil instruction stands for the function entry (incoming memory).
type rdDefs map[ssa.Instruction]bool

// rdStore maps each memory object to its reaching definitions.
type rdStore map[*memory.Object]rdDefs

func (st rdStore) clone() rdStore {
	c := make(rdStore, len(st))
	for o, defs := range st {
		nd := make(rdDefs, len(defs))
		for d := range defs {
			nd[d] = true
		}
		c[o] = nd
	}
	return c
}

// mergeWith joins other into st and reports growth.
func (st rdStore) mergeWith(other rdStore) bool {
	changed := false
	for o, defs := range other {
		cur, ok := st[o]
		if !ok {
			cur = make(rdDefs, len(defs))
			st[o] = cur
		}
		for d := range defs {
			if !cur[d] {
				cur[d] = true
				changed = true
			}
		}
	}
	return changed
}

// updateBinding replaces o's definitions with exactly inst (strong update).
func (st rdStore) updateBinding(o *memory.Object, inst ssa.Instruction) {
	st[o] = rdDefs{inst: true}
}

// insertBinding adds inst to o's definitions (weak update).
func (st rdStore) insertBinding(o *memory.Object, inst ssa.Instruction) {
	defs, ok := st[o]
	if !ok {
		defs = make(rdDefs)
		st[o] = defs
	}
	defs[inst] = true
}

// reachingDefs holds, for every memory-reading instruction of one function,
// the definitions that reach it.
type reachingDefs struct {
	at map[ssa.Instruction]rdStore
}

// computeReachingDefs runs the per-function reaching definition analysis
// over the points-to solution and the mod-ref summaries. The entry defines
// every object the function may touch (incoming memory); stores define
// their target objects with the strong-update rule; calls define whatever
// their callees may write.
func (b *moduleBuilder) computeReachingDefs(fn *ssa.Function) *reachingDefs {
	rd := &reachingDefs{at: make(map[ssa.Instruction]rdStore)}
	if len(fn.Blocks) == 0 {
		return rd
	}

	entryStore := make(rdStore)
	summary := b.modref.SummaryOf(fn)
	summary.ReadSet(func(o *memory.Object) { entryStore.insertBinding(o, nil) })
	summary.WriteSet(func(o *memory.Object) { entryStore.insertBinding(o, nil) })

	in := make(map[*ssa.BasicBlock]rdStore)
	in[fn.Blocks[0]] = entryStore

	work := []*ssa.BasicBlock{fn.Blocks[0]}
	inWork := map[*ssa.BasicBlock]bool{fn.Blocks[0]: true}
	for len(work) > 0 {
		blk := work[0]
		work = work[1:]
		inWork[blk] = false

		cur := in[blk].clone()
		for _, instr := range blk.Instrs {
			if b.readsMemory(instr) {
				rd.at[instr] = cur.clone()
			}
			b.evalRDInstr(fn, instr, cur)
		}
		for _, succ := range blk.Succs {
			target, ok := in[succ]
			if !ok {
				in[succ] = cur.clone()
			} else if !target.mergeWith(cur) {
				continue
			}
			if !inWork[succ] {
				inWork[succ] = true
				work = append(work, succ)
			}
		}
	}
	return rd
}

// readsMemory reports whether instr consumes memory state: loads, calls
// (callee refs) and returns (observable writes flow back to callers).
func (b *moduleBuilder) readsMemory(instr ssa.Instruction) bool {
	switch v := instr.(type) {
	case *ssa.UnOp:
		return v.Op == token.MUL || v.Op == token.ARROW
	case *ssa.Lookup:
		return true
	case *ssa.Next:
		return !v.IsString
	case ssa.CallInstruction, *ssa.Return:
		return true
	}
	return false
}

// evalRDInstr applies one instruction's memory definitions to the running
// store.
func (b *moduleBuilder) evalRDInstr(fn *ssa.Function, instr ssa.Instruction, st rdStore) {
	evalStore := func(addr ssa.Value) {
		pSet := b.res.Pts(addr)
		objs := pSet.Objects()
		if len(objs) == 1 && !objs[0].IsSummary() && !objs[0].IsSpecial() {
			st.updateBinding(objs[0], instr)
			return
		}
		for _, o := range objs {
			if !o.IsSpecial() {
				st.insertBinding(o, instr)
			}
		}
	}
	switch v := instr.(type) {
	case *ssa.Store:
		evalStore(v.Addr)
	case *ssa.Send:
		// Channel cells are summaries; always weak.
		for _, o := range b.res.Pts(v.Chan).Objects() {
			if !o.IsSpecial() {
				st.insertBinding(o, instr)
			}
		}
	case *ssa.MapUpdate:
		for _, o := range b.res.Pts(v.Map).Objects() {
			if !o.IsSpecial() {
				st.insertBinding(o, instr)
			}
		}
	case ssa.CallInstruction:
		for _, callee := range b.res.Callees(v) {
			if b.res.Program.IsExternal(callee) {
				for _, o := range b.externalModObjects(v, callee) {
					st.insertBinding(o, instr)
				}
				continue
			}
			b.modref.SummaryOf(callee).WriteSet(func(o *memory.Object) {
				st.insertBinding(o, instr)
			})
		}
	}
}

// externalModObjects resolves the objects an external callee may write at a
// call site. An annotated callee follows its MOD entries; an unannotated one
// conservatively writes the direct pointees of its pointer arguments, so
// taint-table effects on argument memory still have def-use edges to ride.
func (b *moduleBuilder) externalModObjects(call ssa.CallInstruction, callee *ssa.Function) []*memory.Object {
	entry, ok := b.modref.table.Lookup(callee.String())
	if !ok {
		entry, ok = b.modref.table.Lookup(callee.Name())
	}
	if !ok {
		return b.argPointees(call)
	}
	var out []*memory.Object
	for _, eff := range entry.Effects {
		if eff.Kind != annotation.EffectMod {
			continue
		}
		out = append(out, b.modref.effectObjects(call.Parent(), call, eff)...)
	}
	return out
}

// argPointees returns the direct pointees of every argument of a call.
func (b *moduleBuilder) argPointees(call ssa.CallInstruction) []*memory.Object {
	var out []*memory.Object
	for _, arg := range call.Common().Args {
		if !pointer.PointerLike(arg.Type()) {
			continue
		}
		for _, o := range b.res.Pts(arg).Objects() {
			if !o.IsSpecial() {
				out = append(out, o)
			}
		}
	}
	return out
}
