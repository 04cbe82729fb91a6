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
	"go/types"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"golang.org/x/tools/go/ssa"
)

// evalValue resolves the points-to set of a value under a context. Globals,
// functions and nil constants resolve to their singleton objects without an
// environment binding; everything else reads the env.
func (e *Engine) evalValue(ctx *context.Context, v ssa.Value) *PtsSet {
	switch val := v.(type) {
	case *ssa.Global:
		return SingletonPtsSet(e.globalObject(val))
	case *ssa.Function:
		return SingletonPtsSet(e.mm.AllocateFunction(val, e.globalCtx))
	case *ssa.Const:
		if val.IsNil() {
			return SingletonPtsSet(e.mm.NullObject())
		}
		return EmptyPtsSet()
	case *ssa.Builtin:
		return EmptyPtsSet()
	default:
		return e.env.Lookup(e.pm.GetOrCreatePointer(ctx, v))
	}
}

func (e *Engine) globalObject(g *ssa.Global) *memory.Object {
	elem := g.Type().Underlying().(*types.Pointer).Elem()
	return e.mm.AllocateGlobal(g, e.globalCtx, e.prog.typeMap.Layout(elem))
}

// updateEnv joins set into the binding of (ctx, v) and returns whether it
// grew.
func (e *Engine) updateEnv(ctx *context.Context, v ssa.Value, set *PtsSet) bool {
	return e.env.WeakUpdate(e.pm.GetOrCreatePointer(ctx, v), set)
}

// eval runs the transfer function of one program point over its memo'ed
// store. Updates happen before any propagation.
func (e *Engine) eval(pp ProgramPoint, st *Store) {
	switch pp.Node.kind {
	case KindEntry:
		e.evalEntry(pp, st)
	case KindAlloc:
		e.evalAlloc(pp, st)
	case KindCopy:
		e.evalCopy(pp, st)
	case KindLoad:
		e.evalLoad(pp, st)
	case KindStore:
		e.evalStore(pp, st)
	case KindCall:
		e.evalCall(pp, st)
	case KindReturn:
		e.evalReturn(pp, st)
	}
}

func (e *Engine) evalEntry(pp ProgramPoint, st *Store) {
	e.enqueueUses(pp)
	e.propagateToSuccs(pp, st)
}

func (e *Engine) evalAlloc(pp ProgramPoint, st *Store) {
	node := pp.Node
	obj := e.allocObject(pp)
	if e.updateEnv(pp.Ctx, node.dest, SingletonPtsSet(obj)) {
		e.enqueueUses(pp)
	}
	e.propagateToSuccs(pp, st)
}

// allocObject interns the object for an allocation node, applying the
// policy's allocation-context rule: a site with a zero allocation k-limit
// allocates in the global context and its objects are summaries.
func (e *Engine) allocObject(pp ProgramPoint) *memory.Object {
	node := pp.Node
	ctx := pp.Ctx
	summary := false
	if al, ok := e.policy.(context.AllocLimiter); ok {
		if al.AllocSiteLimit(node.dest) == 0 {
			ctx = e.globalCtx
			summary = true
		}
	}
	var obj *memory.Object
	switch v := node.instr.(type) {
	case *ssa.Alloc:
		layout := e.prog.typeMap.Layout(v.Type().Underlying().(*types.Pointer).Elem())
		if node.heap {
			obj = e.mm.AllocateHeap(ctx, v, layout)
		} else {
			obj = e.mm.AllocateStack(ctx, v, layout)
		}
	case *ssa.MakeSlice:
		elem := v.Type().Underlying().(*types.Slice).Elem()
		obj = e.mm.AllocateHeap(ctx, v, e.prog.typeMap.Layout(elem))
	case *ssa.MakeMap:
		elem := v.Type().Underlying().(*types.Map).Elem()
		obj = e.mm.AllocateHeap(ctx, v, e.prog.typeMap.Layout(elem))
	case *ssa.MakeChan:
		elem := v.Type().Underlying().(*types.Chan).Elem()
		obj = e.mm.AllocateHeap(ctx, v, e.prog.typeMap.Layout(elem))
	default:
		obj = e.mm.AllocateHeap(ctx, node.dest, e.prog.typeMap.ByteArrayLayout())
	}
	if summary {
		e.mm.SetSummary(obj)
	}
	return obj
}

func (e *Engine) evalCopy(pp ProgramPoint, st *Store) {
	node := pp.Node
	sets := make([]*PtsSet, 0, len(node.srcs))
	for _, src := range node.srcs {
		pSet := e.evalValue(pp.Ctx, src)
		if pSet.IsEmpty() {
			// Operand not ready
			continue
		}
		sets = append(sets, pSet)
	}
	dstSet := MergeAllPtsSets(sets)
	if node.offset != 0 {
		offSet := EmptyPtsSet()
		for _, o := range dstSet.Objects() {
			offSet = offSet.Insert(e.mm.Offset(o, node.offset))
		}
		dstSet = offSet
	}
	if e.updateEnv(pp.Ctx, node.dest, dstSet) {
		e.enqueueUses(pp)
	}
	// Closure captures bind the callee free variables, which live in the
	// global context.
	for _, b := range node.bindings {
		bSet := e.evalValue(pp.Ctx, b.bound)
		if bSet.IsEmpty() {
			continue
		}
		if e.updateEnv(e.globalCtx, b.freeVar, bSet) {
			e.enqueueFreeVarUsers(b.freeVar)
		}
	}
	e.propagateToSuccs(pp, st)
}

func (e *Engine) evalLoad(pp ProgramPoint, st *Store) {
	node := pp.Node
	ptrSet := e.evalValue(pp.Ctx, node.srcs[0])
	loaded := EmptyPtsSet()
	for _, o := range ptrSet.Objects() {
		if o.IsUniversal() {
			loaded = loaded.Insert(e.mm.UniversalObject())
			continue
		}
		if o.IsNull() {
			continue
		}
		loaded = loaded.Merge(st.Lookup(o))
	}
	if e.updateEnv(pp.Ctx, node.dest, loaded) {
		e.enqueueUses(pp)
	}
	e.propagateToSuccs(pp, st)
}

func (e *Engine) evalStore(pp ProgramPoint, st *Store) {
	node := pp.Node
	dstSet := e.evalValue(pp.Ctx, node.srcs[0])
	srcSet := e.evalValue(pp.Ctx, node.srcs[1])
	if dstSet.IsEmpty() || srcSet.IsEmpty() {
		e.propagateToSuccs(pp, st)
		return
	}
	newStore := st.Clone()
	objs := dstSet.Objects()
	if len(objs) == 1 && !objs[0].IsSummary() {
		newStore.StrongUpdate(objs[0], srcSet)
	} else {
		for _, o := range objs {
			newStore.WeakUpdate(o, srcSet)
		}
	}
	e.propagateToSuccs(pp, newStore)
}

func (e *Engine) evalReturn(pp ProgramPoint, st *Store) {
	node := pp.Node
	if node.fn == e.prog.main {
		// Return from main. Program end.
		return
	}
	retSet := EmptyPtsSet()
	for _, r := range node.srcs {
		retSet = retSet.Merge(e.evalValue(pp.Ctx, r))
	}
	callers := e.cg.Callers(FunctionContext{Ctx: pp.Ctx, Fn: node.fn})
	for _, caller := range callers {
		e.returnToCaller(caller, retSet, st)
	}
	// A root initializer hands its exit store to main's entry: package
	// initialization runs to completion before main starts.
	for _, caller := range callers {
		if caller.Node == nil && e.prog.main != nil && node.fn != e.prog.main {
			mainEntry := e.prog.fns[e.prog.main].entry
			e.propagateStore(ProgramPoint{Ctx: e.globalCtx, Node: mainEntry}, st)
			break
		}
	}
}

// returnToCaller binds the call result at the caller and forwards the callee
// exit store to the caller's successors. A used result of a resultless call
// binds to the null object.
func (e *Engine) returnToCaller(caller ProgramPoint, retSet *PtsSet, exitStore *Store) {
	if caller.Node == nil {
		// Root activation: nothing to bind.
		return
	}
	dst := caller.Node.dest
	if dst != nil && PointerLike(dst.Type()) {
		bound := retSet
		if bound.IsEmpty() {
			bound = SingletonPtsSet(e.mm.NullObject())
		}
		if e.updateEnv(caller.Ctx, dst, bound) {
			e.enqueueUses(caller)
		}
	}
	for _, succ := range caller.Node.succs {
		e.propagateStore(ProgramPoint{Ctx: caller.Ctx, Node: succ}, exitStore)
	}
}

// enqueueUses wakes the top-level successors of pp.
func (e *Engine) enqueueUses(pp ProgramPoint) {
	for _, u := range pp.Node.uses {
		e.wl.Enqueue(ProgramPoint{Ctx: pp.Ctx, Node: u})
	}
}

// enqueueFreeVarUsers wakes the users of a free variable in every recorded
// activation of its function.
func (e *Engine) enqueueFreeVarUsers(fv *ssa.FreeVar) {
	fn := fv.Parent()
	f := e.prog.fns[fn]
	if f == nil {
		return
	}
	e.cg.Activations(func(fc FunctionContext) {
		if fc.Fn != fn {
			return
		}
		for _, u := range f.entry.uses {
			e.wl.Enqueue(ProgramPoint{Ctx: fc.Ctx, Node: u})
		}
	})
}

// propagateToSuccs forwards a store to every reduced-CFG successor.
func (e *Engine) propagateToSuccs(pp ProgramPoint, st *Store) {
	for _, succ := range pp.Node.succs {
		e.propagateStore(ProgramPoint{Ctx: pp.Ctx, Node: succ}, st)
	}
}

// propagateStore merges st into the memo of to and wakes it when any
// per-object binding grew.
func (e *Engine) propagateStore(to ProgramPoint, st *Store) {
	cur, ok := e.memo[to]
	if !ok {
		cur = NewStore()
		e.memo[to] = cur
		if st.Size() == 0 {
			e.wl.Enqueue(to)
			return
		}
	}
	if cur.MergeWith(st) {
		e.wl.Enqueue(to)
	}
}
