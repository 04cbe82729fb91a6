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

package taint

import (
	"go/token"
	"go/types"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/defuse"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"golang.org/x/tools/go/ssa"
)

func isInit(inits []*ssa.Function, fn *ssa.Function) bool {
	for _, init := range inits {
		if init == fn {
			return true
		}
	}
	return false
}

// taintOf resolves the taint of a value under a context. Constants and
// global-kind values are Untainted by themselves; taint reaches them only
// through memory.
func (e *Engine) taintOf(ctx *context.Context, v ssa.Value) Lattice {
	switch v.(type) {
	case *ssa.Const, *ssa.Global, *ssa.Function, *ssa.Builtin:
		return Untainted
	case *ssa.FreeVar:
		return e.env.Lookup(Value{Ctx: e.globalCtx, Val: v})
	default:
		return e.env.Lookup(Value{Ctx: ctx, Val: v})
	}
}

// pts resolves a value's points-to set, preferring the context-sensitive
// binding and falling back to the context-free projection.
func (e *Engine) pts(ctx *context.Context, v ssa.Value) []*memory.Object {
	if s := e.res.PtsAt(ctx, v); !s.IsEmpty() {
		return s.Objects()
	}
	return e.res.Pts(v).Objects()
}

// propagateTop wakes the SSA users of pp's result.
func (e *Engine) propagateTop(pp ProgramPoint) {
	for _, u := range pp.Node.TopSuccs() {
		e.wl.enqueue(ProgramPoint{Ctx: pp.Ctx, Node: u})
	}
}

// defineObject pushes a per-object value to the readers this definition
// reaches, waking only those whose view changed.
func (e *Engine) defineObject(pp ProgramPoint, o *memory.Object, val Lattice) {
	if val == Unknown {
		return
	}
	for _, reader := range pp.Node.MemSuccsFor(o) {
		rpp := ProgramPoint{Ctx: pp.Ctx, Node: reader}
		if e.memo.Update(rpp, o, val) {
			e.wl.enqueue(rpp)
		}
	}
}

// eval dispatches the transfer function of one program point.
func (e *Engine) eval(pp ProgramPoint) {
	if pp.Node.IsEntry() {
		e.evalEntry(pp)
		return
	}
	switch instr := pp.Node.Instr().(type) {
	case *ssa.Alloc, *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan:
		e.evalAlloc(pp)
	case *ssa.UnOp:
		if instr.Op == token.MUL || instr.Op == token.ARROW {
			e.evalLoad(pp, instr.X)
		} else {
			e.evalValueOp(pp)
		}
	case *ssa.Lookup:
		if _, ok := instr.X.Type().Underlying().(*types.Map); ok {
			e.evalLoad(pp, instr.X)
		} else {
			e.evalValueOp(pp)
		}
	case *ssa.Next:
		if instr.IsString {
			e.evalValueOp(pp)
		} else {
			e.evalLoad(pp, instr.Iter)
		}
	case *ssa.Store:
		e.evalStore(pp, instr.Addr, instr.Val)
	case *ssa.Send:
		e.evalStore(pp, instr.Chan, instr.X)
	case *ssa.MapUpdate:
		e.evalStore(pp, instr.Map, instr.Value)
	case ssa.CallInstruction:
		e.evalCall(pp, instr)
	case *ssa.Return:
		e.evalReturn(pp, instr)
	case *ssa.MakeClosure:
		e.evalMakeClosure(pp, instr)
	default:
		e.evalValueOp(pp)
	}
}

// evalEntry forwards parameter taints to their users and the incoming
// memory state to its readers. The first evaluation of an activation
// schedules every node of the function once, so instructions with no
// incoming sparse edges (constant-argument calls, allocations) still run.
func (e *Engine) evalEntry(pp ProgramPoint) {
	fn := pp.Node.Func()
	fc := FunctionContext{Ctx: pp.Ctx, Fn: fn}
	if !e.seeded[fc] {
		e.seeded[fc] = true
		for _, n := range e.module.FunctionOf(fn).Nodes() {
			if !n.IsEntry() {
				e.wl.enqueue(ProgramPoint{Ctx: pp.Ctx, Node: n})
			}
		}
	}
	e.propagateTop(pp)
	local := e.memo.LookupOrCreate(pp)
	for _, o := range pp.Node.MemObjects() {
		if v := local.Lookup(o); v != Unknown {
			e.defineObject(pp, o, v)
		}
	}
}

// evalAlloc marks fresh memory handles Untainted.
func (e *Engine) evalAlloc(pp ProgramPoint) {
	v := pp.Node.Instr().(ssa.Value)
	if e.env.WeakUpdate(Value{Ctx: pp.Ctx, Val: v}, Untainted) {
		e.propagateTop(pp)
	}
}

// evalValueOp merges the operand taints into the result. A result stays
// Unknown (and does not propagate) until every contributing operand is
// ready.
func (e *Engine) evalValueOp(pp ProgramPoint) {
	instr := pp.Node.Instr()
	v, ok := instr.(ssa.Value)
	if !ok {
		return
	}
	rands := instr.Operands(nil)
	merged := Unknown
	for _, rand := range rands {
		if *rand == nil {
			continue
		}
		t := e.taintOf(pp.Ctx, *rand)
		if t == Unknown {
			// Operand not ready.
			return
		}
		merged = Merge(merged, t)
	}
	if merged == Unknown {
		merged = Untainted
	}
	if e.env.WeakUpdate(Value{Ctx: pp.Ctx, Val: v}, merged) {
		e.propagateTop(pp)
	}
}

// evalMakeClosure treats the closure value as fresh and binds the captured
// taints to the callee free variables, which live in the global context.
func (e *Engine) evalMakeClosure(pp ProgramPoint, mc *ssa.MakeClosure) {
	closureFn := mc.Fn.(*ssa.Function)
	for i, b := range mc.Bindings {
		t := e.taintOf(pp.Ctx, b)
		if t == Unknown {
			continue
		}
		fv := closureFn.FreeVars[i]
		if e.env.WeakUpdate(Value{Ctx: e.globalCtx, Val: fv}, t) {
			e.enqueueFreeVarUsers(fv)
		}
	}
	if e.env.WeakUpdate(Value{Ctx: pp.Ctx, Val: mc}, Untainted) {
		e.propagateTop(pp)
	}
}

func (e *Engine) enqueueFreeVarUsers(fv *ssa.FreeVar) {
	fn := fv.Parent()
	f := e.module.FunctionOf(fn)
	if f == nil {
		return
	}
	for _, fc := range e.fcOrder {
		if fc.Fn != fn {
			continue
		}
		for _, u := range f.Entry().TopSuccs() {
			e.wl.enqueue(ProgramPoint{Ctx: fc.Ctx, Node: u})
		}
	}
}

// evalLoad merges the stored taints of the pointees. Universal objects
// contribute Either; untouched globals read as Untainted. A fully Unknown
// read is not ready and does not propagate.
func (e *Engine) evalLoad(pp ProgramPoint, ptr ssa.Value) {
	local := e.memo.LookupOrCreate(pp)
	merged := Unknown
	for _, o := range e.pts(pp.Ctx, ptr) {
		var contrib Lattice
		switch {
		case o.IsUniversal():
			contrib = Either
		case o.IsNull():
			continue
		default:
			contrib = local.Lookup(o)
			if contrib == Unknown && o.Site().Kind() == memory.GlobalAlloc {
				// Globals start Untainted.
				contrib = Untainted
			}
		}
		merged = Merge(merged, contrib)
	}
	if merged == Unknown {
		return
	}
	v := pp.Node.Instr().(ssa.Value)
	if e.env.WeakUpdate(Value{Ctx: pp.Ctx, Val: v}, merged) {
		e.propagateTop(pp)
	}
}

// evalStore pushes the stored taint into the target objects. The
// strong/weak distinction lives in the reaching-definition structure: a
// strong store is the only definition reaching its readers, a weak store
// shares its readers with the definitions it did not kill, and the readers
// merge.
func (e *Engine) evalStore(pp ProgramPoint, addr, val ssa.Value) {
	t := e.taintOf(pp.Ctx, val)
	if t == Unknown {
		// Value not ready.
		return
	}
	for _, o := range e.pts(pp.Ctx, addr) {
		e.defineObject(pp, o, t)
	}
}

// evalCall pushes the context, binds argument taints and forwards the
// memory state into the callee; external callees go through the taint
// table.
func (e *Engine) evalCall(pp ProgramPoint, call ssa.CallInstruction) {
	callees := e.res.Callees(call)
	for _, callee := range callees {
		if e.res.Program.IsExternal(callee) {
			e.evalExternalCall(pp, call, callee)
			continue
		}
		e.evalInternalCall(pp, call, callee)
	}
}

func (e *Engine) evalInternalCall(pp ProgramPoint, call ssa.CallInstruction, callee *ssa.Function) {
	newCtx := e.res.Policy.Push(pp.Ctx, call)
	common := call.Common()
	actuals := common.Args
	if common.IsInvoke() {
		actuals = append([]ssa.Value{common.Value}, common.Args...)
	}

	changed := false
	for i, formal := range callee.Params {
		if i >= len(actuals) {
			break
		}
		t := e.taintOf(pp.Ctx, actuals[i])
		if t == Unknown {
			continue
		}
		if e.env.WeakUpdate(Value{Ctx: newCtx, Val: formal}, t) {
			changed = true
		}
	}

	fc := FunctionContext{Ctx: newCtx, Fn: callee}
	newEdge := e.addCallEdge(pp, fc)

	calleeGraph := e.module.FunctionOf(callee)
	entryPP := ProgramPoint{Ctx: newCtx, Node: calleeGraph.Entry()}
	local := e.memo.LookupOrCreate(pp)
	memChanged := false
	for _, o := range calleeGraph.Entry().MemObjects() {
		if v := local.Lookup(o); v != Unknown {
			if e.memo.Update(entryPP, o, v) {
				memChanged = true
			}
		}
	}
	if changed || newEdge || memChanged {
		e.wl.enqueue(entryPP)
	}
	if newEdge {
		for _, ret := range calleeGraph.Returns() {
			e.wl.enqueue(ProgramPoint{Ctx: newCtx, Node: ret})
		}
	}
}

// evalReturn reports the return taint and the callee-visible memory state
// back to every caller.
func (e *Engine) evalReturn(pp ProgramPoint, ret *ssa.Return) {
	fn := pp.Node.Func()
	if fn == e.module.Main() {
		return
	}
	retTaint := Unknown
	for _, r := range ret.Results {
		t := e.taintOf(pp.Ctx, r)
		retTaint = Merge(retTaint, t)
	}
	if len(ret.Results) == 0 {
		retTaint = Untainted
	}

	local := e.memo.LookupOrCreate(pp)

	// A root initializer hands its memory state to main's entry: package
	// initialization runs to completion before main starts.
	if isInit(e.res.Program.Inits(), fn) {
		if mainGraph := e.module.FunctionOf(e.module.Main()); mainGraph != nil {
			entryPP := ProgramPoint{Ctx: e.globalCtx, Node: mainGraph.Entry()}
			changed := false
			local.Bindings(func(o *memory.Object, v Lattice) {
				if e.memo.Update(entryPP, o, v) {
					changed = true
				}
			})
			if changed {
				e.wl.enqueue(entryPP)
			}
		}
	}
	for _, caller := range e.callers[FunctionContext{Ctx: pp.Ctx, Fn: fn}] {
		if caller.Node == nil {
			continue
		}
		if retTaint != Unknown {
			if v, ok := caller.Node.Instr().(ssa.Value); ok {
				if e.env.WeakUpdate(Value{Ctx: caller.Ctx, Val: v}, retTaint) {
					e.propagateTop(caller)
				}
			}
		}
		caller.Node.MemSuccs(func(o *memory.Object, readers []*defuse.Instruction) {
			v := local.Lookup(o)
			if v == Unknown {
				return
			}
			for _, reader := range readers {
				rpp := ProgramPoint{Ctx: caller.Ctx, Node: reader}
				if e.memo.Update(rpp, o, v) {
					e.wl.enqueue(rpp)
				}
			}
		})
	}
}
