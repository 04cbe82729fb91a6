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

func (e *Engine) evalCall(pp ProgramPoint, st *Store) {
	callees := e.resolveCallees(pp)
	if len(callees) == 0 {
		e.propagateToSuccs(pp, st)
		return
	}
	// The store falls through the call locally only for external callees
	// that return; internal callees carry it through their own body, and an
	// EXIT callee never comes back.
	anyLocal := false
	newStore := st
	for _, callee := range callees {
		if e.prog.IsExternal(callee) {
			if newStore == st {
				newStore = st.Clone()
			}
			exits := e.evalExternalCall(pp, callee, newStore)
			anyLocal = anyLocal || !exits
			continue
		}
		e.evalInternalCall(pp, callee, st)
	}
	if anyLocal {
		e.propagateToSuccs(pp, newStore)
	}
}

// resolveCallees produces the callee set of a call node: the static callee
// when there is one, the function objects flowing into the called value for
// indirect calls, and the implementations of the invoked method for
// interface calls.
func (e *Engine) resolveCallees(pp ProgramPoint) []*ssa.Function {
	common := pp.Node.Call()
	if common.IsInvoke() {
		return e.oracle.Invoked(pp.Ctx, common, e)
	}
	if fn := common.StaticCallee(); fn != nil {
		return []*ssa.Function{fn}
	}
	pSet := e.evalValue(pp.Ctx, common.Value)
	var out []*ssa.Function
	for _, o := range pSet.Objects() {
		if o.Site().Kind() == memory.FunctionAlloc {
			out = append(out, o.Site().Value().(*ssa.Function))
		}
	}
	sortFunctions(out)
	return out
}

// evalInternalCall pushes the context, binds actuals to formals, records the
// call edge, and wakes the callee entry.
func (e *Engine) evalInternalCall(pp ProgramPoint, callee *ssa.Function, st *Store) {
	common := pp.Node.Call()
	newCtx := e.policy.Push(pp.Ctx, pp.Node.CallInstruction())

	actuals := common.Args
	if common.IsInvoke() {
		actuals = append([]ssa.Value{common.Value}, common.Args...)
	}

	changed := false
	for i, formal := range callee.Params {
		if i >= len(actuals) {
			break
		}
		if !PointerLike(formal.Type()) {
			continue
		}
		aSet := e.evalValue(pp.Ctx, actuals[i])
		if aSet.IsEmpty() {
			continue
		}
		if e.updateEnv(newCtx, formal, aSet) {
			changed = true
		}
	}

	fc := FunctionContext{Ctx: newCtx, Fn: callee}
	newEdge := e.cg.AddEdge(pp, fc)

	calleeFn := e.prog.fns[callee]
	entryPP := ProgramPoint{Ctx: newCtx, Node: calleeFn.entry}
	e.propagateStore(entryPP, st)
	if changed || newEdge {
		e.wl.Enqueue(entryPP)
	}
	// A new edge means callers now include pp: replay the callee's returns
	// so an already-stable callee reports its result to this caller.
	if newEdge {
		for _, ret := range calleeFn.returns {
			e.wl.Enqueue(ProgramPoint{Ctx: newCtx, Node: ret})
		}
	}
}

// CalleeOracle resolves interface method invocations. The engine resolves
// direct and function-pointer calls from its own environment; interface
// dispatch comes from a front-end analysis behind this capability.
type CalleeOracle interface {
	// Invoked returns the possible concrete targets of an invoke-mode call.
	Invoked(ctx *context.Context, common *ssa.CallCommon, e *Engine) []*ssa.Function
}

// chaOracle is the default oracle: class-hierarchy resolution over the
// program's runtime types.
type chaOracle struct {
	prog *ssa.Program
	// methodImpls caches resolved targets per interface method.
	methodImpls map[*types.Func][]*ssa.Function
}

func newCHAOracle(prog *ssa.Program) *chaOracle {
	return &chaOracle{prog: prog, methodImpls: make(map[*types.Func][]*ssa.Function)}
}

// Invoked returns every implementation of the invoked method among the
// program's runtime types whose type satisfies the receiver interface.
func (o *chaOracle) Invoked(_ *context.Context, common *ssa.CallCommon, _ *Engine) []*ssa.Function {
	m := common.Method
	if fns, ok := o.methodImpls[m]; ok {
		return fns
	}
	iface := common.Value.Type().Underlying().(*types.Interface)
	var out []*ssa.Function
	for _, T := range o.prog.RuntimeTypes() {
		if !types.Implements(T, iface) {
			continue
		}
		if fn := o.prog.LookupMethod(T, m.Pkg(), m.Name()); fn != nil {
			out = append(out, fn)
		}
	}
	sortFunctions(out)
	o.methodImpls[m] = out
	return out
}
