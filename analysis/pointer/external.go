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

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"golang.org/x/tools/go/ssa"
)

// lookupExternal fetches the pointer summary for an external function, keyed
// by its qualified name with the short name as fallback.
func (e *Engine) lookupExternal(fn *ssa.Function) (*annotation.PointerSummary, bool) {
	if s, ok := e.ext.Lookup(fn.String()); ok {
		return s, true
	}
	if s, ok := e.ext.Lookup(fn.Name()); ok {
		return s, true
	}
	return nil, false
}

// evalExternalCall applies the annotated effects of an external callee to
// the call's store. It reports whether the callee never returns. An external
// function without a table entry gets a warning and behaves as a no-op; an
// effect position beyond the call's arity gets a warning and is skipped.
func (e *Engine) evalExternalCall(pp ProgramPoint, callee *ssa.Function, st *Store) (exits bool) {
	summary, ok := e.lookupExternal(callee)
	if !ok {
		e.warnMissingExternal(callee)
		e.bindUnmodeledResult(pp)
		return false
	}
	for _, effect := range summary.Effects {
		switch effect.Kind {
		case annotation.EffectAlloc:
			e.applyExternalAlloc(pp, callee, effect)
		case annotation.EffectCopy:
			e.applyExternalCopy(pp, effect, st)
		case annotation.EffectExit:
			exits = true
		case annotation.EffectIgnore:
			e.bindUnmodeledResult(pp)
		}
	}
	return exits
}

// warnMissingExternal reports an unmodeled external once per function. No
// soundness is claimed for its effects.
func (e *Engine) warnMissingExternal(fn *ssa.Function) {
	name := fn.String()
	if e.warnedExternals[name] {
		return
	}
	e.warnedExternals[name] = true
	e.logger.Warnf("no pointer annotation for external function %s; treating as no-op", name)
}

// bindUnmodeledResult binds a used pointer result of an effect-free external
// call to the null object so dependent nodes become ready.
func (e *Engine) bindUnmodeledResult(pp ProgramPoint) {
	dst := pp.Node.dest
	if dst == nil || !PointerLike(dst.Type()) {
		return
	}
	if e.updateEnv(pp.Ctx, dst, SingletonPtsSet(e.mm.NullObject())) {
		e.enqueueUses(pp)
	}
}

// applyExternalAlloc allocates a fresh heap object for the position the
// effect targets. The layout is the pointee layout of the result type when
// that type is a pointer, and the byte-array layout otherwise. The effect's
// size position is not consulted.
func (e *Engine) applyExternalAlloc(pp ProgramPoint, callee *ssa.Function, effect annotation.PointerEffect) {
	node := pp.Node
	dst := node.dest
	if dst == nil {
		return
	}
	layout := e.prog.typeMap.ByteArrayLayout()
	if t, ok := dst.Type().Underlying().(*types.Pointer); ok {
		layout = e.prog.typeMap.Layout(t.Elem())
	}
	obj := e.mm.AllocateHeap(pp.Ctx, dst, layout)
	if e.updateEnv(pp.Ctx, dst, SingletonPtsSet(obj)) {
		e.enqueueUses(pp)
	}
}

// positionValues resolves the values designated by a position at a call.
func (e *Engine) positionValues(pp ProgramPoint, pos annotation.Position) []ssa.Value {
	common := pp.Node.Call()
	if pos.IsReturn() {
		if pp.Node.dest == nil {
			return nil
		}
		return []ssa.Value{pp.Node.dest}
	}
	args := common.Args
	if pos.IsAfterArg() {
		if pos.Index() > len(args) {
			e.warnOutOfRange(pp, pos)
			return nil
		}
		return args[pos.Index():]
	}
	if pos.Index() >= len(args) {
		e.warnOutOfRange(pp, pos)
		return nil
	}
	return []ssa.Value{args[pos.Index()]}
}

func (e *Engine) warnOutOfRange(pp ProgramPoint, pos annotation.Position) {
	e.logger.Warnf("annotation position %s out of range at %s; effect skipped", pos, pp.Node)
}

// applyExternalCopy transfers pointer values between call positions
// according to the source and destination classes.
func (e *Engine) applyExternalCopy(pp ProgramPoint, effect annotation.PointerEffect, st *Store) {
	srcSet := e.externalCopySource(pp, effect.Src, st)
	if srcSet.IsEmpty() {
		return
	}
	switch effect.Dst.Class {
	case annotation.SrcValue:
		for _, v := range e.positionValues(pp, effect.Dst.Pos) {
			if e.updateEnv(pp.Ctx, v, srcSet) {
				e.enqueueUses(pp)
			}
		}
	case annotation.SrcDirectMemory:
		for _, v := range e.positionValues(pp, effect.Dst.Pos) {
			for _, o := range e.evalValue(pp.Ctx, v).Objects() {
				st.WeakUpdate(o, srcSet)
			}
		}
	case annotation.SrcReachableMemory:
		for _, v := range e.positionValues(pp, effect.Dst.Pos) {
			for _, o := range e.evalValue(pp.Ctx, v).Objects() {
				for _, ro := range e.mm.ReachablePointerObjects(o) {
					st.WeakUpdate(ro, srcSet)
				}
			}
		}
	}
}

// externalCopySource gathers the points-to set an external copy reads.
func (e *Engine) externalCopySource(pp ProgramPoint, src annotation.PointerSpec, st *Store) *PtsSet {
	switch src.Class {
	case annotation.SrcUniversal:
		return SingletonPtsSet(e.mm.UniversalObject())
	case annotation.SrcNull:
		return SingletonPtsSet(e.mm.NullObject())
	case annotation.SrcStatic:
		return SingletonPtsSet(e.mm.ArgvObject())
	}
	out := EmptyPtsSet()
	for _, v := range e.positionValues(pp, src.Pos) {
		vSet := e.evalValue(pp.Ctx, v)
		switch src.Class {
		case annotation.SrcValue:
			out = out.Merge(vSet)
		case annotation.SrcDirectMemory:
			for _, o := range vSet.Objects() {
				out = out.Merge(st.Lookup(o))
			}
		case annotation.SrcReachableMemory:
			for _, o := range vSet.Objects() {
				for _, ro := range e.mm.ReachablePointerObjects(o) {
					out = out.Merge(st.Lookup(ro))
				}
			}
		}
	}
	return out
}
