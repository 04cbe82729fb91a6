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
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"golang.org/x/tools/go/ssa"
)

// lookupSummary fetches the taint summary of an external function, keyed by
// qualified name with the short name as fallback.
func (e *Engine) lookupSummary(fn *ssa.Function) (*annotation.TaintSummary, bool) {
	if s, ok := e.table.Lookup(fn.String()); ok {
		return s, true
	}
	if s, ok := e.table.Lookup(fn.Name()); ok {
		return s, true
	}
	return nil, false
}

// evalExternalCall applies the taint-table entries of an external callee:
// sources inject, pipes transfer, sinks are recorded for the post-fixpoint
// check. A missing entry warns and falls through as a no-op with an
// Untainted result so dependents become ready.
func (e *Engine) evalExternalCall(pp ProgramPoint, call ssa.CallInstruction, callee *ssa.Function) {
	summary, ok := e.lookupSummary(callee)
	if !ok {
		e.warnMissingExternal(callee)
		e.bindResult(pp, Untainted)
		return
	}
	for _, src := range summary.Sources {
		e.applySource(pp, call, src)
	}
	for _, pipe := range summary.Pipes {
		e.applyPipe(pp, call, pipe)
	}
	if len(summary.Sinks) > 0 {
		e.recordSink(pp, callee, summary)
	}
	// Arguments the entries did not touch leave the result clean.
	e.bindResult(pp, Untainted)
}

func (e *Engine) warnMissingExternal(fn *ssa.Function) {
	name := fn.String()
	if e.warnedExternals[name] {
		return
	}
	e.warnedExternals[name] = true
	e.logger.Warnf("no taint annotation for external function %s; treating as no-op", name)
}

// bindResult fills in the call result when nothing else has bound it. A
// result a source already touched keeps its injected value; joining the
// default over it would destroy precision.
func (e *Engine) bindResult(pp ProgramPoint, val Lattice) {
	v, ok := pp.Node.Instr().(ssa.Value)
	if !ok {
		return
	}
	key := Value{Ctx: pp.Ctx, Val: v}
	if e.env.Lookup(key) != Unknown {
		return
	}
	if e.env.WeakUpdate(key, val) {
		e.propagateTop(pp)
	}
}

// positionValues resolves the values a position designates at a call site.
// Out-of-range positions warn and resolve to nothing.
func (e *Engine) positionValues(pp ProgramPoint, call ssa.CallInstruction, pos annotation.Position) []ssa.Value {
	if pos.IsReturn() {
		if v, ok := call.(ssa.Value); ok {
			return []ssa.Value{v}
		}
		return nil
	}
	args := call.Common().Args
	if pos.IsAfterArg() {
		if pos.Index() > len(args) {
			e.logger.Warnf("taint position %s out of range at %s; effect skipped", pos, call)
			return nil
		}
		return args[pos.Index():]
	}
	if pos.Index() >= len(args) {
		e.logger.Warnf("taint position %s out of range at %s; effect skipped", pos, call)
		return nil
	}
	return []ssa.Value{args[pos.Index()]}
}

// applySource injects the entry's lattice value at its position/class.
func (e *Engine) applySource(pp ProgramPoint, call ssa.CallInstruction, src annotation.SourceEntry) {
	val := FromAnnotation(src.Val)
	for _, v := range e.positionValues(pp, call, src.Pos) {
		switch src.Class {
		case annotation.ValueOnly:
			if e.env.WeakUpdate(Value{Ctx: pp.Ctx, Val: v}, val) {
				e.propagateTop(pp)
			}
		case annotation.DirectMemory:
			for _, o := range e.pts(pp.Ctx, v) {
				e.defineObject(pp, o, val)
			}
		case annotation.ReachableMemory:
			for _, o := range e.pts(pp.Ctx, v) {
				for _, ro := range e.res.MemoryManager.ReachableMemoryObjects(o) {
					e.defineObject(pp, ro, val)
				}
			}
		}
	}
}

// readClass reads the merged taint of values under a class; Unknown means
// not ready.
func (e *Engine) readClass(pp ProgramPoint, vals []ssa.Value, class annotation.Class) Lattice {
	local := e.memo.LookupOrCreate(pp)
	merged := Unknown
	for _, v := range vals {
		switch class {
		case annotation.ValueOnly:
			merged = Merge(merged, e.taintOf(pp.Ctx, v))
		case annotation.DirectMemory:
			for _, o := range e.pts(pp.Ctx, v) {
				merged = Merge(merged, e.storeTaint(local, o))
			}
		case annotation.ReachableMemory:
			for _, o := range e.pts(pp.Ctx, v) {
				for _, ro := range e.res.MemoryManager.ReachableMemoryObjects(o) {
					merged = Merge(merged, e.storeTaint(local, ro))
				}
			}
		}
	}
	return merged
}

// storeTaint reads one object out of a local store with the sentinel and
// untouched-global conventions of evalLoad.
func (e *Engine) storeTaint(local *Store, o *memory.Object) Lattice {
	switch {
	case o.IsUniversal():
		return Either
	case o.IsNull():
		return Unknown
	}
	v := local.Lookup(o)
	if v == Unknown && o.Site().Kind() == memory.GlobalAlloc {
		return Untainted
	}
	return v
}

// applyPipe transfers taint from the source position/class to the
// destination argument. The reachable-to-reachable case runs field-wise,
// memcpy-style: each destination field takes the value of the matching
// source field, untouched fields keep their prior value.
func (e *Engine) applyPipe(pp ProgramPoint, call ssa.CallInstruction, pipe annotation.PipeEntry) {
	srcVals := e.positionValues(pp, call, pipe.SrcPos)
	dstVals := e.positionValues(pp, call, pipe.DstPos)
	if len(srcVals) == 0 || len(dstVals) == 0 {
		return
	}

	if pipe.SrcClass == annotation.ReachableMemory && pipe.DstClass == annotation.ReachableMemory {
		e.applyMemcpyPipe(pp, srcVals, dstVals)
		return
	}

	val := e.readClass(pp, srcVals, pipe.SrcClass)
	if val == Unknown {
		// Source not ready; a later re-enqueue retries.
		return
	}
	for _, v := range dstVals {
		switch pipe.DstClass {
		case annotation.ValueOnly:
			if e.env.WeakUpdate(Value{Ctx: pp.Ctx, Val: v}, val) {
				e.propagateTop(pp)
			}
		case annotation.DirectMemory:
			for _, o := range e.pts(pp.Ctx, v) {
				e.defineObject(pp, o, val)
			}
		case annotation.ReachableMemory:
			for _, o := range e.pts(pp.Ctx, v) {
				for _, ro := range e.res.MemoryManager.ReachableMemoryObjects(o) {
					e.defineObject(pp, ro, val)
				}
			}
		}
	}
}

// applyMemcpyPipe copies taint field by field between the source and
// destination pointees, matched by layout offset.
func (e *Engine) applyMemcpyPipe(pp ProgramPoint, srcVals, dstVals []ssa.Value) {
	local := e.memo.LookupOrCreate(pp)
	mm := e.res.MemoryManager
	for _, sv := range srcVals {
		for _, so := range e.pts(pp.Ctx, sv) {
			if so.IsSpecial() {
				continue
			}
			for _, sf := range mm.ReachableMemoryObjects(so) {
				val := e.storeTaint(local, sf)
				if val == Unknown {
					continue
				}
				delta := sf.Offset() - so.Offset()
				for _, dv := range dstVals {
					for _, do := range e.pts(pp.Ctx, dv) {
						if do.IsSpecial() {
							continue
						}
						e.defineObject(pp, mm.Offset(do, delta), val)
					}
				}
			}
		}
	}
}

// recordSink remembers a sink call site; it is checked once the fixpoint
// has emptied the worklist.
func (e *Engine) recordSink(pp ProgramPoint, callee *ssa.Function, summary *annotation.TaintSummary) {
	seen := e.sinkSeen[pp]
	if seen == nil {
		seen = make(map[*ssa.Function]bool)
		e.sinkSeen[pp] = seen
	}
	if seen[callee] {
		return
	}
	seen[callee] = true
	e.sinks = append(e.sinks, SinkRecord{PP: pp, Callee: callee, Summary: summary})
}
