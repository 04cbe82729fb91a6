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

// Package defuse turns the stabilized points-to solution into the sparse
// dataflow skeleton the taint analysis runs on: per-function mod-ref
// summaries, reaching definitions over memory objects, and the def-use
// module with top-level and per-object memory-level edges.
package defuse

import (
	"go/token"
	"sort"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"github.com/yourbasic/graph"
	"golang.org/x/tools/go/ssa"
)

// Summary is the mod-ref summary of one function: the memory objects it (or
// anything it calls) may read and may write. Local stack objects are
// filtered out; they are invisible to callers.
type Summary struct {
	memReads  map[*memory.Object]bool
	memWrites map[*memory.Object]bool
}

func newSummary() *Summary {
	return &Summary{
		memReads:  make(map[*memory.Object]bool),
		memWrites: make(map[*memory.Object]bool),
	}
}

// AddRead records a memory read and reports whether it is new.
func (s *Summary) AddRead(o *memory.Object) bool {
	if s.memReads[o] {
		return false
	}
	s.memReads[o] = true
	return true
}

// AddWrite records a memory write and reports whether it is new.
func (s *Summary) AddWrite(o *memory.Object) bool {
	if s.memWrites[o] {
		return false
	}
	s.memWrites[o] = true
	return true
}

// Reads reports whether the function may read o.
func (s *Summary) Reads(o *memory.Object) bool { return s.memReads[o] }

// Writes reports whether the function may write o.
func (s *Summary) Writes(o *memory.Object) bool { return s.memWrites[o] }

// ReadSet iterates the read objects.
func (s *Summary) ReadSet(f func(o *memory.Object)) {
	for o := range s.memReads {
		f(o)
	}
}

// WriteSet iterates the written objects.
func (s *Summary) WriteSet(f func(o *memory.Object)) {
	for o := range s.memWrites {
		f(o)
	}
}

// ModRefModule holds the summary of every function with a body.
type ModRefModule struct {
	summaries map[*ssa.Function]*Summary
	table     *annotation.ModRefTable
	res       *pointer.Result
	logger    *config.LogGroup
}

// SummaryOf returns the summary of fn; an empty summary for externals.
func (m *ModRefModule) SummaryOf(fn *ssa.Function) *Summary {
	if s, ok := m.summaries[fn]; ok {
		return s
	}
	return newSummary()
}

// isLocalStackLocation filters sentinels and stack cells private to f; they
// never appear in a caller-visible summary.
func isLocalStackLocation(o *memory.Object, f *ssa.Function) bool {
	site := o.Site()
	switch site.Kind() {
	case memory.NullAlloc, memory.UniversalAlloc:
		return true
	case memory.StackAlloc:
		if alloc, ok := site.Value().(*ssa.Alloc); ok {
			return alloc.Parent() == f
		}
	}
	return false
}

// ComputeModRef builds the per-function summaries and propagates them
// bottom-up over the call graph until fixpoint. The SCC condensation of the
// call graph orders the propagation so that most summaries settle in one
// pass; a worklist catches the rest.
func ComputeModRef(res *pointer.Result, table *annotation.ModRefTable, logger *config.LogGroup) *ModRefModule {
	if table == nil {
		table = annotation.DefaultModRefTable()
	}
	m := &ModRefModule{
		summaries: make(map[*ssa.Function]*Summary),
		table:     table,
		res:       res,
		logger:    logger,
	}
	fns := res.Program.Functions()
	for _, fn := range fns {
		m.summaries[fn] = newSummary()
	}
	for _, fn := range fns {
		m.collectLocal(fn)
	}

	// Reverse call map: callee -> callers with a body.
	idx := make(map[*ssa.Function]int, len(fns))
	for i, fn := range fns {
		idx[fn] = i
	}
	callers := make(map[*ssa.Function][]*ssa.Function)
	g := graph.New(len(fns))
	for _, fn := range fns {
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				for _, callee := range m.res.Callees(call) {
					if _, ok := idx[callee]; !ok {
						continue
					}
					callers[callee] = append(callers[callee], fn)
					g.Add(idx[fn], idx[callee])
				}
			}
		}
	}

	// Process callees before callers, then run the worklist to close
	// summaries over call-graph cycles.
	work := make([]*ssa.Function, 0, len(fns))
	for _, comp := range graph.StrongComponents(g) {
		for _, i := range comp {
			work = append(work, fns[i])
		}
	}
	inWork := make(map[*ssa.Function]bool, len(work))
	for _, fn := range work {
		inWork[fn] = true
	}
	for len(work) > 0 {
		fn := work[0]
		work = work[1:]
		inWork[fn] = false
		for _, caller := range callers[fn] {
			if m.propagate(caller, fn) && !inWork[caller] {
				inWork[caller] = true
				work = append(work, caller)
			}
		}
	}
	return m
}

// collectLocal fills fn's summary from its own loads, stores and external
// call effects.
func (m *ModRefModule) collectLocal(fn *ssa.Function) {
	summary := m.summaries[fn]
	addRead := func(o *memory.Object) {
		if !isLocalStackLocation(o, fn) {
			summary.AddRead(o)
		}
	}
	addWrite := func(o *memory.Object) {
		if !isLocalStackLocation(o, fn) {
			summary.AddWrite(o)
		}
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			switch v := instr.(type) {
			case *ssa.UnOp:
				if v.Op == token.MUL || v.Op == token.ARROW {
					for _, o := range m.res.Pts(v.X).Objects() {
						addRead(o)
					}
				}
			case *ssa.Lookup:
				for _, o := range m.res.Pts(v.X).Objects() {
					addRead(o)
				}
			case *ssa.Next:
				if !v.IsString {
					for _, o := range m.res.Pts(v.Iter).Objects() {
						addRead(o)
					}
				}
			case *ssa.Store:
				for _, o := range m.res.Pts(v.Addr).Objects() {
					addWrite(o)
				}
			case *ssa.Send:
				for _, o := range m.res.Pts(v.Chan).Objects() {
					addWrite(o)
				}
			case *ssa.MapUpdate:
				for _, o := range m.res.Pts(v.Map).Objects() {
					addWrite(o)
				}
			case ssa.CallInstruction:
				m.collectExternalCall(fn, v, addRead, addWrite)
			}
		}
	}
}

// collectExternalCall applies the mod-ref table to external callees of a
// call site.
func (m *ModRefModule) collectExternalCall(fn *ssa.Function, call ssa.CallInstruction,
	addRead, addWrite func(*memory.Object)) {
	for _, callee := range m.res.Callees(call) {
		if !m.res.Program.IsExternal(callee) {
			continue
		}
		entry, ok := m.table.Lookup(callee.String())
		if !ok {
			entry, ok = m.table.Lookup(callee.Name())
		}
		if !ok {
			continue
		}
		for _, eff := range entry.Effects {
			for _, o := range m.effectObjects(fn, call, eff) {
				if eff.Kind == annotation.EffectMod {
					addWrite(o)
				} else {
					addRead(o)
				}
			}
		}
	}
}

// effectObjects resolves the memory objects an external mod-ref effect
// touches at a call site.
func (m *ModRefModule) effectObjects(fn *ssa.Function, call ssa.CallInstruction, eff annotation.ModRefEffect) []*memory.Object {
	args := call.Common().Args
	var vals []ssa.Value
	switch {
	case eff.Pos.IsReturn():
		if v, ok := call.(ssa.Value); ok {
			vals = []ssa.Value{v}
		}
	case eff.Pos.IsAfterArg():
		if eff.Pos.Index() > len(args) {
			m.logger.Warnf("mod-ref position %s out of range at %s; effect skipped", eff.Pos, call)
			return nil
		}
		vals = args[eff.Pos.Index():]
	default:
		if eff.Pos.Index() >= len(args) {
			m.logger.Warnf("mod-ref position %s out of range at %s; effect skipped", eff.Pos, call)
			return nil
		}
		vals = []ssa.Value{args[eff.Pos.Index()]}
	}
	var out []*memory.Object
	for _, v := range vals {
		for _, o := range m.res.Pts(v).Objects() {
			if eff.Reach {
				out = append(out, m.res.MemoryManager.ReachableMemoryObjects(o)...)
			} else {
				out = append(out, o)
			}
		}
	}
	return out
}

// propagate folds callee's summary into caller's, filtering locations that
// are local to the caller, and reports whether caller's summary grew.
func (m *ModRefModule) propagate(caller, callee *ssa.Function) bool {
	callerSummary := m.summaries[caller]
	calleeSummary := m.summaries[callee]
	changed := false
	calleeSummary.ReadSet(func(o *memory.Object) {
		if !isLocalStackLocation(o, caller) && callerSummary.AddRead(o) {
			changed = true
		}
	})
	calleeSummary.WriteSet(func(o *memory.Object) {
		if !isLocalStackLocation(o, caller) && callerSummary.AddWrite(o) {
			changed = true
		}
	})
	return changed
}

// sortedObjects returns a deterministic object ordering for iteration.
func sortedObjects(set map[*memory.Object]bool) []*memory.Object {
	out := make([]*memory.Object, 0, len(set))
	for o := range set {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
