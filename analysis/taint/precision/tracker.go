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

// Package precision walks the def-use graph backward from imprecise sink
// verdicts (taint Either) to the program points whose context abstraction
// merged distinct precise values. Those points are the natural candidates
// for a larger k in the next refinement round.
package precision

import (
	"go/token"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/defuse"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/taint"
	"golang.org/x/tools/go/ssa"
)

// Tracker is one backward pass over a stabilized taint solution.
type Tracker struct {
	result *taint.AnalysisResult
	logger *config.LogGroup

	demanders map[taint.ProgramPoint]bool

	work       []workItem
	visitedVal map[valKey]bool
	visitedObj map[objKey]bool
}

type workItem struct {
	pp   taint.ProgramPoint
	vals []ssa.Value
	objs []*memory.Object
}

type valKey struct {
	pp  taint.ProgramPoint
	val ssa.Value
}

type objKey struct {
	pp  taint.ProgramPoint
	obj *memory.Object
}

// NewTracker returns a tracker over a taint result.
func NewTracker(result *taint.AnalysisResult, logger *config.LogGroup) *Tracker {
	return &Tracker{
		result:     result,
		logger:     logger,
		demanders:  make(map[taint.ProgramPoint]bool),
		visitedVal: make(map[valKey]bool),
		visitedObj: make(map[objKey]bool),
	}
}

// TrackImprecision seeds the work list from every violation whose actual
// value is Either and runs the backward analysis. It returns the demanding
// program points in a deterministic order.
func (t *Tracker) TrackImprecision(violations []taint.SinkViolation) []taint.ProgramPoint {
	for _, v := range violations {
		if v.Actual != taint.Either {
			continue
		}
		call := v.PP.Node.Instr().(ssa.CallInstruction)
		args := call.Common().Args
		if v.ArgIndex >= len(args) {
			continue
		}
		arg := args[v.ArgIndex]
		if v.Class == annotation.ValueOnly {
			t.trackValue(v.PP, arg)
		} else {
			for _, o := range t.pts(v.PP, arg) {
				t.trackObject(v.PP, o)
			}
		}
	}

	for len(t.work) > 0 {
		item := t.work[len(t.work)-1]
		t.work = t.work[:len(t.work)-1]
		t.step(item)
	}

	out := make([]taint.ProgramPoint, 0, len(t.demanders))
	for pp := range t.demanders {
		out = append(out, pp)
	}
	sortPoints(out)
	return out
}

func sortPoints(pps []taint.ProgramPoint) {
	// Order by priority then textual form; good enough for stable output.
	for i := 1; i < len(pps); i++ {
		for j := i; j > 0 && less(pps[j], pps[j-1]); j-- {
			pps[j], pps[j-1] = pps[j-1], pps[j]
		}
	}
}

func less(a, b taint.ProgramPoint) bool {
	if a.Node.Priority() != b.Node.Priority() {
		return a.Node.Priority() > b.Node.Priority()
	}
	return a.String() < b.String()
}

func (t *Tracker) pts(pp taint.ProgramPoint, v ssa.Value) []*memory.Object {
	if s := t.result.Pointer.PtsAt(pp.Ctx, v); !s.IsEmpty() {
		return s.Objects()
	}
	return t.result.Pointer.Pts(v).Objects()
}

func (t *Tracker) taintOf(pp taint.ProgramPoint, v ssa.Value) taint.Lattice {
	switch v.(type) {
	case *ssa.Const, *ssa.Global, *ssa.Function, *ssa.Builtin:
		return taint.Untainted
	}
	return t.result.Env.Lookup(taint.Value{Ctx: pp.Ctx, Val: v})
}

func (t *Tracker) trackValue(pp taint.ProgramPoint, v ssa.Value) {
	key := valKey{pp: pp, val: v}
	if t.visitedVal[key] {
		return
	}
	t.visitedVal[key] = true
	t.work = append(t.work, workItem{pp: pp, vals: []ssa.Value{v}})
}

func (t *Tracker) trackObject(pp taint.ProgramPoint, o *memory.Object) {
	key := objKey{pp: pp, obj: o}
	if t.visitedObj[key] {
		return
	}
	t.visitedObj[key] = true
	t.work = append(t.work, workItem{pp: pp, objs: []*memory.Object{o}})
}

func (t *Tracker) step(item workItem) {
	if item.pp.Node.IsEntry() {
		t.stepEntry(item.pp)
		return
	}
	for _, v := range item.vals {
		t.stepValue(item.pp, v)
	}
	for _, o := range item.objs {
		t.stepObject(item.pp, o)
	}
}

// stepEntry is the call tracker: it compares the same argument (and the
// same incoming object) across every caller of this activation. A caller
// whose own value is precise while the merge is Either demands precision;
// a caller whose value is itself Either is tracked further.
func (t *Tracker) stepEntry(pp taint.ProgramPoint) {
	fn := pp.Node.Func()
	callers := t.result.CallGraph[taint.FunctionContext{Ctx: pp.Ctx, Fn: fn}]
	if len(callers) == 0 {
		return
	}

	for i := range fn.Params {
		taints := make([]taint.Lattice, len(callers))
		vals := make([]ssa.Value, len(callers))
		for ci, caller := range callers {
			if caller.Node == nil {
				continue
			}
			call := caller.Node.Instr().(ssa.CallInstruction)
			common := call.Common()
			actuals := common.Args
			if common.IsInvoke() {
				actuals = append([]ssa.Value{common.Value}, common.Args...)
			}
			if i >= len(actuals) {
				continue
			}
			vals[ci] = actuals[i]
			taints[ci] = t.taintOf(caller, actuals[i])
		}
		t.splitCallers(callers, vals, taints)
	}

	for _, o := range pp.Node.MemObjects() {
		taints := make([]taint.Lattice, len(callers))
		for ci, caller := range callers {
			if caller.Node == nil {
				continue
			}
			if st := t.result.Memo.Lookup(caller); st != nil {
				taints[ci] = st.Lookup(o)
			}
		}
		t.splitCallersMem(callers, o, taints)
	}
}

// splitCallers marks demanding callers and keeps tracking imprecise ones.
func (t *Tracker) splitCallers(callers []taint.ProgramPoint, vals []ssa.Value, taints []taint.Lattice) {
	if taint.MergeAll(taints) != taint.Either {
		return
	}
	for i, caller := range callers {
		if caller.Node == nil || vals[i] == nil {
			continue
		}
		switch taints[i] {
		case taint.Either:
			t.trackValue(caller, vals[i])
		case taint.Tainted, taint.Untainted:
			t.demanders[caller] = true
		}
	}
}

func (t *Tracker) splitCallersMem(callers []taint.ProgramPoint, o *memory.Object, taints []taint.Lattice) {
	if taint.MergeAll(taints) != taint.Either {
		return
	}
	for i, caller := range callers {
		if caller.Node == nil {
			continue
		}
		switch taints[i] {
		case taint.Either:
			t.trackObject(caller, o)
		case taint.Tainted, taint.Untainted:
			t.demanders[caller] = true
		}
	}
}

// stepValue walks one imprecise value one def-use step backward.
func (t *Tracker) stepValue(pp taint.ProgramPoint, v ssa.Value) {
	f := t.result.Module.FunctionOf(pp.Node.Func())

	// The interesting node is the definition of v.
	defInstr, ok := v.(ssa.Instruction)
	if !ok {
		// Parameters and free variables resolve at the entry.
		t.trackAtEntry(pp, f)
		return
	}
	defNode := f.NodeFor(defInstr)
	if defNode == nil {
		return
	}
	defPP := taint.ProgramPoint{Ctx: pp.Ctx, Node: defNode}

	switch instr := defInstr.(type) {
	case *ssa.UnOp:
		if instr.Op == token.MUL || instr.Op == token.ARROW {
			t.trackLoad(defPP, instr.X)
			return
		}
		t.trackOperands(defPP, instr)
	case *ssa.Lookup:
		t.trackLoad(defPP, instr.X)
	case *ssa.Call:
		t.trackCallResult(defPP, instr)
	default:
		t.trackOperands(defPP, defInstr)
	}
}

func (t *Tracker) trackAtEntry(pp taint.ProgramPoint, f *defuse.Function) {
	entryPP := taint.ProgramPoint{Ctx: pp.Ctx, Node: f.Entry()}
	key := valKey{pp: entryPP, val: nil}
	if t.visitedVal[key] {
		return
	}
	t.visitedVal[key] = true
	t.work = append(t.work, workItem{pp: entryPP})
}

// trackOperands distributes tracking over the operands that carry the
// imprecision; operands precise on their own while the result is Either
// mark this point as demanding.
func (t *Tracker) trackOperands(pp taint.ProgramPoint, instr ssa.Instruction) {
	sawEither := false
	sawPrecise := false
	for _, rand := range instr.Operands(nil) {
		if *rand == nil {
			continue
		}
		switch t.taintOf(pp, *rand) {
		case taint.Either:
			sawEither = true
			t.trackValue(pp, *rand)
		case taint.Tainted, taint.Untainted:
			sawPrecise = true
		}
	}
	if !sawEither && sawPrecise {
		// Precise inputs merged into Either right here.
		t.demanders[pp] = true
	}
}

// trackLoad switches from value tracking to memory tracking through the
// loaded pointees.
func (t *Tracker) trackLoad(pp taint.ProgramPoint, ptr ssa.Value) {
	local := t.result.Memo.Lookup(pp)
	sawEither := false
	sawPrecise := false
	for _, o := range t.pts(pp, ptr) {
		var val taint.Lattice
		if o.IsUniversal() {
			val = taint.Either
		} else if local != nil {
			val = local.Lookup(o)
		}
		switch val {
		case taint.Either:
			sawEither = true
			t.trackObject(pp, o)
		case taint.Tainted, taint.Untainted:
			sawPrecise = true
		}
	}
	if !sawEither && sawPrecise {
		t.demanders[pp] = true
	}
}

// trackCallResult follows an imprecise call result into the callee returns.
func (t *Tracker) trackCallResult(pp taint.ProgramPoint, call *ssa.Call) {
	for _, callee := range t.result.Pointer.Callees(call) {
		f := t.result.Module.FunctionOf(callee)
		if f == nil {
			continue
		}
		calleeCtx := t.result.Pointer.Policy.Push(pp.Ctx, call)
		sawEither := false
		sawPrecise := false
		for _, ret := range f.Returns() {
			retInstr := ret.Instr().(*ssa.Return)
			retPP := taint.ProgramPoint{Ctx: calleeCtx, Node: ret}
			for _, r := range retInstr.Results {
				switch t.taintOf(retPP, r) {
				case taint.Either:
					sawEither = true
					t.trackValue(retPP, r)
				case taint.Tainted, taint.Untainted:
					sawPrecise = true
				}
			}
		}
		if !sawEither && sawPrecise {
			t.demanders[pp] = true
		}
	}
}

// stepObject walks one imprecise object backward through the memory-level
// definitions reaching this point.
func (t *Tracker) stepObject(pp taint.ProgramPoint, o *memory.Object) {
	preds := pp.Node.MemPreds(o)
	sawEither := false
	sawPrecise := false
	for _, def := range preds {
		defPP := taint.ProgramPoint{Ctx: pp.Ctx, Node: def}
		if def.IsEntry() {
			t.trackObject(defPP, o)
			continue
		}
		switch instr := def.Instr().(type) {
		case *ssa.Store:
			switch t.taintOf(defPP, instr.Val) {
			case taint.Either:
				sawEither = true
				t.trackValue(defPP, instr.Val)
			case taint.Tainted, taint.Untainted:
				sawPrecise = true
			}
		case *ssa.Send:
			switch t.taintOf(defPP, instr.X) {
			case taint.Either:
				sawEither = true
				t.trackValue(defPP, instr.X)
			case taint.Tainted, taint.Untainted:
				sawPrecise = true
			}
		case *ssa.MapUpdate:
			switch t.taintOf(defPP, instr.Value) {
			case taint.Either:
				sawEither = true
				t.trackValue(defPP, instr.Value)
			case taint.Tainted, taint.Untainted:
				sawPrecise = true
			}
		case ssa.CallInstruction:
			// The write happened inside a callee; follow the object there.
			for _, callee := range t.result.Pointer.Callees(instr) {
				f := t.result.Module.FunctionOf(callee)
				if f == nil {
					continue
				}
				calleeCtx := t.result.Pointer.Policy.Push(defPP.Ctx, instr)
				for _, ret := range f.Returns() {
					t.trackObject(taint.ProgramPoint{Ctx: calleeCtx, Node: ret}, o)
				}
			}
		}
	}
	if !sawEither && sawPrecise && len(preds) > 1 {
		t.demanders[pp] = true
	}
}

// TrackImprecision is the package-level convenience wrapper.
func TrackImprecision(result *taint.AnalysisResult, logger *config.LogGroup) []taint.ProgramPoint {
	return NewTracker(result, logger).TrackImprecision(result.Violations)
}
