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
	"fmt"
	"sort"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"golang.org/x/tools/go/ssa"
)

// ProgramPoint is the granularity of the engine's memo: a node under a
// calling context. The zero value is invalid.
type ProgramPoint struct {
	Ctx  *context.Context
	Node *Node
}

func (pp ProgramPoint) String() string {
	return fmt.Sprintf("%s@%s", pp.Node, pp.Ctx)
}

// FunctionContext identifies one context-sensitive activation of a function.
type FunctionContext struct {
	Ctx *context.Context
	Fn  *ssa.Function
}

// CallGraph is the dynamic context-sensitive call graph. It grows
// monotonically during the fixpoint: edges are only ever added.
type CallGraph struct {
	callers    map[FunctionContext][]ProgramPoint
	callerSeen map[FunctionContext]map[ProgramPoint]bool
	callees    map[ProgramPoint][]FunctionContext
	calleeSeen map[ProgramPoint]map[FunctionContext]bool
	order      []FunctionContext

	// byInstr projects callee functions per call instruction, context-free.
	byInstr map[ssa.CallInstruction]map[*ssa.Function]bool
}

// NewCallGraph returns an empty call graph.
func NewCallGraph() *CallGraph {
	return &CallGraph{
		callers:    make(map[FunctionContext][]ProgramPoint),
		callerSeen: make(map[FunctionContext]map[ProgramPoint]bool),
		callees:    make(map[ProgramPoint][]FunctionContext),
		calleeSeen: make(map[ProgramPoint]map[FunctionContext]bool),
		byInstr:    make(map[ssa.CallInstruction]map[*ssa.Function]bool),
	}
}

// AddEdge records caller -> callee and reports whether the edge is new.
func (cg *CallGraph) AddEdge(caller ProgramPoint, callee FunctionContext) bool {
	seen := cg.callerSeen[callee]
	if seen == nil {
		seen = make(map[ProgramPoint]bool)
		cg.callerSeen[callee] = seen
		cg.order = append(cg.order, callee)
	}
	added := false
	if !seen[caller] {
		seen[caller] = true
		cg.callers[callee] = append(cg.callers[callee], caller)
		added = true
	}
	cseen := cg.calleeSeen[caller]
	if cseen == nil {
		cseen = make(map[FunctionContext]bool)
		cg.calleeSeen[caller] = cseen
	}
	if !cseen[callee] {
		cseen[callee] = true
		cg.callees[caller] = append(cg.callees[caller], callee)
	}
	if caller.Node != nil && caller.Node.kind == KindCall {
		instr := caller.Node.CallInstruction()
		fns := cg.byInstr[instr]
		if fns == nil {
			fns = make(map[*ssa.Function]bool)
			cg.byInstr[instr] = fns
		}
		fns[callee.Fn] = true
	}
	return added
}

// Callers returns the call sites that have entered fc, in insertion order.
func (cg *CallGraph) Callers(fc FunctionContext) []ProgramPoint {
	return cg.callers[fc]
}

// Callees returns the activations entered from caller, in insertion order.
func (cg *CallGraph) Callees(caller ProgramPoint) []FunctionContext {
	return cg.callees[caller]
}

// CalleesAt projects the callee set of a call instruction over all contexts.
func (cg *CallGraph) CalleesAt(instr ssa.CallInstruction) []*ssa.Function {
	fns := cg.byInstr[instr]
	out := make([]*ssa.Function, 0, len(fns))
	for fn := range fns {
		out = append(out, fn)
	}
	sortFunctions(out)
	return out
}

// NumEdges returns the number of distinct caller->callee edges.
func (cg *CallGraph) NumEdges() int {
	n := 0
	for _, cs := range cg.callers {
		n += len(cs)
	}
	return n
}

// Activations iterates every recorded function activation in discovery
// order.
func (cg *CallGraph) Activations(f func(fc FunctionContext)) {
	for _, fc := range cg.order {
		f(fc)
	}
}

func sortFunctions(fns []*ssa.Function) {
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })
}
