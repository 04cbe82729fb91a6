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
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"golang.org/x/tools/go/ssa"
)

// Result is the stabilized points-to solution: the environment, the
// per-point store memo, the context-sensitive call graph and the managers
// whose tables back them. Everything downstream (def-use construction, taint
// analysis, dumps) reads the solution through this type.
type Result struct {
	Program        *Program
	Policy         context.Policy
	Env            *Env
	Memo           map[ProgramPoint]*Store
	CallGraph      *CallGraph
	MemoryManager  *memory.Manager
	PointerManager *PointerManager
	Steps          int
}

// PtsAt returns the points-to set of v under ctx.
func (r *Result) PtsAt(ctx *context.Context, v ssa.Value) *PtsSet {
	switch val := v.(type) {
	case *ssa.Global:
		elem := val.Type().Underlying().(*types.Pointer).Elem()
		return SingletonPtsSet(r.MemoryManager.AllocateGlobal(val, r.Policy.Table().Global(), r.Program.typeMap.Layout(elem)))
	case *ssa.Function:
		return SingletonPtsSet(r.MemoryManager.AllocateFunction(val, r.Policy.Table().Global()))
	case *ssa.Const:
		if val.IsNil() {
			return SingletonPtsSet(r.MemoryManager.NullObject())
		}
		return EmptyPtsSet()
	}
	p := r.PointerManager.GetPointer(ctx, v)
	if p == nil {
		return EmptyPtsSet()
	}
	return r.Env.Lookup(p)
}

// Pts returns the context-free projection of v's points-to set: the union
// over every context in which v was observed.
func (r *Result) Pts(v ssa.Value) *PtsSet {
	switch v.(type) {
	case *ssa.Global, *ssa.Function, *ssa.Const:
		return r.PtsAt(nil, v)
	}
	out := EmptyPtsSet()
	for _, p := range r.PointerManager.GetPointersWithValue(v) {
		out = out.Merge(r.Env.Lookup(p))
	}
	return out
}

// Callees returns the resolved callees of a call instruction over all
// contexts, the static callee included.
func (r *Result) Callees(instr ssa.CallInstruction) []*ssa.Function {
	if fn := instr.Common().StaticCallee(); fn != nil {
		return []*ssa.Function{fn}
	}
	return r.CallGraph.CalleesAt(instr)
}

// StoreAt returns the memo'ed store of a program point; nil when the point
// was never reached.
func (r *Result) StoreAt(pp ProgramPoint) *Store {
	return r.Memo[pp]
}

// FunctionOf exposes the reduced form of fn.
func (r *Result) FunctionOf(fn *ssa.Function) *Function {
	return r.Program.FunctionOf(fn)
}

// RunWithPolicy builds an engine over prog and runs it to fixpoint.
func RunWithPolicy(prog *Program, policy context.Policy, cfg *config.Config, logger *config.LogGroup,
	ext *annotation.PointerTable) (*Result, error) {
	return NewEngine(prog, policy, cfg, logger, ext, nil).Run()
}

// RunPreAnalysis runs the context-insensitive pre-analysis that backs the
// introspective policy and returns its oracle.
func RunPreAnalysis(prog *Program, cfg *config.Config, logger *config.LogGroup,
	ext *annotation.PointerTable) (context.PreAnalysisQueries, error) {
	res, err := RunWithPolicy(prog, context.NewNoContext(), cfg, logger, ext)
	if err != nil {
		return nil, err
	}
	return &preAnalysisQueries{res: res}, nil
}

// preAnalysisQueries scores allocation and call sites from a stabilized
// context-insensitive solution.
type preAnalysisQueries struct {
	res *Result
}

// PointedByVarCount counts the top-level pointers that may point to memory
// allocated at the site.
func (q *preAnalysisQueries) PointedByVarCount(site ssa.Value) int {
	count := 0
	q.res.Env.Bindings(func(_ *Pointer, s *PtsSet) {
		for _, o := range s.Objects() {
			if o.Site().Value() == site {
				count++
				return
			}
		}
	})
	return count
}

// InFlow counts the distinct store bindings targeting the site's objects in
// the final memo, a measure of how many values flow into the site.
func (q *preAnalysisQueries) InFlow(site ssa.Value) int {
	seen := make(map[*PtsSet]bool)
	for _, st := range q.res.Memo {
		st.Bindings(func(o *memory.Object, s *PtsSet) {
			if o.Site().Value() == site {
				seen[s] = true
			}
		})
	}
	return len(seen)
}

// MaxFieldPointsTo returns the largest points-to set stored in any field of
// the site's objects.
func (q *preAnalysisQueries) MaxFieldPointsTo(site ssa.Value) int {
	maxSize := 0
	for _, st := range q.res.Memo {
		st.Bindings(func(o *memory.Object, s *PtsSet) {
			if o.Site().Value() == site && s.Size() > maxSize {
				maxSize = s.Size()
			}
		})
	}
	return maxSize
}

// TotalPointsToVolume sums the points-to set sizes over everything the call
// site touches: arguments and result.
func (q *preAnalysisQueries) TotalPointsToVolume(site ssa.CallInstruction) int {
	total := 0
	for _, arg := range site.Common().Args {
		total += q.res.Pts(arg).Size()
	}
	if v, ok := site.(ssa.Value); ok {
		total += q.res.Pts(v).Size()
	}
	return total
}

// VarFieldProduct multiplies the pointed-by count of the call's result by
// the number of fields its pointees expose.
func (q *preAnalysisQueries) VarFieldProduct(site ssa.CallInstruction) int {
	v, ok := site.(ssa.Value)
	if !ok {
		return 0
	}
	fields := 0
	for _, o := range q.res.Pts(v).Objects() {
		fields += len(o.Site().Layout().FieldOffsets())
	}
	return q.PointedByVarCount(v) * fields
}
