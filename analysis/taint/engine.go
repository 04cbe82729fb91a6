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
	"fmt"
	"sync/atomic"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/defuse"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"golang.org/x/tools/go/ssa"
)

// SinkRecord is one call site of an annotated sink function, collected
// during the fixpoint and checked after it.
type SinkRecord struct {
	PP      ProgramPoint
	Callee  *ssa.Function
	Summary *annotation.TaintSummary
}

// SinkViolation is one argument of a sink call whose taint is not below
// Untainted.
type SinkViolation struct {
	PP       ProgramPoint
	Callee   *ssa.Function
	ArgIndex int
	Class    annotation.Class
	Expected Lattice
	Actual   Lattice
}

func (v SinkViolation) String() string {
	return fmt.Sprintf("sink %s at %s: arg %d (%s) expected %s, got %s",
		v.Callee.Name(), v.PP, v.ArgIndex, v.Class, v.Expected, v.Actual)
}

// AnalysisResult is the stabilized taint solution plus the sink verdicts.
type AnalysisResult struct {
	Env        *Env
	Memo       *Memo
	Module     *defuse.Module
	Pointer    *pointer.Result
	Table      *annotation.TaintTable
	Sinks      []SinkRecord
	Violations []SinkViolation
	CallGraph  map[FunctionContext][]ProgramPoint
	Steps      int
}

// Engine drives the taint fixpoint over the def-use module. It shares the
// context policy with the pointer analysis, so taint program points align
// with points-to lookups.
type Engine struct {
	module *defuse.Module
	res    *pointer.Result
	cfg    *config.Config
	logger *config.LogGroup
	table  *annotation.TaintTable

	env  *Env
	memo *Memo
	wl   *worklist

	callers    map[FunctionContext][]ProgramPoint
	callerSeen map[FunctionContext]map[ProgramPoint]bool
	fcOrder    []FunctionContext

	sinks    []SinkRecord
	sinkSeen map[ProgramPoint]map[*ssa.Function]bool

	// seeded tracks which activations had their full node set scheduled
	// once; afterwards scheduling is purely sparse.
	seeded map[FunctionContext]bool

	warnedExternals map[string]bool
	globalCtx       *context.Context

	aborted atomic.Bool
	steps   int
}

// NewEngine assembles a taint engine over a def-use module. A nil table
// falls back to the built-in one.
func NewEngine(module *defuse.Module, cfg *config.Config, logger *config.LogGroup,
	table *annotation.TaintTable) *Engine {
	if table == nil {
		table = annotation.DefaultTaintTable()
	}
	res := module.PointerResult()
	return &Engine{
		module:          module,
		res:             res,
		cfg:             cfg,
		logger:          logger,
		table:           table,
		env:             NewEnv(),
		memo:            NewMemo(),
		wl:              newWorklist(),
		callers:         make(map[FunctionContext][]ProgramPoint),
		callerSeen:      make(map[FunctionContext]map[ProgramPoint]bool),
		sinkSeen:        make(map[ProgramPoint]map[*ssa.Function]bool),
		seeded:          make(map[FunctionContext]bool),
		warnedExternals: make(map[string]bool),
		globalCtx:       res.Policy.Table().Global(),
	}
}

// Abort asks a running engine to stop at the top of its next step.
func (e *Engine) Abort() { e.aborted.Store(true) }

// addCallEdge records a taint call-graph edge and reports whether it is new.
func (e *Engine) addCallEdge(caller ProgramPoint, callee FunctionContext) bool {
	seen := e.callerSeen[callee]
	if seen == nil {
		seen = make(map[ProgramPoint]bool)
		e.callerSeen[callee] = seen
		e.fcOrder = append(e.fcOrder, callee)
	}
	if seen[caller] {
		return false
	}
	seen[caller] = true
	e.callers[callee] = append(e.callers[callee], caller)
	return true
}

// Run computes the taint fixpoint, then checks every recorded sink.
func (e *Engine) Run() (*AnalysisResult, error) {
	main := e.module.Main()
	if main == nil {
		return nil, fmt.Errorf("program has no main function")
	}
	for _, init := range e.res.Program.Inits() {
		e.seedRoot(init)
	}
	e.seedRoot(main)

	bound := e.cfg.IterationBound()
	for !e.wl.empty() {
		if e.aborted.Load() {
			return nil, fmt.Errorf("taint analysis aborted")
		}
		e.steps++
		if e.steps > bound {
			return nil, fmt.Errorf("taint analysis exceeded %d evaluation steps; aborting with diagnostics: %d points pending",
				bound, e.wl.size())
		}
		e.eval(e.wl.dequeue())
	}

	e.logger.Infof("taint fixpoint reached after %d steps: %d env entries, %d sinks recorded",
		e.steps, e.env.Size(), len(e.sinks))

	result := &AnalysisResult{
		Env:       e.env,
		Memo:      e.memo,
		Module:    e.module,
		Pointer:   e.res,
		Table:     e.table,
		Sinks:     e.sinks,
		CallGraph: e.callers,
		Steps:     e.steps,
	}
	result.Violations = e.checkSinks()
	return result, nil
}

func (e *Engine) seedRoot(fn *ssa.Function) {
	f := e.module.FunctionOf(fn)
	if f == nil {
		return
	}
	pp := ProgramPoint{Ctx: e.globalCtx, Node: f.Entry()}
	e.memo.LookupOrCreate(pp)
	e.wl.enqueue(pp)
}

// Analyze runs the full taint pipeline over an already-built def-use module.
func Analyze(module *defuse.Module, cfg *config.Config, logger *config.LogGroup,
	table *annotation.TaintTable) (*AnalysisResult, error) {
	return NewEngine(module, cfg, logger, table).Run()
}
