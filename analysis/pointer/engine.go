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
	"sync/atomic"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"golang.org/x/tools/go/ssa"
)

// Engine drives the semi-sparse points-to fixpoint. One engine instance is
// single-threaded and owns its whole state: environment, per-point store
// memo, call graph and interning tables. Every update is monotone over
// finite lattices, so the fixpoint terminates when the worklist empties.
type Engine struct {
	prog   *Program
	policy context.Policy
	cfg    *config.Config
	logger *config.LogGroup

	mm *memory.Manager
	pm *PointerManager

	env  *Env
	memo map[ProgramPoint]*Store
	cg   *CallGraph
	wl   *Worklist

	ext    *annotation.PointerTable
	oracle CalleeOracle

	globalCtx       *context.Context
	warnedExternals map[string]bool

	aborted atomic.Bool
	steps   int
}

// NewEngine assembles an engine over a reduced program. A nil external table
// falls back to the built-in one; a nil oracle falls back to class-hierarchy
// resolution of interface calls.
func NewEngine(prog *Program, policy context.Policy, cfg *config.Config, logger *config.LogGroup,
	ext *annotation.PointerTable, oracle CalleeOracle) *Engine {
	if ext == nil {
		ext = annotation.DefaultPointerTable()
	}
	if oracle == nil {
		oracle = newCHAOracle(prog.ssaProg)
	}
	globalCtx := policy.Table().Global()
	return &Engine{
		prog:            prog,
		policy:          policy,
		cfg:             cfg,
		logger:          logger,
		mm:              memory.NewManager(prog.typeMap),
		pm:              NewPointerManager(globalCtx, cfg.CollapseGlobalContexts),
		env:             NewEnv(),
		memo:            make(map[ProgramPoint]*Store),
		cg:              NewCallGraph(),
		wl:              NewWorklist(),
		ext:             ext,
		oracle:          oracle,
		globalCtx:       globalCtx,
		warnedExternals: make(map[string]bool),
	}
}

// Abort asks a running engine to stop at the top of its next step. The
// partial solution is discarded.
func (e *Engine) Abort() { e.aborted.Store(true) }

// Run computes the points-to fixpoint and returns the solution. The package
// initializers of the main package run before main, in order.
func (e *Engine) Run() (*Result, error) {
	if e.prog.main == nil {
		return nil, fmt.Errorf("program has no main function")
	}
	for _, init := range e.prog.inits {
		e.seedRoot(init)
	}
	e.seedRoot(e.prog.main)

	bound := e.cfg.IterationBound()
	for !e.wl.Empty() {
		if e.aborted.Load() {
			return nil, fmt.Errorf("pointer analysis aborted")
		}
		e.steps++
		if e.steps > bound {
			return nil, fmt.Errorf("pointer analysis exceeded %d evaluation steps; aborting with diagnostics: %d points pending, %d contexts, %d objects",
				bound, e.wl.Len(), e.policy.Table().Size(), e.mm.NumObjects())
		}
		pp := e.wl.Dequeue()
		st := e.memo[pp]
		if st == nil {
			st = NewStore()
			e.memo[pp] = st
		}
		e.eval(pp, st)
	}

	e.logger.Infof("pointer fixpoint reached after %d steps: %d pointers, %d objects, %d call edges",
		e.steps, e.pm.Size(), e.mm.NumObjects(), e.cg.NumEdges())

	return &Result{
		Program:        e.prog,
		Policy:         e.policy,
		Env:            e.env,
		Memo:           e.memo,
		CallGraph:      e.cg,
		MemoryManager:  e.mm,
		PointerManager: e.pm,
		Steps:          e.steps,
	}, nil
}

// seedRoot schedules a root function under the global context with an empty
// entry store.
func (e *Engine) seedRoot(fn *ssa.Function) {
	f := e.prog.fns[fn]
	if f == nil {
		return
	}
	pp := ProgramPoint{Ctx: e.globalCtx, Node: f.entry}
	if _, ok := e.memo[pp]; !ok {
		e.memo[pp] = NewStore()
	}
	e.cg.AddEdge(ProgramPoint{}, FunctionContext{Ctx: e.globalCtx, Fn: fn})
	e.wl.Enqueue(pp)
}
