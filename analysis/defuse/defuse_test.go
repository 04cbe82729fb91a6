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

package defuse

import (
	"io"
	"testing"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/ssatest"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

func buildModule(t *testing.T, src string) (*Module, *ModRefModule, *pointer.Result, *ssa.Package) {
	t.Helper()
	ssaProg, pkg := ssatest.BuildPackage(t, src)
	prog := pointer.BuildProgram(ssaProg, memory.NewTypeMap())
	cfg := config.NewDefault()
	logger := config.NewLogGroup(cfg)
	logger.SetAllOutput(io.Discard)
	res, err := pointer.RunWithPolicy(prog, context.NewKLimit(1), cfg, logger, nil)
	require.NoError(t, err)
	modref := ComputeModRef(res, nil, logger)
	module := BuildModule(res, modref, logger)
	return module, modref, res, pkg
}

const modrefSrc = `
package main

var g int

func writeThrough(p *int) {
	*p = 1
}

func caller(p *int) {
	writeThrough(p)
}

func main() {
	caller(&g)
}
`

// A callee's writes show up in its callers' summaries.
func TestModRefPropagation(t *testing.T) {
	_, modref, res, pkg := buildModule(t, modrefSrc)
	gObj := res.Pts(pkg.Var("g")).Objects()[0]

	require.True(t, modref.SummaryOf(pkg.Func("writeThrough")).Writes(gObj))
	require.True(t, modref.SummaryOf(pkg.Func("caller")).Writes(gObj))
	require.True(t, modref.SummaryOf(pkg.Func("main")).Writes(gObj))
}

// Local stack cells never appear in caller-visible summaries.
func TestModRefFiltersLocalStack(t *testing.T) {
	src := `
package main

type cell struct{ v int }

func local() {
	var c cell
	c.v = 1
	_ = c.v
}

func main() {
	local()
}
`
	_, modref, _, pkg := buildModule(t, src)
	count := 0
	modref.SummaryOf(pkg.Func("main")).WriteSet(func(o *memory.Object) { count++ })
	require.Zero(t, count)
}

const defuseSrc = `
package main

var g int

func main() {
	var p *int
	q := &p
	*q = &g
	r := *q
	_ = r
}
`

// The store reaches the load through a memory-level edge keyed by the
// stored object, and the load is a top-level predecessor of its users.
func TestMemoryLevelEdges(t *testing.T) {
	module, _, res, pkg := buildModule(t, defuseSrc)
	mainFn := pkg.Func("main")
	f := module.FunctionOf(mainFn)
	require.NotNil(t, f)

	var store *ssa.Store
	for _, blk := range mainFn.Blocks {
		for _, instr := range blk.Instrs {
			if s, ok := instr.(*ssa.Store); ok {
				store = s
			}
		}
	}
	require.NotNil(t, store)
	loads := ssatest.FindLoads(mainFn)
	require.NotEmpty(t, loads)
	load := loads[len(loads)-1]

	storeNode := f.NodeFor(store)
	loadNode := f.NodeFor(load)
	require.NotNil(t, storeNode)
	require.NotNil(t, loadNode)

	pObj := res.Pts(store.Addr).Objects()[0]
	require.Contains(t, storeNode.MemSuccsFor(pObj), loadNode)
	require.Contains(t, loadNode.MemPreds(pObj), storeNode)
}

// The entry carries the maximal priority of its function.
func TestEntryPriorityMaximal(t *testing.T) {
	module, _, _, pkg := buildModule(t, defuseSrc)
	f := module.FunctionOf(pkg.Func("main"))
	for _, n := range f.Nodes() {
		if !n.IsEntry() {
			require.Less(t, n.Priority(), f.Entry().Priority())
		}
	}
}

// Control transfers are elided from the def-use graph.
func TestBranchesElided(t *testing.T) {
	src := `
package main

func main() {
	x := 0
	if x > 0 {
		x = 1
	}
	_ = x
}
`
	module, _, _, pkg := buildModule(t, src)
	f := module.FunctionOf(pkg.Func("main"))
	for _, n := range f.Nodes() {
		if n.IsEntry() {
			continue
		}
		switch n.Instr().(type) {
		case *ssa.If, *ssa.Jump:
			t.Fatalf("control transfer %s should be elided", n)
		}
	}
}
