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
	"io"
	"testing"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/ssatest"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

func runAnalysis(t *testing.T, src string, policy context.Policy, ext *annotation.PointerTable) (*Result, *ssa.Package) {
	t.Helper()
	ssaProg, pkg := ssatest.BuildPackage(t, src)
	prog := BuildProgram(ssaProg, memory.NewTypeMap())
	cfg := config.NewDefault()
	logger := config.NewLogGroup(cfg)
	logger.SetAllOutput(io.Discard)
	res, err := RunWithPolicy(prog, policy, cfg, logger, ext)
	require.NoError(t, err)
	return res, pkg
}

func siteValues(s *PtsSet) []ssa.Value {
	out := make([]ssa.Value, 0, s.Size())
	for _, o := range s.Objects() {
		out = append(out, o.Site().Value())
	}
	return out
}

// Two distinct allocations stay distinct.
func TestIntraproceduralAllocs(t *testing.T) {
	src := `
package main

func main() {
	a := new(int)
	b := new(int)
	_ = a
	_ = b
}
`
	res, pkg := runAnalysis(t, src, context.NewNoContext(), nil)
	allocs := ssatest.FindAllocs(pkg.Func("main"))
	require.Len(t, allocs, 2)

	pa := res.Pts(allocs[0])
	pb := res.Pts(allocs[1])
	require.Equal(t, 1, pa.Size())
	require.Equal(t, 1, pb.Size())
	require.NotSame(t, pa.Objects()[0], pb.Objects()[0])
}

const interprocSrc = `
package main

var g1, g2 int

func id(x *int) *int { return x }

func main() {
	a := id(&g1)
	b := id(&g2)
	_ = a
	_ = b
}
`

// With k=1, the two id activations stay separate.
func TestInterproceduralK1(t *testing.T) {
	res, pkg := runAnalysis(t, interprocSrc, context.NewKLimit(1), nil)
	calls := ssatest.FindCalls(pkg.Func("main"))
	require.Len(t, calls, 2)

	pa := res.Pts(calls[0])
	pb := res.Pts(calls[1])
	require.Equal(t, []ssa.Value{pkg.Var("g1")}, siteValues(pa))
	require.Equal(t, []ssa.Value{pkg.Var("g2")}, siteValues(pb))
}

// With no context, both activations merge.
func TestInterproceduralK0(t *testing.T) {
	res, pkg := runAnalysis(t, interprocSrc, context.NewNoContext(), nil)
	calls := ssatest.FindCalls(pkg.Func("main"))

	pa := res.Pts(calls[0])
	pb := res.Pts(calls[1])
	require.Equal(t, 2, pa.Size())
	require.Equal(t, 2, pb.Size())
	require.Equal(t, pa, pb)
}

// A second store through a singleton non-summary pointer kills the first.
func TestStrongUpdate(t *testing.T) {
	src := `
package main

var src1, src2 int

type box struct{ p *int }

func main() {
	var b box
	b.p = &src1
	b.p = &src2
	r := b.p
	_ = r
}
`
	res, pkg := runAnalysis(t, src, context.NewNoContext(), nil)
	loads := ssatest.FindLoads(pkg.Func("main"))
	require.NotEmpty(t, loads)
	r := loads[len(loads)-1]
	require.Equal(t, []ssa.Value{pkg.Var("src2")}, siteValues(res.Pts(r)))
}

// Heap cells are summaries: stores through them join.
func TestWeakUpdateOnSummary(t *testing.T) {
	src := `
package main

var src1, src2 int

func main() {
	p := new(*int)
	*p = &src1
	*p = &src2
	r := *p
	_ = r
}
`
	res, pkg := runAnalysis(t, src, context.NewNoContext(), nil)
	loads := ssatest.FindLoads(pkg.Func("main"))
	r := loads[len(loads)-1]
	require.ElementsMatch(t, []ssa.Value{pkg.Var("src1"), pkg.Var("src2")}, siteValues(res.Pts(r)))
}

// Captured variables flow through closures.
func TestClosureCapture(t *testing.T) {
	src := `
package main

var g1 int

func main() {
	x := &g1
	f := func() *int { return x }
	y := f()
	_ = y
}
`
	res, pkg := runAnalysis(t, src, context.NewKLimit(1), nil)
	calls := ssatest.FindCalls(pkg.Func("main"))
	require.Len(t, calls, 1)
	require.Equal(t, []ssa.Value{pkg.Var("g1")}, siteValues(res.Pts(calls[0])))
}

const externalSrc = `
package main

func ext() *int

func main() {
	a := ext()
	_ = a
}
`

// An unannotated external is a warned no-op; its used result binds to null.
func TestUnknownExternalBindsNull(t *testing.T) {
	res, pkg := runAnalysis(t, externalSrc, context.NewNoContext(), nil)
	calls := ssatest.FindCalls(pkg.Func("main"))
	pa := res.Pts(calls[0])
	require.Equal(t, 1, pa.Size())
	require.True(t, pa.Objects()[0].IsNull())
}

// An ALLOC-annotated external produces a fresh heap object.
func TestExternalAlloc(t *testing.T) {
	table, err := annotation.ParsePointerTable("test", "main.ext ALLOC\n")
	require.NoError(t, err)
	res, pkg := runAnalysis(t, externalSrc, context.NewNoContext(), table)
	calls := ssatest.FindCalls(pkg.Func("main"))
	pa := res.Pts(calls[0])
	require.Equal(t, 1, pa.Size())
	obj := pa.Objects()[0]
	require.Equal(t, memory.HeapAlloc, obj.Site().Kind())
	require.True(t, obj.IsSummary())
}

// No context produced during analysis exceeds the policy's depth bound.
func TestContextDepthBound(t *testing.T) {
	src := `
package main

var g int

func f3(p *int) *int { return p }
func f2(p *int) *int { return f3(p) }
func f1(p *int) *int { return f2(p) }

func main() {
	x := f1(&g)
	_ = x
}
`
	policy := context.NewKLimit(2)
	res, _ := runAnalysis(t, src, policy, nil)
	res.CallGraph.Activations(func(fc FunctionContext) {
		require.LessOrEqual(t, fc.Ctx.Depth(), 2)
	})

	resNoCtx, _ := runAnalysis(t, src, context.NewNoContext(), nil)
	resNoCtx.CallGraph.Activations(func(fc FunctionContext) {
		require.True(t, fc.Ctx.IsGlobal())
	})
}

// Two runs over identical inputs produce identical solutions.
func TestDeterminism(t *testing.T) {
	run := func() (int, int, string) {
		res, pkg := runAnalysis(t, interprocSrc, context.NewKLimit(1), nil)
		calls := ssatest.FindCalls(pkg.Func("main"))
		return res.Env.Size(), res.CallGraph.NumEdges(), res.Pts(calls[0]).String() + res.Pts(calls[1]).String()
	}
	e1, c1, s1 := run()
	e2, c2, s2 := run()
	require.Equal(t, e1, e2)
	require.Equal(t, c1, c2)
	require.Equal(t, s1, s2)
}
