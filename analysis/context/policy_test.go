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

package context

import (
	"testing"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/ssatest"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

const callerSrc = `
package main

func f() {}
func g() { f() }
func main() {
	g()
	g()
}
`

func testCallSites(t *testing.T) []ssa.CallInstruction {
	t.Helper()
	_, pkg := ssatest.BuildPackage(t, callerSrc)
	var calls []ssa.CallInstruction
	for _, name := range []string{"main", "g"} {
		for _, c := range ssatest.FindCalls(pkg.Func(name)) {
			calls = append(calls, c)
		}
	}
	require.GreaterOrEqual(t, len(calls), 3)
	return calls
}

func TestNoContext(t *testing.T) {
	calls := testCallSites(t)
	p := NewNoContext()
	ctx := p.Push(p.Table().Global(), calls[0])
	require.True(t, ctx.IsGlobal())
	ctx = p.Push(ctx, calls[1])
	require.True(t, ctx.IsGlobal())
	require.Equal(t, 1, p.Table().Size())
}

func TestKLimitDepthBound(t *testing.T) {
	calls := testCallSites(t)
	p := NewKLimit(2)
	ctx := p.Table().Global()
	for i := 0; i < 10; i++ {
		ctx = p.Push(ctx, calls[i%len(calls)])
		require.LessOrEqual(t, ctx.Depth(), 2)
	}
	require.Equal(t, 2, ctx.Depth())
}

func TestKLimitZeroIsGlobal(t *testing.T) {
	calls := testCallSites(t)
	p := NewKLimit(0)
	require.True(t, p.Push(p.Table().Global(), calls[0]).IsGlobal())
}

// Pushing the same call site under the same parent must return the same
// interned context.
func TestPushDeterminism(t *testing.T) {
	calls := testCallSites(t)
	p := NewKLimit(3)
	a := p.Push(p.Table().Global(), calls[0])
	b := p.Push(p.Table().Global(), calls[0])
	require.Same(t, a, b)

	c := p.Push(a, calls[1])
	d := p.Push(b, calls[1])
	require.Same(t, c, d)
	require.Equal(t, 2, c.Depth())
	require.Same(t, a, c.Parent())
}

func TestSelectiveKCFA(t *testing.T) {
	calls := testCallSites(t)
	p := NewSelectiveKCFA(2)
	p.SetCallSiteLimit(calls[0], 0)

	// Site with k=0 pushes to the global context.
	require.True(t, p.Push(p.Table().Global(), calls[0]).IsGlobal())

	// Unlisted sites use the default.
	ctx := p.Push(p.Table().Global(), calls[1])
	require.Equal(t, 1, ctx.Depth())
	ctx = p.Push(ctx, calls[2])
	require.Equal(t, 2, ctx.Depth())
	ctx2 := p.Push(ctx, calls[1])
	require.Same(t, ctx, ctx2)

	require.Equal(t, 0, p.CallSiteLimit(calls[0]))
	require.Equal(t, 2, p.CallSiteLimit(calls[1]))
}

func TestSelectiveKCFAFunctionSites(t *testing.T) {
	_, pkg := ssatest.BuildPackage(t, callerSrc)
	p := NewSelectiveKCFA(1)
	p.SetKLimitForFunctionCallSites(pkg.Func("main"), 0)
	for _, c := range ssatest.FindCalls(pkg.Func("main")) {
		require.Equal(t, 0, p.CallSiteLimit(c))
	}
	for _, c := range ssatest.FindCalls(pkg.Func("g")) {
		require.Equal(t, 1, p.CallSiteLimit(c))
	}
}

func TestContextDepthsDistribution(t *testing.T) {
	calls := testCallSites(t)
	p := NewKLimit(2)
	c1 := p.Push(p.Table().Global(), calls[0])
	p.Push(c1, calls[1])
	dist := p.Table().Depths()
	require.Equal(t, []int{1, 1, 1}, dist)
}
