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

package memory

import (
	"go/types"
	"testing"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/ssatest"
	"github.com/stretchr/testify/require"
)

const layoutSrc = `
package main

type inner struct {
	a int64
	p *int
}

type outer struct {
	x int64
	in inner
	q *outer
}

var sink outer

func main() { _ = sink }
`

func buildOuterLayout(t *testing.T) (*TypeMap, *TypeLayout) {
	t.Helper()
	_, pkg := ssatest.BuildPackage(t, layoutSrc)
	obj := pkg.Pkg.Scope().Lookup("outer")
	require.NotNil(t, obj)
	tm := NewTypeMap()
	return tm, tm.Layout(obj.Type())
}

func TestStructLayout(t *testing.T) {
	_, layout := buildOuterLayout(t)
	// outer = { x int64; in { a int64; p *int }; q *outer }
	require.Equal(t, int64(32), layout.Size())
	require.Equal(t, []int64{16, 24}, layout.PointerOffsets())
	require.Equal(t, []int64{0, 8, 16, 24}, layout.FieldOffsets())
	require.False(t, layout.IsArray())
}

func TestArrayLayoutReusesElement(t *testing.T) {
	tm := NewTypeMap()
	arr := types.NewArray(types.NewPointer(types.Typ[types.Int64]), 8)
	layout := tm.Layout(arr)
	require.Equal(t, int64(64), layout.Size())
	require.Equal(t, int64(8), layout.ArrayStride())
	// The element sequence collapses onto element zero.
	require.Equal(t, []int64{0}, layout.PointerOffsets())
}

func TestLayoutInterned(t *testing.T) {
	tm := NewTypeMap()
	ptr := types.NewPointer(types.Typ[types.Int])
	require.Same(t, tm.Layout(ptr), tm.Layout(ptr))
}

func TestOffsetIdentityAndSentinels(t *testing.T) {
	tm, layout := buildOuterLayout(t)
	m := NewManager(tm)
	ctx := context.NewTable().Global()

	_, pkg := ssatest.BuildPackage(t, layoutSrc)
	g := pkg.Var("sink")
	obj := m.AllocateGlobal(g, ctx, layout)

	// offsetMemory(o, 0) == o
	require.Same(t, obj, m.Offset(obj, 0))

	// Offsetting a sentinel yields the same sentinel.
	require.Same(t, m.NullObject(), m.Offset(m.NullObject(), 8))
	require.Same(t, m.UniversalObject(), m.Offset(m.UniversalObject(), 8))

	// Offsets intern per (site, offset).
	o16 := m.Offset(obj, 16)
	require.Equal(t, int64(16), o16.Offset())
	require.Same(t, o16, m.Offset(obj, 16))
	require.Same(t, obj.Site(), o16.Site())

	// Out-of-range offsets clamp into the layout.
	oBig := m.Offset(obj, 1000)
	require.Less(t, oBig.Offset(), layout.Size())
}

func TestReachableEnumerationStable(t *testing.T) {
	tm, layout := buildOuterLayout(t)
	m := NewManager(tm)
	ctx := context.NewTable().Global()
	_, pkg := ssatest.BuildPackage(t, layoutSrc)
	obj := m.AllocateGlobal(pkg.Var("sink"), ctx, layout)

	ptrs1 := m.ReachablePointerObjects(obj)
	ptrs2 := m.ReachablePointerObjects(obj)
	require.Equal(t, ptrs1, ptrs2)
	require.Len(t, ptrs1, 2)

	all := m.ReachableMemoryObjects(obj)
	require.Len(t, all, 4)
	offsets := make([]int64, 0, len(all))
	for _, o := range all {
		offsets = append(offsets, o.Offset())
	}
	require.Equal(t, []int64{0, 8, 16, 24}, offsets)
}

func TestSummaryObjects(t *testing.T) {
	tm, layout := buildOuterLayout(t)
	m := NewManager(tm)
	ctx := context.NewTable().Global()
	_, pkg := ssatest.BuildPackage(t, layoutSrc)
	g := pkg.Var("sink")

	heap := m.AllocateHeap(ctx, g, layout)
	require.True(t, heap.IsSummary())

	global := m.AllocateGlobal(g, ctx, layout)
	require.False(t, global.IsSummary())
	m.SetSummary(global)
	require.True(t, global.IsSummary())

	require.True(t, m.ArgvObject().IsSummary())
	require.False(t, m.NullObject().IsSummary())
}
