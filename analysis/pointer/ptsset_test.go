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
	"testing"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/ssatest"
	"github.com/stretchr/testify/require"
)

const setSrc = `
package main

var a, b, c int

func main() {}
`

func testObjects(t *testing.T, n int) []*memory.Object {
	t.Helper()
	_, pkg := ssatest.BuildPackage(t, setSrc)
	tm := memory.NewTypeMap()
	m := memory.NewManager(tm)
	ctx := context.NewTable().Global()
	names := []string{"a", "b", "c"}
	objs := make([]*memory.Object, 0, n)
	for i := 0; i < n; i++ {
		g := pkg.Var(names[i])
		objs = append(objs, m.AllocateGlobal(g, ctx, tm.ByteArrayLayout()))
	}
	return objs
}

func TestPtsSetHashConsing(t *testing.T) {
	objs := testObjects(t, 3)

	s1 := EmptyPtsSet().Insert(objs[0]).Insert(objs[1])
	s2 := EmptyPtsSet().Insert(objs[1]).Insert(objs[0])
	// Pointer equality implies set equality; insertion order is irrelevant.
	require.Same(t, s1, s2)

	require.Same(t, s1, s1.Insert(objs[0]))
	require.Same(t, EmptyPtsSet(), EmptyPtsSet())
}

func TestPtsSetMerge(t *testing.T) {
	objs := testObjects(t, 3)
	s1 := SingletonPtsSet(objs[0])
	s2 := SingletonPtsSet(objs[1])

	m := s1.Merge(s2)
	require.Equal(t, 2, m.Size())
	require.True(t, m.Contains(objs[0]))
	require.True(t, m.Contains(objs[1]))
	require.False(t, m.Contains(objs[2]))

	// Merging a subset returns the receiver.
	require.Same(t, m, m.Merge(s1))
	require.Same(t, m, m.Merge(EmptyPtsSet()))
	require.Same(t, m, EmptyPtsSet().Merge(m))

	all := MergeAllPtsSets([]*PtsSet{s1, s2, SingletonPtsSet(objs[2])})
	require.Equal(t, 3, all.Size())
}

func TestPtsSetCanonicalOrder(t *testing.T) {
	objs := testObjects(t, 3)
	s := EmptyPtsSet().Insert(objs[2]).Insert(objs[0]).Insert(objs[1])
	got := s.Objects()
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].ID(), got[i].ID())
	}
}

func TestEnvMonotone(t *testing.T) {
	objs := testObjects(t, 2)
	env := NewEnv()
	tbl := context.NewTable()
	pm := NewPointerManager(tbl.Global(), false)
	_, pkg := ssatest.BuildPackage(t, setSrc)
	p := pm.GetOrCreatePointer(tbl.Global(), pkg.Var("a"))

	require.True(t, env.WeakUpdate(p, SingletonPtsSet(objs[0])))
	require.False(t, env.WeakUpdate(p, SingletonPtsSet(objs[0])))
	require.True(t, env.WeakUpdate(p, SingletonPtsSet(objs[1])))
	require.Equal(t, 2, env.Lookup(p).Size())
	require.False(t, env.WeakUpdate(p, EmptyPtsSet()))
}

func TestStoreStrongWeak(t *testing.T) {
	objs := testObjects(t, 3)
	st := NewStore()

	require.True(t, st.WeakUpdate(objs[0], SingletonPtsSet(objs[1])))
	require.True(t, st.WeakUpdate(objs[0], SingletonPtsSet(objs[2])))
	require.Equal(t, 2, st.Lookup(objs[0]).Size())

	require.True(t, st.StrongUpdate(objs[0], SingletonPtsSet(objs[1])))
	require.Equal(t, 1, st.Lookup(objs[0]).Size())
}

func TestSentinelsRejectUpdates(t *testing.T) {
	objs := testObjects(t, 1)
	tm := memory.NewTypeMap()
	m := memory.NewManager(tm)
	st := NewStore()
	require.False(t, st.WeakUpdate(m.NullObject(), SingletonPtsSet(objs[0])))
	require.False(t, st.StrongUpdate(m.UniversalObject(), SingletonPtsSet(objs[0])))
	require.True(t, st.Lookup(m.NullObject()).IsEmpty())
}
