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

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/defuse"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"golang.org/x/tools/go/ssa"
)

// Value is the taint analogue of a pointer: an SSA value under a context.
type Value struct {
	Ctx *context.Context
	Val ssa.Value
}

func (v Value) String() string {
	return fmt.Sprintf("(%s, %s)", v.Ctx, v.Val.Name())
}

// ProgramPoint is a def-use node under a context: the granularity of the
// taint memo.
type ProgramPoint struct {
	Ctx  *context.Context
	Node *defuse.Instruction
}

func (pp ProgramPoint) String() string {
	return fmt.Sprintf("%s@%s", pp.Node, pp.Ctx)
}

// FunctionContext identifies one activation in the taint call graph.
type FunctionContext struct {
	Ctx *context.Context
	Fn  *ssa.Function
}

// Env is the top-level taint map (context, value) -> lattice, monotone
// under join.
type Env struct {
	m map[Value]Lattice
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
	return &Env{m: make(map[Value]Lattice)}
}

// Lookup returns the taint of v; Unknown when unbound.
func (e *Env) Lookup(v Value) Lattice { return e.m[v] }

// WeakUpdate joins l into v's binding and reports growth.
func (e *Env) WeakUpdate(v Value, l Lattice) bool {
	old := e.m[v]
	merged := Merge(old, l)
	if merged == old {
		return false
	}
	e.m[v] = merged
	return true
}

// Size returns the number of bound values.
func (e *Env) Size() int { return len(e.m) }

// Bindings iterates all bindings; order unspecified.
func (e *Env) Bindings(f func(v Value, l Lattice)) {
	for v, l := range e.m {
		f(v, l)
	}
}

// Store is the memory-level taint map of one program point.
type Store struct {
	m map[*memory.Object]Lattice
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{m: make(map[*memory.Object]Lattice)}
}

// Lookup returns the taint stored at o; Unknown when unbound.
func (st *Store) Lookup(o *memory.Object) Lattice { return st.m[o] }

// StrongUpdate replaces o's binding and reports change. Sentinels never
// accept updates.
func (st *Store) StrongUpdate(o *memory.Object, l Lattice) bool {
	if o.IsSpecial() {
		return false
	}
	if st.m[o] == l {
		return false
	}
	st.m[o] = l
	return true
}

// WeakUpdate joins l into o's binding and reports growth.
func (st *Store) WeakUpdate(o *memory.Object, l Lattice) bool {
	if o.IsSpecial() {
		return false
	}
	old := st.m[o]
	merged := Merge(old, l)
	if merged == old {
		return false
	}
	st.m[o] = merged
	return true
}

// Size returns the number of bound objects.
func (st *Store) Size() int { return len(st.m) }

// Bindings iterates all bindings; order unspecified.
func (st *Store) Bindings(f func(o *memory.Object, l Lattice)) {
	for o, l := range st.m {
		f(o, l)
	}
}

// Memo maps program points to their taint stores, with per-object change
// detection so the engine only wakes readers whose view actually changed.
type Memo struct {
	m map[ProgramPoint]*Store
}

// NewMemo returns an empty memo.
func NewMemo() *Memo {
	return &Memo{m: make(map[ProgramPoint]*Store)}
}

// Lookup returns the store at pp, or nil.
func (mo *Memo) Lookup(pp ProgramPoint) *Store { return mo.m[pp] }

// LookupOrCreate returns the store at pp, creating an empty one on first
// touch.
func (mo *Memo) LookupOrCreate(pp ProgramPoint) *Store {
	st, ok := mo.m[pp]
	if !ok {
		st = NewStore()
		mo.m[pp] = st
	}
	return st
}

// Update joins l into the (pp, o) slot and reports growth.
func (mo *Memo) Update(pp ProgramPoint, o *memory.Object, l Lattice) bool {
	return mo.LookupOrCreate(pp).WeakUpdate(o, l)
}
