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
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
)

// Store is the memory-level binding map Object -> PtsSet. One Store value
// lives per program point in the engine's memo. Strong update replaces a
// binding; it is legal only for non-summary singleton destinations, which
// the transfer function checks. Sentinel objects never accept updates.
type Store struct {
	m map[*memory.Object]*PtsSet
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{m: make(map[*memory.Object]*PtsSet)}
}

// Lookup returns the set bound to o; the empty set when unbound.
func (st *Store) Lookup(o *memory.Object) *PtsSet {
	if s, ok := st.m[o]; ok {
		return s
	}
	return EmptyPtsSet()
}

// StrongUpdate replaces o's binding with s and reports whether it changed.
func (st *Store) StrongUpdate(o *memory.Object, s *PtsSet) bool {
	if o.IsSpecial() {
		return false
	}
	if old, ok := st.m[o]; ok && old == s {
		return false
	}
	st.m[o] = s
	return true
}

// WeakUpdate joins s into o's binding and reports whether it grew.
func (st *Store) WeakUpdate(o *memory.Object, s *PtsSet) bool {
	if o.IsSpecial() {
		return false
	}
	old, ok := st.m[o]
	if !ok {
		if s.IsEmpty() {
			return false
		}
		st.m[o] = s
		return true
	}
	merged := old.Merge(s)
	if merged == old {
		return false
	}
	st.m[o] = merged
	return true
}

// Clone returns an independent copy of the store.
func (st *Store) Clone() *Store {
	c := &Store{m: make(map[*memory.Object]*PtsSet, len(st.m))}
	for o, s := range st.m {
		c.m[o] = s
	}
	return c
}

// MergeWith joins every binding of other into st and reports whether any
// binding grew.
func (st *Store) MergeWith(other *Store) bool {
	changed := false
	for o, s := range other.m {
		if st.WeakUpdate(o, s) {
			changed = true
		}
	}
	return changed
}

// Size returns the number of bound objects.
func (st *Store) Size() int { return len(st.m) }

// Bindings iterates all bindings. Iteration order is unspecified.
func (st *Store) Bindings(f func(o *memory.Object, s *PtsSet)) {
	for o, s := range st.m {
		f(o, s)
	}
}
