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

// Package pointer implements the flow- and context-sensitive semi-sparse
// points-to analysis: pointer identities, hash-consed points-to sets, the
// reduced memory-affecting program representation, the transfer function and
// the worklist fixpoint engine.
package pointer

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/puzpuzpuz/xsync/v3"
)

// PtsSet is an immutable sorted set of memory objects. Sets are hash-consed
// in a process-wide pool, so pointer equality implies set equality. The pool
// is shared between analyzer instances and safe for concurrent use.
type PtsSet struct {
	objs []*memory.Object
}

var (
	emptyPtsSet = &PtsSet{}
	ptsPool     = xsync.NewMapOf[string, *PtsSet]()
)

// EmptyPtsSet returns the distinguished empty set.
func EmptyPtsSet() *PtsSet { return emptyPtsSet }

// canonKey builds the pool key from the sorted object ids.
func canonKey(objs []*memory.Object) string {
	var b strings.Builder
	b.Grow(len(objs) * 4)
	var buf [4]byte
	for _, o := range objs {
		binary.LittleEndian.PutUint32(buf[:], o.ID())
		b.Write(buf[:])
	}
	return b.String()
}

// intern returns the pooled set for a sorted, duplicate-free object slice.
func intern(objs []*memory.Object) *PtsSet {
	if len(objs) == 0 {
		return emptyPtsSet
	}
	key := canonKey(objs)
	if s, ok := ptsPool.Load(key); ok {
		return s
	}
	s, _ := ptsPool.LoadOrStore(key, &PtsSet{objs: objs})
	return s
}

// SingletonPtsSet returns the set holding exactly o.
func SingletonPtsSet(o *memory.Object) *PtsSet {
	return intern([]*memory.Object{o})
}

// Size returns the number of objects in the set.
func (s *PtsSet) Size() int { return len(s.objs) }

// IsEmpty reports whether the set is the empty set.
func (s *PtsSet) IsEmpty() bool { return len(s.objs) == 0 }

// Objects returns the objects in canonical (id) order. The slice is owned by
// the pool and must not be mutated.
func (s *PtsSet) Objects() []*memory.Object { return s.objs }

// Contains reports whether o is in the set.
func (s *PtsSet) Contains(o *memory.Object) bool {
	i := sort.Search(len(s.objs), func(i int) bool { return s.objs[i].ID() >= o.ID() })
	return i < len(s.objs) && s.objs[i] == o
}

// Insert returns the set extended with o; s itself when o is already there.
func (s *PtsSet) Insert(o *memory.Object) *PtsSet {
	if s.Contains(o) {
		return s
	}
	objs := make([]*memory.Object, 0, len(s.objs)+1)
	objs = append(objs, s.objs...)
	objs = append(objs, o)
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID() < objs[j].ID() })
	return intern(objs)
}

// Merge returns the union of s and t; it returns one of its operands when
// the union equals it.
func (s *PtsSet) Merge(t *PtsSet) *PtsSet {
	if s == t || t.IsEmpty() {
		return s
	}
	if s.IsEmpty() {
		return t
	}
	merged := make([]*memory.Object, 0, len(s.objs)+len(t.objs))
	i, j := 0, 0
	for i < len(s.objs) && j < len(t.objs) {
		a, b := s.objs[i], t.objs[j]
		switch {
		case a.ID() < b.ID():
			merged = append(merged, a)
			i++
		case a.ID() > b.ID():
			merged = append(merged, b)
			j++
		default:
			merged = append(merged, a)
			i++
			j++
		}
	}
	merged = append(merged, s.objs[i:]...)
	merged = append(merged, t.objs[j:]...)
	if len(merged) == len(s.objs) {
		return s
	}
	if len(merged) == len(t.objs) {
		return t
	}
	return intern(merged)
}

// MergeAllPtsSets returns the union of every set in the slice.
func MergeAllPtsSets(sets []*PtsSet) *PtsSet {
	out := emptyPtsSet
	for _, s := range sets {
		out = out.Merge(s)
	}
	return out
}

func (s *PtsSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, o := range s.objs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(o.String())
	}
	b.WriteByte('}')
	return b.String()
}
