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
	"sync/atomic"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"golang.org/x/tools/go/ssa"
)

// objectID hands out process-unique object ids. Uniqueness across managers
// keeps the shared points-to set pool sound when several analyzers run in
// one process; within one (single-threaded) analyzer the ids are still
// assigned in interning order.
var objectID atomic.Uint32

type siteKey struct {
	kind  AllocKind
	value ssa.Value
	ctx   *context.Context
}

type objKey struct {
	site   *AllocSite
	offset int64
}

// Manager owns the allocation-site and memory-object tables of one analyzer.
// Every entry lives until the analyzer is dropped; pointers into the tables
// are stable.
type Manager struct {
	typeMap *TypeMap

	sites   map[siteKey]*AllocSite
	objects map[objKey]*Object

	nullObj      *Object
	universalObj *Object
	argvObj      *Object
}

// NewManager returns a manager with the three sentinel objects interned.
func NewManager(typeMap *TypeMap) *Manager {
	m := &Manager{
		typeMap: typeMap,
		sites:   make(map[siteKey]*AllocSite),
		objects: make(map[objKey]*Object),
	}
	m.nullObj = m.sentinel(NullAlloc)
	m.universalObj = m.sentinel(UniversalAlloc)
	argvSite := &AllocSite{kind: ArgvAlloc, layout: typeMap.ByteArrayLayout(), summary: true}
	m.argvObj = m.internObject(argvSite, 0)
	return m
}

func (m *Manager) sentinel(kind AllocKind) *Object {
	site := &AllocSite{kind: kind, layout: m.typeMap.ByteArrayLayout()}
	return m.internObject(site, 0)
}

// TypeMap returns the layout cache the manager allocates against.
func (m *Manager) TypeMap() *TypeMap { return m.typeMap }

// NullObject returns the nil sentinel. It never accepts updates.
func (m *Manager) NullObject() *Object { return m.nullObj }

// UniversalObject returns the unknown-everything sentinel. It never accepts
// updates, but flows through it keep propagating.
func (m *Manager) UniversalObject() *Object { return m.universalObj }

// ArgvObject returns the sentinel backing the process argument surface.
func (m *Manager) ArgvObject() *Object { return m.argvObj }

// NumObjects returns the number of interned memory objects.
func (m *Manager) NumObjects() int { return len(m.objects) }

func (m *Manager) internSite(kind AllocKind, v ssa.Value, ctx *context.Context, layout *TypeLayout, summary bool) *AllocSite {
	key := siteKey{kind: kind, value: v, ctx: ctx}
	if s, ok := m.sites[key]; ok {
		return s
	}
	s := &AllocSite{kind: kind, value: v, ctx: ctx, layout: layout, summary: summary}
	m.sites[key] = s
	return s
}

func (m *Manager) internObject(site *AllocSite, offset int64) *Object {
	key := objKey{site: site, offset: offset}
	if o, ok := m.objects[key]; ok {
		return o
	}
	o := &Object{site: site, offset: offset, id: objectID.Add(1)}
	m.objects[key] = o
	return o
}

// AllocateStack interns the base object for a stack allocation in ctx.
func (m *Manager) AllocateStack(ctx *context.Context, v ssa.Value, layout *TypeLayout) *Object {
	return m.internObject(m.internSite(StackAlloc, v, ctx, layout, false), 0)
}

// AllocateHeap interns the base object for a heap allocation in ctx. Heap
// objects are summaries: one abstract cell stands for every runtime cell the
// site produces under that context.
func (m *Manager) AllocateHeap(ctx *context.Context, v ssa.Value, layout *TypeLayout) *Object {
	return m.internObject(m.internSite(HeapAlloc, v, ctx, layout, true), 0)
}

// AllocateGlobal interns the base object for a package-level variable.
// Globals live in the global context regardless of who touches them.
func (m *Manager) AllocateGlobal(g *ssa.Global, globalCtx *context.Context, layout *TypeLayout) *Object {
	return m.internObject(m.internSite(GlobalAlloc, g, globalCtx, layout, false), 0)
}

// AllocateFunction interns the object standing for a function value.
func (m *Manager) AllocateFunction(f *ssa.Function, globalCtx *context.Context) *Object {
	site := m.internSite(FunctionAlloc, f, globalCtx, m.typeMap.ByteArrayLayout(), false)
	return m.internObject(site, 0)
}

// Offset interns the object delta bytes past o. Offsetting a sentinel
// returns the same sentinel; offsets past the layout are clamped; offsets
// into an array layout collapse onto element zero.
func (m *Manager) Offset(o *Object, delta int64) *Object {
	if o.IsSpecial() {
		return o
	}
	if delta == 0 {
		return o
	}
	layout := o.site.layout
	off := o.offset + delta
	if stride := layout.ArrayStride(); stride > 0 {
		off %= stride
	}
	if off < 0 {
		off = 0
	}
	if layout.Size() > 0 && off >= layout.Size() {
		off = layout.Size() - 1
	}
	return m.internObject(o.site, off)
}

// ReachablePointerObjects enumerates the pointer-valued cells reachable from
// o's base by walking its layout. The walk is over the layout only, bounded
// by type structure.
func (m *Manager) ReachablePointerObjects(o *Object) []*Object {
	if o.IsSpecial() {
		return []*Object{o}
	}
	offsets := o.site.layout.PointerOffsets()
	out := make([]*Object, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, m.internObject(o.site, off))
	}
	return out
}

// ReachableMemoryObjects enumerates every cell reachable from o's base by
// walking its layout.
func (m *Manager) ReachableMemoryObjects(o *Object) []*Object {
	if o.IsSpecial() {
		return []*Object{o}
	}
	offsets := o.site.layout.FieldOffsets()
	out := make([]*Object, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, m.internObject(o.site, off))
	}
	return out
}

// SetSummary marks the site of an object as a summary site. Used when the
// context policy assigns k=0 allocation contexts to a site.
func (m *Manager) SetSummary(o *Object) {
	o.site.summary = true
}
