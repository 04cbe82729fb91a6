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
	"fmt"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"golang.org/x/tools/go/ssa"
)

// AllocKind tags the variants of an allocation site.
type AllocKind uint8

const (
	// StackAlloc: a local ssa.Alloc that does not escape to the heap.
	StackAlloc AllocKind = iota
	// HeapAlloc: a heap ssa.Alloc, make-family instruction, or an external
	// allocation effect.
	HeapAlloc
	// GlobalAlloc: a package-level ssa.Global.
	GlobalAlloc
	// FunctionAlloc: the object standing for a function value.
	FunctionAlloc
	// ArgvAlloc: the sentinel backing the process argument/environment
	// surface (os.Args and friends).
	ArgvAlloc
	// NullAlloc: the nil sentinel.
	NullAlloc
	// UniversalAlloc: the unknown-everything sentinel.
	UniversalAlloc
)

func (k AllocKind) String() string {
	switch k {
	case StackAlloc:
		return "stack"
	case HeapAlloc:
		return "heap"
	case GlobalAlloc:
		return "global"
	case FunctionAlloc:
		return "func"
	case ArgvAlloc:
		return "argv"
	case NullAlloc:
		return "null"
	default:
		return "universal"
	}
}

// AllocSite is the abstract program location that produced a memory object.
// Sites are interned by the Manager; identity is pointer identity.
type AllocSite struct {
	kind    AllocKind
	value   ssa.Value // allocation instruction, global, or function; nil for sentinels
	ctx     *context.Context
	layout  *TypeLayout
	summary bool
}

// Kind returns the site's variant tag.
func (s *AllocSite) Kind() AllocKind { return s.kind }

// Value returns the IR value that identifies the site; nil for sentinels.
func (s *AllocSite) Value() ssa.Value { return s.value }

// Context returns the allocation context.
func (s *AllocSite) Context() *context.Context { return s.ctx }

// Layout returns the site's type layout.
func (s *AllocSite) Layout() *TypeLayout { return s.layout }

// IsSpecial reports whether the site is a null/universal sentinel.
func (s *AllocSite) IsSpecial() bool {
	return s.kind == NullAlloc || s.kind == UniversalAlloc
}

func (s *AllocSite) String() string {
	if s.value == nil {
		return s.kind.String()
	}
	return fmt.Sprintf("%s(%s)", s.kind, s.value.Name())
}

// Object is a fine-grained abstract memory cell: an allocation site plus a
// byte offset into its layout. Objects are interned by the Manager; two
// objects are equal iff their pointers are equal. A summary object stands
// for more than one runtime cell and never accepts strong updates.
type Object struct {
	site   *AllocSite
	offset int64
	id     uint32
}

// Site returns the allocation site.
func (o *Object) Site() *AllocSite { return o.site }

// Offset returns the byte offset from the site's base.
func (o *Object) Offset() int64 { return o.offset }

// ID returns the object's interning order, used as the canonical sort key of
// points-to sets.
func (o *Object) ID() uint32 { return o.id }

// IsSpecial reports whether the object is the null or universal sentinel.
func (o *Object) IsSpecial() bool { return o.site.IsSpecial() }

// IsNull reports whether the object is the null sentinel.
func (o *Object) IsNull() bool { return o.site.kind == NullAlloc }

// IsUniversal reports whether the object is the universal sentinel.
func (o *Object) IsUniversal() bool { return o.site.kind == UniversalAlloc }

// IsSummary reports whether the object stands for more than one runtime
// cell: heap cells, argv cells, collapsed array elements, and cells from
// sites the policy assigned k=0 allocation contexts.
func (o *Object) IsSummary() bool {
	return !o.site.IsSpecial() && (o.site.summary || o.site.layout.IsArray())
}

func (o *Object) String() string {
	if o.offset == 0 {
		return o.site.String()
	}
	return fmt.Sprintf("%s+%d", o.site, o.offset)
}
