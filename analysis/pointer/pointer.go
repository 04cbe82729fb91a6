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
	"fmt"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"golang.org/x/tools/go/ssa"
)

// Pointer is the immutable pair (context, SSA value). Pointers are interned
// by the PointerManager; identity is reference equality.
type Pointer struct {
	ctx   *context.Context
	value ssa.Value
}

// Context returns the pointer's context.
func (p *Pointer) Context() *context.Context { return p.ctx }

// Value returns the pointer's SSA value.
func (p *Pointer) Value() ssa.Value { return p.value }

func (p *Pointer) String() string {
	return fmt.Sprintf("(%s, %s)", p.ctx, p.value.Name())
}

type ptrKey struct {
	ctx   *context.Context
	value ssa.Value
}

// PointerManager interns pointers and tracks, per SSA value, the contexts in
// which it has been observed.
type PointerManager struct {
	ptrs    map[ptrKey]*Pointer
	byValue map[ssa.Value][]*Pointer

	globalCtx *context.Context
	// collapseGlobals makes pointers to global-kind values context-free.
	collapseGlobals bool
}

// NewPointerManager returns a manager. When collapseGlobals is set, values
// of global kind (package variables, functions, free variables) are interned
// under the global context regardless of the requesting context.
func NewPointerManager(globalCtx *context.Context, collapseGlobals bool) *PointerManager {
	return &PointerManager{
		ptrs:            make(map[ptrKey]*Pointer),
		byValue:         make(map[ssa.Value][]*Pointer),
		globalCtx:       globalCtx,
		collapseGlobals: collapseGlobals,
	}
}

// isGlobalKind reports whether v is visible beyond a single activation:
// package variables and functions.
func isGlobalKind(v ssa.Value) bool {
	switch v.(type) {
	case *ssa.Global, *ssa.Function:
		return true
	}
	return false
}

// collapse applies the context rules for shared values: free variables
// always live in the global context (their binding site and their use sites
// run under unrelated contexts), global-kind values collapse when the flag
// says so.
func (pm *PointerManager) collapse(ctx *context.Context, v ssa.Value) *context.Context {
	if _, ok := v.(*ssa.FreeVar); ok {
		return pm.globalCtx
	}
	if pm.collapseGlobals && isGlobalKind(v) {
		return pm.globalCtx
	}
	return ctx
}

// GetOrCreatePointer interns the pointer for (ctx, v), applying the
// context-collapsing rules.
func (pm *PointerManager) GetOrCreatePointer(ctx *context.Context, v ssa.Value) *Pointer {
	ctx = pm.collapse(ctx, v)
	key := ptrKey{ctx: ctx, value: v}
	if p, ok := pm.ptrs[key]; ok {
		return p
	}
	p := &Pointer{ctx: ctx, value: v}
	pm.ptrs[key] = p
	pm.byValue[v] = append(pm.byValue[v], p)
	return p
}

// GetPointer returns the interned pointer for (ctx, v) or nil.
func (pm *PointerManager) GetPointer(ctx *context.Context, v ssa.Value) *Pointer {
	return pm.ptrs[ptrKey{ctx: pm.collapse(ctx, v), value: v}]
}

// GetPointersWithValue enumerates every context in which v has been
// observed, in interning order.
func (pm *PointerManager) GetPointersWithValue(v ssa.Value) []*Pointer {
	return pm.byValue[v]
}

// Size returns the number of interned pointers.
func (pm *PointerManager) Size() int { return len(pm.ptrs) }
