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

// Package context implements the calling-context abstraction: interned,
// immutable call-site strings with a pluggable push policy.
package context

import (
	"fmt"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// Context is a bounded sequence of call-site identities abstracting the
// calling stack. Contexts are interned by a Table: two contexts are equal iff
// their pointers are equal. The empty context is the global context.
type Context struct {
	parent *Context
	site   ssa.CallInstruction
	depth  int
}

// Depth returns the number of call sites in the context.
func (c *Context) Depth() int { return c.depth }

// Site returns the most recent call site; nil for the global context.
func (c *Context) Site() ssa.CallInstruction { return c.site }

// Parent returns the context with the most recent call site removed; nil for
// the global context.
func (c *Context) Parent() *Context { return c.parent }

// IsGlobal reports whether c is the global (empty) context.
func (c *Context) IsGlobal() bool { return c.depth == 0 }

func (c *Context) String() string {
	if c.IsGlobal() {
		return "[]"
	}
	var sites []string
	for cur := c; !cur.IsGlobal(); cur = cur.parent {
		pos := cur.site.Parent().Prog.Fset.Position(cur.site.Pos())
		sites = append(sites, fmt.Sprintf("%s@%s:%d", cur.site.Parent().Name(), pos.Filename, pos.Line))
	}
	// Oldest call site first.
	for i, j := 0, len(sites)-1; i < j; i, j = i+1, j-1 {
		sites[i], sites[j] = sites[j], sites[i]
	}
	return "[" + strings.Join(sites, " > ") + "]"
}

type ctxKey struct {
	parent *Context
	site   ssa.CallInstruction
}

// Table owns every context created during one analysis. Entries are never
// removed; pointers into the table are stable for the table's lifetime.
type Table struct {
	global   *Context
	children map[ctxKey]*Context
}

// NewTable returns a table holding only the global context.
func NewTable() *Table {
	return &Table{
		global:   &Context{},
		children: make(map[ctxKey]*Context),
	}
}

// Global returns the unique global context of this table.
func (t *Table) Global() *Context { return t.global }

// Size returns the number of contexts interned, the global one included.
func (t *Table) Size() int { return len(t.children) + 1 }

// push returns the interned extension of parent by site. This is the
// unbounded operation; policies apply their k-limits before calling it.
func (t *Table) push(parent *Context, site ssa.CallInstruction) *Context {
	key := ctxKey{parent: parent, site: site}
	if c, ok := t.children[key]; ok {
		return c
	}
	c := &Context{parent: parent, site: site, depth: parent.depth + 1}
	t.children[key] = c
	return c
}

// Depths returns the distribution of context depths in the table, indexed by
// depth. Used by the statistics reports.
func (t *Table) Depths() []int {
	maxDepth := 0
	for _, c := range t.children {
		if c.depth > maxDepth {
			maxDepth = c.depth
		}
	}
	dist := make([]int, maxDepth+1)
	dist[0] = 1
	for _, c := range t.children {
		dist[c.depth]++
	}
	return dist
}
