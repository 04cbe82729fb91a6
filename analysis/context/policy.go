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
	"fmt"

	"golang.org/x/tools/go/ssa"
)

// Policy is the single operation the engines need from the context
// abstraction: extend a caller context with a call site. Push happens only at
// call instructions; a Context is a call-site stack and nothing else extends
// it. Push is deterministic: the same (policy, parent, site) inputs always
// return the same interned context, and the result never exceeds the
// policy's depth limit.
type Policy interface {
	// Push returns the callee context for a call at site under parent.
	Push(parent *Context, site ssa.CallInstruction) *Context

	// Table returns the interning table backing the policy.
	Table() *Table

	String() string
}

// AllocLimiter is implemented by policies that assign per-allocation-site
// k values. The memory manager treats objects from k=0 sites as summaries.
type AllocLimiter interface {
	AllocSiteLimit(site ssa.Value) int
}

// NoContext is the context-insensitive policy: every push returns the global
// context.
type NoContext struct {
	table *Table
}

// NewNoContext returns the context-insensitive policy over a fresh table.
func NewNoContext() *NoContext {
	return &NoContext{table: NewTable()}
}

// Push returns the global context.
func (p *NoContext) Push(*Context, ssa.CallInstruction) *Context {
	return p.table.global
}

// Table returns the interning table backing the policy.
func (p *NoContext) Table() *Table { return p.table }

func (p *NoContext) String() string { return "no-context" }

// KLimit is the uniform k-limited policy: a push below depth k appends the
// call site, a push at depth k returns the parent unchanged, merging paths.
type KLimit struct {
	table *Table
	k     int
}

// NewKLimit returns the uniform k-limit policy over a fresh table.
func NewKLimit(k int) *KLimit {
	return &KLimit{table: NewTable(), k: k}
}

// K returns the depth limit.
func (p *KLimit) K() int { return p.k }

// Push appends site if the parent is below the k-limit, otherwise returns
// the parent unchanged. With k=0 every context is the global context.
func (p *KLimit) Push(parent *Context, site ssa.CallInstruction) *Context {
	if p.k == 0 {
		return p.table.global
	}
	if parent.Depth() >= p.k {
		return parent
	}
	return p.table.push(parent, site)
}

// Table returns the interning table backing the policy.
func (p *KLimit) Table() *Table { return p.table }

func (p *KLimit) String() string { return fmt.Sprintf("uniform-k(%d)", p.k) }
