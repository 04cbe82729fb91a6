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
	"sort"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"golang.org/x/tools/go/ssa"
)

// SelectiveKCFA assigns a k value per call site and per allocation site,
// with a default for unlisted sites. Site limits come from the config
// (callee-name patterns, per-function lists) or from the shape heuristics.
type SelectiveKCFA struct {
	table      *Table
	defaultK   int
	callSiteK  map[ssa.CallInstruction]int
	allocSiteK map[ssa.Value]int
}

// NewSelectiveKCFA returns a selective policy with the given default k over
// a fresh table.
func NewSelectiveKCFA(defaultK int) *SelectiveKCFA {
	return &SelectiveKCFA{
		table:      NewTable(),
		defaultK:   defaultK,
		callSiteK:  make(map[ssa.CallInstruction]int),
		allocSiteK: make(map[ssa.Value]int),
	}
}

// DefaultK returns the k used for sites with no specific assignment.
func (p *SelectiveKCFA) DefaultK() int { return p.defaultK }

// SetCallSiteLimit assigns a k value to one call site.
func (p *SelectiveKCFA) SetCallSiteLimit(site ssa.CallInstruction, k int) {
	p.callSiteK[site] = k
}

// SetAllocSiteLimit assigns a k value to one allocation site.
func (p *SelectiveKCFA) SetAllocSiteLimit(site ssa.Value, k int) {
	p.allocSiteK[site] = k
}

// CallSiteLimit returns the effective k for a call site.
func (p *SelectiveKCFA) CallSiteLimit(site ssa.CallInstruction) int {
	if k, ok := p.callSiteK[site]; ok {
		return k
	}
	return p.defaultK
}

// AllocSiteLimit returns the effective k for an allocation site.
func (p *SelectiveKCFA) AllocSiteLimit(site ssa.Value) int {
	if k, ok := p.allocSiteK[site]; ok {
		return k
	}
	return p.defaultK
}

// Push reads the effective k for the site, then applies the k-limit rule.
func (p *SelectiveKCFA) Push(parent *Context, site ssa.CallInstruction) *Context {
	k := p.CallSiteLimit(site)
	if k == 0 {
		return p.table.global
	}
	if parent.Depth() >= k {
		return parent
	}
	return p.table.push(parent, site)
}

// Table returns the interning table backing the policy.
func (p *SelectiveKCFA) Table() *Table { return p.table }

func (p *SelectiveKCFA) String() string {
	return fmt.Sprintf("selective-kcfa(default=%d, call-sites=%d, alloc-sites=%d)",
		p.defaultK, len(p.callSiteK), len(p.allocSiteK))
}

// SetKLimitForFunctionCallSites assigns k to every call site inside fn.
func (p *SelectiveKCFA) SetKLimitForFunctionCallSites(fn *ssa.Function, k int) {
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if call, ok := instr.(ssa.CallInstruction); ok {
				p.SetCallSiteLimit(call, k)
			}
		}
	}
}

// SetKLimitForFunctionAllocSites assigns k to every allocation site inside fn.
func (p *SelectiveKCFA) SetKLimitForFunctionAllocSites(fn *ssa.Function, k int) {
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			switch v := instr.(type) {
			case *ssa.Alloc, *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan, *ssa.MakeClosure:
				p.SetAllocSiteLimit(v.(ssa.Value), k)
			}
		}
	}
}

// SetKLimitForCallSitesByName assigns k to every call site in the program
// whose static callee name matches the config's compiled pattern.
func (p *SelectiveKCFA) SetKLimitForCallSitesByName(fns []*ssa.Function, cfg *config.Config) {
	for _, fn := range fns {
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				callee := call.Common().StaticCallee()
				if callee == nil {
					continue
				}
				if k, ok := cfg.MatchCalleePattern(callee.String()); ok {
					p.SetCallSiteLimit(call, k)
				}
			}
		}
	}
}

// Configure applies the config's selective-kcfa section: the per-function
// lists, the callee-name patterns, and (when enabled) the shape heuristics.
func (p *SelectiveKCFA) Configure(fns []*ssa.Function, cfg *config.Config) {
	spec := cfg.SelectiveSites
	byName := make(map[string]*ssa.Function, len(fns))
	for _, fn := range fns {
		byName[fn.String()] = fn
	}
	for _, fspec := range spec.Functions {
		if fn, ok := byName[fspec.Function]; ok {
			p.SetKLimitForFunctionCallSites(fn, fspec.K)
		}
	}
	p.SetKLimitForCallSitesByName(fns, cfg)
	if spec.UseHeuristics {
		p.configureFromHeuristics(fns, spec)
	}
}

// configureFromHeuristics assigns k=0 to the call sites of functions that
// are large, allocation-dense, or called from many sites. Precision there is
// expensive and rarely pays for itself.
func (p *SelectiveKCFA) configureFromHeuristics(fns []*ssa.Function, spec config.SelectiveSpec) {
	largeCutoff := spec.LargeFunctionCutoff
	if largeCutoff == 0 {
		largeCutoff = 500
	}
	densityCutoff := spec.AllocDensityCutoff
	if densityCutoff == 0 {
		densityCutoff = 10
	}
	freqCutoff := spec.CallFrequencyCutoff
	if freqCutoff == 0 {
		freqCutoff = 100
	}

	callerCount := make(map[*ssa.Function]int)
	for _, fn := range fns {
		instrs, allocs := 0, 0
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				instrs++
				switch instr.(type) {
				case *ssa.Alloc, *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan, *ssa.MakeClosure:
					allocs++
				}
				if call, ok := instr.(ssa.CallInstruction); ok {
					if callee := call.Common().StaticCallee(); callee != nil {
						callerCount[callee]++
					}
				}
			}
		}
		if instrs > largeCutoff || (instrs > 0 && allocs*100/instrs > densityCutoff) {
			p.SetKLimitForFunctionCallSites(fn, 0)
			p.SetKLimitForFunctionAllocSites(fn, 0)
		}
	}
	for fn, count := range callerCount {
		if count > freqCutoff {
			p.SetKLimitForFunctionCallSites(fn, 0)
		}
	}
}

// Stats returns a human-readable summary of the site configuration: the
// default k and the distribution of assigned k values.
func (p *SelectiveKCFA) Stats() string {
	dist := make(map[int]int)
	for _, k := range p.callSiteK {
		dist[k]++
	}
	ks := make([]int, 0, len(dist))
	for k := range dist {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	out := fmt.Sprintf("SelectiveKCFA: default k=%d, %d call sites, %d alloc sites customized\n",
		p.defaultK, len(p.callSiteK), len(p.allocSiteK))
	for _, k := range ks {
		out += fmt.Sprintf("  k=%d: %d call sites\n", k, dist[k])
	}
	return out
}
