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

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"golang.org/x/tools/go/ssa"
)

// PreAnalysisQueries is the oracle an introspective policy consults. It is
// produced by a context-insensitive pointer pre-analysis; the pointer
// package provides the implementation.
type PreAnalysisQueries interface {
	// PointedByVarCount returns how many variables may point to memory
	// allocated at the site.
	PointedByVarCount(site ssa.Value) int
	// InFlow returns how many distinct values flow into the site's objects.
	InFlow(site ssa.Value) int
	// MaxFieldPointsTo returns the largest points-to set observed over the
	// fields of the site's objects.
	MaxFieldPointsTo(site ssa.Value) int
	// TotalPointsToVolume returns the cumulative points-to set size over
	// everything the call site touches.
	TotalPointsToVolume(site ssa.CallInstruction) int
	// VarFieldProduct returns pointed-by-variables x fields for the site.
	VarFieldProduct(site ssa.CallInstruction) int
}

// Introspective wraps a SelectiveKCFA whose per-site k values were decided
// by a context-insensitive pre-analysis: sites that pass the chosen
// heuristic keep the default k, all others get k=0.
//
// Heuristic A refines a site iff its pointed-by-variable count, in-flow and
// max field points-to are all at or below the configured K, L and M.
// Heuristic B refines a site iff its total points-to volume and
// variable-field product are at or below P and Q.
type Introspective struct {
	*SelectiveKCFA
	heuristic string
	refined   int
	total     int
}

// NewIntrospective builds the policy by scoring every call site and
// allocation site of the program against the pre-analysis oracle.
func NewIntrospective(fns []*ssa.Function, queries PreAnalysisQueries, cfg *config.Config) *Introspective {
	p := &Introspective{
		SelectiveKCFA: NewSelectiveKCFA(cfg.DefaultK),
		heuristic:     cfg.Introspection.Heuristic,
	}
	if p.heuristic == "" {
		p.heuristic = "A"
	}
	spec := cfg.Introspection
	for _, fn := range fns {
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				switch site := instr.(type) {
				case ssa.CallInstruction:
					p.total++
					if !p.refineCallSite(site, queries, spec) {
						p.SetCallSiteLimit(site, 0)
					} else {
						p.refined++
					}
				case *ssa.Alloc, *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan:
					v := site.(ssa.Value)
					if !p.refineAllocSite(v, queries, spec) {
						p.SetAllocSiteLimit(v, 0)
					}
				}
			}
		}
	}
	return p
}

func (p *Introspective) refineCallSite(site ssa.CallInstruction, q PreAnalysisQueries, spec config.IntrospectiveSpec) bool {
	if p.heuristic == "B" {
		return q.TotalPointsToVolume(site) <= spec.P && q.VarFieldProduct(site) <= spec.Q
	}
	// Heuristic A scores the value the call defines, if any.
	v, ok := site.(ssa.Value)
	if !ok {
		return true
	}
	return q.PointedByVarCount(v) <= spec.K &&
		q.InFlow(v) <= spec.L &&
		q.MaxFieldPointsTo(v) <= spec.M
}

func (p *Introspective) refineAllocSite(site ssa.Value, q PreAnalysisQueries, spec config.IntrospectiveSpec) bool {
	if p.heuristic == "B" {
		// Heuristic B is defined over call sites; allocation sites fall back
		// to heuristic A's per-value scores.
	}
	return q.PointedByVarCount(site) <= spec.K &&
		q.InFlow(site) <= spec.L &&
		q.MaxFieldPointsTo(site) <= spec.M
}

// Refined returns how many call sites passed the heuristic, out of the
// total scored.
func (p *Introspective) Refined() (refined, total int) { return p.refined, p.total }

func (p *Introspective) String() string {
	return fmt.Sprintf("introspective(%s, refined %d/%d sites)", p.heuristic, p.refined, p.total)
}
