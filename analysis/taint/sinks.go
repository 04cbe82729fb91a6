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
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"golang.org/x/tools/go/ssa"
)

// checkSinks re-examines every recorded sink call with the stabilized memo
// and env. A checked argument violates when its taint is not at or below
// Untainted. Violations come out in sink-record insertion order.
func (e *Engine) checkSinks() []SinkViolation {
	var violations []SinkViolation
	for _, record := range e.sinks {
		call := record.PP.Node.Instr().(ssa.CallInstruction)
		for _, entry := range record.Summary.Sinks {
			for _, idx := range e.sinkArgIndices(call, entry.Pos) {
				actual := e.sinkArgTaint(record.PP, call.Common().Args[idx], entry.Class)
				if Leq(actual, Untainted) {
					continue
				}
				violations = append(violations, SinkViolation{
					PP:       record.PP,
					Callee:   record.Callee,
					ArgIndex: idx,
					Class:    entry.Class,
					Expected: Untainted,
					Actual:   actual,
				})
			}
		}
	}
	return violations
}

// sinkArgIndices expands a sink position into concrete argument indices,
// iterating the variadic tail for AfterArg positions.
func (e *Engine) sinkArgIndices(call ssa.CallInstruction, pos annotation.Position) []int {
	args := call.Common().Args
	if pos.IsAfterArg() {
		var out []int
		for i := pos.Index(); i < len(args); i++ {
			out = append(out, i)
		}
		return out
	}
	if pos.Index() >= len(args) {
		e.logger.Warnf("sink position %s out of range at %s; check skipped", pos, call)
		return nil
	}
	return []int{pos.Index()}
}

// sinkArgTaint computes one argument's taint under the sink entry's class,
// reading the memo at the sink's program point.
func (e *Engine) sinkArgTaint(pp ProgramPoint, arg ssa.Value, class annotation.Class) Lattice {
	switch class {
	case annotation.ValueOnly:
		return e.taintOf(pp.Ctx, arg)
	case annotation.DirectMemory:
		local := e.memo.Lookup(pp)
		if local == nil {
			e.logger.Warnf("no taint store at sink %s; reporting Unknown", pp)
			return Unknown
		}
		merged := Unknown
		for _, o := range e.pts(pp.Ctx, arg) {
			merged = Merge(merged, e.storeTaint(local, o))
		}
		return merged
	default:
		// Reachable-memory sinks are rejected at parse time; a summary
		// constructed by hand lands here and reads as Unknown, which the
		// checker never counts as a violation.
		e.logger.Warnf("reachable-memory sink class at %s not supported; reporting Unknown", pp)
		return Unknown
	}
}
