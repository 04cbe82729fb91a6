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

// Env is the top-level binding map Pointer -> PtsSet. It is monotone: the
// set bound to a pointer only ever grows.
type Env struct {
	m map[*Pointer]*PtsSet
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
	return &Env{m: make(map[*Pointer]*PtsSet)}
}

// Lookup returns the set bound to p; the empty set when unbound.
func (e *Env) Lookup(p *Pointer) *PtsSet {
	if s, ok := e.m[p]; ok {
		return s
	}
	return EmptyPtsSet()
}

// WeakUpdate joins s into p's binding and reports whether it grew.
func (e *Env) WeakUpdate(p *Pointer, s *PtsSet) bool {
	old, ok := e.m[p]
	if !ok {
		if s.IsEmpty() {
			return false
		}
		e.m[p] = s
		return true
	}
	merged := old.Merge(s)
	if merged == old {
		return false
	}
	e.m[p] = merged
	return true
}

// Size returns the number of bound pointers.
func (e *Env) Size() int { return len(e.m) }

// Bindings iterates all bindings. Iteration order is unspecified; callers
// that need determinism sort the result.
func (e *Env) Bindings(f func(p *Pointer, s *PtsSet)) {
	for p, s := range e.m {
		f(p, s)
	}
}
