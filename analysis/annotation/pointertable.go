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

package annotation

import (
	"fmt"
	"os"
)

// PointerEffectKind discriminates the entries of the external pointer table.
type PointerEffectKind uint8

const (
	// EffectAlloc: the callee allocates fresh memory bound to a position.
	EffectAlloc PointerEffectKind = iota
	// EffectCopy: the callee copies pointer values between positions.
	EffectCopy
	// EffectExit: the callee does not return.
	EffectExit
	// EffectIgnore: the callee has no pointer effect.
	EffectIgnore
)

// PointerSpec is one side of a copy effect: a class and a position.
type PointerSpec struct {
	Class CopySource
	Pos   Position
}

// PointerEffect is one entry of an external function's pointer summary.
type PointerEffect struct {
	Kind PointerEffectKind

	// For EffectAlloc: the argument position carrying the allocation size.
	HasSizePos bool
	SizePos    Position

	// For EffectCopy.
	Src PointerSpec
	Dst PointerSpec
}

// PointerSummary is the ordered effect list of one external function.
type PointerSummary struct {
	Effects []PointerEffect
}

// IsExit reports whether any effect marks the function as non-returning.
func (s *PointerSummary) IsExit() bool {
	for _, e := range s.Effects {
		if e.Kind == EffectExit {
			return true
		}
	}
	return false
}

// PointerTable maps external function names to their pointer summaries.
type PointerTable struct {
	summaries map[string]*PointerSummary
}

// NewPointerTable returns an empty table.
func NewPointerTable() *PointerTable {
	return &PointerTable{summaries: make(map[string]*PointerSummary)}
}

// Lookup returns the summary for a function name.
func (t *PointerTable) Lookup(name string) (*PointerSummary, bool) {
	s, ok := t.summaries[name]
	return s, ok
}

// Size returns the number of summarized functions.
func (t *PointerTable) Size() int { return len(t.summaries) }

func (t *PointerTable) add(name string, e PointerEffect) {
	s, ok := t.summaries[name]
	if !ok {
		s = &PointerSummary{}
		t.summaries[name] = s
	}
	s.Effects = append(s.Effects, e)
}

// LoadPointerTable reads and parses an external pointer table file.
func LoadPointerTable(filename string) (*PointerTable, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read pointer table: %w", err)
	}
	return ParsePointerTable(filename, string(b))
}

// ParsePointerTable parses the content of an external pointer table.
//
// Grammar, one entry per line:
//
//	FUNC_NAME  ALLOC  SIZE_POSITION?
//	FUNC_NAME  COPY   SRC_SPEC  DST_SPEC
//	FUNC_NAME  EXIT
//	FUNC_NAME  IGNORE
//
// where a spec is a copy class followed by a position.
func ParsePointerTable(filename, content string) (*PointerTable, error) {
	table := NewPointerTable()
	err := forEachLine(filename, content, func(s *lineScanner) error {
		name, err := s.identifier()
		if err != nil {
			return err
		}
		kw, err := s.next()
		if err != nil {
			return err
		}
		switch kw.text {
		case "ALLOC":
			e := PointerEffect{Kind: EffectAlloc}
			if !s.done() {
				pos, err := s.position()
				if err != nil {
					return err
				}
				e.HasSizePos = true
				e.SizePos = pos
			}
			table.add(name, e)
		case "COPY":
			srcClass, err := s.copySource()
			if err != nil {
				return err
			}
			srcPos, err := s.position()
			if err != nil {
				return err
			}
			dstClass, err := s.copyDest()
			if err != nil {
				return err
			}
			dstPos, err := s.position()
			if err != nil {
				return err
			}
			table.add(name, PointerEffect{
				Kind: EffectCopy,
				Src:  PointerSpec{Class: srcClass, Pos: srcPos},
				Dst:  PointerSpec{Class: dstClass, Pos: dstPos},
			})
		case "EXIT":
			table.add(name, PointerEffect{Kind: EffectExit})
		case "IGNORE":
			table.add(name, PointerEffect{Kind: EffectIgnore})
		default:
			return s.errf(kw.col, "unknown pointer effect %q", kw.text)
		}
		return s.expectEnd()
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}
