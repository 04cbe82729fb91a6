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

// ModRefKind says whether an external effect reads or writes memory.
type ModRefKind uint8

const (
	// EffectMod: the position's memory is written.
	EffectMod ModRefKind = iota
	// EffectRef: the position's memory is read.
	EffectRef
)

// ModRefEffect is one mod/ref entry of an external function.
type ModRefEffect struct {
	Kind ModRefKind
	Pos  Position
	// Reach widens the effect from direct memory to reachable memory.
	Reach bool
}

// ModRefSummary is the effect list of one external function.
type ModRefSummary struct {
	Effects []ModRefEffect
}

// ModRefTable maps external function names to mod/ref summaries.
type ModRefTable struct {
	summaries map[string]*ModRefSummary
}

// NewModRefTable returns an empty table.
func NewModRefTable() *ModRefTable {
	return &ModRefTable{summaries: make(map[string]*ModRefSummary)}
}

// Lookup returns the summary for a function name.
func (t *ModRefTable) Lookup(name string) (*ModRefSummary, bool) {
	s, ok := t.summaries[name]
	return s, ok
}

// Size returns the number of summarized functions.
func (t *ModRefTable) Size() int { return len(t.summaries) }

func (t *ModRefTable) add(name string, e ModRefEffect) {
	s, ok := t.summaries[name]
	if !ok {
		s = &ModRefSummary{}
		t.summaries[name] = s
	}
	s.Effects = append(s.Effects, e)
}

// LoadModRefTable reads and parses an external mod-ref table file.
func LoadModRefTable(filename string) (*ModRefTable, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read mod-ref table: %w", err)
	}
	return ParseModRefTable(filename, string(b))
}

// ParseModRefTable parses the content of an external mod-ref table.
//
// Grammar, one entry per line:
//
//	FUNC_NAME  MOD  POSITION  REACH?
//	FUNC_NAME  REF  POSITION  REACH?
func ParseModRefTable(filename, content string) (*ModRefTable, error) {
	table := NewModRefTable()
	err := forEachLine(filename, content, func(s *lineScanner) error {
		name, err := s.identifier()
		if err != nil {
			return err
		}
		kw, err := s.next()
		if err != nil {
			return err
		}
		var kind ModRefKind
		switch kw.text {
		case "MOD":
			kind = EffectMod
		case "REF":
			kind = EffectRef
		default:
			return s.errf(kw.col, "expected MOD or REF, got %q", kw.text)
		}
		pos, err := s.position()
		if err != nil {
			return err
		}
		e := ModRefEffect{Kind: kind, Pos: pos}
		if !s.done() {
			t, err := s.next()
			if err != nil {
				return err
			}
			if t.text != "REACH" {
				return s.errf(t.col, "expected REACH, got %q", t.text)
			}
			e.Reach = true
		}
		table.add(name, e)
		return s.expectEnd()
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}
