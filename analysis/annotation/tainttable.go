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

// TaintEntryKind discriminates the entries of the external taint table.
type TaintEntryKind uint8

const (
	// EntrySource injects a lattice value at a position.
	EntrySource TaintEntryKind = iota
	// EntryPipe transfers taint from a source position to a destination
	// argument.
	EntryPipe
	// EntrySink marks arguments that must stay untainted.
	EntrySink
	// EntryIgnore marks the function as taint-neutral.
	EntryIgnore
)

// SourceEntry injects Val at Pos under Class.
type SourceEntry struct {
	Pos   Position
	Class Class
	Val   LatticeValue
}

// PipeEntry copies taint from (SrcPos, SrcClass) to (DstPos, DstClass).
// DstPos is always an argument position. When both classes are
// ReachableMemory the transfer is field-wise, memcpy-style.
type PipeEntry struct {
	SrcPos   Position
	SrcClass Class
	DstPos   Position
	DstClass Class
}

// SinkEntry checks the arguments designated by Pos under Class.
// ReachableMemory is not a valid sink class.
type SinkEntry struct {
	Pos   Position
	Class Class
}

// TaintSummary is the entry list of one external function.
type TaintSummary struct {
	Sources []SourceEntry
	Pipes   []PipeEntry
	Sinks   []SinkEntry
	Ignore  bool
}

// TaintTable maps external function names to taint summaries.
type TaintTable struct {
	summaries map[string]*TaintSummary
}

// NewTaintTable returns an empty table.
func NewTaintTable() *TaintTable {
	return &TaintTable{summaries: make(map[string]*TaintSummary)}
}

// Lookup returns the summary for a function name.
func (t *TaintTable) Lookup(name string) (*TaintSummary, bool) {
	s, ok := t.summaries[name]
	return s, ok
}

// Size returns the number of summarized functions.
func (t *TaintTable) Size() int { return len(t.summaries) }

func (t *TaintTable) summary(name string) *TaintSummary {
	s, ok := t.summaries[name]
	if !ok {
		s = &TaintSummary{}
		t.summaries[name] = s
	}
	return s
}

// LoadTaintTable reads and parses an external taint table file.
func LoadTaintTable(filename string) (*TaintTable, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read taint table: %w", err)
	}
	return ParseTaintTable(filename, string(b))
}

// ParseTaintTable parses the content of an external taint table.
//
// Grammar, one entry per line:
//
//	SOURCE <id> (Ret|Arg<i>|AfterArg<i>) (V|D|R) (T|U|E)
//	PIPE   <id> (Ret|Arg<i>|AfterArg<i>) (V|D|R) Arg<i> (V|D|R)
//	SINK   <id> (Arg<i>|AfterArg<i>)     (V|D)
//	IGNORE <id>
//
// An entry whose position is Ret with a class other than ValueOnly is
// silently coerced to ValueOnly: there is no memory slot behind a return
// position before the call completes.
func ParseTaintTable(filename, content string) (*TaintTable, error) {
	table := NewTaintTable()
	err := forEachLine(filename, content, func(s *lineScanner) error {
		kw, err := s.next()
		if err != nil {
			return err
		}
		switch kw.text {
		case "SOURCE":
			name, err := s.identifier()
			if err != nil {
				return err
			}
			pos, err := s.position()
			if err != nil {
				return err
			}
			class, err := s.class()
			if err != nil {
				return err
			}
			val, err := s.latticeValue()
			if err != nil {
				return err
			}
			if pos.IsReturn() && class != ValueOnly {
				class = ValueOnly
			}
			sum := table.summary(name)
			sum.Sources = append(sum.Sources, SourceEntry{Pos: pos, Class: class, Val: val})
		case "PIPE":
			name, err := s.identifier()
			if err != nil {
				return err
			}
			srcPos, err := s.position()
			if err != nil {
				return err
			}
			srcClass, err := s.class()
			if err != nil {
				return err
			}
			dstPos, err := s.argPosition()
			if err != nil {
				return err
			}
			dstClass, err := s.class()
			if err != nil {
				return err
			}
			if srcPos.IsReturn() && srcClass != ValueOnly {
				srcClass = ValueOnly
			}
			sum := table.summary(name)
			sum.Pipes = append(sum.Pipes, PipeEntry{
				SrcPos: srcPos, SrcClass: srcClass,
				DstPos: dstPos, DstClass: dstClass,
			})
		case "SINK":
			name, err := s.identifier()
			if err != nil {
				return err
			}
			pos, err := s.argPosition()
			if err != nil {
				return err
			}
			tok, err := s.peek()
			if err != nil {
				return err
			}
			class, err := s.class()
			if err != nil {
				return err
			}
			if class == ReachableMemory {
				return s.errf(tok.col, "ReachableMemory is not a valid sink class")
			}
			sum := table.summary(name)
			sum.Sinks = append(sum.Sinks, SinkEntry{Pos: pos, Class: class})
		case "IGNORE":
			name, err := s.identifier()
			if err != nil {
				return err
			}
			table.summary(name).Ignore = true
		default:
			return s.errf(kw.col, "unknown taint entry kind %q", kw.text)
		}
		return s.expectEnd()
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}
