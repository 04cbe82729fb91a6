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

// Built-in tables for the parts of the standard library that show up in
// nearly every analyzed program. Function keys use ssa.Function.String()
// notation. A user table loaded from file is merged over these; file entries
// win.

const defaultPointerTable = `
# Runtime and reflection entry points the engines cannot analyze.
runtime.makemap        ALLOC
runtime.makechan       ALLOC
os.Getenv              ALLOC
os.Environ             ALLOC
os.ReadFile            ALLOC
io.ReadAll             ALLOC
fmt.Sprintf            ALLOC
fmt.Sprint             ALLOC
fmt.Sprintln           ALLOC
fmt.Errorf             ALLOC
strings.Clone          COPY DirectMem Arg0 DirectMem Ret
errors.New             ALLOC
os.Exit                EXIT
runtime.Goexit         EXIT
fmt.Println            IGNORE
fmt.Printf             IGNORE
fmt.Print              IGNORE
append                 COPY ReachMem Arg1 ReachMem Arg0
copy                   COPY ReachMem Arg1 ReachMem Arg0
`

const defaultModRefTable = `
copy            MOD Arg0
copy            REF Arg1
append          MOD Arg0
append          REF Arg1
os.ReadFile     REF Arg0
io.ReadAll      REF Arg0 REACH
fmt.Sscanf      REF Arg0
fmt.Sscanf      MOD AfterArg2 REACH
`

const defaultTaintTable = `
# Sources: data crossing the process boundary is attacker-controlled.
SOURCE os.Getenv            Ret V T
SOURCE os.Environ           Ret V T
SOURCE os.ReadFile          Ret V T
SOURCE io.ReadAll           Ret V T
SOURCE bufio.NewReader      Ret V U
SOURCE flag.String          Ret D T
SOURCE net/http.Get         Ret V T

# Pipes: pure data plumbing.
PIPE copy            Arg1 R Arg0 R

# Sinks: command execution and query surfaces.
SINK os/exec.Command         AfterArg0 V
SINK os/exec.CommandContext  AfterArg1 V
SINK syscall.Exec            Arg0 V

IGNORE fmt.Println
IGNORE fmt.Printf
IGNORE print
IGNORE println
IGNORE len
IGNORE cap
`

// DefaultPointerTable returns the built-in pointer table.
func DefaultPointerTable() *PointerTable {
	t, err := ParsePointerTable("<builtin>", defaultPointerTable)
	if err != nil {
		panic("builtin pointer table does not parse: " + err.Error())
	}
	return t
}

// DefaultModRefTable returns the built-in mod-ref table.
func DefaultModRefTable() *ModRefTable {
	t, err := ParseModRefTable("<builtin>", defaultModRefTable)
	if err != nil {
		panic("builtin mod-ref table does not parse: " + err.Error())
	}
	return t
}

// DefaultTaintTable returns the built-in taint table.
func DefaultTaintTable() *TaintTable {
	t, err := ParseTaintTable("<builtin>", defaultTaintTable)
	if err != nil {
		panic("builtin taint table does not parse: " + err.Error())
	}
	return t
}

// Merge adds every summary of other into t, overriding same-name entries.
func (t *PointerTable) Merge(other *PointerTable) {
	for name, s := range other.summaries {
		t.summaries[name] = s
	}
}

// Merge adds every summary of other into t, overriding same-name entries.
func (t *ModRefTable) Merge(other *ModRefTable) {
	for name, s := range other.summaries {
		t.summaries[name] = s
	}
}

// Merge adds every summary of other into t, overriding same-name entries.
func (t *TaintTable) Merge(other *TaintTable) {
	for name, s := range other.summaries {
		t.summaries[name] = s
	}
}
