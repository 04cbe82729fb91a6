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
	"io"
	"testing"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/defuse"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/ssatest"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

func runTaint(t *testing.T, src, taintTable string, policy context.Policy) (*AnalysisResult, *ssa.Package) {
	t.Helper()
	ssaProg, pkg := ssatest.BuildPackage(t, src)
	prog := pointer.BuildProgram(ssaProg, memory.NewTypeMap())
	cfg := config.NewDefault()
	logger := config.NewLogGroup(cfg)
	logger.SetAllOutput(io.Discard)
	res, err := pointer.RunWithPolicy(prog, policy, cfg, logger, nil)
	require.NoError(t, err)
	modref := defuse.ComputeModRef(res, nil, logger)
	module := defuse.BuildModule(res, modref, logger)
	table, err := annotation.ParseTaintTable("test", taintTable)
	require.NoError(t, err)
	result, err := Analyze(module, cfg, logger, table)
	require.NoError(t, err)
	return result, pkg
}

func TestLattice(t *testing.T) {
	require.Equal(t, Tainted, Merge(Unknown, Tainted))
	require.Equal(t, Either, Merge(Tainted, Untainted))
	require.Equal(t, Either, Merge(Either, Untainted))
	require.Equal(t, Untainted, Merge(Untainted, Untainted))

	require.True(t, Leq(Unknown, Tainted))
	require.True(t, Leq(Untainted, Either))
	require.True(t, Leq(Unknown, Untainted))
	require.False(t, Leq(Tainted, Untainted))
	require.False(t, Leq(Either, Untainted))
}

const sourceSinkSrc = `
package main

func getenv() *byte
func system(p *byte)

func main() {
	t := getenv()
	system(t)
}
`

const sourceSinkTable = `
SOURCE main.getenv Ret V T
SINK   main.system Arg0 V
`

// A source flowing straight into a sink is one violation with the precise
// Tainted verdict.
func TestSourceToSink(t *testing.T) {
	result, pkg := runTaint(t, sourceSinkSrc, sourceSinkTable, context.NewKLimit(1))

	calls := ssatest.FindCalls(pkg.Func("main"))
	require.Len(t, calls, 2)
	envVal := result.Env.Lookup(Value{Ctx: result.Pointer.Policy.Table().Global(), Val: calls[0]})
	require.Equal(t, Tainted, envVal)

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	require.Equal(t, 0, v.ArgIndex)
	require.Equal(t, Untainted, v.Expected)
	require.Equal(t, Tainted, v.Actual)
}

// Every call to an annotated sink produces a sink record, violating or not.
func TestSinkCompleteness(t *testing.T) {
	src := `
package main

func getenv() *byte
func system(p *byte)

func main() {
	system(nil)
	system(getenv())
}
`
	result, _ := runTaint(t, src, sourceSinkTable, context.NewKLimit(1))
	require.Len(t, result.Sinks, 2)
	require.Len(t, result.Violations, 1)
}

// An untainted argument at a sink is no violation.
func TestCleanSink(t *testing.T) {
	src := `
package main

func system(p *byte)

func main() {
	var b byte
	system(&b)
}
`
	result, _ := runTaint(t, src, "SINK main.system Arg0 V\n", context.NewKLimit(1))
	require.Len(t, result.Sinks, 1)
	require.Empty(t, result.Violations)
}

// Taint flows through the memory a store writes and a load reads.
func TestTaintThroughMemory(t *testing.T) {
	src := `
package main

func getenv() *byte
func system(p *byte)

func main() {
	var slot *byte
	cell := &slot
	*cell = getenv()
	v := *cell
	system(v)
}
`
	result, _ := runTaint(t, src, sourceSinkTable, context.NewKLimit(1))
	require.Len(t, result.Violations, 1)
	require.Equal(t, Tainted, result.Violations[0].Actual)
}

// A direct-memory sink reads the pointee's taint from the memo.
func TestDirectMemorySink(t *testing.T) {
	src := `
package main

func taintbuf(p *byte)
func use(p *byte)

func main() {
	var b byte
	p := &b
	taintbuf(p)
	use(p)
}
`
	table := `
SOURCE main.taintbuf Arg0 D T
SINK   main.use Arg0 D
`
	result, _ := runTaint(t, src, table, context.NewKLimit(1))
	require.Len(t, result.Violations, 1)
	require.Equal(t, annotation.DirectMemory, result.Violations[0].Class)
	require.Equal(t, Tainted, result.Violations[0].Actual)
}

// A pipe transfers taint from its source position to its destination.
func TestPipeTransfer(t *testing.T) {
	src := `
package main

func getenv() *byte
func pass(dst **byte, src *byte)
func system(p *byte)

func main() {
	var out *byte
	pass(&out, getenv())
	system(out)
}
`
	table := `
SOURCE main.getenv Ret V T
PIPE   main.pass Arg1 V Arg0 D
SINK   main.system Arg0 V
`
	result, _ := runTaint(t, src, table, context.NewKLimit(1))
	require.Len(t, result.Violations, 1)
	require.Equal(t, Tainted, result.Violations[0].Actual)
}

// Merging a tainted and an untainted activation under k=0 loses precision:
// the sink sees Either. Under k=1 the verdict stays precise.
func TestContextSensitivityAtSink(t *testing.T) {
	src := `
package main

func getenv() *byte
func clean() *byte
func system(p *byte)

func use(p *byte) {
	system(p)
}

func main() {
	use(getenv())
	use(clean())
}
`
	table := `
SOURCE main.getenv Ret V T
SOURCE main.clean  Ret V U
SINK   main.system Arg0 V
`
	k0, _ := runTaint(t, src, table, context.NewNoContext())
	require.Len(t, k0.Violations, 1)
	require.Equal(t, Either, k0.Violations[0].Actual)

	k1, _ := runTaint(t, src, table, context.NewKLimit(1))
	require.Len(t, k1.Violations, 1)
	require.Equal(t, Tainted, k1.Violations[0].Actual)
}

// Ignored externals and unannotated externals leave values untainted.
func TestIgnoredExternal(t *testing.T) {
	src := `
package main

func mystery() *byte
func system(p *byte)

func main() {
	system(mystery())
}
`
	result, _ := runTaint(t, src, "IGNORE main.mystery\nSINK main.system Arg0 V\n", context.NewKLimit(1))
	require.Len(t, result.Sinks, 1)
	require.Empty(t, result.Violations)
}
