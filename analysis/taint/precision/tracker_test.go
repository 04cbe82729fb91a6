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

package precision

import (
	"io"
	"testing"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/defuse"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/taint"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/ssatest"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

const mergeSrc = `
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

const mergeTable = `
SOURCE main.getenv Ret V T
SOURCE main.clean  Ret V U
SINK   main.system Arg0 V
`

func runPipeline(t *testing.T, src, tableSrc string, policy context.Policy) (*taint.AnalysisResult, *ssa.Package) {
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
	table, err := annotation.ParseTaintTable("test", tableSrc)
	require.NoError(t, err)
	result, err := taint.Analyze(module, cfg, logger, table)
	require.NoError(t, err)
	return result, pkg
}

func testLogger() *config.LogGroup {
	l := config.NewLogGroup(config.NewDefault())
	l.SetAllOutput(io.Discard)
	return l
}

// An Either verdict at the sink walks back to a non-empty set of demanding
// call sites.
func TestTrackerFindsDemandingCallSites(t *testing.T) {
	result, pkg := runPipeline(t, mergeSrc, mergeTable, context.NewNoContext())
	require.Len(t, result.Violations, 1)
	require.Equal(t, taint.Either, result.Violations[0].Actual)

	demanders := TrackImprecision(result, testLogger())
	require.NotEmpty(t, demanders)

	mainCalls := map[ssa.Instruction]bool{}
	for _, c := range ssatest.FindCalls(pkg.Func("main")) {
		mainCalls[c] = true
	}
	// Every demander is one of the merging call sites.
	for _, pp := range demanders {
		require.True(t, mainCalls[pp.Node.Instr()], "unexpected demander %s", pp)
	}
	require.Len(t, demanders, 2)
}

// Raising k at exactly the demanding sites removes the imprecision: the
// verdict drops from Either to the precise Tainted.
func TestRefinementAtDemandersRestoresPrecision(t *testing.T) {
	coarse, _ := runPipeline(t, mergeSrc, mergeTable, context.NewNoContext())
	demanders := TrackImprecision(coarse, testLogger())
	require.NotEmpty(t, demanders)

	// A fresh pipeline run with a selective policy: default k=0 and k=1 at
	// the demanding sites only.
	ssaProg, pkg2 := ssatest.BuildPackage(t, mergeSrc)
	prog := pointer.BuildProgram(ssaProg, memory.NewTypeMap())
	policy := context.NewSelectiveKCFA(0)
	for _, c := range ssatest.FindCalls(pkg2.Func("main")) {
		policy.SetCallSiteLimit(c, 1)
	}

	cfg := config.NewDefault()
	logger := testLogger()
	res, err := pointer.RunWithPolicy(prog, policy, cfg, logger, nil)
	require.NoError(t, err)
	modref := defuse.ComputeModRef(res, nil, logger)
	module := defuse.BuildModule(res, modref, logger)
	table, err := annotation.ParseTaintTable("test", mergeTable)
	require.NoError(t, err)
	refined, err := taint.Analyze(module, cfg, logger, table)
	require.NoError(t, err)

	require.Len(t, refined.Violations, 1)
	require.Equal(t, taint.Tainted, refined.Violations[0].Actual)
}

// Precise violations produce no tracking work.
func TestTrackerIgnoresPreciseViolations(t *testing.T) {
	src := `
package main

func getenv() *byte
func system(p *byte)

func main() {
	system(getenv())
}
`
	table := "SOURCE main.getenv Ret V T\nSINK main.system Arg0 V\n"
	result, _ := runPipeline(t, src, table, context.NewKLimit(1))
	require.Len(t, result.Violations, 1)
	require.Equal(t, taint.Tainted, result.Violations[0].Actual)
	require.Empty(t, TrackImprecision(result, testLogger()))
}
