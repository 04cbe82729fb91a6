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

// sparrow is the combined driver: it runs the whole pointer-taint pipeline
// and writes the report dumps (statistics, points-to projection, sink
// report) in one invocation.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/taint"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/formatutil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ssa"
)

var (
	flagConfig     string
	flagPolicy     string
	flagK          int
	flagLogLevel   int
	flagDumpReport bool
	flagReportsDir string
)

func main() {
	cmd := &cobra.Command{
		Use:   "sparrow package...",
		Short: "Whole-program pointer and taint analysis with reports",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}
	cmd.Flags().StringVar(&flagConfig, "config", "", "yaml config file")
	cmd.Flags().StringVar(&flagPolicy, "context-policy", string(config.UniformKPolicy), "context policy")
	cmd.Flags().IntVar(&flagK, "k", 1, "default k limit")
	cmd.Flags().IntVar(&flagLogLevel, "log-level", int(config.InfoLevel), "log verbosity")
	cmd.Flags().BoolVar(&flagDumpReport, "dump-report", false, "write report files to the reports dir")
	cmd.Flags().StringVar(&flagReportsDir, "reports-dir", "sparrow-reports", "directory for report dumps")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatutil.Red(err.Error()))
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	var cfg *config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefault()
	}
	cfg.ContextPolicy = config.ContextPolicyName(flagPolicy)
	cfg.DefaultK = flagK
	cfg.LogLevel = flagLogLevel
	if cfg.ReportsDir == "" {
		cfg.ReportsDir = flagReportsDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := config.NewLogGroup(cfg)
	tables, err := analysis.LoadTables(cfg)
	if err != nil {
		return err
	}
	program, err := analysis.LoadProgram(nil, "", ssa.InstantiateGenerics, args)
	if err != nil {
		return err
	}
	result, err := analysis.TaintResult(program, cfg, logger, tables)
	if err != nil {
		return err
	}

	stats := pointer.ComputeStatistics(result.Pointer)
	fmt.Print(stats)
	if len(result.Violations) == 0 {
		fmt.Println(formatutil.Green("no sink violations"))
	} else {
		for _, v := range result.Violations {
			fmt.Printf("%s %s\n", formatutil.Red("violation:"), v)
		}
	}

	if !flagDumpReport {
		return nil
	}
	if err := os.MkdirAll(cfg.ReportsDir, 0o755); err != nil {
		return err
	}
	// The dumps are independent; write them concurrently.
	var g errgroup.Group
	g.Go(func() error {
		return writeFile(filepath.Join(cfg.ReportsDir, "statistics.txt"), func(w *bufio.Writer) error {
			_, err := w.WriteString(stats.String())
			return err
		})
	})
	g.Go(func() error {
		return writeFile(filepath.Join(cfg.ReportsDir, "points-to.txt"), func(w *bufio.Writer) error {
			return dumpPts(w, result.Pointer)
		})
	})
	g.Go(func() error {
		return writeFile(filepath.Join(cfg.ReportsDir, "sink-report.txt"), func(w *bufio.Writer) error {
			return dumpSinks(w, program, result)
		})
	})
	return g.Wait()
}

func writeFile(path string, fill func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		return err
	}
	return w.Flush()
}

func dumpPts(w *bufio.Writer, res *pointer.Result) error {
	for _, fn := range res.Program.Functions() {
		fmt.Fprintf(w, "%s:\n", fn)
		for _, blk := range fn.Blocks {
			for _, instr := range blk.Instrs {
				v, ok := instr.(ssa.Value)
				if !ok {
					continue
				}
				if pSet := res.Pts(v); !pSet.IsEmpty() {
					fmt.Fprintf(w, "  %s -> %s\n", v.Name(), pSet)
				}
			}
		}
	}
	return nil
}

func dumpSinks(w *bufio.Writer, program analysis.LoadedProgram, result *taint.AnalysisResult) error {
	fmt.Fprintf(w, "sinks recorded: %d, violations: %d\n", len(result.Sinks), len(result.Violations))
	fset := program.Program.Fset
	for _, v := range result.Violations {
		pos := fset.Position(v.PP.Node.Instr().Pos())
		fmt.Fprintf(w, "%s at %s\n", v, pos)
	}
	return nil
}
