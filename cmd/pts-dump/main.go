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

// pts-dump runs the pointer analysis on a Go program and dumps the
// points-to solution.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/internal/formatutil"
	"github.com/spf13/cobra"
	"golang.org/x/tools/go/ssa"
)

var (
	flagConfig    string
	flagPtrConfig string
	flagPolicy    string
	flagK         int
	flagLogLevel  int
	flagDumpPts   bool
)

func main() {
	cmd := &cobra.Command{
		Use:   "pts-dump package...",
		Short: "Run the semi-sparse pointer analysis and dump points-to sets",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}
	cmd.Flags().StringVar(&flagConfig, "config", "", "yaml config file")
	cmd.Flags().StringVar(&flagPtrConfig, "ptr-config", "", "external pointer table")
	cmd.Flags().StringVar(&flagPolicy, "context-policy", string(config.NoContextPolicy), "context policy")
	cmd.Flags().IntVar(&flagK, "k", 1, "default k limit")
	cmd.Flags().IntVar(&flagLogLevel, "log-level", int(config.InfoLevel), "log verbosity")
	cmd.Flags().BoolVar(&flagDumpPts, "dump-pts", false, "dump the points-to set of every named value")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatutil.Red(err.Error()))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefault()
	}
	cfg.ContextPolicy = config.ContextPolicyName(flagPolicy)
	cfg.DefaultK = flagK
	cfg.LogLevel = flagLogLevel
	if flagPtrConfig != "" {
		cfg.PtrConfig = flagPtrConfig
	}
	return cfg, cfg.Validate()
}

func run(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
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
	res, err := analysis.PointerResult(program, cfg, logger, tables)
	if err != nil {
		return err
	}
	fmt.Print(pointer.ComputeStatistics(res))
	if flagDumpPts {
		dumpPts(res)
	}
	return nil
}

// dumpPts prints every named value with a non-empty points-to set, grouped
// by function in name order.
func dumpPts(res *pointer.Result) {
	for _, fn := range res.Program.Functions() {
		lines := make([]string, 0, 16)
		for _, blk := range fn.Blocks {
			for _, instr := range blk.Instrs {
				v, ok := instr.(ssa.Value)
				if !ok {
					continue
				}
				pSet := res.Pts(v)
				if pSet.IsEmpty() {
					continue
				}
				lines = append(lines, fmt.Sprintf("  %s -> %s", v.Name(), pSet))
			}
		}
		if len(lines) == 0 {
			continue
		}
		sort.Strings(lines)
		fmt.Printf("%s:\n", formatutil.Bold(fn.String()))
		for _, l := range lines {
			fmt.Println(l)
		}
	}
}
