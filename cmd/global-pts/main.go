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

// global-pts dumps the context-free projection of the points-to solution:
// for every value, the union of its points-to sets over all contexts.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"github.com/spf13/cobra"
	"golang.org/x/tools/go/ssa"
)

var (
	flagOut       string
	flagPolicy    string
	flagK         int
	flagLogLevel  int
	flagPrintType bool
)

func main() {
	cmd := &cobra.Command{
		Use:   "global-pts package...",
		Short: "Dump the context-free points-to projection",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}
	cmd.Flags().StringVarP(&flagOut, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&flagPolicy, "context-policy", string(config.UniformKPolicy), "context policy")
	cmd.Flags().IntVar(&flagK, "k", 1, "default k limit")
	cmd.Flags().IntVar(&flagLogLevel, "log-level", int(config.InfoLevel), "log verbosity")
	cmd.Flags().BoolVar(&flagPrintType, "print-type", false, "print value types")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	cfg := config.NewDefault()
	cfg.ContextPolicy = config.ContextPolicyName(flagPolicy)
	cfg.DefaultK = flagK
	cfg.LogLevel = flagLogLevel
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
	res, err := analysis.PointerResult(program, cfg, logger, tables)
	if err != nil {
		return err
	}

	out := os.Stdout
	if flagOut != "" {
		f, err := os.Create(flagOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()
	dump(w, res)
	return nil
}

func dump(w *bufio.Writer, res *pointer.Result) {
	for _, fn := range res.Program.Functions() {
		fmt.Fprintf(w, "%s:\n", fn)
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
				if flagPrintType {
					fmt.Fprintf(w, "  %s (%s) -> %s\n", v.Name(), v.Type(), pSet)
				} else {
					fmt.Fprintf(w, "  %s -> %s\n", v.Name(), pSet)
				}
			}
		}
	}
}
