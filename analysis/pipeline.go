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

package analysis

import (
	"fmt"

	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/annotation"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/config"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/context"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/defuse"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/memory"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/pointer"
	"github.com/ZJU-Automated-Reasoning-Group/cactus/analysis/taint"
)

// Tables groups the three external annotation tables of one analyzer run.
// Nil members fall back to the built-in defaults.
type Tables struct {
	Pointer *annotation.PointerTable
	ModRef  *annotation.ModRefTable
	Taint   *annotation.TaintTable
}

// LoadTables reads the table files named in the config, merging each over
// the built-in defaults. Parse failures are fatal.
func LoadTables(cfg *config.Config) (Tables, error) {
	t := Tables{
		Pointer: annotation.DefaultPointerTable(),
		ModRef:  annotation.DefaultModRefTable(),
		Taint:   annotation.DefaultTaintTable(),
	}
	if cfg.PtrConfig != "" {
		user, err := annotation.LoadPointerTable(cfg.PtrConfig)
		if err != nil {
			return t, err
		}
		t.Pointer.Merge(user)
	}
	if cfg.ModRefConfig != "" {
		user, err := annotation.LoadModRefTable(cfg.ModRefConfig)
		if err != nil {
			return t, err
		}
		t.ModRef.Merge(user)
	}
	if cfg.TaintConfig != "" {
		user, err := annotation.LoadTaintTable(cfg.TaintConfig)
		if err != nil {
			return t, err
		}
		t.Taint.Merge(user)
	}
	return t, nil
}

// BuildPolicy constructs the configured context policy over prog. The
// introspective policy runs its context-insensitive pre-analysis here.
func BuildPolicy(prog *pointer.Program, cfg *config.Config, logger *config.LogGroup,
	tables Tables) (context.Policy, error) {
	switch cfg.ContextPolicy {
	case config.NoContextPolicy:
		return context.NewNoContext(), nil
	case config.UniformKPolicy:
		return context.NewKLimit(cfg.DefaultK), nil
	case config.SelectiveKCFAPolicy:
		p := context.NewSelectiveKCFA(cfg.DefaultK)
		p.Configure(prog.Functions(), cfg)
		logger.Debugf("%s", p.Stats())
		return p, nil
	case config.IntrospectivePolicy:
		queries, err := pointer.RunPreAnalysis(prog, cfg, logger, tables.Pointer)
		if err != nil {
			return nil, fmt.Errorf("introspective pre-analysis failed: %w", err)
		}
		p := context.NewIntrospective(prog.Functions(), queries, cfg)
		refined, total := p.Refined()
		logger.Infof("introspection refined %d/%d call sites", refined, total)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown context-policy %q", cfg.ContextPolicy)
	}
}

// PointerResult runs the pointer half of the pipeline on a loaded program.
func PointerResult(program LoadedProgram, cfg *config.Config, logger *config.LogGroup,
	tables Tables) (*pointer.Result, error) {
	prog := pointer.BuildProgram(program.Program, memory.NewTypeMap())
	policy, err := BuildPolicy(prog, cfg, logger, tables)
	if err != nil {
		return nil, err
	}
	return pointer.RunWithPolicy(prog, policy, cfg, logger, tables.Pointer)
}

// TaintResult runs the full pipeline: pointer analysis, mod-ref and def-use
// construction, then the taint fixpoint and sink check.
func TaintResult(program LoadedProgram, cfg *config.Config, logger *config.LogGroup,
	tables Tables) (*taint.AnalysisResult, error) {
	ptrRes, err := PointerResult(program, cfg, logger, tables)
	if err != nil {
		return nil, err
	}
	modref := defuse.ComputeModRef(ptrRes, tables.ModRef, logger)
	module := defuse.BuildModule(ptrRes, modref, logger)
	return taint.Analyze(module, cfg, logger, tables.Taint)
}
