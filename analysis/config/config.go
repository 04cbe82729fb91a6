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

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// ContextPolicyName identifies one of the calling-context abstractions the
// engines support.
type ContextPolicyName string

const (
	// NoContextPolicy makes every push return the global context.
	NoContextPolicy ContextPolicyName = "no-context"
	// UniformKPolicy applies the same k-limit to every call site.
	UniformKPolicy ContextPolicyName = "uniform-k"
	// SelectiveKCFAPolicy reads per-site k values with a default fallback.
	SelectiveKCFAPolicy ContextPolicyName = "selective-kcfa"
	// IntrospectivePolicy runs a context-insensitive pre-analysis and only
	// refines the sites that pass the introspection heuristics.
	IntrospectivePolicy ContextPolicyName = "introspective"
)

// Config carries every knob of an analyzer instance. Analyses never consult
// process-wide state: tests may run several analyzers concurrently as long as
// each one carries its own Config.
//
// If some field is not defined in the config file, it will be empty/zero in
// the struct. Private fields are not populated from a yaml file, but computed
// after initialization.
type Config struct {
	Options

	sourceFile string

	// SelectiveSites configures per-site k values for the selective-kcfa
	// policy.
	SelectiveSites SelectiveSpec `yaml:"selective-kcfa"`

	// Introspection configures the thresholds of the introspective policy.
	Introspection IntrospectiveSpec `yaml:"introspection"`

	compiledCalleePatterns []calleePattern
}

// SelectiveSpec lists the site-specific k assignments for selective-kcfa.
// Sites can be matched by callee-name pattern or listed per function; the
// heuristic fields switch on k assignment from program shape.
type SelectiveSpec struct {
	// CalleePatterns maps a callee-name regex to the k value used at every
	// call site whose (static) callee matches the pattern.
	CalleePatterns []CalleePatternSpec `yaml:"callee-patterns"`

	// Functions maps a function name to the k value used at every call site
	// inside that function.
	Functions []FunctionKSpec `yaml:"functions"`

	// UseHeuristics enables the size/allocation-density/call-frequency
	// heuristics that assign smaller k values to large or allocation-heavy
	// functions.
	UseHeuristics bool `yaml:"use-heuristics"`

	// LargeFunctionCutoff is the instruction count above which the heuristics
	// consider a function large (default 500).
	LargeFunctionCutoff int `yaml:"large-function-cutoff"`

	// AllocDensityCutoff is the allocation-sites-per-hundred-instructions
	// value above which a function's call sites get k=0 (default 10).
	AllocDensityCutoff int `yaml:"alloc-density-cutoff"`

	// CallFrequencyCutoff is the number of syntactic call sites targeting a
	// function above which its call sites get k=0 (default 100).
	CallFrequencyCutoff int `yaml:"call-frequency-cutoff"`
}

// CalleePatternSpec assigns a k value to call sites by callee-name regex.
type CalleePatternSpec struct {
	Pattern string `yaml:"pattern"`
	K       int    `yaml:"k"`
}

// FunctionKSpec assigns a k value to all call sites within one function.
type FunctionKSpec struct {
	Function string `yaml:"function"`
	K        int    `yaml:"k"`
}

// IntrospectiveSpec carries the refinement thresholds of the two
// introspection heuristics. A site is refined by heuristic A when its
// pointed-by count, in-flow and max field points-to are all at or below the
// K/L/M thresholds, and by heuristic B when its total points-to volume and
// variable-field product are at or below P/Q. Unrefined sites get k=0.
type IntrospectiveSpec struct {
	// Heuristic selects "A" or "B" (default "A").
	Heuristic string `yaml:"heuristic"`

	K int `yaml:"k"`
	L int `yaml:"l"`
	M int `yaml:"m"`
	P int `yaml:"p"`
	Q int `yaml:"q"`
}

// Options groups the simple value options of an analyzer.
type Options struct {
	// ContextPolicy selects the calling-context abstraction. The engine has
	// no baked-in default; drivers must set this (or leave it to their own
	// flag default).
	ContextPolicy ContextPolicyName `yaml:"context-policy"`

	// DefaultK is the default k-limit for uniform-k, selective-kcfa and
	// introspective policies.
	DefaultK int `yaml:"default-k"`

	// CollapseGlobalContexts makes pointers to global values context-free.
	CollapseGlobalContexts bool `yaml:"collapse-global-contexts"`

	// PtrConfig is the path of the external pointer-effect table.
	PtrConfig string `yaml:"ptr-config"`

	// ModRefConfig is the path of the external mod-ref table.
	ModRefConfig string `yaml:"modref-config"`

	// TaintConfig is the path of the external taint table.
	TaintConfig string `yaml:"taint-config"`

	// ReportsDir is the directory where report dumps are written.
	ReportsDir string `yaml:"reports-dir"`

	// LogLevel controls the verbosity of the diagnostics stream.
	LogLevel int `yaml:"log-level"`

	// MaxIterations bounds the fixpoint engines; exceeding it is reported as
	// a non-termination diagnostic. Zero means the default bound.
	MaxIterations int `yaml:"max-iterations"`
}

type calleePattern struct {
	re *regexp.Regexp
	k  int
}

// NewDefault returns a config with the zero-value options replaced by usable
// defaults. Drivers start from this and overwrite from flags.
func NewDefault() *Config {
	return &Config{
		Options: Options{
			ContextPolicy: UniformKPolicy,
			DefaultK:      1,
			LogLevel:      int(InfoLevel),
		},
	}
}

// Load reads a yaml config file and validates it.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %q: %w", filename, err)
	}
	cfg := NewDefault()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file %q: %w", filename, err)
	}
	cfg.sourceFile = filename
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// SourceFile returns the file this config was loaded from, if any.
func (c *Config) SourceFile() string { return c.sourceFile }

// Validate checks flag values and compiles the callee-name patterns.
func (c *Config) Validate() error {
	switch c.ContextPolicy {
	case NoContextPolicy, UniformKPolicy, SelectiveKCFAPolicy, IntrospectivePolicy:
	case "":
		return fmt.Errorf("context-policy is not set")
	default:
		return fmt.Errorf("unknown context-policy %q", c.ContextPolicy)
	}
	if c.DefaultK < 0 {
		return fmt.Errorf("default-k must be non-negative, got %d", c.DefaultK)
	}
	switch c.Introspection.Heuristic {
	case "", "A", "B":
	default:
		return fmt.Errorf("introspection heuristic must be A or B, got %q", c.Introspection.Heuristic)
	}
	c.compiledCalleePatterns = c.compiledCalleePatterns[:0]
	for _, p := range c.SelectiveSites.CalleePatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("invalid callee pattern %q: %w", p.Pattern, err)
		}
		c.compiledCalleePatterns = append(c.compiledCalleePatterns, calleePattern{re: re, k: p.K})
	}
	return nil
}

// MatchCalleePattern returns the configured k for a callee name, if any
// pattern matches. The first matching pattern wins.
func (c *Config) MatchCalleePattern(name string) (int, bool) {
	for _, p := range c.compiledCalleePatterns {
		if p.re.MatchString(name) {
			return p.k, true
		}
	}
	return 0, false
}

// IterationBound returns the configured fixpoint bound or the default.
func (c *Config) IterationBound() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return 50_000_000
}
