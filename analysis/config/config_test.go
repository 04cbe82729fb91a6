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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
context-policy: selective-kcfa
default-k: 2
collapse-global-contexts: true
log-level: 2
selective-kcfa:
  callee-patterns:
    - pattern: "^main\\.hot.*"
      k: 0
  functions:
    - function: main.dispatch
      k: 3
  use-heuristics: true
introspection:
  heuristic: B
  p: 100
  q: 50
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, SelectiveKCFAPolicy, cfg.ContextPolicy)
	require.Equal(t, 2, cfg.DefaultK)
	require.True(t, cfg.CollapseGlobalContexts)
	require.Equal(t, 2, cfg.LogLevel)
	require.True(t, cfg.SelectiveSites.UseHeuristics)
	require.Equal(t, "B", cfg.Introspection.Heuristic)
	require.Equal(t, 100, cfg.Introspection.P)

	k, ok := cfg.MatchCalleePattern("main.hotPath")
	require.True(t, ok)
	require.Equal(t, 0, k)
	_, ok = cfg.MatchCalleePattern("main.cold")
	require.False(t, ok)
}

func TestLoadConfigRejectsBadPolicy(t *testing.T) {
	_, err := Load(writeConfig(t, "context-policy: bogus\n"))
	require.Error(t, err)
}

func TestLoadConfigRejectsBadPattern(t *testing.T) {
	bad := `
context-policy: uniform-k
selective-kcfa:
  callee-patterns:
    - pattern: "["
      k: 1
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
}

func TestGlobalConfig(t *testing.T) {
	path := writeConfig(t, "context-policy: no-context\n")
	SetGlobalConfig(path)
	cfg, err := LoadGlobal()
	require.NoError(t, err)
	require.Equal(t, NoContextPolicy, cfg.ContextPolicy)
	require.Equal(t, path, cfg.SourceFile())
}

func TestDefaults(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())
	require.Equal(t, UniformKPolicy, cfg.ContextPolicy)
	require.Equal(t, 1, cfg.DefaultK)
	require.Positive(t, cfg.IterationBound())
}
