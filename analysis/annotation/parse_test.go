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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePointerTable(t *testing.T) {
	content := `
# allocation and copy effects
malloc  ALLOC Arg0
memcpy  COPY ReachMem Arg1 ReachMem Arg0
exit    EXIT
puts    IGNORE
`
	table, err := ParsePointerTable("test.cfg", content)
	require.NoError(t, err)
	require.Equal(t, 4, table.Size())

	s, ok := table.Lookup("malloc")
	require.True(t, ok)
	require.Len(t, s.Effects, 1)
	require.Equal(t, EffectAlloc, s.Effects[0].Kind)
	require.True(t, s.Effects[0].HasSizePos)
	require.Equal(t, ArgPosition(0), s.Effects[0].SizePos)

	s, ok = table.Lookup("memcpy")
	require.True(t, ok)
	require.Equal(t, EffectCopy, s.Effects[0].Kind)
	require.Equal(t, SrcReachableMemory, s.Effects[0].Src.Class)
	require.Equal(t, ArgPosition(1), s.Effects[0].Src.Pos)
	require.Equal(t, ArgPosition(0), s.Effects[0].Dst.Pos)

	s, ok = table.Lookup("exit")
	require.True(t, ok)
	require.True(t, s.IsExit())
}

func TestParsePointerTableRejectsBadDest(t *testing.T) {
	_, err := ParsePointerTable("test.cfg", "f COPY Universal Arg0 Universal Arg1\n")
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, 1, perr.Line)
}

func TestParseModRefTable(t *testing.T) {
	content := `
memcpy MOD Arg0 REACH
memcpy REF Arg1 REACH
read   MOD Arg1
`
	table, err := ParseModRefTable("mr.cfg", content)
	require.NoError(t, err)
	s, ok := table.Lookup("memcpy")
	require.True(t, ok)
	require.Len(t, s.Effects, 2)
	require.Equal(t, EffectMod, s.Effects[0].Kind)
	require.True(t, s.Effects[0].Reach)
	require.Equal(t, EffectRef, s.Effects[1].Kind)
}

func TestParseTaintTable(t *testing.T) {
	content := `
SOURCE getenv Ret V T
PIPE   memcpy Arg1 R Arg0 R
SINK   system Arg0 V
SINK   execl  AfterArg0 V
IGNORE printf
`
	table, err := ParseTaintTable("t.cfg", content)
	require.NoError(t, err)

	s, ok := table.Lookup("getenv")
	require.True(t, ok)
	require.Len(t, s.Sources, 1)
	require.Equal(t, ReturnPosition(), s.Sources[0].Pos)
	require.Equal(t, LatTainted, s.Sources[0].Val)

	s, ok = table.Lookup("memcpy")
	require.True(t, ok)
	require.Len(t, s.Pipes, 1)
	require.Equal(t, ArgPosition(1), s.Pipes[0].SrcPos)
	require.Equal(t, ReachableMemory, s.Pipes[0].SrcClass)
	require.Equal(t, ArgPosition(0), s.Pipes[0].DstPos)

	s, ok = table.Lookup("execl")
	require.True(t, ok)
	require.True(t, s.Sinks[0].Pos.IsAfterArg())

	s, ok = table.Lookup("printf")
	require.True(t, ok)
	require.True(t, s.Ignore)
}

// A return-position entry with a memory class silently coerces to ValueOnly.
func TestTaintTableReturnCoercion(t *testing.T) {
	table, err := ParseTaintTable("t.cfg", "SOURCE getenv Ret D T\n")
	require.NoError(t, err)
	s, _ := table.Lookup("getenv")
	require.Equal(t, ValueOnly, s.Sources[0].Class)
}

func TestTaintTableRejectsReachableSink(t *testing.T) {
	_, err := ParseTaintTable("t.cfg", "SINK system Arg0 R\n")
	require.Error(t, err)
}

func TestParseErrorPosition(t *testing.T) {
	_, err := ParseTaintTable("bad.cfg", "\n\nSOURCE getenv Bogus V T\n")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "bad.cfg", perr.File)
	require.Equal(t, 3, perr.Line)
	require.Equal(t, 15, perr.Col)
}

func TestCommentsAndWhitespace(t *testing.T) {
	table, err := ParseTaintTable("c.cfg", "  # full comment\n  SOURCE  getenv   Ret  V  T  # trailing\n")
	require.NoError(t, err)
	require.Equal(t, 1, table.Size())
}

func TestDefaultTablesParse(t *testing.T) {
	require.NotZero(t, DefaultPointerTable().Size())
	require.NotZero(t, DefaultModRefTable().Size())
	require.NotZero(t, DefaultTaintTable().Size())
}
