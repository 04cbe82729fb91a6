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

package pointer

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Statistics summarizes a points-to solution for the report dumps: the
// distribution of top-level points-to set sizes and of context depths.
type Statistics struct {
	NumPointers   int
	NumObjects    int
	NumContexts   int
	NumCallEdges  int
	MeanPtsSize   float64
	MedianPtsSize float64
	MaxPtsSize    int
	ContextDepths []int
}

// ComputeStatistics gathers the solution's summary numbers.
func ComputeStatistics(res *Result) Statistics {
	sizes := make([]float64, 0, res.Env.Size())
	maxSize := 0
	res.Env.Bindings(func(_ *Pointer, s *PtsSet) {
		sizes = append(sizes, float64(s.Size()))
		if s.Size() > maxSize {
			maxSize = s.Size()
		}
	})
	sort.Float64s(sizes)
	st := Statistics{
		NumPointers:   res.PointerManager.Size(),
		NumObjects:    res.MemoryManager.NumObjects(),
		NumContexts:   res.Policy.Table().Size(),
		NumCallEdges:  res.CallGraph.NumEdges(),
		MaxPtsSize:    maxSize,
		ContextDepths: res.Policy.Table().Depths(),
	}
	if len(sizes) > 0 {
		st.MeanPtsSize = stat.Mean(sizes, nil)
		st.MedianPtsSize = stat.Quantile(0.5, stat.Empirical, sizes, nil)
	}
	return st
}

func (s Statistics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pointers: %d, objects: %d, contexts: %d, call edges: %d\n",
		s.NumPointers, s.NumObjects, s.NumContexts, s.NumCallEdges)
	fmt.Fprintf(&b, "pts size: mean %.2f, median %.1f, max %d\n",
		s.MeanPtsSize, s.MedianPtsSize, s.MaxPtsSize)
	b.WriteString("context depth distribution:")
	for d, n := range s.ContextDepths {
		fmt.Fprintf(&b, " %d:%d", d, n)
	}
	b.WriteByte('\n')
	return b.String()
}
