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

import "container/heap"

type workItem struct {
	pp   ProgramPoint
	prio int
	seq  uint64
}

type workHeap []workItem

func (h workHeap) Len() int { return len(h) }
func (h workHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio > h[j].prio
	}
	return h[i].seq < h[j].seq
}
func (h workHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *workHeap) Push(x any)   { *h = append(*h, x.(workItem)) }
func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// worklist is the taint engine's priority queue: highest def-use priority
// first, ties by insertion order, no duplicates.
type worklist struct {
	heap    workHeap
	pending map[ProgramPoint]bool
	seq     uint64
}

func newWorklist() *worklist {
	return &worklist{pending: make(map[ProgramPoint]bool)}
}

func (w *worklist) enqueue(pp ProgramPoint) {
	if w.pending[pp] {
		return
	}
	w.pending[pp] = true
	w.seq++
	heap.Push(&w.heap, workItem{pp: pp, prio: pp.Node.Priority(), seq: w.seq})
}

func (w *worklist) dequeue() ProgramPoint {
	it := heap.Pop(&w.heap).(workItem)
	delete(w.pending, it.pp)
	return it.pp
}

func (w *worklist) empty() bool { return len(w.heap) == 0 }

func (w *worklist) size() int { return len(w.heap) }
