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

// Package memory implements the abstract memory model: allocation sites,
// field-offset-tagged memory objects and type layouts.
package memory

import (
	"go/types"

	"golang.org/x/exp/slices"
)

// TypeLayout is the flattened shape of a type: its size, the offsets of its
// pointer-carrying fields, and the offsets of every scalar or pointer slot
// reachable by flattening sub-structures. Array types reuse the element
// layout with a fixed stride. The distinguished byte-array layout stands in
// when an allocation cannot be typed.
type TypeLayout struct {
	size         int64
	ptrOffsets   []int64 // sorted offsets of pointer-valued slots
	fieldOffsets []int64 // sorted offsets of all flattened slots
	arrayStride  int64   // element size when the layout is an array, else 0
}

// Size returns the total size in bytes.
func (l *TypeLayout) Size() int64 { return l.size }

// PointerOffsets returns the sorted pointer-slot offsets.
func (l *TypeLayout) PointerOffsets() []int64 { return l.ptrOffsets }

// FieldOffsets returns the sorted offsets of every flattened slot.
func (l *TypeLayout) FieldOffsets() []int64 { return l.fieldOffsets }

// ArrayStride returns the element stride for array layouts, 0 otherwise.
func (l *TypeLayout) ArrayStride() int64 { return l.arrayStride }

// IsArray reports whether the layout collapses an element sequence.
func (l *TypeLayout) IsArray() bool { return l.arrayStride > 0 }

// TypeMap caches the TypeLayout of every IR type the analysis touches.
// Word size and alignment follow the 64-bit layout the go/ssa builder
// assumes.
type TypeMap struct {
	sizes     types.Sizes
	layouts   map[types.Type]*TypeLayout
	byteArray *TypeLayout
}

// NewTypeMap returns an empty layout cache.
func NewTypeMap() *TypeMap {
	return &TypeMap{
		sizes:   &types.StdSizes{WordSize: 8, MaxAlign: 8},
		layouts: make(map[types.Type]*TypeLayout),
		byteArray: &TypeLayout{
			size:         1,
			fieldOffsets: []int64{0},
			arrayStride:  1,
		},
	}
}

// ByteArrayLayout returns the layout used when allocation size cannot be
// typed: a byte array collapsing every offset onto its single slot.
func (tm *TypeMap) ByteArrayLayout() *TypeLayout { return tm.byteArray }

// Layout returns the interned layout of t.
func (tm *TypeMap) Layout(t types.Type) *TypeLayout {
	if l, ok := tm.layouts[t]; ok {
		return l
	}
	l := tm.build(t)
	tm.layouts[t] = l
	return l
}

func (tm *TypeMap) build(t types.Type) *TypeLayout {
	l := &TypeLayout{size: tm.sizes.Sizeof(t)}
	tm.flatten(t, 0, l)
	if len(l.fieldOffsets) == 0 {
		l.fieldOffsets = []int64{0}
	}
	slices.Sort(l.ptrOffsets)
	l.fieldOffsets = dedupSorted(l.fieldOffsets)
	if arr, ok := t.Underlying().(*types.Array); ok {
		l.arrayStride = tm.sizes.Sizeof(arr.Elem())
	}
	return l
}

// flatten records the slots of t at the given base offset. Pointer slots do
// not recurse into their pointee: layout walking is bounded by value
// structure, never by the points-to graph.
func (tm *TypeMap) flatten(t types.Type, base int64, l *TypeLayout) {
	switch u := t.Underlying().(type) {
	case *types.Pointer, *types.Map, *types.Chan, *types.Signature, *types.Slice, *types.Interface:
		// Reference kinds carry their pointer word at the base of the slot.
		// Slices and interfaces have scalar words after it; those do not get
		// slots of their own.
		l.ptrOffsets = append(l.ptrOffsets, base)
		l.fieldOffsets = append(l.fieldOffsets, base)
	case *types.Struct:
		if u.NumFields() == 0 {
			l.fieldOffsets = append(l.fieldOffsets, base)
			return
		}
		fields := make([]*types.Var, u.NumFields())
		for i := range fields {
			fields[i] = u.Field(i)
		}
		offsets := tm.sizes.Offsetsof(fields)
		for i, f := range fields {
			tm.flatten(f.Type(), base+offsets[i], l)
		}
	case *types.Array:
		// The element sequence collapses onto element zero.
		tm.flatten(u.Elem(), base, l)
	case *types.Basic:
		if u.Kind() == types.UnsafePointer {
			l.ptrOffsets = append(l.ptrOffsets, base)
		}
		// Strings are opaque scalars in this model: their contents never
		// carry pointers.
		l.fieldOffsets = append(l.fieldOffsets, base)
	case *types.Tuple:
		off := int64(0)
		for i := 0; i < u.Len(); i++ {
			tm.flatten(u.At(i).Type(), base+off, l)
			off += tm.sizes.Sizeof(u.At(i).Type())
		}
	default:
		l.fieldOffsets = append(l.fieldOffsets, base)
	}
}

// FieldOffset returns the byte offset of field i of a struct type.
func (tm *TypeMap) FieldOffset(st *types.Struct, i int) int64 {
	fields := make([]*types.Var, st.NumFields())
	for j := range fields {
		fields[j] = st.Field(j)
	}
	return tm.sizes.Offsetsof(fields)[i]
}

func dedupSorted(xs []int64) []int64 {
	slices.Sort(xs)
	return slices.Compact(xs)
}
