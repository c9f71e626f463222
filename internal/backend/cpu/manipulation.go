package cpu

import (
	"fmt"

	"github.com/revnet-ml/revnet/internal/tensor"
)

// Cat concatenates tensors along the given dimension.
// All tensors must agree on every other dimension.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: at least one tensor required")
	}

	first := tensors[0]
	shape := first.Shape()
	dim = shape.Normalize(dim)

	catSize := 0
	for _, t := range tensors {
		ts := t.Shape()
		if len(ts) != len(shape) {
			panic(fmt.Sprintf("cat: rank mismatch: %v vs %v", shape, ts))
		}
		for i := range ts {
			if i != dim && ts[i] != shape[i] {
				panic(fmt.Sprintf("cat: shapes differ outside dim %d: %v vs %v", dim, shape, ts))
			}
		}
		catSize += ts[dim]
	}

	outShape := shape.Clone()
	outShape[dim] = catSize
	result, err := tensor.NewRaw(outShape, first.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cat: %v", err))
	}

	// Copy per [outer, dim, inner] slab. Row-major layout makes each
	// (outer) slab of a source contiguous.
	elemSize := first.DType().Size()
	inner := elemSize
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}

	dst := result.Data()
	outRow := catSize * inner
	offset := 0
	for _, t := range tensors {
		src := t.Data()
		row := t.Shape()[dim] * inner
		for o := 0; o < outer; o++ {
			copy(dst[o*outRow+offset:o*outRow+offset+row], src[o*row:(o+1)*row])
		}
		offset += row
	}

	return result
}

// Split splits a tensor into n equal parts along the given dimension.
// Panics if the dimension size is not divisible by n.
func (cpu *CPUBackend) Split(x *tensor.RawTensor, n, dim int) []*tensor.RawTensor {
	shape := x.Shape()
	dim = shape.Normalize(dim)
	if shape[dim]%n != 0 {
		panic(fmt.Sprintf("split: dimension %d size %d not divisible by %d", dim, shape[dim], n))
	}

	partShape := shape.Clone()
	partShape[dim] = shape[dim] / n

	elemSize := x.DType().Size()
	inner := elemSize
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}

	src := x.Data()
	srcRow := shape[dim] * inner
	partRow := partShape[dim] * inner

	parts := make([]*tensor.RawTensor, n)
	for p := 0; p < n; p++ {
		part, err := tensor.NewRaw(partShape, x.DType(), cpu.device)
		if err != nil {
			panic(fmt.Sprintf("split: %v", err))
		}
		dst := part.Data()
		for o := 0; o < outer; o++ {
			copy(dst[o*partRow:(o+1)*partRow], src[o*srcRow+p*partRow:o*srcRow+(p+1)*partRow])
		}
		parts[p] = part
	}

	return parts
}
