package cpu

import (
	"fmt"
	"math"

	"github.com/revnet-ml/revnet/internal/tensor"
)

// Softmax computes softmax along the given dimension with the usual
// max-subtraction for numerical stability.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return cpu.normalizeOp("softmax", x, dim, false)
}

// LogSoftmax computes log(softmax(x)) along the given dimension.
func (cpu *CPUBackend) LogSoftmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return cpu.normalizeOp("logsoftmax", x, dim, true)
}

func (cpu *CPUBackend) normalizeOp(name string, x *tensor.RawTensor, dim int, logSpace bool) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	shape := x.Shape()
	dim = shape.Normalize(dim)

	result, err := tensor.NewRaw(shape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	xd, rd := x.AsFloat32(), result.AsFloat32()

	// Iterate the shape as [outer, dimSize, inner] slabs.
	dimSize := shape[dim]
	inner := 1
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	outer := len(xd) / (dimSize * inner)

	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*dimSize*inner + in

			maxVal := float32(math.Inf(-1))
			for d := 0; d < dimSize; d++ {
				if v := xd[base+d*inner]; v > maxVal {
					maxVal = v
				}
			}

			var sum float64
			for d := 0; d < dimSize; d++ {
				sum += math.Exp(float64(xd[base+d*inner] - maxVal))
			}

			if logSpace {
				logSum := float32(math.Log(sum))
				for d := 0; d < dimSize; d++ {
					rd[base+d*inner] = xd[base+d*inner] - maxVal - logSum
				}
			} else {
				invSum := float32(1.0 / sum)
				for d := 0; d < dimSize; d++ {
					rd[base+d*inner] = float32(math.Exp(float64(xd[base+d*inner]-maxVal))) * invSum
				}
			}
		}
	}

	return result
}
