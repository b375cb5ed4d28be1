// Package core provides the foundational types shared by every petalinfer package.
//
// This package contains:
//   - Node handles: NodeID and the NullNode sentinel
//   - Numeric arrays: Dim and Value
//   - The random number generator contract: RNG
//   - The error taxonomy: LogicError and RuntimeError
package core

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// NodeID is an opaque handle into a graph's node arena.
// Equality is by index; the zero value refers to the first node added.
type NodeID int32

// NullNode denotes "no node", e.g. an absent truncation bound.
const NullNode NodeID = -1

// IsNull reports whether the handle is the NullNode sentinel.
func (id NodeID) IsNull() bool {
	return id < 0
}

// String returns a short printable form of the handle.
func (id NodeID) String() string {
	if id.IsNull() {
		return "node(null)"
	}
	return "node(" + strconv.Itoa(int(id)) + ")"
}

// Dim is the shape of a node value. Scalars are [1], vectors [n] and
// matrices [rows cols]; matrix data is stored row-major.
type Dim []int

// ScalarDim is the shape of a scalar value.
func ScalarDim() Dim {
	return Dim{1}
}

// Len returns the number of elements described by the shape.
func (d Dim) Len() int {
	if len(d) == 0 {
		return 0
	}
	n := 1
	for _, k := range d {
		n *= k
	}
	return n
}

// IsScalar reports whether the shape holds exactly one element.
func (d Dim) IsScalar() bool {
	return d.Len() == 1
}

// IsVector reports whether the shape is one-dimensional.
func (d Dim) IsVector() bool {
	return len(d) == 1
}

// IsMatrix reports whether the shape is two-dimensional.
func (d Dim) IsMatrix() bool {
	return len(d) == 2
}

// Rows returns the number of rows when the shape is viewed as a matrix.
// Vectors are column vectors.
func (d Dim) Rows() int {
	if len(d) == 0 {
		return 0
	}
	return d[0]
}

// Cols returns the number of columns when the shape is viewed as a matrix.
func (d Dim) Cols() int {
	if len(d) < 2 {
		return 1
	}
	return d[1]
}

// Equal reports whether two shapes describe the same layout.
func (d Dim) Equal(other Dim) bool {
	return slices.Equal(d, other)
}

// Clone returns an independent copy of the shape.
func (d Dim) Clone() Dim {
	return slices.Clone(d)
}

// String formats the shape as "[r c]".
func (d Dim) String() string {
	parts := make([]string, len(d))
	for i, k := range d {
		parts[i] = strconv.Itoa(k)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Value is a dense numeric array with its shape.
type Value struct {
	Dim  Dim       `json:"dim"`
	Data []float64 `json:"data"`
}

// Scalar creates a scalar value.
func Scalar(x float64) Value {
	return Value{Dim: ScalarDim(), Data: []float64{x}}
}

// Vector creates a vector value from its elements.
func Vector(xs ...float64) Value {
	return Value{Dim: Dim{len(xs)}, Data: slices.Clone(xs)}
}

// Matrix creates a row-major matrix value.
// It panics if len(data) != rows*cols.
func Matrix(rows, cols int, data []float64) Value {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("core: matrix data length %d does not match %dx%d", len(data), rows, cols))
	}
	return Value{Dim: Dim{rows, cols}, Data: slices.Clone(data)}
}

// NewValue allocates a zero value of the given shape.
func NewValue(dim Dim) Value {
	return Value{Dim: dim.Clone(), Data: make([]float64, dim.Len())}
}

// IsEmpty reports whether the value holds no data.
func (v Value) IsEmpty() bool {
	return len(v.Data) == 0
}

// Len returns the number of elements.
func (v Value) Len() int {
	return len(v.Data)
}

// Scalar returns the first element. Callers are expected to have checked the shape.
func (v Value) Scalar() float64 {
	return v.Data[0]
}

// At returns element i, broadcasting scalars.
func (v Value) At(i int) float64 {
	if len(v.Data) == 1 {
		return v.Data[0]
	}
	return v.Data[i]
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	return Value{Dim: v.Dim.Clone(), Data: slices.Clone(v.Data)}
}

// Equal reports whether two values have the same shape and elements.
func (v Value) Equal(other Value) bool {
	return v.Dim.Equal(other.Dim) && slices.Equal(v.Data, other.Data)
}

// String formats the value for diagnostics.
func (v Value) String() string {
	if v.Dim.IsScalar() && len(v.Data) == 1 {
		return strconv.FormatFloat(v.Data[0], 'g', -1, 64)
	}
	return fmt.Sprintf("%v%v", v.Dim, v.Data)
}

// Dims collects the shapes of a list of values.
func Dims(values []Value) []Dim {
	dims := make([]Dim, len(values))
	for i, v := range values {
		dims[i] = v.Dim
	}
	return dims
}
