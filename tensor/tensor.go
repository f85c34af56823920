// Package tensor holds the flat field-element tensors flowing through the
// layer graph and the write-once map the executor threads through it.
package tensor

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/ray-project/distributed-zkml/fixedpoint"
)

// ErrDuplicate is returned when a tensor index is written twice. Indices
// are write-once: each tensor has exactly one producer.
var ErrDuplicate = errors.New("tensor: index already populated")

// Tensor is a shaped array of field elements. Data is row-major.
type Tensor struct {
	Shape []int
	Data  []fr.Element
}

// New allocates a zeroed tensor of the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]fr.Element, n)}
}

// FromInt64 builds a tensor from already-scaled signed integers.
func FromInt64(shape []int, values []int64) (*Tensor, error) {
	t := New(shape...)
	if len(values) != len(t.Data) {
		return nil, fmt.Errorf("tensor: %d values for shape %v", len(values), shape)
	}
	for i, v := range values {
		t.Data[i] = fixedpoint.EncodeInt64(v)
	}
	return t, nil
}

// NumElems returns the number of elements implied by the shape.
func (t *Tensor) NumElems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  make([]fr.Element, len(t.Data)),
	}
	copy(c.Data, t.Data)
	return c
}

// SameShape reports whether two tensors have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Map is the index-keyed tensor mapping used during one chunk execution.
// A fresh Map is created per execution and discarded afterwards.
type Map struct {
	entries map[int]*Tensor
}

// NewMap creates a Map pre-populated with the given tensors.
func NewMap(initial map[int]*Tensor) *Map {
	m := &Map{entries: make(map[int]*Tensor, len(initial))}
	for idx, t := range initial {
		m.entries[idx] = t
	}
	return m
}

// Get returns the tensor at idx.
func (m *Map) Get(idx int) (*Tensor, bool) {
	t, ok := m.entries[idx]
	return t, ok
}

// Insert writes t at idx; writing an occupied index is ErrDuplicate.
func (m *Map) Insert(idx int, t *Tensor) error {
	if _, ok := m.entries[idx]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicate, idx)
	}
	m.entries[idx] = t
	return nil
}

// Len returns the number of populated indices.
func (m *Map) Len() int { return len(m.entries) }

// Extract copies out the tensors at the requested indices.
func (m *Map) Extract(indices []int) (map[int]*Tensor, error) {
	out := make(map[int]*Tensor, len(indices))
	for _, idx := range indices {
		t, ok := m.entries[idx]
		if !ok {
			return nil, fmt.Errorf("tensor: index %d not populated", idx)
		}
		out[idx] = t
	}
	return out, nil
}
