package layers

import "errors"

// Errors surfaced while building or filling a circuit. All of them are
// detected before any proof is attempted and abort the affected chunk.
var (
	// ErrUnsupportedOp: the op kind has no registered chip.
	ErrUnsupportedOp = errors.New("layers: unsupported op")
	// ErrMissingInput: a layer references a tensor index that is not
	// populated. The executor does not resolve dependencies; the caller
	// must supply a valid topological order.
	ErrMissingInput = errors.New("layers: missing input tensor")
	// ErrShapeMismatch: input tensor shapes are incompatible with the op.
	ErrShapeMismatch = errors.New("layers: shape mismatch")
	// ErrDuplicateOutput: a layer writes a tensor index that is already
	// populated. Indices are write-once.
	ErrDuplicateOutput = errors.New("layers: duplicate output tensor")
	// ErrOutOfRangeInput: a lookup input falls outside the table domain.
	ErrOutOfRangeInput = errors.New("layers: lookup input out of table domain")
	// ErrLookupMiss: an in-domain table slot has no entry. This is a
	// configuration error, not a runtime-recoverable condition.
	ErrLookupMiss = errors.New("layers: lookup table miss")
)
