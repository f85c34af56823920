package layers

import (
	"fmt"
	"math"

	"github.com/ray-project/distributed-zkml/fixedpoint"
)

// TableKind identifies a precomputed non-linear gadget table.
type TableKind uint8

const (
	TableLogistic TableKind = iota
	TableRsqrt
)

func (k TableKind) String() string {
	switch k {
	case TableLogistic:
		return "logistic"
	case TableRsqrt:
		return "rsqrt"
	default:
		return fmt.Sprintf("TableKind(%d)", uint8(k))
	}
}

const (
	// maxTableInput bounds the table domain to [0, maxTableInput] in real
	// units; larger logistic inputs saturate, larger rsqrt inputs are out
	// of range.
	maxTableInput = 8
	// maxTableInputBits caps the table input precision regardless of the
	// model scale, keeping table sizes bounded.
	maxTableInputBits = 10
)

const unfilled = math.MinInt64

// GadgetTable is the precomputed (input, output) mapping for one
// non-linear operation at a fixed scale. Entries are scale-s integers
// indexed by the reduced-precision input; the same entries drive both the
// native chips and the in-circuit lookup argument.
type GadgetTable struct {
	kind      TableKind
	inputBits uint
	scaleBits uint
	entries   []int64
}

// Kind returns the table's operation.
func (t *GadgetTable) Kind() TableKind { return t.kind }

// InputBits returns the reduced input precision of the table domain.
func (t *GadgetTable) InputBits() uint { return t.inputBits }

// MaxIndex returns the largest valid lookup index.
func (t *GadgetTable) MaxIndex() int64 { return int64(len(t.entries) - 1) }

// Entries exposes the raw outputs for in-circuit table construction.
func (t *GadgetTable) Entries() []int64 { return t.entries }

// Lookup resolves one table slot. An index outside [0, MaxIndex] is
// ErrOutOfRangeInput; an in-range slot without an entry is ErrLookupMiss.
func (t *GadgetTable) Lookup(idx int64) (int64, error) {
	if idx < 0 || idx > t.MaxIndex() {
		return 0, fmt.Errorf("%w: %s index %d outside [0, %d]",
			ErrOutOfRangeInput, t.kind, idx, t.MaxIndex())
	}
	out := t.entries[idx]
	if out == unfilled {
		return 0, fmt.Errorf("%w: %s index %d", ErrLookupMiss, t.kind, idx)
	}
	return out, nil
}

// Prepared is the phase token proving all gadget tables were fully
// populated. Chips that consume a table require a Prepared handle, so no
// row can be applied before preparation completes.
type Prepared struct {
	params fixedpoint.Params
	tables map[TableKind]*GadgetTable
}

// PrepareTables populates every gadget table for the given scale and
// returns the handle the lookup chips require.
func PrepareTables(params fixedpoint.Params) *Prepared {
	inBits := params.ScaleBits
	if inBits > maxTableInputBits {
		inBits = maxTableInputBits
	}
	outScale := float64(int64(1) << params.ScaleBits)
	size := maxTableInput<<inBits + 1

	logistic := &GadgetTable{
		kind:      TableLogistic,
		inputBits: inBits,
		scaleBits: params.ScaleBits,
		entries:   make([]int64, size),
	}
	for i := 0; i < size; i++ {
		x := float64(i) / float64(int64(1)<<inBits)
		y := 1.0 / (1.0 + math.Exp(-x))
		logistic.entries[i] = int64(math.Round(y * outScale))
	}

	// rsqrt entries are indexed by xIn-1: slot i holds 1/sqrt((i+1)/2^inBits).
	rsqrt := &GadgetTable{
		kind:      TableRsqrt,
		inputBits: inBits,
		scaleBits: params.ScaleBits,
		entries:   make([]int64, size-1),
	}
	for i := 0; i < size-1; i++ {
		x := float64(i+1) / float64(int64(1)<<inBits)
		rsqrt.entries[i] = int64(math.Round(outScale / math.Sqrt(x)))
	}

	return &Prepared{
		params: params,
		tables: map[TableKind]*GadgetTable{
			TableLogistic: logistic,
			TableRsqrt:    rsqrt,
		},
	}
}

// Params returns the scale the tables were prepared for.
func (p *Prepared) Params() fixedpoint.Params { return p.params }

// Table returns the prepared table of the given kind.
func (p *Prepared) Table(kind TableKind) (*GadgetTable, error) {
	t, ok := p.tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no table of kind %s", ErrLookupMiss, kind)
	}
	return t, nil
}
