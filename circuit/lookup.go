package circuit

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/lookup/logderivlookup"

	"github.com/ray-project/distributed-zkml/layers"
)

// lookupTables holds the in-circuit lookup arguments for the non-linear
// gadgets. Both tables are filled from the same prepared entries the
// native chips read, so proving and native execution agree bit for bit.
type lookupTables struct {
	logistic    *logderivlookup.Table
	rsqrt       *logderivlookup.Table
	logisticMax int64
	rsqrtMax    int64
	inputBits   uint
}

func newLookupTables(api frontend.API, prepared *layers.Prepared) (*lookupTables, error) {
	logTab, err := prepared.Table(layers.TableLogistic)
	if err != nil {
		return nil, err
	}
	rsqTab, err := prepared.Table(layers.TableRsqrt)
	if err != nil {
		return nil, err
	}
	lt := &lookupTables{
		logistic:    logderivlookup.New(api),
		rsqrt:       logderivlookup.New(api),
		logisticMax: logTab.MaxIndex(),
		rsqrtMax:    rsqTab.MaxIndex(),
		inputBits:   logTab.InputBits(),
	}
	for _, e := range logTab.Entries() {
		lt.logistic.Insert(e)
	}
	for _, e := range rsqTab.Entries() {
		lt.rsqrt.Insert(e)
	}
	return lt, nil
}

// reduce maps a scale-s value to the table input precision.
func (lt *lookupTables) reduce(chip *Chip, x frontend.Variable) frontend.Variable {
	shift := chip.Params().ScaleBits - lt.inputBits
	if shift == 0 {
		return x
	}
	return chip.DivRound(x, new(big.Int).Lsh(big.NewInt(1), shift))
}

// saturate clamps a non-negative index at max.
func (lt *lookupTables) saturate(api frontend.API, v frontend.Variable, max int64) frontend.Variable {
	over := api.IsZero(api.Sub(1, api.Cmp(v, max)))
	return api.Select(over, max, v)
}

// Logistic evaluates sigmoid on one scale-s value: reduce precision,
// fold by odd symmetry, saturate at the table boundary, look up, unfold.
// Reduction happens on the signed value, before the fold, to match the
// native chip: rounding ties are not symmetric around zero.
func (lt *lookupTables) Logistic(chip *Chip, x frontend.Variable) frontend.Variable {
	api := chip.api
	v := lt.reduce(chip, x)
	neg := chip.IsNegative(v)
	abs := api.Select(neg, api.Neg(v), v)
	idx := lt.saturate(api, abs, lt.logisticMax)
	y := lt.logistic.Lookup(idx)[0]
	one := new(big.Int).Lsh(big.NewInt(1), chip.Params().ScaleBits)
	return api.Select(neg, api.Sub(one, y), y)
}

// Rsqrt evaluates 1/sqrt(x) on one scale-s value. The input must reduce
// to a positive in-domain index; anything else leaves the lookup
// argument unsatisfiable.
func (lt *lookupTables) Rsqrt(chip *Chip, x frontend.Variable) frontend.Variable {
	api := chip.api
	api.AssertIsEqual(chip.IsNegative(x), 0)
	v := lt.reduce(chip, x)
	api.AssertIsLessOrEqual(1, v)
	return lt.rsqrt.Lookup(api.Sub(v, 1))[0]
}
