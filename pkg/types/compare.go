package types

import (
	"bytes"
	"math/big"

	"github.com/shopspring/decimal"
)

// Compare devolve (-1|0|1, true) quando os valores são comparáveis, e
// (0, false) quando não são. Valores da mesma família numérica comparam
// entre kinds; todo o resto exige o mesmo kind.
func Compare(a, b Value) (int, bool) {
	if a.kind == b.kind {
		return compareSameKind(a, b)
	}
	if a.IsNumeric() && b.IsNumeric() {
		return compareNumeric(a, b)
	}
	return 0, false
}

// Equal é igualdade estrutural. Para escalares comparáveis equivale a
// Compare == 0; para List/Map/Enum com payload compara recursivamente.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		if a.IsNumeric() && b.IsNumeric() {
			c, ok := compareNumeric(a, b)
			return ok && c == 0
		}
		return false
	}
	switch a.kind {
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.pairs) != len(b.pairs) {
			return false
		}
		for i := range a.pairs {
			if !Equal(a.pairs[i].Key, b.pairs[i].Key) || !Equal(a.pairs[i].Val, b.pairs[i].Val) {
				return false
			}
		}
		return true
	case KindEnum:
		if canonicalEnumName(a.enum.Name) != canonicalEnumName(b.enum.Name) {
			return false
		}
		if (a.enum.Payload == nil) != (b.enum.Payload == nil) {
			return false
		}
		if a.enum.Payload != nil {
			return Equal(*a.enum.Payload, *b.enum.Payload)
		}
		return true
	case KindUnsupported:
		return false // opaco: nunca igual a nada, nem a si mesmo
	default:
		c, ok := compareSameKind(a, b)
		return ok && c == 0
	}
}

func compareSameKind(a, b Value) (int, bool) {
	switch a.kind {
	case KindNull, KindUnit:
		return 0, true
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		default:
			return 1, true
		}
	case KindText:
		return cmpOrd(a.s, b.s), true
	case KindInt, KindDate, KindTimestamp, KindDuration:
		return cmpOrd(a.i, b.i), true
	case KindUint, KindE8s, KindE18s:
		return cmpOrd(a.u, b.u), true
	case KindU256:
		return a.wide.Cmp(b.wide), true
	case KindBigInt:
		return a.bint.Cmp(b.bint), true
	case KindDecimal:
		return a.dec.Cmp(b.dec), true
	case KindFloat32:
		return cmpOrd(a.f32, b.f32), true
	case KindFloat64:
		return cmpOrd(a.f, b.f), true
	case KindUlid:
		return a.id.Compare(b.id), true
	case KindPrincipal, KindAccount, KindSubaccount, KindBlob:
		return bytes.Compare(a.raw, b.raw), true
	case KindEnum:
		if a.enum.Payload != nil || b.enum.Payload != nil {
			return 0, false
		}
		return cmpOrd(canonicalEnumName(a.enum.Name), canonicalEnumName(b.enum.Name)), true
	default:
		return 0, false
	}
}

// compareNumeric reduz ambos os lados a decimal e compara. Decimal cobre
// toda a faixa dos inteiros de 64 bits, U256 e BigInt sem perda.
func compareNumeric(a, b Value) (int, bool) {
	da, ok := a.numericDecimal()
	if !ok {
		return 0, false
	}
	db, ok := b.numericDecimal()
	if !ok {
		return 0, false
	}
	return da.Cmp(db), true
}

func (v Value) numericDecimal() (decimal.Decimal, bool) {
	switch v.kind {
	case KindInt, KindDate, KindTimestamp, KindDuration:
		return decimal.NewFromInt(v.i), true
	case KindUint, KindE8s, KindE18s:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v.u), 0), true
	case KindU256:
		return decimal.NewFromBigInt(v.wide.ToBig(), 0), true
	case KindBigInt:
		return decimal.NewFromBigInt(v.bint, 0), true
	case KindDecimal:
		return v.dec, true
	case KindFloat32:
		return decimal.NewFromFloat32(v.f32), true
	case KindFloat64:
		return decimal.NewFromFloat(v.f), true
	default:
		return decimal.Decimal{}, false
	}
}

func cmpOrd[T interface {
	~int | ~int64 | ~uint64 | ~float32 | ~float64 | ~string
}](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
