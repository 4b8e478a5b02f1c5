// Package query contém o lado lógico do engine: a AST de predicados com
// avaliador canônico, o normalizador, os dois modos de compilação para
// índice, o builder de intenção e o planner que transforma intenção em
// plano executável. Nada aqui toca estado durável: planejar é puro.
package query

import (
	"fmt"
	"strings"

	"github.com/bobboyms/icydb/pkg/types"
)

// Operator é o operador de um nó Compare.
type Operator uint8

const (
	OpEq Operator = iota + 1
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
	OpNotIn
	OpStartsWith
	OpEndsWith
	OpTextContains
	OpTextContainsCi
)

func (op Operator) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpIn:
		return "in"
	case OpNotIn:
		return "not_in"
	case OpStartsWith:
		return "starts_with"
	case OpEndsWith:
		return "ends_with"
	case OpTextContains:
		return "contains"
	case OpTextContainsCi:
		return "contains_ci"
	default:
		return "?"
	}
}

// CoercionSpec é a coerção DECLARADA de um Compare. Não existe coerção
// implícita: o helper de construção declara a família do literal e o
// planner valida a legalidade contra o campo.
type CoercionSpec uint8

const (
	CoerceNone CoercionSpec = iota
	CoerceNumeric
	CoerceTextual
	CoerceIdentifier
	CoerceBlob
	CoerceBool
	CoerceEnum
	CoerceUnit
)

func coercionForFamily(f types.Family) CoercionSpec {
	switch f {
	case types.FamilyNumeric:
		return CoerceNumeric
	case types.FamilyTextual:
		return CoerceTextual
	case types.FamilyIdentifier:
		return CoerceIdentifier
	case types.FamilyBlob:
		return CoerceBlob
	case types.FamilyBool:
		return CoerceBool
	case types.FamilyEnum:
		return CoerceEnum
	case types.FamilyUnit:
		return CoerceUnit
	default:
		return CoerceNone
	}
}

func (c CoercionSpec) family() types.Family {
	switch c {
	case CoerceNumeric:
		return types.FamilyNumeric
	case CoerceTextual:
		return types.FamilyTextual
	case CoerceIdentifier:
		return types.FamilyIdentifier
	case CoerceBlob:
		return types.FamilyBlob
	case CoerceBool:
		return types.FamilyBool
	case CoerceEnum:
		return types.FamilyEnum
	case CoerceUnit:
		return types.FamilyUnit
	default:
		return types.FamilyNone
	}
}

type predKind uint8

const (
	pTrue predKind = iota + 1
	pFalse
	pAnd
	pOr
	pNot
	pCompare
	pIsNull
	pIsMissing
	pIsEmpty
	pIsNotEmpty
	pMapContainsKey
	pMapContainsValue
	pMapContainsEntry
)

// Predicate é a AST imutável. Zero value é inválido; use os construtores.
type Predicate struct {
	kind     predKind
	children []Predicate
	field    string
	op       Operator
	value    types.Value
	values   []types.Value
	coercion CoercionSpec
}

func True() Predicate  { return Predicate{kind: pTrue} }
func False() Predicate { return Predicate{kind: pFalse} }

func And(ps ...Predicate) Predicate { return Predicate{kind: pAnd, children: ps} }
func Or(ps ...Predicate) Predicate  { return Predicate{kind: pOr, children: ps} }
func Not(p Predicate) Predicate     { return Predicate{kind: pNot, children: []Predicate{p}} }

// Cmp constrói um Compare com coerção explícita.
func Cmp(field string, op Operator, value types.Value, coercion CoercionSpec) Predicate {
	return Predicate{kind: pCompare, field: field, op: op, value: value, coercion: coercion}
}

// Helpers de conveniência: declaram a coerção a partir da família do
// literal. O planner ainda valida contra o campo.
func Eq(field string, v types.Value) Predicate  { return Cmp(field, OpEq, v, coercionForFamily(v.Family())) }
func Ne(field string, v types.Value) Predicate  { return Cmp(field, OpNe, v, coercionForFamily(v.Family())) }
func Lt(field string, v types.Value) Predicate  { return Cmp(field, OpLt, v, coercionForFamily(v.Family())) }
func Lte(field string, v types.Value) Predicate { return Cmp(field, OpLte, v, coercionForFamily(v.Family())) }
func Gt(field string, v types.Value) Predicate  { return Cmp(field, OpGt, v, coercionForFamily(v.Family())) }
func Gte(field string, v types.Value) Predicate { return Cmp(field, OpGte, v, coercionForFamily(v.Family())) }

func In(field string, vs ...types.Value) Predicate {
	c := CoerceNone
	if len(vs) > 0 {
		c = coercionForFamily(vs[0].Family())
	}
	return Predicate{kind: pCompare, field: field, op: OpIn, values: vs, coercion: c}
}

func NotIn(field string, vs ...types.Value) Predicate {
	c := CoerceNone
	if len(vs) > 0 {
		c = coercionForFamily(vs[0].Family())
	}
	return Predicate{kind: pCompare, field: field, op: OpNotIn, values: vs, coercion: c}
}

func StartsWith(field, prefix string) Predicate {
	return Cmp(field, OpStartsWith, types.Text(prefix), CoerceTextual)
}

func EndsWith(field, suffix string) Predicate {
	return Cmp(field, OpEndsWith, types.Text(suffix), CoerceTextual)
}

func TextContains(field, sub string) Predicate {
	return Cmp(field, OpTextContains, types.Text(sub), CoerceTextual)
}

func TextContainsCi(field, sub string) Predicate {
	return Cmp(field, OpTextContainsCi, types.Text(sub), CoerceTextual)
}

func IsNull(field string) Predicate    { return Predicate{kind: pIsNull, field: field} }
func IsMissing(field string) Predicate { return Predicate{kind: pIsMissing, field: field} }
func IsEmpty(field string) Predicate   { return Predicate{kind: pIsEmpty, field: field} }
func IsNotEmpty(field string) Predicate {
	return Predicate{kind: pIsNotEmpty, field: field}
}

func MapContainsKey(field string, key types.Value) Predicate {
	return Predicate{kind: pMapContainsKey, field: field, value: key}
}

func MapContainsValue(field string, val types.Value) Predicate {
	return Predicate{kind: pMapContainsValue, field: field, value: val}
}

func MapContainsEntry(field string, key, val types.Value) Predicate {
	return Predicate{kind: pMapContainsEntry, field: field, values: []types.Value{key, val}}
}

func (p Predicate) IsTrue() bool  { return p.kind == pTrue }
func (p Predicate) IsFalse() bool { return p.kind == pFalse }
func (p Predicate) IsZero() bool  { return p.kind == 0 }

// String é a chave estrutural do predicado: determinística, usada pelo
// sort do normalizador e pela assinatura do plano.
func (p Predicate) String() string {
	switch p.kind {
	case pTrue:
		return "true"
	case pFalse:
		return "false"
	case pAnd, pOr:
		tag := "and"
		if p.kind == pOr {
			tag = "or"
		}
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			parts[i] = c.String()
		}
		return tag + "(" + strings.Join(parts, ",") + ")"
	case pNot:
		return "not(" + p.children[0].String() + ")"
	case pCompare:
		if p.op == OpIn || p.op == OpNotIn {
			parts := make([]string, len(p.values))
			for i, v := range p.values {
				parts[i] = v.String()
			}
			return fmt.Sprintf("%s %s [%s]", p.field, p.op, strings.Join(parts, " "))
		}
		return fmt.Sprintf("%s %s %s", p.field, p.op, p.value)
	case pIsNull:
		return "is_null(" + p.field + ")"
	case pIsMissing:
		return "is_missing(" + p.field + ")"
	case pIsEmpty:
		return "is_empty(" + p.field + ")"
	case pIsNotEmpty:
		return "is_not_empty(" + p.field + ")"
	case pMapContainsKey:
		return fmt.Sprintf("map_contains_key(%s, %s)", p.field, p.value)
	case pMapContainsValue:
		return fmt.Sprintf("map_contains_value(%s, %s)", p.field, p.value)
	case pMapContainsEntry:
		return fmt.Sprintf("map_contains_entry(%s, %s, %s)", p.field, p.values[0], p.values[1])
	default:
		return "invalid"
	}
}
