package query

import (
	"strings"

	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// Eval é o avaliador canônico: dois valores estritos, com curto-circuito.
// Compare em campo MISSING é sempre false (missing só é observável via
// IsMissing); operadores de ordem sobre valores incomparáveis devolvem
// false. Pós-validação, falha de coerção aqui é bug, não condição
// recuperável — o avaliador devolve false e segue.
func Eval(p Predicate, row schema.Row) bool {
	switch p.kind {
	case pTrue:
		return true
	case pFalse:
		return false

	case pAnd:
		for _, c := range p.children {
			if !Eval(c, row) {
				return false
			}
		}
		return true

	case pOr:
		for _, c := range p.children {
			if Eval(c, row) {
				return true
			}
		}
		return false

	case pNot:
		return !Eval(p.children[0], row)

	case pCompare:
		return evalCompare(p, row)

	case pIsNull:
		v, present := row.Get(p.field)
		return present && v.IsNull()

	case pIsMissing:
		_, present := row.Get(p.field)
		return !present

	case pIsEmpty:
		v, present := row.Get(p.field)
		if !present || v.IsNull() {
			return false
		}
		n, ok := collectionLen(v)
		return ok && n == 0

	case pIsNotEmpty:
		v, present := row.Get(p.field)
		if !present || v.IsNull() {
			return false
		}
		n, ok := collectionLen(v)
		return ok && n > 0

	case pMapContainsKey:
		pairs, ok := mapPairs(row, p.field)
		if !ok {
			return false
		}
		for _, pair := range pairs {
			if types.Equal(pair.Key, p.value) {
				return true
			}
		}
		return false

	case pMapContainsValue:
		pairs, ok := mapPairs(row, p.field)
		if !ok {
			return false
		}
		for _, pair := range pairs {
			if types.Equal(pair.Val, p.value) {
				return true
			}
		}
		return false

	case pMapContainsEntry:
		pairs, ok := mapPairs(row, p.field)
		if !ok {
			return false
		}
		for _, pair := range pairs {
			if types.Equal(pair.Key, p.values[0]) && types.Equal(pair.Val, p.values[1]) {
				return true
			}
		}
		return false

	default:
		return false
	}
}

func evalCompare(p Predicate, row schema.Row) bool {
	field, present := row.Get(p.field)
	if !present {
		return false
	}
	if field.IsNull() {
		// Null é observável apenas via IsNull; Compare nunca casa.
		return false
	}

	switch p.op {
	case OpEq:
		c, ok := compareCoerced(field, p.value, p.coercion)
		return ok && c == 0
	case OpNe:
		c, ok := compareCoerced(field, p.value, p.coercion)
		return ok && c != 0
	case OpLt:
		c, ok := compareCoerced(field, p.value, p.coercion)
		return ok && c < 0
	case OpLte:
		c, ok := compareCoerced(field, p.value, p.coercion)
		return ok && c <= 0
	case OpGt:
		c, ok := compareCoerced(field, p.value, p.coercion)
		return ok && c > 0
	case OpGte:
		c, ok := compareCoerced(field, p.value, p.coercion)
		return ok && c >= 0

	case OpIn:
		for _, v := range p.values {
			if c, ok := compareCoerced(field, v, p.coercion); ok && c == 0 {
				return true
			}
		}
		return false

	case OpNotIn:
		for _, v := range p.values {
			if c, ok := compareCoerced(field, v, p.coercion); ok && c == 0 {
				return false
			}
		}
		return true

	case OpStartsWith:
		s, lit, ok := textOperands(field, p.value)
		return ok && strings.HasPrefix(s, lit)
	case OpEndsWith:
		s, lit, ok := textOperands(field, p.value)
		return ok && strings.HasSuffix(s, lit)
	case OpTextContains:
		s, lit, ok := textOperands(field, p.value)
		return ok && strings.Contains(s, lit)
	case OpTextContainsCi:
		s, lit, ok := textOperands(field, p.value)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(lit))

	default:
		return false
	}
}

// compareCoerced aplica a coerção declarada e compara. A coerção declara
// a família; a comparação cruzada de kinds só acontece dentro dela.
func compareCoerced(field, lit types.Value, c CoercionSpec) (int, bool) {
	want := c.family()
	if want != types.FamilyNone {
		if field.Family() != want || lit.Family() != want {
			return 0, false
		}
	}
	return types.Compare(field, lit)
}

func textOperands(field, lit types.Value) (string, string, bool) {
	s, ok := field.AsText()
	if !ok {
		return "", "", false
	}
	l, ok := lit.AsText()
	if !ok {
		return "", "", false
	}
	return s, l, true
}

func collectionLen(v types.Value) (int, bool) {
	switch v.Kind() {
	case types.KindList, types.KindMap:
		return v.Len()
	default:
		return 0, false
	}
}

func mapPairs(row schema.Row, field string) ([]types.MapEntry, bool) {
	v, present := row.Get(field)
	if !present || v.IsNull() {
		return nil, false
	}
	return v.AsMap()
}
