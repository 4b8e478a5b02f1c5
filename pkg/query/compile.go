package query

import (
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// RangeEnd é uma ponta de range compilada de um Compare.
type RangeEnd struct {
	Value     types.Value
	Inclusive bool
}

// FieldConstraint acumula o que o predicado afirma sobre um campo de
// forma compilável para acesso por índice: igualdade exata ou range.
type FieldConstraint struct {
	Eq    *types.Value
	Lower *RangeEnd
	Upper *RangeEnd
}

func (fc *FieldConstraint) hasRange() bool { return fc.Lower != nil || fc.Upper != nil }

// Compiled é o resultado da compilação conservadora: restrições por
// campo mais os filhos que não compilaram (resíduo re-checado pós-acesso).
type Compiled struct {
	Constraints map[string]*FieldConstraint
	Residual    []Predicate
}

// CompileConservative compila um predicado NORMALIZADO no modo
// ConservativeSubset: filhos de And que não compilam são derrubados para
// o resíduo (o scan pode devolver a mais; o resíduo re-checa). Or inteiro
// nunca compila neste modo: vai direto para o resíduo.
func CompileConservative(m *schema.EntityModel, p Predicate) Compiled {
	out := Compiled{Constraints: make(map[string]*FieldConstraint)}

	var children []Predicate
	switch p.kind {
	case pTrue:
		return out
	case pAnd:
		children = p.children
	default:
		children = []Predicate{p}
	}

	for _, c := range children {
		if !compileChild(m, c, &out) {
			out.Residual = append(out.Residual, c)
		}
	}
	return out
}

// CompileStrict compila no modo StrictAllOrNone: ou todo nó compila, ou
// nada é devolvido. Or nunca compila neste modo: qualquer Or na árvore
// faz o compile inteiro falhar, mesmo com filhos compiláveis. O planner o
// usa em cada filho de um Or de topo para montar a união composta.
func CompileStrict(m *schema.EntityModel, p Predicate) (Compiled, bool) {
	out := Compiled{Constraints: make(map[string]*FieldConstraint)}

	var walk func(p Predicate) bool
	walk = func(p Predicate) bool {
		switch p.kind {
		case pTrue:
			return true
		case pAnd:
			for _, c := range p.children {
				if !walk(c) {
					return false
				}
			}
			return true
		default:
			return compileChild(m, p, &out)
		}
	}

	if !walk(p) {
		return Compiled{}, false
	}
	return out, true
}

// compileChild tenta absorver um único nó nas restrições. Só igualdade e
// ranges sobre campos escalares ordeáveis compilam; o resto não.
func compileChild(m *schema.EntityModel, p Predicate, out *Compiled) bool {
	if p.kind != pCompare {
		return false
	}
	f, ok := m.Field(p.field)
	if !ok || !f.Kind.Keyable() {
		return false
	}

	get := func() *FieldConstraint {
		fc, ok := out.Constraints[p.field]
		if !ok {
			fc = &FieldConstraint{}
			out.Constraints[p.field] = fc
		}
		return fc
	}

	switch p.op {
	case OpEq:
		if !p.value.Keyable() || p.value.Kind() != f.Kind {
			return false
		}
		fc := get()
		if fc.Eq != nil || fc.hasRange() {
			return false // restrições conflitantes ficam no resíduo
		}
		v := p.value
		fc.Eq = &v
		return true

	case OpGt, OpGte:
		if !p.value.Keyable() || p.value.Kind() != f.Kind {
			return false
		}
		fc := get()
		if fc.Eq != nil || fc.Lower != nil {
			return false
		}
		fc.Lower = &RangeEnd{Value: p.value, Inclusive: p.op == OpGte}
		return true

	case OpLt, OpLte:
		if !p.value.Keyable() || p.value.Kind() != f.Kind {
			return false
		}
		fc := get()
		if fc.Eq != nil || fc.Upper != nil {
			return false
		}
		fc.Upper = &RangeEnd{Value: p.value, Inclusive: p.op == OpLte}
		return true

	default:
		return false
	}
}
