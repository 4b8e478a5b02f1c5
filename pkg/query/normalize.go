package query

import "sort"

// Normalize aplica as reescritas que preservam semântica: achata And/Or
// aninhados, absorve constantes neutras, curto-circuita com constantes,
// elimina dupla negação e ordena filhos pela chave estrutural. Nunca
// distribui, enfraquece ou reescreve comparações: para todo predicado p e
// linha r, Eval(p, r) == Eval(Normalize(p), r).
func Normalize(p Predicate) Predicate {
	switch p.kind {
	case pAnd:
		return normalizeJunction(p, true)
	case pOr:
		return normalizeJunction(p, false)
	case pNot:
		child := Normalize(p.children[0])
		switch child.kind {
		case pTrue:
			return False()
		case pFalse:
			return True()
		case pNot:
			return child.children[0] // dupla negação
		default:
			return Not(child)
		}
	default:
		return p
	}
}

func normalizeJunction(p Predicate, isAnd bool) Predicate {
	var flat []Predicate

	var absorb func(children []Predicate) (short bool)
	absorb = func(children []Predicate) bool {
		for _, c := range children {
			n := Normalize(c)
			switch {
			case isAnd && n.kind == pTrue:
				continue // neutro
			case !isAnd && n.kind == pFalse:
				continue
			case isAnd && n.kind == pFalse:
				return true // curto-circuito
			case !isAnd && n.kind == pTrue:
				return true
			case isAnd && n.kind == pAnd, !isAnd && n.kind == pOr:
				if absorb(n.children) {
					return true
				}
			default:
				flat = append(flat, n)
			}
		}
		return false
	}

	if absorb(p.children) {
		if isAnd {
			return False()
		}
		return True()
	}

	switch len(flat) {
	case 0:
		if isAnd {
			return True()
		}
		return False()
	case 1:
		return flat[0]
	}

	// Sort estável pela chave estrutural: planos de intenções
	// equivalentes ficam idênticos.
	sort.SliceStable(flat, func(i, j int) bool {
		return flat[i].String() < flat[j].String()
	})

	if isAnd {
		return And(flat...)
	}
	return Or(flat...)
}
