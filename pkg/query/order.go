package query

import (
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// CanonicalOrder deriva a ordem canônica: a ordem do usuário seguida da
// pk como tie-break terminal sempre que a ordem do usuário ainda não
// totaliza. O tie-break segue a direção pedida quando ela é uniforme
// (ASC..ASC ganha pk ASC, DESC..DESC ganha pk DESC), senão ASC.
func CanonicalOrder(m *schema.EntityModel, user []OrderTerm) []OrderTerm {
	out := append([]OrderTerm(nil), user...)
	for _, t := range user {
		if t.Field == m.PKField {
			return out // pk presente: já é ordem total
		}
	}
	desc := len(user) > 0
	for _, t := range user {
		if !t.Desc {
			desc = false
			break
		}
	}
	return append(out, OrderTerm{Field: m.PKField, Desc: desc})
}

// orderClass posiciona um estado de campo na convenção canônica:
// missing < null < qualquer valor.
func orderClass(v types.Value, present bool) int {
	switch {
	case !present:
		return 0
	case v.IsNull():
		return 1
	default:
		return 2
	}
}

// CompareRows compara duas linhas pela ordem dada. Valores incomparáveis
// empatam (0): o sort estável preserva a ordem de entrada para eles.
func CompareRows(order []OrderTerm, a, b schema.Row) int {
	for _, t := range order {
		av, apresent := a.Get(t.Field)
		bv, bpresent := b.Get(t.Field)

		ac, bc := orderClass(av, apresent), orderClass(bv, bpresent)
		var c int
		switch {
		case ac != bc:
			c = ac - bc
		case ac < 2:
			c = 0 // ambos missing ou ambos null
		default:
			cmp, ok := types.Compare(av, bv)
			if !ok {
				cmp = 0
			}
			c = cmp
		}

		if c != 0 {
			if t.Desc {
				return -c
			}
			return c
		}
	}
	return 0
}
