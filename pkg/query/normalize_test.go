package query_test

import (
	"testing"

	"github.com/bobboyms/icydb/pkg/query"
	"github.com/bobboyms/icydb/pkg/types"
)

func TestNormalize_ConstantsAndFlattening(t *testing.T) {
	a := query.Eq("a", types.Int(1))
	b := query.Eq("b", types.Int(2))
	c := query.Eq("c", types.Int(3))

	cases := []struct {
		name string
		in   query.Predicate
		want string
	}{
		{"and absorbs true", query.And(a, query.True(), b), query.And(a, b).String()},
		{"and short-circuits false", query.And(a, query.False()), "false"},
		{"or absorbs false", query.Or(a, query.False(), b), query.Or(a, b).String()},
		{"or short-circuits true", query.Or(a, query.True()), "true"},
		{"nested and flattens", query.And(a, query.And(b, c)), query.And(a, b, c).String()},
		{"nested or flattens", query.Or(query.Or(a, b), c), query.Or(a, b, c).String()},
		{"empty and is true", query.And(), "true"},
		{"empty or is false", query.Or(), "false"},
		{"single child unwraps", query.And(a), a.String()},
		{"double negation", query.Not(query.Not(a)), a.String()},
		{"not true", query.Not(query.True()), "false"},
	}
	for _, tc := range cases {
		got := query.Normalize(tc.in).String()
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestNormalize_StableChildOrder(t *testing.T) {
	a := query.Eq("a", types.Int(1))
	b := query.Eq("b", types.Int(2))

	n1 := query.Normalize(query.And(b, a))
	n2 := query.Normalize(query.And(a, b))
	if n1.String() != n2.String() {
		t.Errorf("equivalent ands must normalize identically: %s vs %s", n1, n2)
	}
}

// Lei: para todo p e linha r, eval(p, r) == eval(normalize(p), r).
func TestNormalize_PreservesEvaluation(t *testing.T) {
	rows := []doc{
		{"a": types.Int(1), "b": types.Int(2), "c": types.Text("x")},
		{"a": types.Int(9)},
		{"b": types.Null()},
		{},
	}
	preds := []query.Predicate{
		query.And(query.Eq("a", types.Int(1)), query.True(), query.Or(query.Eq("b", types.Int(2)), query.False())),
		query.Not(query.Not(query.Eq("a", types.Int(1)))),
		query.Or(query.And(query.True(), query.IsMissing("a")), query.IsNull("b")),
		query.And(query.Or(query.Eq("c", types.Text("x")), query.Gt("a", types.Int(5)))),
		query.Not(query.Or(query.Eq("a", types.Int(1)), query.Eq("b", types.Int(3)))),
	}
	for pi, p := range preds {
		n := query.Normalize(p)
		for ri, r := range rows {
			if query.Eval(p, r) != query.Eval(n, r) {
				t.Errorf("pred %d row %d: normalization changed evaluation (%s -> %s)", pi, ri, p, n)
			}
		}
	}
}
