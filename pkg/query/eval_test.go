package query_test

import (
	"testing"

	"github.com/bobboyms/icydb/pkg/query"
	"github.com/bobboyms/icydb/pkg/types"
)

// doc é uma linha genérica de teste: mapa de campos, zero de Value
// ausente do mapa = missing.
type doc map[string]types.Value

func (d doc) EntityName() string { return "Doc" }

func (d doc) Get(field string) (types.Value, bool) {
	v, ok := d[field]
	return v, ok
}

func (d doc) Set(field string, v types.Value) error {
	d[field] = v
	return nil
}

func TestEval_MissingAndNull(t *testing.T) {
	row := doc{
		"name":  types.Text("ana"),
		"email": types.Null(),
		// "phone" missing
	}

	cases := []struct {
		name string
		pred query.Predicate
		want bool
	}{
		{"compare on missing is false", query.Eq("phone", types.Text("x")), false},
		{"ne on missing is false", query.Ne("phone", types.Text("x")), false},
		{"is_missing sees missing", query.IsMissing("phone"), true},
		{"is_missing on present is false", query.IsMissing("name"), false},
		{"compare on null is false", query.Eq("email", types.Text("x")), false},
		{"is_null only for present null", query.IsNull("email"), true},
		{"is_null on missing is false", query.IsNull("phone"), false},
		{"is_null on value is false", query.IsNull("name"), false},
	}
	for _, tc := range cases {
		if got := query.Eval(tc.pred, row); got != tc.want {
			t.Errorf("%s: got %t", tc.name, got)
		}
	}
}

func TestEval_Operators(t *testing.T) {
	row := doc{
		"name":  types.Text("Margarida"),
		"age":   types.Uint(33),
		"score": types.Int(-2),
	}

	cases := []struct {
		pred query.Predicate
		want bool
	}{
		{query.Eq("age", types.Uint(33)), true},
		{query.Ne("age", types.Uint(34)), true},
		{query.Lt("age", types.Uint(40)), true},
		{query.Gte("age", types.Uint(33)), true},
		{query.Gt("score", types.Int(-3)), true},
		{query.In("age", types.Uint(1), types.Uint(33)), true},
		{query.NotIn("age", types.Uint(1), types.Uint(2)), true},
		{query.StartsWith("name", "Marga"), true},
		{query.EndsWith("name", "rida"), true},
		{query.TextContains("name", "gar"), true},
		{query.TextContains("name", "GAR"), false},
		{query.TextContainsCi("name", "GAR"), true},
		// Texto ordena por bytes: "Margarida" < "zzz".
		{query.Lt("name", types.Text("zzz")), true},
	}
	for i, tc := range cases {
		if got := query.Eval(tc.pred, row); got != tc.want {
			t.Errorf("case %d (%s): got %t, want %t", i, tc.pred, got, tc.want)
		}
	}
}

func TestEval_CollectionPredicates(t *testing.T) {
	row := doc{
		"tags":  types.ListOf(types.Text("a")),
		"empty": types.ListOf(),
		"attrs": types.MapOf(
			types.MapEntry{Key: types.Text("color"), Val: types.Text("red")},
		),
	}

	cases := []struct {
		pred query.Predicate
		want bool
	}{
		{query.IsEmpty("empty"), true},
		{query.IsEmpty("tags"), false},
		{query.IsNotEmpty("tags"), true},
		{query.IsNotEmpty("missing_field"), false},
		{query.MapContainsKey("attrs", types.Text("color")), true},
		{query.MapContainsKey("attrs", types.Text("size")), false},
		{query.MapContainsValue("attrs", types.Text("red")), true},
		{query.MapContainsEntry("attrs", types.Text("color"), types.Text("red")), true},
		{query.MapContainsEntry("attrs", types.Text("color"), types.Text("blue")), false},
	}
	for i, tc := range cases {
		if got := query.Eval(tc.pred, row); got != tc.want {
			t.Errorf("case %d: got %t, want %t", i, got, tc.want)
		}
	}
}

func TestEval_EnumLooseMatching(t *testing.T) {
	row := doc{"state": types.EnumOf("State::Active")}
	if !query.Eval(query.Eq("state", types.EnumOf("active")), row) {
		t.Error("enum matching must accept loose lowercase form")
	}
	if !query.Eval(query.Eq("state", types.EnumOf("ACTIVE")), row) {
		t.Error("enum matching must be case-insensitive")
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	row := doc{"a": types.Int(1)}
	// And com False na frente nunca olha o resto.
	p := query.And(query.False(), query.Eq("a", types.Int(1)))
	if query.Eval(p, row) {
		t.Error("and with false must be false")
	}
	p = query.Or(query.True(), query.Eq("a", types.Int(999)))
	if !query.Eval(p, row) {
		t.Error("or with true must be true")
	}
	if !query.Eval(query.Not(query.False()), row) {
		t.Error("not(false) must be true")
	}
}
