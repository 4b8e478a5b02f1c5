package query_test

import (
	"strings"
	"testing"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/query"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

func itemModel(t *testing.T) *schema.EntityModel {
	t.Helper()
	m := &schema.EntityModel{
		Name:    "Item",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUlid},
			{Name: "tag", Kind: types.KindUint},
			{Name: "rank", Kind: types.KindUint},
			{Name: "label", Kind: types.KindText},
			{Name: "note", Kind: types.KindText, Nullable: true},
		},
		Indexes: []schema.IndexDef{
			{Name: "by_tag_rank", Fields: []string{"tag", "rank"}},
			{Name: "by_label", Fields: []string{"label"}, Unique: true},
		},
	}
	reg := schema.NewRegistry()
	if err := reg.Register(m, func() schema.Row { return doc{} }); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return m
}

func TestPlan_PKEqualityBecomesKeyLookup(t *testing.T) {
	m := itemModel(t)
	id := types.NewUlid()

	i := query.NewIntent("Item").Where(query.Eq("id", id))
	p, err := query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Access.Kind != query.AccessKey {
		t.Errorf("pk equality must plan as Key, got %s", p.Access.Kind)
	}
	if p.HasResidual {
		t.Error("consumed pk equality must not leave residual")
	}
}

func TestPlan_IndexPrefixAndRange(t *testing.T) {
	m := itemModel(t)

	// Igualdade no prefixo do índice composto.
	i := query.NewIntent("Item").Where(query.Eq("tag", types.Uint(7)))
	p, err := query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Access.Kind != query.AccessIndexPrefix || p.Access.Index.Name != "by_tag_rank" {
		t.Fatalf("expected IndexPrefix on by_tag_rank, got %s", p.Explain())
	}

	// Igualdade + range no componente seguinte.
	i = query.NewIntent("Item").Where(query.And(
		query.Eq("tag", types.Uint(7)),
		query.Gte("rank", types.Uint(100)),
		query.Lte("rank", types.Uint(200)),
	))
	p, err = query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Access.Kind != query.AccessIndexRange {
		t.Fatalf("expected IndexRange, got %s", p.Explain())
	}
	if p.HasResidual {
		t.Errorf("range fully consumed must not leave residual: %s", p.Explain())
	}
}

func TestPlan_ResidualKeepsUncompilable(t *testing.T) {
	m := itemModel(t)
	i := query.NewIntent("Item").Where(query.And(
		query.Eq("tag", types.Uint(7)),
		query.TextContains("label", "blue"),
	))
	p, err := query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Access.Kind != query.AccessIndexPrefix {
		t.Fatalf("expected IndexPrefix, got %s", p.Access.Kind)
	}
	if !p.HasResidual || !strings.Contains(p.Residual.String(), "contains") {
		t.Errorf("uncompilable child must survive as residual: %s", p.Explain())
	}
}

func TestPlan_RangeLimitPushdown(t *testing.T) {
	m := itemModel(t)
	i := query.NewIntent("Item").
		Where(query.And(
			query.Eq("tag", types.Uint(7)),
			query.Gte("rank", types.Uint(100)),
			query.Lte("rank", types.Uint(200)),
		)).
		OrderBy("rank").
		WithLimit(10)
	p, err := query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Mode != query.ModeFastRangeLimit {
		t.Fatalf("expected range+limit pushdown, got %s", p.Explain())
	}
	if p.PushLimit != 11 { // offset(0) + limit(10) + 1
		t.Errorf("push limit = %d, want 11", p.PushLimit)
	}
	if p.PostOrder {
		t.Error("pushdown must not need post-access ordering")
	}
}

func TestPlan_PushdownDeniedForNullableOrVariableWidth(t *testing.T) {
	m := itemModel(t)

	// note é nullable: nulls não entram no índice, a ordem canônica não
	// casa com o que o índice entrega.
	i := query.NewIntent("Item").OrderBy("note").WithLimit(5)
	p, err := query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !p.PostOrder {
		t.Error("nullable order field must force post-access ordering")
	}

	// label é texto (largura variável): moldura quebra a ordem.
	i = query.NewIntent("Item").Where(query.Gt("label", types.Text("a"))).OrderBy("label").WithLimit(5)
	p, err = query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Mode == query.ModeFastRangeLimit {
		t.Error("variable-width range component must not push down")
	}
}

func TestPlan_UnorderedPaginationRejected(t *testing.T) {
	m := itemModel(t)
	i := query.NewIntent("Item").WithLimit(5)
	_, err := query.PlanLoad(m, i)
	if !errors.IsValidation(err) || errors.CodeOf(err) != errors.CodeUnsupported {
		t.Errorf("pagination without order must be unsupported, got %v", err)
	}

	i = query.NewIntent("Item").OrderBy("rank").WithOffset(1).WithCursor("aa")
	_, err = query.PlanLoad(m, i)
	if errors.CodeOf(err) != errors.CodeUnsupported {
		t.Errorf("cursor+offset must be unsupported, got %v", err)
	}
}

func TestPlan_ValidationErrors(t *testing.T) {
	m := itemModel(t)

	cases := []struct {
		name string
		in   *query.Intent
	}{
		{"unknown field", query.NewIntent("Item").Where(query.Eq("ghost", types.Int(1)))},
		{"text op on numeric field", query.NewIntent("Item").Where(query.StartsWith("rank", "x"))},
		{"order by unknown field", query.NewIntent("Item").OrderBy("ghost")},
		{"coercion family mismatch", query.NewIntent("Item").Where(query.Eq("rank", types.Text("7")))},
		{"negative limit", query.NewIntent("Item").OrderBy("rank").WithLimit(-1)},
	}
	for _, tc := range cases {
		if _, err := query.PlanLoad(m, tc.in); !errors.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestPlan_CanonicalOrderAppendsPK(t *testing.T) {
	m := itemModel(t)
	i := query.NewIntent("Item").Where(query.Eq("tag", types.Uint(1))).OrderBy("rank")
	p, err := query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	last := p.Order[len(p.Order)-1]
	if last.Field != "id" {
		t.Errorf("canonical order must end with pk tie-break, got %v", p.Order)
	}
	if p.UserTerms != 1 {
		t.Errorf("user terms = %d, want 1", p.UserTerms)
	}
}

func TestPlan_DeterministicAndNormalizationInvariant(t *testing.T) {
	m := itemModel(t)

	build := func(reversed bool) *query.Intent {
		a := query.Eq("tag", types.Uint(7))
		b := query.Gte("rank", types.Uint(10))
		if reversed {
			return query.NewIntent("Item").Where(query.And(b, a))
		}
		return query.NewIntent("Item").Where(query.And(a, b))
	}

	p1, err := query.PlanLoad(m, build(false))
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	p2, err := query.PlanLoad(m, build(true))
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	// plan(i) == plan(normalize(i)): filhos em ordem diferente produzem
	// o mesmo plano (mesma assinatura, mesma renderização).
	if p1.Signature != p2.Signature || p1.Explain() != p2.Explain() {
		t.Errorf("equivalent intents produced different plans:\n%s\n%s", p1.Explain(), p2.Explain())
	}
}

func TestPlan_CompositeUnionFromTopLevelOr(t *testing.T) {
	m := itemModel(t)
	i := query.NewIntent("Item").Where(query.Or(
		query.Eq("label", types.Text("a")),
		query.Eq("tag", types.Uint(3)),
	))
	p, err := query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Access.Kind != query.AccessComposite || p.Access.SetOp != query.SetUnion {
		t.Fatalf("expected composite union, got %s", p.Explain())
	}
	if len(p.Access.Children) != 2 {
		t.Errorf("union children = %d, want 2", len(p.Access.Children))
	}

	// Or com filho incompilável cai para scan com resíduo (fail-closed).
	i = query.NewIntent("Item").Where(query.Or(
		query.Eq("tag", types.Uint(3)),
		query.TextContains("label", "x"),
	))
	p, err = query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Access.Kind != query.AccessPrimaryScan || !p.HasResidual {
		t.Errorf("uncompilable or-child must fall back to scan+residual: %s", p.Explain())
	}
}

func TestPlan_ByIDsDedupAndEmpty(t *testing.T) {
	m := itemModel(t)
	id := types.NewUlid()

	i := query.NewIntent("Item").ByIDs(id, id)
	p, err := query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Access.Kind != query.AccessKey || len(p.Access.PKs) != 1 {
		t.Errorf("duplicate ids must dedup, got %d keys", len(p.Access.PKs))
	}

	i = query.NewIntent("Item").ByIDs()
	p, err = query.PlanLoad(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.Access.Kind != query.AccessKeys || len(p.Access.PKs) != 0 {
		t.Errorf("empty by_ids must plan as empty Keys access")
	}
}

func TestPlan_CursorSignatureMismatch(t *testing.T) {
	m := itemModel(t)

	// Cursor emitido por um plano...
	c := &query.Cursor{Version: query.CursorVersion, Signature: 12345, Boundary: [][]byte{{0x02, 0x01}, {0x02, 0x02}}}
	token, err := c.Encode()
	if err != nil {
		t.Fatalf("cursor encode failed: %v", err)
	}

	// ...usado contra outro shape: recusa com Unsupported.
	i := query.NewIntent("Item").Where(query.Eq("tag", types.Uint(1))).OrderBy("rank").WithLimit(2).WithCursor(token)
	_, err = query.PlanLoad(m, i)
	if errors.CodeOf(err) != errors.CodeUnsupported {
		t.Errorf("cursor against different plan shape must be unsupported, got %v", err)
	}
}

func TestPlan_DeleteGates(t *testing.T) {
	m := itemModel(t)

	i := query.NewIntent("Item").WithDeleteLimit(3)
	if _, err := query.PlanDelete(m, i); errors.CodeOf(err) != errors.CodeUnsupported {
		t.Error("bounded delete without order must be unsupported")
	}

	i = query.NewIntent("Item").OrderBy("rank").WithDeleteLimit(3)
	p, err := query.PlanDelete(m, i)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.DeleteLimit != 3 {
		t.Errorf("delete limit = %d, want 3", p.DeleteLimit)
	}

	i = query.NewIntent("Item").WithLimit(1)
	if _, err := query.PlanDelete(m, i); !errors.IsValidation(err) {
		t.Error("delete with pagination must be invalid")
	}
}

func TestCompileModes(t *testing.T) {
	m := itemModel(t)

	// Conservador: o filho incompilável vira resíduo.
	comp := query.CompileConservative(m, query.Normalize(query.And(
		query.Eq("tag", types.Uint(1)),
		query.TextContainsCi("label", "x"),
	)))
	if len(comp.Constraints) != 1 || len(comp.Residual) != 1 {
		t.Errorf("conservative compile: constraints=%d residual=%d", len(comp.Constraints), len(comp.Residual))
	}

	// Estrito: tudo compila ou nada.
	if _, ok := query.CompileStrict(m, query.And(
		query.Eq("tag", types.Uint(1)),
		query.TextContainsCi("label", "x"),
	)); ok {
		t.Error("strict compile must fail when any node does not compile")
	}
	if comp, ok := query.CompileStrict(m, query.Eq("tag", types.Uint(1))); !ok || len(comp.Constraints) != 1 {
		t.Error("strict compile of a compilable predicate must succeed")
	}
}
