package index_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/bobboyms/icydb/pkg/commit"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/index"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/storage"
	"github.com/bobboyms/icydb/pkg/types"
)

type row map[string]types.Value

func (r row) EntityName() string { return "Doc" }

func (r row) Get(field string) (types.Value, bool) {
	v, ok := r[field]
	return v, ok
}

func (r row) Set(field string, v types.Value) error {
	r[field] = v
	return nil
}

func docModel(t *testing.T) (*schema.EntityModel, *schema.Registry) {
	t.Helper()
	m := &schema.EntityModel{
		Name:    "Doc",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUint},
			{Name: "kindof", Kind: types.KindText, Nullable: true},
			{Name: "size", Kind: types.KindUint},
		},
		Indexes: []schema.IndexDef{
			{Name: "by_kind", Fields: []string{"kindof"}},
			{Name: "by_size", Fields: []string{"size"}, Unique: true},
		},
	}
	reg := schema.NewRegistry()
	if err := reg.Register(m, func() schema.Row { return row{} }); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return m, reg
}

func pkOf(t *testing.T, id uint64) []byte {
	t.Helper()
	b, err := types.Encode(types.Uint(id))
	if err != nil {
		t.Fatalf("encode pk: %v", err)
	}
	return b
}

func TestComputeEntries_SkipsNullAndMissing(t *testing.T) {
	m, _ := docModel(t)

	// kindof null: by_kind pulado; by_size entra.
	r := row{"id": types.Uint(1), "kindof": types.Null(), "size": types.Uint(10)}
	entries, err := index.ComputeEntries(m, r, pkOf(t, 1))
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Index.Name != "by_size" {
		t.Fatalf("null component must skip the index, got %d entries", len(entries))
	}

	// kindof missing: idem.
	r = row{"id": types.Uint(2), "size": types.Uint(11)}
	entries, err = index.ComputeEntries(m, r, pkOf(t, 2))
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("missing component must skip the index, got %d entries", len(entries))
	}

	// String vazia indexa normalmente.
	r = row{"id": types.Uint(3), "kindof": types.Text(""), "size": types.Uint(12)}
	entries, err = index.ComputeEntries(m, r, pkOf(t, 3))
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("empty string must index, got %d entries", len(entries))
	}
}

func applyOps(p stable.Provider, ops []commit.Op) {
	for _, op := range ops {
		mem := p.Open(op.Store)
		if op.Kind == commit.OpPut {
			mem.Put(op.Key, op.Value)
		} else {
			mem.Delete(op.Key)
		}
	}
}

func TestDiffOps_RemovesBeforeInserts(t *testing.T) {
	m, _ := docModel(t)
	p := stable.NewMemProvider()
	b := storage.OpenBundle(p, "Doc")

	oldRow := row{"id": types.Uint(1), "kindof": types.Text("a"), "size": types.Uint(10)}
	newRow := row{"id": types.Uint(1), "kindof": types.Text("b"), "size": types.Uint(10)}

	oldE, err := index.ComputeEntries(m, oldRow, pkOf(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	ops, err := index.DiffOps(b, m, nil, oldE, pkOf(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	applyOps(p, ops)

	newE, err := index.ComputeEntries(m, newRow, pkOf(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	ops, err = index.DiffOps(b, m, oldE, newE, pkOf(t, 1))
	if err != nil {
		t.Fatal(err)
	}

	// Tem de haver um delete (kindof=a) antes de qualquer put novo.
	sawDelete := false
	for _, op := range ops {
		if op.Kind == commit.OpDelete {
			sawDelete = true
		}
		if op.Kind == commit.OpPut && op.Store == storage.IndexStoreName("Doc") && !sawDelete {
			t.Fatal("inserts must come after removes for in-place updates")
		}
	}
	if !sawDelete {
		t.Fatal("changing an indexed value must remove the old entry")
	}
}

func TestCheckUnique_ConflictAndSelf(t *testing.T) {
	m, _ := docModel(t)
	p := stable.NewMemProvider()
	b := storage.OpenBundle(p, "Doc")

	r1 := row{"id": types.Uint(1), "size": types.Uint(10)}
	e1, _ := index.ComputeEntries(m, r1, pkOf(t, 1))
	ops, err := index.DiffOps(b, m, nil, e1, pkOf(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	applyOps(p, ops)

	// Mesmo tuple, outra pk: conflito NotUnique.
	r2 := row{"id": types.Uint(2), "size": types.Uint(10)}
	e2, _ := index.ComputeEntries(m, r2, pkOf(t, 2))
	var uniq *index.Computed
	for i := range e2 {
		if e2[i].Index.Unique {
			uniq = &e2[i]
		}
	}
	err = index.CheckUnique(b, m, *uniq, pkOf(t, 2))
	if !errors.IsConflict(err) || errors.CodeOf(err) != errors.CodeNotUnique {
		t.Errorf("expected not-unique conflict, got %v", err)
	}

	// A própria linha passa (update in-place).
	if err := index.CheckUnique(b, m, *uniq, pkOf(t, 1)); err != nil {
		t.Errorf("self update must pass unique check, got %v", err)
	}
}

func TestReverse_KeysAndWitnesses(t *testing.T) {
	p := stable.NewMemProvider()
	targetIndex := p.Open(storage.IndexStoreName("Customer"))

	targetPK := pkOf(t, 77)
	for i := 0; i < 3; i++ {
		key := index.ReverseKey("Order", "customer", targetPK, pkOf(t, uint64(100+i)))
		targetIndex.Put(key, []byte{})
	}
	// Outro alvo não conta.
	targetIndex.Put(index.ReverseKey("Order", "customer", pkOf(t, 78), pkOf(t, 200)), []byte{})

	if n := index.Witnesses(targetIndex, "Order", "customer", targetPK, 10); n != 3 {
		t.Errorf("witnesses = %d, want 3", n)
	}
	if n := index.Witnesses(targetIndex, "Order", "customer", targetPK, 1); n != 1 {
		t.Errorf("witness early-stop = %d, want 1", n)
	}
	if n := index.Witnesses(targetIndex, "Order", "customer", pkOf(t, 99), 10); n != 0 {
		t.Errorf("witnesses of unreferenced target = %d, want 0", n)
	}
}

func TestRebuild_FailClosedRestoresSnapshot(t *testing.T) {
	m, reg := docModel(t)
	p := stable.NewMemProvider()
	b := storage.OpenBundle(p, "Doc")

	// Linha boa com índices corretos.
	good := row{"id": types.Uint(1), "kindof": types.Text("a"), "size": types.Uint(10)}
	raw, err := storage.EncodeRow(m, good)
	if err != nil {
		t.Fatal(err)
	}
	dk, _ := storage.DataKeyFromValue(m, types.Uint(1))
	b.Data.Put(dk.Bytes(), raw)

	entries, _ := index.ComputeEntries(m, good, pkOf(t, 1))
	ops, _ := index.DiffOps(b, m, nil, entries, pkOf(t, 1))
	applyOps(p, ops)
	preLen := b.Index.Len()

	// Rebuild limpo reconstrói o mesmo estado.
	if err := index.Rebuild(p, reg, zerolog.Nop()); err != nil {
		t.Fatalf("clean rebuild failed: %v", err)
	}
	if b.Index.Len() != preLen {
		t.Fatalf("rebuild changed index cardinality: %d != %d", b.Index.Len(), preLen)
	}

	// Linha podre: rebuild aborta e restaura o snapshot pré-rebuild.
	dk2, _ := storage.DataKeyFromValue(m, types.Uint(2))
	b.Data.Put(dk2.Bytes(), []byte{0xDE, 0xAD})

	err = index.Rebuild(p, reg, zerolog.Nop())
	if !errors.IsCorruption(err) {
		t.Fatalf("rebuild over a bad row must fail closed, got %v", err)
	}
	if b.Index.Len() != preLen {
		t.Errorf("failed rebuild must restore the pre-rebuild snapshot")
	}
}
