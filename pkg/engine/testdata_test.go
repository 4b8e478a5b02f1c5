package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bobboyms/icydb/pkg/engine"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/types"
)

// row genérica de teste, a forma que o codegen emitiria.
type row struct {
	entity string
	fields map[string]types.Value
}

func (r *row) EntityName() string { return r.entity }

func (r *row) Get(field string) (types.Value, bool) {
	v, ok := r.fields[field]
	return v, ok
}

func (r *row) Set(field string, v types.Value) error {
	r.fields[field] = v
	return nil
}

func newRow(entity string, fields map[string]types.Value) *row {
	cp := make(map[string]types.Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &row{entity: entity, fields: cp}
}

func factoryFor(entity string) func() schema.Row {
	return func() schema.Row { return &row{entity: entity, fields: make(map[string]types.Value)} }
}

// testRegistry monta o schema dos cenários: User, Item e o par
// Customer/Order com relação forte.
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	must := func(m *schema.EntityModel) {
		if err := reg.Register(m, factoryFor(m.Name)); err != nil {
			t.Fatalf("register %s failed: %v", m.Name, err)
		}
	}

	must(&schema.EntityModel{
		Name:    "User",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUlid},
			{Name: "name", Kind: types.KindText},
			{Name: "email", Kind: types.KindText},
			{Name: "created_at", Kind: types.KindTimestamp},
		},
		Indexes: []schema.IndexDef{
			{Name: "by_email", Fields: []string{"email"}, Unique: true},
		},
	})

	must(&schema.EntityModel{
		Name:    "Item",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUlid},
			{Name: "tag", Kind: types.KindUint},
			{Name: "rank", Kind: types.KindUint},
		},
		Indexes: []schema.IndexDef{
			{Name: "by_tag_rank", Fields: []string{"tag", "rank"}},
		},
	})

	must(&schema.EntityModel{
		Name:    "Customer",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUlid},
			{Name: "name", Kind: types.KindText},
		},
	})

	must(&schema.EntityModel{
		Name:    "Order",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUlid},
			{Name: "customer", Kind: types.KindUlid},
			{Name: "total", Kind: types.KindUint},
		},
		Relations: []schema.RelationDef{
			{Field: "customer", Target: "Customer", Strength: schema.Strong},
		},
	})

	return reg
}

func testEngine(t *testing.T) (*engine.Engine, stable.Provider) {
	t.Helper()
	p := stable.NewMemProvider()
	eng, err := engine.New(p, testRegistry(t), engine.Options{})
	if err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	return eng, p
}

// ulidAt gera ULIDs determinísticos e crescentes para os cenários.
func ulidAt(t *testing.T, n int) types.Value {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err := ulid.New(ulid.Timestamp(base.Add(time.Duration(n)*time.Second)), deterministicReader(n))
	if err != nil {
		t.Fatalf("ulid generation failed: %v", err)
	}
	return types.Ulid(id)
}

type deterministicReader int

func (r deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(int(r)*31 + i)
	}
	return len(p), nil
}

func userRow(t *testing.T, n int, name string, createdAt int64) *row {
	t.Helper()
	return newRow("User", map[string]types.Value{
		"id":         ulidAt(t, n),
		"name":       types.Text(name),
		"email":      types.Text(fmt.Sprintf("%s@example.com", name)),
		"created_at": types.TimestampFromNanos(createdAt),
	})
}

func itemRow(t *testing.T, n int, tag, rank uint64) *row {
	t.Helper()
	return newRow("Item", map[string]types.Value{
		"id":   ulidAt(t, n),
		"tag":  types.Uint(tag),
		"rank": types.Uint(rank),
	})
}
