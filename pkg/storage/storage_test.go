package storage_test

import (
	"bytes"
	"testing"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/storage"
	"github.com/bobboyms/icydb/pkg/types"
)

// widget é a forma que o codegen emitiria para uma entidade de teste.
type widget struct {
	fields map[string]types.Value
}

func newWidget() schema.Row { return &widget{fields: make(map[string]types.Value)} }

func (w *widget) EntityName() string { return "Widget" }

func (w *widget) Get(field string) (types.Value, bool) {
	v, ok := w.fields[field]
	return v, ok
}

func (w *widget) Set(field string, v types.Value) error {
	w.fields[field] = v
	return nil
}

func widgetModel(t *testing.T) *schema.EntityModel {
	t.Helper()
	m := &schema.EntityModel{
		Name:    "Widget",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUlid},
			{Name: "name", Kind: types.KindText},
			{Name: "count", Kind: types.KindUint, Nullable: true},
			{Name: "tags", Kind: types.KindList},
		},
		Indexes: []schema.IndexDef{
			{Name: "by_name", Fields: []string{"name"}},
		},
	}
	reg := schema.NewRegistry()
	if err := reg.Register(m, newWidget); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return m
}

func TestRow_RoundTrip_MissingVsNull(t *testing.T) {
	m := widgetModel(t)

	w := newWidget()
	w.Set("id", types.NewUlid())
	w.Set("name", types.Text("gear"))
	w.Set("count", types.Null())
	// "tags" fica MISSING de propósito.

	raw, err := storage.EncodeRow(m, w)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	back, err := storage.DecodeRow(m, newWidget, raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if v, present := back.Get("count"); !present || !v.IsNull() {
		t.Error("null field must survive as present-null")
	}
	if _, present := back.Get("tags"); present {
		t.Error("missing field must survive as missing")
	}
	name, _ := back.Get("name")
	if s, _ := name.AsText(); s != "gear" {
		t.Errorf("name round-tripped into %q", s)
	}
}

func TestRow_UnknownFieldIsCorruption(t *testing.T) {
	m := widgetModel(t)

	// Um modelo mais largo produz bytes com um campo que o modelo
	// estreito não conhece.
	wide := &schema.EntityModel{
		Name:    "Widget",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUlid},
			{Name: "name", Kind: types.KindText},
			{Name: "count", Kind: types.KindUint, Nullable: true},
			{Name: "tags", Kind: types.KindList},
			{Name: "ghost", Kind: types.KindText},
		},
	}
	reg := schema.NewRegistry()
	if err := reg.Register(wide, newWidget); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	w := newWidget()
	w.Set("id", types.NewUlid())
	w.Set("ghost", types.Text("boo"))
	raw, err := storage.EncodeRow(wide, w)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, err := storage.DecodeRow(m, newWidget, raw); !errors.IsCorruption(err) {
		t.Errorf("unknown persisted field must decode as corruption, got %v", err)
	}
}

func TestRow_TruncatedAndOversized(t *testing.T) {
	m := widgetModel(t)

	if _, err := storage.DecodeRow(m, newWidget, storage.RawRow{0x00, 0x01}); !errors.IsCorruption(err) {
		t.Errorf("truncated prefix must be corruption, got %v", err)
	}

	// Prefixo de tamanho que discorda do corpo.
	bad := storage.RawRow{0x00, 0x00, 0x00, 0x10, 0xA0}
	if _, err := storage.DecodeRow(m, newWidget, bad); !errors.IsCorruption(err) {
		t.Errorf("length disagreement must be corruption, got %v", err)
	}

	// Prefixo declarando MaxRowBytes+1: recusado antes do decoder.
	oversized := storage.RawRow{0x00, 0x10, 0x00, 0x01}
	if _, err := storage.DecodeRow(m, newWidget, oversized); !errors.IsCorruption(err) {
		t.Errorf("oversized row must be corruption, got %v", err)
	}
}

func TestIndexKey_RoundTrip(t *testing.T) {
	var id [8]byte
	copy(id[:], []byte("idx00001"))

	k := storage.IndexKey{
		KeyKind:    storage.KeyKindUser,
		IndexID:    id,
		Components: [][]byte{[]byte("alpha"), {0x00, 0x01}},
		PK:         []byte("pk-bytes"),
	}
	raw := k.Encode()
	back, err := storage.DecodeIndexKey(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.KeyKind != k.KeyKind || back.IndexID != k.IndexID {
		t.Error("index key header changed in round trip")
	}
	if len(back.Components) != 2 || !bytes.Equal(back.Components[0], []byte("alpha")) {
		t.Error("components changed in round trip")
	}
	if !bytes.Equal(back.PK, k.PK) {
		t.Error("pk suffix changed in round trip")
	}
}

func TestIndexKey_DecodeRejectsMalformed(t *testing.T) {
	var id [8]byte
	k := storage.IndexKey{KeyKind: storage.KeyKindUser, IndexID: id, Components: [][]byte{[]byte("x")}}
	raw := k.Encode()

	if _, err := storage.DecodeIndexKey(raw[:5]); !errors.IsCorruption(err) {
		t.Error("truncated index key must be corruption")
	}

	bad := append([]byte(nil), raw...)
	bad[0] = 0x7F // key kind desconhecido
	if _, err := storage.DecodeIndexKey(bad); !errors.IsCorruption(err) {
		t.Error("unknown key kind must be corruption")
	}

	if _, err := storage.DecodeIndexKey(append(raw, 0xFF)); !errors.IsCorruption(err) {
		t.Error("trailing bytes must be corruption")
	}
}

func TestIndexEntry_RoundTripAndBounds(t *testing.T) {
	ids := [][]byte{[]byte("b"), []byte("a"), []byte("c")}
	raw, err := storage.EncodeIndexEntry(ids)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	back, err := storage.DecodeIndexEntry(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	// Canonicamente ordenado.
	if string(back[0]) != "a" || string(back[1]) != "b" || string(back[2]) != "c" {
		t.Errorf("ids not canonically sorted: %q", back)
	}

	if _, err := storage.DecodeIndexEntry(raw[:len(raw)-1]); !errors.IsCorruption(err) {
		t.Error("truncated entry must be corruption")
	}
}

func TestAddRemoveID(t *testing.T) {
	ids := storage.AddID(nil, []byte("x"))
	ids = storage.AddID(ids, []byte("x")) // idempotente
	if len(ids) != 1 {
		t.Fatalf("AddID duplicated: %d", len(ids))
	}
	ids = storage.RemoveID(ids, []byte("x"))
	if len(ids) != 0 {
		t.Fatalf("RemoveID left %d", len(ids))
	}
}

func TestPrefixUpperBound(t *testing.T) {
	if got := storage.PrefixUpperBound([]byte{0x01, 0x02}); !bytes.Equal(got, []byte{0x01, 0x03}) {
		t.Errorf("got %x", got)
	}
	if got := storage.PrefixUpperBound([]byte{0x01, 0xFF}); !bytes.Equal(got, []byte{0x02}) {
		t.Errorf("got %x", got)
	}
	if got := storage.PrefixUpperBound([]byte{0xFF, 0xFF}); got != nil {
		t.Errorf("all-0xFF prefix has no upper bound, got %x", got)
	}
}

func TestDataKey_ParseAndBytes(t *testing.T) {
	id := types.NewUlid()
	m := widgetModel(t)
	dk, err := storage.DataKeyFromValue(m, id)
	if err != nil {
		t.Fatalf("data key failed: %v", err)
	}
	back, err := storage.ParseDataKey("Widget", dk.Bytes())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !bytes.Equal(back.StorageKey(), dk.StorageKey()) {
		t.Error("storage key changed in round trip")
	}
	if _, err := storage.ParseDataKey("Other", dk.Bytes()); !errors.IsCorruption(err) {
		t.Error("wrong entity prefix must be corruption")
	}
}
