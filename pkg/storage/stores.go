package storage

import (
	"github.com/bobboyms/icydb/pkg/stable"
)

// Nomes de store. Um data store, um index store e um fingerprint store
// por entidade, mais o store singleton do commit marker.
func DataStoreName(entity string) string        { return "data:" + entity }
func IndexStoreName(entity string) string       { return "index:" + entity }
func FingerprintStoreName(entity string) string { return "fp:" + entity }

const MarkerStoreName = "sys:marker"

// Bundle agrupa os stores de uma entidade. Todo acesso do engine a
// estado durável passa por aqui (guardado pelo recovery guard).
type Bundle struct {
	Entity      string
	Data        stable.Memory
	Index       stable.Memory
	Fingerprint stable.Memory
}

func OpenBundle(p stable.Provider, entity string) *Bundle {
	return &Bundle{
		Entity:      entity,
		Data:        p.Open(DataStoreName(entity)),
		Index:       p.Open(IndexStoreName(entity)),
		Fingerprint: p.Open(FingerprintStoreName(entity)),
	}
}

// GetRow lê a linha crua sob a DataKey.
func (b *Bundle) GetRow(k DataKey) (RawRow, bool) {
	raw, ok := b.Data.Get(k.Bytes())
	if !ok {
		return nil, false
	}
	return RawRow(raw), true
}

// GetIndexEntry lê a entrada crua sob a IndexKey codificada.
func (b *Bundle) GetIndexEntry(encodedKey []byte) (RawIndexEntry, bool) {
	raw, ok := b.Index.Get(encodedKey)
	if !ok {
		return nil, false
	}
	return RawIndexEntry(raw), true
}
