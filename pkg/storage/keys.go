// Package storage define os dois keyspaces tipados do engine —
// DataKey -> RawRow e IndexKey -> RawIndexEntry (mais a tabela de
// fingerprints) — por cima da memória estável do host. O layout de bytes
// daqui é wire-stable: mudou, quebrou disco.
package storage

import (
	"bytes"
	"encoding/binary"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// Key kinds do primeiro byte de IndexKey.
const (
	KeyKindUser   = 0x00
	KeyKindSystem = 0x01 // índices reversos de relações fortes
)

// DataKey = entity_name || storage_key. Cada entidade tem seu próprio
// data store, mas o nome entra na chave mesmo assim: o layout é estável
// e auto-descritivo num dump.
type DataKey struct {
	entity string
	sk     []byte
}

func NewDataKey(entity string, storageKey []byte) DataKey {
	return DataKey{entity: entity, sk: append([]byte(nil), storageKey...)}
}

// DataKeyFromValue codifica o valor da pk e monta a DataKey.
func DataKeyFromValue(m *schema.EntityModel, pk types.Value) (DataKey, error) {
	skBytes, err := types.Encode(pk)
	if err != nil {
		return DataKey{}, err
	}
	return NewDataKey(m.Name, skBytes), nil
}

func (k DataKey) Entity() string      { return k.entity }
func (k DataKey) StorageKey() []byte  { return k.sk }

func (k DataKey) Bytes() []byte {
	out := make([]byte, 0, len(k.entity)+len(k.sk))
	out = append(out, k.entity...)
	return append(out, k.sk...)
}

// ParseDataKey desfaz entity_name || storage_key. Só devolve a storage
// key crua: a tradução para Id<E> acontece acima da fronteira de storage.
func ParseDataKey(entity string, raw []byte) (DataKey, error) {
	prefix := []byte(entity)
	if !bytes.HasPrefix(raw, prefix) {
		return DataKey{}, errors.Corrupt("storage", "data key without %q prefix", entity)
	}
	sk := raw[len(prefix):]
	if len(sk) == 0 {
		return DataKey{}, errors.Corrupt("storage", "data key for %q without storage key", entity)
	}
	return NewDataKey(entity, sk), nil
}

// IndexKey é o layout canônico v2, de largura variável e com molduras:
//
//	[key_kind:u8][index_id:8][component_count:u8]
//	{ [component_len:u16be][component_bytes] } × count
//	[pk_len:u16be][pk_bytes]
//
// O sufixo de pk garante ordem total em índices não-únicos; índices
// únicos gravam moldura de pk vazia (a tupla É a chave).
type IndexKey struct {
	KeyKind    uint8
	IndexID    [8]byte
	Components [][]byte
	PK         []byte
}

func (k IndexKey) Encode() []byte {
	size := 1 + 8 + 1
	for _, c := range k.Components {
		size += 2 + len(c)
	}
	size += 2 + len(k.PK)

	out := make([]byte, 0, size)
	out = append(out, k.KeyKind)
	out = append(out, k.IndexID[:]...)
	out = append(out, byte(len(k.Components)))
	var lenBuf [2]byte
	for _, c := range k.Components {
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(c)))
		out = append(out, lenBuf[:]...)
		out = append(out, c...)
	}
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(k.PK)))
	out = append(out, lenBuf[:]...)
	out = append(out, k.PK...)
	return out
}

// DecodeIndexKey decodifica com orçamento: recusa truncado, sobrando
// bytes, ou contagem acima do máximo declarável.
func DecodeIndexKey(raw []byte) (IndexKey, error) {
	var k IndexKey
	if len(raw) < 1+8+1+2 {
		return k, errors.Corrupt("storage", "index key truncated (%d bytes)", len(raw))
	}
	k.KeyKind = raw[0]
	if k.KeyKind != KeyKindUser && k.KeyKind != KeyKindSystem {
		return k, errors.Corrupt("storage", "unknown index key kind 0x%02x", k.KeyKind)
	}
	copy(k.IndexID[:], raw[1:9])
	count := int(raw[9])
	if count > schema.MaxIndexComponents {
		return k, errors.Corrupt("storage", "index key with %d components", count)
	}
	off := 10
	k.Components = make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(raw) {
			return k, errors.Corrupt("storage", "index key component %d header truncated", i)
		}
		n := int(binary.BigEndian.Uint16(raw[off : off+2]))
		off += 2
		if off+n > len(raw) {
			return k, errors.Corrupt("storage", "index key component %d body truncated", i)
		}
		k.Components = append(k.Components, append([]byte(nil), raw[off:off+n]...))
		off += n
	}
	if off+2 > len(raw) {
		return k, errors.Corrupt("storage", "index key pk header truncated")
	}
	n := int(binary.BigEndian.Uint16(raw[off : off+2]))
	off += 2
	if off+n != len(raw) {
		return k, errors.Corrupt("storage", "index key framing mismatch")
	}
	k.PK = append([]byte(nil), raw[off:off+n]...)
	return k, nil
}

// IndexKeyPrefix monta o prefixo de range para equality nos primeiros
// componentes: moldura idêntica ao Encode, truncada antes dos componentes
// restantes e do sufixo de pk. totalCount é a contagem do índice inteiro
// (toda chave do índice grava a mesma), não a de componentes fornecidos.
func IndexKeyPrefix(keyKind uint8, id [8]byte, totalCount int, components [][]byte) []byte {
	out := make([]byte, 0, 10+len(components)*2)
	out = append(out, keyKind)
	out = append(out, id[:]...)
	out = append(out, byte(totalCount))
	return appendFramed(out, components)
}

func appendFramed(dst []byte, components [][]byte) []byte {
	var lenBuf [2]byte
	for _, c := range components {
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(c)))
		dst = append(dst, lenBuf[:]...)
		dst = append(dst, c...)
	}
	return dst
}

// PrefixUpperBound devolve o menor byte-string estritamente maior que
// todo key com o prefixo dado, ou nil se não existe (prefixo todo 0xFF).
func PrefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
