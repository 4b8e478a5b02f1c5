package storage

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/bobboyms/icydb/pkg/errors"
)

// MaxIndexEntryIDs limita o conjunto de ids de uma entrada não-única.
const MaxIndexEntryIDs = 4096

// RawIndexEntry é o conjunto (ordenado, sem duplicatas) de storage keys
// apontadas por uma chave de índice: [count:u16be]{[len:u16be][sk]}×count.
// Índices únicos gravam exatamente um id.
type RawIndexEntry []byte

// EncodeIndexEntry serializa o conjunto. Os ids entram canonicamente
// ordenados por bytes para que entradas iguais tenham bytes iguais.
func EncodeIndexEntry(ids [][]byte) (RawIndexEntry, error) {
	if len(ids) > MaxIndexEntryIDs {
		return nil, errors.Invariant("storage", "index entry with %d ids (cap %d)", len(ids), MaxIndexEntryIDs)
	}
	sorted := make([][]byte, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	size := 2
	for _, id := range sorted {
		size += 2 + len(id)
	}
	out := make([]byte, 0, size)
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(len(sorted)))
	out = append(out, buf[:]...)
	for _, id := range sorted {
		binary.BigEndian.PutUint16(buf[:], uint16(len(id)))
		out = append(out, buf[:]...)
		out = append(out, id...)
	}
	return RawIndexEntry(out), nil
}

// DecodeIndexEntry desfaz a moldura com orçamento.
func DecodeIndexEntry(raw RawIndexEntry) ([][]byte, error) {
	if len(raw) < 2 {
		return nil, errors.Corrupt("storage", "index entry truncated")
	}
	count := int(binary.BigEndian.Uint16(raw[:2]))
	if count > MaxIndexEntryIDs {
		return nil, errors.Corrupt("storage", "index entry declares %d ids (cap %d)", count, MaxIndexEntryIDs)
	}
	ids := make([][]byte, 0, count)
	off := 2
	for i := 0; i < count; i++ {
		if off+2 > len(raw) {
			return nil, errors.Corrupt("storage", "index entry id %d header truncated", i)
		}
		n := int(binary.BigEndian.Uint16(raw[off : off+2]))
		off += 2
		if off+n > len(raw) {
			return nil, errors.Corrupt("storage", "index entry id %d body truncated", i)
		}
		ids = append(ids, append([]byte(nil), raw[off:off+n]...))
		off += n
	}
	if off != len(raw) {
		return nil, errors.Corrupt("storage", "index entry framing mismatch")
	}
	return ids, nil
}

// AddID devolve o conjunto com o id incluído (no-op se já presente).
func AddID(ids [][]byte, id []byte) [][]byte {
	for _, existing := range ids {
		if bytes.Equal(existing, id) {
			return ids
		}
	}
	return append(ids, append([]byte(nil), id...))
}

// RemoveID devolve o conjunto sem o id (no-op se ausente).
func RemoveID(ids [][]byte, id []byte) [][]byte {
	out := ids[:0]
	for _, existing := range ids {
		if !bytes.Equal(existing, id) {
			out = append(out, existing)
		}
	}
	return out
}

// EncodeFingerprint serializa o hash de integridade (8 bytes BE).
func EncodeFingerprint(fp uint64) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], fp)
	return out[:]
}

func DecodeFingerprint(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, errors.Corrupt("storage", "fingerprint with %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
