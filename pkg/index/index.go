// Package index mantém os índices secundários (incluindo únicos), os
// fingerprints de integridade e os índices reversos de relações fortes.
// As entradas são derivadas puramente do conteúdo da linha: o mesmo
// save/delete que toca a linha produz as ops de índice, na mesma janela
// de commit.
package index

import (
	"bytes"

	"github.com/bobboyms/icydb/pkg/commit"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/storage"
	"github.com/bobboyms/icydb/pkg/types"
)

// Reader é a visão de leitura que a derivação de ops usa no pre-commit.
// O engine injeta um overlay por cima do store quando está montando um
// marker de batch (ops já staged precisam ser visíveis para as próximas).
type Reader interface {
	GetIndexEntry(encodedKey []byte) (storage.RawIndexEntry, bool)
}

// Computed é a materialização de um índice para uma linha concreta.
type Computed struct {
	Index       *schema.IndexDef
	EncodedKey  []byte
	Components  [][]byte
	Fingerprint uint64
}

// ComputeEntries calcula as entradas de índice de uma linha. Valores
// não-indexáveis (missing, null, enum com payload) fazem o índice ser
// pulado para essa linha: não participam de unicidade nem aparecem no
// índice. String vazia e afins indexam normalmente.
func ComputeEntries(m *schema.EntityModel, row schema.Row, pkBytes []byte) ([]Computed, error) {
	out := make([]Computed, 0, len(m.Indexes))

	for i := range m.Indexes {
		ix := &m.Indexes[i]
		components := make([][]byte, 0, len(ix.Fields))
		indexable := true

		for _, fn := range ix.Fields {
			v, present := row.Get(fn)
			if !present || v.IsNull() || !v.Keyable() {
				indexable = false
				break
			}
			comp, err := types.Encode(v)
			if err != nil {
				indexable = false
				break
			}
			f, _ := m.Field(fn)
			if len(comp) > f.Budget() {
				return nil, errors.Invalid("index", "entity %s index %s: component %q exceeds declared budget (%d > %d)",
					m.Name, ix.Name, fn, len(comp), f.Budget())
			}
			components = append(components, comp)
		}
		if !indexable {
			continue
		}

		key := storage.IndexKey{
			KeyKind:    storage.KeyKindUser,
			IndexID:    ix.ID(),
			Components: components,
		}
		if !ix.Unique {
			key.PK = pkBytes
		}
		encoded := key.Encode()
		if len(encoded) > m.MaxIndexKeyBytes(ix) {
			return nil, errors.Invalid("index", "entity %s index %s: key of %d bytes exceeds derived maximum %d",
				m.Name, ix.Name, len(encoded), m.MaxIndexKeyBytes(ix))
		}

		out = append(out, Computed{
			Index:       ix,
			EncodedKey:  encoded,
			Components:  components,
			Fingerprint: types.Fingerprint(components...),
		})
	}
	return out, nil
}

// CheckUnique verifica a restrição de unicidade de uma entrada
// computada. selfPK permite update in-place da própria linha.
func CheckUnique(r Reader, m *schema.EntityModel, c Computed, selfPK []byte) error {
	if !c.Index.Unique {
		return nil
	}
	raw, ok := r.GetIndexEntry(c.EncodedKey)
	if !ok {
		return nil
	}
	ids, err := storage.DecodeIndexEntry(raw)
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return errors.Corrupt("index", "unique index %s.%s holds %d ids", m.Name, c.Index.Name, len(ids))
	}
	if !bytes.Equal(ids[0], selfPK) {
		return errors.NotUnique("index", "unique index %s.%s already maps this tuple to another row",
			m.Name, c.Index.Name)
	}
	return nil
}

// DiffOps deriva as ops de índice de um save: entradas do estado antigo
// que saem, entradas do novo que entram. Removes vêm antes de inserts
// para que updates in-place que mudam o valor indexado não tropecem em
// conflito de unicidade espúrio.
func DiffOps(r Reader, m *schema.EntityModel, oldEntries, newEntries []Computed, pkBytes []byte) ([]commit.Op, error) {
	indexStore := storage.IndexStoreName(m.Name)
	fpStore := storage.FingerprintStoreName(m.Name)

	newByKey := make(map[string]*Computed, len(newEntries))
	for i := range newEntries {
		newByKey[string(newEntries[i].EncodedKey)] = &newEntries[i]
	}
	oldByKey := make(map[string]*Computed, len(oldEntries))
	for i := range oldEntries {
		oldByKey[string(oldEntries[i].EncodedKey)] = &oldEntries[i]
	}

	var removes, inserts []commit.Op

	for i := range oldEntries {
		c := &oldEntries[i]
		if _, still := newByKey[string(c.EncodedKey)]; still {
			continue
		}
		op, err := removeOp(r, indexStore, c, pkBytes)
		if err != nil {
			return nil, err
		}
		removes = append(removes, op)
		if op.Kind == commit.OpDelete {
			removes = append(removes, commit.Op{Kind: commit.OpDelete, Store: fpStore, Key: c.EncodedKey})
		}
	}

	for i := range newEntries {
		c := &newEntries[i]
		if _, had := oldByKey[string(c.EncodedKey)]; had {
			continue
		}
		op, err := insertOp(r, indexStore, c, pkBytes)
		if err != nil {
			return nil, err
		}
		inserts = append(inserts, op)
		inserts = append(inserts, commit.Op{
			Kind:  commit.OpPut,
			Store: fpStore,
			Key:   c.EncodedKey,
			Value: storage.EncodeFingerprint(c.Fingerprint),
		})
	}

	return append(removes, inserts...), nil
}

// RemoveOps deriva as ops de um delete: toda entrada da linha sai.
func RemoveOps(r Reader, m *schema.EntityModel, entries []Computed, pkBytes []byte) ([]commit.Op, error) {
	return DiffOps(r, m, entries, nil, pkBytes)
}

func removeOp(r Reader, store string, c *Computed, pkBytes []byte) (commit.Op, error) {
	if c.Index.Unique {
		return commit.Op{Kind: commit.OpDelete, Store: store, Key: c.EncodedKey}, nil
	}
	raw, ok := r.GetIndexEntry(c.EncodedKey)
	if !ok {
		// Entrada sumiu debaixo de uma linha indexada: divergência.
		return commit.Op{}, errors.Corrupt("index", "index entry missing for indexed row")
	}
	ids, err := storage.DecodeIndexEntry(raw)
	if err != nil {
		return commit.Op{}, err
	}
	ids = storage.RemoveID(ids, pkBytes)
	if len(ids) == 0 {
		return commit.Op{Kind: commit.OpDelete, Store: store, Key: c.EncodedKey}, nil
	}
	updated, err := storage.EncodeIndexEntry(ids)
	if err != nil {
		return commit.Op{}, err
	}
	return commit.Op{Kind: commit.OpPut, Store: store, Key: c.EncodedKey, Value: updated}, nil
}

func insertOp(r Reader, store string, c *Computed, pkBytes []byte) (commit.Op, error) {
	if c.Index.Unique {
		entry, err := storage.EncodeIndexEntry([][]byte{pkBytes})
		if err != nil {
			return commit.Op{}, err
		}
		return commit.Op{Kind: commit.OpPut, Store: store, Key: c.EncodedKey, Value: entry}, nil
	}
	var ids [][]byte
	if raw, ok := r.GetIndexEntry(c.EncodedKey); ok {
		var err error
		ids, err = storage.DecodeIndexEntry(raw)
		if err != nil {
			return commit.Op{}, err
		}
	}
	ids = storage.AddID(ids, pkBytes)
	entry, err := storage.EncodeIndexEntry(ids)
	if err != nil {
		return commit.Op{}, err
	}
	return commit.Op{Kind: commit.OpPut, Store: store, Key: c.EncodedKey, Value: entry}, nil
}
