package index

import (
	"bytes"

	"github.com/bobboyms/icydb/pkg/commit"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/storage"
	"github.com/bobboyms/icydb/pkg/types"
)

// ReverseKey monta a chave do índice reverso de uma relação forte:
// kind system, identidade derivada de origem+campo, componente único com
// a pk do alvo, sufixo com a pk da origem. Vive no index store do ALVO.
func ReverseKey(sourceEntity, field string, targetPK, sourcePK []byte) []byte {
	k := storage.IndexKey{
		KeyKind:    storage.KeyKindSystem,
		IndexID:    schema.ReverseIndexID(sourceEntity, field),
		Components: [][]byte{targetPK},
		PK:         sourcePK,
	}
	return k.Encode()
}

// ReversePrefix é o prefixo de testemunhas de um alvo: todas as origens
// que o referenciam por aquela relação.
func ReversePrefix(sourceEntity, field string, targetPK []byte) []byte {
	return storage.IndexKeyPrefix(
		storage.KeyKindSystem,
		schema.ReverseIndexID(sourceEntity, field),
		1,
		[][]byte{targetPK},
	)
}

// RelationTargets extrai as pks alvo de um valor de campo de relação.
// Missing e null não referenciam nada; coleção itera elementos não-null.
func RelationTargets(v types.Value, present bool, rel *schema.RelationDef) ([]types.Value, error) {
	if !present || v.IsNull() {
		return nil, nil
	}
	if rel.Collection {
		items, ok := v.AsList()
		if !ok {
			return nil, errors.Invalid("index", "relation field %q declared as collection holds %s",
				rel.Field, v.Kind())
		}
		out := make([]types.Value, 0, len(items))
		for _, item := range items {
			if item.IsNull() {
				continue
			}
			out = append(out, item)
		}
		return out, nil
	}
	return []types.Value{v}, nil
}

// ReverseOps deriva as mudanças de índice reverso de um save/delete da
// entidade de ORIGEM: alvos que saem têm a chave reversa removida, alvos
// que entram têm a chave gravada no store do alvo. Entradas reversas são
// marcadores de presença (valor vazio).
func ReverseOps(reg *schema.Registry, m *schema.EntityModel, oldRow, newRow schema.Row, sourcePK []byte) ([]commit.Op, error) {
	var ops []commit.Op

	for i := range m.Relations {
		rel := &m.Relations[i]
		if rel.Strength != schema.Strong {
			continue
		}

		oldTargets, err := rowRelationTargets(oldRow, rel)
		if err != nil {
			return nil, err
		}
		newTargets, err := rowRelationTargets(newRow, rel)
		if err != nil {
			return nil, err
		}

		oldPKs, err := encodeTargets(oldTargets)
		if err != nil {
			return nil, err
		}
		newPKs, err := encodeTargets(newTargets)
		if err != nil {
			return nil, err
		}

		targetStore := storage.IndexStoreName(rel.Target)

		for _, oldPK := range oldPKs {
			if containsBytes(newPKs, oldPK) {
				continue
			}
			ops = append(ops, commit.Op{
				Kind:  commit.OpDelete,
				Store: targetStore,
				Key:   ReverseKey(m.Name, rel.Field, oldPK, sourcePK),
			})
		}
		for _, newPK := range newPKs {
			if containsBytes(oldPKs, newPK) {
				continue
			}
			ops = append(ops, commit.Op{
				Kind:  commit.OpPut,
				Store: targetStore,
				Key:   ReverseKey(m.Name, rel.Field, newPK, sourcePK),
				Value: []byte{},
			})
		}
	}
	return ops, nil
}

func rowRelationTargets(row schema.Row, rel *schema.RelationDef) ([]types.Value, error) {
	if row == nil {
		return nil, nil
	}
	v, present := row.Get(rel.Field)
	return RelationTargets(v, present, rel)
}

func encodeTargets(targets []types.Value) ([][]byte, error) {
	out := make([][]byte, 0, len(targets))
	for _, t := range targets {
		b, err := types.Encode(t)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func containsBytes(set [][]byte, b []byte) bool {
	for _, s := range set {
		if bytes.Equal(s, b) {
			return true
		}
	}
	return false
}

// Witnesses conta (até max) as origens vivas que referenciam o alvo por
// uma relação forte. É a consulta do strong-delete: nenhum scan do store
// de origem é necessário.
func Witnesses(targetIndex stable.Memory, sourceEntity, field string, targetPK []byte, max int) int {
	prefix := ReversePrefix(sourceEntity, field, targetPK)
	upper := storage.PrefixUpperBound(prefix)
	hi := stable.NoBound()
	if upper != nil {
		hi = stable.Excl(upper)
	}
	count := 0
	targetIndex.LimitedRange(stable.Incl(prefix), hi, stable.Asc, max, func(_, _ []byte) bool {
		count++
		return true
	})
	return count
}
