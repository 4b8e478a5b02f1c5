package session

import (
	"github.com/bobboyms/icydb/pkg/engine"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// Insert grava uma linha nova; falha se a pk já existe.
func Insert[E schema.Row](s *Session, row E) error {
	return classify(s.eng.Save(engine.SaveInsert, row), true)
}

// Replace troca uma linha existente; falha se a pk não existe.
func Replace[E schema.Row](s *Session, row E) error {
	return classify(s.eng.Save(engine.SaveReplace, row), true)
}

// Update grava o estado novo de uma linha existente (o merge de patch
// acontece em PatchByID).
func Update[E schema.Row](s *Session, row E) error {
	return classify(s.eng.Save(engine.SaveUpdate, row), true)
}

// InsertManyAtomic grava o lote inteiro ou nada.
func InsertManyAtomic[E schema.Row](s *Session, rows []E) error {
	return classify(s.eng.SaveManyAtomic(engine.SaveInsert, upcast(rows)), true)
}

// InsertManyNonAtomic grava fail-fast: no primeiro erro, as anteriores
// permanecem. Devolve quantas commitaram.
func InsertManyNonAtomic[E schema.Row](s *Session, rows []E) (int, error) {
	n, err := s.eng.SaveManyNonAtomic(engine.SaveInsert, upcast(rows))
	return n, classify(err, true)
}

func ReplaceManyAtomic[E schema.Row](s *Session, rows []E) error {
	return classify(s.eng.SaveManyAtomic(engine.SaveReplace, upcast(rows)), true)
}

func ReplaceManyNonAtomic[E schema.Row](s *Session, rows []E) (int, error) {
	n, err := s.eng.SaveManyNonAtomic(engine.SaveReplace, upcast(rows))
	return n, classify(err, true)
}

func UpdateManyAtomic[E schema.Row](s *Session, rows []E) error {
	return classify(s.eng.SaveManyAtomic(engine.SaveUpdate, upcast(rows)), true)
}

func UpdateManyNonAtomic[E schema.Row](s *Session, rows []E) (int, error) {
	n, err := s.eng.SaveManyNonAtomic(engine.SaveUpdate, upcast(rows))
	return n, classify(err, true)
}

// PatchByID é o load-merge-save: carrega a linha, aplica o patch
// documento-a-campo, re-extrai a pk (tem de bater) e salva como update.
func PatchByID[E schema.Row](s *Session, id schema.ID[E], patchJSON string) (E, error) {
	var zero E

	row, err := Load[E](s).ByID(id).Row()
	if err != nil {
		return zero, err
	}

	m, _ := s.eng.Registry().Model(schema.EntityNameOf[E]())
	if err := applyPatch(m, row, patchJSON); err != nil {
		return zero, classify(err, true)
	}

	// A pk re-extraída tem de continuar a mesma: patch não move linha.
	pkVal, present := row.Get(m.PKField)
	if !present || !types.Equal(pkVal, id.Value()) {
		return zero, classify(errors.Invalid("session", "patch must not change the pk of %s", m.Name), true)
	}

	if err := Update[E](s, row); err != nil {
		return zero, err
	}
	return row, nil
}

func upcast[E schema.Row](rows []E) []schema.Row {
	out := make([]schema.Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
