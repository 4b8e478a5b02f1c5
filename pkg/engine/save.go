package engine

import (
	"github.com/bobboyms/icydb/pkg/commit"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/index"
	"github.com/bobboyms/icydb/pkg/metrics"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/storage"
	"github.com/bobboyms/icydb/pkg/types"
)

// SaveMode distingue as três formas de escrita.
type SaveMode uint8

const (
	SaveInsert SaveMode = iota + 1
	SaveReplace
	SaveUpdate
)

func (m SaveMode) String() string {
	switch m {
	case SaveInsert:
		return "insert"
	case SaveReplace:
		return "replace"
	case SaveUpdate:
		return "update"
	default:
		return "?"
	}
}

func (m SaveMode) mutation(batch bool) uint8 {
	if batch {
		return commit.MutationBatch
	}
	switch m {
	case SaveInsert:
		return commit.MutationInsert
	case SaveReplace:
		return commit.MutationReplace
	default:
		return commit.MutationUpdate
	}
}

// overlay deixa as ops já staged do lote visíveis para o pre-commit das
// linhas seguintes (dedup de índice, unique checks), sem tocar o store.
// A existência de alvos de RI NÃO passa por aqui: linhas staged no mesmo
// lote atômico não contam como alvos visíveis.
type overlay struct {
	bundle     *storage.Bundle
	dataStore  string
	indexStore string

	rows    map[string][]byte
	rowsSet map[string]bool
	idx     map[string][]byte
	idxSet  map[string]bool
}

func newOverlay(b *storage.Bundle, entity string) *overlay {
	return &overlay{
		bundle:     b,
		dataStore:  storage.DataStoreName(entity),
		indexStore: storage.IndexStoreName(entity),
		rows:       make(map[string][]byte),
		rowsSet:    make(map[string]bool),
		idx:        make(map[string][]byte),
		idxSet:     make(map[string]bool),
	}
}

func (o *overlay) GetRow(dk storage.DataKey) (storage.RawRow, bool) {
	key := string(dk.Bytes())
	if o.rowsSet[key] {
		raw := o.rows[key]
		if raw == nil {
			return nil, false
		}
		return storage.RawRow(raw), true
	}
	return o.bundle.GetRow(dk)
}

func (o *overlay) GetIndexEntry(encodedKey []byte) (storage.RawIndexEntry, bool) {
	key := string(encodedKey)
	if o.idxSet[key] {
		raw := o.idx[key]
		if raw == nil {
			return nil, false
		}
		return storage.RawIndexEntry(raw), true
	}
	return o.bundle.GetIndexEntry(encodedKey)
}

// stage registra uma op nos mapas do overlay. Ops para stores de outras
// entidades (índices reversos) não são lidas no pre-commit e passam reto.
func (o *overlay) stage(op commit.Op) {
	switch op.Store {
	case o.dataStore:
		key := string(op.Key)
		o.rowsSet[key] = true
		if op.Kind == commit.OpPut {
			o.rows[key] = op.Value
		} else {
			o.rows[key] = nil
		}
	case o.indexStore:
		key := string(op.Key)
		o.idxSet[key] = true
		if op.Kind == commit.OpPut {
			o.idx[key] = op.Value
		} else {
			o.idx[key] = nil
		}
	}
}

// Save grava uma linha (lote atômico de um).
func (e *Engine) Save(mode SaveMode, row schema.Row) error {
	return e.SaveManyAtomic(mode, []schema.Row{row})
}

// SaveManyAtomic é a lane all-or-nothing: um marker para o lote inteiro,
// de uma única entidade. Pks duplicadas dentro do lote falham no
// pre-commit; linhas staged antes no lote não contam como alvos de RI
// para as seguintes.
func (e *Engine) SaveManyAtomic(mode SaveMode, rows []schema.Row) error {
	if err := e.guard(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	m, _, err := e.model(rows[0].EntityName())
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.EntityName() != m.Name {
			return errors.Invalid("engine", "atomic batch mixes entities %q and %q", m.Name, r.EntityName())
		}
	}

	bundle := e.bundles[m.Name]
	ov := newOverlay(bundle, m.Name)
	seenPK := make(map[string]bool, len(rows))

	var rowOps, indexOps, reverseOps []commit.Op

	for _, row := range rows {
		rOps, iOps, revOps, pkKey, err := e.stageOne(mode, m, bundle, ov, row)
		if err != nil {
			if errors.IsConflict(err) {
				e.metrics.Inc(metrics.Conflicts)
			}
			return err
		}
		if seenPK[pkKey] {
			e.metrics.Inc(metrics.Conflicts)
			return errors.Conflicted("engine", "duplicate pk within atomic batch of %s", m.Name)
		}
		seenPK[pkKey] = true

		rowOps = append(rowOps, rOps...)
		indexOps = append(indexOps, iOps...)
		reverseOps = append(reverseOps, revOps...)
	}

	marker := &commit.Marker{
		Entity:   m.Name,
		Mutation: mode.mutation(len(rows) > 1),
		Ops:      concatOps(rowOps, indexOps, reverseOps),
	}
	if err := e.clog.Commit(marker); err != nil {
		return err
	}

	e.metrics.Add(metrics.RowsSaved, uint64(len(rows)))
	return nil
}

// SaveManyNonAtomic é a lane fail-fast: cada linha commita sozinha;
// no primeiro erro as anteriores permanecem. Devolve quantas commitaram.
func (e *Engine) SaveManyNonAtomic(mode SaveMode, rows []schema.Row) (int, error) {
	for i, row := range rows {
		if err := e.Save(mode, row); err != nil {
			return i, err
		}
	}
	return len(rows), nil
}

// stageOne roda o pre-commit de uma linha: validação, resolução de
// unicidade, checagem de existência de RI, derivação das ops. Tudo
// falível acontece aqui; nada durável muda.
func (e *Engine) stageOne(mode SaveMode, m *schema.EntityModel, bundle *storage.Bundle, ov *overlay, row schema.Row) (rowOps, indexOps, reverseOps []commit.Op, pkKey string, err error) {
	if err = validateRow(e.reg, m, row); err != nil {
		return nil, nil, nil, "", err
	}

	pkVal, _ := row.Get(m.PKField)
	pkBytes, err := types.Encode(pkVal)
	if err != nil {
		return nil, nil, nil, "", err
	}
	pkKey = string(pkBytes)
	dk := storage.NewDataKey(m.Name, pkBytes)

	oldRaw, exists := ov.GetRow(dk)
	switch mode {
	case SaveInsert:
		if exists {
			return nil, nil, nil, "", errors.Conflicted("engine", "insert on existing row of %s", m.Name)
		}
	case SaveReplace, SaveUpdate:
		if !exists {
			return nil, nil, nil, "", errors.Conflicted("engine", "%s on missing row of %s", mode, m.Name)
		}
	default:
		return nil, nil, nil, "", errors.Invariant("engine", "unreachable save mode %d", mode)
	}

	var oldRow schema.Row
	if exists {
		factory, _ := e.reg.Factory(m.Name)
		oldRow, err = storage.DecodeRow(m, factory, oldRaw)
		if err != nil {
			e.metrics.Inc(metrics.CorruptionsSeen)
			return nil, nil, nil, "", err
		}
	}

	// Tuplas indexadas antigas vs novas.
	newEntries, err := index.ComputeEntries(m, row, pkBytes)
	if err != nil {
		return nil, nil, nil, "", err
	}
	var oldEntries []index.Computed
	if oldRow != nil {
		oldEntries, err = index.ComputeEntries(m, oldRow, pkBytes)
		if err != nil {
			return nil, nil, nil, "", err
		}
	}

	for i := range newEntries {
		if err = index.CheckUnique(ov, m, newEntries[i], pkBytes); err != nil {
			return nil, nil, nil, "", err
		}
	}

	// RI de relações fortes saindo: todo alvo referenciado tem de
	// existir no data store do alvo. Leitura direta do store, sem
	// overlay: linhas do mesmo lote não são alvos visíveis.
	if err = e.checkStrongTargets(m, row); err != nil {
		return nil, nil, nil, "", err
	}

	rawNew, err := storage.EncodeRow(m, row)
	if err != nil {
		return nil, nil, nil, "", err
	}

	rowOps = []commit.Op{{
		Kind:  commit.OpPut,
		Store: storage.DataStoreName(m.Name),
		Key:   dk.Bytes(),
		Value: []byte(rawNew),
	}}

	indexOps, err = index.DiffOps(ov, m, oldEntries, newEntries, pkBytes)
	if err != nil {
		return nil, nil, nil, "", err
	}

	reverseOps, err = index.ReverseOps(e.reg, m, oldRow, row, pkBytes)
	if err != nil {
		return nil, nil, nil, "", err
	}

	for _, op := range rowOps {
		ov.stage(op)
	}
	for _, op := range indexOps {
		ov.stage(op)
	}
	return rowOps, indexOps, reverseOps, pkKey, nil
}

// checkStrongTargets verifica existência dos alvos de toda relação forte
// da linha. Alvo ausente aborta o save inteiro.
func (e *Engine) checkStrongTargets(m *schema.EntityModel, row schema.Row) error {
	for i := range m.Relations {
		rel := &m.Relations[i]
		if rel.Strength != schema.Strong {
			continue
		}
		v, present := row.Get(rel.Field)
		targets, err := index.RelationTargets(v, present, rel)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			continue // coleção vazia e campo ausente/null são válidos
		}
		targetBundle, ok := e.bundles[rel.Target]
		if !ok {
			return errors.Invalid("engine", "relation %s.%s targets unregistered entity %q",
				m.Name, rel.Field, rel.Target)
		}
		for _, t := range targets {
			enc, err := types.Encode(t)
			if err != nil {
				return err
			}
			tdk := storage.NewDataKey(rel.Target, enc)
			if _, found := targetBundle.GetRow(tdk); !found {
				return errors.Invariant("engine",
					"strong relation %s.%s references missing %s row", m.Name, rel.Field, rel.Target)
			}
		}
	}
	return nil
}

// validateRow é a validação estrutural de uma linha de entrada: pk
// presente e do kind certo, kinds de campo batendo com o schema, null só
// em campo nullable, relações com o shape declarado.
func validateRow(reg *schema.Registry, m *schema.EntityModel, row schema.Row) error {
	pkVal, present := row.Get(m.PKField)
	if !present || pkVal.IsNull() {
		return errors.Invalid("engine", "row of %s without pk value", m.Name)
	}
	if pkVal.Kind() != m.PK().Kind {
		return errors.Invalid("engine", "row of %s has pk kind %s, schema says %s",
			m.Name, pkVal.Kind(), m.PK().Kind)
	}

	for i := range m.Fields {
		f := &m.Fields[i]
		v, present := row.Get(f.Name)
		if !present {
			continue
		}
		if v.IsNull() {
			if !f.Nullable {
				return errors.Invalid("engine", "null in non-nullable field %s.%s", m.Name, f.Name)
			}
			continue
		}
		if v.Kind() != f.Kind {
			return errors.Invalid("engine", "field %s.%s holds %s, schema says %s",
				m.Name, f.Name, v.Kind(), f.Kind)
		}
	}

	for i := range m.Relations {
		rel := &m.Relations[i]
		target, ok := reg.Model(rel.Target)
		if !ok {
			return errors.Invalid("engine", "relation %s.%s targets unknown entity %q",
				m.Name, rel.Field, rel.Target)
		}
		v, present := row.Get(rel.Field)
		targets, err := index.RelationTargets(v, present, rel)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if t.Kind() != target.PK().Kind {
				return errors.Invalid("engine", "relation %s.%s holds %s, target pk is %s",
					m.Name, rel.Field, t.Kind(), target.PK().Kind)
			}
		}
	}
	return nil
}
