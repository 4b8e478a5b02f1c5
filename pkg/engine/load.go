package engine

import (
	"bytes"
	"sort"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/metrics"
	"github.com/bobboyms/icydb/pkg/query"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/storage"
	"github.com/bobboyms/icydb/pkg/types"
)

// LoadResult é a saída de um load paginável.
type LoadResult struct {
	Rows    []schema.Row
	Cursor  string
	HasMore bool
}

// loaded carrega a linha materializada junto do item que a produziu.
type loaded struct {
	item streamItem
	row  schema.Row
}

// Load executa o pipeline de leitura: rota -> resolve stream ->
// materializa -> fases pós-acesso em ordem fixa (filtro, ordem, skip de
// cursor, janela de página) -> shape.
func (e *Engine) Load(p *query.Plan) (*LoadResult, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.metrics.Inc(metrics.QueriesPlanned)
	if p.Mode != query.ModeCanonical {
		e.metrics.Inc(metrics.FastPathHits)
	}

	// limit=0: devolve vazio sem resolver nem escanear nada.
	if p.HasPage && p.Limit == 0 {
		return &LoadResult{}, nil
	}

	rows, err := e.materialize(p)
	if err != nil {
		return nil, err
	}

	rows, err = e.postAccess(p, rows)
	if err != nil {
		return nil, err
	}

	return e.emitPage(p, rows)
}

// materialize resolve o stream e busca as linhas, aplicando a política
// de linha ausente e a re-checagem de integridade de índice único.
func (e *Engine) materialize(p *query.Plan) ([]loaded, error) {
	stream, err := e.resolveStream(p)
	if err != nil {
		return nil, err
	}

	m := p.Model
	factory, _ := e.reg.Factory(m.Name)
	b := e.bundles[m.Name]

	var out []loaded
	for {
		item, ok := stream.next()
		if !ok {
			break
		}

		raw := item.raw
		if !item.hasRaw {
			dk := storage.NewDataKey(m.Name, item.pk)
			got, found := b.GetRow(dk)
			if !found {
				if p.Missing == query.MissingOk {
					continue
				}
				if item.indexKey != nil {
					// Índice aponta para linha inexistente: divergência.
					e.metrics.Inc(metrics.CorruptionsSeen)
					return nil, errors.Corrupt("engine", "index of %s references missing row", m.Name)
				}
				// Lookup pontual: ausência é só ausência.
				continue
			}
			raw = got
		}

		row, err := storage.DecodeRow(m, factory, raw)
		if err != nil {
			e.metrics.Inc(metrics.CorruptionsSeen)
			return nil, err
		}

		// Linha sob DataKey(k): a pk re-codificada tem de ser exatamente k.
		pkVal, present := row.Get(m.PKField)
		if !present {
			return nil, errors.Corrupt("engine", "row of %s without pk field", m.Name)
		}
		enc, encErr := types.Encode(pkVal)
		if encErr != nil || !bytes.Equal(enc, item.pk) {
			e.metrics.Inc(metrics.CorruptionsSeen)
			return nil, errors.Corrupt("engine", "row of %s re-encodes to a different data key", m.Name)
		}

		if item.fromUnique != nil {
			if err := e.verifyUniqueBacklink(p, item, row); err != nil {
				return nil, err
			}
		}

		out = append(out, loaded{item: item, row: row})
	}
	return out, nil
}

// verifyUniqueBacklink relê o valor indexado da linha e compara byte a
// byte com os componentes da chave de índice única; divergência é
// corrupção.
func (e *Engine) verifyUniqueBacklink(p *query.Plan, item streamItem, row schema.Row) error {
	ik, err := storage.DecodeIndexKey(item.indexKey)
	if err != nil {
		return err
	}
	ix, ok := p.Model.Index(*item.fromUnique)
	if !ok {
		return errors.Invariant("engine", "unique re-check against unknown index %q", *item.fromUnique)
	}
	if len(ik.Components) != len(ix.Fields) {
		return errors.Corrupt("engine", "unique index %s.%s key arity mismatch", p.Model.Name, ix.Name)
	}
	for i, fieldName := range ix.Fields {
		v, present := row.Get(fieldName)
		if !present || v.IsNull() {
			return errors.Corrupt("engine", "unique index %s.%s points at row without indexed value",
				p.Model.Name, ix.Name)
		}
		enc, err := types.Encode(v)
		if err != nil || !bytes.Equal(enc, ik.Components[i]) {
			e.metrics.Inc(metrics.CorruptionsSeen)
			return errors.Corrupt("engine", "unique index %s.%s disagrees with row value",
				p.Model.Name, ix.Name)
		}
	}
	return nil
}

// postAccess roda as fases pós-acesso na ordem fixa: filtro (resíduo),
// ordem (só quando o stream não entrega), skip de boundary do cursor.
// A janela de página fica no emitPage.
func (e *Engine) postAccess(p *query.Plan, rows []loaded) ([]loaded, error) {
	if p.HasResidual {
		kept := rows[:0]
		for _, lr := range rows {
			if query.Eval(p.Residual, lr.row) {
				kept = append(kept, lr)
			}
		}
		rows = kept
	}

	if p.PostOrder {
		sort.SliceStable(rows, func(i, j int) bool {
			return query.CompareRows(p.Order, rows[i].row, rows[j].row) < 0
		})
	}

	if p.Cursor != nil {
		kept := rows[:0]
		for _, lr := range rows {
			c, err := query.CompareRowToBoundary(p.Order, lr.row, p.Cursor.Boundary)
			if err != nil {
				return nil, err
			}
			if c > 0 { // estritamente depois do boundary
				kept = append(kept, lr)
			}
		}
		rows = kept
	}

	return rows, nil
}

// emitPage aplica a janela offset/limit e emite o cursor quando sobra
// resultado.
func (e *Engine) emitPage(p *query.Plan, rows []loaded) (*LoadResult, error) {
	if !p.HasPage {
		out := &LoadResult{Rows: rowsOf(rows)}
		e.metrics.Add(metrics.RowsLoaded, uint64(len(out.Rows)))
		return out, nil
	}

	if p.Offset > 0 {
		if p.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[p.Offset:]
		}
	}

	hasMore := false
	if p.Limit >= 0 && len(rows) > p.Limit {
		hasMore = true
		rows = rows[:p.Limit]
	}

	res := &LoadResult{Rows: rowsOf(rows), HasMore: hasMore}
	e.metrics.Add(metrics.RowsLoaded, uint64(len(res.Rows)))

	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		boundary, err := query.BoundaryFromRow(p.Order, last.row)
		if err != nil {
			return nil, err
		}
		c := &query.Cursor{
			Version:   query.CursorVersion,
			Signature: p.Signature,
			Boundary:  boundary,
			Desc:      p.Dir == stable.Desc,
		}
		if p.Mode == query.ModeFastRangeLimit && last.item.indexKey != nil {
			c.Anchor = last.item.indexKey
		}
		token, err := c.Encode()
		if err != nil {
			return nil, err
		}
		res.Cursor = token
		e.metrics.Inc(metrics.CursorsIssued)
	}
	return res, nil
}

func rowsOf(rows []loaded) []schema.Row {
	out := make([]schema.Row, len(rows))
	for i, lr := range rows {
		out[i] = lr.row
	}
	return out
}

// countWithoutRows decide se o agregado pode contar chaves sem
// materializar linha nenhuma: precisa de acesso exato (sem resíduo) e de
// um caminho cujos itens são linhas reais, não referências de índice que
// ainda poderiam divergir.
func countWithoutRows(p *query.Plan) bool {
	return !p.HasResidual && p.Cursor == nil && !p.HasPage &&
		p.Access.Kind == query.AccessPrimaryScan
}

// Count conta sem materializar quando countWithoutRows aceita o plano
// (primary scan sem resíduo, sem cursor e sem página); senão cai no
// pipeline canônico.
func (e *Engine) Count(p *query.Plan) (int, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if countWithoutRows(p) {
		stream, err := e.resolveStream(p)
		if err != nil {
			return 0, err
		}
		n := 0
		for {
			if _, ok := stream.next(); !ok {
				break
			}
			n++
		}
		return n, nil
	}
	res, err := e.Load(p)
	if err != nil {
		return 0, err
	}
	return len(res.Rows), nil
}

// Exists é Count com early-exit.
func (e *Engine) Exists(p *query.Plan) (bool, error) {
	if err := e.guard(); err != nil {
		return false, err
	}
	if countWithoutRows(p) {
		stream, err := e.resolveStream(p)
		if err != nil {
			return false, err
		}
		_, ok := stream.next()
		return ok, nil
	}
	res, err := e.Load(p)
	if err != nil {
		return false, err
	}
	return len(res.Rows) > 0, nil
}

// Keys devolve as pks decodificadas na ordem do plano.
func (e *Engine) Keys(p *query.Plan) ([]types.Value, error) {
	res, err := e.Load(p)
	if err != nil {
		return nil, err
	}
	out := make([]types.Value, 0, len(res.Rows))
	for _, row := range res.Rows {
		v, present := row.Get(p.Model.PKField)
		if !present {
			return nil, errors.Corrupt("engine", "row of %s without pk field", p.Model.Name)
		}
		out = append(out, v)
	}
	return out, nil
}

// Explain delega para o plano; existe aqui para o fluxo de diagnóstico
// da facade não depender do pacote query.
func (e *Engine) Explain(p *query.Plan) string { return p.Explain() }
