package engine

import (
	"sort"

	"github.com/bobboyms/icydb/pkg/commit"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/index"
	"github.com/bobboyms/icydb/pkg/metrics"
	"github.com/bobboyms/icydb/pkg/query"
	"github.com/bobboyms/icydb/pkg/storage"
)

// Delete roda o pipeline de delete: idêntico ao load até a
// materialização; depois do trim de delete-limit vem o pre-commit
// (testemunhas de relação forte) e a janela de commit com as remoções de
// linha, índice e índice reverso.
func (e *Engine) Delete(p *query.Plan) (int, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	m := p.Model

	rows, err := e.materialize(p)
	if err != nil {
		return 0, err
	}

	if p.HasResidual {
		kept := rows[:0]
		for _, lr := range rows {
			if query.Eval(p.Residual, lr.row) {
				kept = append(kept, lr)
			}
		}
		rows = kept
	}

	if p.DeleteLimit >= 0 {
		// Teto de delete exige ordem total; o planner já garantiu que
		// existe uma ordem explícita.
		if p.PostOrder {
			sort.SliceStable(rows, func(i, j int) bool {
				return query.CompareRows(p.Order, rows[i].row, rows[j].row) < 0
			})
		}
		if len(rows) > p.DeleteLimit {
			rows = rows[:p.DeleteLimit]
		}
	}

	if len(rows) == 0 {
		return 0, nil
	}

	// Pre-commit: nenhuma linha com testemunha de relação forte entra no
	// marker. Ou o delete inteiro passa, ou nada é removido.
	incoming := e.reg.IncomingStrong(m.Name)
	targetIndex := e.bundles[m.Name].Index
	for _, lr := range rows {
		for _, rel := range incoming {
			if n := index.Witnesses(targetIndex, rel.Source, rel.Field, lr.item.pk, 1); n > 0 {
				e.metrics.Inc(metrics.Conflicts)
				return 0, errors.Conflicted("engine",
					"delete of %s blocked: %s.%s still references it", m.Name, rel.Source, rel.Field)
			}
		}
	}

	var rowOps, indexOps, reverseOps []commit.Op
	dataStore := storage.DataStoreName(m.Name)
	bundle := e.bundles[m.Name]

	for _, lr := range rows {
		dk := storage.NewDataKey(m.Name, lr.item.pk)
		rowOps = append(rowOps, commit.Op{Kind: commit.OpDelete, Store: dataStore, Key: dk.Bytes()})

		entries, err := index.ComputeEntries(m, lr.row, lr.item.pk)
		if err != nil {
			return 0, err
		}
		iOps, err := index.RemoveOps(bundle, m, entries, lr.item.pk)
		if err != nil {
			return 0, err
		}
		indexOps = append(indexOps, iOps...)

		rOps, err := index.ReverseOps(e.reg, m, lr.row, nil, lr.item.pk)
		if err != nil {
			return 0, err
		}
		reverseOps = append(reverseOps, rOps...)
	}

	marker := &commit.Marker{
		Entity:   m.Name,
		Mutation: commit.MutationDelete,
		Ops:      concatOps(rowOps, indexOps, reverseOps),
	}
	if err := e.clog.Commit(marker); err != nil {
		return 0, err
	}

	e.metrics.Add(metrics.RowsDeleted, uint64(len(rows)))
	return len(rows), nil
}

func concatOps(groups ...[]commit.Op) []commit.Op {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	out := make([]commit.Op, 0, total)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
