// Package session é a facade pública: entry points tipados sobre o
// engine, adaptação de cardinalidade das respostas e a classificação de
// erros na fronteira. Consumidores só veem este pacote.
package session

import (
	"github.com/bobboyms/icydb/pkg/engine"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/metrics"
	"github.com/bobboyms/icydb/pkg/query"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// Session embrulha um engine. Barata; pode viver pelo processo inteiro.
type Session struct {
	eng *engine.Engine
}

func New(eng *engine.Engine) *Session { return &Session{eng: eng} }

// Engine expõe o engine para ferramentas de diagnóstico.
func (s *Session) Engine() *engine.Engine { return s.eng }

// Metrics delega para os contadores best-effort do engine.
func (s *Session) Metrics() map[metrics.Counter]uint64 { return s.eng.Metrics().Snapshot() }

// MetricsReset zera a janela de métricas.
func (s *Session) MetricsReset() { s.eng.Metrics().Reset() }

// Snapshot delega a visão por entidade.
func (s *Session) Snapshot() ([]engine.EntitySnapshot, error) {
	snap, err := s.eng.Snapshot()
	if err != nil {
		return nil, classify(err, false)
	}
	return snap, nil
}

// Load abre um builder de leitura tipado para E.
func Load[E schema.Row](s *Session) *LoadBuilder[E] {
	return &LoadBuilder[E]{
		s:      s,
		intent: query.NewIntent(schema.EntityNameOf[E]()),
	}
}

// Delete abre um builder de delete tipado para E.
func Delete[E schema.Row](s *Session) *DeleteBuilder[E] {
	return &DeleteBuilder[E]{
		s:      s,
		intent: query.NewIntent(schema.EntityNameOf[E]()),
	}
}

// === LoadBuilder ===

type LoadBuilder[E schema.Row] struct {
	s      *Session
	intent *query.Intent
}

func (b *LoadBuilder[E]) ByID(id schema.ID[E]) *LoadBuilder[E] {
	b.intent.ByID(id.Value())
	return b
}

func (b *LoadBuilder[E]) ByIDs(ids ...schema.ID[E]) *LoadBuilder[E] {
	vals := make([]types.Value, len(ids))
	for i, id := range ids {
		vals[i] = id.Value()
	}
	b.intent.ByIDs(vals...)
	return b
}

func (b *LoadBuilder[E]) Where(p query.Predicate) *LoadBuilder[E] {
	b.intent.Where(p)
	return b
}

func (b *LoadBuilder[E]) OrderBy(field string) *LoadBuilder[E] {
	b.intent.OrderBy(field)
	return b
}

func (b *LoadBuilder[E]) OrderByDesc(field string) *LoadBuilder[E] {
	b.intent.OrderByDesc(field)
	return b
}

func (b *LoadBuilder[E]) Limit(n int) *LoadBuilder[E] {
	b.intent.WithLimit(n)
	return b
}

func (b *LoadBuilder[E]) Offset(n int) *LoadBuilder[E] {
	b.intent.WithOffset(n)
	return b
}

func (b *LoadBuilder[E]) Cursor(token string) *LoadBuilder[E] {
	b.intent.WithCursor(token)
	return b
}

func (b *LoadBuilder[E]) MissingOK() *LoadBuilder[E] {
	b.intent.MissingOK()
	return b
}

func (b *LoadBuilder[E]) plan() (*query.Plan, error) {
	m, ok := b.s.eng.Registry().Model(b.intent.Entity)
	if !ok {
		return nil, errors.Invalid("session", "entity %q is not registered", b.intent.Entity)
	}
	return query.PlanLoad(m, b.intent)
}

// Rows devolve todas as linhas do plano (sem página => sem cursor).
func (b *LoadBuilder[E]) Rows() ([]E, error) {
	res, err := b.execute()
	if err != nil {
		return nil, err
	}
	return castRows[E](res.Rows)
}

// Page é o terminal paginado: linhas + cursor de continuação.
type Page[E schema.Row] struct {
	Rows    []E
	Cursor  string
	HasMore bool
}

func (b *LoadBuilder[E]) ExecutePaged() (*Page[E], error) {
	res, err := b.execute()
	if err != nil {
		return nil, err
	}
	rows, err := castRows[E](res.Rows)
	if err != nil {
		return nil, err
	}
	return &Page[E]{Rows: rows, Cursor: res.Cursor, HasMore: res.HasMore}, nil
}

func (b *LoadBuilder[E]) execute() (*engine.LoadResult, error) {
	p, err := b.plan()
	if err != nil {
		return nil, classify(err, false)
	}
	res, err := b.s.eng.Load(p)
	if err != nil {
		return nil, classify(err, false)
	}
	return res, nil
}

// Row devolve exatamente uma linha; zero vira NotFound, mais de uma vira
// NotUnique.
func (b *LoadBuilder[E]) Row() (E, error) {
	var zero E
	rows, err := b.Rows()
	if err != nil {
		return zero, err
	}
	switch len(rows) {
	case 0:
		return zero, classify(&errors.NotFoundError{Entity: b.intent.Entity}, false)
	case 1:
		return rows[0], nil
	default:
		return zero, classify(errors.NotUnique("session", "query for one row of %s matched %d",
			b.intent.Entity, len(rows)), false)
	}
}

// RowOpt devolve (linha, true) ou (zero, false) sem erro para ausência.
func (b *LoadBuilder[E]) RowOpt() (E, bool, error) {
	var zero E
	rows, err := b.Rows()
	if err != nil {
		return zero, false, err
	}
	switch len(rows) {
	case 0:
		return zero, false, nil
	case 1:
		return rows[0], true, nil
	default:
		return zero, false, classify(errors.NotUnique("session", "query for one row of %s matched %d",
			b.intent.Entity, len(rows)), false)
	}
}

// First devolve a primeira linha da ordem do plano, se houver.
func (b *LoadBuilder[E]) First() (E, bool, error) {
	var zero E
	rows, err := b.Rows()
	if err != nil {
		return zero, false, err
	}
	if len(rows) == 0 {
		return zero, false, nil
	}
	return rows[0], true, nil
}

func (b *LoadBuilder[E]) Count() (int, error) {
	p, err := b.plan()
	if err != nil {
		return 0, classify(err, false)
	}
	n, err := b.s.eng.Count(p)
	if err != nil {
		return 0, classify(err, false)
	}
	return n, nil
}

func (b *LoadBuilder[E]) Exists() (bool, error) {
	p, err := b.plan()
	if err != nil {
		return false, classify(err, false)
	}
	ok, err := b.s.eng.Exists(p)
	if err != nil {
		return false, classify(err, false)
	}
	return ok, nil
}

// Keys devolve os ids tipados na ordem do plano.
func (b *LoadBuilder[E]) Keys() ([]schema.ID[E], error) {
	p, err := b.plan()
	if err != nil {
		return nil, classify(err, false)
	}
	vals, err := b.s.eng.Keys(p)
	if err != nil {
		return nil, classify(err, false)
	}
	out := make([]schema.ID[E], 0, len(vals))
	for _, v := range vals {
		id, err := schema.NewID[E](v)
		if err != nil {
			return nil, classify(err, false)
		}
		out = append(out, id)
	}
	return out, nil
}

// Explain devolve a renderização determinística do plano desta intenção.
func (b *LoadBuilder[E]) Explain() (string, error) {
	p, err := b.plan()
	if err != nil {
		return "", classify(err, false)
	}
	return b.s.eng.Explain(p), nil
}

// === DeleteBuilder ===

type DeleteBuilder[E schema.Row] struct {
	s      *Session
	intent *query.Intent
}

func (b *DeleteBuilder[E]) ByID(id schema.ID[E]) *DeleteBuilder[E] {
	b.intent.ByID(id.Value())
	return b
}

func (b *DeleteBuilder[E]) ByIDs(ids ...schema.ID[E]) *DeleteBuilder[E] {
	vals := make([]types.Value, len(ids))
	for i, id := range ids {
		vals[i] = id.Value()
	}
	b.intent.ByIDs(vals...)
	return b
}

func (b *DeleteBuilder[E]) Where(p query.Predicate) *DeleteBuilder[E] {
	b.intent.Where(p)
	return b
}

func (b *DeleteBuilder[E]) OrderBy(field string) *DeleteBuilder[E] {
	b.intent.OrderBy(field)
	return b
}

func (b *DeleteBuilder[E]) DeleteLimit(n int) *DeleteBuilder[E] {
	b.intent.WithDeleteLimit(n)
	return b
}

// Execute roda o delete e devolve quantas linhas saíram.
func (b *DeleteBuilder[E]) Execute() (int, error) {
	m, ok := b.s.eng.Registry().Model(b.intent.Entity)
	if !ok {
		return 0, classify(errors.Invalid("session", "entity %q is not registered", b.intent.Entity), true)
	}
	p, err := query.PlanDelete(m, b.intent)
	if err != nil {
		return 0, classify(err, true)
	}
	n, err := b.s.eng.Delete(p)
	if err != nil {
		return 0, classify(err, true)
	}
	return n, nil
}

func castRows[E schema.Row](rows []schema.Row) ([]E, error) {
	out := make([]E, 0, len(rows))
	for _, r := range rows {
		e, ok := r.(E)
		if !ok {
			return nil, classify(errors.Invariant("session", "factory produced a row of the wrong type"), false)
		}
		out = append(out, e)
	}
	return out, nil
}
