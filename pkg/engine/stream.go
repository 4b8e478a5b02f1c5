package engine

import (
	"bytes"
	"sort"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/query"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/storage"
	"github.com/bobboyms/icydb/pkg/types"
)

// streamItem é um candidato produzido pelo caminho físico: a storage key
// da pk, opcionalmente a linha crua (quando o caminho já a leu) e a
// chave de índice crua (âncora de cursor para retomadas de IndexRange).
type streamItem struct {
	pk     []byte
	raw    storage.RawRow
	hasRaw bool

	indexKey []byte

	// fromUnique liga a re-checagem de integridade do índice único na
	// materialização.
	fromUnique *string
}

// keyStream é a abstração pull dos caminhos físicos: next devolve o
// próximo item em ordem canônica do caminho, ou ok=false no fim.
type keyStream interface {
	next() (streamItem, bool)
}

// sliceStream entrega itens de um slice pré-resolvido.
type sliceStream struct {
	items []streamItem
	pos   int
}

func (s *sliceStream) next() (streamItem, bool) {
	if s.pos >= len(s.items) {
		return streamItem{}, false
	}
	item := s.items[s.pos]
	s.pos++
	return item, true
}

// mergeUnionStream funde streams filhos ordenados por pk em ordem
// canônica de bytes, de forma determinística.
type mergeUnionStream struct {
	children []keyStream
	heads    []*streamItem
}

func newMergeUnion(children []keyStream) *mergeUnionStream {
	m := &mergeUnionStream{children: children, heads: make([]*streamItem, len(children))}
	for i := range children {
		m.advance(i)
	}
	return m
}

func (m *mergeUnionStream) advance(i int) {
	if item, ok := m.children[i].next(); ok {
		m.heads[i] = &item
	} else {
		m.heads[i] = nil
	}
}

func (m *mergeUnionStream) next() (streamItem, bool) {
	lowest := -1
	for i, h := range m.heads {
		if h == nil {
			continue
		}
		if lowest < 0 || bytes.Compare(h.pk, m.heads[lowest].pk) < 0 {
			lowest = i
		}
	}
	if lowest < 0 {
		return streamItem{}, false
	}
	out := *m.heads[lowest]
	// Consome este pk em todos os filhos (dedup de união).
	for i, h := range m.heads {
		if h != nil && bytes.Equal(h.pk, out.pk) {
			m.advance(i)
		}
	}
	return out, true
}

// distinctStream elimina duplicatas CONTÍGUAS. Exige monotonicidade do
// upstream; quebra de monotonicidade é violação de contrato interno.
type distinctStream struct {
	inner keyStream
	last  []byte
	err   error
}

func (d *distinctStream) next() (streamItem, bool) {
	for {
		item, ok := d.inner.next()
		if !ok {
			return streamItem{}, false
		}
		if d.last != nil && bytes.Compare(item.pk, d.last) < 0 {
			d.err = errors.Invariant("engine", "distinct stream fed by non-monotonic upstream")
			return streamItem{}, false
		}
		if d.last != nil && bytes.Equal(item.pk, d.last) {
			continue
		}
		d.last = append(d.last[:0], item.pk...)
		return item, true
	}
}

// resolveStream resolve o caminho de acesso do plano num keyStream.
// Caminhos de range coletam do host (a iteração do host é por callback;
// o pull re-embrulha) respeitando o teto de pushdown quando houver.
func (e *Engine) resolveStream(p *query.Plan) (keyStream, error) {
	items, err := e.resolveAccess(p, &p.Access)
	if err != nil {
		return nil, err
	}
	return &sliceStream{items: items}, nil
}

func (e *Engine) resolveAccess(p *query.Plan, a *query.Access) ([]streamItem, error) {
	b := e.bundles[p.Model.Name]

	switch a.Kind {
	case query.AccessKey, query.AccessKeys:
		items := make([]streamItem, 0, len(a.PKs))
		for _, pk := range a.PKs {
			items = append(items, streamItem{pk: pk})
		}
		if p.Dir == stable.Desc {
			reverseItems(items)
		}
		return items, nil

	case query.AccessPrimaryScan:
		return e.resolvePrimary(p, b, a)

	case query.AccessIndexPrefix, query.AccessIndexRange:
		return e.resolveIndex(p, b, a)

	case query.AccessComposite:
		return e.resolveComposite(p, a)

	default:
		return nil, errors.Invariant("engine", "unreachable access kind %d", a.Kind)
	}
}

func (e *Engine) resolvePrimary(p *query.Plan, b *storage.Bundle, a *query.Access) ([]streamItem, error) {
	var items []streamItem
	var iterErr error

	b.Data.Range(a.Lower, a.Upper, p.Dir, func(k, v []byte) bool {
		dk, err := storage.ParseDataKey(p.Model.Name, k)
		if err != nil {
			iterErr = err
			return false
		}
		items = append(items, streamItem{
			pk:     dk.StorageKey(),
			raw:    storage.RawRow(append([]byte(nil), v...)),
			hasRaw: true,
		})
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}
	return items, nil
}

func (e *Engine) resolveIndex(p *query.Plan, b *storage.Bundle, a *query.Access) ([]streamItem, error) {
	lower, upper := a.Lower, a.Upper

	// Retomada ancorada: o cursor de um IndexRange guarda a última chave
	// de índice crua; o range recomeça estritamente depois dela.
	if p.Cursor != nil && len(p.Cursor.Anchor) > 0 {
		if p.Dir == stable.Desc {
			upper = stable.Excl(p.Cursor.Anchor)
		} else {
			lower = stable.Excl(p.Cursor.Anchor)
		}
	}

	var items []streamItem
	var iterErr error

	visit := func(k, v []byte) bool {
		ik, err := storage.DecodeIndexKey(k)
		if err != nil {
			iterErr = err
			return false
		}

		// Fingerprint do tuple: ausência ou divergência é corrupção.
		fpRaw, ok := b.Fingerprint.Get(k)
		if !ok {
			iterErr = errors.Corrupt("engine", "index entry for %s without fingerprint", p.Model.Name)
			return false
		}
		fp, err := storage.DecodeFingerprint(fpRaw)
		if err != nil {
			iterErr = err
			return false
		}
		if fp != types.Fingerprint(ik.Components...) {
			iterErr = errors.Corrupt("engine", "index fingerprint disagrees for %s.%s",
				p.Model.Name, a.Index.Name)
			return false
		}

		item := streamItem{indexKey: append([]byte(nil), k...)}
		if a.Index.Unique {
			ids, err := storage.DecodeIndexEntry(storage.RawIndexEntry(v))
			if err != nil {
				iterErr = err
				return false
			}
			if len(ids) != 1 {
				iterErr = errors.Corrupt("engine", "unique index %s.%s entry holds %d ids",
					p.Model.Name, a.Index.Name, len(ids))
				return false
			}
			item.pk = ids[0]
			name := a.Index.Name
			item.fromUnique = &name
		} else {
			item.pk = ik.PK
		}
		items = append(items, item)
		return true
	}

	if p.PushLimit > 0 {
		b.Index.LimitedRange(lower, upper, p.Dir, p.PushLimit, visit)
	} else {
		b.Index.Range(lower, upper, p.Dir, visit)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return items, nil
}

func (e *Engine) resolveComposite(p *query.Plan, a *query.Access) ([]streamItem, error) {
	childStreams := make([]keyStream, 0, len(a.Children))
	for i := range a.Children {
		items, err := e.resolveAccess(p, &a.Children[i])
		if err != nil {
			return nil, err
		}
		// O merge exige filhos em ordem canônica de pk; caminhos de
		// índice entregam em ordem de índice, então ordena aqui.
		sort.SliceStable(items, func(x, y int) bool {
			return bytes.Compare(items[x].pk, items[y].pk) < 0
		})
		childStreams = append(childStreams, &sliceStream{items: items})
	}

	switch a.SetOp {
	case query.SetUnion:
		merged := newMergeUnion(childStreams)
		distinct := &distinctStream{inner: merged}
		var out []streamItem
		for {
			item, ok := distinct.next()
			if !ok {
				break
			}
			out = append(out, item)
		}
		if distinct.err != nil {
			return nil, distinct.err
		}
		return out, nil

	case query.SetIntersection:
		return intersectStreams(childStreams)

	default:
		return nil, errors.Invariant("engine", "composite without set op")
	}
}

func intersectStreams(children []keyStream) ([]streamItem, error) {
	if len(children) == 0 {
		return nil, nil
	}
	counts := make(map[string]int)
	items := make(map[string]streamItem)
	for _, c := range children {
		seen := make(map[string]bool)
		for {
			item, ok := c.next()
			if !ok {
				break
			}
			key := string(item.pk)
			if seen[key] {
				continue
			}
			seen[key] = true
			counts[key]++
			if _, have := items[key]; !have {
				items[key] = item
			}
		}
	}
	var out []streamItem
	for key, n := range counts {
		if n == len(children) {
			out = append(out, items[key])
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].pk, out[j].pk) < 0 })
	return out, nil
}

func reverseItems(items []streamItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
