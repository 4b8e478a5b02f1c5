package stable

import (
	"sort"

	"github.com/tidwall/btree"
)

// btreeMemory é o backend em memória, um B-tree ordenado por bytes.
// Chaves são guardadas como string: a comparação de strings em Go é
// bytewise, exatamente a ordem que o contrato de Memory exige.
type btreeMemory struct {
	m     btree.Map[string, []byte]
	bytes int64
}

// NewMemory cria uma Memory volátil vazia.
func NewMemory() Memory { return &btreeMemory{} }

func (bm *btreeMemory) Get(key []byte) ([]byte, bool) {
	v, ok := bm.m.Get(string(key))
	if !ok {
		return nil, false
	}
	return v, true
}

func (bm *btreeMemory) Put(key, value []byte) {
	cp := append([]byte(nil), value...)
	prev, replaced := bm.m.Set(string(key), cp)
	bm.bytes += int64(len(cp))
	if replaced {
		bm.bytes -= int64(len(prev))
	} else {
		bm.bytes += int64(len(key))
	}
}

func (bm *btreeMemory) Delete(key []byte) bool {
	prev, ok := bm.m.Delete(string(key))
	if ok {
		bm.bytes -= int64(len(prev)) + int64(len(key))
	}
	return ok
}

func (bm *btreeMemory) Range(lo, hi Bound, dir Direction, fn func(key, value []byte) bool) {
	bm.LimitedRange(lo, hi, dir, -1, fn)
}

func (bm *btreeMemory) LimitedRange(lo, hi Bound, dir Direction, max int, fn func(key, value []byte) bool) {
	visited := 0
	step := func(k string, v []byte) bool {
		kb := []byte(k)
		if dir == Asc {
			if !inLower(kb, lo) { // pivot pode devolver a própria chave excluída
				return true
			}
			if !inUpper(kb, hi) {
				return false
			}
		} else {
			if !inUpper(kb, hi) {
				return true
			}
			if !inLower(kb, lo) {
				return false
			}
		}
		if max >= 0 && visited >= max {
			return false
		}
		visited++
		return fn(kb, v)
	}

	if dir == Asc {
		if lo.Kind == Unbounded {
			bm.m.Scan(step)
		} else {
			bm.m.Ascend(string(lo.Key), step)
		}
	} else {
		if hi.Kind == Unbounded {
			bm.m.Reverse(step)
		} else {
			bm.m.Descend(string(hi.Key), step)
		}
	}
}

func (bm *btreeMemory) Len() int     { return bm.m.Len() }
func (bm *btreeMemory) Bytes() int64 { return bm.bytes }

// memProvider entrega Memories voláteis por nome. É o backend default
// dos testes e do modo embedded puro.
type memProvider struct {
	stores map[string]*btreeMemory
}

// NewMemProvider cria um Provider volátil.
func NewMemProvider() Provider {
	return &memProvider{stores: make(map[string]*btreeMemory)}
}

func (p *memProvider) Open(name string) Memory {
	if m, ok := p.stores[name]; ok {
		return m
	}
	m := &btreeMemory{}
	p.stores[name] = m
	return m
}

func (p *memProvider) Names() []string {
	out := make([]string, 0, len(p.stores))
	for n := range p.stores {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (p *memProvider) Close() error { return nil }
