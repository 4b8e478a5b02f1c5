package stable

import (
	"bytes"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"
)

// boltMemory é o backend durável: um bucket bbolt por store nomeado.
// Falha de I/O do bbolt equivale a um trap do host (panic): o contrato de
// Memory não tem caminho de erro em escrita, e o commit protocol depende
// de a fase de apply nunca falhar de forma recuperável.
type boltMemory struct {
	db     *bolt.DB
	bucket []byte
}

func (bm *boltMemory) Get(key []byte) ([]byte, bool) {
	var out []byte
	var found bool
	err := bm.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bm.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			out = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	if err != nil {
		panic(fmt.Errorf("stable: bolt read failed: %w", err))
	}
	return out, found
}

func (bm *boltMemory) Put(key, value []byte) {
	err := bm.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bm.bucket)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
	if err != nil {
		panic(fmt.Errorf("stable: bolt write failed: %w", err))
	}
}

func (bm *boltMemory) Delete(key []byte) bool {
	existed := false
	err := bm.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bm.bucket)
		if b == nil {
			return nil
		}
		if b.Get(key) != nil {
			existed = true
			return b.Delete(key)
		}
		return nil
	})
	if err != nil {
		panic(fmt.Errorf("stable: bolt delete failed: %w", err))
	}
	return existed
}

func (bm *boltMemory) Range(lo, hi Bound, dir Direction, fn func(key, value []byte) bool) {
	bm.LimitedRange(lo, hi, dir, -1, fn)
}

func (bm *boltMemory) LimitedRange(lo, hi Bound, dir Direction, max int, fn func(key, value []byte) bool) {
	err := bm.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bm.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		visited := 0

		emit := func(k, v []byte) bool {
			if max >= 0 && visited >= max {
				return false
			}
			visited++
			kc := append([]byte(nil), k...)
			vc := append([]byte(nil), v...)
			return fn(kc, vc)
		}

		if dir == Asc {
			var k, v []byte
			if lo.Kind == Unbounded {
				k, v = c.First()
			} else {
				k, v = c.Seek(lo.Key)
				if k != nil && lo.Kind == Excluded && bytes.Equal(k, lo.Key) {
					k, v = c.Next()
				}
			}
			for ; k != nil; k, v = c.Next() {
				if !inUpper(k, hi) {
					break
				}
				if !emit(k, v) {
					break
				}
			}
		} else {
			var k, v []byte
			if hi.Kind == Unbounded {
				k, v = c.Last()
			} else {
				k, v = c.Seek(hi.Key)
				// Seek para no primeiro >= hi; para descer, recua até <= hi.
				if k == nil {
					k, v = c.Last()
				}
				for k != nil && !inUpper(k, hi) {
					k, v = c.Prev()
				}
			}
			for ; k != nil; k, v = c.Prev() {
				if !inLower(k, lo) {
					break
				}
				if !emit(k, v) {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		panic(fmt.Errorf("stable: bolt range failed: %w", err))
	}
}

func (bm *boltMemory) Len() int {
	n := 0
	_ = bm.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bm.bucket); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

func (bm *boltMemory) Bytes() int64 {
	var total int64
	_ = bm.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bm.bucket); b != nil {
			return b.ForEach(func(k, v []byte) error {
				total += int64(len(k) + len(v))
				return nil
			})
		}
		return nil
	})
	return total
}

// boltProvider abre um arquivo bbolt e entrega um bucket por store.
type boltProvider struct {
	db *bolt.DB
}

// NewBoltProvider abre (ou cria) o arquivo durável.
func NewBoltProvider(path string) (Provider, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("stable: open bolt file: %w", err)
	}
	return &boltProvider{db: db}, nil
}

func (p *boltProvider) Open(name string) Memory {
	// Cria o bucket adiantado para que Names o enxergue.
	err := p.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		panic(fmt.Errorf("stable: create bucket %q: %w", name, err))
	}
	return &boltMemory{db: p.db, bucket: []byte(name)}
}

func (p *boltProvider) Names() []string {
	var out []string
	_ = p.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	sort.Strings(out)
	return out
}

func (p *boltProvider) Close() error { return p.db.Close() }
