package index

import (
	"github.com/rs/zerolog"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/storage"
)

// snapshot guarda o conteúdo integral de um store para restore.
type snapshot struct {
	name  string
	pairs [][2][]byte
}

func takeSnapshot(p stable.Provider, name string) snapshot {
	s := snapshot{name: name}
	p.Open(name).Range(stable.NoBound(), stable.NoBound(), stable.Asc, func(k, v []byte) bool {
		s.pairs = append(s.pairs, [2][]byte{
			append([]byte(nil), k...),
			append([]byte(nil), v...),
		})
		return true
	})
	return s
}

func clearStore(mem stable.Memory) {
	var keys [][]byte
	mem.Range(stable.NoBound(), stable.NoBound(), stable.Asc, func(k, _ []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		return true
	})
	for _, k := range keys {
		mem.Delete(k)
	}
}

func restoreSnapshot(p stable.Provider, s snapshot) {
	mem := p.Open(s.name)
	clearStore(mem)
	for _, pair := range s.pairs {
		mem.Put(pair[0], pair[1])
	}
}

// Rebuild reconstrói índices secundários, fingerprints e índices
// reversos a partir das linhas autoritativas. Fail-closed: qualquer linha
// ruim aborta a reconstrução inteira e restaura o snapshot pré-rebuild de
// todos os stores tocados. Roda apenas no arranque, com acesso exclusivo.
func Rebuild(p stable.Provider, reg *schema.Registry, logger zerolog.Logger) error {
	entities := reg.Entities()

	// 1. Snapshot de tudo antes de tocar em qualquer store.
	snapshots := make([]snapshot, 0, len(entities)*2)
	for _, name := range entities {
		snapshots = append(snapshots, takeSnapshot(p, storage.IndexStoreName(name)))
		snapshots = append(snapshots, takeSnapshot(p, storage.FingerprintStoreName(name)))
	}

	restore := func() {
		for _, s := range snapshots {
			restoreSnapshot(p, s)
		}
	}

	// 2. Limpa o estado derivado.
	for _, name := range entities {
		clearStore(p.Open(storage.IndexStoreName(name)))
		clearStore(p.Open(storage.FingerprintStoreName(name)))
	}

	// 3. Reconstrói entidade por entidade, linha por linha.
	for _, name := range entities {
		m, _ := reg.Model(name)
		factory, _ := reg.Factory(name)
		bundle := storage.OpenBundle(p, name)

		var rowErr error
		rows := 0
		bundle.Data.Range(stable.NoBound(), stable.NoBound(), stable.Asc, func(rawKey, rawVal []byte) bool {
			dk, err := storage.ParseDataKey(name, rawKey)
			if err != nil {
				rowErr = err
				return false
			}
			row, err := storage.DecodeRow(m, factory, storage.RawRow(rawVal))
			if err != nil {
				rowErr = err
				return false
			}

			pkBytes := dk.StorageKey()
			entries, err := ComputeEntries(m, row, pkBytes)
			if err != nil {
				rowErr = err
				return false
			}
			for i := range entries {
				c := &entries[i]
				if err := CheckUnique(bundle, m, *c, pkBytes); err != nil {
					rowErr = err
					return false
				}
				op, err := insertOp(bundle, storage.IndexStoreName(name), c, pkBytes)
				if err != nil {
					rowErr = err
					return false
				}
				bundle.Index.Put(op.Key, op.Value)
				bundle.Fingerprint.Put(c.EncodedKey, storage.EncodeFingerprint(c.Fingerprint))
			}

			// Índices reversos participam do rebuild por simetria:
			// são estado derivado como qualquer outro índice.
			revOps, err := ReverseOps(reg, m, nil, row, pkBytes)
			if err != nil {
				rowErr = err
				return false
			}
			for _, op := range revOps {
				p.Open(op.Store).Put(op.Key, op.Value)
			}
			rows++
			return true
		})

		if rowErr != nil {
			restore()
			return errors.CorruptCause("index", rowErr, "rebuild aborted at entity %s, pre-rebuild state restored", name)
		}
		logger.Info().Str("entity", name).Int("rows", rows).Msg("index rebuild complete")
	}
	return nil
}
