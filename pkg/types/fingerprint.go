package types

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint calcula o hash de integridade de uma tupla de componentes
// já codificados. Cada componente entra com moldura de tamanho para que
// ("ab","c") e ("a","bc") não colidam.
func Fingerprint(components ...[]byte) uint64 {
	h := xxhash.New()
	var lenBuf [4]byte
	for _, c := range components {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(c)
	}
	return h.Sum64()
}
