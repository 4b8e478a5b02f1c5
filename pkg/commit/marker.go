// Package commit implementa o protocolo de atomicidade por marker:
// toda mutação durável é descrita por um registro limitado e autoritativo
// persistido ANTES de qualquer escrita, aplicado como um fold infalível e
// limpo no fechamento da janela de commit. Um marker observado em
// qualquer entrada guardada é replayado até o fim antes de prosseguir.
package commit

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"

	"github.com/bobboyms/icydb/pkg/errors"
)

// Constantes do envelope. Moldura fixa na frente do corpo CBOR:
// magic, versão, tipo de mutação, tamanho do payload e CRC32.
const (
	HeaderSize    = 16
	MarkerVersion = 1

	// Magic "ICDB" para validação rápida
	MarkerMagic = 0x49434442

	// MaxMarkerBytes limita o marker inteiro, separado do teto de linha.
	// Marker acima disso é violação de invariante, não corrupção: o
	// pre-commit nunca deveria ter montado um commit desse tamanho.
	MaxMarkerBytes = 256 * 1024
)

// Tipos de mutação registrados no marker.
const (
	MutationInsert uint8 = iota + 1
	MutationReplace
	MutationUpdate
	MutationDelete
	MutationBatch
)

// Tipos de operação. Put carrega o estado absoluto pós-commit do key;
// o replay é idempotente por construção.
const (
	OpPut uint8 = iota + 1
	OpDelete
)

// Op é uma operação durável única: store nomeado, chave e, para Put, o
// valor final.
type Op struct {
	Kind  uint8  `cbor:"0,keyasint"`
	Store string `cbor:"1,keyasint"`
	Key   []byte `cbor:"2,keyasint"`
	Value []byte `cbor:"3,keyasint,omitempty"`
}

// Marker descreve as mutações pretendidas de um único commit em voo.
// Sozinho ele é suficiente para produzir o estado final correto a partir
// do snapshot de pre-commit.
type Marker struct {
	Entity   string `cbor:"0,keyasint"`
	Mutation uint8  `cbor:"1,keyasint"`
	Ops      []Op   `cbor:"2,keyasint"`
}

var markerEncMode cbor.EncMode
var markerDecMode cbor.DecMode

func init() {
	var err error
	markerEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	// Campos desconhecidos no marker são recusados: o marker é
	// autoritativo e uma versão mais nova não pode ser replayada às cegas.
	markerDecMode, err = cbor.DecOptions{
		MaxNestedLevels:   8,
		MaxArrayElements:  65536,
		MaxMapPairs:       1024,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializa envelope + corpo. Estouro do teto é invariante.
func (m *Marker) Encode() ([]byte, error) {
	body, err := markerEncMode.Marshal(m)
	if err != nil {
		return nil, errors.Invariant("commit", "marker encode failed: %v", err)
	}
	if HeaderSize+len(body) > MaxMarkerBytes {
		return nil, errors.Invariant("commit", "marker of %d bytes exceeds cap %d",
			HeaderSize+len(body), MaxMarkerBytes)
	}

	out := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:4], MarkerMagic)
	out[4] = MarkerVersion
	out[5] = m.Mutation
	binary.LittleEndian.PutUint16(out[6:8], 0) // reserved
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[12:16], crc32.ChecksumIEEE(body))
	copy(out[HeaderSize:], body)
	return out, nil
}

// DecodeMarker valida envelope, CRC e corpo. Bytes persistidos que não
// decodificam são corrupção; um marker corrompido não é replayável e o
// engine não pode prosseguir.
func DecodeMarker(raw []byte) (*Marker, error) {
	if len(raw) < HeaderSize {
		return nil, errors.Corrupt("commit", "marker truncated before header")
	}
	if len(raw) > MaxMarkerBytes {
		return nil, errors.Invariant("commit", "persisted marker of %d bytes exceeds cap", len(raw))
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != MarkerMagic {
		return nil, errors.Corrupt("commit", "bad marker magic")
	}
	if raw[4] != MarkerVersion {
		return nil, errors.Corrupt("commit", "unknown marker version %d", raw[4])
	}
	payloadLen := int(binary.LittleEndian.Uint32(raw[8:12]))
	if HeaderSize+payloadLen != len(raw) {
		return nil, errors.Corrupt("commit", "marker length prefix disagrees with payload")
	}
	body := raw[HeaderSize:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(raw[12:16]) {
		return nil, errors.Corrupt("commit", "marker crc mismatch")
	}

	var m Marker
	if err := markerDecMode.Unmarshal(body, &m); err != nil {
		return nil, errors.CorruptCause("commit", err, "marker body decode failed")
	}
	if m.Mutation != raw[5] {
		return nil, errors.Corrupt("commit", "marker header/body mutation disagree")
	}
	for i := range m.Ops {
		if m.Ops[i].Kind != OpPut && m.Ops[i].Kind != OpDelete {
			return nil, errors.Corrupt("commit", "marker op %d has unknown kind %d", i, m.Ops[i].Kind)
		}
		if m.Ops[i].Store == "" {
			return nil, errors.Corrupt("commit", "marker op %d without store", i)
		}
	}
	return &m, nil
}
