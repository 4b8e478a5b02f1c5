package query

import (
	"bytes"
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// CursorVersion é a versão do envelope; tokens de outra versão são
// recusados.
const CursorVersion = 1

// MaxCursorBytes limita o token decodificado.
const MaxCursorBytes = 4096

// Tags dos componentes de boundary, na convenção canônica de ordem:
// missing < null < valor.
const (
	boundaryMissing = 0x00
	boundaryNull    = 0x01
	boundaryValue   = 0x02
)

// Cursor é o envelope opaco de continuação: valores de boundary da
// última linha emitida (campos da ordem canônica + pk), a assinatura do
// plano que o emitiu e, para retomadas de IndexRange, a âncora crua da
// última chave de índice. Forward-only, comparação estritamente maior.
// Semântica live-state: sem snapshot isolation, drift sob escrita
// concorrente é comportamento documentado.
type Cursor struct {
	Version   uint8    `cbor:"0,keyasint"`
	Signature uint64   `cbor:"1,keyasint"`
	Boundary  [][]byte `cbor:"2,keyasint"`
	Anchor    []byte   `cbor:"3,keyasint,omitempty"`
	Desc      bool     `cbor:"4,keyasint,omitempty"`
}

var cursorEncMode cbor.EncMode
var cursorDecMode cbor.DecMode

func init() {
	var err error
	cursorEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cursorDecMode, err = cbor.DecOptions{
		MaxNestedLevels:   8,
		MaxArrayElements:  64,
		MaxMapPairs:       64,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializa o envelope em hex.
func (c *Cursor) Encode() (string, error) {
	raw, err := cursorEncMode.Marshal(c)
	if err != nil {
		return "", errors.Invariant("cursor", "cursor encode failed: %v", err)
	}
	if len(raw) > MaxCursorBytes {
		return "", errors.Invariant("cursor", "cursor of %d bytes exceeds cap", len(raw))
	}
	return hex.EncodeToString(raw), nil
}

// DecodeCursor valida e decodifica um token. Token malformado é entrada
// de usuário, não corrupção.
func DecodeCursor(token string) (*Cursor, error) {
	if len(token) > MaxCursorBytes*2 {
		return nil, errors.Unsupported("cursor", "cursor token too large")
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, errors.Unsupported("cursor", "cursor token is not hex")
	}
	var c Cursor
	if err := cursorDecMode.Unmarshal(raw, &c); err != nil {
		return nil, errors.Unsupported("cursor", "cursor envelope does not decode")
	}
	if c.Version != CursorVersion {
		return nil, errors.Unsupported("cursor", "cursor version %d not supported", c.Version)
	}
	for _, comp := range c.Boundary {
		if len(comp) == 0 || comp[0] > boundaryValue {
			return nil, errors.Unsupported("cursor", "cursor boundary component malformed")
		}
	}
	return &c, nil
}

// BoundaryFromRow captura o boundary de uma linha na ordem canônica.
// Cada componente leva a tag da classe de ordem na frente; valores usam a
// storage key (ordem de bytes == ordem lógica, então a comparação de
// boundary é memcmp).
func BoundaryFromRow(order []OrderTerm, row schema.Row) ([][]byte, error) {
	out := make([][]byte, 0, len(order))
	for _, t := range order {
		v, present := row.Get(t.Field)
		switch orderClass(v, present) {
		case 0:
			out = append(out, []byte{boundaryMissing})
		case 1:
			out = append(out, []byte{boundaryNull})
		default:
			enc, err := types.Encode(v)
			if err != nil {
				return nil, errors.Unsupported("cursor", "order field %q is not encodable for cursors", t.Field)
			}
			comp := make([]byte, 0, 1+len(enc))
			comp = append(comp, boundaryValue)
			out = append(out, append(comp, enc...))
		}
	}
	return out, nil
}

// CompareRowToBoundary posiciona uma linha contra o boundary na ordem
// dada: <0 antes, 0 igual, >0 depois (na direção da ordem). A retomada
// pula tudo que não está estritamente depois.
func CompareRowToBoundary(order []OrderTerm, row schema.Row, boundary [][]byte) (int, error) {
	if len(boundary) != len(order) {
		return 0, errors.Unsupported("cursor", "cursor boundary arity %d does not match order arity %d",
			len(boundary), len(order))
	}
	for i, t := range order {
		rowComp, err := BoundaryFromRow(order[i:i+1], row)
		if err != nil {
			return 0, err
		}
		c := compareBoundaryComponent(rowComp[0], boundary[i])
		if c != 0 {
			if t.Desc {
				return -c, nil
			}
			return c, nil
		}
	}
	return 0, nil
}

func compareBoundaryComponent(a, b []byte) int {
	// A tag já codifica missing < null < valor; dentro de valor, a
	// storage key preserva a ordem. memcmp resolve os dois níveis.
	return bytes.Compare(a, b)
}
