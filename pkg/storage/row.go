package storage

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// MaxRowBytes limita o payload CBOR de uma linha. O teto é checado ANTES
// de decodificar: payload acima do limite nem chega no decoder.
const MaxRowBytes = 1 << 20

// RawRow é [len:u32be][cbor], o formato persistido de uma linha.
type RawRow []byte

var rowEncMode cbor.EncMode
var rowDecMode cbor.DecMode

func init() {
	var err error
	rowEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	rowDecMode, err = cbor.DecOptions{
		MaxNestedLevels:   16,
		MaxArrayElements:  65536,
		MaxMapPairs:       65536,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// wireValue é a forma CBOR de um Value. Chaves inteiras para payload
// compacto; Kind discrimina o resto.
type wireValue struct {
	Kind    uint8        `cbor:"0,keyasint"`
	Bool    bool         `cbor:"1,keyasint,omitempty"`
	Int     int64        `cbor:"2,keyasint,omitempty"`
	Uint    uint64       `cbor:"3,keyasint,omitempty"`
	Float   float64      `cbor:"4,keyasint,omitempty"`
	Text    string       `cbor:"5,keyasint,omitempty"`
	Bytes   []byte       `cbor:"6,keyasint,omitempty"`
	List    []wireValue  `cbor:"7,keyasint,omitempty"`
	MapKeys []wireValue  `cbor:"8,keyasint,omitempty"`
	MapVals []wireValue  `cbor:"9,keyasint,omitempty"`
	Payload *wireValue   `cbor:"10,keyasint,omitempty"`
}

func toWire(v types.Value) (wireValue, error) {
	w := wireValue{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case types.KindNull, types.KindUnit:
		// só o kind
	case types.KindBool:
		b, _ := v.AsBool()
		w.Bool = b
	case types.KindText:
		s, _ := v.AsText()
		w.Text = s
	case types.KindInt, types.KindDate, types.KindTimestamp, types.KindDuration:
		i, _ := v.AsInt()
		w.Int = i
	case types.KindUint, types.KindE8s, types.KindE18s:
		u, _ := v.AsUint()
		w.Uint = u
	case types.KindFloat64:
		f, _ := v.AsFloat64()
		w.Float = f
	case types.KindFloat32:
		f, _ := v.AsFloat32()
		w.Float = float64(f)
	case types.KindDecimal:
		d, _ := v.AsDecimal()
		w.Text = d.String()
	case types.KindU256:
		x, _ := v.AsU256()
		w.Bytes = x.Bytes()
	case types.KindBigInt:
		x, _ := v.AsBigInt()
		w.Text = x.String()
	case types.KindUlid:
		u, _ := v.AsUlid()
		w.Bytes = u[:]
	case types.KindPrincipal, types.KindAccount, types.KindSubaccount, types.KindBlob:
		b, _ := v.AsBytes()
		w.Bytes = b
	case types.KindEnum:
		e, _ := v.AsEnum()
		w.Text = e.Name
		if e.Payload != nil {
			pw, err := toWire(*e.Payload)
			if err != nil {
				return w, err
			}
			w.Payload = &pw
		}
	case types.KindList:
		vs, _ := v.AsList()
		w.List = make([]wireValue, len(vs))
		for i, item := range vs {
			iw, err := toWire(item)
			if err != nil {
				return w, err
			}
			w.List[i] = iw
		}
	case types.KindMap:
		pairs, _ := v.AsMap()
		w.MapKeys = make([]wireValue, len(pairs))
		w.MapVals = make([]wireValue, len(pairs))
		for i, p := range pairs {
			kw, err := toWire(p.Key)
			if err != nil {
				return w, err
			}
			vw, err := toWire(p.Val)
			if err != nil {
				return w, err
			}
			w.MapKeys[i] = kw
			w.MapVals[i] = vw
		}
	default:
		return w, errors.Invalid("storage", "value of kind %s cannot be persisted", v.Kind())
	}
	return w, nil
}

func fromWire(w wireValue) (types.Value, error) {
	switch types.Kind(w.Kind) {
	case types.KindNull:
		return types.Null(), nil
	case types.KindUnit:
		return types.Unit(), nil
	case types.KindBool:
		return types.Bool(w.Bool), nil
	case types.KindText:
		return types.Text(w.Text), nil
	case types.KindInt:
		return types.Int(w.Int), nil
	case types.KindDate:
		return types.DateFromDays(w.Int), nil
	case types.KindTimestamp:
		return types.TimestampFromNanos(w.Int), nil
	case types.KindDuration:
		return types.Duration(time.Duration(w.Int)), nil
	case types.KindUint:
		return types.Uint(w.Uint), nil
	case types.KindE8s:
		return types.E8s(w.Uint), nil
	case types.KindE18s:
		return types.E18s(w.Uint), nil
	case types.KindFloat64:
		v, err := types.Float64(w.Float)
		if err != nil {
			return types.Value{}, errors.Corrupt("storage", "non-finite float64 in row")
		}
		return v, nil
	case types.KindFloat32:
		v, err := types.Float32(float32(w.Float))
		if err != nil {
			return types.Value{}, errors.Corrupt("storage", "non-finite float32 in row")
		}
		return v, nil
	case types.KindDecimal:
		d, err := decimal.NewFromString(w.Text)
		if err != nil {
			return types.Value{}, errors.Corrupt("storage", "bad decimal %q in row", w.Text)
		}
		return types.Dec(d), nil
	case types.KindU256:
		if len(w.Bytes) > 32 {
			return types.Value{}, errors.Corrupt("storage", "u256 wider than 32 bytes in row")
		}
		return types.U256(new(uint256.Int).SetBytes(w.Bytes)), nil
	case types.KindBigInt:
		x, ok := new(big.Int).SetString(w.Text, 10)
		if !ok {
			return types.Value{}, errors.Corrupt("storage", "bad bigint %q in row", w.Text)
		}
		return types.BigInt(x), nil
	case types.KindUlid:
		if len(w.Bytes) != 16 {
			return types.Value{}, errors.Corrupt("storage", "ulid with %d bytes in row", len(w.Bytes))
		}
		var id ulid.ULID
		copy(id[:], w.Bytes)
		return types.Ulid(id), nil
	case types.KindPrincipal:
		return types.Principal(w.Bytes), nil
	case types.KindAccount:
		return types.Account(w.Bytes), nil
	case types.KindSubaccount:
		if len(w.Bytes) != 32 {
			return types.Value{}, errors.Corrupt("storage", "subaccount with %d bytes in row", len(w.Bytes))
		}
		var sa [32]byte
		copy(sa[:], w.Bytes)
		return types.Subaccount(sa), nil
	case types.KindBlob:
		return types.Blob(w.Bytes), nil
	case types.KindEnum:
		if w.Payload == nil {
			return types.EnumOf(w.Text), nil
		}
		p, err := fromWire(*w.Payload)
		if err != nil {
			return types.Value{}, err
		}
		return types.EnumWith(w.Text, p), nil
	case types.KindList:
		vs := make([]types.Value, len(w.List))
		for i, iw := range w.List {
			v, err := fromWire(iw)
			if err != nil {
				return types.Value{}, err
			}
			vs[i] = v
		}
		return types.ListOf(vs...), nil
	case types.KindMap:
		if len(w.MapKeys) != len(w.MapVals) {
			return types.Value{}, errors.Corrupt("storage", "map with mismatched key/value arity in row")
		}
		pairs := make([]types.MapEntry, len(w.MapKeys))
		for i := range w.MapKeys {
			k, err := fromWire(w.MapKeys[i])
			if err != nil {
				return types.Value{}, err
			}
			v, err := fromWire(w.MapVals[i])
			if err != nil {
				return types.Value{}, err
			}
			pairs[i] = types.MapEntry{Key: k, Val: v}
		}
		return types.MapOf(pairs...), nil
	default:
		return types.Value{}, errors.Corrupt("storage", "unknown value kind 0x%02x in row", w.Kind)
	}
}

// EncodeRow serializa a linha: só campos PRESENTES entram no mapa.
// Campo ausente e campo null são estados distintos e sobrevivem ao
// round-trip como tal.
func EncodeRow(m *schema.EntityModel, row schema.Row) (RawRow, error) {
	fields := make(map[string]wireValue, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		v, present := row.Get(f.Name)
		if !present {
			continue
		}
		w, err := toWire(v)
		if err != nil {
			return nil, err
		}
		fields[f.Name] = w
	}

	body, err := rowEncMode.Marshal(fields)
	if err != nil {
		return nil, errors.Invariant("storage", "row encode failed: %v", err)
	}
	if len(body) > MaxRowBytes {
		return nil, errors.Invalid("storage", "row exceeds %d bytes", MaxRowBytes)
	}

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return RawRow(out), nil
}

// DecodeRow materializa uma linha persistida numa instância nova da
// factory. Decodificação é localizada e limitada: payload acima do teto é
// recusado antes do decoder rodar, e qualquer pânico do decoder de
// terceiro é contido e vira erro tipado de corrupção.
func DecodeRow(m *schema.EntityModel, factory func() schema.Row, raw RawRow) (row schema.Row, err error) {
	if len(raw) < 4 {
		return nil, errors.Corrupt("storage", "row for %s truncated before length prefix", m.Name)
	}
	n := int(binary.BigEndian.Uint32(raw[:4]))
	if n > MaxRowBytes {
		return nil, errors.Corrupt("storage", "row for %s declares %d bytes (cap %d)", m.Name, n, MaxRowBytes)
	}
	if len(raw)-4 != n {
		return nil, errors.Corrupt("storage", "row for %s length prefix disagrees with payload", m.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			row = nil
			err = errors.Corrupt("storage", "row decoder panicked for %s: %v", m.Name, p)
		}
	}()

	var fields map[string]wireValue
	if uerr := rowDecMode.Unmarshal(raw[4:], &fields); uerr != nil {
		return nil, errors.CorruptCause("storage", uerr, "row cbor decode failed for %s", m.Name)
	}

	row = factory()
	for name, w := range fields {
		f, ok := m.Field(name)
		if !ok {
			return nil, errors.Corrupt("storage", "row for %s carries unknown field %q", m.Name, name)
		}
		v, verr := fromWire(w)
		if verr != nil {
			return nil, verr
		}
		if !v.IsNull() && v.Kind() != f.Kind {
			return nil, errors.Corrupt("storage", "row for %s field %q has kind %s, schema says %s",
				m.Name, name, v.Kind(), f.Kind)
		}
		if serr := row.Set(name, v); serr != nil {
			return nil, errors.CorruptCause("storage", serr, "row for %s rejects field %q", m.Name, name)
		}
	}
	return row, nil
}

