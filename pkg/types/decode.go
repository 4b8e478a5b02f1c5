package types

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/bobboyms/icydb/pkg/errors"
)

// Decode reconstrói um Value a partir de bytes persistidos. O kind vem do
// schema (campo conhecido), nunca dos bytes. Toda falha é Corruption:
// bytes em disco que não decodificam não são erro de usuário.
func Decode(kind Kind, b []byte) (Value, error) {
	if len(b) > MaxKeyBytes+8 {
		return Value{}, errors.Corrupt("types", "oversized key bytes (%d) for kind %s", len(b), kind)
	}
	if w := kind.Width(); w > 0 && len(b) != w {
		return Value{}, errors.Corrupt("types", "kind %s expects %d bytes, got %d", kind, w, len(b))
	}

	switch kind {
	case KindUnit:
		if b[0] != 0x00 {
			return Value{}, errors.Corrupt("types", "bad unit byte 0x%02x", b[0])
		}
		return Unit(), nil

	case KindBool:
		switch b[0] {
		case 0x00:
			return Bool(false), nil
		case 0x01:
			return Bool(true), nil
		default:
			return Value{}, errors.Corrupt("types", "bad bool byte 0x%02x", b[0])
		}

	case KindText:
		return Text(string(b)), nil

	case KindInt, KindDate, KindTimestamp, KindDuration:
		i := int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
		switch kind {
		case KindDate:
			return DateFromDays(i), nil
		case KindTimestamp:
			return TimestampFromNanos(i), nil
		case KindDuration:
			return Value{kind: KindDuration, i: i}, nil
		default:
			return Int(i), nil
		}

	case KindUint, KindE8s, KindE18s:
		u := binary.BigEndian.Uint64(b)
		return Value{kind: kind, u: u}, nil

	case KindU256:
		return U256(new(uint256.Int).SetBytes(b)), nil

	case KindFloat64:
		bits := binary.BigEndian.Uint64(b)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		f := math.Float64frombits(bits)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, errors.Corrupt("types", "non-finite float64 in storage")
		}
		return Value{kind: KindFloat64, f: f}, nil

	case KindFloat32:
		bits := binary.BigEndian.Uint32(b)
		if bits&(1<<31) != 0 {
			bits &^= 1 << 31
		} else {
			bits = ^bits
		}
		f := math.Float32frombits(bits)
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return Value{}, errors.Corrupt("types", "non-finite float32 in storage")
		}
		return Value{kind: KindFloat32, f32: f}, nil

	case KindDecimal:
		return decodeDecimal(b)

	case KindUlid:
		var id ulid.ULID
		copy(id[:], b)
		return Ulid(id), nil

	case KindPrincipal:
		return Principal(b), nil
	case KindAccount:
		return Account(b), nil
	case KindSubaccount:
		var sa [32]byte
		copy(sa[:], b)
		return Subaccount(sa), nil
	case KindBlob:
		return Blob(b), nil

	case KindEnum:
		return EnumOf(string(b)), nil

	default:
		return Value{}, errors.Corrupt("types", "kind %s has no storage decoding", kind)
	}
}

func decodeDecimal(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, errors.Corrupt("types", "empty decimal key")
	}
	switch b[0] {
	case decZero:
		if len(b) != 1 {
			return Value{}, errors.Corrupt("types", "trailing bytes after decimal zero")
		}
		return Dec(decimal.Zero), nil

	case decPositive, decNegative:
		neg := b[0] == decNegative
		body := b[1:]
		if len(body) < 5 { // expoente (4) + terminador
			return Value{}, errors.Corrupt("types", "truncated decimal key")
		}
		expBytes := make([]byte, 4)
		copy(expBytes, body[:4])
		if neg {
			for i := range expBytes {
				expBytes[i] = ^expBytes[i]
			}
		}
		adj := int32(binary.BigEndian.Uint32(expBytes) ^ 0x80000000)

		term := byte(0x00)
		if neg {
			term = 0xFF
		}
		digits := make([]byte, 0, len(body)-5)
		i := 4
		for ; i < len(body); i++ {
			c := body[i]
			if c == term {
				break
			}
			d := c - 1
			if neg {
				d = 0xFF - c - 1
			}
			if d > 9 {
				return Value{}, errors.Corrupt("types", "bad decimal digit byte 0x%02x", c)
			}
			digits = append(digits, '0'+d)
		}
		if i != len(body)-1 {
			return Value{}, errors.Corrupt("types", "malformed decimal key framing")
		}
		if len(digits) == 0 {
			return Value{}, errors.Corrupt("types", "decimal key without mantissa")
		}

		coef, ok := new(big.Int).SetString(string(digits), 10)
		if !ok {
			return Value{}, errors.Corrupt("types", "unparseable decimal mantissa")
		}
		if neg {
			coef.Neg(coef)
		}
		exp := adj - int32(len(digits))
		return Dec(decimal.NewFromBigInt(coef, exp)), nil

	default:
		return Value{}, errors.Corrupt("types", "bad decimal sign class 0x%02x", b[0])
	}
}
