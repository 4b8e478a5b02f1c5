package types

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/bobboyms/icydb/pkg/errors"
)

// MaxKeyBytes limita storage keys de largura variável. Chaves acima do
// limite falham na admissão, nunca depois de persistidas.
const MaxKeyBytes = 4096

// Encode produz a storage key canônica do valor: para todo par keyable
// a, b vale a < b  <=>  encode(a) <lex encode(b), e igualdade lógica
// equivale a igualdade de bytes. Total no subconjunto keyable.
func Encode(v Value) ([]byte, error) {
	switch v.kind {
	case KindUnit:
		return []byte{0x00}, nil

	case KindBool:
		if v.b {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil

	case KindText:
		if len(v.s) > MaxKeyBytes {
			return nil, errors.Invalid("types", "text key exceeds %d bytes", MaxKeyBytes)
		}
		return []byte(v.s), nil

	case KindInt, KindDate, KindTimestamp, KindDuration:
		// Inteiros com sinal: flip do bit de sinal, depois big-endian.
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.i)^(1<<63))
		return buf[:], nil

	case KindUint, KindE8s, KindE18s:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v.u)
		return buf[:], nil

	case KindU256:
		b32 := v.wide.Bytes32()
		return b32[:], nil

	case KindFloat64:
		bits := math.Float64bits(v.f)
		if bits&(1<<63) != 0 {
			bits = ^bits // negativos: inverte tudo
		} else {
			bits |= 1 << 63 // positivos: flip do topo
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bits)
		return buf[:], nil

	case KindFloat32:
		bits := math.Float32bits(v.f32)
		if bits&(1<<31) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 31
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], bits)
		return buf[:], nil

	case KindDecimal:
		return encodeDecimal(v)

	case KindUlid:
		out := make([]byte, 16)
		copy(out, v.id[:])
		return out, nil

	case KindPrincipal, KindAccount, KindSubaccount, KindBlob:
		if len(v.raw) > MaxKeyBytes {
			return nil, errors.Invalid("types", "%s key exceeds %d bytes", v.kind, MaxKeyBytes)
		}
		return append([]byte(nil), v.raw...), nil

	case KindEnum:
		if v.enum == nil || v.enum.Payload != nil {
			return nil, errors.Invalid("types", "enum with payload is not keyable")
		}
		return []byte(canonicalEnumName(v.enum.Name)), nil

	default:
		return nil, errors.Invalid("types", "kind %s is not keyable", v.kind)
	}
}

// Classes de sinal do decimal. A classe ordena antes de qualquer dígito.
const (
	decNegative = 0x00
	decZero     = 0x01
	decPositive = 0x02
)

// encodeDecimal: classe de sinal, expoente ajustado (notação científica
// 0.D × 10^adj) com bias, dígitos da mantissa normalizada (sem zeros à
// direita) e terminador. Negativos complementam expoente, dígitos e
// terminador para inverter a ordem.
func encodeDecimal(v Value) ([]byte, error) {
	sign := v.dec.Sign()
	if sign == 0 {
		return []byte{decZero}, nil
	}

	digits := absDigits(v.dec.Coefficient())
	n := len(digits)

	// Normaliza: remove zeros à direita da mantissa.
	for len(digits) > 1 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
	}
	if len(digits) > MaxKeyBytes/2 {
		return nil, errors.Invalid("types", "decimal mantissa exceeds key budget")
	}

	adj := int64(v.dec.Exponent()) + int64(n)
	biased := uint32(int32(adj)) ^ 0x80000000

	out := make([]byte, 0, 6+len(digits))
	var expBuf [4]byte
	binary.BigEndian.PutUint32(expBuf[:], biased)

	if sign > 0 {
		out = append(out, decPositive)
		out = append(out, expBuf[:]...)
		for _, d := range digits {
			out = append(out, byte(d-'0')+1)
		}
		out = append(out, 0x00)
	} else {
		out = append(out, decNegative)
		for _, b := range expBuf {
			out = append(out, ^b)
		}
		for _, d := range digits {
			out = append(out, 0xFF-(byte(d-'0')+1))
		}
		out = append(out, 0xFF)
	}
	return out, nil
}

// absDigits extrai os dígitos decimais do valor absoluto do coeficiente.
func absDigits(coef *big.Int) []byte {
	s := coef.String()
	if len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	return []byte(s)
}
