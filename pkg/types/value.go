package types

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/bobboyms/icydb/pkg/errors"
)

// Kind identifica a família escalar de um Value.
// A tabela de traits em registry.go é a única fonte de verdade sobre
// keyability, ordenação e família de coerção de cada kind.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNull
	KindUnit
	KindBool
	KindText
	KindInt
	KindUint
	KindU256
	KindBigInt
	KindDecimal
	KindFloat32
	KindFloat64
	KindDate
	KindTimestamp
	KindDuration
	KindE8s
	KindE18s
	KindPrincipal
	KindUlid
	KindAccount
	KindSubaccount
	KindBlob
	KindEnum
	KindList
	KindMap
	KindUnsupported
)

// EnumValue é um valor de enum com payload opcional.
type EnumValue struct {
	Name    string
	Payload *Value
}

// MapEntry é um par chave/valor de um Value de kind Map.
type MapEntry struct {
	Key Value
	Val Value
}

// Value é a união taggeada de todos os escalares suportados.
// Imutável após construção; os construtores são o único caminho de entrada.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	u     uint64
	f     float64
	f32   float32
	s     string
	raw   []byte
	dec   decimal.Decimal
	wide  *uint256.Int
	bint  *big.Int
	id    ulid.ULID
	enum  *EnumValue
	list  []Value
	pairs []MapEntry
}

// === Construtores ===

func Null() Value { return Value{kind: KindNull} }
func Unit() Value { return Value{kind: KindUnit} }

func Bool(b bool) Value    { return Value{kind: KindBool, b: b} }
func Text(s string) Value  { return Value{kind: KindText, s: s} }
func Int(i int64) Value    { return Value{kind: KindInt, i: i} }
func Uint(u uint64) Value  { return Value{kind: KindUint, u: u} }
func E8s(u uint64) Value   { return Value{kind: KindE8s, u: u} }
func E18s(u uint64) Value  { return Value{kind: KindE18s, u: u} }
func Blob(b []byte) Value  { return Value{kind: KindBlob, raw: append([]byte(nil), b...)} }
func Ulid(u ulid.ULID) Value { return Value{kind: KindUlid, id: u} }

func U256(x *uint256.Int) Value {
	return Value{kind: KindU256, wide: new(uint256.Int).Set(x)}
}

func BigInt(x *big.Int) Value {
	return Value{kind: KindBigInt, bint: new(big.Int).Set(x)}
}

func Dec(d decimal.Decimal) Value { return Value{kind: KindDecimal, dec: d} }

// DecFromString constrói um Decimal a partir da forma textual canônica.
func DecFromString(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, errors.Invalid("types", "invalid decimal %q: %v", s, err)
	}
	return Dec(d), nil
}

// Float64 rejeita NaN e infinitos na entrada. Não existem floats
// não-finitos dentro do engine. Zero negativo canonicaliza para zero:
// -0.0 == 0.0 e a igualdade lógica tem de virar igualdade de bytes.
func Float64(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, errors.Invalid("types", "non-finite float64 rejected")
	}
	if f == 0 {
		f = 0
	}
	return Value{kind: KindFloat64, f: f}, nil
}

func Float32(f float32) (Value, error) {
	f64 := float64(f)
	if math.IsNaN(f64) || math.IsInf(f64, 0) {
		return Value{}, errors.Invalid("types", "non-finite float32 rejected")
	}
	if f == 0 {
		f = 0
	}
	return Value{kind: KindFloat32, f32: f}, nil
}

// Date guarda dias desde a época Unix (UTC, floor).
func Date(t time.Time) Value {
	secs := t.UTC().Unix()
	days := secs / 86400
	if secs < 0 && secs%86400 != 0 {
		days--
	}
	return Value{kind: KindDate, i: days}
}

func DateFromDays(days int64) Value { return Value{kind: KindDate, i: days} }

// Timestamp guarda nanossegundos desde a época Unix.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, i: t.UTC().UnixNano()} }

func TimestampFromNanos(ns int64) Value { return Value{kind: KindTimestamp, i: ns} }

func Duration(d time.Duration) Value { return Value{kind: KindDuration, i: int64(d)} }

func Principal(b []byte) Value {
	return Value{kind: KindPrincipal, raw: append([]byte(nil), b...)}
}

func Account(b []byte) Value {
	return Value{kind: KindAccount, raw: append([]byte(nil), b...)}
}

func Subaccount(b [32]byte) Value {
	return Value{kind: KindSubaccount, raw: append([]byte(nil), b[:]...)}
}

// EnumOf constrói um enum sem payload. A comparação é case-insensitive e
// aceita forma qualificada ("Color::Red") ou solta ("red").
func EnumOf(name string) Value {
	return Value{kind: KindEnum, enum: &EnumValue{Name: name}}
}

func EnumWith(name string, payload Value) Value {
	p := payload
	return Value{kind: KindEnum, enum: &EnumValue{Name: name, Payload: &p}}
}

func ListOf(vs ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), vs...)}
}

func MapOf(pairs ...MapEntry) Value {
	return Value{kind: KindMap, pairs: append([]MapEntry(nil), pairs...)}
}

// Unsupported é um valor opaco apenas de runtime. Nunca é codificável.
func Unsupported() Value { return Value{kind: KindUnsupported} }

// NewUlid gera um ULID novo (monotônico dentro do milissegundo).
func NewUlid() Value { return Ulid(ulid.Make()) }

// GeneratePrincipal deriva um principal fresco de um UUIDv7.
// NewV7 gera um UUID baseado no tempo atual + aleatoriedade segura.
func GeneratePrincipal() Value {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err) // Em caso improvável de erro no gerador de entropia
	}
	return Principal(id[:])
}

// === Acessores ===

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsUnit() bool   { return v.kind == KindUnit }
func (v Value) IsValid() bool  { return v.kind != KindInvalid }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsText() (string, bool) {
	return v.s, v.kind == KindText
}

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt, KindDate, KindTimestamp, KindDuration:
		return v.i, true
	}
	return 0, false
}

func (v Value) AsUint() (uint64, bool) {
	switch v.kind {
	case KindUint, KindE8s, KindE18s:
		return v.u, true
	}
	return 0, false
}

func (v Value) AsFloat64() (float64, bool) {
	return v.f, v.kind == KindFloat64
}

func (v Value) AsFloat32() (float32, bool) {
	return v.f32, v.kind == KindFloat32
}

func (v Value) AsDecimal() (decimal.Decimal, bool) {
	return v.dec, v.kind == KindDecimal
}

func (v Value) AsU256() (*uint256.Int, bool) {
	if v.kind != KindU256 {
		return nil, false
	}
	return new(uint256.Int).Set(v.wide), true
}

func (v Value) AsBigInt() (*big.Int, bool) {
	if v.kind != KindBigInt {
		return nil, false
	}
	return new(big.Int).Set(v.bint), true
}

func (v Value) AsUlid() (ulid.ULID, bool) {
	return v.id, v.kind == KindUlid
}

func (v Value) AsBytes() ([]byte, bool) {
	switch v.kind {
	case KindPrincipal, KindAccount, KindSubaccount, KindBlob:
		return append([]byte(nil), v.raw...), true
	}
	return nil, false
}

func (v Value) AsEnum() (*EnumValue, bool) {
	return v.enum, v.kind == KindEnum
}

func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

func (v Value) AsMap() ([]MapEntry, bool) {
	return v.pairs, v.kind == KindMap
}

// Len reporta o tamanho de coleções (List, Map, Text, Blob).
func (v Value) Len() (int, bool) {
	switch v.kind {
	case KindList:
		return len(v.list), true
	case KindMap:
		return len(v.pairs), true
	case KindText:
		return len(v.s), true
	case KindBlob:
		return len(v.raw), true
	}
	return 0, false
}

// String é diagnóstico. Nunca participa de codificação ou comparação.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindUnit:
		return "unit"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindText:
		return fmt.Sprintf("%q", v.s)
	case KindInt, KindDate, KindTimestamp, KindDuration:
		return fmt.Sprintf("%d", v.i)
	case KindUint, KindE8s, KindE18s:
		return fmt.Sprintf("%d", v.u)
	case KindU256:
		return v.wide.Dec()
	case KindBigInt:
		return v.bint.String()
	case KindDecimal:
		return v.dec.String()
	case KindFloat32:
		return fmt.Sprintf("%g", v.f32)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindPrincipal, KindAccount, KindSubaccount, KindBlob:
		return fmt.Sprintf("%x", v.raw)
	case KindUlid:
		return v.id.String()
	case KindEnum:
		return v.enum.Name
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.pairs))
	case KindUnsupported:
		return "unsupported"
	default:
		return "invalid"
	}
}

// canonicalEnumName normaliza um nome de enum: último segmento de um
// caminho qualificado, minúsculo.
func canonicalEnumName(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// CanonicalEnumName é exportado para o predicate engine.
func CanonicalEnumName(name string) string { return canonicalEnumName(name) }
