package types

import "sort"

// Family é a família de coerção de um escalar. Cada kind pertence a
// exatamente uma família; Compare só cruza kinds dentro da mesma família.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyNumeric
	FamilyTextual
	FamilyIdentifier
	FamilyBlob
	FamilyBool
	FamilyEnum
	FamilyUnit
)

func (f Family) String() string {
	switch f {
	case FamilyNumeric:
		return "numeric"
	case FamilyTextual:
		return "textual"
	case FamilyIdentifier:
		return "identifier"
	case FamilyBlob:
		return "blob"
	case FamilyBool:
		return "bool"
	case FamilyEnum:
		return "enum"
	case FamilyUnit:
		return "unit"
	default:
		return "none"
	}
}

// Traits descreve um kind para planner, predicate engine e codec.
// Width é a largura fixa da storage key em bytes; 0 = variável.
type Traits struct {
	Name      string
	Family    Family
	Numeric   bool
	Keyable   bool
	Orderable bool
	Width     int
}

// A tabela abaixo é a única fonte de verdade sobre metadados escalares.
// Consumidores externos (codegen, validators) leem esta tabela via Traits().
var traitsTable = map[Kind]Traits{
	KindNull:        {Name: "null", Family: FamilyNone},
	KindUnit:        {Name: "unit", Family: FamilyUnit, Keyable: true, Orderable: true, Width: 1},
	KindBool:        {Name: "bool", Family: FamilyBool, Keyable: true, Orderable: true, Width: 1},
	KindText:        {Name: "text", Family: FamilyTextual, Keyable: true, Orderable: true},
	KindInt:         {Name: "int", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 8},
	KindUint:        {Name: "uint", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 8},
	KindU256:        {Name: "u256", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 32},
	KindBigInt:      {Name: "bigint", Family: FamilyNumeric, Numeric: true, Orderable: true},
	KindDecimal:     {Name: "decimal", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true},
	KindFloat32:     {Name: "float32", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 4},
	KindFloat64:     {Name: "float64", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 8},
	KindDate:        {Name: "date", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 8},
	KindTimestamp:   {Name: "timestamp", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 8},
	KindDuration:    {Name: "duration", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 8},
	KindE8s:         {Name: "e8s", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 8},
	KindE18s:        {Name: "e18s", Family: FamilyNumeric, Numeric: true, Keyable: true, Orderable: true, Width: 8},
	KindPrincipal:   {Name: "principal", Family: FamilyIdentifier, Keyable: true, Orderable: true},
	KindUlid:        {Name: "ulid", Family: FamilyIdentifier, Keyable: true, Orderable: true, Width: 16},
	KindAccount:     {Name: "account", Family: FamilyIdentifier, Keyable: true, Orderable: true},
	KindSubaccount:  {Name: "subaccount", Family: FamilyIdentifier, Keyable: true, Orderable: true, Width: 32},
	KindBlob:        {Name: "blob", Family: FamilyBlob, Keyable: true, Orderable: true},
	KindEnum:        {Name: "enum", Family: FamilyEnum, Keyable: true, Orderable: true},
	KindList:        {Name: "list", Family: FamilyNone},
	KindMap:         {Name: "map", Family: FamilyNone},
	KindUnsupported: {Name: "unsupported", Family: FamilyNone},
}

// Traits devolve os metadados do kind. Kind desconhecido = zero Traits.
func (k Kind) Traits() Traits { return traitsTable[k] }

func (k Kind) String() string {
	t, ok := traitsTable[k]
	if !ok {
		return "invalid"
	}
	return t.Name
}

func (k Kind) FamilyOf() Family { return traitsTable[k].Family }
func (k Kind) Keyable() bool    { return traitsTable[k].Keyable }
func (k Kind) Orderable() bool  { return traitsTable[k].Orderable }
func (k Kind) Width() int       { return traitsTable[k].Width }

// Family do valor, direto da tabela.
func (v Value) Family() Family { return v.kind.FamilyOf() }

// IsNumeric e Family concordam por construção: ambos leem a mesma tabela.
func (v Value) IsNumeric() bool { return traitsTable[v.kind].Numeric }

// Keyable reporta se o valor pode virar storage key. Enum com payload
// não é keyable mesmo com o kind marcado na tabela.
func (v Value) Keyable() bool {
	if v.kind == KindEnum {
		return v.enum != nil && v.enum.Payload == nil
	}
	return traitsTable[v.kind].Keyable
}

func (v Value) Orderable() bool { return traitsTable[v.kind].Orderable }

// Kinds lista todos os kinds registrados em ordem estável, para
// consumidores mecânicos.
func Kinds() []Kind {
	out := make([]Kind, 0, len(traitsTable))
	for k := range traitsTable {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
