// Package schema descreve entidades para o engine: campos, índices e
// relações. Em produção estes modelos são emitidos por codegen; o pacote
// valida tudo no registro para que o engine possa confiar neles depois.
package schema

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/types"
)

// MaxEntityNameBytes limita o nome da entidade (ASCII).
const MaxEntityNameBytes = 64

// MaxIndexComponents limita os campos de um índice composto.
const MaxIndexComponents = 8

// defaultComponentBudget é o orçamento de bytes de componentes de
// largura variável sem MaxBytes declarado.
const defaultComponentBudget = 256

// FieldDef declara um campo da entidade.
type FieldDef struct {
	Name     string
	Kind     types.Kind
	Nullable bool
	// MaxBytes é o orçamento declarado para componentes de índice de
	// largura variável. 0 usa o default do kind.
	MaxBytes int
}

// Budget devolve o orçamento de bytes do campo como componente de índice.
func (f *FieldDef) Budget() int {
	if w := f.Kind.Width(); w > 0 {
		return w
	}
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return defaultComponentBudget
}

// IndexDef declara um índice secundário. ID é derivado de forma estável
// de entidade+nome no registro.
type IndexDef struct {
	Name   string
	Fields []string
	Unique bool

	id [8]byte
}

// ID é a identidade estável do índice no layout de chaves.
func (ix *IndexDef) ID() [8]byte { return ix.id }

// Strength de uma relação. Default é Weak.
type Strength uint8

const (
	Weak Strength = iota
	Strong
)

func (s Strength) String() string {
	if s == Strong {
		return "strong"
	}
	return "weak"
}

// RelationDef declara um campo de relação: Id<Target>, Option<Id<Target>>
// ou coleção de Id<Target>. A descoberta é estritamente por campo: relações
// aninhadas em containers estruturais são weak por construção e não
// aparecem aqui.
type RelationDef struct {
	Field      string
	Target     string
	Strength   Strength
	Collection bool
}

// EntityModel é o modelo completo de uma entidade.
type EntityModel struct {
	Name      string
	PKField   string
	Fields    []FieldDef
	Indexes   []IndexDef
	Relations []RelationDef

	fieldsByName map[string]*FieldDef
	indexByName  map[string]*IndexDef
	relByField   map[string]*RelationDef
}

// init valida e prepara o modelo. Chamado uma vez pelo registro.
func (m *EntityModel) init() error {
	if m.Name == "" || len(m.Name) > MaxEntityNameBytes {
		return errors.Invalid("schema", "entity name %q out of bounds", m.Name)
	}
	for i := 0; i < len(m.Name); i++ {
		if m.Name[i] > 0x7F {
			return errors.Invalid("schema", "entity name %q is not ASCII", m.Name)
		}
	}

	m.fieldsByName = make(map[string]*FieldDef, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		if _, dup := m.fieldsByName[f.Name]; dup {
			return errors.Invalid("schema", "entity %s: duplicate field %q", m.Name, f.Name)
		}
		m.fieldsByName[f.Name] = f
	}

	m.relByField = make(map[string]*RelationDef, len(m.Relations))
	for i := range m.Relations {
		r := &m.Relations[i]
		if _, ok := m.fieldsByName[r.Field]; !ok {
			return errors.Invalid("schema", "entity %s: relation on unknown field %q", m.Name, r.Field)
		}
		if _, dup := m.relByField[r.Field]; dup {
			return errors.Invalid("schema", "entity %s: duplicate relation on %q", m.Name, r.Field)
		}
		m.relByField[r.Field] = r
	}

	// Exatamente uma primary key: keyable, não-nullable, não-relação.
	pk, ok := m.fieldsByName[m.PKField]
	if !ok {
		return errors.Invalid("schema", "entity %s: pk field %q not declared", m.Name, m.PKField)
	}
	if !pk.Kind.Keyable() {
		return errors.Invalid("schema", "entity %s: pk kind %s is not keyable", m.Name, pk.Kind)
	}
	if pk.Nullable {
		return errors.Invalid("schema", "entity %s: pk cannot be nullable", m.Name)
	}
	if _, isRel := m.relByField[m.PKField]; isRel {
		return errors.Invalid("schema", "entity %s: pk cannot be a relation", m.Name)
	}

	m.indexByName = make(map[string]*IndexDef, len(m.Indexes))
	for i := range m.Indexes {
		ix := &m.Indexes[i]
		if len(ix.Fields) == 0 || len(ix.Fields) > MaxIndexComponents {
			return errors.Invalid("schema", "entity %s: index %q has %d components (1..%d)",
				m.Name, ix.Name, len(ix.Fields), MaxIndexComponents)
		}
		for _, fn := range ix.Fields {
			f, ok := m.fieldsByName[fn]
			if !ok {
				return errors.Invalid("schema", "entity %s: index %q on unknown field %q", m.Name, ix.Name, fn)
			}
			if !f.Kind.Keyable() {
				return errors.Invalid("schema", "entity %s: index %q component %q kind %s not keyable",
					m.Name, ix.Name, fn, f.Kind)
			}
		}
		if _, dup := m.indexByName[ix.Name]; dup {
			return errors.Invalid("schema", "entity %s: duplicate index %q", m.Name, ix.Name)
		}
		ix.id = deriveIndexID(m.Name, ix.Name)
		m.indexByName[ix.Name] = ix
	}
	return nil
}

func (m *EntityModel) Field(name string) (*FieldDef, bool) {
	f, ok := m.fieldsByName[name]
	return f, ok
}

func (m *EntityModel) PK() *FieldDef { return m.fieldsByName[m.PKField] }

func (m *EntityModel) Index(name string) (*IndexDef, bool) {
	ix, ok := m.indexByName[name]
	return ix, ok
}

func (m *EntityModel) Relation(field string) (*RelationDef, bool) {
	r, ok := m.relByField[field]
	return r, ok
}

// MaxIndexKeyBytes é o teto derivado dos orçamentos declarados:
// moldura fixa + componentes + sufixo de pk. Chaves acima disso falham
// na admissão.
func (m *EntityModel) MaxIndexKeyBytes(ix *IndexDef) int {
	total := 1 + 8 + 1 // kind + index id + component count
	for _, fn := range ix.Fields {
		f := m.fieldsByName[fn]
		total += 2 + f.Budget()
	}
	total += 2 + m.PK().Budget()
	return total
}

func deriveIndexID(entity, index string) [8]byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], xxhash.Sum64String(entity+"\x00"+index))
	return id
}

// ReverseIndexID deriva a identidade do índice reverso de uma relação
// forte (entidade de origem + campo). Vive no keyspace da entidade alvo.
func ReverseIndexID(sourceEntity, field string) [8]byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], xxhash.Sum64String("rev\x00"+sourceEntity+"\x00"+field))
	return id
}

func (m *EntityModel) String() string {
	return fmt.Sprintf("%s(pk=%s, fields=%d, indexes=%d)", m.Name, m.PKField, len(m.Fields), len(m.Indexes))
}
