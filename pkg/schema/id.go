package schema

import (
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/types"
)

// ID é o wrapper tipado de primary key. IDs são valores públicos, não
// segredos nem capabilities; nunca implicam autorização. Construção é
// sempre explícita: não existe conversão implícita a partir de
// deserialização.
type ID[E Row] struct {
	v types.Value
}

// NewID embrulha um valor keyable como ID de E.
func NewID[E Row](v types.Value) (ID[E], error) {
	if !v.Keyable() {
		return ID[E]{}, errors.Invalid("schema", "id value of kind %s is not keyable", v.Kind())
	}
	return ID[E]{v: v}, nil
}

// MustID é NewID que entra em pânico: uso em literais de teste e codegen.
func MustID[E Row](v types.Value) ID[E] {
	id, err := NewID[E](v)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID[E]) Value() types.Value { return id.v }
func (id ID[E]) IsZero() bool       { return !id.v.IsValid() }

func (id ID[E]) String() string { return id.v.String() }

// EntityNameOf resolve o nome da entidade pelo tipo. Depende da convenção
// do codegen: EntityName é um método de ponteiro que devolve constante e
// não toca o receiver.
func EntityNameOf[E Row]() string {
	var e E
	return e.EntityName()
}
