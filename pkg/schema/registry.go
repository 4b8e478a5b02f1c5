package schema

import (
	"sort"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/types"
)

// Row é a forma que o codegen emite para cada entidade: acesso por nome
// de campo a Values. Get devolve ok=false para campo AUSENTE (missing);
// um campo presente com null devolve (Null, true). A distinção é
// observável no predicate engine.
type Row interface {
	EntityName() string
	Get(field string) (types.Value, bool)
	Set(field string, v types.Value) error
}

// IncomingRelation descreve uma relação forte apontando PARA uma entidade.
type IncomingRelation struct {
	Source string
	Field  string
}

// Registry é a tabela estática de entidades. Montada uma vez no arranque
// (pelo código gerado); somente leitura depois disso.
type Registry struct {
	models    map[string]*EntityModel
	factories map[string]func() Row
	incoming  map[string][]IncomingRelation
}

func NewRegistry() *Registry {
	return &Registry{
		models:    make(map[string]*EntityModel),
		factories: make(map[string]func() Row),
		incoming:  make(map[string][]IncomingRelation),
	}
}

// Register valida o modelo e o adiciona à tabela.
func (r *Registry) Register(m *EntityModel, factory func() Row) error {
	if _, dup := r.models[m.Name]; dup {
		return errors.Invalid("schema", "entity %q already registered", m.Name)
	}
	if factory == nil {
		return errors.Invalid("schema", "entity %q: nil factory", m.Name)
	}
	if err := m.init(); err != nil {
		return err
	}
	r.models[m.Name] = m
	r.factories[m.Name] = factory
	for _, rel := range m.Relations {
		if rel.Strength == Strong {
			r.incoming[rel.Target] = append(r.incoming[rel.Target], IncomingRelation{
				Source: m.Name,
				Field:  rel.Field,
			})
		}
	}
	return nil
}

func (r *Registry) Model(name string) (*EntityModel, bool) {
	m, ok := r.models[name]
	return m, ok
}

func (r *Registry) Factory(name string) (func() Row, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// IncomingStrong lista as relações fortes que apontam para a entidade.
// É o que o strong-delete consulta para saber quais índices reversos ler.
func (r *Registry) IncomingStrong(target string) []IncomingRelation {
	return r.incoming[target]
}

func (r *Registry) Entities() []string {
	out := make([]string, 0, len(r.models))
	for n := range r.models {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
