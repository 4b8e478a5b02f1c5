package query

import (
	"github.com/bobboyms/icydb/pkg/types"
)

// MissingPolicy decide o que fazer quando o stream de chaves aponta para
// linha ausente: Strict classifica como corrupção (índice divergente),
// MissingOk pula.
type MissingPolicy uint8

const (
	MissingStrict MissingPolicy = iota
	MissingOk
)

// OrderTerm é um termo de ORDER BY.
type OrderTerm struct {
	Field string
	Desc  bool
}

// Intent é a intenção tipada de uma consulta ou delete: o QUE o caller
// quer, sem nada de físico. O planner valida e transforma em Plan.
type Intent struct {
	Entity string

	Keys    []types.Value
	HasKeys bool

	Pred    Predicate
	HasPred bool

	Order []OrderTerm

	Limit     int
	HasLimit  bool
	Offset    int
	HasOffset bool

	CursorToken string

	DeleteLimit    int
	HasDeleteLimit bool

	Missing MissingPolicy
}

// NewIntent cria uma intenção vazia para a entidade.
func NewIntent(entity string) *Intent {
	return &Intent{Entity: entity}
}

// ByID restringe a um único id.
func (i *Intent) ByID(id types.Value) *Intent {
	i.Keys = []types.Value{id}
	i.HasKeys = true
	return i
}

// ByIDs restringe a um lote de ids (dedup e ordem determinística ficam
// com o planner). Lote vazio é válido e devolve vazio.
func (i *Intent) ByIDs(ids ...types.Value) *Intent {
	i.Keys = append([]types.Value(nil), ids...)
	i.HasKeys = true
	return i
}

// Where define o predicado. Chamadas repetidas acumulam em And.
func (i *Intent) Where(p Predicate) *Intent {
	if i.HasPred {
		i.Pred = And(i.Pred, p)
	} else {
		i.Pred = p
		i.HasPred = true
	}
	return i
}

func (i *Intent) OrderBy(field string) *Intent {
	i.Order = append(i.Order, OrderTerm{Field: field})
	return i
}

func (i *Intent) OrderByDesc(field string) *Intent {
	i.Order = append(i.Order, OrderTerm{Field: field, Desc: true})
	return i
}

func (i *Intent) WithLimit(n int) *Intent {
	i.Limit = n
	i.HasLimit = true
	return i
}

func (i *Intent) WithOffset(n int) *Intent {
	i.Offset = n
	i.HasOffset = true
	return i
}

func (i *Intent) WithCursor(token string) *Intent {
	i.CursorToken = token
	return i
}

func (i *Intent) WithDeleteLimit(n int) *Intent {
	i.DeleteLimit = n
	i.HasDeleteLimit = true
	return i
}

func (i *Intent) MissingOK() *Intent {
	i.Missing = MissingOk
	return i
}
