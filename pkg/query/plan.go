package query

import (
	"fmt"
	"strings"

	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/stable"
)

// AccessKind enumera os caminhos físicos canônicos de acesso. União
// fechada: o executor casa exaustivamente.
type AccessKind uint8

const (
	AccessKey AccessKind = iota + 1
	AccessKeys
	AccessPrimaryScan
	AccessIndexPrefix
	AccessIndexRange
	AccessComposite
)

func (k AccessKind) String() string {
	switch k {
	case AccessKey:
		return "Key"
	case AccessKeys:
		return "Keys"
	case AccessPrimaryScan:
		return "PrimaryScan"
	case AccessIndexPrefix:
		return "IndexPrefix"
	case AccessIndexRange:
		return "IndexRange"
	case AccessComposite:
		return "Composite"
	default:
		return "?"
	}
}

// SetOp combina streams de um Composite.
type SetOp uint8

const (
	SetUnion SetOp = iota + 1
	SetIntersection
)

// Access descreve um caminho físico resolvido. PKs são storage keys já
// codificadas; Lower/Upper são bounds no keyspace codificado do caminho
// (pk para PrimaryScan, chave de índice para IndexRange).
type Access struct {
	Kind AccessKind

	PKs [][]byte

	Index  *schema.IndexDef
	Prefix [][]byte

	Lower, Upper stable.Bound

	SetOp    SetOp
	Children []Access
}

// ExecMode seleciona entre streaming canônico e um fast path estreito.
type ExecMode uint8

const (
	ModeCanonical ExecMode = iota
	ModeFastPK
	ModeFastPrefix
	ModeFastRangeLimit
)

func (m ExecMode) String() string {
	switch m {
	case ModeFastPK:
		return "fast_pk"
	case ModeFastPrefix:
		return "fast_prefix"
	case ModeFastRangeLimit:
		return "fast_range_limit"
	default:
		return "canonical"
	}
}

// Plan é o plano executável: validado, normalizado, ligado ao modelo da
// entidade. O executor não decide nada lógico; só segue o plano.
type Plan struct {
	Model *schema.EntityModel

	Access Access
	Dir    stable.Direction

	Residual    Predicate
	HasResidual bool

	// Order é a ordem canônica (usuário + tie-break de pk); UserTerms
	// conta os termos do usuário. PostOrder liga o sort pós-acesso quando
	// o stream físico não entrega a ordem pedida.
	Order     []OrderTerm
	UserTerms int
	PostOrder bool

	Limit   int // -1 = sem limite
	Offset  int
	HasPage bool

	Cursor *Cursor

	DeleteLimit int // -1 = sem teto

	Missing MissingPolicy

	Mode      ExecMode
	PushLimit int // ModeFastRangeLimit: máximo de entradas de índice

	Signature uint64
}

// Explain devolve a renderização determinística do plano. O schema desta
// saída é instável entre versões; é diagnóstico, não contrato.
func (p *Plan) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entity=%s access=%s", p.Model.Name, p.Access.Kind)
	if p.Access.Index != nil {
		fmt.Fprintf(&b, " index=%s", p.Access.Index.Name)
	}
	if p.Access.Kind == AccessComposite {
		ops := "union"
		if p.Access.SetOp == SetIntersection {
			ops = "intersection"
		}
		fmt.Fprintf(&b, " setop=%s children=%d", ops, len(p.Access.Children))
	}
	dir := "asc"
	if p.Dir == stable.Desc {
		dir = "desc"
	}
	fmt.Fprintf(&b, " dir=%s mode=%s", dir, p.Mode)
	if p.HasResidual {
		fmt.Fprintf(&b, " residual=%s", p.Residual)
	}
	if len(p.Order) > 0 {
		terms := make([]string, len(p.Order))
		for i, t := range p.Order {
			if t.Desc {
				terms[i] = t.Field + ":desc"
			} else {
				terms[i] = t.Field + ":asc"
			}
		}
		fmt.Fprintf(&b, " order=%s post_order=%t", strings.Join(terms, ","), p.PostOrder)
	}
	if p.HasPage {
		fmt.Fprintf(&b, " limit=%d offset=%d", p.Limit, p.Offset)
	}
	if p.PushLimit > 0 {
		fmt.Fprintf(&b, " push_limit=%d", p.PushLimit)
	}
	if p.DeleteLimit >= 0 {
		fmt.Fprintf(&b, " delete_limit=%d", p.DeleteLimit)
	}
	fmt.Fprintf(&b, " sig=%016x", p.Signature)
	return b.String()
}
