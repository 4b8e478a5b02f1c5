package session

import (
	stderrors "errors"
	"fmt"

	"github.com/bobboyms/icydb/pkg/errors"
)

// ErrorKind é a família pública do erro. Consumidores casam no kind; a
// mensagem é diagnóstico e não é estável.
type ErrorKind uint8

const (
	KindQueryInvalid ErrorKind = iota + 1
	KindQueryUnsupported
	KindQueryNotFound
	KindQueryNotUnique
	KindUpdateConflict
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindQueryInvalid:
		return "query.invalid"
	case KindQueryUnsupported:
		return "query.unsupported"
	case KindQueryNotFound:
		return "query.not_found"
	case KindQueryNotUnique:
		return "query.not_unique"
	case KindUpdateConflict:
		return "update.conflict"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error é o erro público da facade. A taxonomia interna não faz parte da
// API estável; a tradução acontece exatamente uma vez, aqui.
type Error struct {
	Kind    ErrorKind
	Origin  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Origin, e.Message)
}

// mutating distingue a tradução de Conflict: Conflict com CodeNotUnique
// vira sempre NotUnique; os demais viram NotUnique em load e o erro
// tipado de update em mutação.
func classify(err error, mutating bool) error {
	if err == nil {
		return nil
	}

	var already *Error
	if stderrors.As(err, &already) {
		return already
	}

	if errors.IsNotFound(err) {
		return &Error{Kind: KindQueryNotFound, Origin: "session", Message: err.Error()}
	}

	var ie *errors.Internal
	if !stderrors.As(err, &ie) {
		return &Error{Kind: KindInternal, Origin: "session", Message: err.Error()}
	}

	switch ie.Class {
	case errors.Validation:
		kind := KindQueryInvalid
		if ie.Code == errors.CodeUnsupported {
			kind = KindQueryUnsupported
		}
		return &Error{Kind: kind, Origin: ie.Origin, Message: ie.Detail}
	case errors.Conflict:
		if ie.Code == errors.CodeNotUnique {
			return &Error{Kind: KindQueryNotUnique, Origin: ie.Origin, Message: ie.Detail}
		}
		if mutating {
			return &Error{Kind: KindUpdateConflict, Origin: ie.Origin, Message: ie.Detail}
		}
		return &Error{Kind: KindQueryNotUnique, Origin: ie.Origin, Message: ie.Detail}
	case errors.Corruption, errors.InvariantViolation:
		return &Error{Kind: KindInternal, Origin: ie.Origin, Message: ie.Error()}
	default:
		return &Error{Kind: KindInternal, Origin: ie.Origin, Message: ie.Error()}
	}
}
