package errors

import (
	"errors"
	"fmt"
)

// Class separa as quatro famílias internas de erro.
// A tradução para o erro público acontece uma única vez, na session facade.
type Class uint8

const (
	// Corruption: bytes persistidos decodificaram mas são inválidos,
	// ou índice e dado divergem. Nunca causado pelo usuário.
	Corruption Class = iota + 1

	// InvariantViolation: bug de lógica ou contrato interno violado
	// (falha na fase de apply, marker acima do limite, branch inalcançável).
	InvariantViolation

	// Conflict: conflito legítimo de escrita (índice único violado,
	// insert sobre linha existente, delete bloqueado por relação forte).
	Conflict

	// Validation: entrada do usuário inválida (campo desconhecido,
	// coerção ilegal, paginação sem ordenação, cursor incompatível).
	Validation
)

func (c Class) String() string {
	switch c {
	case Corruption:
		return "corruption"
	case InvariantViolation:
		return "invariant_violation"
	case Conflict:
		return "conflict"
	case Validation:
		return "validation"
	default:
		return "unknown"
	}
}

// Code refina a classe para a tradução na fronteira sem casar strings.
type Code uint8

const (
	CodeNone Code = iota
	// CodeUnsupported marca Validation que é intenção válida porém fora
	// do suportado (paginação sem ordem, cursor de outro plano).
	CodeUnsupported
	// CodeNotUnique marca Conflict vindo de índice único.
	CodeNotUnique
)

func NotUnique(origin, format string, args ...any) *Internal {
	return &Internal{Class: Conflict, Code: CodeNotUnique, Origin: origin, Detail: fmt.Sprintf(format, args...)}
}

// Internal é o erro tipado que circula dentro do engine.
// Origin identifica o componente que observou o problema.
type Internal struct {
	Class  Class
	Code   Code
	Origin string
	Detail string
	Cause  error
}

func (e *Internal) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Class, e.Origin, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Class, e.Origin, e.Detail)
}

func (e *Internal) Unwrap() error { return e.Cause }

// Construtores por classe. O detail é diagnóstico; consumidores casam na Class.

func Corrupt(origin, format string, args ...any) *Internal {
	return &Internal{Class: Corruption, Origin: origin, Detail: fmt.Sprintf(format, args...)}
}

func CorruptCause(origin string, cause error, format string, args ...any) *Internal {
	return &Internal{Class: Corruption, Origin: origin, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

func Invariant(origin, format string, args ...any) *Internal {
	return &Internal{Class: InvariantViolation, Origin: origin, Detail: fmt.Sprintf(format, args...)}
}

func Conflicted(origin, format string, args ...any) *Internal {
	return &Internal{Class: Conflict, Origin: origin, Detail: fmt.Sprintf(format, args...)}
}

func Invalid(origin, format string, args ...any) *Internal {
	return &Internal{Class: Validation, Origin: origin, Detail: fmt.Sprintf(format, args...)}
}

func Unsupported(origin, format string, args ...any) *Internal {
	return &Internal{Class: Validation, Code: CodeUnsupported, Origin: origin, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extrai o code refinado, se houver.
func CodeOf(err error) Code {
	var ie *Internal
	if errors.As(err, &ie) {
		return ie.Code
	}
	return CodeNone
}

// ClassOf extrai a classe de um erro, ou zero se não for um Internal.
func ClassOf(err error) Class {
	var ie *Internal
	if errors.As(err, &ie) {
		return ie.Class
	}
	return 0
}

func IsCorruption(err error) bool { return ClassOf(err) == Corruption }
func IsInvariant(err error) bool  { return ClassOf(err) == InvariantViolation }
func IsConflict(err error) bool   { return ClassOf(err) == Conflict }
func IsValidation(err error) bool { return ClassOf(err) == Validation }

// NotFound sinaliza linha ausente em lookups pontuais. Não é uma das quatro
// classes internas: vira Query(NotFound) na fronteira sem carregar origem.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity %q: key %q not found", e.Entity, e.Key)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
