package checker

import (
	"fmt"
	"sort"

	"github.com/kahflane/naml/lang/token"
)

// ErrKind identifies the category of a type error.
type ErrKind int

// List of type error kinds.
const (
	TypeMismatch ErrKind = iota
	UndefinedVariable
	UndefinedType
	UndefinedFunction
	UndefinedField
	UndefinedMethod
	DuplicateDefinition
	InvalidOperation
	InvalidBinaryOp
	InferenceFailed
	WrongArgCount
	WrongTypeArgCount
	NotCallable
	NotIndexable
	NotIterable
	ImmutableAssignment
	MissingReturn
	UnreachableCode
	BreakOutsideLoop
	ContinueOutsideLoop
	PlatformMismatch
	BoundNotSatisfied
	NoBoundForMethod
	MissingInterfaceMethod
	UnknownModule
	UnknownModuleSymbol
	PrivateSymbol
	ModuleFileError
	Custom
)

var errKindNames = map[ErrKind]string{
	TypeMismatch:           "TypeMismatch",
	UndefinedVariable:      "UndefinedVariable",
	UndefinedType:          "UndefinedType",
	UndefinedFunction:      "UndefinedFunction",
	UndefinedField:         "UndefinedField",
	UndefinedMethod:        "UndefinedMethod",
	DuplicateDefinition:    "DuplicateDefinition",
	InvalidOperation:       "InvalidOperation",
	InvalidBinaryOp:        "InvalidBinaryOp",
	InferenceFailed:        "InferenceFailed",
	WrongArgCount:          "WrongArgCount",
	WrongTypeArgCount:      "WrongTypeArgCount",
	NotCallable:            "NotCallable",
	NotIndexable:           "NotIndexable",
	NotIterable:            "NotIterable",
	ImmutableAssignment:    "ImmutableAssignment",
	MissingReturn:          "MissingReturn",
	UnreachableCode:        "UnreachableCode",
	BreakOutsideLoop:       "BreakOutsideLoop",
	ContinueOutsideLoop:    "ContinueOutsideLoop",
	PlatformMismatch:       "PlatformMismatch",
	BoundNotSatisfied:      "BoundNotSatisfied",
	NoBoundForMethod:       "NoBoundForMethod",
	MissingInterfaceMethod: "MissingInterfaceMethod",
	UnknownModule:          "UnknownModule",
	UnknownModuleSymbol:    "UnknownModuleSymbol",
	PrivateSymbol:          "PrivateSymbol",
	ModuleFileError:        "ModuleFileError",
	Custom:                 "Custom",
}

func (k ErrKind) String() string { return errKindNames[k] }

// Error is one type error, with the primary offending span and a rendered
// message. Secondary can hold spans of related locations; the checker's
// errors leave it empty (DuplicateDefinition does not point at the previous
// definition).
type Error struct {
	Kind      ErrKind
	Span      token.Span
	Secondary []token.Span
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Errors is a list of type errors that implements error.
type Errors []*Error

func (es Errors) Error() string {
	switch len(es) {
	case 0:
		return "no errors"
	case 1:
		return es[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", es[0], len(es)-1)
}

// Err returns the error list as an error, or nil if it is empty.
func (es Errors) Err() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// Sort orders the errors by starting position.
func (es Errors) Sort() {
	sort.Slice(es, func(i, j int) bool { return es[i].Span.Start < es[j].Span.Start })
}

func (c *Checker) errorf(kind ErrKind, sp token.Span, format string, args ...any) {
	c.errs = append(c.errs, &Error{
		Kind: kind,
		Span: sp,
		Msg:  fmt.Sprintf(format, args...),
	})
}
