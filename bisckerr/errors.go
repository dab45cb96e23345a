// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package bisckerr defines the flat error taxonomy shared by every
// other package in this module: Format errors (malformed wire data or
// signatures), Logic errors (a verdict the evaluator reached), Execution
// errors (the expression VM got stuck), and RunLimit errors (a resource
// budget was exceeded).
package bisckerr

import "fmt"

// Kind groups errors the way callers are expected to pattern-match on:
// by category first, then by Code within the category.
type Kind uint8

const (
	KindFormat Kind = iota
	KindLogic
	KindExecution
	KindRunLimit
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindLogic:
		return "logic"
	case KindExecution:
		return "execution"
	case KindRunLimit:
		return "run_limit"
	default:
		return "unknown"
	}
}

// Code names a specific error within its Kind. Codes are stable across
// releases; callers should match on Code, not on Error()'s text.
type Code string

const (
	// Format
	CodeInvalidSignature           Code = "invalid_signature"
	CodeSealedSignature            Code = "sealed_signature"
	CodeEmptyKeys                  Code = "empty_keys"
	CodeUnknownPublicKey           Code = "unknown_public_key"
	CodeDeserializationError       Code = "deserialization_error"
	CodeSerializationError         Code = "serialization_error"
	CodeBlockDeserializationError  Code = "block_deserialization_error"
	CodeSymbolTableOverlap         Code = "symbol_table_overlap"
	CodePublicKeyTableOverlap      Code = "public_key_table_overlap"
	CodeInvalidBlockID             Code = "invalid_block_id"
	CodeUnknownExternalKey         Code = "unknown_external_key"
	CodeUnknownSymbol              Code = "unknown_symbol"
	CodeVersion                    Code = "version"
	CodeInvalidKeySize             Code = "invalid_key_size"
	CodeInvalidSignatureSize       Code = "invalid_signature_size"
	CodeInvalidKey                 Code = "invalid_key"

	// Logic
	CodeInvalidBlockRule  Code = "invalid_block_rule"
	CodeUnauthorized      Code = "unauthorized"
	CodeNoMatchingPolicy  Code = "no_matching_policy"
	CodeAuthorizerNotEmpty Code = "authorizer_not_empty"

	// Execution
	CodeUnknownVariable  Code = "unknown_variable"
	CodeInvalidType      Code = "invalid_type"
	CodeInvalidStack     Code = "invalid_stack"
	CodeOverflow         Code = "overflow"
	CodeDivideByZero     Code = "divide_by_zero"
	CodeUndefinedExtern  Code = "undefined_extern"
	CodeExternEvalError  Code = "extern_eval_error"
	CodeShadowedVariable Code = "shadowed_variable"

	// RunLimit
	CodeTooManyFacts      Code = "too_many_facts"
	CodeTooManyIterations Code = "too_many_iterations"
	CodeTimeout           Code = "timeout"

	// Standalone (not grouped under the four Kinds above)
	CodeAppendOnSealed Code = "append_on_sealed"
	CodeAlreadySealed  Code = "already_sealed"
	CodeLanguage       Code = "language"
)

// Error is the single error type produced by this module. Payload
// carries whatever structured context the Code implies (a block id, a
// rule's rendered source, a failed-check list, ...).
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Payload any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an *Error that wraps cause.
func Wrap(kind Kind, code Code, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, cause: cause}
}

// WithPayload attaches structured context (block id, rule text, ...)
// and returns the same *Error for chaining at the call site.
func (e *Error) WithPayload(p any) *Error {
	e.Payload = p
	return e
}

// Is reports whether err is a *Error with the given Code, so callers
// can do `errors.Is(err, bisckerr.CodeTimeout)`-style checks via
// errors.As plus a Code comparison helper.
func Is(err error, code Code) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Code == code
}
