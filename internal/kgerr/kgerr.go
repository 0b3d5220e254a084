// Package kgerr defines the coded error taxonomy shared by the providers.
package kgerr

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigInvalid      Code = "config.validate.invalid_value"
	CodeDimensionMismatch  Code = "vector.query.dimension_mismatch"
	CodeQueryFailure       Code = "query.backend.failure"
	CodeTimeout            Code = "query.deadline.timeout"
	CodeInvalidInput       Code = "store.input.invalid_input"
	CodeDatabaseFailure    Code = "store.database.failure"
	CodeBackendUnavailable Code = "provider.backend.unavailable"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

// Wrap attaches code to err. An error that already carries a code is returned
// with the extra fields only, so the original classification survives.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	if existing := CodeOf(err); existing != "" {
		if len(fields) == 0 {
			return err
		}
		return oops.Code(existing).With(flatten(fields)...).Wrap(err)
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// FromContext converts a context error into a Timeout. Other errors are
// wrapped with fallback.
func FromContext(err error, fallback Code, msg string) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return oops.Code(CodeTimeout).Wrapf(err, "%s", msg)
	}
	return oops.Code(fallback).Wrapf(err, "%s", msg)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", c))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsConfigError(err error) bool    { return HasCode(err, CodeConfigInvalid) }
func IsDimensionError(err error) bool { return HasCode(err, CodeDimensionMismatch) }
func IsQueryError(err error) bool     { return HasCode(err, CodeQueryFailure) }
func IsUnavailable(err error) bool    { return HasCode(err, CodeBackendUnavailable) }

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid_input" || r == "invalid_value"
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
