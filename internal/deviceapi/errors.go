package deviceapi

import (
	"errors"
	"fmt"
)

var (
	// ErrRequest wraps transport failures: timeout, DNS, refused connection.
	ErrRequest = errors.New("device api request failed")
	// ErrUnexpectedStatus is matched by every *StatusError.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrMalformedPayload means the body is not valid JSON.
	ErrMalformedPayload = errors.New("malformed payload")

	ErrSchemaMissingKey = errors.New("invalid schema: missing key")
	ErrSchemaWrongType  = errors.New("invalid schema: wrong type")
	ErrSchemaEmpty      = errors.New("invalid schema: empty result")
)

// StatusError carries a non-2xx HTTP status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status code: %d", e.Code) }

func (e *StatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

type SchemaKind int

const (
	SchemaMissingKey SchemaKind = iota + 1
	SchemaWrongType
	SchemaEmpty
)

func (k SchemaKind) String() string {
	switch k {
	case SchemaMissingKey:
		return "missing-key"
	case SchemaWrongType:
		return "wrong-type"
	case SchemaEmpty:
		return "empty"
	}
	return "unknown"
}

func (k SchemaKind) sentinel() error {
	switch k {
	case SchemaMissingKey:
		return ErrSchemaMissingKey
	case SchemaWrongType:
		return ErrSchemaWrongType
	case SchemaEmpty:
		return ErrSchemaEmpty
	}
	return nil
}

// SchemaError reports a response whose shape is not {"result": [ ... ]}.
type SchemaError struct {
	Kind  SchemaKind
	Field string
}

func (e *SchemaError) Error() string {
	switch e.Kind {
	case SchemaMissingKey:
		return fmt.Sprintf("invalid schema: no key %q in response", e.Field)
	case SchemaWrongType:
		return fmt.Sprintf("invalid schema: %s has wrong type", e.Field)
	case SchemaEmpty:
		return fmt.Sprintf("invalid schema: %s is empty", e.Field)
	}
	return "invalid schema"
}

func (e *SchemaError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
