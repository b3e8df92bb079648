package parser

import (
	"errors"
	"fmt"
)

// Structural errors: the page does not have the shape a list=6 response has.
var (
	ErrMissingBlocks     = errors.New("expected two preformatted blocks")
	ErrAmbiguousNextPage = errors.New("more than one next-page link")
	ErrMissingHref       = errors.New("next-page link has no href")
	ErrSchemaMismatch    = errors.New("row does not match column schema")
)

// SchemaError reports a data row with fewer tokens than the fixed schema
type SchemaError struct {
	Line   int // 1-based line within the data block
	Tokens int
	Want   int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("line %d: found %d columns, want %d", e.Line, e.Tokens, e.Want)
}

// Unwrap lets callers match with errors.Is(err, ErrSchemaMismatch)
func (e *SchemaError) Unwrap() error {
	return ErrSchemaMismatch
}

// CoercionError reports a token that cannot be converted to its column's type
type CoercionError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("line %d: column %s: cannot convert %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}
