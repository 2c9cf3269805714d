// Package store defines the remote store adapter contract the sync cores
// depend on: four row-oriented operations with a typed failure taxonomy.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Table names shared by every adapter implementation.
const (
	TableCards          = "cards"
	TableMessages       = "messages"
	TableMessagesLegacy = "messages_legacy"
	TableChannels       = "channels"
	TablePresence       = "presence"
)

// Row is one record keyed by column name. Values follow encoding/json
// conventions (numbers as float64, timestamps as RFC 3339 strings).
type Row map[string]any

// Filter matches rows by column equality. A nil filter matches every row.
type Filter map[string]any

// Order sorts query results by a single column.
type Order struct {
	Column string
	Desc   bool
}

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindPermission ErrorKind = "permission"
	KindConstraint ErrorKind = "constraint"
	KindNotFound   ErrorKind = "not-found"
)

// Error is the typed failure every adapter operation returns.
type Error struct {
	Kind  ErrorKind
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s %s: %s: %v", e.Op, e.Table, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the adapter failure taxonomy.
func NewError(kind ErrorKind, op, table string, err error) *Error {
	return &Error{Kind: kind, Op: op, Table: table, Err: err}
}

// IsKind reports whether err is a store Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// Store is the remote store adapter. All calls may fail with *Error.
type Store interface {
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, filter Filter, patch Row) error
	Delete(ctx context.Context, table string, filter Filter) error
	Query(ctx context.Context, table string, filter Filter, order *Order) ([]Row, error)
}
