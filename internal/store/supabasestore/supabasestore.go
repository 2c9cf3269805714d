// Package supabasestore implements the remote store adapter against a hosted
// Supabase project over PostgREST. It backs the legacy message target in the
// two-tier delivery path.
package supabasestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/kitchensync/project/internal/store"
)

type Store struct {
	Client *supabase.Client
}

func New(url, key string) (*Store, error) {
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, err
	}
	return &Store{Client: client}, nil
}

func (s *Store) Insert(_ context.Context, table string, row store.Row) (store.Row, error) {
	data, _, err := s.Client.From(table).
		Insert(row, false, "", "representation", "").
		Execute()
	if err != nil {
		return nil, classify("insert", table, err)
	}
	rows, err := decodeRows(data)
	if err != nil {
		return nil, store.NewError(store.KindNetwork, "insert", table, err)
	}
	if len(rows) == 0 {
		return nil, store.NewError(store.KindNotFound, "insert", table, fmt.Errorf("no row returned"))
	}
	return rows[0], nil
}

func (s *Store) Update(_ context.Context, table string, filter store.Filter, patch store.Row) error {
	builder := s.Client.From(table).Update(patch, "minimal", "")
	applyFilter(builder, filter)
	if _, _, err := builder.Execute(); err != nil {
		return classify("update", table, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, table string, filter store.Filter) error {
	builder := s.Client.From(table).Delete("minimal", "")
	applyFilter(builder, filter)
	if _, _, err := builder.Execute(); err != nil {
		return classify("delete", table, err)
	}
	return nil
}

func (s *Store) Query(_ context.Context, table string, filter store.Filter, order *store.Order) ([]store.Row, error) {
	builder := s.Client.From(table).Select("*", "", false)
	applyFilter(builder, filter)
	if order != nil {
		builder.Order(order.Column, &postgrest.OrderOpts{Ascending: !order.Desc})
	}
	data, _, err := builder.Execute()
	if err != nil {
		return nil, classify("query", table, err)
	}
	rows, err := decodeRows(data)
	if err != nil {
		return nil, store.NewError(store.KindNetwork, "query", table, err)
	}
	return rows, nil
}

func applyFilter(builder *postgrest.FilterBuilder, filter store.Filter) {
	for col, value := range filter {
		builder.Eq(col, fmt.Sprint(value))
	}
}

func decodeRows(data []byte) ([]store.Row, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []store.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// classify maps PostgREST error strings onto the adapter taxonomy. PostgREST
// surfaces postgres SQLSTATE codes inside the message body.
func classify(op, table string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "42501") || strings.Contains(msg, "permission") || strings.Contains(msg, "jwt"):
		return store.NewError(store.KindPermission, op, table, err)
	case strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate") || strings.Contains(msg, "violates"):
		return store.NewError(store.KindConstraint, op, table, err)
	case strings.Contains(msg, "pgrst116") || strings.Contains(msg, "not found") || strings.Contains(msg, "42p01"):
		return store.NewError(store.KindNotFound, op, table, err)
	default:
		return store.NewError(store.KindNetwork, op, table, err)
	}
}
