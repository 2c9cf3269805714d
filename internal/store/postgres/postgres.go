// Package postgres implements the remote store adapter on pgx. Successful
// writes are announced to an injected change sink so the change feed can
// redeliver them to every session.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/store"
)

var ErrBadIdentifier = errors.New("invalid table or column identifier")

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ChangeSink receives a notification after every committed write.
type ChangeSink func(event contracts.ChangeEvent)

type Store struct {
	Pool    *pgxpool.Pool
	Changes ChangeSink
}

func New(pool *pgxpool.Pool, changes ChangeSink) *Store {
	return &Store{Pool: pool, Changes: changes}
}

func (s *Store) Insert(ctx context.Context, table string, row store.Row) (store.Row, error) {
	if err := checkIdentifiers(table, row); err != nil {
		return nil, store.NewError(store.KindConstraint, "insert", table, err)
	}

	cols := sortedColumns(row)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = normalizeArg(row[col])
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("insert", table, err)
	}
	result, err := collectRows(rows)
	if err != nil {
		return nil, classify("insert", table, err)
	}
	if len(result) == 0 {
		return nil, store.NewError(store.KindNotFound, "insert", table, pgx.ErrNoRows)
	}

	s.announce(table, contracts.ChangeInsert, result[0])
	return result[0], nil
}

func (s *Store) Update(ctx context.Context, table string, filter store.Filter, patch store.Row) error {
	if err := checkIdentifiers(table, patch); err != nil {
		return store.NewError(store.KindConstraint, "update", table, err)
	}
	if err := checkIdentifiers(table, store.Row(filter)); err != nil {
		return store.NewError(store.KindConstraint, "update", table, err)
	}
	if len(patch) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(patch)+len(filter))
	fmt.Fprintf(&sb, "UPDATE %s SET ", table)
	for i, col := range sortedColumns(patch) {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, normalizeArg(patch[col]))
		fmt.Fprintf(&sb, "%s = $%d", col, len(args))
	}
	appendWhere(&sb, filter, &args)
	sb.WriteString(" RETURNING *")

	rows, err := s.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return classify("update", table, err)
	}
	updated, err := collectRows(rows)
	if err != nil {
		return classify("update", table, err)
	}

	for _, row := range updated {
		s.announce(table, contracts.ChangeUpdate, row)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, filter store.Filter) error {
	if err := checkIdentifiers(table, store.Row(filter)); err != nil {
		return store.NewError(store.KindConstraint, "delete", table, err)
	}

	var sb strings.Builder
	args := make([]any, 0, len(filter))
	fmt.Fprintf(&sb, "DELETE FROM %s", table)
	appendWhere(&sb, filter, &args)
	sb.WriteString(" RETURNING *")

	rows, err := s.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return classify("delete", table, err)
	}
	deleted, err := collectRows(rows)
	if err != nil {
		return classify("delete", table, err)
	}

	for _, row := range deleted {
		s.announce(table, contracts.ChangeDelete, row)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, table string, filter store.Filter, order *store.Order) ([]store.Row, error) {
	if err := checkIdentifiers(table, store.Row(filter)); err != nil {
		return nil, store.NewError(store.KindConstraint, "query", table, err)
	}

	var sb strings.Builder
	args := make([]any, 0, len(filter))
	fmt.Fprintf(&sb, "SELECT * FROM %s", table)
	appendWhere(&sb, filter, &args)
	if order != nil {
		if !identifierPattern.MatchString(order.Column) {
			return nil, store.NewError(store.KindConstraint, "query", table, ErrBadIdentifier)
		}
		direction := "ASC"
		if order.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", order.Column, direction)
	}

	rows, err := s.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify("query", table, err)
	}
	result, err := collectRows(rows)
	if err != nil {
		return nil, classify("query", table, err)
	}
	return result, nil
}

func (s *Store) announce(table string, op contracts.ChangeOp, row store.Row) {
	if s.Changes == nil {
		return
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return
	}
	s.Changes(contracts.ChangeEvent{Table: table, Op: op, Row: raw})
}

func appendWhere(sb *strings.Builder, filter store.Filter, args *[]any) {
	if len(filter) == 0 {
		return
	}
	sb.WriteString(" WHERE ")
	for i, col := range sortedColumns(store.Row(filter)) {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		*args = append(*args, normalizeArg(filter[col]))
		fmt.Fprintf(sb, "%s = $%d", col, len(*args))
	}
}

func sortedColumns(row store.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func checkIdentifiers(table string, row store.Row) error {
	if !identifierPattern.MatchString(table) {
		return ErrBadIdentifier
	}
	for col := range row {
		if !identifierPattern.MatchString(col) {
			return ErrBadIdentifier
		}
	}
	return nil
}

// normalizeArg passes structured values to postgres as JSON.
func normalizeArg(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return raw
	default:
		return v
	}
}

func collectRows(rows pgx.Rows) ([]store.Row, error) {
	defer rows.Close()

	var result []store.Row
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(store.Row, len(fields))
		for i, field := range fields {
			row[field.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func classify(op, table string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.NewError(store.KindNotFound, op, table, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return store.NewError(store.KindConstraint, op, table, err)
		case pgErr.Code == "42501" || strings.HasPrefix(pgErr.Code, "28"):
			return store.NewError(store.KindPermission, op, table, err)
		case pgErr.Code == "42P01":
			return store.NewError(store.KindNotFound, op, table, err)
		}
	}
	return store.NewError(store.KindNetwork, op, table, err)
}
