package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openhms/medledger/internal/ledger"
)

// ErrNotFound is returned when a row does not exist in a tracked table.
var ErrNotFound = errors.New("record not found")

// Repository provides row-level access to the tracked hospital tables
// against PostgreSQL. Table and column identifiers are always resolved
// through the Registry before being interpolated into SQL; row values are
// always bound parameters.
//
// Repository implements ledger.RowSource, so the same component feeds both
// the mutation path and the reconciler.
type Repository struct {
	db       *pgxpool.Pool
	registry *Registry
}

// NewRepository creates a Repository over the given pool and registry.
func NewRepository(db *pgxpool.Pool, registry *Registry) *Repository {
	return &Repository{db: db, registry: registry}
}

// Registry exposes the tracked-table registry this repository serves.
func (r *Repository) Registry() *Registry { return r.registry }

// FetchRows implements ledger.RowSource. Rows are returned in primary-key
// order, at most limit per call.
func (r *Repository) FetchRows(ctx context.Context, table string, limit int) ([]ledger.Row, error) {
	t, err := r.registry.Lookup(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY %s LIMIT $1",
		strings.Join(t.Columns, ", "), t.Relation(), t.PK(),
	)
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch rows from %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out []ledger.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row from %s: %w", t.Name, err)
		}
		out = append(out, ledger.Row{
			ID:      fmt.Sprintf("%v", values[0]),
			Columns: t.Columns,
			Values:  values,
		})
	}
	return out, rows.Err()
}

// Get returns one row by primary-key value. The key is compared textually
// so numeric and string representations both resolve.
func (r *Repository) Get(ctx context.Context, table, id string) (ledger.Row, error) {
	t, err := r.registry.Lookup(table)
	if err != nil {
		return ledger.Row{}, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s::text = $1",
		strings.Join(t.Columns, ", "), t.Relation(), t.PK(),
	)
	row := r.db.QueryRow(ctx, query, id)

	dest := make([]any, len(t.Columns))
	ptrs := make([]any, len(t.Columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Row{}, fmt.Errorf("%w: %s %s", ErrNotFound, t.Name, id)
		}
		return ledger.Row{}, fmt.Errorf("get %s %s: %w", t.Name, id, err)
	}
	return ledger.Row{ID: id, Columns: t.Columns, Values: dest}, nil
}

// Insert adds a row to a tracked table. The primary key is assigned by the
// database (identity column); only non-key columns may be supplied. The
// fully persisted row, key included, is read back and returned.
func (r *Repository) Insert(ctx context.Context, table string, values map[string]any) (ledger.Row, error) {
	t, err := r.registry.Lookup(table)
	if err != nil {
		return ledger.Row{}, err
	}
	if err := checkColumns(t, values, true); err != nil {
		return ledger.Row{}, err
	}

	var cols []string
	var args []any
	var params []string
	for _, col := range t.Columns[1:] {
		v, ok := values[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		args = append(args, v)
		params = append(params, fmt.Sprintf("$%d", len(args)))
	}
	if len(cols) == 0 {
		return ledger.Row{}, fmt.Errorf("no columns to insert into %s", t.Name)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.Relation(), strings.Join(cols, ", "), strings.Join(params, ", "),
		strings.Join(t.Columns, ", "),
	)
	return r.returningRow(ctx, t, query, args...)
}

// Update modifies a row in place and returns the row as persisted. A miss
// on the primary key yields ErrNotFound.
func (r *Repository) Update(ctx context.Context, table, id string, values map[string]any) (ledger.Row, error) {
	t, err := r.registry.Lookup(table)
	if err != nil {
		return ledger.Row{}, err
	}
	if err := checkColumns(t, values, true); err != nil {
		return ledger.Row{}, err
	}
	if len(values) == 0 {
		return ledger.Row{}, fmt.Errorf("no columns to update in %s", t.Name)
	}

	var sets []string
	var args []any
	for _, col := range t.Columns[1:] {
		v, ok := values[col]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s::text = $%d RETURNING %s",
		t.Relation(), strings.Join(sets, ", "), t.PK(), len(args),
		strings.Join(t.Columns, ", "),
	)
	row, err := r.returningRow(ctx, t, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Row{}, fmt.Errorf("%w: %s %s", ErrNotFound, t.Name, id)
	}
	return row, err
}

// Count returns the number of rows in a tracked table.
func (r *Repository) Count(ctx context.Context, table string) (int, error) {
	t, err := r.registry.Lookup(table)
	if err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Relation())
	if err := r.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.Name, err)
	}
	return n, nil
}

func (r *Repository) returningRow(ctx context.Context, t Table, query string, args ...any) (ledger.Row, error) {
	dest := make([]any, len(t.Columns))
	ptrs := make([]any, len(t.Columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := r.db.QueryRow(ctx, query, args...).Scan(ptrs...); err != nil {
		return ledger.Row{}, err
	}
	return ledger.Row{
		ID:      fmt.Sprintf("%v", dest[0]),
		Columns: t.Columns,
		Values:  dest,
	}, nil
}

// checkColumns rejects values that reference undeclared columns, and the
// primary key when rejectPK is set (keys are database-assigned).
func checkColumns(t Table, values map[string]any, rejectPK bool) error {
	declared := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		declared[col] = true
	}
	for col := range values {
		if !declared[col] {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, col)
		}
		if rejectPK && col == t.PK() {
			return fmt.Errorf("%w: %s.%s is the primary key", ErrUnknownColumn, t.Name, col)
		}
	}
	return nil
}
