package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// QueryEngine runs one validated statement against the given tables.
type QueryEngine interface {
	Query(ctx context.Context, sql string, tables []*models.Dataset, timeout time.Duration) ([]string, []models.Row, error)
}

// pgQueryCanceled is the SQLSTATE raised when statement_timeout fires.
const pgQueryCanceled = "57014"

// DefaultRole is the unprivileged role sandbox transactions switch to. The
// migrations create it and grant it to the migrating user.
const DefaultRole = "deepreport_sandbox"

// PgEngine materializes the referenced datasets as temporary tables inside a
// throwaway transaction and runs the statement there. Nothing outlives the
// call: the transaction is always rolled back.
//
// The transaction runs as role with search_path limited to pg_temp, so the
// statement sees the temporary tables and pg_catalog only.
type PgEngine struct {
	pool *pgxpool.Pool
	role string
}

// NewPgEngine creates an engine on top of a pgx pool. An empty role selects
// DefaultRole.
func NewPgEngine(pool *pgxpool.Pool, role string) *PgEngine {
	if role == "" {
		role = DefaultRole
	}
	return &PgEngine{pool: pool, role: role}
}

// NewPgEngineFromDSN opens a dedicated pool for sandbox queries.
func NewPgEngineFromDSN(ctx context.Context, dsn string, maxConns int32, role string) (*PgEngine, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sandbox DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox pool: %w", err)
	}
	return NewPgEngine(pool, role), nil
}

// Close releases the pool.
func (e *PgEngine) Close() {
	e.pool.Close()
}

// Query implements QueryEngine.
func (e *PgEngine) Query(ctx context.Context, sql string, tables []*models.Dataset, timeout time.Duration) ([]string, []models.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	columns, rows, err := e.query(ctx, sql, tables, timeout)
	if err != nil && isTimeout(ctx, err) {
		return nil, nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return columns, rows, err
}

func (e *PgEngine) query(ctx context.Context, sql string, tables []*models.Dataset, timeout time.Duration) ([]string, []models.Row, error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin sandbox transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	setup := []string{
		fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds()),
		"SET LOCAL ROLE " + pgx.Identifier{e.role}.Sanitize(),
		"SET LOCAL search_path = pg_temp",
	}
	for _, stmt := range setup {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, nil, fmt.Errorf("failed to prepare sandbox transaction (%s): %w", stmt, err)
		}
	}
	for _, t := range tables {
		if err := loadTable(ctx, tx, t); err != nil {
			return nil, nil, err
		}
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out []models.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		row := make(models.Row, len(columns))
		for i, v := range values {
			row[columns[i]] = normalizeValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

func loadTable(ctx context.Context, tx pgx.Tx, ds *models.Dataset) error {
	ident := pgx.Identifier{ds.Name}
	names := ds.ColumnNames()

	ddl := "CREATE TEMP TABLE " + ident.Sanitize() + " ("
	for i, c := range ds.Columns {
		if i > 0 {
			ddl += ", "
		}
		ddl += pgx.Identifier{c.Name}.Sanitize() + " " + pgColumnType(c.Type)
	}
	ddl += ") ON COMMIT DROP"
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", ds.Name, err)
	}

	if len(ds.Rows) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx, ident, names, pgx.CopyFromSlice(len(ds.Rows), func(i int) ([]any, error) {
		vals := make([]any, len(ds.Columns))
		for j, c := range ds.Columns {
			vals[j] = cellValue(ds.Rows[i][c.Name], c.Type)
		}
		return vals, nil
	}))
	if err != nil {
		return fmt.Errorf("failed to load table %s: %w", ds.Name, err)
	}
	return nil
}

func pgColumnType(t models.ColumnType) string {
	if t == models.ColumnTypeNumber {
		return "DOUBLE PRECISION"
	}
	return "TEXT"
}

// cellValue coerces a stored JSON value to the column's SQL type. Values
// that do not fit become NULL.
func cellValue(v any, t models.ColumnType) any {
	if v == nil {
		return nil
	}
	if t == models.ColumnTypeNumber {
		if f, ok := ToFloat(v); ok {
			return f
		}
		return nil
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

// ToFloat converts JSON and driver numerics to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// normalizeValue maps driver values to plain JSON-friendly Go values.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		if !x.Valid || x.NaN {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05")
	case []byte:
		return string(x)
	case string, bool:
		return x
	}
	if f, ok := ToFloat(v); ok {
		return f
	}
	return fmt.Sprint(v)
}

func isTimeout(ctx context.Context, err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled {
		return true
	}
	return errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}
