package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/deepreport/pkg/database"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	maxIdentifierLen      = 63
)

var tableNameRe = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*$`)

// DatasetService stores uploaded tables. Datasets are immutable once created.
type DatasetService struct {
	db *database.Client
}

// NewDatasetService creates a new DatasetService
func NewDatasetService(db *database.Client) *DatasetService {
	return &DatasetService{db: db}
}

// CreateDataset validates an upload, infers missing column types and stores it.
func (s *DatasetService) CreateDataset(httpCtx context.Context, sessionID string, req models.CreateDatasetRequest) (*models.Dataset, error) {
	if !tableNameRe.MatchString(req.Name) || len(req.Name) > maxIdentifierLen {
		return nil, NewValidationError("name", "must start with a letter or underscore, contain only letters, digits and underscores and be at most 63 bytes")
	}
	if len(req.Rows) == 0 {
		return nil, NewValidationError("rows", "at least one row is required")
	}
	columns, err := resolveColumns(req.Columns, req.Rows)
	if err != nil {
		return nil, err
	}

	ds := &models.Dataset{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Name:        req.Name,
		Description: req.Description,
		Columns:     columns,
		Rows:        req.Rows,
		RowCount:    len(req.Rows),
		CreatedAt:   time.Now(),
	}
	colJSON, err := json.Marshal(ds.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal columns: %w", err)
	}
	rowJSON, err := json.Marshal(ds.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rows: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.Exec(ctx, database.Builder().
		Insert("datasets").
		Columns("id", "session_id", "name", "description", "columns", "rows", "row_count", "created_at").
		Values(ds.ID, ds.SessionID, ds.Name, ds.Description, string(colJSON), string(rowJSON), ds.RowCount, ds.CreatedAt)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("dataset %q: %w", ds.Name, ErrAlreadyExists)
		}
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	return ds, nil
}

// ListDatasets returns a session's datasets ordered by creation. Rows are
// only loaded when withRows is set.
func (s *DatasetService) ListDatasets(ctx context.Context, sessionID string, withRows bool) ([]*models.Dataset, error) {
	columns := []string{"id", "session_id", "name", "description", "columns", "row_count", "created_at"}
	if withRows {
		columns = append(columns, "rows")
	}
	rows, err := s.db.Query(ctx, database.Builder().
		Select(columns...).
		From(sql.Table("datasets")).
		Where(sql.EQ("session_id", sessionID)).
		OrderBy("created_at", "name"))
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var out []*models.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows, withRows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(rows rowScanner, withRows bool) (*models.Dataset, error) {
	var (
		ds        models.Dataset
		colJSON   []byte
		rowJSON   []byte
		createdAt stdsql.NullTime
	)
	dest := []any{&ds.ID, &ds.SessionID, &ds.Name, &ds.Description, &colJSON, &ds.RowCount, &createdAt}
	if withRows {
		dest = append(dest, &rowJSON)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan dataset: %w", err)
	}
	ds.CreatedAt = createdAt.Time
	if err := json.Unmarshal(colJSON, &ds.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode columns of %s: %w", ds.Name, err)
	}
	if withRows {
		if err := json.Unmarshal(rowJSON, &ds.Rows); err != nil {
			return nil, fmt.Errorf("failed to decode rows of %s: %w", ds.Name, err)
		}
	}
	return &ds, nil
}

// resolveColumns checks declared columns or infers them from the rows.
func resolveColumns(declared []models.Column, rows []models.Row) ([]models.Column, error) {
	if len(declared) == 0 {
		return InferColumns(rows), nil
	}
	inferred := make(map[string]models.ColumnType)
	for _, c := range InferColumns(rows) {
		inferred[c.Name] = c.Type
	}
	seen := make(map[string]bool)
	out := make([]models.Column, len(declared))
	for i, c := range declared {
		if c.Name == "" || len(c.Name) > maxIdentifierLen {
			return nil, NewValidationError("columns", fmt.Sprintf("column %d needs a name of at most 63 bytes", i+1))
		}
		if seen[c.Name] {
			return nil, NewValidationError("columns", fmt.Sprintf("duplicate column %q", c.Name))
		}
		seen[c.Name] = true
		if c.Type != models.ColumnTypeNumber && c.Type != models.ColumnTypeText {
			c.Type = inferred[c.Name]
			if c.Type == "" {
				c.Type = models.ColumnTypeText
			}
		}
		out[i] = c
	}
	return out, nil
}

// InferColumns derives columns from row keys in sorted order. A column is a
// number when every non-empty value parses as one.
func InferColumns(rows []models.Row) []models.Column {
	numeric := make(map[string]bool)
	for _, row := range rows {
		for k, v := range row {
			if _, ok := numeric[k]; !ok {
				numeric[k] = true
			}
			if v == nil || v == "" {
				continue
			}
			if _, ok := sandbox.ToFloat(v); !ok {
				numeric[k] = false
			}
		}
	}
	names := make([]string, 0, len(numeric))
	for k := range numeric {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([]models.Column, len(names))
	for i, n := range names {
		t := models.ColumnTypeText
		if numeric[n] && hasValue(rows, n) {
			t = models.ColumnTypeNumber
		}
		cols[i] = models.Column{Name: n, Type: t}
	}
	return cols
}

func hasValue(rows []models.Row, col string) bool {
	for _, r := range rows {
		if v := r[col]; v != nil && v != "" {
			return true
		}
	}
	return false
}
