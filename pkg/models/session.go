package models

import "time"

// Session groups the datasets a user uploaded and the reports built from them.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateSessionRequest contains fields for creating a session
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// ColumnType is the inferred type of a dataset column.
type ColumnType string

// Column types. Numbers are stored as float64.
const (
	ColumnTypeNumber ColumnType = "number"
	ColumnTypeText   ColumnType = "text"
)

// Column describes one dataset column.
type Column struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"type"`
	Description string     `json:"description,omitempty"`
}

// Dataset is a named tabular relation owned by a session. It is immutable once stored.
type Dataset struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Columns     []Column  `json:"columns"`
	Rows        []Row     `json:"rows,omitempty"`
	RowCount    int       `json:"row_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// ColumnNames returns the column names in declaration order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by exact name.
func (d *Dataset) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// CreateDatasetRequest contains fields for uploading a dataset as JSON.
// Columns may be omitted, in which case they are inferred from the rows.
type CreateDatasetRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Columns     []Column `json:"columns"`
	Rows        []Row    `json:"rows" binding:"required"`
}

// ReportListItem is the summary row returned when listing a session's reports.
type ReportListItem struct {
	ReportID  string       `json:"report_id"`
	Title     string       `json:"title"`
	Summary   string       `json:"summary"`
	Status    ReportStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
