package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/deepreport/pkg/database"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// ReportService persists reports as JSON documents keyed by report id. The
// title, summary and status columns mirror the document for listing.
type ReportService struct {
	db *database.Client
}

// NewReportService creates a new ReportService
func NewReportService(db *database.Client) *ReportService {
	return &ReportService{db: db}
}

// CreateReport inserts a report in status generating for a new run.
func (s *ReportService) CreateReport(httpCtx context.Context, sessionID, userRequest string) (*models.Report, error) {
	if strings.TrimSpace(userRequest) == "" {
		return nil, NewValidationError("request", "required")
	}

	now := time.Now()
	report := &models.Report{
		ReportID:    uuid.New().String(),
		SessionID:   sessionID,
		Title:       models.DefaultReportTopic,
		UserRequest: userRequest,
		Sections:    []models.Section{},
		Status:      models.ReportStatusGenerating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.db.Exec(ctx, database.Builder().
		Insert("reports").
		Columns("id", "session_id", "title", "summary", "status", "user_request", "document", "created_at", "updated_at").
		Values(report.ReportID, sessionID, report.Title, "", string(report.Status), userRequest, string(doc), now, now)); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	return report, nil
}

// SaveReport overwrites the stored document. A terminal report is never
// moved back to a non-terminal status.
func (s *ReportService) SaveReport(_ context.Context, report *models.Report) error {
	report.UpdatedAt = time.Now()
	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	// Saves at the end of a cancelled run must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	where := sql.EQ("id", report.ReportID)
	if !report.Status.IsTerminal() {
		where = sql.And(where, sql.NotIn("status",
			string(models.ReportStatusCompleted), string(models.ReportStatusError)))
	}
	n, err := s.db.Exec(ctx, database.Builder().
		Update("reports").
		Set("title", report.Title).
		Set("summary", report.Summary).
		Set("status", string(report.Status)).
		Set("document", string(doc)).
		Set("error_message", report.Error).
		Set("updated_at", report.UpdatedAt).
		Where(where))
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("report %s: %w", report.ReportID, ErrNotFound)
	}
	return nil
}

// GetReport loads a report document.
func (s *ReportService) GetReport(ctx context.Context, reportID string) (*models.Report, error) {
	rows, err := s.db.Query(ctx, database.Builder().
		Select("document").
		From(sql.Table("reports")).
		Where(sql.EQ("id", reportID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get report: %w", err)
		}
		return nil, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	var doc []byte
	if err := rows.Scan(&doc); err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	var report models.Report
	if err := json.Unmarshal(doc, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", reportID, err)
	}
	return &report, nil
}

// ListReports returns a session's reports, newest first.
func (s *ReportService) ListReports(ctx context.Context, sessionID string) ([]models.ReportListItem, error) {
	rows, err := s.db.Query(ctx, database.Builder().
		Select("id", "title", "summary", "status", "created_at", "updated_at").
		From(sql.Table("reports")).
		Where(sql.EQ("session_id", sessionID)).
		OrderBy(sql.Desc("created_at")))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	out := []models.ReportListItem{}
	for rows.Next() {
		var (
			item   models.ReportListItem
			status string
		)
		if err := rows.Scan(&item.ReportID, &item.Title, &item.Summary, &status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		item.Status = models.ReportStatus(status)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return out, nil
}

// DeleteReport removes a report.
func (s *ReportService) DeleteReport(_ context.Context, reportID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := s.db.Exec(ctx, database.Builder().
		Delete("reports").
		Where(sql.EQ("id", reportID)))
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	return nil
}

const interruptedMessage = "generation interrupted by restart"

// FailInterruptedReports marks reports left in generating by a previous
// process as error. Called once at startup.
func (s *ReportService) FailInterruptedReports(ctx context.Context) (int, error) {
	n, err := s.db.Exec(ctx, database.Builder().
		Update("reports").
		Set("status", string(models.ReportStatusError)).
		Set("error_message", interruptedMessage).
		Set("document", sql.Expr(`jsonb_set(jsonb_set(document, '{status}', '"error"'), '{error}', to_jsonb('`+interruptedMessage+`'::text))`)).
		Set("updated_at", time.Now()).
		Where(sql.EQ("status", string(models.ReportStatusGenerating))))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted reports: %w", err)
	}
	return int(n), nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
