package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/deepreport/pkg/database"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

const maxSessionTitleLen = 200

// SessionService manages sessions, the containers of datasets and reports.
type SessionService struct {
	db *database.Client
}

// NewSessionService creates a new SessionService
func NewSessionService(db *database.Client) *SessionService {
	return &SessionService{db: db}
}

// CreateSession creates an empty session.
func (s *SessionService) CreateSession(httpCtx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	title := strings.TrimSpace(req.Title)
	if len([]rune(title)) > maxSessionTitleLen {
		return nil, NewValidationError("title", fmt.Sprintf("must be at most %d characters", maxSessionTitleLen))
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	session := &models.Session{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.Exec(ctx, database.Builder().
		Insert("sessions").
		Columns("id", "title", "created_at", "updated_at").
		Values(session.ID, session.Title, session.CreatedAt, session.UpdatedAt)); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	rows, err := s.db.Query(ctx, database.Builder().
		Select("id", "title", "created_at", "updated_at").
		From(sql.Table("sessions")).
		Where(sql.EQ("id", sessionID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	var session models.Session
	if err := rows.Scan(&session.ID, &session.Title, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &session, nil
}

// DeleteSession removes a session; datasets and reports cascade.
func (s *SessionService) DeleteSession(_ context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := s.db.Exec(ctx, database.Builder().
		Delete("sessions").
		Where(sql.EQ("id", sessionID)))
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}
