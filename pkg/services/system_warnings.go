package services

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning categories.
const (
	// WarningCategoryLLMProvider: a provider has no API key; agents bound to it fail.
	WarningCategoryLLMProvider = "llm_provider"
	// WarningCategoryEventStream: the LISTEN connection is down; live SSE is degraded.
	WarningCategoryEventStream = "event_stream"
)

// SystemWarning is a non-fatal condition surfaced on /health.
type SystemWarning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type warningKey struct{ category, subject string }

// SystemWarningsService keeps at most one warning per category and subject,
// in memory only.
type SystemWarningsService struct {
	mu     sync.RWMutex
	active map[warningKey]SystemWarning
}

func NewSystemWarningsService() *SystemWarningsService {
	return &SystemWarningsService{active: make(map[warningKey]SystemWarning)}
}

// AddWarning records a warning under category and subject and returns its id.
// A newer warning for the same pair replaces the older one.
func (s *SystemWarningsService) AddWarning(category, subject, message string) string {
	w := SystemWarning{
		ID:        uuid.New().String(),
		Category:  category,
		Subject:   subject,
		Message:   message,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.active[warningKey{category, subject}] = w
	s.mu.Unlock()
	return w.ID
}

// GetWarnings lists active warnings, oldest first.
func (s *SystemWarningsService) GetWarnings() []SystemWarning {
	s.mu.RLock()
	out := make([]SystemWarning, 0, len(s.active))
	for _, w := range s.active {
		out = append(out, w)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b SystemWarning) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Clear drops the warning for category and subject, reporting whether one was active.
func (s *SystemWarningsService) Clear(category, subject string) bool {
	k := warningKey{category, subject}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[k]; !ok {
		return false
	}
	delete(s.active, k)
	return true
}
