package db

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketform/backend/internal/models"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// ErrContention is returned once a write has lost the race for a row lock
// more times than the retry policy allows.
var ErrContention = errors.New("storage busy, try again")

// Store is the draft store plus the ticket ledger. Every write that spans
// more than one statement runs in a single transaction.
type Store interface {
	Ping(ctx context.Context) error
	Close()
	Migrate(ctx context.Context) error

	StartDraft(ctx context.Context, userID, partition int, now time.Time) (models.Draft, error)
	GetActiveDraft(ctx context.Context, userID int) (models.Draft, error)
	RecordContent(ctx context.Context, userID int, title, description string, now time.Time) (models.Draft, error)
	RecordQuestions(ctx context.Context, userID int, questions []models.Question, now time.Time) error
	SubmitDraft(ctx context.Context, userID int, sub models.Submission, now time.Time) (models.Ticket, error)

	ListRecent(ctx context.Context, limit int) ([]models.Ticket, error)
	CountTicketsByUser(ctx context.Context, userID int) (int, error)
}

type Options struct {
	LockTimeout   time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	Logger        zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	return o
}

// Open picks a backend from the URL scheme: postgres:// and postgresql://
// go to pgx, sqlite: and file: go to the embedded SQLite driver.
func Open(ctx context.Context, databaseURL string, opts Options) (Store, error) {
	opts = opts.withDefaults()
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return nil, errors.New("db: DATABASE_URL is not set")
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return New(ctx, u, opts)
	case strings.HasPrefix(u, "sqlite:"), strings.HasPrefix(u, "file:"):
		return NewSQLite(ctx, sqlitePath(u), opts)
	default:
		return nil, fmt.Errorf("db: unsupported database url %q", u)
	}
}

func sqlitePath(u string) string {
	u = strings.TrimPrefix(u, "sqlite://")
	u = strings.TrimPrefix(u, "sqlite:")
	u = strings.TrimPrefix(u, "file:")
	return u
}

func schemaSQL(name string) (string, error) {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return "", fmt.Errorf("db: read schema %s: %w", name, err)
	}
	return string(b), nil
}

func validateDraftKey(userID int) error {
	if !models.ValidUserID(userID) {
		return fmt.Errorf("%w: user_id must be an integer between %d and %d", models.ErrInvalidInput, models.MinUserID, models.MaxUserID)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > models.MaxRecentTickets {
		return models.MaxRecentTickets
	}
	return limit
}

func elapsedMs(startedAt, now time.Time) int64 {
	ms := now.Sub(startedAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func encodeJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeQuestions(raw []byte) ([]models.Question, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []models.Question
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("db: decode ai_questions: %w", err)
	}
	return out, nil
}

func decodeAnswers(raw []byte) (models.Answers, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out models.Answers
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("db: decode ai_answers: %w", err)
	}
	return out, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
