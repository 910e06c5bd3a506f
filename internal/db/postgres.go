package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketform/backend/internal/models"
)

const draftColumns = `user_id, state, ledger_partition, started_at, submitted_at, updated_at,
	draft_title, draft_description, ai_questions, ai_answers, ai_turns`

const ticketColumns = `id, user_id, title, description, created_at, time_to_submit_ms,
	ai_used, status, ledger_partition, category, urgency`

// PGStore keeps drafts and tickets in Postgres.
type PGStore struct {
	Pool        *pgxpool.Pool
	lockTimeout time.Duration
	retry       retryPolicy
}

func New(ctx context.Context, databaseURL string, opts Options) (*PGStore, error) {
	opts = opts.withDefaults()
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PGStore{
		Pool:        pool,
		lockTimeout: opts.LockTimeout,
		retry: retryPolicy{
			attempts:    opts.RetryAttempts,
			backoff:     opts.RetryBackoff,
			isTransient: isPGContention,
			logger:      opts.Logger,
		},
	}, nil
}

func (s *PGStore) Close() {
	s.Pool.Close()
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *PGStore) Migrate(ctx context.Context) error {
	ddl, err := schemaSQL("postgres.sql")
	if err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction whose row-lock waits are capped at the
// configured lock timeout.
func (s *PGStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) StartDraft(ctx context.Context, userID, partition int, now time.Time) (models.Draft, error) {
	if err := validateDraftKey(userID); err != nil {
		return models.Draft{}, err
	}
	if !models.ValidPartition(partition) {
		return models.Draft{}, fmt.Errorf("%w: partition must be between %d and %d", models.ErrInvalidInput, models.MinPartition, models.MaxPartition)
	}

	var d models.Draft
	err := s.retry.do(ctx, "start draft", func() error {
		return s.WithTx(ctx, func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, `
				INSERT INTO drafts (user_id, state, ledger_partition, started_at, submitted_at, updated_at,
					draft_title, draft_description, ai_questions, ai_answers, ai_turns)
				VALUES ($1, 'draft', $2, $3, NULL, $3, NULL, NULL, NULL, NULL, 0)
				ON CONFLICT (user_id) DO UPDATE SET
					state = 'draft',
					ledger_partition = EXCLUDED.ledger_partition,
					started_at = EXCLUDED.started_at,
					submitted_at = NULL,
					updated_at = EXCLUDED.updated_at,
					draft_title = NULL,
					draft_description = NULL,
					ai_questions = NULL,
					ai_answers = NULL,
					ai_turns = 0
				RETURNING `+draftColumns, userID, partition, now)
			var err error
			d, err = scanPGDraft(row)
			return err
		})
	})
	return d, err
}

func (s *PGStore) GetActiveDraft(ctx context.Context, userID int) (models.Draft, error) {
	if err := validateDraftKey(userID); err != nil {
		return models.Draft{}, err
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE user_id = $1 AND state = 'draft'`, userID)
	d, err := scanPGDraft(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Draft{}, models.ErrNoActiveDraft
	}
	return d, err
}

func (s *PGStore) RecordContent(ctx context.Context, userID int, title, description string, now time.Time) (models.Draft, error) {
	if err := validateDraftKey(userID); err != nil {
		return models.Draft{}, err
	}
	var d models.Draft
	err := s.retry.do(ctx, "record content", func() error {
		return s.WithTx(ctx, func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, `
				UPDATE drafts SET draft_title = $2, draft_description = $3, updated_at = $4
				WHERE user_id = $1 AND state = 'draft'
				RETURNING `+draftColumns, userID, title, description, now)
			var err error
			d, err = scanPGDraft(row)
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNoActiveDraft
			}
			return err
		})
	})
	return d, err
}

func (s *PGStore) RecordQuestions(ctx context.Context, userID int, questions []models.Question, now time.Time) error {
	if err := validateDraftKey(userID); err != nil {
		return err
	}
	raw, err := encodeJSON(questions)
	if err != nil {
		return err
	}
	return s.retry.do(ctx, "record questions", func() error {
		return s.WithTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE drafts SET ai_questions = $2, ai_turns = ai_turns + 1, updated_at = $3
				WHERE user_id = $1 AND state = 'draft'`, userID, raw, now)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return models.ErrNoActiveDraft
			}
			return nil
		})
	})
}

// SubmitDraft locks the active draft, appends the ticket and closes the
// draft in one transaction. A concurrent submit for the same user waits on
// the row lock and then finds no active draft.
func (s *PGStore) SubmitDraft(ctx context.Context, userID int, sub models.Submission, now time.Time) (models.Ticket, error) {
	if err := validateDraftKey(userID); err != nil {
		return models.Ticket{}, err
	}
	var answers []byte
	if len(sub.Answers) > 0 {
		var err error
		if answers, err = encodeJSON(sub.Answers); err != nil {
			return models.Ticket{}, err
		}
	}

	var t models.Ticket
	err := s.retry.do(ctx, "submit draft", func() error {
		return s.WithTx(ctx, func(tx pgx.Tx) error {
			var startedAt time.Time
			var partition int
			err := tx.QueryRow(ctx, `SELECT started_at, ledger_partition FROM drafts WHERE user_id = $1 AND state = 'draft' FOR UPDATE`, userID).
				Scan(&startedAt, &partition)
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNoActiveDraft
			}
			if err != nil {
				return err
			}
			if !sub.DraftStartedAt.IsZero() && !sub.DraftStartedAt.Equal(startedAt) {
				return models.ErrNoActiveDraft
			}

			t = models.Ticket{
				UserID:         userID,
				Title:          sub.Title,
				Description:    sub.Description,
				CreatedAt:      now,
				TimeToSubmitMs: elapsedMs(startedAt, now),
				AIUsed:         sub.AIUsed,
				Status:         models.TicketStatusOpen,
				Partition:      partition,
				Category:       sub.Category,
				Urgency:        sub.Urgency,
			}
			err = tx.QueryRow(ctx, `
				INSERT INTO tickets (user_id, title, description, created_at, time_to_submit_ms, ai_used, status, ledger_partition, category, urgency)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				RETURNING id`,
				t.UserID, t.Title, t.Description, t.CreatedAt, t.TimeToSubmitMs, t.AIUsed, t.Status, t.Partition, t.Category, t.Urgency).
				Scan(&t.ID)
			if err != nil {
				return err
			}

			if answers != nil {
				_, err = tx.Exec(ctx, `
					UPDATE drafts SET state = 'submitted', submitted_at = $2, updated_at = $2,
						ai_answers = $3, ai_turns = ai_turns + 1
					WHERE user_id = $1`, userID, now, answers)
			} else {
				_, err = tx.Exec(ctx, `
					UPDATE drafts SET state = 'submitted', submitted_at = $2, updated_at = $2
					WHERE user_id = $1`, userID, now)
			}
			return err
		})
	})
	return t, err
}

func (s *PGStore) ListRecent(ctx context.Context, limit int) ([]models.Ticket, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC, id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Ticket{}
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.CreatedAt, &t.TimeToSubmitMs,
			&t.AIUsed, &t.Status, &t.Partition, &t.Category, &t.Urgency); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) CountTicketsByUser(ctx context.Context, userID int) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func scanPGDraft(row pgx.Row) (models.Draft, error) {
	var (
		d           models.Draft
		state       string
		title       *string
		description *string
		questions   []byte
		answers     []byte
	)
	if err := row.Scan(&d.UserID, &state, &d.Partition, &d.StartedAt, &d.SubmittedAt, &d.UpdatedAt,
		&title, &description, &questions, &answers, &d.AITurns); err != nil {
		return models.Draft{}, err
	}
	d.State = models.DraftState(state)
	d.DraftTitle = derefString(title)
	d.DraftDescription = derefString(description)

	var err error
	if d.AIQuestions, err = decodeQuestions(questions); err != nil {
		return models.Draft{}, err
	}
	if d.AIAnswers, err = decodeAnswers(answers); err != nil {
		return models.Draft{}, err
	}
	return d, nil
}

// isPGContention matches lock_not_available, serialization_failure and
// deadlock_detected.
func isPGContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "55P03", "40001", "40P01":
		return true
	}
	return false
}
