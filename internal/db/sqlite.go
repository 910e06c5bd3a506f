package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ticketform/backend/internal/models"
)

// SQLiteStore keeps drafts and tickets in a single SQLite file. Timestamps
// are stored as unix milliseconds.
type SQLiteStore struct {
	DB    *sql.DB
	retry retryPolicy
}

func NewSQLite(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db: sqlite path is empty")
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, opts.LockTimeout))
	if err != nil {
		return nil, fmt.Errorf("db: sqlite open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: sqlite ping: %w", err)
	}
	return &SQLiteStore{
		DB: db,
		retry: retryPolicy{
			attempts:    opts.RetryAttempts,
			backoff:     opts.RetryBackoff,
			isTransient: isSQLiteBusy,
			logger:      opts.Logger,
		},
	}, nil
}

// sqliteDSN enables WAL, a busy timeout and immediate transactions so the
// submit sequence takes the write lock before it reads the draft.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

func (s *SQLiteStore) Close() {
	_ = s.DB.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	ddl, err := schemaSQL("sqlite.sql")
	if err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) StartDraft(ctx context.Context, userID, partition int, now time.Time) (models.Draft, error) {
	if err := validateDraftKey(userID); err != nil {
		return models.Draft{}, err
	}
	if !models.ValidPartition(partition) {
		return models.Draft{}, fmt.Errorf("%w: partition must be between %d and %d", models.ErrInvalidInput, models.MinPartition, models.MaxPartition)
	}

	var d models.Draft
	err := s.retry.do(ctx, "start draft", func() error {
		return s.WithTx(ctx, func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx, `
				INSERT INTO drafts (user_id, state, ledger_partition, started_at, submitted_at, updated_at,
					draft_title, draft_description, ai_questions, ai_answers, ai_turns)
				VALUES (?, 'draft', ?, ?, NULL, ?, NULL, NULL, NULL, NULL, 0)
				ON CONFLICT (user_id) DO UPDATE SET
					state = 'draft',
					ledger_partition = excluded.ledger_partition,
					started_at = excluded.started_at,
					submitted_at = NULL,
					updated_at = excluded.updated_at,
					draft_title = NULL,
					draft_description = NULL,
					ai_questions = NULL,
					ai_answers = NULL,
					ai_turns = 0
				RETURNING `+draftColumns, userID, partition, now.UnixMilli(), now.UnixMilli())
			var err error
			d, err = scanSQLiteDraft(row)
			return err
		})
	})
	return d, err
}

func (s *SQLiteStore) GetActiveDraft(ctx context.Context, userID int) (models.Draft, error) {
	if err := validateDraftKey(userID); err != nil {
		return models.Draft{}, err
	}
	row := s.DB.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE user_id = ? AND state = 'draft'`, userID)
	d, err := scanSQLiteDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Draft{}, models.ErrNoActiveDraft
	}
	return d, err
}

func (s *SQLiteStore) RecordContent(ctx context.Context, userID int, title, description string, now time.Time) (models.Draft, error) {
	if err := validateDraftKey(userID); err != nil {
		return models.Draft{}, err
	}
	var d models.Draft
	err := s.retry.do(ctx, "record content", func() error {
		return s.WithTx(ctx, func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx, `
				UPDATE drafts SET draft_title = ?, draft_description = ?, updated_at = ?
				WHERE user_id = ? AND state = 'draft'
				RETURNING `+draftColumns, title, description, now.UnixMilli(), userID)
			var err error
			d, err = scanSQLiteDraft(row)
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrNoActiveDraft
			}
			return err
		})
	})
	return d, err
}

func (s *SQLiteStore) RecordQuestions(ctx context.Context, userID int, questions []models.Question, now time.Time) error {
	if err := validateDraftKey(userID); err != nil {
		return err
	}
	raw, err := encodeJSON(questions)
	if err != nil {
		return err
	}
	return s.retry.do(ctx, "record questions", func() error {
		return s.WithTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE drafts SET ai_questions = ?, ai_turns = ai_turns + 1, updated_at = ?
				WHERE user_id = ? AND state = 'draft'`, string(raw), now.UnixMilli(), userID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return models.ErrNoActiveDraft
			}
			return nil
		})
	})
}

func (s *SQLiteStore) SubmitDraft(ctx context.Context, userID int, sub models.Submission, now time.Time) (models.Ticket, error) {
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
		return s.WithTx(ctx, func(tx *sql.Tx) error {
			var startedAtMs int64
			var partition int
			err := tx.QueryRowContext(ctx, `SELECT started_at, ledger_partition FROM drafts WHERE user_id = ? AND state = 'draft'`, userID).
				Scan(&startedAtMs, &partition)
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrNoActiveDraft
			}
			if err != nil {
				return err
			}
			if !sub.DraftStartedAt.IsZero() && sub.DraftStartedAt.UnixMilli() != startedAtMs {
				return models.ErrNoActiveDraft
			}

			t = models.Ticket{
				UserID:         userID,
				Title:          sub.Title,
				Description:    sub.Description,
				CreatedAt:      now,
				TimeToSubmitMs: elapsedMs(time.UnixMilli(startedAtMs), now),
				AIUsed:         sub.AIUsed,
				Status:         models.TicketStatusOpen,
				Partition:      partition,
				Category:       sub.Category,
				Urgency:        sub.Urgency,
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO tickets (user_id, title, description, created_at, time_to_submit_ms, ai_used, status, ledger_partition, category, urgency)
				VALUES (?,?,?,?,?,?,?,?,?,?)`,
				t.UserID, t.Title, t.Description, now.UnixMilli(), t.TimeToSubmitMs, t.AIUsed, t.Status, t.Partition, t.Category, t.Urgency)
			if err != nil {
				return err
			}
			if t.ID, err = res.LastInsertId(); err != nil {
				return err
			}

			if answers != nil {
				_, err = tx.ExecContext(ctx, `
					UPDATE drafts SET state = 'submitted', submitted_at = ?, updated_at = ?,
						ai_answers = ?, ai_turns = ai_turns + 1
					WHERE user_id = ?`, now.UnixMilli(), now.UnixMilli(), string(answers), userID)
			} else {
				_, err = tx.ExecContext(ctx, `
					UPDATE drafts SET state = 'submitted', submitted_at = ?, updated_at = ?
					WHERE user_id = ?`, now.UnixMilli(), now.UnixMilli(), userID)
			}
			return err
		})
	})
	return t, err
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]models.Ticket, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC, id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Ticket{}
	for rows.Next() {
		var t models.Ticket
		var createdAtMs int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &createdAtMs, &t.TimeToSubmitMs,
			&t.AIUsed, &t.Status, &t.Partition, &t.Category, &t.Urgency); err != nil {
			return nil, err
		}
		t.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountTicketsByUser(ctx context.Context, userID int) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func scanSQLiteDraft(row *sql.Row) (models.Draft, error) {
	var (
		d           models.Draft
		state       string
		startedAt   int64
		submittedAt sql.NullInt64
		updatedAt   int64
		title       sql.NullString
		description sql.NullString
		questions   sql.NullString
		answers     sql.NullString
	)
	if err := row.Scan(&d.UserID, &state, &d.Partition, &startedAt, &submittedAt, &updatedAt,
		&title, &description, &questions, &answers, &d.AITurns); err != nil {
		return models.Draft{}, err
	}
	d.State = models.DraftState(state)
	d.StartedAt = time.UnixMilli(startedAt).UTC()
	d.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if submittedAt.Valid {
		ts := time.UnixMilli(submittedAt.Int64).UTC()
		d.SubmittedAt = &ts
	}
	d.DraftTitle = title.String
	d.DraftDescription = description.String

	var err error
	if d.AIQuestions, err = decodeQuestions([]byte(questions.String)); err != nil {
		return models.Draft{}, err
	}
	if d.AIAnswers, err = decodeAnswers([]byte(answers.String)); err != nil {
		return models.Draft{}, err
	}
	return d, nil
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
