package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketform/backend/internal/ai"
	"github.com/ticketform/backend/internal/db"
	"github.com/ticketform/backend/internal/models"
)

const notifyTimeout = 10 * time.Second

// RecentCache fronts the ledger's most-recent listing. Entries may be stale
// until the next Invalidate.
type RecentCache interface {
	GetRecent(ctx context.Context, limit int) ([]models.Ticket, bool, error)
	SetRecent(ctx context.Context, limit int, tickets []models.Ticket) error
	Invalidate(ctx context.Context) error
}

type Notifier interface {
	TicketCreated(ctx context.Context, t models.Ticket) error
}

// IntakeService drives the draft lifecycle and the AI clarification flow.
// Cache and Notifier are optional.
type IntakeService struct {
	Store    db.Store
	AI       ai.Clarifier
	Gate     Gate
	Cache    RecentCache
	Notifier Notifier
	Logger   zerolog.Logger
	Now      func() time.Time
}

type FollowupResult struct {
	NeedsFollowup bool
	Questions     []models.Question
}

type FinalizeResult struct {
	Ticket models.Ticket
	Final  models.FinalTicket
}

func (s *IntakeService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC().Truncate(time.Millisecond)
}

// StartDraft creates or resets the user's draft. A partition of 0 selects
// the default ledger partition.
func (s *IntakeService) StartDraft(ctx context.Context, userID, partition int) (models.Draft, error) {
	if err := validateUserID(userID); err != nil {
		return models.Draft{}, err
	}
	if partition == 0 {
		partition = models.DefaultPartition
	}
	if !models.ValidPartition(partition) {
		return models.Draft{}, invalid("partition must be an integer between %d and %d", models.MinPartition, models.MaxPartition)
	}
	d, err := s.Store.StartDraft(ctx, userID, partition, s.now())
	if err != nil {
		return models.Draft{}, err
	}
	s.Logger.Info().Int("user_id", userID).Int("partition", partition).Msg("draft started")
	return d, nil
}

func (s *IntakeService) GetDraft(ctx context.Context, userID int) (models.Draft, error) {
	if err := validateUserID(userID); err != nil {
		return models.Draft{}, err
	}
	return s.Store.GetActiveDraft(ctx, userID)
}

// CreateTicket submits the draft as typed, without AI involvement.
func (s *IntakeService) CreateTicket(ctx context.Context, userID int, title, description string) (models.Ticket, error) {
	title, description, err := validateContent(userID, title, description)
	if err != nil {
		return models.Ticket{}, err
	}
	t, err := s.Store.SubmitDraft(ctx, userID, models.Submission{
		Title:       title,
		Description: description,
	}, s.now())
	if err != nil {
		return models.Ticket{}, err
	}
	s.ticketCreated(ctx, t)
	return t, nil
}

// RequestFollowups stores what the user typed, then asks the model for
// clarifying questions unless the gate finds the description specific
// enough.
func (s *IntakeService) RequestFollowups(ctx context.Context, userID int, title, description string) (FollowupResult, error) {
	title, description, err := validateContent(userID, title, description)
	if err != nil {
		return FollowupResult{}, err
	}
	if _, err := s.Store.RecordContent(ctx, userID, title, description, s.now()); err != nil {
		return FollowupResult{}, err
	}
	if !s.Gate.NeedsFollowup(description) {
		return FollowupResult{NeedsFollowup: false}, nil
	}

	start := time.Now()
	qs, err := s.AI.GenerateFollowups(ctx, title, description)
	if err != nil {
		s.Logger.Error().Err(err).Int("user_id", userID).Msg("followup generation failed")
		return FollowupResult{}, err
	}
	s.Logger.Info().Int("user_id", userID).Int("questions", len(qs.Questions)).Dur("latency", time.Since(start)).Msg("followups generated")

	if err := s.Store.RecordQuestions(ctx, userID, qs.Questions, s.now()); err != nil {
		return FollowupResult{}, err
	}
	return FollowupResult{NeedsFollowup: true, Questions: qs.Questions}, nil
}

// Finalize rewrites the stored draft with the user's answers and submits
// the improved ticket. The model call happens before the submit
// transaction so no lock is held while waiting on it.
func (s *IntakeService) Finalize(ctx context.Context, userID int, answers models.Answers) (FinalizeResult, error) {
	if err := validateUserID(userID); err != nil {
		return FinalizeResult{}, err
	}
	if len(answers) == 0 {
		return FinalizeResult{}, invalid("answers must be a non-empty object")
	}

	draft, err := s.Store.GetActiveDraft(ctx, userID)
	if err != nil {
		return FinalizeResult{}, err
	}
	if !draft.HasContent() {
		return FinalizeResult{}, models.ErrNoDraftContent
	}

	start := time.Now()
	final, err := s.AI.Finalize(ctx, draft.DraftTitle, draft.DraftDescription, answers)
	if err != nil {
		s.Logger.Error().Err(err).Int("user_id", userID).Msg("finalize failed")
		return FinalizeResult{}, err
	}
	s.Logger.Info().Int("user_id", userID).Str("category", final.CategoryGuess).Str("urgency", string(final.UrgencyGuess)).
		Dur("latency", time.Since(start)).Msg("ticket finalized")

	t, err := s.Store.SubmitDraft(ctx, userID, models.Submission{
		Title:          draft.DraftTitle,
		Description:    final.ImprovedDescription,
		AIUsed:         true,
		Answers:        answers,
		Category:       final.CategoryGuess,
		Urgency:        string(final.UrgencyGuess),
		DraftStartedAt: draft.StartedAt,
	}, s.now())
	if err != nil {
		return FinalizeResult{}, err
	}
	s.ticketCreated(ctx, t)
	return FinalizeResult{Ticket: t, Final: final}, nil
}

// ListTickets returns up to limit tickets, newest first.
func (s *IntakeService) ListTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	if limit <= 0 || limit > models.MaxRecentTickets {
		limit = models.MaxRecentTickets
	}
	if s.Cache != nil {
		cached, ok, err := s.Cache.GetRecent(ctx, limit)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("recent tickets cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	tickets, err := s.Store.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if err := s.Cache.SetRecent(ctx, limit, tickets); err != nil {
			s.Logger.Warn().Err(err).Msg("recent tickets cache write failed")
		}
	}
	return tickets, nil
}

func (s *IntakeService) ticketCreated(ctx context.Context, t models.Ticket) {
	s.Logger.Info().Int64("ticket_id", t.ID).Int("user_id", t.UserID).Bool("ai_used", t.AIUsed).
		Int64("time_to_submit_ms", t.TimeToSubmitMs).Msg("ticket created")

	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx); err != nil {
			s.Logger.Warn().Err(err).Msg("recent tickets cache invalidate failed")
		}
	}
	if s.Notifier != nil {
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := s.Notifier.TicketCreated(nctx, t); err != nil {
				s.Logger.Warn().Err(err).Int64("ticket_id", t.ID).Msg("ticket notification failed")
			}
		}()
	}
}

func validateUserID(userID int) error {
	if !models.ValidUserID(userID) {
		return invalid("user_id must be an integer between %d and %d", models.MinUserID, models.MaxUserID)
	}
	return nil
}

func validateContent(userID int, title, description string) (string, string, error) {
	if err := validateUserID(userID); err != nil {
		return "", "", err
	}
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || description == "" {
		return "", "", invalid("title and description required")
	}
	return title, description, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{models.ErrInvalidInput}, args...)...)
}
