package ai

import (
	"context"
	"fmt"

	"github.com/ticketform/backend/internal/models"
)

// Clarifier turns a vague report into follow-up questions and later merges
// the answers into a final ticket. Each call is a single upstream attempt.
type Clarifier interface {
	GenerateFollowups(ctx context.Context, title, description string) (models.QuestionSet, error)
	Finalize(ctx context.Context, title, description string, answers models.Answers) (models.FinalTicket, error)
}

// UpstreamError wraps any transport, timeout, parse or schema failure from
// the language model service.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("openai %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}
