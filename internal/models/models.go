package models

import (
	"errors"
	"time"
)

const (
	MinUserID = 1
	MaxUserID = 99

	MinPartition     = 1
	MaxPartition     = 5
	DefaultPartition = 1

	MaxRecentTickets = 100
)

type DraftState string

const (
	DraftStateDraft     DraftState = "draft"
	DraftStateSubmitted DraftState = "submitted"
	// DraftStateAbandoned is accepted by the schema but nothing produces it yet.
	DraftStateAbandoned DraftState = "abandoned"
)

const TicketStatusOpen = "open"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNoActiveDraft  = errors.New("no active draft for this user, start a new draft first")
	ErrNoDraftContent = errors.New("no draft content found, submit the form first")
)

type Draft struct {
	UserID           int        `json:"userId"`
	State            DraftState `json:"state"`
	Partition        int        `json:"partition"`
	StartedAt        time.Time  `json:"startedAt"`
	SubmittedAt      *time.Time `json:"submittedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	DraftTitle       string     `json:"draftTitle,omitempty"`
	DraftDescription string     `json:"draftDescription,omitempty"`
	AIQuestions      []Question `json:"aiQuestions,omitempty"`
	AIAnswers        Answers    `json:"aiAnswers,omitempty"`
	AITurns          int        `json:"aiTurns"`
}

// HasContent reports whether the draft carries the title and description
// captured by the follow-up step.
func (d Draft) HasContent() bool {
	return d.DraftTitle != "" && d.DraftDescription != ""
}

type Ticket struct {
	ID             int64     `json:"id"`
	UserID         int       `json:"userId"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"createdAt"`
	TimeToSubmitMs int64     `json:"timeToSubmitMs"`
	AIUsed         bool      `json:"aiUsed"`
	Status         string    `json:"status"`
	Partition      int       `json:"partition"`
	Category       string    `json:"category,omitempty"`
	Urgency        string    `json:"urgency,omitempty"`
}

// Submission is the ticket content handed to the store when a draft closes.
// A non-zero DraftStartedAt makes the submit fail with ErrNoActiveDraft if
// the draft was reset after it was read.
type Submission struct {
	Title          string
	Description    string
	AIUsed         bool
	Answers        Answers
	Category       string
	Urgency        string
	DraftStartedAt time.Time
}

type QuestionKind string

const (
	QuestionYesNo          QuestionKind = "yes_no"
	QuestionMultipleChoice QuestionKind = "multiple_choice"
	QuestionFreeText       QuestionKind = "free_text"
)

type Question struct {
	ID       string       `json:"id" validate:"required"`
	Kind     QuestionKind `json:"type" validate:"required,oneof=yes_no multiple_choice free_text"`
	Prompt   string       `json:"question" validate:"required"`
	Choices  []string     `json:"choices" validate:"required"`
	Required bool         `json:"required"`
}

type QuestionSet struct {
	Questions []Question `json:"questions" validate:"min=3,max=7,dive"`
}

// Answers maps question ids to the user's answers.
type Answers map[string]any

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

type FinalTicket struct {
	ImprovedDescription string   `json:"improvedDescription"`
	CategoryGuess       string   `json:"categoryGuess"`
	UrgencyGuess        Urgency  `json:"urgencyGuess"`
	MissingInfo         []string `json:"missingInfo"`
}

func ValidUserID(id int) bool {
	return id >= MinUserID && id <= MaxUserID
}

func ValidPartition(p int) bool {
	return p >= MinPartition && p <= MaxPartition
}
