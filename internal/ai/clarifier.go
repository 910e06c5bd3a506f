package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ticketform/backend/internal/models"
)

const (
	followupsSystemPrompt = "You are an IT helpdesk triage assistant. " +
		"Ask the minimum number of targeted follow-up questions to diagnose the issue. " +
		"Prefer multiple-choice when possible. Never ask for passwords or sensitive secrets. " +
		"Always include a 'choices' array in each question. " +
		"If the question is not multiple-choice, set choices to an empty array."

	finalizeSystemPrompt = "Rewrite IT support tickets into clear, actionable descriptions. " +
		"Never include or request passwords or secrets."
)

var followupsSchema = JSONSchema{
	Name: "followup_questions",
	Schema: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"questions": map[string]any{
				"type":     "array",
				"minItems": 3,
				"maxItems": 7,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"id":       map[string]any{"type": "string"},
						"type":     map[string]any{"type": "string", "enum": []string{"yes_no", "multiple_choice", "free_text"}},
						"question": map[string]any{"type": "string"},
						"choices":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"required": map[string]any{"type": "boolean"},
					},
					"required": []string{"id", "type", "question", "choices", "required"},
				},
			},
		},
		"required": []string{"questions"},
	},
}

var finalTicketSchema = JSONSchema{
	Name: "final_ticket",
	Schema: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"improved_description": map[string]any{"type": "string"},
			"category_guess":       map[string]any{"type": "string"},
			"urgency_guess":        map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"missing_info":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"improved_description", "category_guess", "urgency_guess", "missing_info"},
	},
}

type finalTicketWire struct {
	ImprovedDescription string   `json:"improved_description" validate:"required"`
	CategoryGuess       string   `json:"category_guess"`
	UrgencyGuess        string   `json:"urgency_guess" validate:"oneof=low medium high"`
	MissingInfo         []string `json:"missing_info" validate:"required"`
}

// OpenAIClarifier implements Clarifier on top of an OpenAI-compatible
// assistant. Responses that break the schema are upstream failures.
type OpenAIClarifier struct {
	Assistant OpenAICompatAssistant
	Validator *validator.Validate
}

func NewOpenAIClarifier(assistant OpenAICompatAssistant) *OpenAIClarifier {
	return &OpenAIClarifier{Assistant: assistant, Validator: validator.New()}
}

func (c *OpenAIClarifier) GenerateFollowups(ctx context.Context, title, description string) (models.QuestionSet, error) {
	messages := []ChatMessage{
		{Role: "system", Content: followupsSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Title: %s\nDescription: %s\nReturn follow-up questions.", title, description)},
	}
	var out models.QuestionSet
	if err := c.Assistant.CompleteJSON(ctx, messages, followupsSchema, &out); err != nil {
		return models.QuestionSet{}, upstream("followups", err)
	}
	if err := c.Validator.Struct(out); err != nil {
		return models.QuestionSet{}, upstream("followups", fmt.Errorf("schema violation: %w", err))
	}
	return out, nil
}

func (c *OpenAIClarifier) Finalize(ctx context.Context, title, description string, answers models.Answers) (models.FinalTicket, error) {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return models.FinalTicket{}, err
	}
	messages := []ChatMessage{
		{Role: "system", Content: finalizeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Title: %s\nOriginal description:\n%s\n\nFollow-up answers JSON:\n%s\n\nProduce the final structured result.",
			title, description, answersJSON)},
	}
	var out finalTicketWire
	if err := c.Assistant.CompleteJSON(ctx, messages, finalTicketSchema, &out); err != nil {
		return models.FinalTicket{}, upstream("finalize", err)
	}
	if err := c.Validator.Struct(out); err != nil {
		return models.FinalTicket{}, upstream("finalize", fmt.Errorf("schema violation: %w", err))
	}
	return models.FinalTicket{
		ImprovedDescription: out.ImprovedDescription,
		CategoryGuess:       out.CategoryGuess,
		UrgencyGuess:        models.Urgency(out.UrgencyGuess),
		MissingInfo:         out.MissingInfo,
	}, nil
}
