package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ticketform/backend/internal/models"
	"github.com/ticketform/backend/internal/utils"
)

// MockClarifier answers deterministically from the ticket text. It stands in
// for the model when no API key is configured.
type MockClarifier struct{}

var mockQuestionPool = []models.Question{
	{ID: "when_started", Kind: models.QuestionMultipleChoice, Prompt: "When did the problem start?", Choices: []string{"Today", "This week", "Longer ago"}, Required: true},
	{ID: "affects_others", Kind: models.QuestionYesNo, Prompt: "Are colleagues affected as well?", Choices: []string{}, Required: true},
	{ID: "error_message", Kind: models.QuestionFreeText, Prompt: "What error message do you see, if any?", Choices: []string{}, Required: false},
	{ID: "device", Kind: models.QuestionMultipleChoice, Prompt: "Which device are you using?", Choices: []string{"Laptop", "Desktop", "Phone", "Other"}, Required: true},
	{ID: "tried_restart", Kind: models.QuestionYesNo, Prompt: "Have you already restarted the device?", Choices: []string{}, Required: false},
}

func (MockClarifier) GenerateFollowups(ctx context.Context, title, description string) (models.QuestionSet, error) {
	n := 3 + utils.Bucket(title+"\n"+description, 3)
	questions := make([]models.Question, n)
	copy(questions, mockQuestionPool[:n])
	return models.QuestionSet{Questions: questions}, nil
}

func (MockClarifier) Finalize(ctx context.Context, title, description string, answers models.Answers) (models.FinalTicket, error) {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", strings.TrimSpace(title), strings.TrimSpace(description))
	if len(keys) > 0 {
		b.WriteString("\n\nDetails:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %v", k, answers[k])
		}
	}

	text := strings.ToLower(title + " " + description)
	missing := []string{}
	if _, ok := answers["error_message"]; !ok {
		missing = append(missing, "exact error message")
	}

	return models.FinalTicket{
		ImprovedDescription: b.String(),
		CategoryGuess:       guessCategory(text),
		UrgencyGuess:        guessUrgency(text),
		MissingInfo:         missing,
	}, nil
}

func guessCategory(text string) string {
	switch {
	case containsAny(text, "printer", "monitor", "keyboard", "laptop", "mouse"):
		return "Hardware"
	case containsAny(text, "login", "password", "account", "locked"):
		return "Account"
	case containsAny(text, "internet", "wifi", "wi-fi", "network", "vpn"):
		return "Network"
	case containsAny(text, "email", "outlook", "teams", "excel", "install"):
		return "Software"
	default:
		return "General"
	}
}

func guessUrgency(text string) models.Urgency {
	switch {
	case containsAny(text, "urgent", "asap", "everyone", "outage", "down"):
		return models.UrgencyHigh
	case containsAny(text, "can't", "cannot", "not working", "won't"):
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
