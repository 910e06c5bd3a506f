package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketform/backend/internal/ai"
	"github.com/ticketform/backend/internal/db"
	"github.com/ticketform/backend/internal/models"
)

type stubClarifier struct {
	questions   []models.Question
	err         error
	calls       int
	gotTitle    string
	gotDesc     string
	gotAnswers  models.Answers
	improvement string
}

func (s *stubClarifier) GenerateFollowups(ctx context.Context, title, description string) (models.QuestionSet, error) {
	s.calls++
	if s.err != nil {
		return models.QuestionSet{}, s.err
	}
	return models.QuestionSet{Questions: s.questions}, nil
}

func (s *stubClarifier) Finalize(ctx context.Context, title, description string, answers models.Answers) (models.FinalTicket, error) {
	s.calls++
	s.gotTitle, s.gotDesc, s.gotAnswers = title, description, answers
	if s.err != nil {
		return models.FinalTicket{}, s.err
	}
	return models.FinalTicket{
		ImprovedDescription: s.improvement,
		CategoryGuess:       "Hardware",
		UrgencyGuess:        models.UrgencyHigh,
		MissingInfo:         []string{"asset tag"},
	}, nil
}

type memCache struct {
	mu          sync.Mutex
	entries     map[int][]models.Ticket
	invalidated int
}

func (c *memCache) GetRecent(ctx context.Context, limit int) ([]models.Ticket, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[limit]
	return v, ok, nil
}

func (c *memCache) SetRecent(ctx context.Context, limit int, tickets []models.Ticket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[int][]models.Ticket{}
	}
	c.entries[limit] = tickets
	return nil
}

func (c *memCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.invalidated++
	return nil
}

type chanNotifier struct {
	ch chan models.Ticket
}

func (n chanNotifier) TicketCreated(ctx context.Context, t models.Ticket) error {
	n.ch <- t
	return nil
}

// clock advances by step on every call.
type clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestService(t *testing.T, clarifier ai.Clarifier) (*IntakeService, *clock) {
	t.Helper()
	store, err := db.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "intake.db"), db.Options{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: 1500 * time.Millisecond}
	return &IntakeService{
		Store:  store,
		AI:     clarifier,
		Gate:   NewGate(DefaultFollowupMinLength),
		Logger: zerolog.Nop(),
		Now:    clk.Now,
	}, clk
}

func TestCreateTicketWithoutDraft(t *testing.T) {
	svc, _ := newTestService(t, &stubClarifier{})
	_, err := svc.CreateTicket(context.Background(), 7, "Printer", "Won't print")
	if !errors.Is(err, models.ErrNoActiveDraft) {
		t.Fatalf("expected ErrNoActiveDraft, got %v", err)
	}
}

func TestCreateTicketScenario(t *testing.T) {
	svc, _ := newTestService(t, &stubClarifier{})
	ctx := context.Background()

	if _, err := svc.StartDraft(ctx, 7, 0); err != nil {
		t.Fatalf("start draft: %v", err)
	}
	tk, err := svc.CreateTicket(ctx, 7, " Printer ", "Printer won't turn on")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if n, err := svc.Store.CountTicketsByUser(ctx, 7); err != nil || n != 1 {
		t.Fatalf("expected exactly one ledger row for user 7, got %d (%v)", n, err)
	}
	if tk.Title != "Printer" || tk.AIUsed || tk.Status != models.TicketStatusOpen {
		t.Fatalf("unexpected ticket %+v", tk)
	}
	if tk.TimeToSubmitMs != 1500 {
		t.Fatalf("expected 1500ms to submit, got %d", tk.TimeToSubmitMs)
	}
	if tk.Partition != models.DefaultPartition {
		t.Fatalf("expected default partition, got %d", tk.Partition)
	}

	if _, err := svc.GetDraft(ctx, 7); !errors.Is(err, models.ErrNoActiveDraft) {
		t.Fatalf("draft should be closed after submit, got %v", err)
	}
	if _, err := svc.CreateTicket(ctx, 7, "Printer", "Won't print"); !errors.Is(err, models.ErrNoActiveDraft) {
		t.Fatalf("second submit should fail, got %v", err)
	}
}

func TestStartDraftResetsContent(t *testing.T) {
	svc, _ := newTestService(t, &stubClarifier{questions: sampleQuestions()})
	ctx := context.Background()

	if _, err := svc.StartDraft(ctx, 4, 2); err != nil {
		t.Fatalf("start draft: %v", err)
	}
	if _, err := svc.RequestFollowups(ctx, 4, "VPN", "help"); err != nil {
		t.Fatalf("followups: %v", err)
	}
	d, err := svc.GetDraft(ctx, 4)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if d.DraftTitle != "VPN" || len(d.AIQuestions) != 3 || d.AITurns != 1 {
		t.Fatalf("unexpected draft after followups %+v", d)
	}

	restarted, err := svc.StartDraft(ctx, 4, 0)
	if err != nil {
		t.Fatalf("restart draft: %v", err)
	}
	if restarted.HasContent() || restarted.AIQuestions != nil || restarted.AITurns != 0 || restarted.SubmittedAt != nil {
		t.Fatalf("restart must clear draft fields, got %+v", restarted)
	}
	if !restarted.StartedAt.After(d.StartedAt) {
		t.Fatalf("restart must move started_at forward")
	}
}

func TestDoubleStartTimesFromLatest(t *testing.T) {
	svc, _ := newTestService(t, &stubClarifier{})
	ctx := context.Background()

	if _, err := svc.StartDraft(ctx, 11, 0); err != nil {
		t.Fatal(err)
	}
	second, err := svc.StartDraft(ctx, 11, 0)
	if err != nil {
		t.Fatal(err)
	}
	tk, err := svc.CreateTicket(ctx, 11, "Mouse", "Cursor drifts")
	if err != nil {
		t.Fatal(err)
	}
	if got := tk.CreatedAt.Sub(second.StartedAt).Milliseconds(); tk.TimeToSubmitMs != got {
		t.Fatalf("expected time measured from second start (%d), got %d", got, tk.TimeToSubmitMs)
	}
	n, err := svc.Store.CountTicketsByUser(ctx, 11)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one ticket, got %d", n)
	}
}

func TestInvalidUserIDs(t *testing.T) {
	svc, _ := newTestService(t, &stubClarifier{})
	ctx := context.Background()
	for _, id := range []int{0, -1, 100} {
		if _, err := svc.StartDraft(ctx, id, 0); !errors.Is(err, models.ErrInvalidInput) {
			t.Fatalf("StartDraft(%d): expected ErrInvalidInput, got %v", id, err)
		}
		if _, err := svc.CreateTicket(ctx, id, "t", "d"); !errors.Is(err, models.ErrInvalidInput) {
			t.Fatalf("CreateTicket(%d): expected ErrInvalidInput, got %v", id, err)
		}
	}
	if _, err := svc.StartDraft(ctx, 5, 6); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("partition 6 should be rejected, got %v", err)
	}
}

func TestRequestFollowupsGate(t *testing.T) {
	stub := &stubClarifier{questions: sampleQuestions()}
	svc, _ := newTestService(t, stub)
	ctx := context.Background()
	if _, err := svc.StartDraft(ctx, 2, 0); err != nil {
		t.Fatal(err)
	}

	long := "Outlook on my laptop asset 4411 crashes with error 0x800CCC0E each time I open the shared " +
		"calendar for the finance team. Started after the update on Monday morning. Other mailboxes open " +
		"fine. I already restarted and repaired the Office install from the control panel with no change " +
		"at all, and the web client shows the calendar correctly."
	res, err := svc.RequestFollowups(ctx, 2, "Outlook crash", long)
	if err != nil {
		t.Fatal(err)
	}
	if res.NeedsFollowup || stub.calls != 0 {
		t.Fatalf("specific description should skip the model, got %+v (calls %d)", res, stub.calls)
	}
	d, _ := svc.GetDraft(ctx, 2)
	if d.DraftDescription != long {
		t.Fatalf("draft content should be stored even when the gate passes")
	}

	res, err = svc.RequestFollowups(ctx, 2, "Outlook", "not working")
	if err != nil {
		t.Fatal(err)
	}
	if !res.NeedsFollowup || len(res.Questions) != 3 || stub.calls != 1 {
		t.Fatalf("vague description should ask the model, got %+v", res)
	}
}

func TestFinalizeStoresImprovedDescription(t *testing.T) {
	stub := &stubClarifier{questions: sampleQuestions(), improvement: "Laptop fails to boot after BIOS update."}
	svc, _ := newTestService(t, stub)
	notified := make(chan models.Ticket, 1)
	svc.Notifier = chanNotifier{ch: notified}
	ctx := context.Background()

	if _, err := svc.StartDraft(ctx, 9, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestFollowups(ctx, 9, "Laptop", "doesn't work"); err != nil {
		t.Fatal(err)
	}
	answers := models.Answers{"when": "this morning", "restarted": "yes"}
	res, err := svc.Finalize(ctx, 9, answers)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if stub.gotTitle != "Laptop" || stub.gotDesc != "doesn't work" || stub.gotAnswers["when"] != "this morning" {
		t.Fatalf("model got wrong input: %q %q %v", stub.gotTitle, stub.gotDesc, stub.gotAnswers)
	}
	if !res.Ticket.AIUsed || res.Ticket.Description != stub.improvement {
		t.Fatalf("unexpected ticket %+v", res.Ticket)
	}
	if res.Ticket.Category != "Hardware" || res.Ticket.Urgency != "high" || res.Ticket.Partition != 3 {
		t.Fatalf("ticket should carry the model's guesses and draft partition, got %+v", res.Ticket)
	}

	select {
	case got := <-notified:
		if got.ID != res.Ticket.ID {
			t.Fatalf("notified ticket %d, want %d", got.ID, res.Ticket.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notifier was not called")
	}

	recent, err := svc.ListTickets(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Description != stub.improvement {
		t.Fatalf("ledger should hold the improved description, got %+v", recent)
	}
}

func TestFinalizeRequiresContent(t *testing.T) {
	svc, _ := newTestService(t, &stubClarifier{})
	ctx := context.Background()

	if _, err := svc.Finalize(ctx, 3, models.Answers{"a": "b"}); !errors.Is(err, models.ErrNoActiveDraft) {
		t.Fatalf("expected ErrNoActiveDraft, got %v", err)
	}
	if _, err := svc.StartDraft(ctx, 3, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Finalize(ctx, 3, models.Answers{"a": "b"}); !errors.Is(err, models.ErrNoDraftContent) {
		t.Fatalf("expected ErrNoDraftContent, got %v", err)
	}
	if _, err := svc.Finalize(ctx, 3, nil); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty answers, got %v", err)
	}
}

func TestFinalizeUpstreamErrorKeepsDraft(t *testing.T) {
	stub := &stubClarifier{questions: sampleQuestions()}
	svc, _ := newTestService(t, stub)
	ctx := context.Background()

	if _, err := svc.StartDraft(ctx, 6, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestFollowups(ctx, 6, "Wifi", "internet problem"); err != nil {
		t.Fatal(err)
	}
	stub.err = &ai.UpstreamError{Op: "finalize", Err: errors.New("HTTP 503")}

	_, err := svc.Finalize(ctx, 6, models.Answers{"when": "now"})
	var upErr *ai.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if _, err := svc.GetDraft(ctx, 6); err != nil {
		t.Fatalf("draft should stay active after a model failure: %v", err)
	}
	if n, _ := svc.Store.CountTicketsByUser(ctx, 6); n != 0 {
		t.Fatalf("no ticket should be written, got %d", n)
	}
}

func TestFinalizeAfterRestartIsRejected(t *testing.T) {
	stub := &stubClarifier{questions: sampleQuestions(), improvement: "x"}
	svc, _ := newTestService(t, stub)
	ctx := context.Background()

	if _, err := svc.StartDraft(ctx, 8, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestFollowups(ctx, 8, "Phone", "help"); err != nil {
		t.Fatal(err)
	}
	draft, err := svc.GetDraft(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartDraft(ctx, 8, 0); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Store.SubmitDraft(ctx, 8, models.Submission{
		Title: "Phone", Description: "x", AIUsed: true, DraftStartedAt: draft.StartedAt,
	}, svc.now())
	if !errors.Is(err, models.ErrNoActiveDraft) {
		t.Fatalf("submit against a replaced draft should fail, got %v", err)
	}
}

func TestListTicketsNewestFirst(t *testing.T) {
	svc, _ := newTestService(t, &stubClarifier{})
	cache := &memCache{}
	svc.Cache = cache
	ctx := context.Background()

	titles := []string{"one", "two", "three", "four", "five"}
	for i, title := range titles {
		user := i + 1
		if _, err := svc.StartDraft(ctx, user, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.CreateTicket(ctx, user, title, "desc"); err != nil {
			t.Fatal(err)
		}
	}
	if cache.invalidated != len(titles) {
		t.Fatalf("expected cache invalidated per ticket, got %d", cache.invalidated)
	}

	got, err := svc.ListTickets(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"five", "four", "three"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tickets, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Title != want[i] {
			t.Fatalf("position %d: got %q want %q", i, got[i].Title, want[i])
		}
	}
	if _, ok, _ := cache.GetRecent(ctx, 3); !ok {
		t.Fatalf("listing should populate the cache")
	}

	all, err := svc.ListTickets(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(titles) {
		t.Fatalf("limit 0 should return everything up to the cap, got %d", len(all))
	}
}

func sampleQuestions() []models.Question {
	return []models.Question{
		{ID: "when", Kind: models.QuestionFreeText, Prompt: "When did it start?", Choices: []string{}, Required: true},
		{ID: "restarted", Kind: models.QuestionYesNo, Prompt: "Did you restart?", Choices: []string{}, Required: true},
		{ID: "scope", Kind: models.QuestionMultipleChoice, Prompt: "Who is affected?", Choices: []string{"me", "team"}},
	}
}

func TestStartDraftAfterSubmit(t *testing.T) {
	svc, _ := newTestService(t, &stubClarifier{})
	ctx := context.Background()

	for user := models.MinUserID; user <= models.MaxUserID; user += 49 {
		if _, err := svc.StartDraft(ctx, user, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.CreateTicket(ctx, user, "t", "d"); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.StartDraft(ctx, user, 0); err != nil {
			t.Fatal(err)
		}
		d, err := svc.GetDraft(ctx, user)
		if err != nil {
			t.Fatalf("user %d: %v", user, err)
		}
		if d.State != models.DraftStateDraft || d.HasContent() || d.AITurns != 0 || d.SubmittedAt != nil {
			t.Fatalf("user %d: draft not reset %+v", user, d)
		}
	}
}
