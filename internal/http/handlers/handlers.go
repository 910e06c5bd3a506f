package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ticketform/backend/internal/ai"
	"github.com/ticketform/backend/internal/db"
	"github.com/ticketform/backend/internal/models"
	"github.com/ticketform/backend/internal/service"
)

type Handler struct {
	Intake    *service.IntakeService
	Store     db.Store
	Validator *validator.Validate
	Logger    zerolog.Logger
}

type StartDraftRequest struct {
	UserID    *int `json:"userId" validate:"required"`
	Partition int  `json:"partition"`
}

type StartDraftResponse struct {
	UserID    int       `json:"userId"`
	StartedAt time.Time `json:"startedAt"`
	Partition int       `json:"partition"`
}

type TicketRequest struct {
	UserID      *int   `json:"userId" validate:"required"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type TicketCreatedResponse struct {
	UserID         int   `json:"userId"`
	TimeToSubmitMs int64 `json:"timeToSubmitMs"`
}

type TicketListItem struct {
	UserID         int       `json:"userId"`
	Title          string    `json:"title"`
	TimeToSubmitMs int64     `json:"timeToSubmitMs"`
	Status         string    `json:"status"`
	AIUsed         bool      `json:"aiUsed"`
	CreatedAt      time.Time `json:"createdAt"`
}

type FollowupsResponse struct {
	NeedsFollowup bool              `json:"needsFollowup"`
	Questions     []models.Question `json:"questions,omitempty"`
}

type FinalizeRequest struct {
	UserID  *int           `json:"userId" validate:"required"`
	Answers models.Answers `json:"answers"`
}

type FinalizeResponse struct {
	UserID         int                `json:"userId"`
	TimeToSubmitMs int64              `json:"timeToSubmitMs"`
	Final          models.FinalTicket `json:"final"`
}

// @Summary Liveness
// @Tags health
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Start or reset a draft
// @Tags drafts
// @Accept json
// @Produce json
// @Param body body StartDraftRequest true "draft"
// @Success 200 {object} StartDraftResponse
// @Failure 400 {object} map[string]any
// @Router /drafts [post]
func (h *Handler) StartDraft(c *gin.Context) {
	var req StartDraftRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.Intake.StartDraft(c.Request.Context(), *req.UserID, req.Partition)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, StartDraftResponse{UserID: d.UserID, StartedAt: d.StartedAt, Partition: d.Partition})
}

func (h *Handler) GetDraft(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("userId"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "user_id must be an integer", nil)
		return
	}
	d, err := h.Intake.GetDraft(c.Request.Context(), userID)
	if errors.Is(err, models.ErrNoActiveDraft) {
		writeError(c, http.StatusNotFound, "NO_ACTIVE_DRAFT", err.Error(), nil)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// @Summary Submit a ticket without AI
// @Tags tickets
// @Accept json
// @Produce json
// @Param body body TicketRequest true "ticket"
// @Success 201 {object} TicketCreatedResponse
// @Failure 400 {object} map[string]any
// @Router /tickets [post]
func (h *Handler) CreateTicket(c *gin.Context) {
	var req TicketRequest
	if !h.bind(c, &req) {
		return
	}
	t, err := h.Intake.CreateTicket(c.Request.Context(), *req.UserID, req.Title, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, TicketCreatedResponse{UserID: t.UserID, TimeToSubmitMs: t.TimeToSubmitMs})
}

// @Summary Most recent tickets
// @Tags tickets
// @Produce json
// @Param limit query int false "max items, capped at 100"
// @Success 200 {array} TicketListItem
// @Router /tickets [get]
func (h *Handler) ListTickets(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(models.MaxRecentTickets)))
	tickets, err := h.Intake.ListTickets(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	items := make([]TicketListItem, 0, len(tickets))
	for _, t := range tickets {
		items = append(items, TicketListItem{
			UserID:         t.UserID,
			Title:          t.Title,
			TimeToSubmitMs: t.TimeToSubmitMs,
			Status:         t.Status,
			AIUsed:         t.AIUsed,
			CreatedAt:      t.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

// @Summary Ask for follow-up questions
// @Tags ai
// @Accept json
// @Produce json
// @Param body body TicketRequest true "draft content"
// @Success 200 {object} FollowupsResponse
// @Failure 400 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /ai/followups [post]
func (h *Handler) Followups(c *gin.Context) {
	var req TicketRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Intake.RequestFollowups(c.Request.Context(), *req.UserID, req.Title, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, FollowupsResponse{NeedsFollowup: res.NeedsFollowup, Questions: res.Questions})
}

// @Summary Finalize a ticket from follow-up answers
// @Tags ai
// @Accept json
// @Produce json
// @Param body body FinalizeRequest true "answers"
// @Success 201 {object} FinalizeResponse
// @Failure 400 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /ai/finalize [post]
func (h *Handler) Finalize(c *gin.Context) {
	var req FinalizeRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Intake.Finalize(c.Request.Context(), *req.UserID, req.Answers)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, FinalizeResponse{
		UserID:         res.Ticket.UserID,
		TimeToSubmitMs: res.Ticket.TimeToSubmitMs,
		Final:          res.Final,
	})
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "user_id must be an integer between 1 and 99", err.Error())
		return false
	}
	return true
}

// fail maps service errors onto the error envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	var upstreamErr *ai.UpstreamError
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, models.ErrNoDraftContent):
		writeError(c, http.StatusBadRequest, "NO_DRAFT_CONTENT", err.Error(), nil)
	case errors.Is(err, models.ErrNoActiveDraft):
		writeError(c, http.StatusBadRequest, "NO_ACTIVE_DRAFT", err.Error(), nil)
	case errors.As(err, &upstreamErr):
		writeError(c, http.StatusBadGateway, "UPSTREAM_ERROR", upstreamErr.Error(), nil)
	case errors.Is(err, db.ErrContention):
		writeError(c, http.StatusServiceUnavailable, "DB_BUSY", "Storage is busy, try again", err.Error())
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Internal error", err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
