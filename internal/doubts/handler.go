package doubts

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classlive/backend/internal/middleware"
	"github.com/classlive/backend/pkg/response"
)

// SubmitRequest is the body for POST /sessions/:id/doubts.
type SubmitRequest struct {
	Text      string `json:"text" binding:"required"`
	Anonymous bool   `json:"anonymous"`
}

// AnswerRequest is the body for POST /doubts/:id/answer.
type AnswerRequest struct {
	Text string `json:"text" binding:"required"`
}

// Handler handles doubt HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a doubts handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Submit handles POST /sessions/:id/doubts.
func (h *Handler) Submit(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	d, err := h.svc.Submit(c.Request.Context(), sessionID, userID, req.Text, req.Anonymous)
	if err != nil {
		response.Error(c, err, "submit doubt")
		return
	}
	response.Created(c, d)
}

// List handles GET /sessions/:id/doubts.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.svc.List(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "list doubts")
		return
	}
	response.OK(c, list)
}

// Upvote handles POST /doubts/:id/upvote.
func (h *Handler) Upvote(c *gin.Context) {
	doubtID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid doubt id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	d, err := h.svc.Upvote(c.Request.Context(), doubtID, userID)
	if err != nil {
		response.Error(c, err, "upvote doubt")
		return
	}
	response.OK(c, d)
}

// RetractUpvote handles DELETE /doubts/:id/upvote.
func (h *Handler) RetractUpvote(c *gin.Context) {
	doubtID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid doubt id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	d, err := h.svc.RetractUpvote(c.Request.Context(), doubtID, userID)
	if err != nil {
		response.Error(c, err, "retract upvote")
		return
	}
	response.OK(c, d)
}

// Answer handles POST /doubts/:id/answer (instructor).
func (h *Handler) Answer(c *gin.Context) {
	doubtID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid doubt id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	d, err := h.svc.Answer(c.Request.Context(), doubtID, userID, req.Text)
	if err != nil {
		response.Error(c, err, "answer doubt")
		return
	}
	response.OK(c, d)
}
