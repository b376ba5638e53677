package polls

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classlive/backend/internal/middleware"
	"github.com/classlive/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions/:id/polls.
type CreateRequest struct {
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options" binding:"required"`
}

// RespondRequest is the body for POST /polls/:id/responses. OptionIndex is a
// pointer so a missing field is told apart from option 0.
type RespondRequest struct {
	OptionIndex *int `json:"option_index" binding:"required"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a polls handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /sessions/:id/polls (instructor).
func (h *Handler) Create(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	view, err := h.svc.Create(c.Request.Context(), sessionID, userID, req.Question, req.Options)
	if err != nil {
		response.Error(c, err, "create poll")
		return
	}
	response.Created(c, view)
}

// List handles GET /sessions/:id/polls.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.svc.List(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "list polls")
		return
	}
	response.OK(c, list)
}

// Close handles POST /polls/:id/close (instructor).
func (h *Handler) Close(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	view, err := h.svc.Close(c.Request.Context(), pollID, userID)
	if err != nil {
		response.Error(c, err, "close poll")
		return
	}
	response.OK(c, view)
}

// Respond handles POST /polls/:id/responses.
func (h *Handler) Respond(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: option_index is required")
		return
	}
	t, err := h.svc.Respond(c.Request.Context(), pollID, userID, *req.OptionIndex)
	if err != nil {
		response.Error(c, err, "record response")
		return
	}
	response.OK(c, t)
}

// Tally handles GET /polls/:id/tally.
func (h *Handler) Tally(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	t, err := h.svc.Tally(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err, "read tally")
		return
	}
	response.OK(c, t)
}
