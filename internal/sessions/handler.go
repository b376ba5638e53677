package sessions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classlive/backend/internal/middleware"
	"github.com/classlive/backend/pkg/response"
)

// StartRequest is the body for POST /courses/:id/sessions.
type StartRequest struct {
	Title string `json:"title"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a sessions handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Start handles POST /courses/:id/sessions (instructor).
func (h *Handler) Start(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	s, err := h.svc.Start(c.Request.Context(), courseID, req.Title, userID)
	if err != nil {
		response.Error(c, err, "start session")
		return
	}
	response.Created(c, s)
}

// ListByCourse handles GET /courses/:id/sessions.
func (h *Handler) ListByCourse(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	list, err := h.svc.ListByCourse(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err, "list sessions")
		return
	}
	response.OK(c, list)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.svc.Get(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "get session")
		return
	}
	response.OK(c, s)
}

// End handles POST /sessions/:id/end (starter or instructor).
func (h *Handler) End(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s, err := h.svc.End(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err, "end session")
		return
	}
	response.OK(c, s)
}

// Join handles POST /sessions/:id/join.
func (h *Handler) Join(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	p, err := h.svc.Join(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err, "join session")
		return
	}
	response.OK(c, p)
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	p, err := h.svc.Leave(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err, "leave session")
		return
	}
	response.OK(c, p)
}
