package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classlive/backend/internal/models"
)

// Body is the standard API response envelope.
type Body struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// ServiceUnavailable sends 503 and marks the response retryable.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err, Retryable: true})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Status returns the HTTP status for a domain error.
func Status(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindConflict:
		return http.StatusConflict
	case models.KindNotAuthorized:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error sends the response matching a domain error. Validation and conflict
// errors carry their specific message; store and internal failures stay generic.
func Error(c *gin.Context, err error, what string) {
	switch models.KindOf(err) {
	case models.KindValidation:
		BadRequest(c, err.Error())
	case models.KindConflict:
		Conflict(c, Message(err))
	case models.KindNotAuthorized:
		Forbidden(c, "not authorized to "+what)
	case models.KindNotFound:
		NotFound(c, "not found")
	case models.KindUnavailable:
		ServiceUnavailable(c, "temporarily unavailable, please retry")
	default:
		Internal(c, "failed to "+what)
	}
}

// Message returns the user-facing text of a domain error.
func Message(err error) string {
	for _, known := range []error{
		models.ErrSessionNotLive, models.ErrAlreadyLive, models.ErrNotLive,
		models.ErrAlreadyAnswered, models.ErrPollClosed, models.ErrAlreadyClosed,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
