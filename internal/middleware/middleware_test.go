package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/classlive/backend/internal/auth"
	"github.com/classlive/backend/internal/roster"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.NewNop()), CORS("http://localhost:3000"))
	authed := r.Group("/", JWT(jwtService))
	authed.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":   c.MustGet(ContextUserID).(uuid.UUID),
			"role": c.GetString(ContextUserRole),
		})
	})
	authed.POST("/start", RequireRole(roster.RoleInstructor), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func serve(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)

	w := serve(r, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/me", "bogus")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := svc.Generate(uuid.New(), roster.RoleStudent)
	require.NoError(t, err)
	w = serve(r, http.MethodGet, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"student"`)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)

	student, err := svc.Generate(uuid.New(), roster.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/start", student).Code)

	instructor, err := svc.Generate(uuid.New(), roster.RoleInstructor)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/start", instructor).Code)
}

func TestCORS_Preflight(t *testing.T) {
	r := newRouter(auth.NewJWTService("secret", 1))
	w := serve(r, http.MethodOptions, "/me", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/busy", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	serve(r, http.MethodGet, "/ok", "")
	serve(r, http.MethodGet, "/busy", "")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "/busy", entries[1].ContextMap()["path"])
}

func TestCORS_UnknownOriginGetsNoHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("https://class.example.com"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
