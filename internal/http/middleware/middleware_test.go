package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthOrAutoComplete(t *testing.T) {
	tokens := service.NewTokenManager("middleware-test-secret-middleware-test", time.Hour)
	r := gin.New()
	r.POST("/complete", AuthOrAutoComplete(tokens, "shared-secret"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"auto": c.GetBool(ContextAutoCompleteKey),
			"role": c.GetString(ContextRoleKey),
		})
	})

	req := httptest.NewRequest(http.MethodPost, "/complete", nil)
	req.Header.Set(HeaderAutoCompleteToken, "shared-secret")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"auto":true,"role":""}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/complete", nil)
	req.Header.Set(HeaderAutoCompleteToken, "shared-secreT")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	token, _, err := tokens.GenerateAccess(uuid.New(), models.RoleBuyer)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/complete", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"auto":false,"role":"buyer"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/complete", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestAuthOrAutoComplete_DisabledWithoutToken(t *testing.T) {
	tokens := service.NewTokenManager("middleware-test-secret-middleware-test", time.Hour)
	r := gin.New()
	r.POST("/complete", AuthOrAutoComplete(tokens, ""), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/complete", nil)
	req.Header.Set(HeaderAutoCompleteToken, "anything")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestRequireAdmin(t *testing.T) {
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) {
		c.Set(ContextRoleKey, c.Query("role"))
		c.Next()
	}, RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/admin?role=admin", nil)).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, httptest.NewRequest(http.MethodGet, "/admin?role=provider", nil)).Code)
}

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/state", func(c *gin.Context) { _ = c.Error(apperror.EscrowNotElapsed(90)) })
	r.GET("/gateway", func(c *gin.Context) { _ = c.Error(apperror.Gateway(errors.New("dial tcp: timeout"), "платёжный шлюз недоступен")) })
	r.GET("/internal", func(c *gin.Context) { _ = c.Error(errors.New("pq: connection refused")) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"secondsRemaining":90`)
	assert.Contains(t, w.Body.String(), `"code":"ESCROW_NOT_ELAPSED"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/gateway", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "платёжный шлюз недоступен")
	assert.NotContains(t, w.Body.String(), "dial tcp")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/internal", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
}

func TestUUIDValidator(t *testing.T) {
	r := gin.New()
	r.GET("/jobs/:id", UUIDValidator("id"), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, httptest.NewRequest(http.MethodGet, "/jobs/42", nil)).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.POST("/payments/withdraw", RateLimitMiddleware(nil, 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/payments/withdraw", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := serve(r, httptest.NewRequest(http.MethodPost, "/payments/withdraw", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:3000"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
