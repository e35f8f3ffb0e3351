package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/jobs/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/jobs/:id", "204"))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+url.PathEscape(time.Now().String()), nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/jobs/:id", "204"))
	assert.Equal(t, float64(3), after-before)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(escrowReleasesTotal.WithLabelValues("sweep", ReleaseReleased))
	RecordRelease("sweep", ReleaseReleased, time.Now())
	assert.Equal(t, float64(1), testutil.ToFloat64(escrowReleasesTotal.WithLabelValues("sweep", ReleaseReleased))-before)

	beforeErr := testutil.ToFloat64(webhookEventsTotal.WithLabelValues("CAPTURE_DENIED", "error"))
	RecordWebhook("CAPTURE_DENIED", errors.New("boom"))
	assert.Equal(t, float64(1), testutil.ToFloat64(webhookEventsTotal.WithLabelValues("CAPTURE_DENIED", "error"))-beforeErr)

	SetArmedTimers(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(schedulerArmedTimers))
}
