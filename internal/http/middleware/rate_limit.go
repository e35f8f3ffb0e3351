package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/ignatzorin/servicedesk-backend/internal/logger"
)

const (
	defaultRateLimit  = 10
	defaultRatePeriod = time.Minute
)

// RateLimitMiddleware ограничивает число запросов с одного IP к одному маршруту.
// Без store счётчики живут в памяти процесса, с Redis общие для всех реплик.
func RateLimitMiddleware(store limiter.Store, limit int64, period time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if period <= 0 {
		period = defaultRatePeriod
	}
	if store == nil {
		store = memory.NewStore()
	}
	instance := limiter.New(store, limiter.Rate{Period: period, Limit: limit})
	log := logger.Component("ratelimit")

	return func(c *gin.Context) {
		state, err := instance.Get(c, rateLimitKey(c))
		if err != nil {
			// хранилище недоступно, запрос пропускаем
			log.WithError(err).Warn("лимитер недоступен")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(state.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(state.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(state.Reset, 10))

		if state.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "слишком много запросов, попробуйте позже"})
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	return c.ClientIP() + ":" + c.FullPath()
}
