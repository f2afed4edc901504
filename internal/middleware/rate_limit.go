package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/nftbatch/internal/metrics"
	"github.com/osvaldoandrade/nftbatch/internal/ratelimit"
	"github.com/osvaldoandrade/nftbatch/internal/web"
	"github.com/osvaldoandrade/nftbatch/pkg/config"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"
)

// ViewLoader reads the current session view for re-rendering the page.
type ViewLoader interface {
	Current(ctx context.Context, sessionID string) (domain.View, error)
}

// RateLimitSubmit bounds status queries per browser session and answers 429
// with a JSON body. It must run after SessionMiddleware.
func RateLimitSubmit(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitSession(lim, "session", "submit", cfg.RateLimit.Submit, rejectJSON)
}

// RateLimitSubmitForm shares the submit budget with RateLimitSubmit but
// re-renders the page with an error line when the client accepts HTML.
func RateLimitSubmitForm(lim ratelimit.Limiter, cfg *config.Config, views ViewLoader) gin.HandlerFunc {
	return rateLimitSession(lim, "session", "submit", cfg.RateLimit.Submit, func(c *gin.Context, scope, operation string, retryAfter int) {
		if c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) != gin.MIMEHTML {
			rejectJSON(c, scope, operation, retryAfter)
			return
		}
		var view domain.View
		if views != nil {
			v, err := views.Current(c.Request.Context(), SessionID(c))
			if err != nil {
				Logger(c).Error("load session view failed", "err", err)
			}
			view = v
		}
		view.Error = rateLimitedMessage(retryAfter)
		c.Abort()
		c.HTML(http.StatusTooManyRequests, web.IndexTemplate, web.NewPage(view, c.PostForm("address")))
	})
}

type rejectFunc func(c *gin.Context, scope, operation string, retryAfter int)

func rejectJSON(c *gin.Context, scope, operation string, retryAfter int) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":             "rate limit exceeded",
		"scope":             scope,
		"operation":         operation,
		"retryAfterSeconds": retryAfter,
	})
}

func rateLimitedMessage(retryAfter int) string {
	return fmt.Sprintf("Too many submissions. Please retry in %d seconds.", retryAfter)
}

func rateLimitSession(lim ratelimit.Limiter, scope string, operation string, bucket ratelimit.Bucket, reject rejectFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		subject := ratelimit.Subject(SessionID(c), c.ClientIP())
		dec, err := lim.Allow(c.Request.Context(), operation, subject, bucket)
		if err != nil {
			// Fail open: a Redis outage must not block submissions.
			Logger(c).Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			c.Next()
			return
		}

		retryAfter := dec.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		reject(c, scope, operation, retryAfter)
	}
}
