package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sessionIDKey = "session_id"

// SessionMiddleware gives every browser a random session id cookie. The id
// only keys the stored view; it carries no identity.
func SessionMiddleware(cookieName string, ttl time.Duration, secure bool) gin.HandlerFunc {
	if cookieName == "" {
		cookieName = "nftbatch_session"
	}
	maxAge := int(ttl.Seconds())
	return func(c *gin.Context) {
		sid, err := c.Cookie(cookieName)
		if err != nil || !validSessionID(sid) {
			sid = uuid.NewString()
		}
		// Refresh on every request so the cookie outlives active sessions.
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     cookieName,
			Value:    sid,
			Path:     "/",
			MaxAge:   maxAge,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
		c.Set(sessionIDKey, sid)
		c.Next()
	}
}

// SessionID returns the id set by SessionMiddleware or "".
func SessionID(c *gin.Context) string {
	return c.GetString(sessionIDKey)
}

func validSessionID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
