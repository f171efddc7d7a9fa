package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	userKey    = "auth.user"
)

// AnonymousUser is the acting user when authentication is disabled.
const AnonymousUser = "api"

// APIKeyMiddleware validates the X-API-Key header against keys, a map of API
// key to the user recorded on registry events. An empty map disables
// authentication.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Set(userKey, AnonymousUser)
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		user, ok := lookup(keys, provided)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// lookup compares provided against every key in constant time.
func lookup(keys map[string]string, provided string) (string, bool) {
	var user string
	found := false
	for key, u := range keys {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
			user, found = u, true
		}
	}
	if found && user == "" {
		user = AnonymousUser
	}
	return user, found
}

// User returns the acting user set by APIKeyMiddleware.
func User(c *gin.Context) string {
	if u := c.GetString(userKey); u != "" {
		return u
	}
	return AnonymousUser
}
