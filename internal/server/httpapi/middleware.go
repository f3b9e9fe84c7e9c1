package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/secfiles/filevault/internal/server/auth"
	"github.com/secfiles/filevault/internal/server/services"
)

const actorKey = "actor"

// identityMiddleware verifies the bearer token and stores the actor on the
// gin context. Requests without a valid token never reach a handler.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, role, err := auth.ParseToken(token, s.jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(actorKey, services.Actor{ID: userID, Role: role})
		c.Next()
	}
}

func currentActor(c *gin.Context) services.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(services.Actor)
	return actor
}
