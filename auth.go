package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"journal-desk/identity"
	"journal-desk/models"
)

const actorKey = "actorID"

// Claims des Bearer-Tokens. Die Rolle wird nicht aus dem Token gelesen,
// sondern bei jeder Anfrage über den RoleProvider aufgelöst.
type Claims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

// authMiddleware prüft das JWT und legt die Akteur-ID im Kontext ab.
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.UserID == models.SystemActorID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(actorKey, claims.UserID)
		c.Next()
	}
}

// requireRole lässt nur die angegebenen Rollen durch. Admin gilt als Editor.
func requireRole(roles identity.RoleProvider, allowed ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := roles.RoleOf(c.Request.Context(), actor(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Role not found"})
			return
		}
		for _, r := range allowed {
			if role == r || (r == models.RoleEditor && role == models.RoleAdmin) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

func actor(c *gin.Context) uint {
	return c.GetUint(actorKey)
}
