package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"peer_chat/pkg/jwt"
	"peer_chat/pkg/logger"
)

const contextUserID = "user_id"

// AuthMiddleware validates bearer tokens issued by the external auth service.
// The token subject is the chat user id.
type AuthMiddleware struct {
	jwtSecret string
	issuer    string
	required  bool
	log       logger.Logger
}

func NewAuthMiddleware(jwtSecret, issuer string, required bool, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
		issuer:    issuer,
		required:  required,
		log:       log,
	}
}

// Authenticate stores the token's user in the context. Without a required
// token, requests that carry none pass through anonymously.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			if m.required {
				m.log.Warn("Missing Authorization header", "path", c.FullPath())
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
				c.Abort()
				return
			}
			c.Next()
			return
		}

		claims, err := jwt.ValidateToken(tokenString, m.jwtSecret)
		if err != nil {
			m.log.Warn("Token validation failed", "error", err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		if m.issuer != "" && claims.Issuer != m.issuer {
			m.log.Warn("Token issuer mismatch", "issuer", claims.Issuer)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		m.log.Debug("Token validated successfully", "user_id", claims.UserID)
		c.Set(contextUserID, claims.UserID)
		c.Next()
	}
}

// bearerToken reads the Authorization header, or the token query parameter
// for WebSocket upgrades where browsers cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query("token")
		return token, token != ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthenticatedUser returns the user id set by Authenticate.
func AuthenticatedUser(c *gin.Context) (string, bool) {
	userID := c.GetString(contextUserID)
	return userID, userID != ""
}

// ActingUser resolves who performs the request. claimed is the id the client
// named in the path, query or body. With a token, claimed must be empty or
// match the token subject; without one, claimed is taken as is.
func ActingUser(c *gin.Context, claimed string) (string, bool) {
	claimed = strings.TrimSpace(claimed)
	authenticated, ok := AuthenticatedUser(c)
	if !ok {
		return claimed, claimed != ""
	}
	if claimed != "" && claimed != authenticated {
		return "", false
	}
	return authenticated, true
}
