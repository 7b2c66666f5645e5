package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"roomit/internal/domain"
	"roomit/internal/service"
)

const (
	authClaimsKey   = "auth_claims"
	tokenQueryParam = "access_token"
)

// JWTAuthMiddleware valida JWT access tokens y guarda claims en el contexto.
// EventSource y WebSocket no permiten headers propios, así que también se acepta ?access_token=.
func JWTAuthMiddleware(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured"})
			c.Abort()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := jwtSvc.ParseAccessToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			return "", false
		}
		token := strings.TrimSpace(header[len("Bearer "):])
		return token, token != ""
	}
	token := strings.TrimSpace(c.Query(tokenQueryParam))
	return token, token != ""
}

// GetAuthClaims obtiene claims de JWT desde el contexto.
func GetAuthClaims(c *gin.Context) (service.Claims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return service.Claims{}, false
	}
	claims, ok := val.(service.Claims)
	return claims, ok
}

// authRecipient devuelve el destinatario del llamador autenticado.
func authRecipient(c *gin.Context) (domain.Recipient, bool) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		return domain.Recipient{}, false
	}
	return claims.Recipient()
}

// requireRole corta el request si el llamador no tiene el rol pedido.
func requireRole(role domain.RecipientRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		recipient, ok := authRecipient(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		if recipient.Role != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}
