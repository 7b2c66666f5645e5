package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roomit/internal/domain"
	"roomit/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	chatH *ChatHandler,
	notificationH *NotificationHandler,
	healthH *HealthHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", healthH.Healthz)

	auth := JWTAuthMiddleware(jwtSvc)

	chat := r.Group("/chat/rooms/:roomId", auth)
	chat.POST("/messages", chatH.PostMessage)
	chat.GET("/messages", chatH.GetMessages)
	chat.POST("/flush", chatH.Flush)

	r.GET("/ws/chat/rooms/:roomId", auth, chatH.ServeWS)

	notifications := r.Group("/notifications", auth)
	notifications.GET("/subscribe", notificationH.Subscribe)
	notifications.GET("/business/reviews", requireRole(domain.RecipientBusiness), notificationH.ListReviews)
	notifications.GET("/business/reservations", requireRole(domain.RecipientBusiness), notificationH.ListReservations)
	notifications.GET("/member", requireRole(domain.RecipientMember), notificationH.ListMember)

	// Las usan los servicios de reseñas y reservas dentro de la red interna.
	internal := r.Group("/internal/notifications")
	internal.POST("/business/:businessId/review", notificationH.NotifyReview)
	internal.POST("/business/:businessId/reservation", notificationH.NotifyBusinessReservation)
	internal.POST("/member/:memberId/reservation", notificationH.NotifyMemberReservation)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
// El stream SSE lo pisa antes de escribir.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
