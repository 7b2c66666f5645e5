package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roomit/internal/service"
	"roomit/internal/stream"
)

const lastEventIDHeader = "Last-Event-ID"

// NotificationHandler expone el stream SSE, los listados y los endpoints internos de disparo.
type NotificationHandler struct {
	logger        *zap.Logger
	notifications *service.NotificationService
}

func NewNotificationHandler(logger *zap.Logger, notifications *service.NotificationService) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{logger: logger, notifications: notifications}
}

// Subscribe maneja GET /notifications/subscribe. Mantiene la conexión abierta hasta que
// el cliente se va, vence el timeout o una nueva suscripción la reemplaza.
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	recipient, ok := authRecipient(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	lastEventID := strings.TrimSpace(c.GetHeader(lastEventIDHeader))
	if lastEventID == "" {
		lastEventID = strings.TrimSpace(c.Query("lastEventId"))
	}

	emitter, err := h.notifications.Subscribe(c.Request.Context(), recipient, lastEventID)
	if err != nil {
		if errors.Is(err, service.ErrNotificationInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient"})
			return
		}
		h.logger.Error("sse subscribe failed", zap.Stringer("recipient", recipient), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not subscribe"})
		return
	}

	err = emitter.Serve(c.Request.Context(), newSSEWriter(c.Writer))
	if err != nil && !errors.Is(err, stream.ErrEmitterTimeout) {
		h.logger.Debug("sse stream ended", zap.Stringer("recipient", recipient), zap.Error(err))
	}
}

// ListReviews maneja GET /notifications/business/reviews.
func (h *NotificationHandler) ListReviews(c *gin.Context) {
	recipient, _ := authRecipient(c)
	out, err := h.notifications.ListReviewNotifications(c.Request.Context(), recipient.ID)
	if err != nil {
		h.logger.Error("list review notifications failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

// ListReservations maneja GET /notifications/business/reservations.
func (h *NotificationHandler) ListReservations(c *gin.Context) {
	recipient, _ := authRecipient(c)
	out, err := h.notifications.ListReservationNotifications(c.Request.Context(), recipient.ID)
	if err != nil {
		h.logger.Error("list reservation notifications failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

// ListMember maneja GET /notifications/member.
func (h *NotificationHandler) ListMember(c *gin.Context) {
	recipient, _ := authRecipient(c)
	out, err := h.notifications.ListMemberNotifications(c.Request.Context(), recipient.ID)
	if err != nil {
		h.logger.Error("list member notifications failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

// NotifyReview maneja POST /internal/notifications/business/:businessId/review.
func (h *NotificationHandler) NotifyReview(c *gin.Context) {
	businessID, ok := int64Param(c, "businessId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid business id"})
		return
	}
	var req struct {
		Content     string `json:"content" binding:"required"`
		WorkplaceID *int64 `json:"workplace_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid review notification request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	saved, err := h.notifications.NotifyReview(c.Request.Context(), businessID, service.ReviewInput{
		Content:     req.Content,
		WorkplaceID: req.WorkplaceID,
	})
	if err != nil {
		h.writeNotifyError(c, "review", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notification": saved})
}

// NotifyBusinessReservation maneja POST /internal/notifications/business/:businessId/reservation.
func (h *NotificationHandler) NotifyBusinessReservation(c *gin.Context) {
	businessID, ok := int64Param(c, "businessId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid business id"})
		return
	}
	var req struct {
		Content         string `json:"content" binding:"required"`
		Price           *int64 `json:"price"`
		WorkplaceID     *int64 `json:"workplace_id"`
		WorkplaceName   string `json:"workplace_name"`
		ReservationName string `json:"reservation_name"`
		StudyRoomName   string `json:"study_room_name"`
		URL             string `json:"url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reservation notification request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	saved, err := h.notifications.NotifyBusinessReservation(c.Request.Context(), businessID, service.ReservationInput{
		Content:         req.Content,
		Price:           req.Price,
		WorkplaceID:     req.WorkplaceID,
		WorkplaceName:   req.WorkplaceName,
		ReservationName: req.ReservationName,
		StudyRoomName:   req.StudyRoomName,
		URL:             req.URL,
	})
	if err != nil {
		h.writeNotifyError(c, "reservation", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notification": saved})
}

// NotifyMemberReservation maneja POST /internal/notifications/member/:memberId/reservation.
func (h *NotificationHandler) NotifyMemberReservation(c *gin.Context) {
	memberID, ok := int64Param(c, "memberId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}
	var req struct {
		Content       string `json:"content" binding:"required"`
		Price         *int64 `json:"price"`
		WorkplaceID   *int64 `json:"workplace_id"`
		WorkplaceName string `json:"workplace_name"`
		StudyRoomName string `json:"study_room_name"`
		ImageURL      string `json:"image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid member notification request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	saved, err := h.notifications.NotifyMemberReservation(c.Request.Context(), memberID, service.MemberReservationInput{
		Content:       req.Content,
		WorkplaceID:   req.WorkplaceID,
		WorkplaceName: req.WorkplaceName,
		StudyRoomName: req.StudyRoomName,
		ImageURL:      req.ImageURL,
	}, req.Price)
	if err != nil {
		h.writeNotifyError(c, "member reservation", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notification": saved})
}

func (h *NotificationHandler) writeNotifyError(c *gin.Context, kind string, err error) {
	switch {
	case errors.Is(err, service.ErrBusinessNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "business not found"})
	case errors.Is(err, service.ErrMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
	case errors.Is(err, service.ErrNotificationInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	default:
		h.logger.Error("notify failed", zap.String("kind", kind), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create notification"})
	}
}
