package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roomit/internal/relay"
	"roomit/internal/service"
)

const roomFlushTimeout = 30 * time.Second

// ChatHandler expone el chat por HTTP y por websocket.
type ChatHandler struct {
	logger  *zap.Logger
	chat    *service.ChatService
	broker  *relay.Broker
	viewers *roomViewers
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
// broker es el fan-out local del que leen los websockets de cada sala.
func NewChatHandler(logger *zap.Logger, chat *service.ChatService, broker *relay.Broker) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		logger:  logger,
		chat:    chat,
		broker:  broker,
		viewers: newRoomViewers(),
	}
}

// PostMessage maneja POST /chat/rooms/:roomId/messages.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	roomID, ok := int64Param(c, "roomId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var req struct {
		Content   string    `json:"content" binding:"required"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), service.SendMessageInput{
		RoomID:    roomID,
		Sender:    claims.DisplayName(),
		Content:   req.Content,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		if errors.Is(err, service.ErrChatInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if errors.Is(err, service.ErrChatRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		h.logger.Error("send chat message failed", zap.Int64("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

// GetMessages maneja GET /chat/rooms/:roomId/messages.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	roomID, ok := int64Param(c, "roomId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	messages, err := h.chat.GetMessages(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("get chat messages failed", zap.Int64("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Flush maneja POST /chat/rooms/:roomId/flush.
func (h *ChatHandler) Flush(c *gin.Context) {
	roomID, ok := int64Param(c, "roomId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	res, err := h.chat.FlushToStore(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "result": res})
			return
		}
		h.logger.Error("chat flush failed", zap.Int64("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "flush incomplete", "result": res})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": res})
}

// flushRoom persiste la sala cuando se fue su último viewer. Corre fuera del request.
func (h *ChatHandler) flushRoom(roomID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), roomFlushTimeout)
	defer cancel()

	res, err := h.chat.FlushToStore(ctx, roomID)
	if err != nil {
		h.logger.Warn("room exit flush failed",
			zap.Int64("room_id", roomID),
			zap.Int("flushed", res.Flushed),
			zap.Int("failed", res.Failed),
			zap.Error(err),
		)
		return
	}
	if res.Flushed > 0 {
		h.logger.Info("room exit flush finished", zap.Int64("room_id", roomID), zap.Int("flushed", res.Flushed))
	}
}

// roomViewers cuenta los websockets abiertos por sala.
type roomViewers struct {
	mu     sync.Mutex
	counts map[int64]int
}

func newRoomViewers() *roomViewers {
	return &roomViewers{counts: make(map[int64]int)}
}

func (v *roomViewers) join(roomID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[roomID]++
}

// leave devuelve true si era el último viewer de la sala.
func (v *roomViewers) leave(roomID int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[roomID]--
	if v.counts[roomID] > 0 {
		return false
	}
	delete(v.counts, roomID)
	return true
}

func (v *roomViewers) count(roomID int64) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counts[roomID]
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
