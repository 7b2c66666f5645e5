package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomit/internal/relay"
	"roomit/internal/service"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// inboundFrame es lo que manda un viewer. Un frame que no es JSON se toma como texto plano.
type inboundFrame struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// roomViewer es un websocket suscripto al topic de una sala.
type roomViewer struct {
	handler *ChatHandler
	conn    *websocket.Conn
	sub     *relay.Subscription
	roomID  int64
	sender  string
}

// ServeWS maneja GET /ws/chat/rooms/:roomId. Bloquea mientras el viewer siga conectado.
func (h *ChatHandler) ServeWS(c *gin.Context) {
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
	if h.broker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay not configured"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}

	viewer := &roomViewer{
		handler: h,
		conn:    conn,
		sub:     h.broker.Subscribe(relay.RoomTopic(roomID)),
		roomID:  roomID,
		sender:  claims.DisplayName(),
	}
	h.viewers.join(roomID)
	h.logger.Info("room viewer joined", zap.Int64("room_id", roomID), zap.String("sender", viewer.sender))

	go viewer.writePump()
	viewer.readPump(c.Request.Context())
}

func (v *roomViewer) readPump(ctx context.Context) {
	h := v.handler
	defer func() {
		v.sub.Close()
		_ = v.conn.Close()
		h.logger.Info("room viewer left", zap.Int64("room_id", v.roomID), zap.String("sender", v.sender))
		if h.viewers.leave(v.roomID) {
			go h.flushRoom(v.roomID)
		}
	}()

	v.conn.SetReadLimit(wsMaxMessageSize)
	_ = v.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := v.conn.ReadMessage()
		if err != nil {
			// un error de lectura termina el loop y dispara la limpieza.
			return
		}
		frame := decodeFrame(payload)
		if frame.Content == "" {
			continue
		}
		if _, err := h.chat.SendMessage(ctx, service.SendMessageInput{
			RoomID:    v.roomID,
			Sender:    v.sender,
			Content:   frame.Content,
			Timestamp: frame.Timestamp,
		}); err != nil {
			h.logger.Warn("websocket send failed", zap.Int64("room_id", v.roomID), zap.Error(err))
		}
	}
}

func (v *roomViewer) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = v.conn.Close()
	}()
	for {
		select {
		case message, ok := <-v.sub.C():
			_ = v.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// el broker cerró la suscripción: viewer lento o fin de la sala.
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decodeFrame(payload []byte) inboundFrame {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		frame = inboundFrame{Content: string(payload)}
	}
	frame.Content = strings.TrimSpace(frame.Content)
	return frame
}
