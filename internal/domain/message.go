package domain

import "time"

// ChatMessage es un mensaje de chat de una sala. ID es nil mientras el mensaje
// solo vive en el buffer temporal.
type ChatMessage struct {
	ID        *int64    `json:"id,omitempty"`
	RoomID    int64     `json:"room_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	IsRead    *bool     `json:"is_read"`
	Timestamp time.Time `json:"timestamp"`
}

// Staged indica si el mensaje todavía no fue persistido.
func (m ChatMessage) Staged() bool {
	return m.ID == nil
}

// BufferedMessage es el valor que se guarda en el buffer antes del flush.
type BufferedMessage struct {
	RoomID    int64     `json:"room_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ToChatMessage convierte el registro temporal en la vista sin identidad.
func (b BufferedMessage) ToChatMessage() ChatMessage {
	return ChatMessage{
		RoomID:    b.RoomID,
		Sender:    b.Sender,
		Content:   b.Content,
		Timestamp: b.Timestamp,
	}
}
