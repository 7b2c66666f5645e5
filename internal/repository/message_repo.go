package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomit/internal/domain"
)

// ChatMessageRepository define la persistencia durable de mensajes de chat.
type ChatMessageRepository interface {
	Create(ctx context.Context, message domain.ChatMessage) (int64, error)
	ListByRoomID(ctx context.Context, roomID int64) ([]domain.ChatMessage, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PgChatMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgChatMessageRepository(pool *pgxpool.Pool) *PgChatMessageRepository {
	return &PgChatMessageRepository{pool: pool}
}

func (r *PgChatMessageRepository) Create(ctx context.Context, message domain.ChatMessage) (int64, error) {
	const query = `
		INSERT INTO chat_messages (room_id, sender, content, is_read, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		message.RoomID,
		message.Sender,
		message.Content,
		message.IsRead,
		message.Timestamp,
	).Scan(&id)
	return id, err
}

func (r *PgChatMessageRepository) ListByRoomID(ctx context.Context, roomID int64) ([]domain.ChatMessage, error) {
	const query = `
		SELECT id, room_id, sender, content, is_read, timestamp
		FROM chat_messages
		WHERE room_id = $1
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var id int64

		err = rows.Scan(
			&id,
			&msg.RoomID,
			&msg.Sender,
			&msg.Content,
			&msg.IsRead,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		msg.ID = &id
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// DeleteBefore borra los mensajes con timestamp anterior al corte y devuelve cuántos eliminó.
func (r *PgChatMessageRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM chat_messages WHERE timestamp < $1`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
