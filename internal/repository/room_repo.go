package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomit/internal/domain"
)

type ChatRoomRepository interface {
	GetByID(ctx context.Context, id int64) (domain.ChatRoom, error)
}

type PgChatRoomRepository struct {
	pool *pgxpool.Pool
}

func NewPgChatRoomRepository(pool *pgxpool.Pool) *PgChatRoomRepository {
	return &PgChatRoomRepository{pool: pool}
}

func (r *PgChatRoomRepository) GetByID(ctx context.Context, id int64) (domain.ChatRoom, error) {
	const query = `
		SELECT id, name, created_at
		FROM chat_rooms
		WHERE id = $1
	`
	var room domain.ChatRoom
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatRoom{}, err
	}
	return room, err
}
