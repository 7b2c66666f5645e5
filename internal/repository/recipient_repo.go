package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomit/internal/domain"
)

// BusinessRepository expone solo lo que necesitan las notificaciones: existencia del negocio.
type BusinessRepository interface {
	GetByID(ctx context.Context, id int64) (domain.Business, error)
}

// MemberRepository expone la existencia del miembro.
type MemberRepository interface {
	GetByID(ctx context.Context, id int64) (domain.Member, error)
}

type PgBusinessRepository struct {
	pool *pgxpool.Pool
}

func NewPgBusinessRepository(pool *pgxpool.Pool) *PgBusinessRepository {
	return &PgBusinessRepository{pool: pool}
}

func (r *PgBusinessRepository) GetByID(ctx context.Context, id int64) (domain.Business, error) {
	const query = `
		SELECT business_id, business_name
		FROM business
		WHERE business_id = $1
	`
	var b domain.Business
	err := r.pool.QueryRow(ctx, query, id).Scan(&b.ID, &b.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Business{}, err
	}
	return b, err
}

type PgMemberRepository struct {
	pool *pgxpool.Pool
}

func NewPgMemberRepository(pool *pgxpool.Pool) *PgMemberRepository {
	return &PgMemberRepository{pool: pool}
}

func (r *PgMemberRepository) GetByID(ctx context.Context, id int64) (domain.Member, error) {
	const query = `
		SELECT member_id, member_nickname
		FROM member
		WHERE member_id = $1
	`
	var m domain.Member
	err := r.pool.QueryRow(ctx, query, id).Scan(&m.ID, &m.Nickname)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Member{}, err
	}
	return m, err
}
