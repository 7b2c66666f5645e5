package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomit/internal/domain"
)

// NotificationRepository agrupa la persistencia de las tres variantes de notificación.
// Los registros son inmutables: solo se insertan y se listan.
type NotificationRepository interface {
	CreateReview(ctx context.Context, n domain.ReviewNotification) (domain.ReviewNotification, error)
	CreateReservation(ctx context.Context, n domain.ReservationNotification) (domain.ReservationNotification, error)
	CreateMember(ctx context.Context, n domain.MemberNotification) (domain.MemberNotification, error)
	ListReviewsByBusinessID(ctx context.Context, businessID int64) ([]domain.ReviewNotification, error)
	ListReservationsByBusinessID(ctx context.Context, businessID int64) ([]domain.ReservationNotification, error)
	ListByMemberID(ctx context.Context, memberID int64) ([]domain.MemberNotification, error)
}

type PgNotificationRepository struct {
	pool *pgxpool.Pool
}

func NewPgNotificationRepository(pool *pgxpool.Pool) *PgNotificationRepository {
	return &PgNotificationRepository{pool: pool}
}

func (r *PgNotificationRepository) CreateReview(ctx context.Context, n domain.ReviewNotification) (domain.ReviewNotification, error) {
	const query = `
		INSERT INTO review_notifications (business_id, content, notification_type, workplace_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		n.BusinessID,
		n.Content,
		string(n.Type),
		n.WorkplaceID,
		n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return domain.ReviewNotification{}, err
	}
	return n, nil
}

func (r *PgNotificationRepository) CreateReservation(ctx context.Context, n domain.ReservationNotification) (domain.ReservationNotification, error) {
	const query = `
		INSERT INTO reservation_notifications (
			business_id, content, notification_type, price, workplace_id,
			workplace_name, reservation_name, study_room_name, url, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		n.BusinessID,
		n.Content,
		string(n.Type),
		n.Price,
		n.WorkplaceID,
		n.WorkplaceName,
		n.ReservationName,
		n.StudyRoomName,
		n.URL,
		n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return domain.ReservationNotification{}, err
	}
	return n, nil
}

func (r *PgNotificationRepository) CreateMember(ctx context.Context, n domain.MemberNotification) (domain.MemberNotification, error) {
	const query = `
		INSERT INTO member_notifications (
			member_id, content, notification_type, price, workplace_id,
			workplace_name, study_room_name, image_url, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		n.MemberID,
		n.Content,
		string(n.Type),
		n.Price,
		n.WorkplaceID,
		n.WorkplaceName,
		n.StudyRoomName,
		n.ImageURL,
		n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return domain.MemberNotification{}, err
	}
	return n, nil
}

func (r *PgNotificationRepository) ListReviewsByBusinessID(ctx context.Context, businessID int64) ([]domain.ReviewNotification, error) {
	const query = `
		SELECT id, business_id, content, notification_type, workplace_id, created_at
		FROM review_notifications
		WHERE business_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReviewNotification
	for rows.Next() {
		var n domain.ReviewNotification
		var kind string
		if err := rows.Scan(&n.ID, &n.BusinessID, &n.Content, &kind, &n.WorkplaceID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = domain.NotificationType(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PgNotificationRepository) ListReservationsByBusinessID(ctx context.Context, businessID int64) ([]domain.ReservationNotification, error) {
	const query = `
		SELECT id, business_id, content, notification_type, price, workplace_id,
		       workplace_name, reservation_name, study_room_name, url, created_at
		FROM reservation_notifications
		WHERE business_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReservationNotification
	for rows.Next() {
		var n domain.ReservationNotification
		var kind string
		err := rows.Scan(
			&n.ID,
			&n.BusinessID,
			&n.Content,
			&kind,
			&n.Price,
			&n.WorkplaceID,
			&n.WorkplaceName,
			&n.ReservationName,
			&n.StudyRoomName,
			&n.URL,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		n.Type = domain.NotificationType(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PgNotificationRepository) ListByMemberID(ctx context.Context, memberID int64) ([]domain.MemberNotification, error) {
	const query = `
		SELECT id, member_id, content, notification_type, price, workplace_id,
		       workplace_name, study_room_name, image_url, created_at
		FROM member_notifications
		WHERE member_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MemberNotification
	for rows.Next() {
		var n domain.MemberNotification
		var kind string
		err := rows.Scan(
			&n.ID,
			&n.MemberID,
			&n.Content,
			&kind,
			&n.Price,
			&n.WorkplaceID,
			&n.WorkplaceName,
			&n.StudyRoomName,
			&n.ImageURL,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		n.Type = domain.NotificationType(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}
