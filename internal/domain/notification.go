package domain

import "time"

type NotificationType string

const (
	NotificationReview              NotificationType = "REVIEW"
	NotificationReservationBusiness NotificationType = "RESERVATION_BUSINESS"
	NotificationReservationMember   NotificationType = "RESERVATION_MEMBER"
)

// Notification es el conjunto cerrado de variantes de notificación.
// Cada variante tiene una forma fija; el despacho se hace por Kind.
type Notification interface {
	Kind() NotificationType
	Recipient() Recipient
	NotificationID() int64
	Created() time.Time
	notification()
}

// ReviewNotification avisa a un negocio de una nueva reseña.
type ReviewNotification struct {
	ID          int64            `json:"id"`
	BusinessID  int64            `json:"business_id"`
	Content     string           `json:"content"`
	Type        NotificationType `json:"notification_type"`
	WorkplaceID *int64           `json:"workplace_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (n ReviewNotification) Kind() NotificationType { return NotificationReview }
func (n ReviewNotification) Recipient() Recipient   { return BusinessRecipient(n.BusinessID) }
func (n ReviewNotification) NotificationID() int64  { return n.ID }
func (n ReviewNotification) Created() time.Time     { return n.CreatedAt }
func (ReviewNotification) notification()            {}

// ReservationNotification avisa a un negocio de una reserva en uno de sus espacios.
type ReservationNotification struct {
	ID              int64            `json:"id"`
	BusinessID      int64            `json:"business_id"`
	Content         string           `json:"content"`
	Type            NotificationType `json:"notification_type"`
	Price           *int64           `json:"price,omitempty"`
	WorkplaceID     *int64           `json:"workplace_id,omitempty"`
	WorkplaceName   string           `json:"workplace_name,omitempty"`
	ReservationName string           `json:"reservation_name,omitempty"`
	StudyRoomName   string           `json:"study_room_name,omitempty"`
	URL             string           `json:"url,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (n ReservationNotification) Kind() NotificationType { return NotificationReservationBusiness }
func (n ReservationNotification) Recipient() Recipient   { return BusinessRecipient(n.BusinessID) }
func (n ReservationNotification) NotificationID() int64  { return n.ID }
func (n ReservationNotification) Created() time.Time     { return n.CreatedAt }
func (ReservationNotification) notification()            {}

// MemberNotification avisa a un miembro sobre su reserva. Lleva imagen en lugar de URL.
type MemberNotification struct {
	ID            int64            `json:"id"`
	MemberID      int64            `json:"member_id"`
	Content       string           `json:"content"`
	Type          NotificationType `json:"notification_type"`
	Price         *int64           `json:"price,omitempty"`
	WorkplaceID   *int64           `json:"workplace_id,omitempty"`
	WorkplaceName string           `json:"workplace_name,omitempty"`
	StudyRoomName string           `json:"study_room_name,omitempty"`
	ImageURL      string           `json:"image_url,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (n MemberNotification) Kind() NotificationType { return NotificationReservationMember }
func (n MemberNotification) Recipient() Recipient   { return MemberRecipient(n.MemberID) }
func (n MemberNotification) NotificationID() int64  { return n.ID }
func (n MemberNotification) Created() time.Time     { return n.CreatedAt }
func (MemberNotification) notification()            {}
