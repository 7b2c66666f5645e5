package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"roomit/internal/domain"
	"roomit/internal/repository"
	"roomit/internal/stream"
)

var (
	ErrNotificationServiceNotConfigured = errors.New("notification service not configured")
	ErrNotificationInvalidInput         = errors.New("notification invalid input")
	ErrBusinessNotFound                 = errors.New("business not found")
	ErrMemberNotFound                   = errors.New("member not found")
	ErrSubscribeFailed                  = errors.New("subscribe failed")
)

// NotificationService persiste notificaciones y las empuja a la conexión viva del
// destinatario cuando existe. Persistir y empujar son independientes: un push fallido
// nunca pierde el registro durable.
type NotificationService struct {
	logger        *zap.Logger
	registry      *stream.Registry
	notifications repository.NotificationRepository
	businesses    repository.BusinessRepository
	members       repository.MemberRepository
	timeout       time.Duration
	probeWait     time.Duration
	now           func() time.Time
}

// DefaultProbeWait acota cuánto espera el barrido la escritura de cada heartbeat.
const DefaultProbeWait = 5 * time.Second

func NewNotificationService(
	logger *zap.Logger,
	registry *stream.Registry,
	notifications repository.NotificationRepository,
	businesses repository.BusinessRepository,
	members repository.MemberRepository,
	timeout time.Duration,
) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = stream.DefaultTimeout
	}
	return &NotificationService{
		logger:        logger,
		registry:      registry,
		notifications: notifications,
		businesses:    businesses,
		members:       members,
		timeout:       timeout,
		probeWait:     DefaultProbeWait,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type ReviewInput struct {
	Content     string
	WorkplaceID *int64
}

type ReservationInput struct {
	Content         string
	Price           *int64
	WorkplaceID     *int64
	WorkplaceName   string
	ReservationName string
	StudyRoomName   string
	URL             string
}

type MemberReservationInput struct {
	Content       string
	WorkplaceID   *int64
	WorkplaceName string
	StudyRoomName string
	ImageURL      string
}

func (s *NotificationService) configured() bool {
	return s != nil && s.registry != nil && s.notifications != nil
}

// Subscribe abre la conexión del destinatario, reemplazando y cerrando la anterior si
// existía. Envía el handshake y reenvía los eventos cacheados posteriores a lastEventID.
func (s *NotificationService) Subscribe(_ context.Context, recipient domain.Recipient, lastEventID string) (*stream.Emitter, error) {
	if !s.configured() {
		return nil, ErrNotificationServiceNotConfigured
	}
	if !recipient.Valid() {
		return nil, ErrNotificationInvalidInput
	}

	emitter := stream.NewEmitter(recipient, s.timeout)
	logFields := []zap.Field{
		zap.Stringer("recipient", recipient),
		zap.String("emitter_id", emitter.ID()),
	}
	emitter.OnError(func(err error) {
		s.logger.Error("sse connection error", append(logFields, zap.Error(err))...)
		if s.registry.DeleteIf(recipient, emitter) && errors.Is(err, stream.ErrHeartbeatFailed) {
			s.registry.EvictCache(recipient)
		}
	})
	emitter.OnCompletion(func() {
		s.logger.Info("sse connection completed", logFields...)
		s.registry.DeleteIf(recipient, emitter)
	})
	emitter.OnTimeout(func() {
		s.logger.Warn("sse connection timeout", logFields...)
		s.registry.DeleteIf(recipient, emitter)
	})

	if prev := s.registry.Save(recipient, emitter); prev != nil {
		prev.Complete()
	}

	handshake := stream.Event{
		Name: stream.EventConnected,
		Data: map[string]string{"content": "connected!"},
	}
	if err := emitter.Send(handshake); err != nil {
		s.registry.DeleteIf(recipient, emitter)
		emitter.CompleteWithError(err)
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	for _, ev := range s.registry.CachedEventsAfter(recipient, lastEventID) {
		if err := emitter.Send(ev); err != nil {
			s.logger.Warn("sse replay interrupted", append(logFields, zap.Error(err))...)
			break
		}
	}

	s.logger.Info("sse connection opened", logFields...)
	return emitter, nil
}

// NotifyReview persiste y empuja la notificación de una nueva reseña al negocio.
func (s *NotificationService) NotifyReview(ctx context.Context, businessID int64, input ReviewInput) (domain.ReviewNotification, error) {
	if !s.configured() {
		return domain.ReviewNotification{}, ErrNotificationServiceNotConfigured
	}
	content := strings.TrimSpace(input.Content)
	if businessID <= 0 || content == "" {
		return domain.ReviewNotification{}, ErrNotificationInvalidInput
	}
	if err := s.ensureBusiness(ctx, businessID); err != nil {
		return domain.ReviewNotification{}, err
	}

	saved, err := s.notifications.CreateReview(ctx, domain.ReviewNotification{
		BusinessID:  businessID,
		Content:     content,
		Type:        domain.NotificationReview,
		WorkplaceID: input.WorkplaceID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.ReviewNotification{}, fmt.Errorf("persist review notification: %w", err)
	}

	s.deliver(saved)
	return saved, nil
}

// NotifyBusinessReservation persiste y empuja la notificación de reserva al negocio.
func (s *NotificationService) NotifyBusinessReservation(ctx context.Context, businessID int64, input ReservationInput) (domain.ReservationNotification, error) {
	if !s.configured() {
		return domain.ReservationNotification{}, ErrNotificationServiceNotConfigured
	}
	content := strings.TrimSpace(input.Content)
	if businessID <= 0 || content == "" {
		return domain.ReservationNotification{}, ErrNotificationInvalidInput
	}
	if err := s.ensureBusiness(ctx, businessID); err != nil {
		return domain.ReservationNotification{}, err
	}

	saved, err := s.notifications.CreateReservation(ctx, domain.ReservationNotification{
		BusinessID:      businessID,
		Content:         content,
		Type:            domain.NotificationReservationBusiness,
		Price:           input.Price,
		WorkplaceID:     input.WorkplaceID,
		WorkplaceName:   strings.TrimSpace(input.WorkplaceName),
		ReservationName: strings.TrimSpace(input.ReservationName),
		StudyRoomName:   strings.TrimSpace(input.StudyRoomName),
		URL:             strings.TrimSpace(input.URL),
		CreatedAt:       s.now(),
	})
	if err != nil {
		return domain.ReservationNotification{}, fmt.Errorf("persist reservation notification: %w", err)
	}

	s.deliver(saved)
	return saved, nil
}

// NotifyMemberReservation persiste y empuja la notificación de reserva al miembro.
func (s *NotificationService) NotifyMemberReservation(ctx context.Context, memberID int64, input MemberReservationInput, price *int64) (domain.MemberNotification, error) {
	if !s.configured() {
		return domain.MemberNotification{}, ErrNotificationServiceNotConfigured
	}
	content := strings.TrimSpace(input.Content)
	if memberID <= 0 || content == "" {
		return domain.MemberNotification{}, ErrNotificationInvalidInput
	}
	if err := s.ensureMember(ctx, memberID); err != nil {
		return domain.MemberNotification{}, err
	}

	saved, err := s.notifications.CreateMember(ctx, domain.MemberNotification{
		MemberID:      memberID,
		Content:       content,
		Type:          domain.NotificationReservationMember,
		Price:         price,
		WorkplaceID:   input.WorkplaceID,
		WorkplaceName: strings.TrimSpace(input.WorkplaceName),
		StudyRoomName: strings.TrimSpace(input.StudyRoomName),
		ImageURL:      strings.TrimSpace(input.ImageURL),
		CreatedAt:     s.now(),
	})
	if err != nil {
		return domain.MemberNotification{}, fmt.Errorf("persist member notification: %w", err)
	}

	s.deliver(saved)
	return saved, nil
}

func (s *NotificationService) ListReviewNotifications(ctx context.Context, businessID int64) ([]domain.ReviewNotification, error) {
	if !s.configured() {
		return nil, ErrNotificationServiceNotConfigured
	}
	out, err := s.notifications.ListReviewsByBusinessID(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ReviewNotification{}
	}
	return out, nil
}

func (s *NotificationService) ListReservationNotifications(ctx context.Context, businessID int64) ([]domain.ReservationNotification, error) {
	if !s.configured() {
		return nil, ErrNotificationServiceNotConfigured
	}
	out, err := s.notifications.ListReservationsByBusinessID(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ReservationNotification{}
	}
	return out, nil
}

func (s *NotificationService) ListMemberNotifications(ctx context.Context, memberID int64) ([]domain.MemberNotification, error) {
	if !s.configured() {
		return nil, ErrNotificationServiceNotConfigured
	}
	out, err := s.notifications.ListByMemberID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.MemberNotification{}
	}
	return out, nil
}

// Sweep manda un heartbeat a cada conexión de una copia del registro y espera su escritura.
// Las que fallan se desalojan junto con su cache; es lo único que recupera conexiones cuyo
// cierre no se notificó. Un heartbeat que no se escribe dentro de probeWait no cuenta como fallo.
func (s *NotificationService) Sweep(ctx context.Context) int {
	if !s.configured() {
		return 0
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.probeWait)
	defer cancel()

	var (
		wg      sync.WaitGroup
		evicted atomic.Int64
	)
	for recipient, emitter := range s.registry.ListAll() {
		recipient, emitter := recipient, emitter
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := emitter.Probe(probeCtx)
			if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return
			}
			// Las fallas de escritura ya pasaron por OnError; el resto se desaloja acá.
			if !errors.Is(err, stream.ErrHeartbeatFailed) && s.registry.DeleteIf(recipient, emitter) {
				s.registry.EvictCache(recipient)
			}
			emitter.CompleteWithError(err)
			evicted.Add(1)
			s.logger.Info("sse connection evicted",
				zap.Stringer("recipient", recipient),
				zap.String("emitter_id", emitter.ID()),
				zap.Error(err),
			)
		}()
	}
	wg.Wait()
	return int(evicted.Load())
}

// Shutdown cierra todas las conexiones vivas.
func (s *NotificationService) Shutdown() {
	if !s.configured() {
		return
	}
	closed := s.registry.CloseAll()
	s.logger.Info("sse connections closed", zap.Int("count", closed))
}

// deliver cachea el evento y lo empuja si el destinatario está conectado.
// Los fallos de entrega se registran y nunca llegan al llamador.
func (s *NotificationService) deliver(n domain.Notification) {
	if err := s.push(n); err != nil {
		s.logger.Warn("notification push failed",
			zap.Stringer("recipient", n.Recipient()),
			zap.Int64("notification_id", n.NotificationID()),
			zap.String("type", string(n.Kind())),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) push(n domain.Notification) error {
	recipient := n.Recipient()
	// el id del evento es el instante de creación: crece para todas las variantes del mismo destinatario.
	ev := stream.Event{
		ID:   strconv.FormatInt(n.Created().UnixNano(), 10),
		Name: stream.EventNotification,
		Data: n,
	}
	s.registry.CacheEvent(recipient, ev)

	emitter, ok := s.registry.Get(recipient)
	if !ok {
		return nil
	}
	if err := emitter.Send(ev); err != nil {
		s.registry.DeleteIf(recipient, emitter)
		emitter.CompleteWithError(err)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (s *NotificationService) ensureBusiness(ctx context.Context, id int64) error {
	if s.businesses == nil {
		return nil
	}
	_, err := s.businesses.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrBusinessNotFound
	}
	return err
}

func (s *NotificationService) ensureMember(ctx context.Context, id int64) error {
	if s.members == nil {
		return nil
	}
	_, err := s.members.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMemberNotFound
	}
	return err
}
