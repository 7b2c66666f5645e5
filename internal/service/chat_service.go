package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"roomit/internal/domain"
	"roomit/internal/relay"
	"roomit/internal/repository"
)

const (
	DefaultChatBufferTTL = 60 * time.Minute
	DefaultChatRetention = 30 * 24 * time.Hour
)

var (
	ErrChatServiceNotConfigured = errors.New("chat service not configured")
	ErrChatInvalidInput         = errors.New("chat invalid input")
	ErrRoomNotFound             = errors.New("room not found")
	ErrBufferInconsistency      = errors.New("buffer inconsistency")
	ErrChatRateLimited          = errors.New("chat rate limited")
)

// ChatService orquesta envío, staging, flush y lectura de mensajes de chat.
type ChatService struct {
	logger    *zap.Logger
	publisher relay.Publisher
	buffer    MessageBuffer
	rooms     repository.ChatRoomRepository
	messages  repository.ChatMessageRepository
	bufferTTL time.Duration
	retention time.Duration
	limiter   SendRateLimiter
	now       func() time.Time
}

// ChatSettings agrupa los tiempos configurables del chat. Sin RateLimiter no se limita el envío.
type ChatSettings struct {
	BufferTTL   time.Duration
	Retention   time.Duration
	RateLimiter SendRateLimiter
}

func NewChatService(
	logger *zap.Logger,
	publisher relay.Publisher,
	buffer MessageBuffer,
	rooms repository.ChatRoomRepository,
	messages repository.ChatMessageRepository,
	settings ChatSettings,
) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.BufferTTL <= 0 {
		settings.BufferTTL = DefaultChatBufferTTL
	}
	if settings.Retention <= 0 {
		settings.Retention = DefaultChatRetention
	}
	return &ChatService{
		logger:    logger,
		publisher: publisher,
		buffer:    buffer,
		rooms:     rooms,
		messages:  messages,
		bufferTTL: settings.BufferTTL,
		retention: settings.Retention,
		limiter:   settings.RateLimiter,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type SendMessageInput struct {
	RoomID    int64
	Sender    string
	Content   string
	Timestamp time.Time
}

// FlushResult resume un flush: mensajes persistidos y mensajes que quedaron en el buffer.
type FlushResult struct {
	Flushed int `json:"flushed"`
	Failed  int `json:"failed"`
}

func (r FlushResult) add(other FlushResult) FlushResult {
	return FlushResult{Flushed: r.Flushed + other.Flushed, Failed: r.Failed + other.Failed}
}

func (s *ChatService) configured() bool {
	return s != nil && s.buffer != nil && s.rooms != nil && s.messages != nil
}

// SendMessage publica el mensaje a los viewers de la sala y lo deja en el buffer.
// Son dos efectos independientes: un fallo al publicar no impide el staging y viceversa.
// Solo el fallo de staging se devuelve, porque es el camino hacia la persistencia.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (domain.ChatMessage, error) {
	if !s.configured() {
		return domain.ChatMessage{}, ErrChatServiceNotConfigured
	}

	input.Sender = strings.TrimSpace(input.Sender)
	input.Content = strings.TrimSpace(input.Content)
	if input.RoomID <= 0 || input.Sender == "" || input.Content == "" {
		return domain.ChatMessage{}, ErrChatInvalidInput
	}
	if s.limiter != nil && !s.limiter.Allow(ctx, sendRateKey(input.RoomID, input.Sender)) {
		return domain.ChatMessage{}, ErrChatRateLimited
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = s.now()
	}

	buffered := domain.BufferedMessage{
		RoomID:    input.RoomID,
		Sender:    input.Sender,
		Content:   input.Content,
		Timestamp: input.Timestamp,
	}
	view := buffered.ToChatMessage()

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, relay.RoomTopic(input.RoomID), view); err != nil {
			s.logger.Warn("chat publish failed",
				zap.Int64("room_id", input.RoomID),
				zap.Error(err),
			)
		}
	}

	if err := s.buffer.Stage(ctx, buffered, s.bufferTTL); err != nil {
		s.logger.Error("chat staging failed",
			zap.Int64("room_id", input.RoomID),
			zap.Error(err),
		)
		return domain.ChatMessage{}, fmt.Errorf("stage message: %w", err)
	}

	return view, nil
}

// FlushToStore mueve los mensajes de la sala del buffer a la base. Cada clave se borra
// recién después de que su insert confirma; un fallo en una no frena al resto.
// Sin claves no hace nada.
func (s *ChatService) FlushToStore(ctx context.Context, roomID int64) (FlushResult, error) {
	if !s.configured() {
		return FlushResult{}, ErrChatServiceNotConfigured
	}

	keys, err := s.buffer.Keys(ctx, roomID)
	if err != nil {
		return FlushResult{}, fmt.Errorf("scan buffer: %w", err)
	}
	if len(keys) == 0 {
		return FlushResult{}, nil
	}

	var (
		result   FlushResult
		errs     []error
		room     *domain.ChatRoom
		roomGone bool
	)
	for _, key := range keys {
		msg, ok, err := s.buffer.Get(ctx, key)
		if err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("read %s: %w", key, err))
			continue
		}
		if !ok {
			// expiró entre el scan y la lectura.
			continue
		}

		if room == nil && !roomGone {
			found, err := s.rooms.GetByID(ctx, msg.RoomID)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				roomGone = true
			case err != nil:
				return result, fmt.Errorf("load room %d: %w", msg.RoomID, err)
			default:
				room = &found
			}
		}
		if roomGone {
			result.Failed++
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrBufferInconsistency, key, ErrRoomNotFound))
			continue
		}

		durable := domain.ChatMessage{
			RoomID:    room.ID,
			Sender:    msg.Sender,
			Content:   msg.Content,
			Timestamp: s.now(),
		}
		if _, err := s.messages.Create(ctx, durable); err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("persist %s: %w", key, err))
			continue
		}
		if err := s.buffer.DeleteKeys(ctx, key); err != nil {
			// el mensaje ya es durable; si la clave sobrevive se duplica en el próximo flush.
			s.logger.Warn("chat buffer delete failed", zap.String("key", key), zap.Error(err))
		}
		result.Flushed++
	}

	if len(errs) > 0 {
		s.logger.Warn("chat flush incomplete",
			zap.Int64("room_id", roomID),
			zap.Int("flushed", result.Flushed),
			zap.Int("failed", result.Failed),
		)
	}
	return result, errors.Join(errs...)
}

// FlushAll vacía el buffer de todas las salas que tengan mensajes pendientes.
func (s *ChatService) FlushAll(ctx context.Context) (FlushResult, error) {
	if !s.configured() {
		return FlushResult{}, ErrChatServiceNotConfigured
	}
	rooms, err := s.buffer.Rooms(ctx)
	if err != nil {
		return FlushResult{}, fmt.Errorf("list buffered rooms: %w", err)
	}

	var (
		total FlushResult
		errs  []error
	)
	for _, roomID := range rooms {
		res, err := s.FlushToStore(ctx, roomID)
		total = total.add(res)
		if err != nil {
			errs = append(errs, fmt.Errorf("room %d: %w", roomID, err))
		}
	}
	return total, errors.Join(errs...)
}

// GetMessages devuelve los mensajes del buffer si la sala tiene alguno; si no, el historial
// durable. Las dos fuentes no se mezclan: con mensajes en staging no se ve lo ya persistido.
func (s *ChatService) GetMessages(ctx context.Context, roomID int64) ([]domain.ChatMessage, error) {
	if !s.configured() {
		return nil, ErrChatServiceNotConfigured
	}

	keys, err := s.buffer.Keys(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("scan buffer: %w", err)
	}
	if len(keys) > 0 {
		out := make([]domain.ChatMessage, 0, len(keys))
		for _, key := range keys {
			msg, ok, err := s.buffer.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", key, err)
			}
			if ok {
				out = append(out, msg.ToChatMessage())
			}
		}
		if len(out) > 0 {
			sort.SliceStable(out, func(i, j int) bool {
				return out[i].Timestamp.Before(out[j].Timestamp)
			})
			return out, nil
		}
	}

	messages, err := s.messages.ListByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return messages, nil
}

// PruneOld borra de forma irreversible los mensajes durables más viejos que la retención.
func (s *ChatService) PruneOld(ctx context.Context) (int64, error) {
	if !s.configured() {
		return 0, ErrChatServiceNotConfigured
	}
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.messages.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("chat messages pruned", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}
