package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"roomit/internal/domain"
	"roomit/internal/relay"
	"roomit/internal/service"
	"roomit/internal/stream"
)

const testSecret = "secret"

type mockRoomRepo struct {
	rooms map[int64]domain.ChatRoom
}

func (m *mockRoomRepo) GetByID(_ context.Context, id int64) (domain.ChatRoom, error) {
	room, ok := m.rooms[id]
	if !ok {
		return domain.ChatRoom{}, pgx.ErrNoRows
	}
	return room, nil
}

type mockChatMessageRepo struct {
	mu       sync.Mutex
	nextID   int64
	messages []domain.ChatMessage
}

func (m *mockChatMessageRepo) Create(_ context.Context, message domain.ChatMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	message.ID = &id
	m.messages = append(m.messages, message)
	return id, nil
}

func (m *mockChatMessageRepo) ListByRoomID(_ context.Context, roomID int64) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChatMessage
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockChatMessageRepo) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *mockChatMessageRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type mockNotificationRepo struct {
	mu           sync.Mutex
	nextID       int64
	reviews      []domain.ReviewNotification
	reservations []domain.ReservationNotification
	members      []domain.MemberNotification
}

func (m *mockNotificationRepo) CreateReview(_ context.Context, n domain.ReviewNotification) (domain.ReviewNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	m.reviews = append(m.reviews, n)
	return n, nil
}

func (m *mockNotificationRepo) CreateReservation(_ context.Context, n domain.ReservationNotification) (domain.ReservationNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	m.reservations = append(m.reservations, n)
	return n, nil
}

func (m *mockNotificationRepo) CreateMember(_ context.Context, n domain.MemberNotification) (domain.MemberNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	m.members = append(m.members, n)
	return n, nil
}

func (m *mockNotificationRepo) ListReviewsByBusinessID(_ context.Context, businessID int64) ([]domain.ReviewNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReviewNotification
	for _, n := range m.reviews {
		if n.BusinessID == businessID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockNotificationRepo) ListReservationsByBusinessID(_ context.Context, businessID int64) ([]domain.ReservationNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReservationNotification
	for _, n := range m.reservations {
		if n.BusinessID == businessID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockNotificationRepo) ListByMemberID(_ context.Context, memberID int64) ([]domain.MemberNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MemberNotification
	for _, n := range m.members {
		if n.MemberID == memberID {
			out = append(out, n)
		}
	}
	return out, nil
}

type mockBusinessRepo struct{}

func (mockBusinessRepo) GetByID(_ context.Context, id int64) (domain.Business, error) {
	if id == 404 {
		return domain.Business{}, pgx.ErrNoRows
	}
	return domain.Business{ID: id}, nil
}

type mockMemberRepo struct{}

func (mockMemberRepo) GetByID(_ context.Context, id int64) (domain.Member, error) {
	if id == 404 {
		return domain.Member{}, pgx.ErrNoRows
	}
	return domain.Member{ID: id}, nil
}

type testApp struct {
	router        *gin.Engine
	jwt           *service.JWTService
	broker        *relay.Broker
	buffer        service.MessageBuffer
	messages      *mockChatMessageRepo
	notifications *mockNotificationRepo
	registry      *stream.Registry
	chatH         *ChatHandler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	app := &testApp{
		jwt:           service.NewJWTService(testSecret, 15*time.Minute),
		broker:        relay.NewBroker(logger, 16),
		buffer:        service.NewMemoryMessageBuffer(),
		messages:      &mockChatMessageRepo{},
		notifications: &mockNotificationRepo{},
		registry:      stream.NewRegistry(0),
	}
	rooms := &mockRoomRepo{rooms: map[int64]domain.ChatRoom{7: {ID: 7, Name: "sala"}}}
	chatSvc := service.NewChatService(logger, app.broker, app.buffer, rooms, app.messages, service.ChatSettings{})
	notifSvc := service.NewNotificationService(logger, app.registry, app.notifications, mockBusinessRepo{}, mockMemberRepo{}, time.Minute)

	app.chatH = NewChatHandler(logger, chatSvc, app.broker)
	notifH := NewNotificationHandler(logger, notifSvc)
	healthH := NewHealthHandler(logger, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	app.router = NewRouter(logger, app.jwt, app.chatH, notifH, healthH)
	t.Cleanup(notifSvc.Shutdown)
	return app
}

func (a *testApp) token(t *testing.T, recipient domain.Recipient, nickname string) string {
	t.Helper()
	token, err := a.jwt.IssueAccessToken(recipient, nickname)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func performRequest(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
