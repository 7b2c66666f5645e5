package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomit/internal/domain"
)

func TestChatHandler_RequiresToken(t *testing.T) {
	app := newTestApp(t)
	rec := performRequest(app.router, http.MethodGet, "/chat/rooms/7/messages", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestChatHandler_InvalidRoomID(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, domain.MemberRecipient(1), "kim")
	rec := performRequest(app.router, http.MethodGet, "/chat/rooms/abc/messages", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatHandler_PostThenGetStaged(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, domain.MemberRecipient(1), "kim")

	rec := performRequest(app.router, http.MethodPost, "/chat/rooms/7/messages", token, map[string]string{
		"content": "hola",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = performRequest(app.router, http.MethodGet, "/chat/rooms/7/messages", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	decodeBody(t, rec, &body)
	if len(body.Messages) != 1 {
		t.Fatalf("expected 1 message, got %+v", body.Messages)
	}
	msg := body.Messages[0]
	if msg.ID != nil || msg.Sender != "kim" || msg.Content != "hola" {
		t.Fatalf("unexpected staged message %+v", msg)
	}
}

func TestChatHandler_PostRejectsEmptyContent(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, domain.MemberRecipient(1), "kim")
	rec := performRequest(app.router, http.MethodPost, "/chat/rooms/7/messages", token, map[string]string{
		"content": "",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatHandler_FlushPersists(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, domain.MemberRecipient(1), "kim")
	_ = performRequest(app.router, http.MethodPost, "/chat/rooms/7/messages", token, map[string]string{"content": "uno"})

	rec := performRequest(app.router, http.MethodPost, "/chat/rooms/7/flush", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Result struct {
			Flushed int `json:"flushed"`
			Failed  int `json:"failed"`
		} `json:"result"`
	}
	decodeBody(t, rec, &body)
	if body.Result.Flushed != 1 || body.Result.Failed != 0 {
		t.Fatalf("unexpected result %+v", body.Result)
	}
	if app.messages.count() != 1 {
		t.Fatalf("expected 1 durable message, got %d", app.messages.count())
	}
}

func TestChatHandler_FlushMissingRoom(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, domain.MemberRecipient(1), "kim")
	_ = performRequest(app.router, http.MethodPost, "/chat/rooms/99/messages", token, map[string]string{"content": "uno"})

	rec := performRequest(app.router, http.MethodPost, "/chat/rooms/99/flush", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	keys, _ := app.buffer.Keys(context.Background(), 99)
	if len(keys) != 1 {
		t.Fatalf("expected message to stay buffered, got %+v", keys)
	}
}

func dialRoom(t *testing.T, server *httptest.Server, roomID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/rooms/" + roomID + "?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial websocket: %v (status %d)", err, status)
	}
	return conn
}

func TestChatHandler_WebSocketRelaysAndFlushesOnExit(t *testing.T) {
	app := newTestApp(t)
	server := httptest.NewServer(app.router)
	defer server.Close()

	alice := dialRoom(t, server, "7", app.token(t, domain.MemberRecipient(1), "alice"))
	bob := dialRoom(t, server, "7", app.token(t, domain.MemberRecipient(2), "bob"))
	waitFor(t, func() bool { return app.chatH.viewers.count(7) == 2 })

	if err := alice.WriteJSON(map[string]string{"content": "hola sala"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, conn := range []*websocket.Conn{alice, bob} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read relayed message: %v", err)
		}
		var msg domain.ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode relayed message: %v", err)
		}
		if msg.Sender != "alice" || msg.Content != "hola sala" || msg.RoomID != 7 {
			t.Fatalf("unexpected relayed message %+v", msg)
		}
	}

	_ = alice.Close()
	waitFor(t, func() bool { return app.chatH.viewers.count(7) == 1 })
	if app.messages.count() != 0 {
		t.Fatalf("expected no flush while a viewer remains")
	}

	_ = bob.Close()
	waitFor(t, func() bool { return app.messages.count() == 1 })
	keys, _ := app.buffer.Keys(context.Background(), 7)
	if len(keys) != 0 {
		t.Fatalf("expected buffer flushed after last viewer left, got %+v", keys)
	}
}

func TestChatHandler_WebSocketRequiresToken(t *testing.T) {
	app := newTestApp(t)
	server := httptest.NewServer(app.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/rooms/7"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestRoomViewers(t *testing.T) {
	v := newRoomViewers()
	v.join(1)
	v.join(1)
	v.join(2)
	if v.leave(1) {
		t.Fatalf("expected room 1 to keep a viewer")
	}
	if !v.leave(1) {
		t.Fatalf("expected last viewer of room 1")
	}
	if v.count(1) != 0 || v.count(2) != 1 {
		t.Fatalf("unexpected counts: room1=%d room2=%d", v.count(1), v.count(2))
	}
}
