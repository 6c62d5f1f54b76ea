package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"pairchat-backend/internal/models"
	"pairchat-backend/internal/services"
	"pairchat-backend/internal/testutil"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fakePresigner struct{}

func (fakePresigner) PresignUpload(_ context.Context, userID, filename, contentType string) (*services.UploadResponse, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", services.ErrInvalidInput)
	}
	key := "attachments/" + userID + "/" + filename
	return &services.UploadResponse{
		UploadURL:     "https://upload.example/" + key + "?type=" + contentType,
		AttachmentURL: "https://cdn.example/" + key,
		Key:           key,
		ExpiresIn:     300,
	}, nil
}

type testServer struct {
	server   *httptest.Server
	users    *services.UserService
	messages *services.MessageService
	notes    *testutil.LoveNoteStore
	hub      *services.WSHub
	ws       *WebSocketHandler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	userStore := testutil.NewUserStore()
	userService := services.NewUserService(userStore, "test-secret")

	hub := services.NewWSHub(services.NewMemoryRegistry())
	streakService := services.NewStreakService(testutil.NewStreakStore(), time.UTC)
	messageService := services.NewMessageService(testutil.NewMessageStore(), streakService, hub, nil)
	noteStore := testutil.NewLoveNoteStore()
	loveNoteService := services.NewLoveNoteService(noteStore, services.NewRandomQuestions(nil), hub)
	wsHandler := NewWebSocketHandler(hub, userService, messageService, loveNoteService)

	router := NewRouter(Router{
		Users:       NewUserHandler(userService),
		Messages:    NewMessageHandler(messageService),
		LoveNotes:   NewLoveNoteHandler(loveNoteService),
		Streaks:     NewStreakHandler(streakService),
		Attachments: NewAttachmentHandler(fakePresigner{}),
		WebSocket:   wsHandler,
		Auth:        userService,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		messageService.Wait()
	})

	return &testServer{
		server:   server,
		users:    userService,
		messages: messageService,
		notes:    noteStore,
		hub:      hub,
		ws:       wsHandler,
	}
}

// createUser registers a user through the API and returns it with its token
func (s *testServer) createUser(t *testing.T, name string) *models.User {
	t.Helper()
	var user models.User
	res := s.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{"display_name": name}, &user)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating %s, got %d", name, res.StatusCode)
	}
	if user.Token == "" {
		t.Fatal("expected a token in the response")
	}
	return &user
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, out interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()

	if out != nil && res.StatusCode < 300 {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return res
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var body map[string]string
	res := s.do(t, http.MethodGet, "/health", "", nil, &body)
	if res.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected ok, got %d %v", res.StatusCode, body)
	}
}

func TestHealthReportsUnavailableStore(t *testing.T) {
	router := NewRouter(Router{
		Ping: func(context.Context) error { return fmt.Errorf("db down") },
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCreateUserValidation(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{"display_name": " "}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, http.MethodGet, "/api/v1/streaks/someone", "", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestMessageFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.createUser(t, "Alice")
	bob := s.createUser(t, "Bob")

	var msg models.Message
	res := s.do(t, http.MethodPost, "/api/v1/messages", alice.Token, map[string]string{
		"recipient_id": bob.ID,
		"content":      "hi",
	}, &msg)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}
	if msg.SenderID != alice.ID || msg.Read {
		t.Fatalf("unexpected message %+v", msg)
	}

	// only the recipient may mark it read
	res = s.do(t, http.MethodPost, "/api/v1/messages/"+msg.ID+"/read", alice.Token, nil, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for the sender, got %d", res.StatusCode)
	}
	res = s.do(t, http.MethodPost, "/api/v1/messages/"+msg.ID+"/read", bob.Token, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.StatusCode)
	}
	res = s.do(t, http.MethodPost, "/api/v1/messages/missing/read", bob.Token, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	var history struct {
		Messages []models.Message `json:"messages"`
		Total    int              `json:"total"`
	}
	res = s.do(t, http.MethodGet, "/api/v1/messages/"+alice.ID+"?limit=10", bob.Token, nil, &history)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if history.Total != 1 || len(history.Messages) != 1 || !history.Messages[0].Read {
		t.Fatalf("expected one read message, got %+v", history)
	}

	s.messages.Wait()

	var streak models.Streak
	res = s.do(t, http.MethodGet, "/api/v1/streaks/"+alice.ID, bob.Token, nil, &streak)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if streak.CurrentStreak != 1 || streak.LongestStreak != 1 {
		t.Fatalf("expected streak {1,1}, got {%d,%d}", streak.CurrentStreak, streak.LongestStreak)
	}
}

func TestLoveNoteFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.createUser(t, "Alice")
	bob := s.createUser(t, "Bob")
	eve := s.createUser(t, "Eve")

	var note models.LoveNote
	res := s.do(t, http.MethodPost, "/api/v1/love-notes", alice.Token, map[string]string{"recipient_id": bob.ID}, &note)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}

	var again models.LoveNote
	res = s.do(t, http.MethodPost, "/api/v1/love-notes", bob.Token, map[string]string{"recipient_id": alice.ID}, &again)
	if res.StatusCode != http.StatusOK || again.ID != note.ID {
		t.Fatalf("expected existing note %s with 200, got %d %s", note.ID, res.StatusCode, again.ID)
	}

	var active models.LoveNote
	res = s.do(t, http.MethodGet, "/api/v1/love-notes/active?user_id="+alice.ID, bob.Token, nil, &active)
	if res.StatusCode != http.StatusOK || active.ID != note.ID {
		t.Fatalf("expected active note, got %d %s", res.StatusCode, active.ID)
	}

	var answered models.LoveNote
	res = s.do(t, http.MethodPost, "/api/v1/love-notes/"+note.ID+"/answer", bob.Token, map[string]string{"answer": "x"}, &answered)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if answered.RecipientAnswer == nil || *answered.RecipientAnswer != "x" || answered.SenderAnswer != nil {
		t.Fatalf("expected recipient answer only, got %+v", answered)
	}

	res = s.do(t, http.MethodGet, "/api/v1/love-notes/"+note.ID, eve.Token, nil, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for an outsider, got %d", res.StatusCode)
	}
	res = s.do(t, http.MethodGet, "/api/v1/love-notes/missing", alice.Token, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestPushTokenAndUpload(t *testing.T) {
	s := newTestServer(t)
	alice := s.createUser(t, "Alice")

	res := s.do(t, http.MethodPut, "/api/v1/users/me/push-token", alice.Token, map[string]string{"push_token": "abc"}, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.StatusCode)
	}

	user, err := s.users.GetUser(context.Background(), alice.ID)
	if err != nil || user.PushToken == nil || *user.PushToken != "abc" {
		t.Fatalf("expected stored push token, got %v (%v)", user, err)
	}

	var upload services.UploadResponse
	res = s.do(t, http.MethodPost, "/api/v1/attachments/upload", alice.Token, map[string]string{"filename": "a.png"}, &upload)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if upload.Key != "attachments/"+alice.ID+"/a.png" {
		t.Fatalf("unexpected key %q", upload.Key)
	}

	res = s.do(t, http.MethodPost, "/api/v1/attachments/upload", alice.Token, map[string]string{}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}
