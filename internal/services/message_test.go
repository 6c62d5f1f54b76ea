package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pairchat-backend/internal/models"
	"pairchat-backend/internal/testutil"
)

type fakePusher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *fakePusher) Notify(_ context.Context, userID, _, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, userID+":"+body)
	return p.err
}

func (p *fakePusher) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type messageFixture struct {
	svc     *MessageService
	store   *testutil.MessageStore
	streaks *testutil.StreakStore
	hub     *WSHub
	pusher  *fakePusher
	clock   *testutil.Clock
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	clock := testutil.NewClock(day(1, 12))
	streaks := testutil.NewStreakStore()
	streakSvc := NewStreakService(streaks, time.UTC)
	streakSvc.now = clock.Now

	store := testutil.NewMessageStore()
	hub := NewWSHub(NewMemoryRegistry())
	pusher := &fakePusher{}

	svc := NewMessageService(store, streakSvc, hub, pusher)
	svc.now = clock.Now

	return &messageFixture{svc: svc, store: store, streaks: streaks, hub: hub, pusher: pusher, clock: clock}
}

func TestSendToOfflineRecipient(t *testing.T) {
	f := newMessageFixture(t)
	alice := &recordingConn{}
	f.hub.Register("alice", alice)

	msg, err := f.svc.Send(context.Background(), "alice", SendRequest{
		RecipientID: "bob",
		Content:     "hi",
		TempID:      "t1",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	f.svc.Wait()

	stored, err := f.store.GetByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("expected message to be persisted: %v", err)
	}
	if stored.Read || stored.Content != "hi" {
		t.Fatalf("expected unread message with content hi, got %+v", stored)
	}

	confirmations := alice.ofType(EventNewMessage)
	if len(confirmations) != 1 {
		t.Fatalf("expected one sender confirmation, got %d", len(confirmations))
	}
	if confirmations[0].TempID != "t1" || confirmations[0].MessageID != msg.ID {
		t.Fatalf("expected confirmation for t1/%s, got %+v", msg.ID, confirmations[0])
	}

	if calls := f.pusher.Calls(); len(calls) != 1 || calls[0] != "bob:hi" {
		t.Fatalf("expected one push to bob, got %v", calls)
	}
}

func TestSendToOnlineRecipient(t *testing.T) {
	f := newMessageFixture(t)
	alice := &recordingConn{}
	bob := &recordingConn{}
	f.hub.Register("alice", alice)
	f.hub.Register("bob", bob)

	msg, err := f.svc.Send(context.Background(), "alice", SendRequest{RecipientID: "bob", Content: "hello"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	f.svc.Wait()

	received := bob.ofType(EventNewMessage)
	if len(received) != 1 || received[0].MessageID != msg.ID {
		t.Fatalf("expected bob to receive %s, got %+v", msg.ID, received)
	}
	if received[0].TempID != "" {
		t.Fatal("expected the temporary id to stay with the sender")
	}
	delivered, ok := received[0].Data.(*models.Message)
	if !ok || delivered.Content != "hello" {
		t.Fatalf("expected message payload, got %+v", received[0].Data)
	}

	if len(f.pusher.Calls()) != 0 {
		t.Fatal("expected no push for an online recipient")
	}
}

func TestSendRecordsStreak(t *testing.T) {
	f := newMessageFixture(t)

	if _, err := f.svc.Send(context.Background(), "alice", SendRequest{RecipientID: "bob", Content: "hi"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	f.svc.Wait()

	streak, err := f.streaks.Get(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("expected streak record: %v", err)
	}
	if streak.CurrentStreak != 1 {
		t.Fatalf("expected current streak 1, got %d", streak.CurrentStreak)
	}
}

func TestSendSucceedsWhenStreakUpdateFails(t *testing.T) {
	f := newMessageFixture(t)
	f.streaks.UpsertErr = errors.New("db down")

	if _, err := f.svc.Send(context.Background(), "alice", SendRequest{RecipientID: "bob", Content: "hi"}); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	f.svc.Wait()

	if f.store.Count() != 1 {
		t.Fatalf("expected message to be stored, got %d", f.store.Count())
	}
}

func TestSendFailsWhenPersistFails(t *testing.T) {
	f := newMessageFixture(t)
	f.store.CreateErr = errors.New("db down")
	alice := &recordingConn{}
	f.hub.Register("alice", alice)

	if _, err := f.svc.Send(context.Background(), "alice", SendRequest{RecipientID: "bob", Content: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	f.svc.Wait()

	if len(alice.ofType(EventNewMessage)) != 0 {
		t.Fatal("expected no confirmation for an unsaved message")
	}
	if f.streaks.Upserts() != 0 {
		t.Fatal("expected no streak update for an unsaved message")
	}
}

func TestSendToUnknownRecipient(t *testing.T) {
	f := newMessageFixture(t)
	f.store.CreateErr = fmt.Errorf("message party alice/ghost: %w", ErrNotFound)

	_, err := f.svc.Send(context.Background(), "alice", SendRequest{RecipientID: "ghost", Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSendAfterCloseSkipsSideEffects(t *testing.T) {
	f := newMessageFixture(t)
	f.svc.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Send(context.Background(), "alice", SendRequest{RecipientID: "bob", Content: "hi"}); err != nil {
				t.Errorf("send failed: %v", err)
			}
		}()
	}
	wg.Wait()
	f.svc.Close()

	if f.store.Count() != 10 {
		t.Fatalf("expected 10 stored messages, got %d", f.store.Count())
	}
	if f.streaks.Upserts() != 0 {
		t.Fatalf("expected no streak updates after close, got %d", f.streaks.Upserts())
	}
	if calls := f.pusher.Calls(); len(calls) != 0 {
		t.Fatalf("expected no pushes after close, got %v", calls)
	}
}

func TestCloseWaitsForPendingSideEffects(t *testing.T) {
	f := newMessageFixture(t)

	if _, err := f.svc.Send(context.Background(), "alice", SendRequest{RecipientID: "bob", Content: "hi"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	f.svc.Close()

	if f.streaks.Upserts() != 1 {
		t.Fatalf("expected the streak update to finish before close returns, got %d", f.streaks.Upserts())
	}
	if calls := f.pusher.Calls(); len(calls) != 1 {
		t.Fatalf("expected the push to finish before close returns, got %v", calls)
	}
}

func TestSendValidation(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	cases := map[string]SendRequest{
		"missing recipient": {Content: "hi"},
		"self":              {RecipientID: "alice", Content: "hi"},
		"empty content":     {RecipientID: "bob", Content: "   "},
		"too long":          {RecipientID: "bob", Content: strings.Repeat("a", maxContentLength+1)},
	}
	for name, req := range cases {
		if _, err := f.svc.Send(ctx, "alice", req); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}

	// an attachment alone is a valid message
	if _, err := f.svc.Send(ctx, "alice", SendRequest{RecipientID: "bob", AttachmentURL: "https://cdn/a.jpg"}); err != nil {
		t.Fatalf("expected attachment-only message to be accepted, got %v", err)
	}
	f.svc.Wait()

	if calls := f.pusher.Calls(); len(calls) != 1 || calls[0] != "bob:Sent an attachment" {
		t.Fatalf("expected attachment push text, got %v", calls)
	}
}

func TestRelayDoesNotPersistOrCountStreak(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Create(ctx, "alice", SendRequest{RecipientID: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	f.svc.Wait()
	upserts := f.streaks.Upserts()

	bob := &recordingConn{}
	alice := &recordingConn{}
	f.hub.Register("bob", bob)
	f.hub.Register("alice", alice)

	if _, err := f.svc.Relay(ctx, msg.ID, "alice", "t9"); err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	f.svc.Wait()

	if f.store.Count() != 1 {
		t.Fatalf("expected relay not to store again, got %d messages", f.store.Count())
	}
	if f.streaks.Upserts() != upserts {
		t.Fatal("expected relay not to touch the streak")
	}
	if len(bob.ofType(EventNewMessage)) != 1 {
		t.Fatal("expected bob to receive the relayed message")
	}
	if confirm := alice.ofType(EventNewMessage); len(confirm) != 1 || confirm[0].TempID != "t9" {
		t.Fatalf("expected sender confirmation with t9, got %+v", confirm)
	}
}

func TestRelayErrors(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	msg, _ := f.svc.Create(ctx, "alice", SendRequest{RecipientID: "bob", Content: "hi"})
	f.svc.Wait()

	if _, err := f.svc.Relay(ctx, msg.ID, "bob", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Relay(ctx, "missing", "alice", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Relay(ctx, "", "alice", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMarkReadNotifiesSenderOnce(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	alice := &recordingConn{}
	f.hub.Register("alice", alice)

	msg, err := f.svc.Send(ctx, "alice", SendRequest{RecipientID: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	f.svc.Wait()

	if err := f.svc.MarkRead(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}

	stored, _ := f.store.GetByID(ctx, msg.ID)
	if !stored.Read {
		t.Fatal("expected message to be read")
	}

	receipts := alice.ofType(EventMessageRead)
	if len(receipts) != 1 || receipts[0].MessageID != msg.ID || receipts[0].RecipientID != "bob" {
		t.Fatalf("expected one read receipt for %s, got %+v", msg.ID, receipts)
	}

	// a second mark is a no-op
	if err := f.svc.MarkRead(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("second mark read failed: %v", err)
	}
	if len(alice.ofType(EventMessageRead)) != 1 {
		t.Fatal("expected no duplicate read receipt")
	}
}

func TestMarkReadWithOfflineSender(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	msg, _ := f.svc.Create(ctx, "alice", SendRequest{RecipientID: "bob", Content: "hi"})
	f.svc.Wait()

	if err := f.svc.MarkRead(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("expected offline sender to be ignored, got %v", err)
	}
	stored, _ := f.store.GetByID(ctx, msg.ID)
	if !stored.Read {
		t.Fatal("expected message to be read")
	}
}

func TestMarkReadErrors(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	msg, _ := f.svc.Create(ctx, "alice", SendRequest{RecipientID: "bob", Content: "hi"})
	f.svc.Wait()

	if err := f.svc.MarkRead(ctx, msg.ID, "alice"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected sender to be forbidden, got %v", err)
	}
	if err := f.svc.MarkRead(ctx, "missing", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	stored, _ := f.store.GetByID(ctx, msg.ID)
	if stored.Read {
		t.Fatal("expected message to stay unread")
	}
}

func TestHistoryPagination(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sender, recipient := "alice", "bob"
		if i%2 == 1 {
			sender, recipient = recipient, sender
		}
		if _, err := f.svc.Create(ctx, sender, SendRequest{RecipientID: recipient, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		f.clock.Advance(time.Minute)
	}
	f.svc.Create(ctx, "alice", SendRequest{RecipientID: "carol", Content: "elsewhere"})
	f.svc.Wait()

	page, total, err := f.svc.History(ctx, "bob", "alice", 2, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page), total)
	}
	if page[0].Content != "m4" || page[1].Content != "m3" {
		t.Fatalf("expected newest first, got %s, %s", page[0].Content, page[1].Content)
	}

	page, _, _ = f.svc.History(ctx, "alice", "bob", 0, -3)
	if len(page) != 5 {
		t.Fatalf("expected default page to hold all 5, got %d", len(page))
	}

	if _, _, err := f.svc.History(ctx, "alice", "alice", 10, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
