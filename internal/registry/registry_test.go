package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestRegistry() *Registry {
	r := NewRegistry(zerolog.Nop())
	r.Start()
	return r
}

// register adds a pipe-less client and drains its CONNECTED envelope so
// tests only see the envelopes they trigger themselves.
func register(t *testing.T, r *Registry, userID uuid.UUID) *Client {
	t.Helper()
	c := NewClient(userID, nil, DefaultConfig())
	if err := r.Register(c); err != nil {
		t.Fatal(err)
	}
	env := receive(t, c)
	if env.Type != EventConnected {
		t.Fatalf("expected CONNECTED, got %s", env.Type)
	}
	return c
}

func receive(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatal(err)
		}
		return env
	default:
		t.Fatal("no envelope queued")
		return Envelope{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected envelope queued: %s", data)
	default:
	}
}

func TestRegisterRejectedWhenStopped(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	c := NewClient(uuid.New(), nil, DefaultConfig())
	if err := r.Register(c); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestRegisterEmitsConnected(t *testing.T) {
	r := newTestRegistry()
	userID := uuid.New()

	c := NewClient(userID, nil, DefaultConfig())
	if err := r.Register(c); err != nil {
		t.Fatal(err)
	}

	env := receive(t, c)
	if env.Type != EventConnected {
		t.Fatalf("expected CONNECTED, got %s", env.Type)
	}
	payload := env.Payload.(map[string]interface{})
	if payload["user_id"] != userID.String() {
		t.Fatalf("expected user_id %s, got %v", userID, payload["user_id"])
	}
	if r.ConnectionCount(userID) != 1 {
		t.Fatalf("expected 1 connection, got %d", r.ConnectionCount(userID))
	}
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	r := newTestRegistry()
	roomID := uuid.New()

	alice := register(t, r, uuid.New())
	bob := register(t, r, uuid.New())
	carol := register(t, r, uuid.New()) // never joins

	r.JoinRoom(alice.UserID, roomID)
	r.JoinRoom(bob.UserID, roomID)

	delivered, err := r.BroadcastToRoom(roomID, EventNewMessage, NewMessagePayload{
		MessageID: "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		RoomID:    roomID,
		SenderID:  alice.UserID,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}

	for _, c := range []*Client{alice, bob} {
		env := receive(t, c)
		if env.Type != EventNewMessage {
			t.Fatalf("expected NEW_MESSAGE, got %s", env.Type)
		}
	}
	assertEmpty(t, carol)
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := newTestRegistry()
	roomID := uuid.New()

	alice := register(t, r, uuid.New())
	bob := register(t, r, uuid.New())
	r.JoinRoom(alice.UserID, roomID)
	r.JoinRoom(bob.UserID, roomID)

	delivered, err := r.BroadcastToRoom(roomID, EventUserTyping, TypingPayload{
		RoomID: roomID,
		UserID: alice.UserID,
	}, &alice.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}

	receive(t, bob)
	assertEmpty(t, alice)
}

func TestBroadcastReachesAllConnectionsOfUser(t *testing.T) {
	r := newTestRegistry()
	roomID := uuid.New()
	userID := uuid.New()

	phone := register(t, r, userID)
	laptop := register(t, r, userID)
	r.JoinRoom(userID, roomID)

	delivered, err := r.BroadcastToRoom(roomID, EventMessagesRead, ReadPayload{
		RoomID:        roomID,
		UserID:        uuid.New(),
		UpToMessageID: "01ARZ3NDEKTSV4RRFFQ69G5FAV",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}
	receive(t, phone)
	receive(t, laptop)
}

func TestBroadcastRejectsUnknownEventType(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.BroadcastToRoom(uuid.New(), EventType("BOGUS"), nil, nil); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	r := newTestRegistry()
	roomID := uuid.New()

	// One-slot buffer already holding its CONNECTED envelope: the next
	// enqueue must fail.
	slow := NewClient(uuid.New(), nil, Config{SendBuffer: 1})
	if err := r.Register(slow); err != nil {
		t.Fatal(err)
	}
	healthy := register(t, r, uuid.New())

	r.JoinRoom(slow.UserID, roomID)
	r.JoinRoom(healthy.UserID, roomID)

	delivered, err := r.BroadcastToRoom(roomID, EventNewMessage, NewMessagePayload{
		MessageID: "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		RoomID:    roomID,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}

	env := receive(t, healthy)
	if env.Type != EventNewMessage {
		t.Fatalf("expected NEW_MESSAGE, got %s", env.Type)
	}
	if r.ConnectionCount(slow.UserID) != 0 {
		t.Fatal("slow consumer should have been unregistered")
	}
}

func TestJoinAndLeaveAreIdempotent(t *testing.T) {
	r := newTestRegistry()
	roomID := uuid.New()
	userID := uuid.New()

	r.JoinRoom(userID, roomID)
	r.JoinRoom(userID, roomID)
	if got := len(r.RoomMembers(roomID)); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}

	r.LeaveRoom(userID, roomID)
	r.LeaveRoom(userID, roomID)
	if got := len(r.RoomMembers(roomID)); got != 0 {
		t.Fatalf("expected 0 members, got %d", got)
	}
}

func TestLastUnregisterClearsRoomPresence(t *testing.T) {
	r := newTestRegistry()
	roomID := uuid.New()
	userID := uuid.New()

	phone := register(t, r, userID)
	laptop := register(t, r, userID)
	r.JoinRoom(userID, roomID)

	r.Unregister(phone.ID)
	if got := len(r.RoomMembers(roomID)); got != 1 {
		t.Fatal("user with a surviving connection should stay present")
	}

	r.Unregister(laptop.ID)
	if got := len(r.RoomMembers(roomID)); got != 0 {
		t.Fatal("last disconnect should remove the user from all rooms")
	}
	if r.ConnectionCount(userID) != 0 {
		t.Fatal("expected no connections left")
	}
}

func TestUnregisterUnknownConnectionIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Unregister(uuid.New())
}

func TestStopClosesConnections(t *testing.T) {
	r := newTestRegistry()
	c := register(t, r, uuid.New())

	r.Stop()

	if _, ok := <-c.Send; ok {
		t.Fatal("send channel should be closed after Stop")
	}
	if err := r.Register(NewClient(uuid.New(), nil, DefaultConfig())); err != ErrStopped {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}
