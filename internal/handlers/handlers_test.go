package handlers_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/profullstack/qryptchat-web-sub004/internal/api"
	"github.com/profullstack/qryptchat-web-sub004/internal/crypto"
	"github.com/profullstack/qryptchat-web-sub004/internal/fanout"
	"github.com/profullstack/qryptchat-web-sub004/internal/handlers"
	"github.com/profullstack/qryptchat-web-sub004/internal/keydir"
	"github.com/profullstack/qryptchat-web-sub004/internal/models"
	"github.com/profullstack/qryptchat-web-sub004/internal/registry"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
	"github.com/profullstack/qryptchat-web-sub004/internal/sweeper"
)

// env is a fully wired server over an in-memory store, exercised through the
// real router and middleware chain.
type env struct {
	router http.Handler
	store  *store.SQLiteStore
	keys   *keydir.Directory
	reg    *registry.Registry
	roomID uuid.UUID
	privs  map[uuid.UUID]ed25519.PrivateKey
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zerolog.Nop()

	st, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)

	keys := keydir.New()
	reg := registry.NewRegistry(logger)
	reg.Start()
	t.Cleanup(reg.Stop)

	encoder := fanout.NewEncoder(st, st, keys, logger)
	sw := sweeper.New(st, logger, 0, 0)
	h := handlers.NewHandler(st, nil, reg, encoder, sw, logger)

	return &env{
		router: api.NewRouter(logger, h, nil, 0),
		store:  st,
		keys:   keys,
		reg:    reg,
		roomID: uuid.New(),
		privs:  make(map[uuid.UUID]ed25519.PrivateKey),
	}
}

func (e *env) addParticipant(t *testing.T) uuid.UUID {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	userID := uuid.New()
	e.keys.Set(userID, pub)
	e.privs[userID] = priv
	if err := e.store.AddParticipant(context.Background(), e.roomID, userID); err != nil {
		t.Fatal(err)
	}
	return userID
}

// do issues one request as the given user and returns the recorder.
func (e *env) do(t *testing.T, method, path string, user uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		req.Header.Set("X-QC-User", user.String())
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func (e *env) send(t *testing.T, user uuid.UUID, body string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, fmt.Sprintf("/rooms/%s/messages", e.roomID), user,
		handlers.SendMessageRequest{Body: body})
	if w.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp handlers.SendMessageResponse
	decode(t, w, &resp)
	if resp.ID == "" {
		t.Fatal("send response missing message id")
	}
	return resp.ID
}

func TestSendAndListRoundTrip(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t)
	bob := e.addParticipant(t)

	msgID := e.send(t, alice, "hello bob")

	w := e.do(t, http.MethodGet, fmt.Sprintf("/rooms/%s/messages", e.roomID), bob, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp handlers.ListMessagesResponse
	decode(t, w, &resp)
	if len(resp.Messages) != 1 || resp.HasMore {
		t.Fatalf("expected exactly 1 message, got %+v", resp)
	}
	got := resp.Messages[0]
	if got.Message.ID != msgID || got.Message.SenderID != alice {
		t.Fatalf("unexpected message: %+v", got.Message)
	}

	pt, err := crypto.Open(got.Ciphertext, e.privs[bob])
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != "hello bob" {
		t.Fatalf("decrypted %q", pt)
	}
}

func TestListPagination(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t)

	first := e.send(t, alice, "one")
	e.send(t, alice, "two")
	e.send(t, alice, "three")

	w := e.do(t, http.MethodGet, fmt.Sprintf("/rooms/%s/messages?limit=2", e.roomID), alice, nil)
	var resp handlers.ListMessagesResponse
	decode(t, w, &resp)
	if len(resp.Messages) != 2 || !resp.HasMore {
		t.Fatalf("expected 2 messages with has_more, got %d (has_more=%v)", len(resp.Messages), resp.HasMore)
	}

	w = e.do(t, http.MethodGet, fmt.Sprintf("/rooms/%s/messages?since=%s", e.roomID, first), alice, nil)
	decode(t, w, &resp)
	if len(resp.Messages) != 2 || resp.HasMore {
		t.Fatalf("expected the 2 later messages, got %d", len(resp.Messages))
	}
}

func TestSendRequiresIdentity(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/rooms/%s/messages", e.roomID), uuid.Nil,
		handlers.SendMessageRequest{Body: "hi"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSendRejectsOutsiders(t *testing.T) {
	e := newEnv(t)
	e.addParticipant(t)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/rooms/%s/messages", e.roomID), uuid.New(),
		handlers.SendMessageRequest{Body: "let me in"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSendToEmptyRoom(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/rooms/%s/messages", uuid.New()), uuid.New(),
		handlers.SendMessageRequest{Body: "anyone?"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSendValidation(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t)
	path := fmt.Sprintf("/rooms/%s/messages", e.roomID)

	w := e.do(t, http.MethodPost, path, alice, handlers.SendMessageRequest{Body: ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty body: expected 400, got %d", w.Code)
	}

	long := make([]byte, 4097)
	for i := range long {
		long[i] = 'a'
	}
	w = e.do(t, http.MethodPost, path, alice, handlers.SendMessageRequest{Body: string(long)})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversized body: expected 422, got %d", w.Code)
	}

	w = e.do(t, http.MethodPost, path, alice, handlers.SendMessageRequest{Body: "x", ContentType: "deleted"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("reserved content type: expected 400, got %d", w.Code)
	}
}

func TestMarkReadFlow(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t)
	bob := e.addParticipant(t)
	path := fmt.Sprintf("/rooms/%s/read", e.roomID)

	msgID := e.send(t, alice, "read me")

	w := e.do(t, http.MethodPost, path, bob, handlers.MarkReadRequest{UpToMessageID: msgID})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp handlers.MarkReadResponse
	decode(t, w, &resp)
	if resp.MarkedRead != 1 {
		t.Fatalf("expected 1 marked read, got %d", resp.MarkedRead)
	}

	// Re-reading the same horizon transitions nothing.
	w = e.do(t, http.MethodPost, path, bob, handlers.MarkReadRequest{UpToMessageID: msgID})
	decode(t, w, &resp)
	if resp.MarkedRead != 0 {
		t.Fatalf("expected 0 on re-read, got %d", resp.MarkedRead)
	}

	// Outsiders cannot move a horizon.
	w = e.do(t, http.MethodPost, path, uuid.New(), handlers.MarkReadRequest{UpToMessageID: msgID})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestMarkReadStartsReadTimer(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t)
	bob := e.addParticipant(t)

	policy := models.ExpiryPolicy{DisappearSeconds: 3600, StartOn: models.StartOnRead}
	w := e.do(t, http.MethodPut, fmt.Sprintf("/rooms/%s/expiry", e.roomID), bob, policy)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	msgID := e.send(t, alice, "vanishing")

	d, err := e.store.GetDelivery(context.Background(), msgID, bob)
	if err != nil {
		t.Fatal(err)
	}
	if d.ExpiresAt != nil {
		t.Fatal("read-start timer must not run before the read")
	}

	e.do(t, http.MethodPost, fmt.Sprintf("/rooms/%s/read", e.roomID), bob,
		handlers.MarkReadRequest{UpToMessageID: msgID})

	d, err = e.store.GetDelivery(context.Background(), msgID, bob)
	if err != nil {
		t.Fatal(err)
	}
	if d.ExpiresAt == nil {
		t.Fatal("reading should start the timer")
	}
	want := d.ReadAt.Add(time.Hour)
	if !d.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, d.ExpiresAt)
	}
}

func TestExpiryPolicyEndpoints(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t)
	path := fmt.Sprintf("/rooms/%s/expiry", e.roomID)

	w := e.do(t, http.MethodGet, path, alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var policy models.ExpiryPolicy
	decode(t, w, &policy)
	if policy.Enabled() {
		t.Fatalf("expected disabled default, got %+v", policy)
	}

	want := models.ExpiryPolicy{DisappearSeconds: 600, StartOn: models.StartOnDelivered}
	w = e.do(t, http.MethodPut, path, alice, want)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodGet, path, alice, nil)
	decode(t, w, &policy)
	if policy != want {
		t.Fatalf("expected %+v, got %+v", want, policy)
	}

	w = e.do(t, http.MethodPut, path, alice, models.ExpiryPolicy{DisappearSeconds: -5, StartOn: models.StartOnRead})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative policy: expected 422, got %d", w.Code)
	}

	w = e.do(t, http.MethodPut, path, uuid.New(), want)
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider: expected 403, got %d", w.Code)
	}
}

func TestDeleteOwnCopy(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t)
	bob := e.addParticipant(t)

	msgID := e.send(t, alice, "delete me")
	path := fmt.Sprintf("/rooms/%s/messages/%s", e.roomID, msgID)

	w := e.do(t, http.MethodDelete, path, bob, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]bool
	decode(t, w, &resp)
	if !resp["deleted"] {
		t.Fatal("first delete should transition the delivery")
	}

	// Idempotent: the second delete reports no transition.
	w = e.do(t, http.MethodDelete, path, bob, nil)
	decode(t, w, &resp)
	if resp["deleted"] {
		t.Fatal("second delete must be a no-op")
	}

	// Bob's copy is gone; alice keeps hers.
	var list handlers.ListMessagesResponse
	w = e.do(t, http.MethodGet, fmt.Sprintf("/rooms/%s/messages", e.roomID), bob, nil)
	decode(t, w, &list)
	if len(list.Messages) != 0 {
		t.Fatal("deleted copy must not be listable")
	}
	w = e.do(t, http.MethodGet, fmt.Sprintf("/rooms/%s/messages", e.roomID), alice, nil)
	decode(t, w, &list)
	if len(list.Messages) != 1 {
		t.Fatal("other recipients keep their copies")
	}

	w = e.do(t, http.MethodDelete, fmt.Sprintf("/rooms/%s/messages/%s", e.roomID, "01BX5ZZKBKACTAV9WEVGEMMVRZ"), bob, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown message: expected 404, got %d", w.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t)

	w := e.do(t, http.MethodPost, "/sweep", alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary sweeper.Summary
	decode(t, w, &summary)
	if summary.Tombstoned != 0 || summary.Reclaimed != 0 {
		t.Fatalf("nothing to sweep yet: %+v", summary)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/health", uuid.Nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp handlers.HealthResponse
	decode(t, w, &resp)
	if resp.Status != "healthy" {
		t.Fatalf("expected healthy, got %s", resp.Status)
	}
	if resp.Checks["database"].Status != "pass" {
		t.Fatalf("expected database pass, got %+v", resp.Checks)
	}
}
