package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/profullstack/qryptchat-web-sub004/internal/models"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
)

func newTestSweeper(t *testing.T) (*Sweeper, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	return New(st, zerolog.Nop(), 0, 0), st
}

// seedWithTimers fans out one message and stamps each recipient's delivery
// with the given expiry (nil means no timer).
func seedWithTimers(t *testing.T, st *store.SQLiteStore, roomID uuid.UUID, timers map[uuid.UUID]*time.Time) *models.Message {
	t.Helper()
	now := time.Now().UTC().Add(-time.Hour)
	msg := &models.Message{
		ID:          ulid.Make().String(),
		RoomID:      roomID,
		SenderID:    uuid.New(),
		ContentType: models.ContentText,
		CreatedAt:   now,
	}

	var copies []models.RecipientCopy
	var deliveries []models.Delivery
	for recipient, expires := range timers {
		copies = append(copies, models.RecipientCopy{
			MessageID:   msg.ID,
			RecipientID: recipient,
			Ciphertext:  []byte("sealed"),
			CreatedAt:   now,
		})
		deliveries = append(deliveries, models.Delivery{
			MessageID:   msg.ID,
			RecipientID: recipient,
			DeliveredAt: now,
			ExpiresAt:   expires,
		})
	}

	if err := st.CreateMessageFanout(context.Background(), msg, copies, deliveries); err != nil {
		t.Fatal(err)
	}
	return msg
}

func timer(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(d)
	return &t
}

func TestSweepTombstonesExpiredDeliveries(t *testing.T) {
	sw, st := newTestSweeper(t)
	ctx := context.Background()
	roomID, bob := uuid.New(), uuid.New()

	msg := seedWithTimers(t, st, roomID, map[uuid.UUID]*time.Time{
		bob: timer(-time.Minute),
	})

	summary := sw.Sweep(ctx)
	if summary.Tombstoned != 1 {
		t.Fatalf("expected 1 tombstoned, got %d", summary.Tombstoned)
	}
	if len(summary.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", summary.Errors)
	}

	d, err := st.GetDelivery(ctx, msg.ID, bob)
	if err != nil {
		t.Fatal(err)
	}
	if d.Live() {
		t.Fatal("expired delivery should be tombstoned")
	}
	if d.DeletionReason != models.ReasonExpired {
		t.Fatalf("expected reason expired, got %s", d.DeletionReason)
	}

	// Gone from the recipient's pull path.
	out, err := st.ListEncryptedMessages(ctx, roomID, bob, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatal("tombstoned copy must not be listable")
	}
}

func TestSweepReclaimsWhenAllRecipientsTerminal(t *testing.T) {
	sw, st := newTestSweeper(t)
	ctx := context.Background()
	roomID, bob, carol := uuid.New(), uuid.New(), uuid.New()

	msg := seedWithTimers(t, st, roomID, map[uuid.UUID]*time.Time{
		bob:   timer(-2 * time.Minute),
		carol: timer(-time.Minute),
	})

	// Both tombstones land in the first phase, so the GC phase of the same
	// sweep already sees the message as reclaimable.
	summary := sw.Sweep(ctx)
	if summary.Tombstoned != 2 {
		t.Fatalf("expected 2 tombstoned, got %d", summary.Tombstoned)
	}
	if summary.Reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", summary.Reclaimed)
	}

	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentType != models.ContentDeleted {
		t.Fatalf("reclaimed message should read deleted, got %s", got.ContentType)
	}
}

func TestSweepLeavesLiveRecipientsAlone(t *testing.T) {
	sw, st := newTestSweeper(t)
	ctx := context.Background()
	roomID, bob, carol := uuid.New(), uuid.New(), uuid.New()

	msg := seedWithTimers(t, st, roomID, map[uuid.UUID]*time.Time{
		bob:   timer(-time.Minute), // elapsed
		carol: nil,                 // no timer at all
	})

	summary := sw.Sweep(ctx)
	if summary.Tombstoned != 1 {
		t.Fatalf("expected 1 tombstoned, got %d", summary.Tombstoned)
	}
	if summary.Reclaimed != 0 {
		t.Fatalf("carol's live copy must block GC, got %d reclaimed", summary.Reclaimed)
	}

	out, err := st.ListEncryptedMessages(ctx, roomID, carol, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatal("carol's copy must survive the sweep")
	}

	got, _ := st.GetMessage(ctx, msg.ID)
	if got.ContentType != models.ContentText {
		t.Fatal("message with a live copy must keep its content type")
	}
}

func TestSweepIgnoresFutureTimers(t *testing.T) {
	sw, st := newTestSweeper(t)
	roomID, bob := uuid.New(), uuid.New()

	seedWithTimers(t, st, roomID, map[uuid.UUID]*time.Time{
		bob: timer(time.Hour),
	})

	summary := sw.Sweep(context.Background())
	if summary.Tombstoned != 0 || summary.Reclaimed != 0 {
		t.Fatalf("nothing should be swept: %+v", summary)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	sw, st := newTestSweeper(t)
	roomID, bob := uuid.New(), uuid.New()

	seedWithTimers(t, st, roomID, map[uuid.UUID]*time.Time{
		bob: timer(-time.Minute),
	})

	first := sw.Sweep(context.Background())
	if first.Tombstoned != 1 || first.Reclaimed != 1 {
		t.Fatalf("unexpected first sweep: %+v", first)
	}

	second := sw.Sweep(context.Background())
	if second.Tombstoned != 0 || second.Reclaimed != 0 || len(second.Errors) != 0 {
		t.Fatalf("second sweep must be a no-op: %+v", second)
	}
}
