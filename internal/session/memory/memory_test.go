package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/vendhub/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*Store, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := New()
	st.Now = clk.Now
	return st, clk
}

func createInput(nonce string) session.CreateInput {
	return session.CreateInput{
		TenantID:         "tid-1",
		UserID:           "user-1",
		Fingerprint:      "fp-1",
		UserAgent:        "test-agent",
		RefreshNonce:     nonce,
		RefreshExpiresAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateAndRotate_HappyPath(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	sess, err := st.Create(ctx, createInput("nonce-a"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.RefreshHash == "" || sess.Salt == "" {
		t.Fatal("expected hashed nonce + salt persisted")
	}
	if sess.RefreshHash == "nonce-a" {
		t.Fatal("nonce must never be stored in clear")
	}

	rotated, err := st.ValidateAndRotate(ctx, session.RotateInput{
		SessionID:      sess.ID,
		PresentedNonce: "nonce-a",
		Fingerprint:    "fp-1",
		NewNonce:       "nonce-b",
		NewExpiresAt:   sess.RefreshExpiresAt.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ValidateAndRotate: %v", err)
	}
	if rotated.RefreshHash == sess.RefreshHash {
		t.Fatal("hash must change on rotation")
	}
	if rotated.Salt == sess.Salt {
		t.Fatal("salt must be regenerated on rotation")
	}
	if !rotated.RefreshExpiresAt.After(sess.RefreshExpiresAt) {
		t.Fatal("expiry must slide forward on rotation")
	}
}

func TestRotate_ReplayOfOldNonceRejected(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	sess, err := st.Create(ctx, createInput("nonce-a"))
	if err != nil {
		t.Fatal(err)
	}
	rotate := func(presented, next string) error {
		_, err := st.ValidateAndRotate(ctx, session.RotateInput{
			SessionID:      sess.ID,
			PresentedNonce: presented,
			Fingerprint:    "fp-1",
			NewNonce:       next,
			NewExpiresAt:   sess.RefreshExpiresAt,
		})
		return err
	}

	if err := rotate("nonce-a", "nonce-b"); err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	// replay del nonce ya consumido
	err = rotate("nonce-a", "nonce-c")
	if !errors.Is(err, session.ErrRotationConflict) {
		t.Fatalf("expected ErrRotationConflict on replay, got %v", err)
	}
	// el conflicto también es un 401 para el caller
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatal("rotation conflict must read as unauthorized")
	}
	// el nonce vigente sigue funcionando
	if err := rotate("nonce-b", "nonce-d"); err != nil {
		t.Fatalf("current nonce must still rotate: %v", err)
	}
}

func TestRotate_ConcurrentExactlyOneWinner(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	sess, err := st.Create(ctx, createInput("nonce-stale"))
	if err != nil {
		t.Fatal(err)
	}

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = st.ValidateAndRotate(ctx, session.RotateInput{
				SessionID:      sess.ID,
				PresentedNonce: "nonce-stale",
				Fingerprint:    "fp-1",
				NewNonce:       "nonce-fresh",
				NewExpiresAt:   sess.RefreshExpiresAt,
			})
		}(i)
	}
	close(start)
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, session.ErrRotationConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
	if conflicts != racers-1 {
		t.Fatalf("expected %d conflicts, got %d", racers-1, conflicts)
	}
}

func TestRotate_FingerprintMismatch(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	sess, err := st.Create(ctx, createInput("nonce-a"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = st.ValidateAndRotate(ctx, session.RotateInput{
		SessionID:      sess.ID,
		PresentedNonce: "nonce-a",
		Fingerprint:    "fp-otro-device",
		NewNonce:       "nonce-b",
		NewExpiresAt:   sess.RefreshExpiresAt,
	})
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on fingerprint mismatch, got %v", err)
	}
	// y no debe haber tocado la sesión
	if _, err := st.ValidateAndRotate(ctx, session.RotateInput{
		SessionID:      sess.ID,
		PresentedNonce: "nonce-a",
		Fingerprint:    "fp-1",
		NewNonce:       "nonce-b",
		NewExpiresAt:   sess.RefreshExpiresAt,
	}); err != nil {
		t.Fatalf("rejected attempt must not consume the nonce: %v", err)
	}
}

func TestRotate_SessionWithoutFingerprintSkipsCheck(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	in := createInput("nonce-a")
	in.Fingerprint = ""
	sess, err := st.Create(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.ValidateAndRotate(ctx, session.RotateInput{
		SessionID:      sess.ID,
		PresentedNonce: "nonce-a",
		Fingerprint:    "cualquier-cosa",
		NewNonce:       "nonce-b",
		NewExpiresAt:   sess.RefreshExpiresAt,
	}); err != nil {
		t.Fatalf("sessions sin fingerprint no exigen match: %v", err)
	}
}

func TestRotate_RevokedAndExpired(t *testing.T) {
	st, clk := newTestStore()
	ctx := context.Background()

	revoked, err := st.Create(ctx, createInput("nonce-a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Revoke(ctx, revoked.ID); err != nil {
		t.Fatal(err)
	}
	_, err = st.ValidateAndRotate(ctx, session.RotateInput{
		SessionID:      revoked.ID,
		PresentedNonce: "nonce-a",
		Fingerprint:    "fp-1",
		NewNonce:       "nonce-b",
		NewExpiresAt:   revoked.RefreshExpiresAt,
	})
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("revoked session must be unauthorized, got %v", err)
	}

	expired, err := st.Create(ctx, createInput("nonce-x"))
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(48 * time.Hour)
	_, err = st.ValidateAndRotate(ctx, session.RotateInput{
		SessionID:      expired.ID,
		PresentedNonce: "nonce-x",
		Fingerprint:    "fp-1",
		NewNonce:       "nonce-y",
		NewExpiresAt:   clk.Now().Add(time.Hour),
	})
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expired session must be unauthorized, got %v", err)
	}
}

func TestRotate_UnknownSession(t *testing.T) {
	st, _ := newTestStore()
	_, err := st.ValidateAndRotate(context.Background(), session.RotateInput{
		SessionID:      "no-existe",
		PresentedNonce: "nonce",
		NewNonce:       "nonce2",
		NewExpiresAt:   time.Now().Add(time.Hour),
	})
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreate_CapEvictsOldestFIFO(t *testing.T) {
	st, clk := newTestStore()
	ctx := context.Background()

	var ids []string
	for i, nonce := range []string{"n1", "n2", "n3", "n4"} {
		in := createInput(nonce)
		in.MaxSessions = 3
		sess, err := st.Create(ctx, in)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, sess.ID)
		clk.Advance(time.Minute) // CreatedAt distinto por sesión
	}

	// la más vieja quedó evictada
	if _, err := st.Get(ctx, ids[0]); !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("oldest session must be evicted, got %v", err)
	}
	_, err := st.ValidateAndRotate(ctx, session.RotateInput{
		SessionID:      ids[0],
		PresentedNonce: "n1",
		Fingerprint:    "fp-1",
		NewNonce:       "n1b",
		NewExpiresAt:   clk.Now().Add(time.Hour),
	})
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("evicted session's refresh must fail, got %v", err)
	}
	// las otras tres siguen vivas
	for _, id := range ids[1:] {
		if _, err := st.Get(ctx, id); err != nil {
			t.Fatalf("session %s should survive: %v", id, err)
		}
	}
}

func TestCreate_CapIgnoresDeadSessions(t *testing.T) {
	st, clk := newTestStore()
	ctx := context.Background()

	first, err := st.Create(ctx, createInput("n1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Revoke(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)

	var liveIDs []string
	for _, nonce := range []string{"n2", "n3"} {
		in := createInput(nonce)
		in.MaxSessions = 2
		sess, err := st.Create(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		liveIDs = append(liveIDs, sess.ID)
		clk.Advance(time.Minute)
	}
	// la revocada no cuenta para el tope; las dos vivas quedan intactas
	for _, id := range liveIDs {
		if _, err := st.Get(ctx, id); err != nil {
			t.Fatalf("live session evicted by mistake: %v", err)
		}
	}
}

func TestRevokeAll(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	for _, nonce := range []string{"n1", "n2", "n3"} {
		if _, err := st.Create(ctx, createInput(nonce)); err != nil {
			t.Fatal(err)
		}
	}
	otherIn := createInput("otro")
	otherIn.UserID = "user-2"
	other, err := st.Create(ctx, otherIn)
	if err != nil {
		t.Fatal(err)
	}

	n, err := st.RevokeAll(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	// la sesión del otro usuario no se toca
	got, err := st.Get(ctx, other.ID)
	if err != nil || got.Revoked {
		t.Fatalf("other user's session must survive: %v revoked=%v", err, got != nil && got.Revoked)
	}
}

func TestDeleteExpired(t *testing.T) {
	st, clk := newTestStore()
	ctx := context.Background()

	if _, err := st.Create(ctx, createInput("n1")); err != nil {
		t.Fatal(err)
	}
	longIn := createInput("n2")
	longIn.RefreshExpiresAt = clk.Now().Add(30 * 24 * time.Hour)
	long, err := st.Create(ctx, longIn)
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(48 * time.Hour)
	n, err := st.DeleteExpired(ctx, clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, err := st.Get(ctx, long.ID); err != nil {
		t.Fatalf("long-lived session must survive sweep: %v", err)
	}
}
