package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/vendhub/internal/cache"
	"github.com/dropDatabas3/vendhub/internal/session"
	"github.com/dropDatabas3/vendhub/internal/session/memory"
)

// countingInner cuenta las lecturas que llegan al store de verdad.
type countingInner struct {
	session.Store
	gets int
}

func (c *countingInner) Get(ctx context.Context, id string) (*session.Session, error) {
	c.gets++
	return c.Store.Get(ctx, id)
}

func newCachedFixture(t *testing.T) (*session.CachedStore, *countingInner, cache.Client) {
	t.Helper()
	inner := &countingInner{Store: memory.New()}
	client := cache.NewMemory(t.Name())
	return session.NewCached(inner, client, 30*time.Second), inner, client
}

func createSession(t *testing.T, st session.Store, userID, nonce string) *session.Session {
	t.Helper()
	sess, err := st.Create(context.Background(), session.CreateInput{
		TenantID:         "tid-acme",
		UserID:           userID,
		Fingerprint:      "fp-1",
		RefreshNonce:     nonce,
		RefreshExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return sess
}

func TestCached_GetReadThrough(t *testing.T) {
	ctx := context.Background()
	st, inner, client := newCachedFixture(t)
	sess := createSession(t, st, "user-1", "nonce-a")

	// el create ya pobló el cache: estas lecturas no tocan el store
	for i := 0; i < 3; i++ {
		got, err := st.Get(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ID != sess.ID || got.UserID != "user-1" {
			t.Fatalf("sesión equivocada: %+v", got)
		}
	}
	if inner.gets != 0 {
		t.Fatalf("expected 0 inner gets, got %d", inner.gets)
	}

	// con la entrada fuera del cache, la primera lectura va al store y repobla
	if err := client.Delete(ctx, "session:"+sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Get(ctx, sess.ID); err != nil {
		t.Fatalf("get tras delete: %v", err)
	}
	if _, err := st.Get(ctx, sess.ID); err != nil {
		t.Fatalf("get repoblado: %v", err)
	}
	if inner.gets != 1 {
		t.Fatalf("expected 1 inner get, got %d", inner.gets)
	}
}

func TestCached_CorruptEntryFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	st, inner, client := newCachedFixture(t)
	sess := createSession(t, st, "user-1", "nonce-a")

	if err := client.Set(ctx, "session:"+sess.ID, "{esto no es json", 0); err != nil {
		t.Fatal(err)
	}

	got, err := st.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get con entrada corrupta: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("sesión equivocada: %+v", got)
	}
	if inner.gets != 1 {
		t.Fatalf("expected 1 inner get, got %d", inner.gets)
	}

	// la entrada corrupta fue reemplazada: la siguiente lectura es cache hit
	if _, err := st.Get(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if inner.gets != 1 {
		t.Fatalf("expected 1 inner get tras repoblar, got %d", inner.gets)
	}
}

func TestCached_FailedRotationInvalidatesEntry(t *testing.T) {
	ctx := context.Background()
	st, inner, _ := newCachedFixture(t)
	sess := createSession(t, st, "user-1", "nonce-a")

	_, err := st.ValidateAndRotate(ctx, session.RotateInput{
		SessionID:      sess.ID,
		PresentedNonce: "nonce-equivocado",
		Fingerprint:    "fp-1",
		NewNonce:       "nonce-b",
		NewExpiresAt:   time.Now().Add(time.Hour),
	})
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	// el intento fallido descartó la entrada: la lectura va al store
	if _, err := st.Get(ctx, sess.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if inner.gets != 1 {
		t.Fatalf("expected 1 inner get, got %d", inner.gets)
	}
}

func TestCached_RevokeAllInvalidatesEverySession(t *testing.T) {
	ctx := context.Background()
	st, inner, _ := newCachedFixture(t)
	a := createSession(t, st, "user-1", "nonce-a")
	b := createSession(t, st, "user-1", "nonce-b")

	n, err := st.RevokeAll(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}

	// ninguna lectura puede servir la copia cacheada pre-revocación
	for _, id := range []string{a.ID, b.ID} {
		got, err := st.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if !got.Revoked {
			t.Fatalf("sesión %s servida sin revocar desde el cache", id)
		}
	}
	if inner.gets != 2 {
		t.Fatalf("expected 2 inner gets, got %d", inner.gets)
	}
}

func TestCached_RevokeInvalidatesEntry(t *testing.T) {
	ctx := context.Background()
	st, inner, _ := newCachedFixture(t)
	sess := createSession(t, st, "user-1", "nonce-a")

	if err := st.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, err := st.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Revoked {
		t.Fatal("sesión servida sin revocar desde el cache")
	}
	if inner.gets != 1 {
		t.Fatalf("expected 1 inner get, got %d", inner.gets)
	}
}
