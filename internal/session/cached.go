package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dropDatabas3/vendhub/internal/cache"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

// CachedStore decora un Store con un cache read-through para Get.
//
// Solo cachea lecturas: toda mutación (create, rotate, revoke) pasa directo
// al store subyacente e invalida la entrada. La rotación NUNCA se resuelve
// contra el cache; el compare-and-swap del hash vive en el store de verdad.
type CachedStore struct {
	inner Store
	cache cache.Client
	ttl   time.Duration
}

const defaultCachedSessionTTL = 30 * time.Second

// NewCached envuelve un Store con cache. ttl <= 0 usa el default (30s).
func NewCached(inner Store, c cache.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCachedSessionTTL
	}
	return &CachedStore{inner: inner, cache: c, ttl: ttl}
}

func sessionKey(id string) string { return "session:" + id }

// userSessionsKey indexa los session ids cacheados de un usuario, para que
// RevokeAll pueda invalidarlos sin consultar el store.
func userSessionsKey(userID string) string { return "usersessions:" + userID }

func (s *CachedStore) Create(ctx context.Context, in CreateInput) (*Session, error) {
	sess, err := s.inner.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.put(ctx, sess)
	return sess, nil
}

func (s *CachedStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	if raw, err := s.cache.Get(ctx, sessionKey(sessionID)); err == nil {
		var sess Session
		if jerr := json.Unmarshal([]byte(raw), &sess); jerr == nil {
			return &sess, nil
		}
		// entrada corrupta: se descarta y se relee del store
		_ = s.cache.Delete(ctx, sessionKey(sessionID))
	}
	sess, err := s.inner.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, sess)
	return sess, nil
}

func (s *CachedStore) ValidateAndRotate(ctx context.Context, in RotateInput) (*Session, error) {
	sess, err := s.inner.ValidateAndRotate(ctx, in)
	if err != nil {
		// un intento fallido puede significar estado stale en cache
		_ = s.cache.Delete(ctx, sessionKey(in.SessionID))
		return nil, err
	}
	s.put(ctx, sess)
	return sess, nil
}

func (s *CachedStore) Revoke(ctx context.Context, sessionID string) error {
	err := s.inner.Revoke(ctx, sessionID)
	_ = s.cache.Delete(ctx, sessionKey(sessionID))
	return err
}

func (s *CachedStore) RevokeAll(ctx context.Context, userID string) (int, error) {
	n, err := s.inner.RevokeAll(ctx, userID)
	// invalidación por el índice user→sessions; un id que el índice no
	// conoce (put concurrente perdido) muere por TTL igual que antes
	if raw, gerr := s.cache.Get(ctx, userSessionsKey(userID)); gerr == nil {
		var ids []string
		if json.Unmarshal([]byte(raw), &ids) == nil {
			for _, id := range ids {
				_ = s.cache.Delete(ctx, sessionKey(id))
			}
		}
	}
	_ = s.cache.Delete(ctx, userSessionsKey(userID))
	return n, err
}

func (s *CachedStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return s.inner.DeleteExpired(ctx, now)
}

// put es best-effort: un fallo de cache no debe romper el request.
func (s *CachedStore) put(ctx context.Context, sess *Session) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, sessionKey(sess.ID), string(raw), s.ttl); err != nil {
		logger.Named("session.cache").Debug("session cache set falló", logger.Err(err), logger.SessionID(sess.ID))
		return
	}
	s.index(ctx, sess)
}

// index agrega la sesión al índice de su usuario. Read-modify-write sin
// lock: un put concurrente puede pisar la lista, y ese id huérfano expira
// por TTL. El índice es una optimización de latencia, no el source of truth.
func (s *CachedStore) index(ctx context.Context, sess *Session) {
	key := userSessionsKey(sess.UserID)
	var ids []string
	if raw, err := s.cache.Get(ctx, key); err == nil {
		_ = json.Unmarshal([]byte(raw), &ids)
	}
	for _, id := range ids {
		if id == sess.ID {
			return
		}
	}
	ids = append(ids, sess.ID)
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, key, string(raw), s.ttl)
}

var _ Store = (*CachedStore)(nil)
