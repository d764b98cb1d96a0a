// Package memory implementa session.Store en memoria.
// Para desarrollo y tests; misma semántica de rotación atómica que pg.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	tokens "github.com/dropDatabas3/vendhub/internal/security/token"
	"github.com/dropDatabas3/vendhub/internal/session"
)

type Store struct {
	mu     sync.Mutex
	byID   map[string]*session.Session
	byUser map[string][]string // userID -> session ids (orden de creación)

	// Now inyectable para tests de expiración.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		byID:   make(map[string]*session.Session),
		byUser: make(map[string][]string),
		Now:    time.Now,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) Create(ctx context.Context, in session.CreateInput) (*session.Session, error) {
	salt, err := tokens.GenerateSalt(16)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &session.Session{
		ID:               uuid.NewString(),
		TenantID:         in.TenantID,
		UserID:           in.UserID,
		Salt:             salt,
		RefreshHash:      tokens.HashNonce(salt, in.RefreshNonce),
		RefreshExpiresAt: in.RefreshExpiresAt,
		Fingerprint:      in.Fingerprint,
		UserAgent:        in.UserAgent,
		CreatedAt:        now,
	}
	s.byID[sess.ID] = sess
	s.byUser[in.UserID] = append(s.byUser[in.UserID], sess.ID)

	if in.MaxSessions > 0 {
		s.evictLocked(in.UserID, in.MaxSessions, now)
	}

	out := *sess
	return &out, nil
}

// evictLocked borra las sesiones vivas más viejas hasta quedar dentro del tope.
func (s *Store) evictLocked(userID string, max int, now time.Time) {
	ids := s.byUser[userID]
	var live []*session.Session
	for _, id := range ids {
		if sess, ok := s.byID[id]; ok && sess.Live(now) {
			live = append(live, sess)
		}
	}
	if len(live) <= max {
		return
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	for _, victim := range live[:len(live)-max] {
		delete(s.byID, victim.ID)
		s.removeFromUserLocked(userID, victim.ID)
	}
}

func (s *Store) removeFromUserLocked(userID, sessionID string) {
	ids := s.byUser[userID]
	for i, id := range ids {
		if id == sessionID {
			s.byUser[userID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func (s *Store) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return nil, session.ErrUnauthorized
	}
	out := *sess
	return &out, nil
}

func (s *Store) ValidateAndRotate(ctx context.Context, in session.RotateInput) (*session.Session, error) {
	newSalt, err := tokens.GenerateSalt(16)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[in.SessionID]
	if !ok {
		return nil, session.ErrUnauthorized
	}
	now := s.now()
	if sess.Revoked || !now.Before(sess.RefreshExpiresAt) {
		return nil, session.ErrUnauthorized
	}
	if sess.Fingerprint != "" && sess.Fingerprint != in.Fingerprint {
		return nil, session.ErrUnauthorized
	}
	presented := tokens.HashNonce(sess.Salt, in.PresentedNonce)
	if !tokens.HashEqual(presented, sess.RefreshHash) {
		// El nonce ya fue rotado por otra rotación concurrente, o es basura.
		// Server-side distinguimos el conflicto; el caller ve 401 igual.
		return nil, session.ErrRotationConflict
	}

	// swap atómico bajo el lock: quien llegó segundo ya no matchea el hash
	sess.Salt = newSalt
	sess.RefreshHash = tokens.HashNonce(newSalt, in.NewNonce)
	sess.RefreshExpiresAt = in.NewExpiresAt

	out := *sess
	return &out, nil
}

func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return session.ErrUnauthorized
	}
	sess.Revoked = true
	return nil
}

func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.byUser[userID] {
		if sess, ok := s.byID[id]; ok && !sess.Revoked {
			sess.Revoked = true
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.byID {
		if !now.Before(sess.RefreshExpiresAt) {
			delete(s.byID, id)
			s.removeFromUserLocked(sess.UserID, id)
			n++
		}
	}
	return n, nil
}

var _ session.Store = (*Store)(nil)
