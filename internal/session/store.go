package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/casewire/collab-server-go/internal/model"
	"github.com/casewire/collab-server-go/internal/util"
)

// Store is an in-memory session store keyed by the SHA-256 hash of the
// opaque token. There is no persistence: a process restart invalidates
// every session, which is the documented behavior of this service.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	ttl      time.Duration

	now func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*model.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create mints a new session token for the given user and stores the
// session under the token hash. The raw token is returned exactly once.
func (s *Store) Create(params model.CreateSessionParams) (string, *model.Session, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	sess := &model.Session{
		UserID:    params.UserID,
		Username:  params.Username,
		OriginIP:  params.OriginIP,
		UserAgent: params.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[util.HashToken(token)] = sess
	s.mu.Unlock()

	out := *sess
	out.Token = token
	return token, &out, nil
}

// Validate returns the session for token, or nil when the token is unknown
// or expired. Expired entries are removed as a side effect of lookup.
func (s *Store) Validate(token string) *model.Session {
	key := util.HashToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}

	if !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, key)
		return nil
	}

	out := *sess
	return &out
}

// Destroy removes the session for token. Destroying an unknown token is a
// no-op.
func (s *Store) Destroy(token string) {
	s.mu.Lock()
	delete(s.sessions, util.HashToken(token))
	s.mu.Unlock()
}

// DestroyAllForUser removes every session belonging to userID and returns
// how many were removed. Used on password change to force re-authentication
// on all devices.
func (s *Store) DestroyAllForUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

// DeleteExpired removes all sessions past their expiry and returns the
// count. Called by the background sweep; lookups already reject expired
// sessions, so this only bounds memory growth from abandoned sessions.
func (s *Store) DeleteExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, key)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("count", removed).Msg("swept expired sessions")
	}
	return removed
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
