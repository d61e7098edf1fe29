package service

import (
	"errors"
	"sync"

	"github.com/ikkim/storecover-backend/pkg/logger"
)

var ErrSessionRequired = errors.New("session id is required")

// SessionScoped is implemented by every service holding per-session data.
type SessionScoped interface {
	InitSession(sessionID string) error
	ClearSessionData() error
}

type SessionService interface {
	InitSession(sessionID string) error
	ClearSessionData() error
	Current() string
}

type sessionService struct {
	mu      sync.Mutex
	scopes  []SessionScoped
	current string
}

// NewSessionService fans session changes out to the given services in order.
// The import queue goes first: it waits for a running job, so stores and
// policies are wiped only after the job has stopped writing to them.
func NewSessionService(scopes ...SessionScoped) SessionService {
	return &sessionService{scopes: scopes}
}

func (s *sessionService) InitSession(sessionID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scope := range s.scopes {
		if err := scope.InitSession(sessionID); err != nil {
			logger.Error("Failed to initialise session", err, map[string]interface{}{
				"session_id": sessionID,
			})
			return err
		}
	}
	if s.current != sessionID {
		logger.Info("Session switched", map[string]interface{}{
			"previous": s.current,
			"current":  sessionID,
		})
	}
	s.current = sessionID
	return nil
}

func (s *sessionService) ClearSessionData() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, scope := range s.scopes {
		if err := scope.ClearSessionData(); err != nil {
			logger.Error("Failed to clear session data", err, map[string]interface{}{
				"session_id": s.current,
			})
			return err
		}
	}
	return nil
}

func (s *sessionService) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
