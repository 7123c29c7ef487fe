package services

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/framelab/reframe/internal/locks"
)

// SessionStore abstracts participant persistence for session tracking.
type SessionStore interface {
	GetParticipant(id string) (*Participant, error)
	UpdateParticipant(p *Participant) error
	AddAudit(entry AuditEntry)
}

// SessionService tracks per-participant study sessions. A participant is
// expected to keep at most one session open; when several are open anyway,
// the first in list order counts as the current one.
type SessionService struct {
	store SessionStore
	locks *locks.PerKey
	now   func() time.Time
	idGen func() string
}

func NewSessionService(store SessionStore, lk *locks.PerKey) *SessionService {
	return &SessionService{
		store: store,
		locks: lk,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
	}
}

// Start opens a new session and returns its id.
func (s *SessionService) Start(participantID string) (string, error) {
	unlock := s.locks.Lock(participantID)
	defer unlock()

	p, err := s.activeParticipant(participantID)
	if err != nil {
		return "", err
	}
	now := s.now()
	id := s.idGen()
	p.Sessions = append(p.Sessions, StudySession{ID: id, StartedAt: now})
	p.LastActiveAt = &now
	if err := s.store.UpdateParticipant(p); err != nil {
		return "", err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: participantID, Action: "session_start", Target: id})
	return id, nil
}

// End closes the current open session, recording its duration in whole
// minutes. Ending with nothing open is a no-op.
func (s *SessionService) End(participantID string) error {
	unlock := s.locks.Lock(participantID)
	defer unlock()

	p, err := s.activeParticipant(participantID)
	if err != nil {
		return err
	}
	sess := currentSession(p)
	if sess == nil {
		return nil
	}
	now := s.now()
	sess.EndedAt = &now
	sess.DurationMinutes = durationMinutes(sess.StartedAt, now)
	p.LastActiveAt = &now
	if err := s.store.UpdateParticipant(p); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: participantID, Action: "session_end", Target: sess.ID})
	return nil
}

// IncrementTasksCompleted bumps the counter on the current open session.
// No-op when no session is open.
func (s *SessionService) IncrementTasksCompleted(participantID string) error {
	unlock := s.locks.Lock(participantID)
	defer unlock()

	p, err := s.activeParticipant(participantID)
	if err != nil {
		return err
	}
	sess := currentSession(p)
	if sess == nil {
		return nil
	}
	sess.TasksCompleted++
	return s.store.UpdateParticipant(p)
}

func (s *SessionService) activeParticipant(id string) (*Participant, error) {
	if id == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	p, err := s.store.GetParticipant(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	if !p.Active {
		return nil, NewForbiddenError("participant is not active")
	}
	return p, nil
}

func currentSession(p *Participant) *StudySession {
	for i := range p.Sessions {
		if p.Sessions[i].EndedAt == nil {
			return &p.Sessions[i]
		}
	}
	return nil
}
