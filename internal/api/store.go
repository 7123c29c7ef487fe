package api

import (
	"sort"
	"strings"
	"sync"

	"github.com/framelab/reframe/internal/services"
)

// memoryStore is the in-memory Store used in development and tests. Reads
// hand out deep copies so a document only ever changes through an Update
// under the caller's per-document lock.
type memoryStore struct {
	mu           sync.RWMutex
	problems     map[string]*services.Problem
	participants map[string]*services.Participant
	audit        []services.AuditEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() Store { return newMemoryStore() }

func newMemoryStore() *memoryStore {
	return &memoryStore{
		problems:     map[string]*services.Problem{},
		participants: map[string]*services.Participant{},
	}
}

func (s *memoryStore) InsertProblem(p *services.Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[p.ID] = cloneProblem(p)
	return nil
}

func (s *memoryStore) GetProblem(id string) (*services.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[id]
	if !ok {
		return nil, nil
	}
	return cloneProblem(p), nil
}

func (s *memoryStore) ListProblemsByOwner(ownerID string, status services.ProblemStatus) ([]*services.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Problem{}
	for _, p := range s.problems {
		if p.OwnerID != ownerID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, cloneProblem(p))
	}
	// newest first, matching the dashboard ordering
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) UpdateProblem(p *services.Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.problems[p.ID]; !ok {
		return nil
	}
	s.problems[p.ID] = cloneProblem(p)
	return nil
}

func (s *memoryStore) FindProblemByInteraction(ownerID, interactionID string) (*services.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.problems {
		if p.OwnerID != ownerID {
			continue
		}
		for i := range p.Interactions {
			if p.Interactions[i].InteractionID == interactionID {
				return cloneProblem(p), nil
			}
		}
	}
	return nil, nil
}

func (s *memoryStore) InsertParticipant(p *services.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = cloneParticipant(p)
	return nil
}

func (s *memoryStore) GetParticipant(id string) (*services.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, nil
	}
	return cloneParticipant(p), nil
}

func (s *memoryStore) FindParticipantByEmail(email string) (*services.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if strings.EqualFold(p.Email, email) {
			return cloneParticipant(p), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) UpdateParticipant(p *services.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.ID]; !ok {
		return nil
	}
	s.participants[p.ID] = cloneParticipant(p)
	return nil
}

func (s *memoryStore) AddAudit(e services.AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *memoryStore) ListAudit() []services.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]services.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func cloneProblem(p *services.Problem) *services.Problem {
	cp := *p
	cp.Interactions = make([]services.InteractionRecord, len(p.Interactions))
	copy(cp.Interactions, p.Interactions)
	for i := range cp.Interactions {
		if r := cp.Interactions[i].Rating; r != nil {
			rc := *r
			cp.Interactions[i].Rating = &rc
		}
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		cp.EndedAt = &t
	}
	if p.Evaluation != nil {
		ev := *p.Evaluation
		if p.Evaluation.Scores != nil {
			ev.Scores = make(map[string]int, len(p.Evaluation.Scores))
			for k, v := range p.Evaluation.Scores {
				ev.Scores[k] = v
			}
		}
		cp.Evaluation = &ev
	}
	if p.Device != nil {
		d := *p.Device
		cp.Device = &d
	}
	return &cp
}

func cloneParticipant(p *services.Participant) *services.Participant {
	cp := *p
	cp.Sessions = make([]services.StudySession, len(p.Sessions))
	copy(cp.Sessions, p.Sessions)
	for i := range cp.Sessions {
		if e := cp.Sessions[i].EndedAt; e != nil {
			t := *e
			cp.Sessions[i].EndedAt = &t
		}
	}
	if p.CredentialHash != nil {
		cp.CredentialHash = append([]byte(nil), p.CredentialHash...)
	}
	if p.WithdrawnAt != nil {
		t := *p.WithdrawnAt
		cp.WithdrawnAt = &t
	}
	if p.LastActiveAt != nil {
		t := *p.LastActiveAt
		cp.LastActiveAt = &t
	}
	return &cp
}
