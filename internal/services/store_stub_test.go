package services

import "strings"

// stubStore is an in-memory document store shared by the service tests. It
// hands out copies so mutations only become visible through an Update call,
// matching the behavior of the real stores.
type stubStore struct {
	problems     map[string]*Problem
	participants map[string]*Participant
	audit        []AuditEntry
	failUpdate   error
}

func newStubStore() *stubStore {
	return &stubStore{
		problems:     map[string]*Problem{},
		participants: map[string]*Participant{},
	}
}

func copyProblem(p *Problem) *Problem {
	cp := *p
	cp.Interactions = make([]InteractionRecord, len(p.Interactions))
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
	return &cp
}

func copyParticipant(p *Participant) *Participant {
	cp := *p
	cp.Sessions = make([]StudySession, len(p.Sessions))
	copy(cp.Sessions, p.Sessions)
	for i := range cp.Sessions {
		if e := cp.Sessions[i].EndedAt; e != nil {
			t := *e
			cp.Sessions[i].EndedAt = &t
		}
	}
	return &cp
}

func (s *stubStore) InsertProblem(p *Problem) error {
	s.problems[p.ID] = copyProblem(p)
	return nil
}

func (s *stubStore) GetProblem(id string) (*Problem, error) {
	p, ok := s.problems[id]
	if !ok {
		return nil, nil
	}
	return copyProblem(p), nil
}

func (s *stubStore) ListProblemsByOwner(ownerID string, status ProblemStatus) ([]*Problem, error) {
	out := []*Problem{}
	for _, p := range s.problems {
		if p.OwnerID != ownerID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, copyProblem(p))
	}
	return out, nil
}

func (s *stubStore) UpdateProblem(p *Problem) error {
	if s.failUpdate != nil {
		return s.failUpdate
	}
	s.problems[p.ID] = copyProblem(p)
	return nil
}

func (s *stubStore) FindProblemByInteraction(ownerID, interactionID string) (*Problem, error) {
	for _, p := range s.problems {
		if p.OwnerID != ownerID {
			continue
		}
		for i := range p.Interactions {
			if p.Interactions[i].InteractionID == interactionID {
				return copyProblem(p), nil
			}
		}
	}
	return nil, nil
}

func (s *stubStore) InsertParticipant(p *Participant) error {
	s.participants[p.ID] = copyParticipant(p)
	return nil
}

func (s *stubStore) GetParticipant(id string) (*Participant, error) {
	p, ok := s.participants[id]
	if !ok {
		return nil, nil
	}
	return copyParticipant(p), nil
}

func (s *stubStore) FindParticipantByEmail(email string) (*Participant, error) {
	for _, p := range s.participants {
		if strings.EqualFold(p.Email, email) {
			return copyParticipant(p), nil
		}
	}
	return nil, nil
}

func (s *stubStore) UpdateParticipant(p *Participant) error {
	if s.failUpdate != nil {
		return s.failUpdate
	}
	s.participants[p.ID] = copyParticipant(p)
	return nil
}

func (s *stubStore) AddAudit(entry AuditEntry) {
	s.audit = append(s.audit, entry)
}

func errCode(err error) ErrorCode {
	if se, ok := AsServiceError(err); ok {
		return se.Code
	}
	return ""
}
