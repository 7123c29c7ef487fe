package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/framelab/reframe/internal/locks"
)

const (
	maxFeedbackLen = 500
	maxTimeSpent   = 3600
)

// InteractionStore abstracts the problem-document operations the interaction
// log needs. Rating resolves its problem by interaction id because the rate
// request carries no problem id.
type InteractionStore interface {
	GetProblem(id string) (*Problem, error)
	UpdateProblem(p *Problem) error
	FindProblemByInteraction(ownerID, interactionID string) (*Problem, error)
	AddAudit(entry AuditEntry)
}

// InteractionService owns the append-only interaction log on a problem and
// the rating ledger over it. All mutations run under the problem's lock.
type InteractionService struct {
	store InteractionStore
	locks *locks.PerKey
	now   func() time.Time
	idGen func() string

	// AllowCompletedAppends keeps the observed behavior of generating
	// further AI responses against a completed problem, whose statements
	// are nonetheless frozen. Abandoned problems never accept appends.
	AllowCompletedAppends bool
}

// RateInput is one rating submission against an interaction id.
type RateInput struct {
	InteractionID string
	Ratings       Rating
	Feedback      string
	WasAccepted   bool
}

func NewInteractionService(store InteractionStore, lk *locks.PerKey) *InteractionService {
	return &InteractionService{
		store:                 store,
		locks:                 lk,
		now:                   func() time.Time { return time.Now().UTC() },
		idGen:                 uuid.NewString,
		AllowCompletedAppends: true,
	}
}

// Append adds a new record to the end of the problem's interaction log and
// persists the document. The record's identity fields are fixed here and
// never change afterwards.
func (s *InteractionService) Append(ownerID, problemID string, promptType PromptType, userInput, aiResponse string) (*InteractionRecord, error) {
	if !ValidPromptType(promptType) {
		return nil, NewInvalidError("prompt type must be either \"editor\" or \"challenger\"")
	}
	unlock := s.locks.Lock(problemID)
	defer unlock()

	p, err := s.ownedProblem(ownerID, problemID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case StatusInProgress:
	case StatusCompleted:
		if !s.AllowCompletedAppends {
			return nil, NewInvalidStateError("problem is not in progress")
		}
	default:
		return nil, NewInvalidStateError("problem is abandoned")
	}

	now := s.now()
	rec := InteractionRecord{
		InteractionID: s.idGen(),
		CreatedAt:     now,
		PromptType:    promptType,
		UserInput:     userInput,
		AIResponse:    aiResponse,
	}
	p.Interactions = append(p.Interactions, rec)
	p.UpdatedAt = now
	if err := s.store.UpdateProblem(p); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByInteractionID returns the record with the given id within a problem.
func (s *InteractionService) FindByInteractionID(ownerID, problemID, interactionID string) (*InteractionRecord, error) {
	p, err := s.ownedProblem(ownerID, problemID)
	if err != nil {
		return nil, err
	}
	for i := range p.Interactions {
		if p.Interactions[i].InteractionID == interactionID {
			rec := p.Interactions[i]
			return &rec, nil
		}
	}
	return nil, NewNotFoundError("interaction not found")
}

// UpdateTiming overwrites the client-reported elapsed seconds on a record.
func (s *InteractionService) UpdateTiming(ownerID, problemID, interactionID string, seconds int) error {
	if seconds < 0 || seconds > maxTimeSpent {
		return NewInvalidError(fmt.Sprintf("time spent must be between 0 and %d seconds", maxTimeSpent))
	}
	unlock := s.locks.Lock(problemID)
	defer unlock()

	p, err := s.ownedProblem(ownerID, problemID)
	if err != nil {
		return err
	}
	for i := range p.Interactions {
		if p.Interactions[i].InteractionID == interactionID {
			p.Interactions[i].TimeSpentSeconds = seconds
			p.UpdatedAt = s.now()
			return s.store.UpdateProblem(p)
		}
	}
	return NewNotFoundError("interaction not found")
}

// Rate records the participant's feedback on an interaction. Repeat calls
// overwrite the previous rating in full; a merge never happens.
func (s *InteractionService) Rate(ownerID string, in RateInput) error {
	if in.InteractionID == "" {
		return NewInvalidError("interaction id required")
	}
	if err := validateRating(in.Ratings); err != nil {
		return err
	}
	feedback := strings.TrimSpace(in.Feedback)
	if len(feedback) > maxFeedbackLen {
		return NewInvalidError(fmt.Sprintf("feedback must not exceed %d characters", maxFeedbackLen))
	}

	// Resolve the owning problem first, then redo the lookup under its lock
	// so the mutation still sees a consistent document.
	p, err := s.store.FindProblemByInteraction(ownerID, in.InteractionID)
	if err != nil {
		return err
	}
	if p == nil {
		return NewNotFoundError("interaction not found")
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()

	p, err = s.ownedProblem(ownerID, p.ID)
	if err != nil {
		return err
	}
	for i := range p.Interactions {
		if p.Interactions[i].InteractionID != in.InteractionID {
			continue
		}
		ratings := in.Ratings
		p.Interactions[i].Rating = &ratings
		p.Interactions[i].Feedback = feedback
		p.Interactions[i].WasAccepted = in.WasAccepted
		p.UpdatedAt = s.now()
		if err := s.store.UpdateProblem(p); err != nil {
			return err
		}
		s.store.AddAudit(AuditEntry{Time: s.now(), Actor: ownerID, Action: "interaction_rate", Target: in.InteractionID})
		return nil
	}
	return NewNotFoundError("interaction not found")
}

func (s *InteractionService) ownedProblem(ownerID, problemID string) (*Problem, error) {
	p, err := s.store.GetProblem(problemID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.OwnerID != ownerID {
		return nil, NewNotFoundError("problem not found")
	}
	return p, nil
}

func validateRating(r Rating) error {
	for _, v := range []struct {
		name  string
		value int
	}{
		{"usefulness", r.Usefulness},
		{"cognitive load", r.CognitiveLoad},
		{"satisfaction", r.Satisfaction},
	} {
		if v.value < 1 || v.value > 5 {
			return NewInvalidError(v.name + " rating must be between 1 and 5")
		}
	}
	return nil
}
