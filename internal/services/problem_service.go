package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/framelab/reframe/internal/locks"
)

const (
	minTaskPromptLen = 10
	maxTaskPromptLen = 1000
	minReasoningLen  = 20
	maxReasoningLen  = 3000
)

// ProblemStore abstracts persistence for the problem aggregate.
type ProblemStore interface {
	InsertProblem(p *Problem) error
	GetProblem(id string) (*Problem, error)
	ListProblemsByOwner(ownerID string, status ProblemStatus) ([]*Problem, error)
	UpdateProblem(p *Problem) error
	AddAudit(entry AuditEntry)
}

// ProblemService owns the problem lifecycle state machine:
// in-progress -> completed | abandoned, both terminal.
type ProblemService struct {
	store ProblemStore
	locks *locks.PerKey
	now   func() time.Time
	idGen func() string

	// RelaxedCompletion reproduces the reference behavior of accepting
	// Complete from any state. Off by default; the strict in-progress
	// precondition is the contract.
	RelaxedCompletion bool
}

type CreateProblemInput struct {
	TaskPrompt     string
	TaskCategory   TaskCategory
	InitialProblem string
	Device         *DeviceInfo
}

func NewProblemService(store ProblemStore, lk *locks.PerKey) *ProblemService {
	return &ProblemService{
		store: store,
		locks: lk,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: uuid.NewString,
	}
}

// Create opens a new in-progress problem for ownerID. The current statement
// starts as a copy of the initial one and the interaction log starts empty.
func (s *ProblemService) Create(ownerID string, in CreateProblemInput) (*Problem, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	taskPrompt := strings.TrimSpace(in.TaskPrompt)
	if len(taskPrompt) < minTaskPromptLen || len(taskPrompt) > maxTaskPromptLen {
		return nil, NewInvalidError(fmt.Sprintf("task prompt must be between %d and %d characters", minTaskPromptLen, maxTaskPromptLen))
	}
	if !ValidTaskCategory(in.TaskCategory) {
		return nil, NewInvalidError("valid task category required")
	}
	initial := strings.TrimSpace(in.InitialProblem)
	if len(initial) < minStatementLen || len(initial) > maxStatementLen {
		return nil, NewInvalidError(fmt.Sprintf("initial problem statement must be between %d and %d characters", minStatementLen, maxStatementLen))
	}

	now := s.now()
	p := &Problem{
		ID:               s.idGen(),
		OwnerID:          ownerID,
		TaskPrompt:       taskPrompt,
		TaskCategory:     in.TaskCategory,
		InitialStatement: initial,
		CurrentStatement: initial,
		Status:           StatusInProgress,
		StartedAt:        now,
		Interactions:     []InteractionRecord{},
		Device:           in.Device,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertProblem(p); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: ownerID, Action: "problem_create", Target: p.ID})
	return p, nil
}

// Get returns the problem when it exists and belongs to ownerID.
func (s *ProblemService) Get(ownerID, problemID string) (*Problem, error) {
	p, err := s.store.GetProblem(problemID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.OwnerID != ownerID {
		return nil, NewNotFoundError("problem not found")
	}
	return p, nil
}

// List returns the owner's problems, optionally filtered by status.
func (s *ProblemService) List(ownerID string, status ProblemStatus) ([]*Problem, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	return s.store.ListProblemsByOwner(ownerID, status)
}

// UpdateDraft replaces the current statement while the problem is still in
// progress. Terminal problems freeze their statements.
func (s *ProblemService) UpdateDraft(ownerID, problemID, text string) error {
	text = strings.TrimSpace(text)
	if len(text) > maxStatementLen {
		return NewInvalidError(fmt.Sprintf("current problem statement must not exceed %d characters", maxStatementLen))
	}
	unlock := s.locks.Lock(problemID)
	defer unlock()

	p, err := s.Get(ownerID, problemID)
	if err != nil {
		return err
	}
	if p.Status != StatusInProgress {
		return NewInvalidStateError("problem is not in progress")
	}
	if text != "" {
		p.CurrentStatement = text
	}
	p.UpdatedAt = s.now()
	return s.store.UpdateProblem(p)
}

// Complete moves an in-progress problem to completed, recording the final
// statement, the reasoning, and the end-of-task bookkeeping.
func (s *ProblemService) Complete(ownerID, problemID, finalProblem, reasoning string) (*Problem, error) {
	finalProblem = strings.TrimSpace(finalProblem)
	if len(finalProblem) < minStatementLen || len(finalProblem) > maxStatementLen {
		return nil, NewInvalidError(fmt.Sprintf("final problem statement must be between %d and %d characters", minStatementLen, maxStatementLen))
	}
	reasoning = strings.TrimSpace(reasoning)
	if len(reasoning) < minReasoningLen || len(reasoning) > maxReasoningLen {
		return nil, NewInvalidError(fmt.Sprintf("reasoning must be between %d and %d characters", minReasoningLen, maxReasoningLen))
	}

	unlock := s.locks.Lock(problemID)
	defer unlock()

	p, err := s.Get(ownerID, problemID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusInProgress && !s.RelaxedCompletion {
		return nil, NewInvalidStateError("problem is not in progress")
	}

	ended := s.now()
	p.Status = StatusCompleted
	p.EndedAt = &ended
	p.DurationMinutes = durationMinutes(p.StartedAt, ended)
	p.FinalStatement = finalProblem
	p.CurrentStatement = finalProblem
	p.Reasoning = reasoning
	p.UpdatedAt = ended
	if err := s.store.UpdateProblem(p); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: ended, Actor: ownerID, Action: "problem_complete", Target: p.ID})
	return p, nil
}

// Abandon moves an in-progress problem to abandoned. The optional reason is
// kept in the audit trail only.
func (s *ProblemService) Abandon(ownerID, problemID, reason string) (*Problem, error) {
	unlock := s.locks.Lock(problemID)
	defer unlock()

	p, err := s.Get(ownerID, problemID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusInProgress {
		return nil, NewInvalidStateError("problem is not in progress")
	}

	ended := s.now()
	p.Status = StatusAbandoned
	p.EndedAt = &ended
	p.DurationMinutes = durationMinutes(p.StartedAt, ended)
	p.UpdatedAt = ended
	if err := s.store.UpdateProblem(p); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: ended, Actor: ownerID, Action: "problem_abandon", Target: p.ID, Note: reason})
	return p, nil
}

// NextPromptType runs the sequencer over the problem's interaction history.
func (s *ProblemService) NextPromptType(ownerID, problemID string, group StudyGroup) (PromptType, error) {
	p, err := s.Get(ownerID, problemID)
	if err != nil {
		return "", err
	}
	return NextMode(group, p.Interactions), nil
}

func durationMinutes(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}
