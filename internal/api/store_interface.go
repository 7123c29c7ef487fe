package api

import "github.com/framelab/reframe/internal/services"

// Store is the full persistence surface the HTTP layer wires into the
// services. Each service depends only on its own narrow slice of it.
type Store interface {
	InsertProblem(p *services.Problem) error
	GetProblem(id string) (*services.Problem, error)
	ListProblemsByOwner(ownerID string, status services.ProblemStatus) ([]*services.Problem, error)
	UpdateProblem(p *services.Problem) error
	FindProblemByInteraction(ownerID, interactionID string) (*services.Problem, error)

	InsertParticipant(p *services.Participant) error
	GetParticipant(id string) (*services.Participant, error)
	FindParticipantByEmail(email string) (*services.Participant, error)
	UpdateParticipant(p *services.Participant) error

	AddAudit(e services.AuditEntry)
	ListAudit() []services.AuditEntry
}

var _ Store = (*memoryStore)(nil)
