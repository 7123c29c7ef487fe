package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ParticipantStore abstracts participant persistence for registration and
// the password-less lookup login.
type ParticipantStore interface {
	GetParticipant(id string) (*Participant, error)
	FindParticipantByEmail(email string) (*Participant, error)
	InsertParticipant(p *Participant) error
	UpdateParticipant(p *Participant) error
	AddAudit(entry AuditEntry)
}

// TokenSigner mints the auth token the middleware later verifies.
type TokenSigner func(uid string, group StudyGroup, active bool, ttl time.Duration) (string, error)

var academicLevels = map[string]bool{
	"undergraduate": true,
	"graduate":      true,
	"postgraduate":  true,
	"other":         true,
}

var experienceLevels = map[string]bool{
	"none":         true,
	"basic":        true,
	"intermediate": true,
	"advanced":     true,
}

// AuthService registers participants and issues tokens. Participants have no
// password: the login credential is the email plus the participant id handed
// out at registration, stored only as a bcrypt hash.
type AuthService struct {
	store     ParticipantStore
	now       func() time.Time
	idGen     func() string
	signToken TokenSigner
	tokenTTL  time.Duration
}

type RegisterInput struct {
	Username     string
	Email        string
	StudyGroup   StudyGroup
	Demographics Demographics
}

type AuthResult struct {
	Token       string
	Participant *Participant
}

func NewAuthService(store ParticipantStore, signer TokenSigner) *AuthService {
	return &AuthService{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     uuid.NewString,
		signToken: signer,
		tokenTTL:  30 * 24 * time.Hour,
	}
}

// Register creates a participant with the requested study group, records
// consent, and returns a signed token. The study group is immutable from
// here on and is what the sequencer keys its tie-break off.
func (s *AuthService) Register(in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	if len(username) < 2 || len(username) > 50 {
		return nil, NewInvalidError("username must be between 2 and 50 characters")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, NewInvalidError("valid email required")
	}
	if !ValidStudyGroup(in.StudyGroup) {
		return nil, NewInvalidError("study group must be either \"editor-first\" or \"challenger-first\"")
	}
	if !academicLevels[in.Demographics.AcademicLevel] {
		return nil, NewInvalidError("valid academic level required")
	}
	if !experienceLevels[in.Demographics.Experience] {
		return nil, NewInvalidError("valid experience level required")
	}
	existing, err := s.store.FindParticipantByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("email already registered")
	}

	id := s.idGen()
	hash, err := bcrypt.GenerateFromPassword([]byte(credential(email, id)), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := s.now()
	p := &Participant{
		ID:             id,
		Email:          email,
		Username:       username,
		StudyGroup:     in.StudyGroup,
		ConsentGiven:   true,
		ConsentAt:      now,
		Active:         true,
		CredentialHash: hash,
		Sessions:       []StudySession{},
		Demographics:   in.Demographics,
		CreatedAt:      now,
	}
	if err := s.store.InsertParticipant(p); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: id, Action: "participant_register", Target: string(in.StudyGroup)})

	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(id, p.StudyGroup, p.Active, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Participant: p}, nil
}

// Login re-issues a token for an existing participant.
func (s *AuthService) Login(email, participantID string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	participantID = strings.TrimSpace(participantID)
	if email == "" || participantID == "" {
		return nil, NewInvalidError("email and participant id required")
	}
	p, err := s.store.FindParticipantByEmail(email)
	if err != nil {
		return nil, err
	}
	if p == nil || p.ID != participantID {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(p.CredentialHash, []byte(credential(email, participantID))); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if !p.Active {
		return nil, NewForbiddenError("participant is not active")
	}
	now := s.now()
	p.LastActiveAt = &now
	if err := s.store.UpdateParticipant(p); err != nil {
		return nil, err
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(p.ID, p.StudyGroup, p.Active, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Participant: p}, nil
}

// Profile returns the participant's own record.
func (s *AuthService) Profile(participantID string) (*Participant, error) {
	if participantID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	return p, nil
}

// Withdraw removes the participant from the study and deactivates the
// account. Tokens already issued stop passing the active gate.
func (s *AuthService) Withdraw(participantID, reason string) error {
	p, err := s.Profile(participantID)
	if err != nil {
		return err
	}
	if p.Withdrawn {
		return NewInvalidStateError("already withdrawn")
	}
	now := s.now()
	p.Withdrawn = true
	p.WithdrawalReason = strings.TrimSpace(reason)
	p.WithdrawnAt = &now
	p.Active = false
	if err := s.store.UpdateParticipant(p); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: participantID, Action: "participant_withdraw", Target: participantID})
	return nil
}

func credential(email, participantID string) string {
	return email + ":" + participantID
}
