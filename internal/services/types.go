package services

import "time"

// PromptType is the AI assistance mode used for a single interaction.
type PromptType string

const (
	PromptEditor     PromptType = "editor"
	PromptChallenger PromptType = "challenger"
)

func ValidPromptType(p PromptType) bool {
	return p == PromptEditor || p == PromptChallenger
}

// StudyGroup is the per-participant assignment fixed at registration. It
// decides which prompt type the sequencer prefers first.
type StudyGroup string

const (
	GroupEditorFirst     StudyGroup = "editor-first"
	GroupChallengerFirst StudyGroup = "challenger-first"
)

func ValidStudyGroup(g StudyGroup) bool {
	return g == GroupEditorFirst || g == GroupChallengerFirst
}

// ProblemStatus is the lifecycle state of a problem. in-progress is the only
// non-terminal state.
type ProblemStatus string

const (
	StatusInProgress ProblemStatus = "in-progress"
	StatusCompleted  ProblemStatus = "completed"
	StatusAbandoned  ProblemStatus = "abandoned"
)

// TaskCategory classifies the framing task a problem belongs to.
type TaskCategory string

var taskCategories = map[TaskCategory]bool{
	"healthcare":  true,
	"finance":     true,
	"education":   true,
	"environment": true,
	"social":      true,
	"business":    true,
	"other":       true,
}

func ValidTaskCategory(c TaskCategory) bool { return taskCategories[c] }

// Rating carries the three 1-5 scores a participant assigns to an AI
// interaction. Cognitive load runs 1=low to 5=high.
type Rating struct {
	Usefulness    int `json:"usefulness"`
	CognitiveLoad int `json:"cognitive_load"`
	Satisfaction  int `json:"satisfaction"`
}

// InteractionRecord is one request/response exchange with the generator plus
// the participant's later rating of it. InteractionID, PromptType, AIResponse
// and CreatedAt never change after the append; the rating fields may be
// overwritten (last write wins).
type InteractionRecord struct {
	InteractionID    string     `json:"interaction_id"`
	CreatedAt        time.Time  `json:"created_at"`
	PromptType       PromptType `json:"prompt_type"`
	UserInput        string     `json:"user_input,omitempty"`
	AIResponse       string     `json:"ai_response"`
	Rating           *Rating    `json:"rating,omitempty"`
	Feedback         string     `json:"feedback,omitempty"`
	WasAccepted      bool       `json:"was_accepted"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
}

// Evaluation is the researcher-authored overlay on a finished problem. It is
// owned by a reviewer actor and does not participate in the state machine.
type Evaluation struct {
	Scores      map[string]int `json:"scores,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	EvaluatedBy string         `json:"evaluated_by,omitempty"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// DeviceInfo is client metadata captured at problem creation.
type DeviceInfo struct {
	UserAgent        string `json:"user_agent,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Platform         string `json:"platform,omitempty"`
}

// Problem is the aggregate root: one framing task instance owned by a single
// participant. Interactions is append-only in insertion order; storage order
// is the canonical retrieval order.
type Problem struct {
	ID               string              `json:"id"`
	OwnerID          string              `json:"owner_id"`
	TaskPrompt       string              `json:"task_prompt"`
	TaskCategory     TaskCategory        `json:"task_category"`
	InitialStatement string              `json:"initial_statement"`
	CurrentStatement string              `json:"current_statement"`
	FinalStatement   string              `json:"final_statement,omitempty"`
	Reasoning        string              `json:"reasoning,omitempty"`
	Status           ProblemStatus       `json:"status"`
	StartedAt        time.Time           `json:"started_at"`
	EndedAt          *time.Time          `json:"ended_at,omitempty"`
	DurationMinutes  int                 `json:"duration_minutes,omitempty"`
	Interactions     []InteractionRecord `json:"interactions"`
	Evaluation       *Evaluation         `json:"evaluation,omitempty"`
	Device           *DeviceInfo         `json:"device,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Terminal reports whether the problem reached a state that freezes statement
// edits and lifecycle transitions.
func (p *Problem) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusAbandoned
}

// StudySession is one sitting of a participant. At most one session is
// expected open at a time.
type StudySession struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	TasksCompleted  int        `json:"tasks_completed"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
}

// Demographics is research metadata collected at registration.
type Demographics struct {
	AcademicLevel string `json:"academic_level"`
	Experience    string `json:"experience"`
}

// Participant is a registered study member. StudyGroup is immutable after
// registration.
type Participant struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Username         string         `json:"username"`
	StudyGroup       StudyGroup     `json:"study_group"`
	ConsentGiven     bool           `json:"consent_given"`
	ConsentAt        time.Time      `json:"consent_at"`
	Active           bool           `json:"active"`
	Withdrawn        bool           `json:"withdrawn,omitempty"`
	WithdrawalReason string         `json:"withdrawal_reason,omitempty"`
	WithdrawnAt      *time.Time     `json:"withdrawn_at,omitempty"`
	CredentialHash   []byte         `json:"-"`
	Sessions         []StudySession `json:"sessions"`
	Demographics     Demographics   `json:"demographics"`
	CreatedAt        time.Time      `json:"created_at"`
	LastActiveAt     *time.Time     `json:"last_active_at,omitempty"`
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}
