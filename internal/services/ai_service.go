package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/framelab/reframe/internal/llm"
)

const (
	minStatementLen = 10
	maxStatementLen = 2000
	maxUserInputLen = 1000

	generateMaxTokens   = 1000
	generateTemperature = 0.7
)

// AIService is the gateway to the external generation capability. It makes
// exactly one bounded call per invocation, normalizes the result, and never
// lets a provider error escape as anything other than a bad_gateway
// ServiceError. It persists nothing; callers append successful results to a
// problem's interaction log themselves.
type AIService struct {
	gen     llm.Generator
	timeout time.Duration
	now     func() time.Time
}

// GenerateRequest is the validated input for one generation.
type GenerateRequest struct {
	PromptType       PromptType
	ProblemStatement string
	UserInput        string
}

// GenerateResult is the normalized success envelope.
type GenerateResult struct {
	Text        string
	PromptType  PromptType
	GeneratedAt time.Time
	ModelID     string
}

func NewAIService(gen llm.Generator, timeout time.Duration) *AIService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AIService{
		gen:     gen,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Generate validates, issues one call, and returns the trimmed response.
// Validation failures are reported before the external call is attempted;
// there is no automatic retry.
func (s *AIService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if !ValidPromptType(req.PromptType) {
		return nil, NewInvalidError("prompt type must be either \"editor\" or \"challenger\"")
	}
	statement := strings.TrimSpace(req.ProblemStatement)
	if len(statement) < minStatementLen || len(statement) > maxStatementLen {
		return nil, NewInvalidError(fmt.Sprintf("problem statement must be between %d and %d characters", minStatementLen, maxStatementLen))
	}
	userInput := strings.TrimSpace(req.UserInput)
	if len(userInput) > maxUserInputLen {
		return nil, NewInvalidError(fmt.Sprintf("user input must not exceed %d characters", maxUserInputLen))
	}

	tpl := promptTemplates[req.PromptType]
	userPrompt := fmt.Sprintf(tpl.User, statement)
	if userInput != "" {
		userPrompt += "\n\nAdditional context from user: " + userInput
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.gen.Generate(callCtx, llm.Request{
		System:      tpl.System,
		User:        userPrompt,
		MaxTokens:   generateMaxTokens,
		Temperature: generateTemperature,
	})
	if err != nil {
		return nil, NewBadGatewayError("ai generation failed: " + err.Error())
	}

	return &GenerateResult{
		Text:        strings.TrimSpace(res.Text),
		PromptType:  req.PromptType,
		GeneratedAt: s.now(),
		ModelID:     res.Model,
	}, nil
}

// ModelID exposes the configured model identifier for response envelopes.
func (s *AIService) ModelID() string { return s.gen.ModelID() }
