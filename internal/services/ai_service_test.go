package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/framelab/reframe/internal/llm"
)

const testStatement = "Predict hospital readmission risk from EHR data"

func TestGenerateSuccess(t *testing.T) {
	mock := llm.NewMock(llm.MockResponse{Text: "  Consider defining a measurable target.\n"})
	svc := NewAIService(mock, 0)
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }

	res, err := svc.Generate(context.Background(), GenerateRequest{
		PromptType:       PromptEditor,
		ProblemStatement: testStatement,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if res.Text != "Consider defining a measurable target." {
		t.Fatalf("response not trimmed: %q", res.Text)
	}
	if res.PromptType != PromptEditor || res.ModelID != "mock" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.GeneratedAt.Equal(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", res.GeneratedAt)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected one provider call, got %d", mock.CallCount())
	}
	call := mock.Calls[0]
	if !strings.Contains(call.System, "editor") || !strings.Contains(call.User, testStatement) {
		t.Fatalf("prompt not interpolated: system=%q user=%q", call.System, call.User)
	}
	if strings.Contains(call.User, "Additional context") {
		t.Fatalf("no user input given, but context was appended: %q", call.User)
	}
}

func TestGenerateAppendsUserContext(t *testing.T) {
	mock := llm.NewMock(llm.MockResponse{Text: "ok"})
	svc := NewAIService(mock, 0)

	_, err := svc.Generate(context.Background(), GenerateRequest{
		PromptType:       PromptChallenger,
		ProblemStatement: testStatement,
		UserInput:        "focus on rural clinics",
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	call := mock.Calls[0]
	if !strings.Contains(call.User, "Additional context from user: focus on rural clinics") {
		t.Fatalf("user context missing from prompt: %q", call.User)
	}
	if !strings.Contains(call.System, "challenger") {
		t.Fatalf("wrong template selected: %q", call.System)
	}
}

func TestGenerateInvalidPromptTypeMakesNoCall(t *testing.T) {
	mock := llm.NewMock(llm.MockResponse{Text: "never used"})
	svc := NewAIService(mock, 0)

	_, err := svc.Generate(context.Background(), GenerateRequest{
		PromptType:       PromptType("invalid"),
		ProblemStatement: testStatement,
	})
	if errCode(err) != ErrorInvalid {
		t.Fatalf("expected invalid error, got %v", err)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("external call attempted despite validation failure")
	}
}

func TestGenerateStatementBounds(t *testing.T) {
	mock := llm.NewMock()
	svc := NewAIService(mock, 0)

	_, err := svc.Generate(context.Background(), GenerateRequest{PromptType: PromptEditor, ProblemStatement: "too short"})
	if errCode(err) != ErrorInvalid {
		t.Fatalf("short statement: expected invalid, got %v", err)
	}
	_, err = svc.Generate(context.Background(), GenerateRequest{PromptType: PromptEditor, ProblemStatement: strings.Repeat("x", 2001)})
	if errCode(err) != ErrorInvalid {
		t.Fatalf("long statement: expected invalid, got %v", err)
	}
	_, err = svc.Generate(context.Background(), GenerateRequest{
		PromptType:       PromptEditor,
		ProblemStatement: testStatement,
		UserInput:        strings.Repeat("y", 1001),
	})
	if errCode(err) != ErrorInvalid {
		t.Fatalf("long user input: expected invalid, got %v", err)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("external calls attempted despite validation failures")
	}
}

func TestGenerateProviderFailure(t *testing.T) {
	mock := llm.NewMock(llm.MockResponse{Err: errors.New("connection reset")})
	svc := NewAIService(mock, 0)

	_, err := svc.Generate(context.Background(), GenerateRequest{
		PromptType:       PromptEditor,
		ProblemStatement: testStatement,
	})
	if errCode(err) != ErrorBadGateway {
		t.Fatalf("expected bad_gateway, got %v", err)
	}
}
