package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/framelab/reframe/internal/api"
	"github.com/framelab/reframe/internal/llm"
	"github.com/framelab/reframe/internal/middleware"
)

func newTestServer(t *testing.T, mock *llm.Mock) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	api.NewRouter(api.NewMemoryStore(), mock, 5*time.Second).Register(mux)
	srv := httptest.NewServer(middleware.WithAuth(mux))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func register(t *testing.T, srv *httptest.Server, email, group string) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", map[string]any{
		"username":   "ada",
		"email":      email,
		"studyGroup": group,
		"demographicData": map[string]any{
			"academicLevel":         "graduate",
			"dataScienceExperience": "intermediate",
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("register status %d: %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("register returned no token: %v", body)
	}
	return token
}

func createProblem(t *testing.T, srv *httptest.Server, token string) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/problems", token, map[string]any{
		"taskPrompt":     "Frame a data science problem for a hospital",
		"taskCategory":   "healthcare",
		"initialProblem": "Predict hospital readmission risk from EHR data",
	})
	if status != http.StatusCreated {
		t.Fatalf("create problem status %d: %v", status, body)
	}
	id, _ := body["problemId"].(string)
	if id == "" {
		t.Fatalf("create problem returned no id: %v", body)
	}
	return id
}

func TestStudyFlowEndToEnd(t *testing.T) {
	mock := llm.NewMock(
		llm.MockResponse{Text: "Consider a measurable 30-day window."},
		llm.MockResponse{Text: "What if nurses were the primary stakeholder?"},
	)
	srv := newTestServer(t, mock)
	token := register(t, srv, "ada@example.edu", "challenger-first")

	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/start", token, nil); status != http.StatusOK {
		t.Fatalf("session start status %d", status)
	}
	problemID := createProblem(t, srv, token)

	// A fresh challenger-first problem starts on challenger.
	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/ai/next-mode?problemId="+problemID, token, nil)
	if status != http.StatusOK || body["nextPromptType"] != "challenger" {
		t.Fatalf("next-mode = %d %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/ai/generate", token, map[string]any{
		"problemId":        problemID,
		"promptType":       "challenger",
		"problemStatement": "Predict hospital readmission risk from EHR data",
	})
	if status != http.StatusOK {
		t.Fatalf("generate status %d: %v", status, body)
	}
	if body["response"] != "Consider a measurable 30-day window." || body["model"] != "mock" {
		t.Fatalf("generate body: %v", body)
	}
	interactionID, _ := body["interactionId"].(string)
	if interactionID == "" {
		t.Fatalf("generate returned no interaction id: %v", body)
	}
	if body["nextPromptType"] != "editor" {
		t.Fatalf("after one challenger turn the sequencer should hand out editor, got %v", body["nextPromptType"])
	}

	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/ai/rate", token, map[string]any{
		"interactionId": interactionID,
		"ratings":       map[string]int{"usefulness": 4, "cognitiveLoad": 2, "satisfaction": 5},
		"feedback":      "sharp question",
		"wasAccepted":   true,
	})
	if status != http.StatusOK {
		t.Fatalf("rate status %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPut, srv.URL+"/api/problems/"+problemID+"/interactions/"+interactionID+"/time", token, map[string]any{
		"timeSpent": 95,
	})
	if status != http.StatusOK {
		t.Fatalf("timing status %d: %v", status, body)
	}

	// The persisted problem reflects the whole interaction.
	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/problems/"+problemID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("get problem status %d: %v", status, body)
	}
	problem, _ := body["problem"].(map[string]any)
	interactions, _ := problem["interactions"].([]any)
	if len(interactions) != 1 {
		t.Fatalf("interaction count = %d: %v", len(interactions), problem)
	}
	rec, _ := interactions[0].(map[string]any)
	if rec["timeSpent"] != float64(95) || rec["wasAccepted"] != true {
		t.Fatalf("interaction record: %v", rec)
	}
	rating, _ := rec["rating"].(map[string]any)
	if rating["usefulness"] != float64(4) || rating["cognitiveLoad"] != float64(2) || rating["satisfaction"] != float64(5) {
		t.Fatalf("rating: %v", rating)
	}

	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/problems/"+problemID+"/complete", token, map[string]any{
		"finalProblem": "Predict 30-day readmission risk with AUC >= 0.8",
		"reasoning":    "The challenger pushed us toward a concrete time window.",
	})
	if status != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("complete status %d: %v", status, body)
	}
	if body["interactionCount"] != float64(1) {
		t.Fatalf("completion summary: %v", body)
	}

	// Terminal state sticks.
	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/problems/"+problemID+"/abandon", token, map[string]any{"reason": "too late"})
	if status != http.StatusConflict {
		t.Fatalf("abandon after completion status %d: %v", status, body)
	}

	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/task-completed", token, nil); status != http.StatusOK {
		t.Fatalf("task-completed status %d", status)
	}
	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/end", token, nil); status != http.StatusOK {
		t.Fatalf("session end status %d", status)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("provider call count = %d, want 1", mock.CallCount())
	}
}

func TestGenerateValidationMakesNoExternalCall(t *testing.T) {
	mock := llm.NewMock(llm.MockResponse{Text: "never used"})
	srv := newTestServer(t, mock)
	token := register(t, srv, "bob@example.edu", "editor-first")
	problemID := createProblem(t, srv, token)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/ai/generate", token, map[string]any{
		"problemId":        problemID,
		"promptType":       "oracle",
		"problemStatement": "Predict hospital readmission risk from EHR data",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("invalid prompt type status %d: %v", status, body)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("validation failure still called the provider")
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/problems/"+problemID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("get problem status %d", status)
	}
	problem, _ := body["problem"].(map[string]any)
	if interactions, _ := problem["interactions"].([]any); len(interactions) != 0 {
		t.Fatalf("rejected generation appended an interaction: %v", interactions)
	}
}

func TestGenerateAgainstAbandonedProblem(t *testing.T) {
	mock := llm.NewMock(llm.MockResponse{Text: "never used"})
	srv := newTestServer(t, mock)
	token := register(t, srv, "carol@example.edu", "editor-first")
	problemID := createProblem(t, srv, token)

	if status, body := doJSON(t, http.MethodPost, srv.URL+"/api/problems/"+problemID+"/abandon", token, map[string]any{"reason": "changed topic"}); status != http.StatusOK {
		t.Fatalf("abandon status %d: %v", status, body)
	}

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/ai/generate", token, map[string]any{
		"problemId":        problemID,
		"promptType":       "editor",
		"problemStatement": "Predict hospital readmission risk from EHR data",
	})
	if status != http.StatusNotFound {
		t.Fatalf("generate against abandoned problem status %d: %v", status, body)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("abandoned problem still triggered a provider call")
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, llm.NewMock())

	status, _ := doJSON(t, http.MethodGet, srv.URL+"/api/auth/me", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /me status %d", status)
	}
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/problems", "garbage-token", map[string]any{
		"taskPrompt":     "Frame a data science problem for a hospital",
		"taskCategory":   "healthcare",
		"initialProblem": "Predict hospital readmission risk from EHR data",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", status)
	}
}

func TestWithdrawRevokesAccess(t *testing.T) {
	srv := newTestServer(t, llm.NewMock())
	token := register(t, srv, "dave@example.edu", "editor-first")

	if status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/withdraw", token, map[string]any{"reason": "done"}); status != http.StatusOK {
		t.Fatalf("withdraw status %d: %v", status, body)
	}
	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/start", token, nil); status != http.StatusForbidden {
		t.Fatalf("session start after withdrawal status %d", status)
	}
}
