package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/framelab/reframe/internal/llm"
	"github.com/framelab/reframe/internal/locks"
	"github.com/framelab/reframe/internal/middleware"
	"github.com/framelab/reframe/internal/services"
)

// Router wires the study services to the HTTP surface.
type Router struct {
	problems     *services.ProblemService
	interactions *services.InteractionService
	sessions     *services.SessionService
	auth         *services.AuthService
	ai           *services.AIService
}

// NewRouter builds the service graph over the given store and generator.
// Problem and participant documents share one per-key lock set so every
// mutation path serializes on the same mutex for a given document.
func NewRouter(store Store, gen llm.Generator, aiTimeout time.Duration) *Router {
	lk := locks.NewPerKey()
	signer := func(uid string, group services.StudyGroup, active bool, ttl time.Duration) (string, error) {
		return middleware.SignToken(uid, string(group), active, ttl)
	}
	return &Router{
		problems:     services.NewProblemService(store, lk),
		interactions: services.NewInteractionService(store, lk),
		sessions:     services.NewSessionService(store, lk),
		auth:         services.NewAuthService(store, signer),
		ai:           services.NewAIService(gen, aiTimeout),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister) // POST
	mux.HandleFunc("/api/auth/login", rt.handleLogin)       // POST

	requireParticipant := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireParticipant(h)
	}
	mux.Handle("/api/auth/me", requireParticipant(rt.handleMe))             // GET
	mux.Handle("/api/auth/withdraw", requireParticipant(rt.handleWithdraw)) // POST

	mux.Handle("/api/sessions/start", requireParticipant(rt.handleSessionStart))           // POST
	mux.Handle("/api/sessions/end", requireParticipant(rt.handleSessionEnd))               // POST
	mux.Handle("/api/sessions/task-completed", requireParticipant(rt.handleTaskCompleted)) // POST

	mux.Handle("/api/problems", requireParticipant(rt.handleProblems))       // POST, GET
	mux.Handle("/api/problems/", requireParticipant(rt.handleProblemScoped)) // GET/PUT /{id}, POST /{id}/complete|abandon, PUT /{id}/interactions/{iid}/time

	mux.Handle("/api/ai/generate", requireParticipant(rt.handleGenerate))  // POST
	mux.Handle("/api/ai/rate", requireParticipant(rt.handleRate))          // POST
	mux.Handle("/api/ai/next-mode", requireParticipant(rt.handleNextMode)) // GET
}

// ---- wire shapes (field names follow the original client contract)

type participantJSON struct {
	ParticipantID string `json:"participantId"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	StudyGroup    string `json:"studyGroup"`
	ConsentGiven  bool   `json:"consentGiven"`
	Active        bool   `json:"isActive"`
}

type ratingJSON struct {
	Usefulness    int `json:"usefulness"`
	CognitiveLoad int `json:"cognitiveLoad"`
	Satisfaction  int `json:"satisfaction"`
}

type interactionJSON struct {
	InteractionID string      `json:"interactionId"`
	Timestamp     time.Time   `json:"timestamp"`
	PromptType    string      `json:"promptType"`
	UserInput     string      `json:"userInput,omitempty"`
	AIResponse    string      `json:"aiResponse"`
	Rating        *ratingJSON `json:"rating,omitempty"`
	Feedback      string      `json:"feedback,omitempty"`
	WasAccepted   bool        `json:"wasAccepted"`
	TimeSpent     int         `json:"timeSpent"`
}

type problemJSON struct {
	ProblemID       string            `json:"problemId"`
	TaskPrompt      string            `json:"taskPrompt"`
	TaskCategory    string            `json:"taskCategory"`
	InitialProblem  string            `json:"initialProblem"`
	CurrentProblem  string            `json:"currentProblem"`
	FinalProblem    string            `json:"finalProblem,omitempty"`
	Reasoning       string            `json:"reasoning,omitempty"`
	Status          string            `json:"status"`
	StartTime       time.Time         `json:"startTime"`
	EndTime         *time.Time        `json:"endTime,omitempty"`
	DurationMinutes int               `json:"durationMinutes,omitempty"`
	Interactions    []interactionJSON `json:"interactions"`
}

func toProblemJSON(p *services.Problem) problemJSON {
	out := problemJSON{
		ProblemID:       p.ID,
		TaskPrompt:      p.TaskPrompt,
		TaskCategory:    string(p.TaskCategory),
		InitialProblem:  p.InitialStatement,
		CurrentProblem:  p.CurrentStatement,
		FinalProblem:    p.FinalStatement,
		Reasoning:       p.Reasoning,
		Status:          string(p.Status),
		StartTime:       p.StartedAt,
		EndTime:         p.EndedAt,
		DurationMinutes: p.DurationMinutes,
		Interactions:    make([]interactionJSON, 0, len(p.Interactions)),
	}
	for _, rec := range p.Interactions {
		ij := interactionJSON{
			InteractionID: rec.InteractionID,
			Timestamp:     rec.CreatedAt,
			PromptType:    string(rec.PromptType),
			UserInput:     rec.UserInput,
			AIResponse:    rec.AIResponse,
			Feedback:      rec.Feedback,
			WasAccepted:   rec.WasAccepted,
			TimeSpent:     rec.TimeSpentSeconds,
		}
		if rec.Rating != nil {
			ij.Rating = &ratingJSON{Usefulness: rec.Rating.Usefulness, CognitiveLoad: rec.Rating.CognitiveLoad, Satisfaction: rec.Rating.Satisfaction}
		}
		out.Interactions = append(out.Interactions, ij)
	}
	return out
}

func toParticipantJSON(p *services.Participant) participantJSON {
	return participantJSON{
		ParticipantID: p.ID,
		Username:      p.Username,
		Email:         p.Email,
		StudyGroup:    string(p.StudyGroup),
		ConsentGiven:  p.ConsentGiven,
		Active:        p.Active,
	}
}

// ---- auth

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username        string `json:"username"`
		Email           string `json:"email"`
		StudyGroup      string `json:"studyGroup"`
		DemographicData struct {
			AcademicLevel         string `json:"academicLevel"`
			DataScienceExperience string `json:"dataScienceExperience"`
		} `json:"demographicData"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := rt.auth.Register(services.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		StudyGroup: services.StudyGroup(req.StudyGroup),
		Demographics: services.Demographics{
			AcademicLevel: req.DemographicData.AcademicLevel,
			Experience:    req.DemographicData.DataScienceExperience,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": res.Token, "participant": toParticipantJSON(res.Participant)})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email         string `json:"email"`
		ParticipantID string `json:"participantId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := rt.auth.Login(req.Email, req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "participant": toParticipantJSON(res.Participant)})
}

func (rt *Router) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, _ := identity(r)
	p, err := rt.auth.Profile(uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participant": toParticipantJSON(p)})
}

func (rt *Router) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	uid, _ := identity(r)
	if err := rt.auth.Withdraw(uid, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---- sessions

func (rt *Router) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, _ := identity(r)
	id, err := rt.sessions.Start(uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id})
}

func (rt *Router) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, _ := identity(r)
	if err := rt.sessions.End(uid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (rt *Router) handleTaskCompleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, _ := identity(r)
	if err := rt.sessions.IncrementTasksCompleted(uid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---- problems

func (rt *Router) handleProblems(w http.ResponseWriter, r *http.Request) {
	uid, _ := identity(r)
	switch r.Method {
	case http.MethodPost:
		var req struct {
			TaskPrompt     string `json:"taskPrompt"`
			TaskCategory   string `json:"taskCategory"`
			InitialProblem string `json:"initialProblem"`
			DeviceInfo     *struct {
				UserAgent        string `json:"userAgent"`
				ScreenResolution string `json:"screenResolution"`
				Platform         string `json:"platform"`
			} `json:"deviceInfo"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		in := services.CreateProblemInput{
			TaskPrompt:     req.TaskPrompt,
			TaskCategory:   services.TaskCategory(req.TaskCategory),
			InitialProblem: req.InitialProblem,
		}
		if req.DeviceInfo != nil {
			in.Device = &services.DeviceInfo{
				UserAgent:        req.DeviceInfo.UserAgent,
				ScreenResolution: req.DeviceInfo.ScreenResolution,
				Platform:         req.DeviceInfo.Platform,
			}
		}
		p, err := rt.problems.Create(uid, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toProblemJSON(p))
	case http.MethodGet:
		status := services.ProblemStatus(r.URL.Query().Get("status"))
		ps, err := rt.problems.List(uid, status)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]problemJSON, 0, len(ps))
		for _, p := range ps {
			out = append(out, toProblemJSON(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"problems": out})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProblemScoped dispatches /api/problems/{id} and its sub-resources.
func (rt *Router) handleProblemScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/problems/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	uid, _ := identity(r)

	switch {
	case len(parts) == 1 && parts[0] != "":
		rt.handleProblemByID(w, r, uid, parts[0])
	case len(parts) == 2 && parts[1] == "complete":
		rt.handleComplete(w, r, uid, parts[0])
	case len(parts) == 2 && parts[1] == "abandon":
		rt.handleAbandon(w, r, uid, parts[0])
	case len(parts) == 4 && parts[1] == "interactions" && parts[3] == "time":
		rt.handleInteractionTiming(w, r, uid, parts[0], parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleProblemByID(w http.ResponseWriter, r *http.Request, uid, problemID string) {
	switch r.Method {
	case http.MethodGet:
		p, err := rt.problems.Get(uid, problemID)
		if err != nil {
			writeError(w, err)
			return
		}
		group := studyGroup(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"problem":        toProblemJSON(p),
			"nextPromptType": string(services.NextMode(group, p.Interactions)),
		})
	case http.MethodPut:
		var req struct {
			CurrentProblem string `json:"currentProblem"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := rt.problems.UpdateDraft(uid, problemID, req.CurrentProblem); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) handleComplete(w http.ResponseWriter, r *http.Request, uid, problemID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		FinalProblem string `json:"finalProblem"`
		Reasoning    string `json:"reasoning"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := rt.problems.Complete(uid, problemID, req.FinalProblem, req.Reasoning)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"problemId":        p.ID,
		"status":           string(p.Status),
		"endTime":          p.EndedAt,
		"durationMinutes":  p.DurationMinutes,
		"interactionCount": len(p.Interactions),
	})
}

func (rt *Router) handleAbandon(w http.ResponseWriter, r *http.Request, uid, problemID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := rt.problems.Abandon(uid, problemID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (rt *Router) handleInteractionTiming(w http.ResponseWriter, r *http.Request, uid, problemID, interactionID string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		TimeSpent int `json:"timeSpent"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := rt.interactions.UpdateTiming(uid, problemID, interactionID, req.TimeSpent); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---- AI

func (rt *Router) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ProblemStatement string `json:"problemStatement"`
		UserInput        string `json:"userInput"`
		PromptType       string `json:"promptType"`
		ProblemID        string `json:"problemId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	uid, _ := identity(r)
	promptType := services.PromptType(req.PromptType)

	// Resolve the bound problem up front so a missing or abandoned problem
	// fails before the external call is spent. The append re-checks under
	// the document lock.
	if req.ProblemID != "" {
		p, err := rt.problems.Get(uid, req.ProblemID)
		if err != nil {
			writeError(w, err)
			return
		}
		if p.Status == services.StatusAbandoned {
			writeError(w, services.NewNotFoundError("problem not found"))
			return
		}
	}

	res, err := rt.ai.Generate(r.Context(), services.GenerateRequest{
		PromptType:       promptType,
		ProblemStatement: req.ProblemStatement,
		UserInput:        req.UserInput,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := map[string]any{
		"response":   res.Text,
		"promptType": string(res.PromptType),
		"timestamp":  res.GeneratedAt,
		"model":      res.ModelID,
	}
	if req.ProblemID != "" {
		rec, err := rt.interactions.Append(uid, req.ProblemID, promptType, req.UserInput, res.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		out["interactionId"] = rec.InteractionID
		if next, err := rt.problems.NextPromptType(uid, req.ProblemID, studyGroup(r)); err == nil {
			out["nextPromptType"] = string(next)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		InteractionID string     `json:"interactionId"`
		Ratings       ratingJSON `json:"ratings"`
		Feedback      string     `json:"feedback"`
		WasAccepted   bool       `json:"wasAccepted"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	uid, _ := identity(r)
	err := rt.interactions.Rate(uid, services.RateInput{
		InteractionID: req.InteractionID,
		Ratings: services.Rating{
			Usefulness:    req.Ratings.Usefulness,
			CognitiveLoad: req.Ratings.CognitiveLoad,
			Satisfaction:  req.Ratings.Satisfaction,
		},
		Feedback:    req.Feedback,
		WasAccepted: req.WasAccepted,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (rt *Router) handleNextMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, _ := identity(r)
	problemID := r.URL.Query().Get("problemId")
	if problemID == "" {
		writeError(w, services.NewInvalidError("problemId required"))
		return
	}
	next, err := rt.problems.NextPromptType(uid, problemID, studyGroup(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nextPromptType": string(next)})
}

// ---- helpers

func identity(r *http.Request) (string, bool) {
	c, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return "", false
	}
	return c.UID, true
}

func studyGroup(r *http.Request) services.StudyGroup {
	if c, ok := middleware.ClaimsFromContext(r.Context()); ok {
		return services.StudyGroup(c.Group)
	}
	return services.GroupEditorFirst
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, services.NewInvalidError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	if se, ok := services.AsServiceError(err); ok {
		msg = se.Message
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorInvalidState, services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorBadGateway:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]any{"error": msg})
}
