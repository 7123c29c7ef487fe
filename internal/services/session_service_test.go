package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/framelab/reframe/internal/locks"
)

func newTestSessionService(store *stubStore) *SessionService {
	svc := NewSessionService(store, locks.NewPerKey())
	seq := 0
	svc.idGen = func() string {
		seq++
		return fmt.Sprintf("sess-%d", seq)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC) }
	return svc
}

func seedParticipant(store *stubStore, id string, active bool) {
	store.participants[id] = &Participant{
		ID:       id,
		Email:    id + "@example.edu",
		Username: "tester",
		Active:   active,
		Sessions: []StudySession{},
	}
}

func TestSessionStartAndEnd(t *testing.T) {
	store := newStubStore()
	svc := newTestSessionService(store)
	seedParticipant(store, "user-1", true)

	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	id, err := svc.Start("user-1")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if id == "" {
		t.Fatalf("empty session id")
	}

	svc.now = func() time.Time { return start.Add(25 * time.Minute) }
	if err := svc.End("user-1"); err != nil {
		t.Fatalf("End error: %v", err)
	}

	p, _ := store.GetParticipant("user-1")
	if len(p.Sessions) != 1 {
		t.Fatalf("session count = %d", len(p.Sessions))
	}
	sess := p.Sessions[0]
	if sess.ID != id || sess.EndedAt == nil || sess.DurationMinutes != 25 {
		t.Fatalf("session not closed correctly: %+v", sess)
	}
	if p.LastActiveAt == nil || !p.LastActiveAt.Equal(start.Add(25*time.Minute)) {
		t.Fatalf("last-active not bumped: %v", p.LastActiveAt)
	}
}

func TestSessionEndWithoutOpenSessionIsNoop(t *testing.T) {
	store := newStubStore()
	svc := newTestSessionService(store)
	seedParticipant(store, "user-1", true)

	if err := svc.End("user-1"); err != nil {
		t.Fatalf("End with nothing open should be a no-op, got %v", err)
	}
	if err := svc.IncrementTasksCompleted("user-1"); err != nil {
		t.Fatalf("Increment with nothing open should be a no-op, got %v", err)
	}
	p, _ := store.GetParticipant("user-1")
	if len(p.Sessions) != 0 {
		t.Fatalf("no-op created a session: %+v", p.Sessions)
	}
}

func TestSessionEndClosesFirstOpenSession(t *testing.T) {
	store := newStubStore()
	svc := newTestSessionService(store)
	seedParticipant(store, "user-1", true)

	first, _ := svc.Start("user-1")
	second, _ := svc.Start("user-1")
	if err := svc.End("user-1"); err != nil {
		t.Fatalf("End error: %v", err)
	}

	p, _ := store.GetParticipant("user-1")
	if p.Sessions[0].ID != first || p.Sessions[0].EndedAt == nil {
		t.Fatalf("first open session should close first: %+v", p.Sessions)
	}
	if p.Sessions[1].ID != second || p.Sessions[1].EndedAt != nil {
		t.Fatalf("second session should stay open: %+v", p.Sessions)
	}
}

func TestIncrementTasksCompleted(t *testing.T) {
	store := newStubStore()
	svc := newTestSessionService(store)
	seedParticipant(store, "user-1", true)

	if _, err := svc.Start("user-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := svc.IncrementTasksCompleted("user-1"); err != nil {
			t.Fatalf("Increment error: %v", err)
		}
	}
	p, _ := store.GetParticipant("user-1")
	if p.Sessions[0].TasksCompleted != 3 {
		t.Fatalf("tasks completed = %d, want 3", p.Sessions[0].TasksCompleted)
	}
}

func TestSessionRequiresActiveParticipant(t *testing.T) {
	store := newStubStore()
	svc := newTestSessionService(store)
	seedParticipant(store, "inactive", false)

	if _, err := svc.Start("inactive"); errCode(err) != ErrorForbidden {
		t.Fatalf("inactive start: expected forbidden, got %v", err)
	}
	if _, err := svc.Start("missing"); errCode(err) != ErrorNotFound {
		t.Fatalf("unknown participant: expected not_found, got %v", err)
	}
	if _, err := svc.Start(""); errCode(err) != ErrorUnauthorized {
		t.Fatalf("empty id: expected unauthorized, got %v", err)
	}
}
