// Package db persists study documents in SQLite. Problems and participants
// are stored document-style: scalar fields as columns, the embedded
// interaction log, sessions, evaluation, demographics, and device info as
// JSON columns. The JSON array order is the canonical interaction order.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/framelab/reframe/internal/api"
	"github.com/framelab/reframe/internal/services"
)

const schema = `
CREATE TABLE IF NOT EXISTS problems (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	task_prompt       TEXT NOT NULL,
	task_category     TEXT NOT NULL,
	initial_statement TEXT NOT NULL,
	current_statement TEXT NOT NULL,
	final_statement   TEXT,
	reasoning         TEXT,
	status            TEXT NOT NULL,
	started_at        TEXT NOT NULL,
	ended_at          TEXT,
	duration_minutes  INTEGER NOT NULL DEFAULT 0,
	interactions      TEXT NOT NULL DEFAULT '[]',
	evaluation        TEXT,
	device            TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_problems_owner_status ON problems(owner_id, status);

CREATE TABLE IF NOT EXISTS participants (
	id                TEXT PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	username          TEXT NOT NULL,
	study_group       TEXT NOT NULL,
	consent_given     INTEGER NOT NULL DEFAULT 1,
	consent_at        TEXT NOT NULL,
	active            INTEGER NOT NULL DEFAULT 1,
	withdrawn         INTEGER NOT NULL DEFAULT 0,
	withdrawal_reason TEXT,
	withdrawn_at      TEXT,
	credential_hash   BLOB,
	sessions          TEXT NOT NULL DEFAULT '[]',
	demographics      TEXT,
	created_at        TEXT NOT NULL,
	last_active_at    TEXT
);

CREATE TABLE IF NOT EXISTS audit_log (
	at     TEXT NOT NULL,
	actor  TEXT,
	action TEXT NOT NULL,
	target TEXT,
	note   TEXT
);
`

type SQLiteStore struct {
	db *sql.DB
}

func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return NewSQLiteStore(db)
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ api.Store = (*SQLiteStore)(nil)

// ---- problems

func (s *SQLiteStore) InsertProblem(p *services.Problem) error {
	interactions, err := encodeJSON(p.Interactions)
	if err != nil {
		return err
	}
	evaluation, err := encodeJSONNullable(p.Evaluation)
	if err != nil {
		return err
	}
	device, err := encodeJSONNullable(p.Device)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO problems
		(id, owner_id, task_prompt, task_category, initial_statement, current_statement,
		final_statement, reasoning, status, started_at, ended_at, duration_minutes,
		interactions, evaluation, device, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.TaskPrompt, string(p.TaskCategory), p.InitialStatement, p.CurrentStatement,
		toNullString(p.FinalStatement), toNullString(p.Reasoning), string(p.Status),
		formatTime(p.StartedAt), toNullTime(p.EndedAt), p.DurationMinutes,
		interactions, evaluation, device, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

func (s *SQLiteStore) GetProblem(id string) (*services.Problem, error) {
	row := s.db.QueryRow(problemSelect+` WHERE id = ?`, id)
	p, err := scanProblem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) ListProblemsByOwner(ownerID string, status services.ProblemStatus) ([]*services.Problem, error) {
	query := problemSelect + ` WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*services.Problem{}
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateProblem(p *services.Problem) error {
	interactions, err := encodeJSON(p.Interactions)
	if err != nil {
		return err
	}
	evaluation, err := encodeJSONNullable(p.Evaluation)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE problems SET
		current_statement = ?, final_statement = ?, reasoning = ?, status = ?,
		ended_at = ?, duration_minutes = ?, interactions = ?, evaluation = ?, updated_at = ?
		WHERE id = ?`,
		p.CurrentStatement, toNullString(p.FinalStatement), toNullString(p.Reasoning), string(p.Status),
		toNullTime(p.EndedAt), p.DurationMinutes, interactions, evaluation, formatTime(p.UpdatedAt), p.ID)
	return err
}

func (s *SQLiteStore) FindProblemByInteraction(ownerID, interactionID string) (*services.Problem, error) {
	// LIKE prefilter over the JSON column; the decoded document confirms the
	// match. Interaction ids are uuids, so no LIKE metacharacters appear.
	rows, err := s.db.Query(problemSelect+` WHERE owner_id = ? AND interactions LIKE ?`,
		ownerID, "%"+interactionID+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		for i := range p.Interactions {
			if p.Interactions[i].InteractionID == interactionID {
				return p, nil
			}
		}
	}
	return nil, rows.Err()
}

const problemSelect = `SELECT id, owner_id, task_prompt, task_category, initial_statement,
	current_statement, final_statement, reasoning, status, started_at, ended_at,
	duration_minutes, interactions, evaluation, device, created_at, updated_at FROM problems`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProblem(row rowScanner) (*services.Problem, error) {
	var (
		p                    services.Problem
		category, status     string
		finalStmt, reasoning sql.NullString
		startedAt, createdAt string
		updatedAt            string
		endedAt              sql.NullString
		interactions         string
		evaluation, device   sql.NullString
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.TaskPrompt, &category, &p.InitialStatement,
		&p.CurrentStatement, &finalStmt, &reasoning, &status, &startedAt, &endedAt,
		&p.DurationMinutes, &interactions, &evaluation, &device, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.TaskCategory = services.TaskCategory(category)
	p.Status = services.ProblemStatus(status)
	p.FinalStatement = finalStmt.String
	p.Reasoning = reasoning.String
	p.StartedAt = parseTime(startedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	p.EndedAt = parseNullTime(endedAt)
	p.Interactions = []services.InteractionRecord{}
	if err := json.Unmarshal([]byte(interactions), &p.Interactions); err != nil {
		return nil, fmt.Errorf("decode interactions for problem %s: %w", p.ID, err)
	}
	if evaluation.Valid && strings.TrimSpace(evaluation.String) != "" {
		var ev services.Evaluation
		if err := json.Unmarshal([]byte(evaluation.String), &ev); err != nil {
			log.Printf("sqlite store: decode evaluation for problem %s: %v", p.ID, err)
		} else {
			p.Evaluation = &ev
		}
	}
	if device.Valid && strings.TrimSpace(device.String) != "" {
		var d services.DeviceInfo
		if err := json.Unmarshal([]byte(device.String), &d); err != nil {
			log.Printf("sqlite store: decode device info for problem %s: %v", p.ID, err)
		} else {
			p.Device = &d
		}
	}
	return &p, nil
}

// ---- participants

func (s *SQLiteStore) InsertParticipant(p *services.Participant) error {
	sessions, err := encodeJSON(p.Sessions)
	if err != nil {
		return err
	}
	demographics, err := encodeJSON(p.Demographics)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO participants
		(id, email, username, study_group, consent_given, consent_at, active,
		withdrawn, withdrawal_reason, withdrawn_at, credential_hash, sessions,
		demographics, created_at, last_active_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Email, p.Username, string(p.StudyGroup), boolToInt64(p.ConsentGiven),
		formatTime(p.ConsentAt), boolToInt64(p.Active), boolToInt64(p.Withdrawn),
		toNullString(p.WithdrawalReason), toNullTime(p.WithdrawnAt), p.CredentialHash,
		sessions, demographics, formatTime(p.CreatedAt), toNullTime(p.LastActiveAt))
	return err
}

func (s *SQLiteStore) GetParticipant(id string) (*services.Participant, error) {
	row := s.db.QueryRow(participantSelect+` WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) FindParticipantByEmail(email string) (*services.Participant, error) {
	row := s.db.QueryRow(participantSelect+` WHERE email = ? COLLATE NOCASE`, email)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) UpdateParticipant(p *services.Participant) error {
	sessions, err := encodeJSON(p.Sessions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE participants SET
		active = ?, withdrawn = ?, withdrawal_reason = ?, withdrawn_at = ?,
		sessions = ?, last_active_at = ?
		WHERE id = ?`,
		boolToInt64(p.Active), boolToInt64(p.Withdrawn), toNullString(p.WithdrawalReason),
		toNullTime(p.WithdrawnAt), sessions, toNullTime(p.LastActiveAt), p.ID)
	return err
}

const participantSelect = `SELECT id, email, username, study_group, consent_given,
	consent_at, active, withdrawn, withdrawal_reason, withdrawn_at, credential_hash,
	sessions, demographics, created_at, last_active_at FROM participants`

func scanParticipant(row rowScanner) (*services.Participant, error) {
	var (
		p                       services.Participant
		group                   string
		consentGiven, active    int64
		withdrawn               int64
		withdrawalReason        sql.NullString
		consentAt, createdAt    string
		withdrawnAt, lastActive sql.NullString
		sessions                string
		demographics            sql.NullString
	)
	err := row.Scan(&p.ID, &p.Email, &p.Username, &group, &consentGiven, &consentAt,
		&active, &withdrawn, &withdrawalReason, &withdrawnAt, &p.CredentialHash,
		&sessions, &demographics, &createdAt, &lastActive)
	if err != nil {
		return nil, err
	}
	p.StudyGroup = services.StudyGroup(group)
	p.ConsentGiven = int64ToBool(consentGiven)
	p.Active = int64ToBool(active)
	p.Withdrawn = int64ToBool(withdrawn)
	p.WithdrawalReason = withdrawalReason.String
	p.ConsentAt = parseTime(consentAt)
	p.CreatedAt = parseTime(createdAt)
	p.WithdrawnAt = parseNullTime(withdrawnAt)
	p.LastActiveAt = parseNullTime(lastActive)
	p.Sessions = []services.StudySession{}
	if err := json.Unmarshal([]byte(sessions), &p.Sessions); err != nil {
		return nil, fmt.Errorf("decode sessions for participant %s: %w", p.ID, err)
	}
	if demographics.Valid && strings.TrimSpace(demographics.String) != "" {
		if err := json.Unmarshal([]byte(demographics.String), &p.Demographics); err != nil {
			log.Printf("sqlite store: decode demographics for participant %s: %v", p.ID, err)
		}
	}
	return &p, nil
}

// ---- audit

func (s *SQLiteStore) AddAudit(e services.AuditEntry) {
	_, err := s.db.Exec(`INSERT INTO audit_log (at, actor, action, target, note) VALUES (?,?,?,?,?)`,
		formatTime(e.Time), e.Actor, e.Action, e.Target, e.Note)
	if err != nil {
		log.Printf("sqlite store: add audit: %v", err)
	}
}

func (s *SQLiteStore) ListAudit() []services.AuditEntry {
	rows, err := s.db.Query(`SELECT at, actor, action, target, note FROM audit_log ORDER BY at`)
	if err != nil {
		log.Printf("sqlite store: list audit: %v", err)
		return nil
	}
	defer rows.Close()
	out := []services.AuditEntry{}
	for rows.Next() {
		var e services.AuditEntry
		var at string
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			log.Printf("sqlite store: scan audit: %v", err)
			return out
		}
		e.Time = parseTime(at)
		out = append(out, e)
	}
	return out
}

// ---- helpers

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeJSONNullable(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *services.Evaluation:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *services.DeviceInfo:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func toNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		log.Printf("sqlite store: parse time %q: %v", s, err)
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
