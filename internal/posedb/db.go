// Package posedb stores tracking sessions and every transmitted delta pose
// in SQLite.
package posedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/holotrack/internal/httputil"
	"github.com/banshee-data/holotrack/internal/pose"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("session not found")

type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies all
// pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Session is one accepted peer connection.
type Session struct {
	ID        string
	Peer      string
	Width     int
	Height    int
	Framing   string
	StartedAt time.Time
	EndedAt   time.Time // zero while the session is live
	EndReason string
}

// DeltaPose is one transmitted pose.
type DeltaPose struct {
	SessionID  string
	Seq        uint64
	State      string
	FreshFrame bool
	Pose       pose.Pose
	RecordedAt time.Time
}

func (db *DB) StartSession(s Session) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, peer, width, height, framing, started_unix_ns) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Peer, s.Width, s.Height, s.Framing, s.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

func (db *DB) EndSession(id string, at time.Time, reason string) error {
	res, err := db.Exec(
		`UPDATE sessions SET ended_unix_ns = ?, end_reason = ? WHERE session_id = ?`,
		at.UnixNano(), reason, id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Sessions returns every session, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`
		SELECT session_id, peer, width, height, framing, started_unix_ns,
		       COALESCE(ended_unix_ns, 0), COALESCE(end_reason, '')
		FROM sessions ORDER BY started_unix_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started, ended int64
		if err := rows.Scan(&s.ID, &s.Peer, &s.Width, &s.Height, &s.Framing, &started, &ended, &s.EndReason); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started)
		if ended != 0 {
			s.EndedAt = time.Unix(0, ended)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSession returns the most recently started session.
func (db *DB) LatestSession() (Session, error) {
	sessions, err := db.Sessions()
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessions[0], nil
}

func (db *DB) RecordDeltaPose(d DeltaPose) error {
	return db.RecordDeltaPoses([]DeltaPose{d})
}

// RecordDeltaPoses inserts a batch in one transaction.
func (db *DB) RecordDeltaPoses(batch []DeltaPose) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO delta_poses (session_id, seq, state, fresh_frame, tx, ty, tz, matrix_json, recorded_unix_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, d := range batch {
		matrix, err := json.Marshal(pose.Serialize(d.Pose))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode pose %d: %w", d.Seq, err)
		}
		x, y, z := d.Pose.TranslationVector()
		if _, err := stmt.Exec(d.SessionID, int64(d.Seq), d.State, d.FreshFrame, x, y, z, string(matrix), d.RecordedAt.UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert pose %d: %w", d.Seq, err)
		}
	}
	return tx.Commit()
}

// DeltaPoses returns the poses of a session in sequence order. limit <= 0
// returns all of them.
func (db *DB) DeltaPoses(sessionID string, limit int) ([]DeltaPose, error) {
	q := `SELECT seq, state, fresh_frame, matrix_json, recorded_unix_ns
		FROM delta_poses WHERE session_id = ? ORDER BY seq`
	args := []any{sessionID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeltaPose
	for rows.Next() {
		var (
			d        DeltaPose
			seq      int64
			matrix   string
			recorded int64
		)
		if err := rows.Scan(&seq, &d.State, &d.FreshFrame, &matrix, &recorded); err != nil {
			return nil, err
		}
		var vals [16]float32
		if err := json.Unmarshal([]byte(matrix), &vals); err != nil {
			return nil, fmt.Errorf("decode pose %d: %w", seq, err)
		}
		d.SessionID = sessionID
		d.Seq = uint64(seq)
		d.Pose = pose.Pose(vals)
		d.RecordedAt = time.Unix(0, recorded)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDeltaPoses returns the number of stored poses for a session.
func (db *DB) CountDeltaPoses(sessionID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM delta_poses WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// AttachAdminRoutes mounts the tsweb debug index and a tailsql console
// for this database under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Pose log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("sessions", "Recorded tracking sessions", http.HandlerFunc(db.handleSessions))
	return nil
}

func (db *DB) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := db.Sessions()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	type row struct {
		ID        string `json:"id"`
		Peer      string `json:"peer"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Framing   string `json:"framing"`
		StartedAt string `json:"started_at"`
		EndedAt   string `json:"ended_at,omitempty"`
		EndReason string `json:"end_reason,omitempty"`
		Poses     int    `json:"poses"`
	}
	out := make([]row, 0, len(sessions))
	for _, s := range sessions {
		n, _ := db.CountDeltaPoses(s.ID)
		rr := row{
			ID: s.ID, Peer: s.Peer, Width: s.Width, Height: s.Height, Framing: s.Framing,
			StartedAt: s.StartedAt.UTC().Format(time.RFC3339Nano), EndReason: s.EndReason, Poses: n,
		}
		if !s.EndedAt.IsZero() {
			rr.EndedAt = s.EndedAt.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, rr)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
