// Package runlog persists capture-session history and telemetry
// readings to a local sqlite database so a scan can be audited after
// the fact.
package runlog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps the run-log database.
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the run-log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id     TEXT PRIMARY KEY,
			subject_id     TEXT,
			started_at     TIMESTAMP,
			duration_sec   BIGINT,
			left_mask      INTEGER,
			right_mask     INTEGER,
			disable_laser  BOOLEAN,
			ok             BOOLEAN,
			error          TEXT,
			left_path      TEXT,
			right_path     TEXT,
			finished_at    TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS session_log (
			session_id     TEXT,
			line           TEXT,
			timestamp      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS telemetry (
			timestamp      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			tec_voltage    DOUBLE,
			tec_object_c   DOUBLE,
			tec_sink_c     DOUBLE,
			rail_5v        DOUBLE,
			rail_12v       DOUBLE,
			laser_ma       DOUBLE,
			se_status      INTEGER,
			so_status      INTEGER,
			fsync_count    BIGINT,
			lsync_count    BIGINT,
			laser_temp_raw INTEGER,
			laser_mon_raw  INTEGER
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run-log schema: %w", err)
	}

	return &Store{db}, nil
}

// Session is one capture-session record.
type Session struct {
	ID           string
	SubjectID    string
	StartedAt    time.Time
	DurationSec  int
	LeftMask     byte
	RightMask    byte
	DisableLaser bool
	OK           bool
	Error        string
	LeftPath     string
	RightPath    string
}

// StartSession records a new session and returns its identifier.
func (s *Store) StartSession(subjectID string, durationSec int, leftMask, rightMask byte, disableLaser bool) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(`
		INSERT INTO sessions (session_id, subject_id, started_at, duration_sec, left_mask, right_mask, disable_laser)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, subjectID, time.Now(), durationSec, leftMask, rightMask, disableLaser)
	if err != nil {
		return "", fmt.Errorf("failed to record session start: %w", err)
	}
	return id, nil
}

// FinishSession records a session's terminal result.
func (s *Store) FinishSession(id string, ok bool, errMsg, leftPath, rightPath string) error {
	_, err := s.Exec(`
		UPDATE sessions SET ok = ?, error = ?, left_path = ?, right_path = ?, finished_at = ?
		WHERE session_id = ?`,
		ok, errMsg, leftPath, rightPath, time.Now(), id)
	return err
}

// AppendLine adds one log line to a session's run log.
func (s *Store) AppendLine(sessionID, line string) error {
	_, err := s.Exec(`INSERT INTO session_log (session_id, line) VALUES (?, ?)`, sessionID, line)
	return err
}

// Reading is one telemetry poll, already converted to physical units
// where a model exists; the two raw I2C values are kept as counts.
type Reading struct {
	TECVoltage   float64
	TECObjectC   float64
	TECSinkC     float64
	Rail5V       float64
	Rail12V      float64
	LaserMA      float64
	SEStatus     byte
	SOStatus     byte
	FsyncCount   uint32
	LsyncCount   uint32
	LaserTempRaw uint16
	LaserMonRaw  uint16
}

// RecordTelemetry appends one poller reading.
func (s *Store) RecordTelemetry(r Reading) error {
	_, err := s.Exec(`
		INSERT INTO telemetry (tec_voltage, tec_object_c, tec_sink_c, rail_5v, rail_12v, laser_ma,
			se_status, so_status, fsync_count, lsync_count, laser_temp_raw, laser_mon_raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TECVoltage, r.TECObjectC, r.TECSinkC, r.Rail5V, r.Rail12V, r.LaserMA,
		r.SEStatus, r.SOStatus, r.FsyncCount, r.LsyncCount, r.LaserTempRaw, r.LaserMonRaw)
	return err
}

// Sessions returns recorded sessions, most recent first.
func (s *Store) Sessions(limit int) ([]Session, error) {
	rows, err := s.Query(`
		SELECT session_id, subject_id, started_at, duration_sec, left_mask, right_mask,
			disable_laser, COALESCE(ok, 0), COALESCE(error, ''), COALESCE(left_path, ''), COALESCE(right_path, '')
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var left, right int
		if err := rows.Scan(&sess.ID, &sess.SubjectID, &sess.StartedAt, &sess.DurationSec,
			&left, &right, &sess.DisableLaser, &sess.OK, &sess.Error, &sess.LeftPath, &sess.RightPath); err != nil {
			return nil, err
		}
		sess.LeftMask = byte(left)
		sess.RightMask = byte(right)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
