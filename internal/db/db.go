// Package db persists advertising-packet sightings in SQLite.
package db

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/blerx/internal/advdata"
	"github.com/banshee-data/blerx/internal/ble"
)

// ErrSessionNotFound is returned by EndSession for an unknown or already ended session.
var ErrSessionNotFound = errors.New("session not found")

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the database at path and applies the embedded
// migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the receiver records from a single goroutine.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(Migrations()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Session is one run of the receiver.
type Session struct {
	ID        uuid.UUID  `json:"session_id"`
	Source    string     `json:"source"`
	Channel   uint8      `json:"channel"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// StartSession records the start of a receiver run.
func (db *DB) StartSession(source string, channel uint8, at time.Time) (Session, error) {
	s := Session{ID: uuid.New(), Source: source, Channel: channel, StartedAt: at}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, source, channel, started_at) VALUES (?, ?, ?, ?)`,
		s.ID.String(), source, channel, at.UnixNano(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end time of an open session.
func (db *DB) EndSession(id uuid.UUID, at time.Time) error {
	res, err := db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`,
		at.UnixNano(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Sessions returns the most recent sessions first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, source, channel, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			id      string
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&id, &s.Source, &s.Channel, &started, &ended); err != nil {
			return nil, err
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("session %q: %w", id, err)
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Sighting is a stored accepted packet.
type Sighting struct {
	ID          int64       `json:"sighting_id"`
	SessionID   uuid.UUID   `json:"session_id"`
	Address     ble.Address `json:"address"`
	PDUType     ble.PDUType `json:"pdu_type"`
	TxAdd       bool        `json:"tx_add"`
	Channel     uint8       `json:"channel"`
	Length      int         `json:"length"`
	PayloadHex  string      `json:"payload_hex"`
	LocalName   string      `json:"local_name,omitempty"`
	SampleIndex uint64      `json:"sample_index"`
	SeenAt      time.Time   `json:"seen_at"`
}

// RecordSighting stores an accepted record under session. The local name is taken from
// the advertising data when present; malformed advertising data is stored as is.
func (db *DB) RecordSighting(session uuid.UUID, r ble.Record, seenAt time.Time) error {
	info, _ := advdata.Decode(r.AdvData())
	var name sql.NullString
	if info.LocalName != "" {
		name = sql.NullString{String: info.LocalName, Valid: true}
	}

	_, err := db.Exec(
		`INSERT INTO sightings (
			session_id, address, pdu_type, tx_add, channel, length,
			payload_hex, local_name, sample_index, seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.String(), r.Address.String(), r.PDUType.String(), r.TxAdd, r.Channel, r.Length,
		hex.EncodeToString(r.Payload), name, int64(r.SampleIndex), seenAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record sighting: %w", err)
	}
	return nil
}

// RecentSightings returns up to limit sightings, newest first.
func (db *DB) RecentSightings(limit int) ([]Sighting, error) {
	rows, err := db.Query(
		`SELECT sighting_id, session_id, address, pdu_type, tx_add, channel, length,
			payload_hex, local_name, sample_index, seen_at
		 FROM sightings ORDER BY seen_at DESC, sighting_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sightings []Sighting
	for rows.Next() {
		var (
			s        Sighting
			session  string
			address  string
			pduType  string
			name     sql.NullString
			sampleIx int64
			seenAt   int64
		)
		if err := rows.Scan(&s.ID, &session, &address, &pduType, &s.TxAdd, &s.Channel, &s.Length,
			&s.PayloadHex, &name, &sampleIx, &seenAt); err != nil {
			return nil, err
		}
		if s.SessionID, err = uuid.Parse(session); err != nil {
			return nil, fmt.Errorf("sighting %d session: %w", s.ID, err)
		}
		if s.Address, err = ble.ParseAddress(address); err != nil {
			return nil, fmt.Errorf("sighting %d: %w", s.ID, err)
		}
		if err := s.PDUType.UnmarshalText([]byte(pduType)); err != nil {
			return nil, fmt.Errorf("sighting %d: %w", s.ID, err)
		}
		s.LocalName = name.String
		s.SampleIndex = uint64(sampleIx)
		s.SeenAt = time.Unix(0, seenAt)
		sightings = append(sightings, s)
	}
	return sightings, rows.Err()
}

// DeviceSummary aggregates the sightings of one advertiser address.
type DeviceSummary struct {
	Address   ble.Address `json:"address"`
	Count     int         `json:"count"`
	LocalName string      `json:"local_name,omitempty"`
	FirstSeen time.Time   `json:"first_seen"`
	LastSeen  time.Time   `json:"last_seen"`
}

// DeviceSummaries groups sightings seen at or after since by address, busiest first.
func (db *DB) DeviceSummaries(since time.Time) ([]DeviceSummary, error) {
	rows, err := db.Query(`
		SELECT s.address, COUNT(*), MIN(s.seen_at), MAX(s.seen_at),
			(SELECT n.local_name FROM sightings n
			 WHERE n.address = s.address AND n.local_name IS NOT NULL
			 ORDER BY n.seen_at DESC LIMIT 1)
		FROM sightings s
		WHERE s.seen_at >= ?
		GROUP BY s.address
		ORDER BY COUNT(*) DESC, s.address`, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeviceSummary
	for rows.Next() {
		var (
			d           DeviceSummary
			address     string
			first, last int64
			name        sql.NullString
		)
		if err := rows.Scan(&address, &d.Count, &first, &last, &name); err != nil {
			return nil, err
		}
		if d.Address, err = ble.ParseAddress(address); err != nil {
			return nil, err
		}
		d.FirstSeen = time.Unix(0, first)
		d.LastSeen = time.Unix(0, last)
		d.LocalName = name.String
		out = append(out, d)
	}
	return out, rows.Err()
}
