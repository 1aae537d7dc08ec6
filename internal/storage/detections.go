package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/user/ouiprox/internal/model"
)

// DetectionStorage handles detection history persistence.
type DetectionStorage struct {
	db *DB
}

// NewDetectionStorage creates a new detection storage handler.
func NewDetectionStorage(db *DB) *DetectionStorage {
	return &DetectionStorage{db: db}
}

// Save stores a detection and folds it into the device summary.
// An event without an ID is assigned one.
func (s *DetectionStorage) Save(e *model.DetectionEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	ts := e.Timestamp.UTC()

	return s.db.WithLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`INSERT INTO detections (id, mac, name, list, channel, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.Address, e.Name, e.SourceList, e.Channel, ts); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}

		if _, err := tx.Exec(`INSERT INTO devices (mac, name, list, last_channel, first_seen, last_seen, count)
			VALUES (?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(mac) DO UPDATE SET
			name = excluded.name,
			list = excluded.list,
			last_channel = excluded.last_channel,
			last_seen = excluded.last_seen,
			count = devices.count + 1`,
			e.Address, e.Name, e.SourceList, e.Channel, ts, ts); err != nil {
			return fmt.Errorf("failed to update device summary: %w", err)
		}

		return tx.Commit()
	})
}

// GetHistory returns detections since a given time, newest first.
func (s *DetectionStorage) GetHistory(since time.Time) ([]model.DetectionEvent, error) {
	return s.query(`SELECT id, mac, name, list, channel, timestamp
		FROM detections WHERE timestamp >= ? ORDER BY timestamp DESC`, since.UTC())
}

// Recent returns the newest limit detections.
func (s *DetectionStorage) Recent(limit int) ([]model.DetectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(`SELECT id, mac, name, list, channel, timestamp
		FROM detections ORDER BY timestamp DESC LIMIT ?`, limit)
}

func (s *DetectionStorage) query(q string, args ...interface{}) ([]model.DetectionEvent, error) {
	var events []model.DetectionEvent
	err := s.db.WithRLock(func() error {
		rows, err := s.db.Query(q, args...)
		if err != nil {
			return fmt.Errorf("failed to query detections: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e model.DetectionEvent
			if err := rows.Scan(&e.ID, &e.Address, &e.Name, &e.SourceList, &e.Channel, &e.Timestamp); err != nil {
				return fmt.Errorf("failed to scan detection: %w", err)
			}
			events = append(events, e)
		}
		return rows.Err()
	})
	return events, err
}

// Count returns the total number of detections since a given time.
func (s *DetectionStorage) Count(since time.Time) (int, error) {
	var n int
	err := s.db.WithRLock(func() error {
		return s.db.QueryRow("SELECT COUNT(*) FROM detections WHERE timestamp >= ?", since.UTC()).Scan(&n)
	})
	return n, err
}

// CountByList returns detections per source list since a given time.
func (s *DetectionStorage) CountByList(since time.Time) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.WithRLock(func() error {
		rows, err := s.db.Query(`SELECT list, COUNT(*) FROM detections
			WHERE timestamp >= ? GROUP BY list`, since.UTC())
		if err != nil {
			return fmt.Errorf("failed to count by list: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var list string
			var n int
			if err := rows.Scan(&list, &n); err != nil {
				return err
			}
			counts[list] = n
		}
		return rows.Err()
	})
	return counts, err
}

// Clear deletes the detection history and device summaries.
func (s *DetectionStorage) Clear() error {
	return s.db.WithLock(func() error {
		if _, err := s.db.Exec("DELETE FROM detections"); err != nil {
			return fmt.Errorf("failed to clear detections: %w", err)
		}
		if _, err := s.db.Exec("DELETE FROM devices"); err != nil {
			return fmt.Errorf("failed to clear devices: %w", err)
		}
		return nil
	})
}
