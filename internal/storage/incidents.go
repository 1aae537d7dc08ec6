package storage

import (
	"fmt"
	"time"

	"github.com/user/ouiprox/internal/model"
)

// IncidentStorage records detection loop faults and recoveries.
type IncidentStorage struct {
	db *DB
}

// NewIncidentStorage creates a new incident storage handler.
func NewIncidentStorage(db *DB) *IncidentStorage {
	return &IncidentStorage{db: db}
}

// Save stores an incident.
func (s *IncidentStorage) Save(inc *model.Incident) error {
	if inc.Timestamp.IsZero() {
		inc.Timestamp = time.Now()
	}
	return s.db.WithLock(func() error {
		result, err := s.db.Exec(`INSERT INTO incidents (type, message, timestamp) VALUES (?, ?, ?)`,
			string(inc.Type), inc.Message, inc.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert incident: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		inc.ID = id
		return nil
	})
}

// GetHistory returns incidents since a given time, newest first.
func (s *IncidentStorage) GetHistory(since time.Time) ([]model.Incident, error) {
	var incidents []model.Incident
	err := s.db.WithRLock(func() error {
		rows, err := s.db.Query(`SELECT id, type, message, timestamp FROM incidents
			WHERE timestamp >= ? ORDER BY timestamp DESC, id DESC`, since.UTC())
		if err != nil {
			return fmt.Errorf("failed to query incidents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var inc model.Incident
			var typ string
			if err := rows.Scan(&inc.ID, &typ, &inc.Message, &inc.Timestamp); err != nil {
				return fmt.Errorf("failed to scan incident: %w", err)
			}
			inc.Type = model.IncidentType(typ)
			incidents = append(incidents, inc)
		}
		return rows.Err()
	})
	return incidents, err
}

// CountByType returns incident counts per type since a given time.
func (s *IncidentStorage) CountByType(since time.Time) (map[model.IncidentType]int, error) {
	counts := make(map[model.IncidentType]int)
	err := s.db.WithRLock(func() error {
		rows, err := s.db.Query(`SELECT type, COUNT(*) FROM incidents WHERE timestamp >= ? GROUP BY type`, since.UTC())
		if err != nil {
			return fmt.Errorf("failed to count incidents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var typ string
			var n int
			if err := rows.Scan(&typ, &n); err != nil {
				return err
			}
			counts[model.IncidentType(typ)] = n
		}
		return rows.Err()
	})
	return counts, err
}
