package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/user/ouiprox/internal/model"
)

// DeviceStorage reads the per-address detection summaries.
type DeviceStorage struct {
	db *DB
}

// NewDeviceStorage creates a new device storage handler.
func NewDeviceStorage(db *DB) *DeviceStorage {
	return &DeviceStorage{db: db}
}

// Get returns the summary for one address, or nil if it was never detected.
func (s *DeviceStorage) Get(mac string) (*model.DeviceSummary, error) {
	var d model.DeviceSummary
	err := s.db.WithRLock(func() error {
		return s.db.QueryRow(`SELECT mac, name, list, last_channel, first_seen, last_seen, count
			FROM devices WHERE mac = ?`, mac).Scan(
			&d.Address, &d.Name, &d.SourceList, &d.LastChannel, &d.FirstSeen, &d.LastSeen, &d.Count)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &d, nil
}

// SeenSince returns devices detected since a given time, most frequent first.
func (s *DeviceStorage) SeenSince(since time.Time) ([]model.DeviceSummary, error) {
	var devices []model.DeviceSummary
	err := s.db.WithRLock(func() error {
		rows, err := s.db.Query(`SELECT mac, name, list, last_channel, first_seen, last_seen, count
			FROM devices WHERE last_seen >= ? ORDER BY count DESC, mac`, since.UTC())
		if err != nil {
			return fmt.Errorf("failed to query devices: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var d model.DeviceSummary
			if err := rows.Scan(&d.Address, &d.Name, &d.SourceList, &d.LastChannel, &d.FirstSeen, &d.LastSeen, &d.Count); err != nil {
				return fmt.Errorf("failed to scan device: %w", err)
			}
			devices = append(devices, d)
		}
		return rows.Err()
	})
	return devices, err
}
