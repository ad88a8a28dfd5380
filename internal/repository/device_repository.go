package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DeviceRepository keeps the identity of this installation
type DeviceRepository struct {
	db *sql.DB
}

func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// MachineID returns the stored machine id, or "" when none is stored yet
func (r *DeviceRepository) MachineID(ctx context.Context) (string, error) {
	var machineID string
	err := r.db.QueryRowContext(ctx, `SELECT machine_id FROM device_info WHERE id = 1`).Scan(&machineID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get machine id: %w", err)
	}
	return machineID, nil
}

// Save stores the identity and marks it as seen now
func (r *DeviceRepository) Save(ctx context.Context, machineID, deviceName string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_info (id, machine_id, device_name, last_seen_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			machine_id = excluded.machine_id,
			device_name = excluded.device_name,
			last_seen_at = excluded.last_seen_at
	`, machineID, deviceName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save device info: %w", err)
	}
	return nil
}
