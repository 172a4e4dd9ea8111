package db

import (
	"context"
	"errors"
	"fmt"

	"agrosmart/internal/models"
	"agrosmart/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DueSchedules fetches enabled schedules matching an ISO weekday and "HH:MM"
func (d *DB) DueSchedules(ctx context.Context, weekday int, hhmm string) ([]models.Schedule, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, device_id, enabled, days, time, duration_minutes, label
		 FROM schedules
		 WHERE enabled AND $1 = ANY(days) AND time = $2
		 ORDER BY id`, weekday, hhmm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		var (
			s    models.Schedule
			days []int32
		)
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.Enabled, &days, &s.Time, &s.DurationMinutes, &s.Label); err != nil {
			return nil, err
		}
		s.Days = make([]int, len(days))
		for i, v := range days {
			s.Days[i] = int(v)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// UpsertSchedule creates or replaces a schedule
func (d *DB) UpsertSchedule(ctx context.Context, s models.Schedule) error {
	days := make([]int32, len(s.Days))
	for i, v := range s.Days {
		days[i] = int32(v)
	}
	_, err := d.pool.Exec(ctx,
		`INSERT INTO schedules (id, device_id, enabled, days, time, duration_minutes, label)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   device_id = EXCLUDED.device_id, enabled = EXCLUDED.enabled, days = EXCLUDED.days,
		   time = EXCLUDED.time, duration_minutes = EXCLUDED.duration_minutes, label = EXCLUDED.label`,
		s.ID, s.DeviceID, s.Enabled, days, s.Time, s.DurationMinutes, s.Label)
	return err
}

// GetDevice fetches a device by ID
func (d *DB) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	err := d.pool.QueryRow(ctx,
		`SELECT device_id, name, COALESCE(owner_uid, ''), target_soil_moisture, enable_weather_control, latitude, longitude
		 FROM devices WHERE device_id = $1`, id).
		Scan(&device.ID, &device.Name, &device.OwnerUID,
			&device.Settings.TargetSoilMoisture, &device.Settings.EnableWeatherControl,
			&device.Settings.Latitude, &device.Settings.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// UpsertDevice creates or replaces a device and its settings
func (d *DB) UpsertDevice(ctx context.Context, device models.Device) error {
	var owner *string
	if device.OwnerUID != "" {
		owner = &device.OwnerUID
	}
	_, err := d.pool.Exec(ctx,
		`INSERT INTO devices (device_id, name, owner_uid, target_soil_moisture, enable_weather_control, latitude, longitude)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (device_id) DO UPDATE SET
		   name = EXCLUDED.name, owner_uid = EXCLUDED.owner_uid,
		   target_soil_moisture = EXCLUDED.target_soil_moisture,
		   enable_weather_control = EXCLUDED.enable_weather_control,
		   latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude`,
		device.ID, device.Name, owner, device.Settings.TargetSoilMoisture,
		device.Settings.EnableWeatherControl, device.Settings.Latitude, device.Settings.Longitude)
	return err
}

// GetUserByUsername fetches a user with its password hash
func (d *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := d.pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1", username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user and returns its generated id
func (d *DB) CreateUser(ctx context.Context, username, passwordHash string) (string, error) {
	id := uuid.NewString()
	_, err := d.pool.Exec(ctx,
		"INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)", id, username, passwordHash)
	if err != nil {
		return "", fmt.Errorf("failed to create user %s: %w", username, err)
	}
	return id, nil
}
