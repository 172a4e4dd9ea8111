package db

import (
	"context"
	"encoding/json"
	"time"

	"agrosmart/internal/models"

	"github.com/google/uuid"
)

// AppendHistory upserts an entry keyed by (device_id, id). Existing columns
// and details keys win over the incoming entry.
func (d *DB) AppendHistory(ctx context.Context, e models.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = models.SchemaVersion
	}
	details, err := json.Marshal(orEmpty(e.Details))
	if err != nil {
		return err
	}

	_, err = d.pool.Exec(ctx,
		`INSERT INTO history (
		   device_id, id, type, source, message, command_id, status, result, reason,
		   event_name, event_code, severity, details, schema_version, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (device_id, id) DO UPDATE SET
		   source     = COALESCE(NULLIF(history.source, ''), EXCLUDED.source),
		   message    = COALESCE(NULLIF(history.message, ''), EXCLUDED.message),
		   command_id = COALESCE(NULLIF(history.command_id, ''), EXCLUDED.command_id),
		   status     = COALESCE(NULLIF(history.status, ''), EXCLUDED.status),
		   result     = COALESCE(NULLIF(history.result, ''), EXCLUDED.result),
		   reason     = COALESCE(NULLIF(history.reason, ''), EXCLUDED.reason),
		   event_name = COALESCE(NULLIF(history.event_name, ''), EXCLUDED.event_name),
		   event_code = COALESCE(NULLIF(history.event_code, ''), EXCLUDED.event_code),
		   severity   = COALESCE(NULLIF(history.severity, ''), EXCLUDED.severity),
		   details    = EXCLUDED.details || history.details`,
		e.DeviceID, e.ID, string(e.Type), e.Source, e.Message, e.CommandID, e.Status, e.Result, e.Reason,
		e.EventName, e.EventCode, e.Severity, details, e.SchemaVersion, e.Timestamp)
	return err
}

// ListHistory returns the newest entries for a device. limit <= 0 means all.
func (d *DB) ListHistory(ctx context.Context, deviceID string, limit int) ([]models.HistoryEntry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := d.pool.Query(ctx,
		`SELECT device_id, id, type, source, message, command_id, status, result, reason,
		   event_name, event_code, severity, details, schema_version, ts
		 FROM history WHERE device_id = $1
		 ORDER BY ts DESC LIMIT $2`, deviceID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var (
			e       models.HistoryEntry
			typ     string
			details []byte
		)
		if err := rows.Scan(&e.DeviceID, &e.ID, &typ, &e.Source, &e.Message, &e.CommandID, &e.Status, &e.Result, &e.Reason,
			&e.EventName, &e.EventCode, &e.Severity, &details, &e.SchemaVersion, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = models.HistoryType(typ)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
