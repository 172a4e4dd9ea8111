package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"agrosmart/internal/models"

	"github.com/google/uuid"
)

var (
	_ CommandStore    = (*Memory)(nil)
	_ HistoryLog      = (*Memory)(nil)
	_ HistoryReader   = (*Memory)(nil)
	_ ScheduleSource  = (*Memory)(nil)
	_ DeviceSource    = (*Memory)(nil)
	_ TelemetryReader = (*Memory)(nil)
	_ TelemetryLister = (*Memory)(nil)
)

type commandKey struct{ device, command string }

// Memory is an in-process implementation of every store port. It backs the
// `tick --dry-run` command sinks and the tests.
type Memory struct {
	mu        sync.Mutex
	devices   map[string]models.Device
	schedules []models.Schedule
	commands  map[commandKey]*models.Command
	history   map[string][]models.HistoryEntry // device -> entries in insertion order
	telemetry map[string][]models.TelemetryReading
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		devices:   make(map[string]models.Device),
		commands:  make(map[commandKey]*models.Command),
		history:   make(map[string][]models.HistoryEntry),
		telemetry: make(map[string][]models.TelemetryReading),
	}
}

func (m *Memory) PutDevice(d models.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
}

func (m *Memory) PutSchedule(s models.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = append(m.schedules, s)
}

// AddReading appends a telemetry row.
func (m *Memory) AddReading(r models.TelemetryReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry[r.DeviceID] = append(m.telemetry[r.DeviceID], r)
}

func (m *Memory) GetDevice(_ context.Context, deviceID string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) DueSchedules(_ context.Context, weekday int, hhmm string) ([]models.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Schedule
	for _, s := range m.schedules {
		if s.DueAt(weekday, hhmm) {
			due = append(due, s)
		}
	}
	return due, nil
}

func (m *Memory) LatestReading(_ context.Context, deviceID string) (*models.TelemetryReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.telemetry[deviceID]
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return &latest, nil
}

func (m *Memory) Recent(_ context.Context, deviceID string, limit int) ([]models.TelemetryReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TelemetryReading, len(m.telemetry[deviceID]))
	copy(out, m.telemetry[deviceID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateCommand(_ context.Context, cmd *models.Command) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := commandKey{cmd.DeviceID, cmd.CommandID}
	if _, exists := m.commands[key]; exists {
		return false, nil
	}
	m.commands[key] = cloneCommand(cmd)
	return true, nil
}

func (m *Memory) GetCommand(_ context.Context, deviceID, commandID string) (*models.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commands[commandKey{deviceID, commandID}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCommand(c), nil
}

func (m *Memory) MergeCommand(_ context.Context, deviceID, commandID string, patch models.CommandPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := commandKey{deviceID, commandID}
	c, ok := m.commands[key]
	if !ok {
		c = &models.Command{
			DeviceID:      deviceID,
			CommandID:     commandID,
			Origin:        models.OriginUnknown,
			Status:        models.StatusPending,
			SchemaVersion: models.SchemaVersion,
			CreatedAt:     patch.UpdatedAt,
		}
		m.commands[key] = c
	}
	patch.Apply(c)
	return nil
}

// CommandCount returns the number of stored commands.
func (m *Memory) CommandCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

func (m *Memory) AppendHistory(_ context.Context, entry models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[entry.DeviceID]
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	} else {
		for i := range entries {
			if entries[i].ID == entry.ID {
				entries[i].Merge(entry)
				return nil
			}
		}
	}
	m.history[entry.DeviceID] = append(entries, entry)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, deviceID string, limit int) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.history[deviceID]
	out := make([]models.HistoryEntry, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cloneCommand deep copies through JSON so callers never share maps with the store.
func cloneCommand(c *models.Command) *models.Command {
	raw, err := json.Marshal(c)
	if err != nil {
		cp := *c
		return &cp
	}
	var out models.Command
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *c
		return &cp
	}
	return &out
}
