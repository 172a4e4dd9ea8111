package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleCommandID_DeterministicPerMinute(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	at := time.Date(2025, 1, 8, 6, 0, 5, 0, loc)
	sameMinute := time.Date(2025, 1, 8, 6, 0, 59, 999, loc)
	nextMinute := time.Date(2025, 1, 8, 6, 1, 0, 0, loc)

	id := ScheduleCommandID("sch-1", at)
	assert.Equal(t, id, ScheduleCommandID("sch-1", at))
	assert.Equal(t, id, ScheduleCommandID("sch-1", sameMinute))
	assert.NotEqual(t, id, ScheduleCommandID("sch-1", nextMinute))
	assert.NotEqual(t, id, ScheduleCommandID("sch-2", at))

	assert.Regexp(t, `^sched-[0-9a-f]{16}$`, id)
	assert.True(t, ValidCommandID(id))
}

func TestScheduleCommandID_KnownValue(t *testing.T) {
	// sha1("sch-1:202501080600")
	at := time.Date(2025, 1, 8, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, "sched-"+shortHash("sch-1:202501080600"), ScheduleCommandID("sch-1", at))
	assert.Len(t, shortHash("x"), 16)
}

func TestManualCommandID(t *testing.T) {
	a := ManualCommandID("esp32-01", "key-1")
	assert.Equal(t, a, ManualCommandID("esp32-01", "key-1"))
	assert.NotEqual(t, a, ManualCommandID("esp32-02", "key-1"))
	assert.Regexp(t, `^man-[0-9a-f]{16}$`, a)
}

func TestResolveManualCommandID(t *testing.T) {
	id, err := ResolveManualCommandID("d1", "explicit-1", "key")
	require.NoError(t, err)
	assert.Equal(t, "explicit-1", id)

	id, err = ResolveManualCommandID("d1", "", "key")
	require.NoError(t, err)
	assert.Equal(t, ManualCommandID("d1", "key"), id)

	id, err = ResolveManualCommandID("d1", "  ", "")
	require.NoError(t, err)
	assert.True(t, ValidCommandID(id))
	other, _ := ResolveManualCommandID("d1", "", "")
	assert.NotEqual(t, id, other)

	_, err = ResolveManualCommandID("d1", "bad id!", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestValidDeviceID(t *testing.T) {
	assert.True(t, ValidDeviceID("ESP32_Irrigacao-01:a"))
	assert.False(t, ValidDeviceID(""))
	assert.False(t, ValidDeviceID("dev/1"))
	long := make([]byte, 81)
	for i := range long {
		long[i] = 'a'
	}
	assert.False(t, ValidDeviceID(string(long)))
}
