package command

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	deviceIDPattern  = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,80}$`)
	commandIDPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,120}$`)
)

const (
	schedulePrefix = "sched-"
	manualPrefix   = "man-"
	hashLen        = 16

	// MinuteBucketLayout formats the local calendar minute used in schedule ids.
	MinuteBucketLayout = "200601021504"
)

// ValidDeviceID reports whether id is an acceptable device identifier.
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// ValidCommandID reports whether id is an acceptable command identifier.
func ValidCommandID(id string) bool {
	return commandIDPattern.MatchString(id)
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// ScheduleCommandID derives the command id for a schedule firing in the
// calendar minute of local. Seconds are ignored, so every evaluation of the
// same minute yields the same id.
func ScheduleCommandID(scheduleID string, local time.Time) string {
	return schedulePrefix + shortHash(scheduleID+":"+local.Format(MinuteBucketLayout))
}

// ManualCommandID derives the command id for a manual request carrying an
// idempotency key.
func ManualCommandID(deviceID, idempotencyKey string) string {
	return manualPrefix + shortHash(deviceID+":"+idempotencyKey)
}

// NewCommandID returns a random command id.
func NewCommandID() string {
	return uuid.NewString()
}

// ResolveManualCommandID picks the id for a manual request: an explicit id
// wins, then the idempotency key, then a random id.
func ResolveManualCommandID(deviceID, explicit, idempotencyKey string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if !ValidCommandID(explicit) {
			return "", fmt.Errorf("%w: invalid command_id", ErrInvalidRequest)
		}
		return explicit, nil
	}
	if idempotencyKey = strings.TrimSpace(idempotencyKey); idempotencyKey != "" {
		return ManualCommandID(deviceID, idempotencyKey), nil
	}
	return NewCommandID(), nil
}
