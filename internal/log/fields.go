package log

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Keys shared by every component that logs about a device or a command, so
// one grep over the output follows a command end to end.
const (
	KeyDevice   = "device_id"
	KeyCommand  = "command_id"
	KeySchedule = "schedule_id"
	KeyTopic    = "topic"
)

// maxBytesLogged caps raw payloads written to the log.
const maxBytesLogged = 256

// ForDevice returns l scoped to one device.
func ForDevice(l Logger, deviceID string) Logger {
	return l.WithValues(KeyDevice, deviceID)
}

// ForCommand returns l scoped to one command, plus any extra pairs.
func ForCommand(l Logger, deviceID, commandID string, keysAndValues ...any) Logger {
	return l.WithValues(append([]any{KeyDevice, deviceID, KeyCommand, commandID}, keysAndValues...)...)
}

// toFields turns alternating key/value arguments into zap fields. zap.Field
// values and bare errors stand alone. A key that is not a string is
// formatted with fmt, and a trailing key without a value is logged as
// "!MISSING".
func toFields(kv []any) []zap.Field {
	if len(kv) == 0 {
		return nil
	}
	fields := make([]zap.Field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i++ {
		switch v := kv[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			continue
		case error:
			fields = append(fields, zap.Error(v))
			continue
		}

		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 == len(kv) {
			fields = append(fields, zap.String(key, "!MISSING"))
			break
		}
		i++
		fields = append(fields, field(key, kv[i]))
	}
	return fields
}

func field(key string, v any) zap.Field {
	switch val := v.(type) {
	case []byte:
		if len(val) > maxBytesLogged {
			return zap.String(key, string(val[:maxBytesLogged])+"...")
		}
		return zap.ByteString(key, val)
	case time.Time:
		return zap.Time(key, val)
	case time.Duration:
		return zap.Duration(key, val)
	case error:
		return zap.NamedError(key, val)
	case fmt.Stringer:
		return zap.Stringer(key, val)
	default:
		return zap.Any(key, val)
	}
}
