package middleware

import (
	"context"
	"time"

	"agrosmart/internal/log"
	"agrosmart/internal/store"
)

// Authenticator resolves a bearer header to a user id.
type Authenticator interface {
	ValidateToken(header string) (string, error)
}

type Options struct {
	RequireAuth            bool
	EnforceDeviceOwnership bool
	StoreTimeout           time.Duration
}

type MiddlewareManager struct {
	auth    Authenticator
	devices store.DeviceSource
	opts    Options
	log     log.Logger
}

func NewMiddlewareManager(auth Authenticator, devices store.DeviceSource, opts Options, logger log.Logger) *MiddlewareManager {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &MiddlewareManager{
		auth:    auth,
		devices: devices,
		opts:    opts,
		log:     logger,
	}
}

// CanAccessDevice fails closed: a lookup error, a missing device and a
// different owner all deny.
func (m *MiddlewareManager) CanAccessDevice(ctx context.Context, userID, deviceID string) bool {
	if !m.opts.EnforceDeviceOwnership {
		return true
	}
	if userID == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	device, err := m.devices.GetDevice(ctx, deviceID)
	if err != nil {
		m.log.Warn("ownership check failed", "device_id", deviceID, "error", err)
		return false
	}
	if device.OwnerUID == "" || device.OwnerUID != userID {
		m.log.Warn("forbidden device ownership", "device_id", deviceID)
		return false
	}
	return true
}
