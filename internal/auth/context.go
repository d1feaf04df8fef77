// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated caller through a request context.
package auth

import (
	"context"
)

type contextKey string

const (
	deviceIDKey contextKey = "device_id"
	userIDKey   contextKey = "user_id"
)

// Identity is the caller behind a request
type Identity struct {
	UserID   string
	DeviceID string
}

// SetDeviceID sets the device ID in the context
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the device ID from the context
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// SetUserID sets the user ID in the context
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the user ID from the context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// WithIdentity stores both ids of the caller
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = SetUserID(ctx, id.UserID)
	return SetDeviceID(ctx, id.DeviceID)
}

// FromContext returns the caller stored by WithIdentity; ok is false for anonymous requests
func FromContext(ctx context.Context) (Identity, bool) {
	userID, ok := GetUserID(ctx)
	if !ok || userID == "" {
		return Identity{}, false
	}
	deviceID, _ := GetDeviceID(ctx)
	return Identity{UserID: userID, DeviceID: deviceID}, true
}
