package models

import (
	"errors"
	"fmt"
	"time"
)

// StartOn selects which lifecycle event starts a disappearing-message timer.
type StartOn string

const (
	StartOnDelivered StartOn = "delivered"
	StartOnRead      StartOn = "read"
)

// Valid reports whether s is a known timer trigger.
func (s StartOn) Valid() bool {
	return s == StartOnDelivered || s == StartOnRead
}

var (
	ErrNegativeDisappear = errors.New("disappear_seconds must be >= 0")
	ErrInvalidStartOn    = errors.New("start_on must be 'delivered' or 'read'")
)

// ExpiryPolicy is a per (room, participant) disappearing-message setting.
// DisappearSeconds == 0 disables the timer entirely.
type ExpiryPolicy struct {
	DisappearSeconds int     `json:"disappear_seconds"`
	StartOn          StartOn `json:"start_on"`
}

// DefaultExpiryPolicy is the policy participants start with: disabled.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{DisappearSeconds: 0, StartOn: StartOnRead}
}

// Validate rejects malformed policies at the settings boundary so they never
// reach the delivery ledger.
func (p ExpiryPolicy) Validate() error {
	if p.DisappearSeconds < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeDisappear, p.DisappearSeconds)
	}
	if !p.StartOn.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidStartOn, p.StartOn)
	}
	return nil
}

// Enabled reports whether the policy starts a timer at all.
func (p ExpiryPolicy) Enabled() bool {
	return p.DisappearSeconds > 0
}

// Disappear returns the timer duration.
func (p ExpiryPolicy) Disappear() time.Duration {
	return time.Duration(p.DisappearSeconds) * time.Second
}
