// Package rotate changes the egress network identity after a block.
// The concrete strategy is pluggable; the scheduler only sees Rotate.
package rotate

import (
	"context"
)

// Rotation reports the identities before and after a rotation.
type Rotation struct {
	OldIdentity string
	NewIdentity string
}

// Rotator replaces the egress identity. Success means "try again after a
// stabilization delay"; failure is surfaced to the caller, which treats
// it as fatal to the current recovery cycle.
type Rotator interface {
	Rotate(ctx context.Context) (Rotation, error)
}

// Noop is used when no rotation endpoint is configured. Rotate succeeds
// without changing anything; the cooldown alone does the backing off.
type Noop struct{}

// Rotate implements Rotator.
func (Noop) Rotate(context.Context) (Rotation, error) { return Rotation{}, nil }
