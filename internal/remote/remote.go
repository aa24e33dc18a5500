// Package remote is the boundary to the hosted data store: given a device
// code it returns the device's assignment, and given a mutation it applies it.
package remote

import (
	"context"
	"errors"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

var (
	ErrDeviceNotFound = errors.New("remote: device not found")
	ErrUnavailable    = errors.New("remote: store unavailable")
	ErrUnknownTarget  = errors.New("remote: unknown mutation target")
	// ErrRejected is a mutation the store refused on its merits, such as a
	// constraint violation.
	ErrRejected = errors.New("remote: mutation rejected")
)

// Store is implemented by the PostgreSQL store, the in-memory store and Breaker.
type Store interface {
	// FetchAssignment returns the device, its assigned playlist (nil when none)
	// and every media record the playlist or the device override references.
	FetchAssignment(ctx context.Context, deviceCode string) (*model.Assignment, error)
	// Apply performs one insert, update or delete.
	Apply(ctx context.Context, m model.Mutation) error
}

// Permanent reports errors that retrying will not fix.
func Permanent(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrUnknownTarget) || errors.Is(err, ErrRejected)
}
