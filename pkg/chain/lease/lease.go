// Package lease provides the coordination capability for multi-writer chain
// deployments. A writer must hold a live lease on a chain before appending;
// single-process deployments use the in-process leaser.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrHeld is returned when another holder owns the lease.
	ErrHeld = errors.New("lease held by another holder")

	// ErrExpired is returned when renewing or releasing a lease that is no
	// longer owned.
	ErrExpired = errors.New("lease expired or not owned")
)

// Lease is a live claim on a key.
type Lease struct {
	Key       string
	Holder    string
	Token     string
	ExpiresAt time.Time
}

// Leaser is the coordination capability.
type Leaser interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (*Lease, error)
	Renew(ctx context.Context, l *Lease, ttl time.Duration) error
	Release(ctx context.Context, l *Lease) error
}

// LocalLeaser coordinates writers within a single process.
type LocalLeaser struct {
	mu     sync.Mutex
	leases map[string]*Lease
	clock  func() time.Time
}

// NewLocalLeaser creates an in-process leaser.
func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{
		leases: make(map[string]*Lease),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *LocalLeaser) WithClock(clock func() time.Time) *LocalLeaser {
	l.clock = clock
	return l
}

func (l *LocalLeaser) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if existing, ok := l.leases[key]; ok && now.Before(existing.ExpiresAt) && existing.Holder != holder {
		return nil, ErrHeld
	}

	lease := &Lease{
		Key:       key,
		Holder:    holder,
		Token:     uuid.New().String(),
		ExpiresAt: now.Add(ttl),
	}
	l.leases[key] = lease
	return lease, nil
}

func (l *LocalLeaser) Renew(ctx context.Context, lease *Lease, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.leases[lease.Key]
	if !ok || current.Token != lease.Token {
		return ErrExpired
	}
	if l.clock().After(current.ExpiresAt) {
		return ErrExpired
	}
	current.ExpiresAt = l.clock().Add(ttl)
	lease.ExpiresAt = current.ExpiresAt
	return nil
}

func (l *LocalLeaser) Release(ctx context.Context, lease *Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.leases[lease.Key]
	if !ok || current.Token != lease.Token {
		return ErrExpired
	}
	delete(l.leases, lease.Key)
	return nil
}
