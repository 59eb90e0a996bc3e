package pool

import (
	"fmt"

	"github.com/coachpo/objpool/errs"
)

const (
	// DefaultCapacity is the number of instances prewarmed when no capacity is configured.
	DefaultCapacity = 10
	// DefaultMaxSize is the idle ceiling used when no maximum is configured.
	DefaultMaxSize = 20
)

// Options controls engine capacity and double-release detection.
type Options struct {
	// TrackActive records the identity of every acquired instance so that a
	// release of an instance that is not checked out is rejected.
	TrackActive bool
	// DefaultCapacity is the number of idle instances created at initialization.
	// Zero leaves the pool to fill lazily.
	DefaultCapacity int
	// MaxSize is the most instances the idle store retains. Releases beyond it
	// destroy the instance.
	MaxSize int
}

// DefaultOptions returns the stock option set.
func DefaultOptions() Options {
	return Options{
		TrackActive:     false,
		DefaultCapacity: DefaultCapacity,
		MaxSize:         DefaultMaxSize,
	}
}

// Validate checks the capacity relationship.
func (o Options) Validate(name string) error {
	if o.MaxSize <= 0 {
		return errs.New(name, errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("maxSize must be positive, got %d", o.MaxSize)))
	}
	if o.DefaultCapacity < 0 {
		return errs.New(name, errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("defaultCapacity must not be negative, got %d", o.DefaultCapacity)))
	}
	if o.MaxSize < o.DefaultCapacity {
		return errs.New(name, errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("maxSize %d is below defaultCapacity %d", o.MaxSize, o.DefaultCapacity)))
	}
	return nil
}
