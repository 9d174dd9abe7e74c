package fiberloop

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-fiberloop/poller"
)

// Defaults applied by New.
const (
	// DefaultStackSize is the advisory per-coroutine stack size.
	DefaultStackSize = 64 * 1024
	// DefaultLimitMin is the coroutine count kept across shrinks.
	DefaultLimitMin = 256
	// DefaultLimitMax bounds the live coroutine population.
	DefaultLimitMax = 512
	// DefaultShrinkInterval is the idle age at which coroutines become
	// reclaimable.
	DefaultShrinkInterval = time.Minute
	// DefaultCountPerShrink caps reclaims per loop iteration.
	DefaultCountPerShrink = 16
)

// runtimeOptions holds configuration for Runtime creation.
type runtimeOptions struct {
	stackSize      int
	limitMin       int
	limitMax       int
	shrinkInterval time.Duration
	countPerShrink int
	pollerFactory  func(capacity int) (poller.Poller, error)
	logger         *logiface.Logger[logiface.Event]
}

// Option configures a Runtime instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithStackSize sets the advisory stack size recorded on pooled coroutines.
// The Go runtime sizes actual stacks; the value exists for parity with
// deployments that budget per-connection memory.
func WithStackSize(size int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if size < 0 {
			return errors.New("fiberloop: stack size must not be negative")
		}
		opts.stackSize = size
		return nil
	}}
}

// WithPoolLimits sets the minimum population kept across shrinks and the
// maximum live population of the coroutine pool.
func WithPoolLimits(limitMin, limitMax int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if limitMin < 0 || limitMax < 1 || limitMin > limitMax {
			return errors.New("fiberloop: invalid pool limits")
		}
		opts.limitMin = limitMin
		opts.limitMax = limitMax
		return nil
	}}
}

// WithShrink configures periodic pool shrinking: coroutines idle for at
// least interval are reclaimed, at most countPerShrink per loop iteration.
func WithShrink(interval time.Duration, countPerShrink int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if interval < 0 || countPerShrink < 1 {
			return errors.New("fiberloop: invalid shrink configuration")
		}
		opts.shrinkInterval = interval
		opts.countPerShrink = countPerShrink
		return nil
	}}
}

// WithPollerFactory overrides the readiness backend, e.g. to select
// level-triggered epoll over the platform default.
func WithPollerFactory(factory func(capacity int) (poller.Poller, error)) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if factory == nil {
			return errors.New("fiberloop: nil poller factory")
		}
		opts.pollerFactory = factory
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveRuntimeOptions applies Option instances over the defaults.
func resolveRuntimeOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		stackSize:      DefaultStackSize,
		limitMin:       DefaultLimitMin,
		limitMax:       DefaultLimitMax,
		shrinkInterval: DefaultShrinkInterval,
		countPerShrink: DefaultCountPerShrink,
		pollerFactory:  poller.New,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
