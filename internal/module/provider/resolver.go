package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	apperrors "github.com/clipforge/server/internal/shared/errors"
	"github.com/clipforge/server/internal/shared/metrics"
)

// Config contains resolver configuration.
type Config struct {
	HealthCheckTimeout time.Duration
	// FailureThreshold is the number of consecutive failed calls that opens
	// an adapter's breaker.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
	BreakerInterval  time.Duration
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() *Config {
	return &Config{
		HealthCheckTimeout: 10 * time.Second,
		FailureThreshold:   5,
		BreakerTimeout:     30 * time.Second,
		BreakerInterval:    60 * time.Second,
	}
}

type entry struct {
	adapter Adapter
	breaker *gobreaker.CircuitBreaker[any]
}

type health struct {
	healthy     bool
	lastChecked time.Time
	lastError   string
}

// snapshot is immutable once published.
type snapshot struct {
	entries []*entry // registration order
	health  map[string]health
}

func (s *snapshot) find(name string) *entry {
	for _, e := range s.entries {
		if e.adapter.Name() == name {
			return e
		}
	}
	return nil
}

// Resolver selects adapters by capability. Reads go through an atomically
// swapped snapshot and never block; writers serialize on writeMu.
type Resolver struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]

	mirror  HealthMirror
	logger  *zap.Logger
	metrics *metrics.Metrics
	config  *Config
	now     func() time.Time
}

// NewResolver creates a new resolver. mirror may be nil.
func NewResolver(mirror HealthMirror, logger *zap.Logger, m *metrics.Metrics, config *Config) *Resolver {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Resolver{
		mirror:  mirror,
		logger:  logger.Named("provider-resolver"),
		metrics: m,
		config:  config,
		now:     time.Now,
	}
	r.snap.Store(&snapshot{health: map[string]health{}})
	return r
}

// Register adds an adapter. Within a tier, earlier registrations win.
// Adapters start out healthy.
func (r *Resolver) Register(a Adapter) error {
	if !a.Capability().Valid() {
		return fmt.Errorf("adapter %s: unknown capability %q", a.Name(), a.Capability())
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.snap.Load()
	if cur.find(a.Name()) != nil {
		return fmt.Errorf("adapter %s already registered", a.Name())
	}

	e := &entry{adapter: a, breaker: r.newBreaker(a)}
	next := &snapshot{
		entries: append(append(make([]*entry, 0, len(cur.entries)+1), cur.entries...), e),
		health:  copyHealth(cur.health),
	}
	next.health[a.Name()] = health{healthy: true}
	r.snap.Store(next)

	r.metrics.SetProviderHealth(a.Name(), string(a.Capability()), string(a.Tier()), true)
	r.logger.Info("registered adapter",
		zap.String("provider", a.Name()),
		zap.String("capability", string(a.Capability())),
		zap.String("tier", string(a.Tier())),
		zap.Bool("configured", a.Configured()))
	return nil
}

func (r *Resolver) newBreaker(a Adapter) *gobreaker.CircuitBreaker[any] {
	name := a.Name()
	threshold := r.config.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    r.config.BreakerInterval,
		Timeout:     r.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Our own cancellations and bad input say nothing about the vendor.
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, apperrors.ErrInvalidParams)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			r.logger.Warn("breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			switch to {
			case gobreaker.StateOpen:
				r.setHealth(name, false, "circuit open")
			case gobreaker.StateClosed:
				r.setHealth(name, true, "")
			}
		},
	})
}

// Resolve returns the best configured and healthy adapter for capability.
// Paid adapters are preferred over free ones.
func (r *Resolver) Resolve(capability Capability) (Adapter, error) {
	e := r.pick(capability, nil)
	if e == nil {
		return nil, apperrors.NoProviderAvailable(string(capability))
	}
	return e.adapter, nil
}

// ResolveAs resolves the best adapter for capability that implements T.
func ResolveAs[T Adapter](r *Resolver, capability Capability) (T, error) {
	e := r.pick(capability, func(a Adapter) bool {
		_, ok := a.(T)
		return ok
	})
	if e == nil {
		var zero T
		return zero, apperrors.NoProviderAvailable(string(capability))
	}
	return e.adapter.(T), nil
}

func (r *Resolver) pick(capability Capability, accept func(Adapter) bool) *entry {
	snap := r.snap.Load()
	var best *entry
	for _, e := range snap.entries {
		a := e.adapter
		if a.Capability() != capability || !a.Configured() || !snap.health[a.Name()].healthy {
			continue
		}
		if accept != nil && !accept(a) {
			continue
		}
		if best == nil || a.Tier().rank() < best.adapter.Tier().rank() {
			best = e
		}
	}
	return best
}

// Call resolves an adapter implementing T and runs fn through its breaker.
// Errors are prefixed with the adapter name.
func Call[T Adapter, R any](ctx context.Context, r *Resolver, capability Capability, fn func(ctx context.Context, a T) (R, error)) (R, error) {
	var zero R
	e := r.pick(capability, func(a Adapter) bool {
		_, ok := a.(T)
		return ok
	})
	if e == nil {
		return zero, apperrors.NoProviderAvailable(string(capability))
	}

	name := e.adapter.Name()
	start := r.now()
	res, err := e.breaker.Execute(func() (any, error) {
		return fn(ctx, e.adapter.(T))
	})
	r.metrics.RecordProviderCall(name, string(capability), err, r.now().Sub(start))
	if err != nil {
		r.logger.Debug("provider call failed",
			zap.String("provider", name),
			zap.String("capability", string(capability)),
			zap.Error(err))
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	out, _ := res.(R)
	return out, nil
}

// Do resolves an adapter and runs fn through its breaker.
func (r *Resolver) Do(ctx context.Context, capability Capability, fn func(ctx context.Context, a Adapter) error) error {
	_, err := Call(ctx, r, capability, func(ctx context.Context, a Adapter) (struct{}, error) {
		return struct{}{}, fn(ctx, a)
	})
	return err
}

// Probe health-checks every adapter of capability and publishes the results.
// Unconfigured adapters are reported unhealthy without a call.
func (r *Resolver) Probe(ctx context.Context, capability Capability) map[string]Descriptor {
	snap := r.snap.Load()
	var targets []*entry
	for _, e := range snap.entries {
		if e.adapter.Capability() == capability {
			targets = append(targets, e)
		}
	}
	return r.probe(ctx, targets)
}

// ProbeAll health-checks every registered adapter.
func (r *Resolver) ProbeAll(ctx context.Context) map[string]Descriptor {
	return r.probe(ctx, r.snap.Load().entries)
}

func (r *Resolver) probe(ctx context.Context, targets []*entry) map[string]Descriptor {
	results := make([]health, len(targets))

	var wg sync.WaitGroup
	for i, e := range targets {
		if !e.adapter.Configured() {
			results[i] = health{healthy: false, lastChecked: r.now(), lastError: "not configured"}
			continue
		}
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			results[i] = r.check(ctx, e)
		}(i, e)
	}
	wg.Wait()

	r.writeMu.Lock()
	cur := r.snap.Load()
	next := &snapshot{entries: cur.entries, health: copyHealth(cur.health)}
	for i, e := range targets {
		next.health[e.adapter.Name()] = results[i]
	}
	r.snap.Store(next)
	r.writeMu.Unlock()

	out := make(map[string]Descriptor, len(targets))
	for i, e := range targets {
		a := e.adapter
		r.metrics.SetProviderHealth(a.Name(), string(a.Capability()), string(a.Tier()), results[i].healthy)
		r.mirrorHealth(ctx, a.Name(), results[i].healthy)
		out[a.Name()] = describe(e, results[i])
	}
	return out
}

func (r *Resolver) check(ctx context.Context, e *entry) health {
	checkCtx := ctx
	if r.config.HealthCheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, r.config.HealthCheckTimeout)
		defer cancel()
	}

	_, err := e.breaker.Execute(func() (any, error) {
		return nil, e.adapter.HealthCheck(checkCtx)
	})

	h := health{healthy: err == nil, lastChecked: r.now()}
	if err != nil {
		h.lastError = err.Error()
		r.logger.Warn("health check failed",
			zap.String("provider", e.adapter.Name()),
			zap.Error(err))
	}
	return h
}

// SetHealth overrides the health of an adapter until the next probe or
// breaker transition.
func (r *Resolver) SetHealth(name string, healthy bool) error {
	e := r.snap.Load().find(name)
	if e == nil {
		return apperrors.NotFound("provider", name)
	}
	reason := ""
	if !healthy {
		reason = "marked unhealthy"
	}
	r.setHealth(name, healthy, reason)
	r.mirrorHealth(context.Background(), name, healthy)
	return nil
}

func (r *Resolver) setHealth(name string, healthy bool, reason string) {
	r.writeMu.Lock()
	cur := r.snap.Load()
	e := cur.find(name)
	if e == nil {
		r.writeMu.Unlock()
		return
	}
	next := &snapshot{entries: cur.entries, health: copyHealth(cur.health)}
	next.health[name] = health{healthy: healthy, lastChecked: r.now(), lastError: reason}
	r.snap.Store(next)
	r.writeMu.Unlock()

	a := e.adapter
	r.metrics.SetProviderHealth(a.Name(), string(a.Capability()), string(a.Tier()), healthy)
}

// Restore loads health shared by other instances from the mirror.
func (r *Resolver) Restore(ctx context.Context) {
	if r.mirror == nil {
		return
	}
	for _, e := range r.snap.Load().entries {
		name := e.adapter.Name()
		healthy, err := r.mirror.GetHealth(ctx, name)
		if err != nil {
			r.logger.Warn("failed to read mirrored health", zap.String("provider", name), zap.Error(err))
			continue
		}
		if !healthy {
			r.setHealth(name, false, "unhealthy on another instance")
		}
	}
}

func (r *Resolver) mirrorHealth(ctx context.Context, name string, healthy bool) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.SetHealth(ctx, name, healthy); err != nil {
		r.logger.Warn("failed to mirror health", zap.String("provider", name), zap.Error(err))
	}
}

// Descriptors returns every adapter grouped by capability in selection order.
func (r *Resolver) Descriptors() map[Capability][]Descriptor {
	snap := r.snap.Load()
	out := make(map[Capability][]Descriptor, len(Capabilities))
	for _, e := range snap.entries {
		c := e.adapter.Capability()
		out[c] = append(out[c], describe(e, snap.health[e.adapter.Name()]))
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Tier.rank() < list[j].Tier.rank()
		})
	}
	return out
}

// Describe returns the descriptor of one adapter.
func (r *Resolver) Describe(name string) (Descriptor, error) {
	snap := r.snap.Load()
	e := snap.find(name)
	if e == nil {
		return Descriptor{}, apperrors.NotFound("provider", name)
	}
	return describe(e, snap.health[name]), nil
}

func describe(e *entry, h health) Descriptor {
	a := e.adapter
	d := Descriptor{
		Name:         a.Name(),
		Capability:   a.Capability(),
		Tier:         a.Tier(),
		Configured:   a.Configured(),
		Healthy:      h.healthy && a.Configured(),
		LastError:    h.lastError,
		BreakerState: e.breaker.State().String(),
	}
	if !d.Configured && d.LastError == "" {
		d.LastError = "not configured"
	}
	if !h.lastChecked.IsZero() {
		checked := h.lastChecked
		d.LastChecked = &checked
	}
	return d
}

func copyHealth(src map[string]health) map[string]health {
	dst := make(map[string]health, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
