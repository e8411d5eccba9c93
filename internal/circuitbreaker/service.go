package circuitbreaker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/auth-platform/platform/api-gateway/internal/events"
	"github.com/auth-platform/platform/api-gateway/internal/observability"
	"github.com/auth-platform/platform/api-gateway/internal/store"
)

// minMirrorTTL keeps stale circuit keys from outliving a restarted fleet.
const minMirrorTTL = 30 * time.Minute

// StateChangeEvent is published on every breaker transition.
type StateChangeEvent struct {
	ServiceID string    `json:"service_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureEvent is published on every recorded failure.
type FailureEvent struct {
	ServiceID      string    `json:"service_id"`
	Timestamp      time.Time `json:"timestamp"`
	ErrorMessage   string    `json:"error_message"`
	ErrorKind      string    `json:"error_kind"`
	StateAtFailure string    `json:"state_at_failure"`
}

// ResetEvent is published when a breaker is reset manually.
type ResetEvent struct {
	ServiceID string    `json:"service_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Service manages one breaker per upstream service. Registration and
// lookup share a registry lock, but breaker operations lock only the
// breaker involved.
type Service struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	st      store.Store
	bus     *events.Bus
	metrics *observability.Metrics
	logger  *slog.Logger
	warn    *store.WarnThrottle
	nowFn   func() time.Time
}

// NewService creates an empty breaker registry.
func NewService(st store.Store, bus *events.Bus, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		breakers: make(map[string]*Breaker),
		st:       st,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		warn:     store.NewWarnThrottle(time.Minute),
		nowFn:    time.Now,
	}
}

// Register creates (or replaces) the breaker for a service. Distributed
// breakers hydrate from the store mirror so a fresh instance honors a
// circuit opened elsewhere.
func (s *Service) Register(ctx context.Context, serviceID string, cfg Config) *Breaker {
	b := NewBreaker(cfg)

	if cfg.Distributed {
		if snap, ok := s.load(ctx, serviceID); ok {
			b.Restore(snap)
			s.logger.Info("circuit breaker hydrated from store",
				slog.String("service_id", serviceID),
				slog.String("state", snap.State.String()))
		}
	}

	s.mu.Lock()
	s.breakers[serviceID] = b
	s.mu.Unlock()

	s.metrics.SetBreakerState(serviceID, int(b.Snapshot().State))
	return b
}

// Get returns the breaker for a service, if registered.
func (s *Service) Get(serviceID string) (*Breaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.breakers[serviceID]
	return b, ok
}

// IsAllowed reports whether a request to the service may proceed. An
// unregistered service is always allowed. Plain admission checks mutate
// nothing and write nothing; only the OPEN to HALF_OPEN promotion is a
// state mutation worth mirroring.
func (s *Service) IsAllowed(ctx context.Context, serviceID string) bool {
	b, ok := s.Get(serviceID)
	if !ok {
		return true
	}

	allowed, snap, trans := b.IsAllowed()
	if trans != nil {
		s.afterMutation(ctx, serviceID, b, snap, trans)
	}
	return allowed
}

// RecordSuccess applies a successful upstream outcome.
func (s *Service) RecordSuccess(ctx context.Context, serviceID string) {
	b, ok := s.Get(serviceID)
	if !ok {
		return
	}

	s.metrics.RecordBreakerSuccess(serviceID)
	snap, trans := b.RecordSuccess()
	s.afterMutation(ctx, serviceID, b, snap, trans)
}

// RecordFailure applies a failed upstream outcome. kind labels the failure
// class for metrics ("timeout", "transport", "upstream_5xx").
func (s *Service) RecordFailure(ctx context.Context, serviceID string, cause error, kind string) {
	b, ok := s.Get(serviceID)
	if !ok {
		return
	}

	s.metrics.RecordBreakerFailure(serviceID, kind)

	snap, trans := b.RecordFailure()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	s.bus.Publish(events.TopicCircuitFailure, FailureEvent{
		ServiceID:      serviceID,
		Timestamp:      s.nowFn(),
		ErrorMessage:   msg,
		ErrorKind:      kind,
		StateAtFailure: snap.State.String(),
	})

	s.afterMutation(ctx, serviceID, b, snap, trans)
}

// Reset forces a breaker back to CLOSED.
func (s *Service) Reset(ctx context.Context, serviceID string) error {
	b, ok := s.Get(serviceID)
	if !ok {
		return fmt.Errorf("circuit breaker: unknown service %q", serviceID)
	}

	snap, trans := b.Reset()
	s.bus.Publish(events.TopicCircuitReset, ResetEvent{
		ServiceID: serviceID,
		Timestamp: s.nowFn(),
	})
	s.afterMutation(ctx, serviceID, b, snap, trans)
	return nil
}

// Health returns the current snapshot of every registered breaker.
func (s *Service) Health() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Snapshot, len(s.breakers))
	for id, b := range s.breakers {
		out[id] = b.Snapshot()
	}
	return out
}

// afterMutation publishes transitions, updates the state gauge, and
// mirrors distributed breakers to the store.
func (s *Service) afterMutation(ctx context.Context, serviceID string, b *Breaker, snap Snapshot, trans *Transition) {
	if trans != nil {
		s.metrics.SetBreakerState(serviceID, int(trans.To))
		s.bus.Publish(events.TopicCircuitStateChange, StateChangeEvent{
			ServiceID: serviceID,
			From:      trans.From.String(),
			To:        trans.To.String(),
			Timestamp: s.nowFn(),
		})
		s.logger.Info("circuit breaker state change",
			slog.String("service_id", serviceID),
			slog.String("from", trans.From.String()),
			slog.String("to", trans.To.String()))
	}

	if b.Config().Distributed {
		s.mirror(ctx, serviceID, b.Config(), snap)
	}
}

// mirror writes all four circuit keys in one atomic multi-set. Store
// faults fail local: the in-process breaker keeps working alone.
func (s *Service) mirror(ctx context.Context, serviceID string, cfg Config, snap Snapshot) {
	ttl := 2 * cfg.ResetTimeout
	if ttl < minMirrorTTL {
		ttl = minMirrorTTL
	}

	entries := map[string]string{
		stateKey(serviceID):       strconv.Itoa(int(snap.State)),
		failuresKey(serviceID):    strconv.Itoa(snap.Failures),
		lastFailureKey(serviceID): formatUnixMilli(snap.LastFailure),
		nextAttemptKey(serviceID): formatUnixMilli(snap.NextAttempt),
	}

	if err := s.st.MSet(ctx, entries, ttl); err != nil {
		if s.warn.Allow() {
			s.logger.Warn("circuit state mirror write failed, continuing local-only",
				slog.String("service_id", serviceID),
				slog.String("error", err.Error()))
		}
	}
}

// load reads the store mirror for a service. Returns false when no mirror
// exists or the store is unreachable.
func (s *Service) load(ctx context.Context, serviceID string) (Snapshot, bool) {
	raw, err := s.st.Get(ctx, stateKey(serviceID))
	if err != nil {
		if store.IsUnavailable(err) && s.warn.Allow() {
			s.logger.Warn("circuit state mirror read failed, starting fresh",
				slog.String("service_id", serviceID),
				slog.String("error", err.Error()))
		}
		return Snapshot{}, false
	}

	stateVal, err := strconv.Atoi(raw)
	if err != nil || stateVal < int(StateClosed) || stateVal > int(StateHalfOpen) {
		s.logger.Warn("circuit state mirror corrupt, starting fresh",
			slog.String("service_id", serviceID),
			slog.String("value", raw))
		return Snapshot{}, false
	}

	snap := Snapshot{State: State(stateVal)}
	if v, err := s.st.Get(ctx, failuresKey(serviceID)); err == nil {
		if n, perr := strconv.Atoi(v); perr == nil {
			snap.Failures = n
		}
	}
	if v, err := s.st.Get(ctx, lastFailureKey(serviceID)); err == nil {
		snap.LastFailure = parseUnixMilli(v)
	}
	if v, err := s.st.Get(ctx, nextAttemptKey(serviceID)); err == nil {
		snap.NextAttempt = parseUnixMilli(v)
	}
	return snap, true
}

func stateKey(serviceID string) string       { return "circuit:" + serviceID + ":state" }
func failuresKey(serviceID string) string    { return "circuit:" + serviceID + ":failures" }
func lastFailureKey(serviceID string) string { return "circuit:" + serviceID + ":lastFailure" }
func nextAttemptKey(serviceID string) string { return "circuit:" + serviceID + ":nextAttempt" }

func formatUnixMilli(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseUnixMilli(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
