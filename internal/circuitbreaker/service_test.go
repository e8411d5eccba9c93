package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth-platform/platform/api-gateway/internal/events"
	"github.com/auth-platform/platform/api-gateway/internal/observability"
	"github.com/auth-platform/platform/api-gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(mem *store.Memory) (*Service, *events.Bus) {
	bus := events.NewBus()
	metrics := observability.NewMetrics(prometheus.NewRegistry(), testLogger())
	return NewService(mem, bus, metrics, testLogger()), bus
}

func TestService_UnregisteredServiceAlwaysAllowed(t *testing.T) {
	svc, _ := newTestService(store.NewMemory())
	assert.True(t, svc.IsAllowed(context.Background(), "ghost"))
	svc.RecordSuccess(context.Background(), "ghost")
	svc.RecordFailure(context.Background(), "ghost", errors.New("x"), "transport")
}

func TestService_OpensAndShedsTraffic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(store.NewMemory())
	svc.Register(ctx, "users", Config{FailureThreshold: 2, ResetTimeout: time.Minute})

	svc.RecordFailure(ctx, "users", errors.New("boom"), "upstream_5xx")
	assert.True(t, svc.IsAllowed(ctx, "users"))

	svc.RecordFailure(ctx, "users", errors.New("boom"), "upstream_5xx")
	assert.False(t, svc.IsAllowed(ctx, "users"))
}

func TestService_PublishesTransitionAndFailureEvents(t *testing.T) {
	ctx := context.Background()
	svc, bus := newTestService(store.NewMemory())
	svc.Register(ctx, "users", Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	var changes []StateChangeEvent
	bus.Subscribe(events.TopicCircuitStateChange, func(e events.Event) {
		changes = append(changes, e.Payload.(StateChangeEvent))
	})
	var failures []FailureEvent
	bus.Subscribe(events.TopicCircuitFailure, func(e events.Event) {
		failures = append(failures, e.Payload.(FailureEvent))
	})

	svc.RecordFailure(ctx, "users", errors.New("connection refused"), "transport")

	require.Len(t, changes, 1)
	assert.Equal(t, "users", changes[0].ServiceID)
	assert.Equal(t, "CLOSED", changes[0].From)
	assert.Equal(t, "OPEN", changes[0].To)

	require.Len(t, failures, 1)
	assert.Equal(t, "connection refused", failures[0].ErrorMessage)
	assert.Equal(t, "transport", failures[0].ErrorKind)
	assert.Equal(t, "OPEN", failures[0].StateAtFailure)
}

func TestService_DistributedMirrorWritten(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc, _ := newTestService(mem)
	svc.Register(ctx, "users", Config{FailureThreshold: 1, ResetTimeout: time.Minute, Distributed: true})

	svc.RecordFailure(ctx, "users", errors.New("boom"), "transport")

	state, err := mem.Get(ctx, "circuit:users:state")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(int(StateOpen)), state)

	failuresVal, err := mem.Get(ctx, "circuit:users:failures")
	require.NoError(t, err)
	assert.Equal(t, "1", failuresVal)

	next, err := mem.Get(ctx, "circuit:users:nextAttempt")
	require.NoError(t, err)
	assert.NotEqual(t, "0", next)
}

func TestService_AdmissionDoesNotWriteMirror(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc, _ := newTestService(mem)
	svc.Register(ctx, "users", Config{FailureThreshold: 3, ResetTimeout: time.Minute, Distributed: true})

	for i := 0; i < 10; i++ {
		require.True(t, svc.IsAllowed(ctx, "users"))
	}

	_, err := mem.Get(ctx, "circuit:users:state")
	assert.ErrorIs(t, err, store.ErrNotFound, "closed-circuit admission never touches the store")

	// A counter mutation does mirror.
	svc.RecordFailure(ctx, "users", errors.New("boom"), "transport")
	_, err = mem.Get(ctx, "circuit:users:state")
	assert.NoError(t, err)
}

func TestService_HydratesOpenCircuitFromStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	now := time.Now()
	seed := map[string]string{
		"circuit:users:state":       strconv.Itoa(int(StateOpen)),
		"circuit:users:failures":    "5",
		"circuit:users:lastFailure": strconv.FormatInt(now.UnixMilli(), 10),
		"circuit:users:nextAttempt": strconv.FormatInt(now.Add(5*time.Second).UnixMilli(), 10),
	}
	require.NoError(t, mem.MSet(ctx, seed, 0))

	svc, _ := newTestService(mem)
	b := svc.Register(ctx, "users", Config{FailureThreshold: 5, ResetTimeout: 5 * time.Second, Distributed: true})

	clock := now
	b.SetNow(func() time.Time { return clock })

	assert.False(t, svc.IsAllowed(ctx, "users"), "circuit opened by another instance is honored")

	clock = now.Add(6 * time.Second)
	assert.True(t, svc.IsAllowed(ctx, "users"), "probe admitted after the reset deadline")
}

func TestService_HydrationSkipsCorruptMirror(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Set(ctx, "circuit:users:state", "banana", 0))

	svc, _ := newTestService(mem)
	svc.Register(ctx, "users", Config{FailureThreshold: 1, ResetTimeout: time.Minute, Distributed: true})

	assert.True(t, svc.IsAllowed(ctx, "users"))
}

func TestService_FailsLocalWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.SetFailing(true)

	svc, _ := newTestService(mem)
	svc.Register(ctx, "users", Config{FailureThreshold: 1, ResetTimeout: time.Minute, Distributed: true})

	svc.RecordFailure(ctx, "users", errors.New("boom"), "transport")
	assert.False(t, svc.IsAllowed(ctx, "users"), "local state still enforced without the mirror")
}

func TestService_ResetPublishesAndCloses(t *testing.T) {
	ctx := context.Background()
	svc, bus := newTestService(store.NewMemory())
	svc.Register(ctx, "users", Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	resets := 0
	bus.Subscribe(events.TopicCircuitReset, func(events.Event) { resets++ })

	svc.RecordFailure(ctx, "users", errors.New("boom"), "transport")
	require.False(t, svc.IsAllowed(ctx, "users"))

	require.NoError(t, svc.Reset(ctx, "users"))
	assert.Equal(t, 1, resets)
	assert.True(t, svc.IsAllowed(ctx, "users"))

	assert.Error(t, svc.Reset(ctx, "nope"))
}

func TestService_HealthReportsAllBreakers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(store.NewMemory())
	svc.Register(ctx, "users", Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	svc.Register(ctx, "orders", Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	svc.RecordFailure(ctx, "users", errors.New("boom"), "transport")

	health := svc.Health()
	require.Len(t, health, 2)
	assert.Equal(t, StateOpen, health["users"].State)
	assert.Equal(t, StateClosed, health["orders"].State)
}
