package policy

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubPolicy struct {
	name   string
	result Result
	panics bool
	calls  int
}

func (s *stubPolicy) Name() string { return s.name }

func (s *stubPolicy) Evaluate(context.Context, *http.Request, *RequestContext) Result {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.result
}

func newTestRequest() (*http.Request, *RequestContext) {
	r := httptest.NewRequest(http.MethodGet, "/a/1", nil)
	return r, NewRequestContext("svc", "1.2.3.4", "req-1")
}

func TestApply_EmptyChainAllows(t *testing.T) {
	e := NewEngine(testLogger())
	r, reqCtx := newTestRequest()

	result := e.Apply(context.Background(), nil, r, reqCtx)
	assert.True(t, result.Allowed)
}

func TestApply_FirstDenialShortCircuits(t *testing.T) {
	e := NewEngine(testLogger())
	first := &stubPolicy{name: "first", result: Allow()}
	second := &stubPolicy{name: "second", result: Deny(403, "Forbidden", "nope")}
	third := &stubPolicy{name: "third", result: Deny(401, "Unauthorized", "never seen")}
	e.Register(first)
	e.Register(second)
	e.Register(third)

	r, reqCtx := newTestRequest()
	result := e.Apply(context.Background(), []string{"first", "second", "third"}, r, reqCtx)

	assert.False(t, result.Allowed)
	assert.Equal(t, 403, result.StatusCode)
	assert.Equal(t, "second", result.PolicyName, "denial attributed to the first denying policy")
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
}

func TestApply_MissingPolicySkipped(t *testing.T) {
	e := NewEngine(testLogger())
	known := &stubPolicy{name: "known", result: Allow()}
	e.Register(known)

	r, reqCtx := newTestRequest()
	result := e.Apply(context.Background(), []string{"ghost", "known"}, r, reqCtx)

	assert.True(t, result.Allowed)
	assert.Equal(t, 1, known.calls)
}

func TestApply_PanicAbortsWith500(t *testing.T) {
	e := NewEngine(testLogger())
	e.Register(&stubPolicy{name: "bad", panics: true})
	after := &stubPolicy{name: "after", result: Allow()}
	e.Register(after)

	r, reqCtx := newTestRequest()
	result := e.Apply(context.Background(), []string{"bad", "after"}, r, reqCtx)

	assert.False(t, result.Allowed)
	assert.Equal(t, 500, result.StatusCode)
	assert.Equal(t, "Error evaluating policy", result.Reason)
	assert.Equal(t, "bad", result.PolicyName)
	assert.Equal(t, 0, after.calls)
}

func TestRegister_ReplacesByName(t *testing.T) {
	e := NewEngine(testLogger())
	e.Register(&stubPolicy{name: "p", result: Deny(403, "Forbidden", "old")})
	e.Register(&stubPolicy{name: "p", result: Allow()})

	r, reqCtx := newTestRequest()
	result := e.Apply(context.Background(), []string{"p"}, r, reqCtx)
	assert.True(t, result.Allowed)
}
