package actionrun_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orcd/internal/actionrun"
	"github.com/flowcraft/orcd/internal/cache"
	"github.com/flowcraft/orcd/internal/errclass"
	"github.com/flowcraft/orcd/internal/flowdoc"
	"github.com/flowcraft/orcd/internal/registry"
)

func newRC(t *testing.T, reg *registry.Registry) (*actionrun.RunContext, map[string]any) {
	t.Helper()
	if reg == nil {
		reg = registry.New()
	}
	ctxRoot := map[string]any{}
	rc := &actionrun.RunContext{
		Context: context.Background(),
		Event:   map[string]any{},
		Step:    "s1",
		Reg:     reg,
		Cache:   cache.New(0),
		Results: map[string]any{},
	}
	return rc, ctxRoot
}

func TestRun_AssignSetsContextPath(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "assign", To: "user.name", Value: "ada"},
	}, ctxRoot, nil)
	require.Empty(t, out.Errors)
	assert.Equal(t, "ada", ctxRoot["user"].(map[string]any)["name"])
}

func TestRun_AssignFromEventPath(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	rc.Event = map[string]any{"value": "from-event"}
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "assign", To: "picked", FromEventPath: "value"},
	}, ctxRoot, nil)
	require.Empty(t, out.Errors)
	assert.Equal(t, "from-event", ctxRoot["picked"])
}

func TestRun_ClearRemovesPaths(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	ctxRoot["a"] = map[string]any{"b": 1}
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "clear", Paths: []string{"a.b"}},
	}, ctxRoot, nil)
	require.Empty(t, out.Errors)
	_, exists := ctxRoot["a"].(map[string]any)["b"]
	assert.False(t, exists)
}

func TestRun_UseResolvesThroughArena(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	arena := map[string]*flowdoc.ActionSpec{
		"setFlag": {Type: "assign", To: "flag", Value: true},
	}
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "use", Use: "setFlag"},
	}, ctxRoot, arena)
	require.Empty(t, out.Errors)
	assert.Equal(t, true, ctxRoot["flag"])
}

func TestRun_UnknownUseReferenceIsConfigError(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "use", Use: "nope"},
	}, ctxRoot, map[string]*flowdoc.ActionSpec{})
	require.Len(t, out.Errors, 1)
	assert.Equal(t, errclass.KindConfig, out.Errors[0].Kind)
}

func TestRun_TrackWithoutSinkContinuesPipeline(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "track", Event: "clicked"}, // no track sink registered: silent no-op
		{Type: "assign", To: "after", Value: 1},
	}, ctxRoot, nil)
	assert.Empty(t, out.Errors)
	assert.Equal(t, 1, ctxRoot["after"])
}

func TestRun_DelayRespectsCancellation(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	rc.Context = ctx
	cancel()
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "delay", DurationMs: 5000},
	}, ctxRoot, nil)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, errclass.KindCancelled, out.Errors[0].Kind)
	assert.True(t, out.Blocked)
}

// slowHTTP always 500s, delaying requests to "/slow" so a test can force
// a block-severity child to finish after a warn-severity one.
type slowHTTP struct{}

func (s *slowHTTP) Do(ctx context.Context, req actionrun.HTTPRequest) (actionrun.HTTPResponse, error) {
	if req.URL == "/slow" {
		time.Sleep(20 * time.Millisecond)
	}
	return actionrun.HTTPResponse{Status: 500}, nil
}

func TestRun_ParallelBlockSeverityWinsOverFasterWarnChild(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Services, "http", &slowHTTP{}, nil))
	rc, ctxRoot := newRC(t, reg)

	// child 1's 500 lands immediately with warn severity; child 2's
	// lands ~20ms later with block severity. The block result must
	// survive even though it finishes second.
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "parallel", Parallel: []*flowdoc.ActionSpec{
			{Type: "http", Method: "GET", URL: "/fast", Severity: "warn"},
			{Type: "http", Method: "GET", URL: "/slow", Severity: "block"},
		}},
	}, ctxRoot, nil)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, errclass.Block, out.Errors[0].Severity)
	assert.True(t, out.Blocked)
}

func TestRun_ParallelAwaitsAllChildren(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "parallel", Parallel: []*flowdoc.ActionSpec{
			{Type: "assign", To: "a", Value: 1},
			{Type: "assign", To: "b", Value: 2},
		}},
	}, ctxRoot, nil)
	assert.Empty(t, out.Errors)
	assert.Equal(t, 1, ctxRoot["a"])
	assert.Equal(t, 2, ctxRoot["b"])
}

// fakeHTTP is a minimal services.http capability double.
type fakeHTTP struct {
	calls int
	fail  int // number of leading calls to fail with a 500
	resp  actionrun.HTTPResponse
}

func (f *fakeHTTP) Do(ctx context.Context, req actionrun.HTTPRequest) (actionrun.HTTPResponse, error) {
	f.calls++
	if f.calls <= f.fail {
		return actionrun.HTTPResponse{Status: 500}, nil
	}
	return f.resp, nil
}

func TestRun_HTTPRetriesOn5xxThenSucceeds(t *testing.T) {
	reg := registry.New()
	svc := &fakeHTTP{fail: 2, resp: actionrun.HTTPResponse{Status: 200, Body: map[string]any{"id": "abc"}}}
	require.NoError(t, reg.Register(registry.Services, "http", svc, nil))

	rc, ctxRoot := newRC(t, reg)
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{
			Type: "http", Method: "GET", URL: "/things/1",
			Retry:     &flowdoc.RetryConfig{Max: 3, BackoffMs: 1, MaxBackoffMs: 5},
			MapResult: map[string]string{"thing.id": "$.id"},
		},
	}, ctxRoot, nil)
	require.Empty(t, out.Errors)
	assert.Equal(t, 3, svc.calls)
	assert.Equal(t, "abc", ctxRoot["thing"].(map[string]any)["id"])
}

func TestRun_HTTPCacheHitSkipsCall(t *testing.T) {
	reg := registry.New()
	svc := &fakeHTTP{resp: actionrun.HTTPResponse{Status: 200, Body: map[string]any{"v": 1.0}}}
	require.NoError(t, reg.Register(registry.Services, "http", svc, nil))

	rc, ctxRoot := newRC(t, reg)
	spec := &flowdoc.ActionSpec{
		Type: "http", Method: "GET", URL: "/cached", CacheTtlMs: 60_000, CacheKey: "k1",
		MapResult: map[string]string{"v": "$.v"},
	}
	out1 := actionrun.Run(rc, []*flowdoc.ActionSpec{spec}, ctxRoot, nil)
	require.Empty(t, out1.Errors)
	assert.Equal(t, 1, svc.calls)

	out2 := actionrun.Run(rc, []*flowdoc.ActionSpec{spec}, ctxRoot, nil)
	require.Empty(t, out2.Errors)
	assert.Equal(t, 1, svc.calls, "second run must be served from cache")
}

// fakeSchemaValidator is a minimal schemas.validate capability double.
type fakeSchemaValidator struct{ rejectName string }

func (f *fakeSchemaValidator) Validate(name string, value any) error {
	if name == f.rejectName {
		return fmt.Errorf("value does not match schema %q", name)
	}
	return nil
}

func TestRun_HTTPExpectSchemaUsesRegisteredValidator(t *testing.T) {
	reg := registry.New()
	svc := &fakeHTTP{resp: actionrun.HTTPResponse{Status: 200, Body: map[string]any{"v": 1.0}}}
	require.NoError(t, reg.Register(registry.Services, "http", svc, nil))
	require.NoError(t, reg.Register(registry.Tools, "schemas", &fakeSchemaValidator{rejectName: "thing"}, nil))

	rc, ctxRoot := newRC(t, reg)
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{
			Type: "http", Method: "GET", URL: "/things/1", Severity: "block",
			Expect: &flowdoc.ExpectConfig{Schema: "thing"},
		},
	}, ctxRoot, nil)
	require.True(t, out.Blocked, "a registered schema validator rejecting the response must block")
	require.NotEmpty(t, out.Errors)
}

func TestRun_HTTPFatalSeverityRunsRollback(t *testing.T) {
	reg := registry.New()
	svc := &fakeHTTP{fail: 99, resp: actionrun.HTTPResponse{Status: 500}}
	require.NoError(t, reg.Register(registry.Services, "http", svc, nil))

	rc, ctxRoot := newRC(t, reg)
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{
			Type: "http", Method: "POST", URL: "/charge", Severity: "fatal",
			Rollback: []*flowdoc.ActionSpec{
				{Type: "assign", To: "rolledBack", Value: true},
			},
		},
	}, ctxRoot, nil)
	require.Len(t, out.Errors, 1)
	assert.True(t, out.Fatal)
	assert.True(t, out.Blocked)
	assert.Equal(t, true, ctxRoot["rolledBack"])
}

func TestRun_HTTPMissingServiceIsConfigError(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "http", Method: "GET", URL: "/x", Severity: "block"},
	}, ctxRoot, nil)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, errclass.KindConfig, out.Errors[0].Kind)
}

func TestRun_EventActionCallsSenderAfterPipeline(t *testing.T) {
	rc, ctxRoot := newRC(t, nil)
	sent := &recordingSender{}
	rc.Send = sent
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "event", Event: "FOLLOWUP", Payload: map[string]any{"n": 1}},
	}, ctxRoot, nil)
	require.Empty(t, out.Errors)
	require.Len(t, sent.events, 1)
	assert.Equal(t, "FOLLOWUP", sent.events[0])
}

type recordingSender struct{ events []string }

func (r *recordingSender) Send(event string, payload any) { r.events = append(r.events, event) }

func TestWaitRetryBackoff_RespectsMaxBackoff(t *testing.T) {
	// Indirect property check: a retry sequence with a tiny max backoff
	// must not block the test for anywhere near the full exponential
	// growth it would reach unclamped.
	reg := registry.New()
	svc := &fakeHTTP{fail: 3, resp: actionrun.HTTPResponse{Status: 200, Body: map[string]any{}}}
	require.NoError(t, reg.Register(registry.Services, "http", svc, nil))
	rc, ctxRoot := newRC(t, reg)

	start := time.Now()
	out := actionrun.Run(rc, []*flowdoc.ActionSpec{
		{Type: "http", Method: "GET", URL: "/x",
			Retry: &flowdoc.RetryConfig{Max: 3, BackoffMs: 1000, MaxBackoffMs: 2, Multiplier: 4}},
	}, ctxRoot, nil)
	elapsed := time.Since(start)
	require.Empty(t, out.Errors)
	assert.Less(t, elapsed, 500*time.Millisecond)
}
