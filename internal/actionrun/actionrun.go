// Package actionrun executes Action Spec lists against a live RunContext
// (spec §4.E): assign, clear, track, http, delay, event, use, parallel.
// The http algorithm is the hardest case — resolve, cache lookup,
// execute-with-timeout, validate, retry, mapResult, severity, rollback
// — run in that order, every step observing cancellation.
package actionrun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowcraft/orcd/internal/cache"
	"github.com/flowcraft/orcd/internal/errclass"
	"github.com/flowcraft/orcd/internal/flowdoc"
	"github.com/flowcraft/orcd/internal/jsonpath"
	"github.com/flowcraft/orcd/internal/pathutil"
	"github.com/flowcraft/orcd/internal/registry"
	"github.com/flowcraft/orcd/internal/tmpl"
)

// HTTPService is the services.http capability contract (spec §6).
type HTTPService interface {
	Do(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
}

// HTTPRequest is the resolved, template-free request handed to the
// registered services.http capability.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]any
	Body    any
}

// HTTPResponse is what services.http returns on success.
type HTTPResponse struct {
	Status int
	Body   any // parsed per content-type by the capability implementation
}

// TrackService is the actions.track capability contract; it cannot fail.
type TrackService interface {
	Track(event string, props map[string]any)
}

// SchemaValidator is the schemas.validate capability contract.
type SchemaValidator interface {
	Validate(schemaName string, value any) error
}

// Sender lets the "event" action re-inject a payload into the
// orchestrator after the current pipeline completes.
type Sender interface {
	Send(event string, payload any)
}

// RunContext is everything a single action-list run needs (spec §4.E):
// the mutable context, the triggering event, step metadata, the
// capability registry, the shared TTL cache, and a cancellation signal.
type RunContext struct {
	Context context.Context
	Event   map[string]any
	Step    string
	Reg     *registry.Registry
	Cache   *cache.Cache
	Results map[string]any // results[stepId][actionId] namespace, mutated in place
	Send    Sender
}

// Outcome is the result of running one action list.
type Outcome struct {
	Blocked bool            // block/fatal severity was hit; pipeline must abort
	Fatal   bool            // severity was fatal specifically (errorStep routing)
	Errors  []*errclass.Classified
}

// Run executes actions in sequence, honoring severity escalation:
// warn keeps going, block/fatal stop the list immediately (after
// running that action's rollback). arena resolves "use" references.
func Run(rc *RunContext, actions []*flowdoc.ActionSpec, context_ map[string]any, arena map[string]*flowdoc.ActionSpec) Outcome {
	out := Outcome{}
	for _, a := range actions {
		if err := rc.Context.Err(); err != nil {
			out.Errors = append(out.Errors, errclass.Classify(&errclass.CancelledError{}, nil))
			out.Blocked = true
			return out
		}
		classified := runOne(rc, a, context_, arena)
		if classified == nil {
			continue
		}
		out.Errors = append(out.Errors, classified)
		switch classified.Severity {
		case errclass.Block:
			out.Blocked = true
			return out
		case errclass.Fatal:
			out.Blocked = true
			out.Fatal = true
			return out
		}
	}
	return out
}

// runOne dispatches a single action by type, returning a non-nil
// Classified only when the action failed (warn/block/fatal).
func runOne(rc *RunContext, a *flowdoc.ActionSpec, ctxRoot map[string]any, arena map[string]*flowdoc.ActionSpec) *errclass.Classified {
	switch a.Type {
	case "assign":
		return runAssign(rc, a, ctxRoot)
	case "clear":
		return runClear(a, ctxRoot)
	case "track":
		return runTrack(rc, a, ctxRoot)
	case "http":
		return runHTTP(rc, a, ctxRoot)
	case "delay":
		return runDelay(rc, a)
	case "event":
		return runEvent(rc, a, ctxRoot)
	case "use":
		ref, ok := arena[a.Use]
		if !ok {
			return errclass.Classify(&errclass.ConfigError{Msg: fmt.Sprintf("use %q does not resolve", a.Use)}, nil)
		}
		return runOne(rc, ref, ctxRoot, arena)
	case "parallel":
		return runParallel(rc, a, ctxRoot, arena)
	default:
		return errclass.Classify(&errclass.ConfigError{Msg: fmt.Sprintf("unknown action type %q", a.Type)}, nil)
	}
}

func root(rc *RunContext, ctxRoot map[string]any) map[string]any {
	return map[string]any{
		"context": ctxRoot,
		"event":   rc.Event,
		"step":    rc.Step,
		"results": rc.Results,
	}
}

func runAssign(rc *RunContext, a *flowdoc.ActionSpec, ctxRoot map[string]any) *errclass.Classified {
	var value any
	if a.FromEventPath != "" {
		value = pathutil.GetOr(rc.Event, a.FromEventPath, nil)
	} else {
		value = tmpl.Resolve(a.Value, root(rc, ctxRoot))
	}
	updated, ok := pathutil.Set(ctxRoot, a.To, value).(map[string]any)
	if !ok {
		return errclass.Classify(&errclass.ValidationError{Msg: fmt.Sprintf("assign to %q: root is not an object", a.To)}, nil)
	}
	copyInto(ctxRoot, updated)
	return nil
}

func runClear(a *flowdoc.ActionSpec, ctxRoot map[string]any) *errclass.Classified {
	var cur any = ctxRoot
	for _, p := range a.Paths {
		cur = pathutil.Unset(cur, p)
	}
	updated, ok := cur.(map[string]any)
	if !ok {
		return errclass.Classify(&errclass.ValidationError{Msg: "clear: root is not an object"}, nil)
	}
	copyInto(ctxRoot, updated)
	return nil
}

func runTrack(rc *RunContext, a *flowdoc.ActionSpec, ctxRoot map[string]any) *errclass.Classified {
	impl, ok := rc.Reg.Lookup(registry.Actions, "track")
	if !ok {
		return nil // track cannot fail; a missing sink is a silent no-op
	}
	svc, ok := impl.(TrackService)
	if !ok {
		return nil
	}
	props := map[string]any{}
	for k, v := range a.Props {
		props[k] = tmpl.Resolve(v, root(rc, ctxRoot))
	}
	svc.Track(a.Event, props)
	return nil
}

func runDelay(rc *RunContext, a *flowdoc.ActionSpec) *errclass.Classified {
	if a.DurationMs <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(a.DurationMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-rc.Context.Done():
		return errclass.Classify(&errclass.CancelledError{}, nil)
	}
}

func runEvent(rc *RunContext, a *flowdoc.ActionSpec, ctxRoot map[string]any) *errclass.Classified {
	if rc.Send == nil {
		return nil
	}
	payload := tmpl.Resolve(a.Payload, root(rc, ctxRoot))
	rc.Send.Send(a.Event, payload)
	return nil
}

// severityRank orders Classified results so the worst one found across
// parallel children always wins, regardless of which goroutine finishes
// first (spec §8: a block child must not be masked by a faster warn child).
func severityRank(s errclass.Severity) int {
	switch s {
	case errclass.Fatal:
		return 3
	case errclass.Block:
		return 2
	case errclass.Warn:
		return 1
	default:
		return 0
	}
}

func runParallel(rc *RunContext, a *flowdoc.ActionSpec, ctxRoot map[string]any, arena map[string]*flowdoc.ActionSpec) *errclass.Classified {
	g, gctx := errgroup.WithContext(rc.Context)
	const maxWorkers = 8
	g.SetLimit(maxWorkers)

	var mu sync.Mutex
	var worst *errclass.Classified
	for _, child := range a.Parallel {
		child := child
		g.Go(func() error {
			childRC := &RunContext{
				Context: gctx, Event: rc.Event, Step: rc.Step,
				Reg: rc.Reg, Cache: rc.Cache, Results: rc.Results, Send: rc.Send,
			}
			if c := runOne(childRC, child, ctxRoot, arena); c != nil {
				mu.Lock()
				if worst == nil || severityRank(c.Severity) > severityRank(worst.Severity) {
					worst = c
				}
				mu.Unlock()
				if c.Severity == errclass.Block || c.Severity == errclass.Fatal {
					return c
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return worst
}

// runHTTP implements the 8-step http algorithm from spec §4.E.
func runHTTP(rc *RunContext, a *flowdoc.ActionSpec, ctxRoot map[string]any) *errclass.Classified {
	policy := errclass.DefaultPolicy()
	severity := severityOverride(a.Severity)

	// 1. Resolve
	rt := root(rc, ctxRoot)
	resolvedURL, _ := tmpl.Resolve(a.URL, rt).(string)
	resolvedHeaders := map[string]any{}
	for k, v := range a.Headers {
		resolvedHeaders[k] = tmpl.Resolve(v, rt)
	}
	resolvedBody := tmpl.Resolve(a.Body, rt)

	// 2. Cache lookup
	var cacheKey string
	if a.CacheTtlMs > 0 {
		cacheKey = cacheKeyFor(a, resolvedURL, resolvedBody)
		if v, ok := rc.Cache.Get(cacheKey); ok {
			applyMapResult(rc, a, v, ctxRoot)
			return nil
		}
	}

	svc, err := httpService(rc)
	if err != nil {
		return classifyWithSeverity(err, policy, severity)
	}

	// 3/5. Execute with timeout + retry
	var resp HTTPResponse
	var lastErr error
	retry := a.Retry
	maxAttempts := 1
	if retry != nil {
		maxAttempts = retry.Max + 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		callCtx := rc.Context
		var cancel context.CancelFunc
		if a.TimeoutMs > 0 {
			callCtx, cancel = context.WithTimeout(rc.Context, time.Duration(a.TimeoutMs)*time.Millisecond)
		}
		resp, lastErr = svc.Do(callCtx, HTTPRequest{
			Method: a.Method, URL: resolvedURL, Headers: resolvedHeaders, Body: resolvedBody,
		})
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			lastErr = checkExpectStatus(a, resp)
		}
		if lastErr == nil {
			break
		}
		if rc.Context.Err() != nil {
			return classifyWithSeverity(&errclass.CancelledError{}, policy, severity)
		}
		classified := errclass.Classify(lastErr, policy)
		if !classified.Retriable || attempt == maxAttempts-1 {
			break
		}
		waitRetryBackoff(rc.Context, retry, attempt)
	}
	if lastErr != nil {
		classified := classifyWithSeverity(lastErr, policy, severity)
		if classified.Severity == errclass.Block || classified.Severity == errclass.Fatal {
			runRollback(rc, a, ctxRoot)
		}
		return classified
	}

	// 4. Validate (schema, if configured)
	if a.Expect != nil && a.Expect.Schema != "" {
		if sv, err := schemaValidator(rc); err == nil {
			if err := sv.Validate(a.Expect.Schema, resp.Body); err != nil {
				classified := classifyWithSeverity(&errclass.SchemaError{Name: a.Expect.Schema}, policy, severity)
				if classified.Severity == errclass.Block || classified.Severity == errclass.Fatal {
					runRollback(rc, a, ctxRoot)
				}
				return classified
			}
		}
	}

	if a.CacheTtlMs > 0 {
		rc.Cache.Set(cacheKey, resp.Body, time.Duration(a.CacheTtlMs)*time.Millisecond)
	}

	// 6. Map result
	applyMapResult(rc, a, resp.Body, ctxRoot)
	return nil
}

func severityOverride(s string) errclass.Severity {
	switch s {
	case "warn":
		return errclass.Warn
	case "block":
		return errclass.Block
	case "fatal":
		return errclass.Fatal
	default:
		return ""
	}
}

func classifyWithSeverity(err error, policy errclass.Policy, override errclass.Severity) *errclass.Classified {
	c := errclass.Classify(err, policy)
	if override != "" {
		c.Severity = override
	}
	return c
}

func checkExpectStatus(a *flowdoc.ActionSpec, resp HTTPResponse) error {
	if a.Expect == nil || len(a.Expect.Status) == 0 {
		if resp.Status >= 500 {
			return &errclass.HTTPStatusError{Status: resp.Status}
		}
		return nil
	}
	for _, s := range a.Expect.Status {
		if s == resp.Status {
			return nil
		}
	}
	return &errclass.HTTPStatusError{Status: resp.Status}
}

// waitRetryBackoff implements min(backoffMs*multiplier^attempt, maxBackoffMs)
// plus ±25% jitter, adapted from the teacher's
// AdaptiveRetryStrategy.GetRetryDelay (internal/contract/retry_strategy.go),
// ported to math/rand/v2 since the teacher's nanosecond LCG jitter is a
// known-sloppy demo device.
func waitRetryBackoff(ctx context.Context, retry *flowdoc.RetryConfig, attempt int) {
	if retry == nil {
		return
	}
	mult := retry.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(retry.BackoffMs)
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	if retry.MaxBackoffMs > 0 && delay > float64(retry.MaxBackoffMs) {
		delay = float64(retry.MaxBackoffMs)
	}
	jitter := delay * 0.25
	delay = delay - jitter + jitter*2.0*rand.Float64()

	timer := time.NewTimer(time.Duration(delay) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func runRollback(rc *RunContext, a *flowdoc.ActionSpec, ctxRoot map[string]any) {
	for i := len(a.Rollback) - 1; i >= 0; i-- {
		child := a.Rollback[i]
		if c := runOne(rc, child, ctxRoot, nil); c != nil {
			_ = c // rollback is best-effort: a failing rollback action's result is discarded, not recorded
		}
	}
}

func applyMapResult(rc *RunContext, a *flowdoc.ActionSpec, body any, ctxRoot map[string]any) {
	for contextPath, expr := range a.MapResult {
		value, err := jsonpath.Extract(body, expr)
		if err != nil {
			continue
		}
		updated, ok := pathutil.Set(ctxRoot, contextPath, value).(map[string]any)
		if !ok {
			continue
		}
		copyInto(ctxRoot, updated)
	}
}

func cacheKeyFor(a *flowdoc.ActionSpec, url string, body any) string {
	if a.CacheKey != "" {
		return a.CacheKey
	}
	encoded, _ := json.Marshal(body)
	h := sha256.Sum256(append([]byte(a.Method+url), encoded...))
	return a.Method + ":" + url + ":" + hex.EncodeToString(h[:8])
}

func httpService(rc *RunContext) (HTTPService, error) {
	impl, ok := rc.Reg.Lookup(registry.Services, "http")
	if !ok {
		return nil, &errclass.ConfigError{Msg: "services.http is not registered"}
	}
	svc, ok := impl.(HTTPService)
	if !ok {
		return nil, &errclass.ConfigError{Msg: "services.http does not implement HTTPService"}
	}
	return svc, nil
}

func schemaValidator(rc *RunContext) (SchemaValidator, error) {
	impl, ok := rc.Reg.Lookup(registry.Tools, "schemas")
	if !ok {
		return nil, fmt.Errorf("schemas.validate is not registered")
	}
	sv, ok := impl.(SchemaValidator)
	if !ok {
		return nil, fmt.Errorf("schemas.validate does not implement SchemaValidator")
	}
	return sv, nil
}

// copyInto replaces dst's entries in place with src's, since
// pathutil.Set/Unset return a new root value via structural sharing
// rather than mutating ctxRoot — callers hold a stable *map[string]any
// reference across an action list, so the new root is folded back in.
func copyInto(dst, src map[string]any) {
	for k := range dst {
		if _, ok := src[k]; !ok {
			delete(dst, k)
		}
	}
	for k, v := range src {
		dst[k] = v
	}
}
