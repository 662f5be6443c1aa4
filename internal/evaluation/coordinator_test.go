package evaluation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/answerevaluator/internal/metrics"
	"github.com/Lllllllleong/answerevaluator/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type genResult struct {
	answer string
	err    error
}

type genCall struct {
	ctx    context.Context
	prompt string
	weight string
	result chan genResult
}

func (c *genCall) resolve(answer string, err error) {
	c.result <- genResult{answer: answer, err: err}
}

// fakeGenerator blocks every call until the test resolves it.
type fakeGenerator struct {
	mu        sync.Mutex
	calls     []*genCall
	started   chan *genCall
	ignoreCtx bool
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{started: make(chan *genCall, 64)}
}

func (g *fakeGenerator) GenerateAnswer(ctx context.Context, prompt, weight string) (string, error) {
	call := &genCall{ctx: ctx, prompt: prompt, weight: weight, result: make(chan genResult, 1)}
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
	g.started <- call

	if g.ignoreCtx {
		r := <-call.result
		return r.answer, r.err
	}
	select {
	case r := <-call.result:
		return r.answer, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) next(t *testing.T) *genCall {
	t.Helper()
	select {
	case call := <-g.started:
		return call
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a generate-answer call")
		return nil
	}
}

func newTestCoordinator(t *testing.T, gen AnswerGenerator, ids ...string) *Coordinator {
	t.Helper()
	c := NewCoordinator(NewStore(nil), gen, nil)
	c.Reset(seeds(ids...))
	t.Cleanup(c.Close)
	return c
}

func wait(t *testing.T, sub *Subscription) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	return sub.Wait(ctx)
}

func status(t *testing.T, c *Coordinator, id string) models.GenerationStatus {
	t.Helper()
	item, err := c.Store().Get(id)
	require.NoError(t, err)
	return item.Status
}

// TestRequestAnswerIssuesOneCall verifies an idle item gets exactly one call and caches its answer.
func TestRequestAnswerIssuesOneCall(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	sub, err := c.RequestAnswer("1")
	require.NoError(t, err)
	assert.Equal(t, "1", sub.ItemID())
	assert.Equal(t, models.GenerationInFlight, status(t, c, "1"))

	call := gen.next(t)
	assert.Equal(t, "Explain 1", call.prompt)
	assert.Equal(t, "5", call.weight)
	call.resolve("ideal answer", nil)

	answer, err := wait(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "ideal answer", answer)

	item, err := c.Store().Get("1")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationSucceeded, item.Status)
	assert.Equal(t, "ideal answer", item.GeneratedAnswer)
	assert.Equal(t, 1, gen.callCount())
}

// TestRequestAnswerEventOrder verifies a subscriber sees in_flight then one terminal event.
func TestRequestAnswerEventOrder(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	sub, err := c.RequestAnswer("1")
	require.NoError(t, err)
	gen.next(t).resolve("ideal", nil)

	var kinds []GenerationEventKind
	for ev := range sub.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []GenerationEventKind{GenerationEventInFlight, GenerationEventSucceeded}, kinds)
}

// TestConcurrentRequestsShareOneCall verifies N overlapping requests issue one call and all see its result.
func TestConcurrentRequestsShareOneCall(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	const n = 8
	subs := make([]*Subscription, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := c.RequestAnswer("1")
			assert.NoError(t, err)
			subs[i] = sub
		}(i)
	}
	wg.Wait()

	call := gen.next(t)
	info, ok := c.Request("1")
	require.True(t, ok)
	assert.Equal(t, n, info.Subscribers)

	call.resolve("shared", nil)
	for _, sub := range subs {
		answer, err := wait(t, sub)
		require.NoError(t, err)
		assert.Equal(t, "shared", answer)
	}
	assert.Equal(t, 1, gen.callCount())
}

// TestSucceededItemIsServedFromCache verifies a succeeded item never triggers another call.
func TestSucceededItemIsServedFromCache(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	sub, err := c.RequestAnswer("1")
	require.NoError(t, err)
	gen.next(t).resolve("cached", nil)
	_, err = wait(t, sub)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sub, err := c.RequestAnswer("1")
		require.NoError(t, err)

		ev, ok := <-sub.Events()
		require.True(t, ok)
		assert.Equal(t, GenerationEventSucceeded, ev.Kind)
		assert.Equal(t, "cached", ev.Answer)
		_, open := <-sub.Events()
		assert.False(t, open)
	}
	assert.Equal(t, 1, gen.callCount())
}

// TestFailureIsIsolatedPerItem verifies one item's failure leaves others untouched and can be retried.
func TestFailureIsIsolatedPerItem(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1", "2")

	sub1, err := c.RequestAnswer("1")
	require.NoError(t, err)
	call1 := gen.next(t)
	sub2, err := c.RequestAnswer("2")
	require.NoError(t, err)
	call2 := gen.next(t)

	boom := errors.New("service unavailable")
	call1.resolve("", boom)
	_, err = wait(t, sub1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.GenerationFailed, status(t, c, "1"))
	assert.Equal(t, models.GenerationInFlight, status(t, c, "2"))

	call2.resolve("second", nil)
	answer, err := wait(t, sub2)
	require.NoError(t, err)
	assert.Equal(t, "second", answer)

	item, err := c.Store().Get("1")
	require.NoError(t, err)
	assert.Equal(t, "service unavailable", item.Error)

	retry, err := c.RequestAnswer("1")
	require.NoError(t, err)
	gen.next(t).resolve("recovered", nil)
	answer, err = wait(t, retry)
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Equal(t, 3, gen.callCount())
}

// TestCancelWithoutSubscribersReturnsToIdle verifies cancel aborts the call and drops its result.
func TestCancelWithoutSubscribersReturnsToIdle(t *testing.T) {
	gen := newFakeGenerator()
	gen.ignoreCtx = true
	c := newTestCoordinator(t, gen, "1")

	sub, err := c.RequestAnswer("1")
	require.NoError(t, err)
	call := gen.next(t)
	sub.Detach()

	deferred, err := c.Cancel("1")
	require.NoError(t, err)
	assert.False(t, deferred)
	assert.Equal(t, models.GenerationIdle, status(t, c, "1"))
	assert.Error(t, call.ctx.Err(), "call context must be cancelled")

	call.resolve("late", nil)
	c.Close()

	item, err := c.Store().Get("1")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationIdle, item.Status)
	assert.Empty(t, item.GeneratedAnswer)
}

// TestCancelIsDeferredWhileSubscribed verifies the last detach performs a pending cancel.
func TestCancelIsDeferredWhileSubscribed(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	sub, err := c.RequestAnswer("1")
	require.NoError(t, err)
	call := gen.next(t)

	deferred, err := c.Cancel("1")
	require.NoError(t, err)
	assert.True(t, deferred)
	assert.Equal(t, models.GenerationInFlight, status(t, c, "1"))
	info, ok := c.Request("1")
	require.True(t, ok)
	assert.True(t, info.CancelPending)

	sub.Detach()
	sub.Detach()
	assert.Equal(t, models.GenerationIdle, status(t, c, "1"))
	_, ok = c.Request("1")
	assert.False(t, ok)
	assert.Error(t, call.ctx.Err())
}

// TestNewSubscriberClearsPendingCancel verifies re-requesting keeps the call alive.
func TestNewSubscriberClearsPendingCancel(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	first, err := c.RequestAnswer("1")
	require.NoError(t, err)
	call := gen.next(t)

	deferred, err := c.Cancel("1")
	require.NoError(t, err)
	require.True(t, deferred)

	second, err := c.RequestAnswer("1")
	require.NoError(t, err)
	first.Detach()
	assert.Equal(t, models.GenerationInFlight, status(t, c, "1"))

	call.resolve("kept", nil)
	answer, err := wait(t, second)
	require.NoError(t, err)
	assert.Equal(t, "kept", answer)
	assert.Equal(t, 1, gen.callCount())
}

// TestCancelIdleItemIsNoop verifies cancelling with nothing in flight changes nothing.
func TestCancelIdleItemIsNoop(t *testing.T) {
	c := newTestCoordinator(t, newFakeGenerator(), "1")

	deferred, err := c.Cancel("1")
	require.NoError(t, err)
	assert.False(t, deferred)
	assert.Equal(t, models.GenerationIdle, status(t, c, "1"))
}

// TestUnknownItem verifies unknown ids are rejected without touching the store.
func TestUnknownItem(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")
	before := c.Store().List()

	_, err := c.RequestAnswer("nope")
	assert.ErrorIs(t, err, ErrUnknownItem)
	_, err = c.Cancel("nope")
	assert.ErrorIs(t, err, ErrUnknownItem)

	assert.Equal(t, before, c.Store().List())
	assert.Equal(t, 0, gen.callCount())
}

// TestResetCancelsInFlight verifies a reset resolves waiting subscribers and drops late results.
func TestResetCancelsInFlight(t *testing.T) {
	gen := newFakeGenerator()
	gen.ignoreCtx = true
	c := newTestCoordinator(t, gen, "1")

	sub, err := c.RequestAnswer("1")
	require.NoError(t, err)
	call := gen.next(t)

	items := c.Reset(seeds("1", "2"))
	require.Len(t, items, 2)

	_, err = wait(t, sub)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Error(t, call.ctx.Err())

	call.resolve("stale", nil)
	c.Close()

	item, err := c.Store().Get("1")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationIdle, item.Status)
	assert.Empty(t, item.GeneratedAnswer)
}

// TestWaitContextDetaches verifies an abandoned waiter detaches without cancelling the call.
func TestWaitContextDetaches(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	sub, err := c.RequestAnswer("1")
	require.NoError(t, err)
	call := gen.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	info, ok := c.Request("1")
	require.True(t, ok)
	assert.Equal(t, 0, info.Subscribers)
	assert.NoError(t, call.ctx.Err())

	_, err = sub.Wait(context.Background())
	assert.ErrorIs(t, err, ErrDetached)

	call.resolve("finished anyway", nil)
	assert.Eventually(t, func() bool {
		item, err := c.Store().Get("1")
		return err == nil && item.Status == models.GenerationSucceeded
	}, waitTimeout, 5*time.Millisecond)
}

// TestCloseResolvesWaiters verifies Close cancels live calls and rejects new requests.
func TestCloseResolvesWaiters(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	sub, err := c.RequestAnswer("1")
	require.NoError(t, err)
	gen.next(t)

	c.Close()
	_, err = wait(t, sub)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, models.GenerationIdle, status(t, c, "1"))

	_, err = c.RequestAnswer("1")
	assert.ErrorIs(t, err, ErrClosed)
}

// TestRequestAnswerRecordsOutcomes verifies issued, attached and cached requests are counted.
func TestRequestAnswerRecordsOutcomes(t *testing.T) {
	count := func(outcome string) float64 {
		return testutil.ToFloat64(metrics.GenerationRequests.WithLabelValues(outcome))
	}
	issued, attached, cached := count(metrics.OutcomeIssued), count(metrics.OutcomeAttached), count(metrics.OutcomeCached)

	gen := newFakeGenerator()
	c := newTestCoordinator(t, gen, "1")

	first, err := c.RequestAnswer("1")
	require.NoError(t, err)
	second, err := c.RequestAnswer("1")
	require.NoError(t, err)
	gen.next(t).resolve("ideal", nil)
	_, err = wait(t, first)
	require.NoError(t, err)
	_, err = wait(t, second)
	require.NoError(t, err)
	third, err := c.RequestAnswer("1")
	require.NoError(t, err)
	_, err = wait(t, third)
	require.NoError(t, err)

	assert.Equal(t, issued+1, count(metrics.OutcomeIssued))
	assert.Equal(t, attached+1, count(metrics.OutcomeAttached))
	assert.Equal(t, cached+1, count(metrics.OutcomeCached))
}
