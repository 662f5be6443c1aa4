package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/answerevaluator/internal/metrics"
	"github.com/Lllllllleong/answerevaluator/internal/models"
	"github.com/google/uuid"
)

// AnswerGenerator issues a single generate-answer call. Implementations must return
// promptly once ctx is cancelled.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, prompt, weight string) (string, error)
}

// GenerationEventKind classifies events delivered to a Subscription.
type GenerationEventKind string

const (
	GenerationEventInFlight  GenerationEventKind = "in_flight"
	GenerationEventSucceeded GenerationEventKind = "succeeded"
	GenerationEventFailed    GenerationEventKind = "failed"
	GenerationEventCancelled GenerationEventKind = "cancelled"
)

// GenerationEvent is one lifecycle notification for an item.
type GenerationEvent struct {
	ItemID string
	Kind   GenerationEventKind
	Answer string
	Err    error
}

// Terminal reports whether no further events follow e.
func (e GenerationEvent) Terminal() bool {
	return e.Kind != GenerationEventInFlight
}

// generationRequest is the single live generate-answer call for an item.
type generationRequest struct {
	id            uuid.UUID
	itemID        string
	issuedAt      time.Time
	cancel        context.CancelFunc
	subs          []*Subscription
	cancelPending bool
}

// RequestInfo describes a live request for introspection.
type RequestInfo struct {
	ID            uuid.UUID `json:"id"`
	ItemID        string    `json:"itemId"`
	IssuedAt      time.Time `json:"issuedAt"`
	Subscribers   int       `json:"subscribers"`
	CancelPending bool      `json:"cancelPending"`
}

// Coordinator issues generate-answer calls on demand with at most one call in flight
// per item, serves succeeded items from the store and fans results out to every
// attached subscriber. It is the only writer of item generation state.
type Coordinator struct {
	mu       sync.Mutex
	store    *Store
	gen      AnswerGenerator
	log      *slog.Logger
	inflight map[string]*generationRequest
	closed   bool

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewCoordinator creates a coordinator writing to store and calling gen.
func NewCoordinator(store *Store, gen AnswerGenerator, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		store:    store,
		gen:      gen,
		log:      log.With("component", "coordinator"),
		inflight: make(map[string]*generationRequest),
		ctx:      ctx,
		stop:     stop,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the store the coordinator writes to.
func (c *Coordinator) Store() *Store {
	return c.store
}

// RequestAnswer subscribes to the generation of itemID. A succeeded item resolves
// immediately from cache, an item in flight gains one more subscriber, and an idle or
// failed item gets a new call.
func (c *Coordinator) RequestAnswer(itemID string) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	item, err := c.store.Get(itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
	}

	sub := newSubscription(c, itemID)
	switch item.Status {
	case models.GenerationSucceeded:
		metrics.GenerationRequests.WithLabelValues(metrics.OutcomeCached).Inc()
		c.log.Debug("Serving cached answer.", "itemId", itemID)
		sub.finish(GenerationEvent{ItemID: itemID, Kind: GenerationEventSucceeded, Answer: item.GeneratedAnswer})
		return sub, nil

	case models.GenerationInFlight:
		req, ok := c.inflight[itemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %q is in flight without a live request", ErrInvalidTransition, itemID)
		}
		req.cancelPending = false
		c.attach(req, sub)
		metrics.GenerationRequests.WithLabelValues(metrics.OutcomeAttached).Inc()
		c.log.Debug("Attached to in-flight request.", "itemId", itemID, "requestId", req.id, "subscribers", len(req.subs))
		return sub, nil
	}

	if _, err := c.store.Transition(itemID, models.InFlight()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	req := &generationRequest{
		id:       uuid.New(),
		itemID:   itemID,
		issuedAt: c.now(),
		cancel:   cancel,
	}
	c.inflight[itemID] = req
	c.attach(req, sub)
	metrics.GenerationRequests.WithLabelValues(metrics.OutcomeIssued).Inc()
	metrics.GenerationsInFlight.Inc()
	c.log.Info("Issuing generate-answer call.", "itemId", itemID, "requestId", req.id, "retry", item.Status == models.GenerationFailed)

	c.wg.Add(1)
	go c.run(ctx, req, item.Prompt, item.Weight)
	return sub, nil
}

// Cancel abandons the live call for itemID and returns the item to idle. While
// subscribers remain attached the cancellation is deferred until the last one detaches;
// deferred reports that case. Cancelling an item with nothing in flight is a no-op.
func (c *Coordinator) Cancel(itemID string) (deferred bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Get(itemID); err != nil {
		return false, fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
	}
	req, ok := c.inflight[itemID]
	if !ok {
		return false, nil
	}
	if len(req.subs) > 0 {
		req.cancelPending = true
		c.log.Debug("Deferring cancellation until subscribers detach.", "itemId", itemID, "requestId", req.id, "subscribers", len(req.subs))
		return true, nil
	}
	c.abortLocked(req)
	return false, nil
}

// Reset cancels every live call, notifies their subscribers and replaces the store
// content with seeds.
func (c *Coordinator) Reset(seeds []models.QuestionSeed) []models.WorkItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	for itemID, req := range c.inflight {
		req.cancel()
		metrics.GenerationsInFlight.Dec()
		c.notifyLocked(req, GenerationEvent{ItemID: itemID, Kind: GenerationEventCancelled, Err: ErrCancelled})
	}
	if n := len(c.inflight); n > 0 {
		c.log.Info("Discarded in-flight requests on reset.", "count", n)
	}
	c.inflight = make(map[string]*generationRequest)
	return c.store.Initialize(seeds)
}

// Request reports the live request for itemID, if any.
func (c *Coordinator) Request(itemID string) (RequestInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.inflight[itemID]
	if !ok {
		return RequestInfo{}, false
	}
	return RequestInfo{
		ID:            req.id,
		ItemID:        req.itemID,
		IssuedAt:      req.issuedAt,
		Subscribers:   len(req.subs),
		CancelPending: req.cancelPending,
	}, true
}

// Close abandons all live calls, returning their items to idle, and waits for the
// call goroutines to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, req := range c.inflight {
		c.abortLocked(req)
	}
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
}

// run performs the call and applies its outcome unless the request was discarded
// while it was in flight.
func (c *Coordinator) run(ctx context.Context, req *generationRequest, prompt, weight string) {
	defer c.wg.Done()
	defer req.cancel()

	start := time.Now()
	answer, callErr := c.gen.GenerateAnswer(ctx, prompt, weight)
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.inflight[req.itemID]; !ok || current != req {
		c.log.Debug("Discarding result of abandoned request.", "itemId", req.itemID, "requestId", req.id)
		return
	}
	delete(c.inflight, req.itemID)
	metrics.GenerationsInFlight.Dec()
	metrics.GenerationDuration.Observe(elapsed.Seconds())

	next := models.Succeeded(answer)
	event := GenerationEvent{ItemID: req.itemID, Kind: GenerationEventSucceeded, Answer: answer}
	if callErr != nil {
		next = models.Failed(callErr)
		event = GenerationEvent{ItemID: req.itemID, Kind: GenerationEventFailed, Err: callErr}
	}

	if _, err := c.store.Transition(req.itemID, next); err != nil {
		c.log.Error("Failed to record generation outcome.", "itemId", req.itemID, "requestId", req.id, "error", err)
		event = GenerationEvent{ItemID: req.itemID, Kind: GenerationEventFailed, Err: err}
	}

	if event.Kind == GenerationEventFailed {
		metrics.GenerationResults.WithLabelValues(string(models.GenerationFailed)).Inc()
		c.log.Warn("Answer generation failed.", "itemId", req.itemID, "requestId", req.id, "elapsed", elapsed, "error", event.Err)
	} else {
		metrics.GenerationResults.WithLabelValues(string(models.GenerationSucceeded)).Inc()
		c.log.Info("Answer generated.", "itemId", req.itemID, "requestId", req.id, "elapsed", elapsed, "subscribers", len(req.subs))
	}
	c.notifyLocked(req, event)
}

// abortLocked cancels req, returns its item to idle and notifies any subscribers.
func (c *Coordinator) abortLocked(req *generationRequest) {
	req.cancel()
	delete(c.inflight, req.itemID)
	metrics.GenerationsInFlight.Dec()
	if _, err := c.store.Transition(req.itemID, models.Idle()); err != nil {
		c.log.Error("Failed to return cancelled item to idle.", "itemId", req.itemID, "requestId", req.id, "error", err)
	}
	c.log.Info("Cancelled in-flight request.", "itemId", req.itemID, "requestId", req.id)
	c.notifyLocked(req, GenerationEvent{ItemID: req.itemID, Kind: GenerationEventCancelled, Err: ErrCancelled})
}

func (c *Coordinator) attach(req *generationRequest, sub *Subscription) {
	sub.req = req
	req.subs = append(req.subs, sub)
	sub.send(GenerationEvent{ItemID: req.itemID, Kind: GenerationEventInFlight})
}

// notifyLocked delivers a terminal event to subscribers in the order they attached.
func (c *Coordinator) notifyLocked(req *generationRequest, event GenerationEvent) {
	subs := req.subs
	req.subs = nil
	for _, sub := range subs {
		sub.finish(event)
	}
}

// detach removes sub from its request and runs a deferred cancellation when sub was
// the last subscriber.
func (c *Coordinator) detach(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub.detached {
		return
	}
	sub.detached = true
	if !sub.closed {
		sub.closed = true
		close(sub.events)
	}

	req := sub.req
	if req == nil {
		return
	}
	for i, s := range req.subs {
		if s == sub {
			req.subs = append(req.subs[:i], req.subs[i+1:]...)
			break
		}
	}
	if len(req.subs) == 0 && req.cancelPending {
		if current, ok := c.inflight[req.itemID]; ok && current == req {
			c.abortLocked(req)
		}
	}
}
