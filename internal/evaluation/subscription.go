package evaluation

import "context"

// Subscription receives the generation events of one item for one caller. Events
// carries at most one in_flight event followed by exactly one terminal event, after
// which the channel is closed.
type Subscription struct {
	itemID string
	events chan GenerationEvent
	coord  *Coordinator
	req    *generationRequest

	// guarded by coord.mu
	detached bool
	closed   bool
}

func newSubscription(c *Coordinator, itemID string) *Subscription {
	return &Subscription{
		itemID: itemID,
		events: make(chan GenerationEvent, 2),
		coord:  c,
	}
}

// ItemID returns the item this subscription follows.
func (s *Subscription) ItemID() string {
	return s.itemID
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan GenerationEvent {
	return s.events
}

// Wait blocks until the generation resolves and returns the answer or the failure.
// If ctx ends first the subscription is detached and ctx's error returned.
func (s *Subscription) Wait(ctx context.Context) (string, error) {
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return "", ErrDetached
			}
			switch ev.Kind {
			case GenerationEventSucceeded:
				return ev.Answer, nil
			case GenerationEventFailed:
				return "", ev.Err
			case GenerationEventCancelled:
				return "", ErrCancelled
			}
		case <-ctx.Done():
			s.Detach()
			return "", ctx.Err()
		}
	}
}

// Detach stops delivery to this subscription. It is safe to call more than once.
func (s *Subscription) Detach() {
	s.coord.detach(s)
}

// send and finish are called with coord.mu held, or before the subscription is
// published. The buffer holds both events a subscription can receive.
func (s *Subscription) send(ev GenerationEvent) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.coord.log.Warn("Dropped generation event for slow subscriber.", "itemId", s.itemID, "kind", ev.Kind)
	}
}

func (s *Subscription) finish(ev GenerationEvent) {
	if s.closed {
		return
	}
	s.send(ev)
	s.closed = true
	close(s.events)
}
