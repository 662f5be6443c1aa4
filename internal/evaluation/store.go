package evaluation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/answerevaluator/internal/models"
)

// Store holds every question discovered by the latest segmentation run together with
// its generation state and cached answer. All reads return snapshots.
type Store struct {
	mu    sync.RWMutex
	order []string
	items map[string]*models.WorkItem
	bus   *EventBus
	now   func() time.Time
}

// NewStore creates an empty store. bus may be nil.
func NewStore(bus *EventBus) *Store {
	return &Store{
		items: make(map[string]*models.WorkItem),
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Initialize replaces the whole item set with seeds, each in the idle state, and returns
// the new items in segmentation order. Callers must cancel in-flight generation for the
// previous set first; Coordinator.Reset does both.
func (s *Store) Initialize(seeds []models.QuestionSeed) []models.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ids := assignIDs(seeds)
	s.order = make([]string, 0, len(seeds))
	s.items = make(map[string]*models.WorkItem, len(seeds))
	out := make([]models.WorkItem, 0, len(seeds))

	for i, seed := range seeds {
		item := &models.WorkItem{
			ID:        ids[i],
			Position:  i + 1,
			Prompt:    seed.Prompt,
			Weight:    seed.Weight,
			Status:    models.GenerationIdle,
			UpdatedAt: now,
		}
		if len(seed.Metadata) > 0 {
			item.Metadata = make(map[string]string, len(seed.Metadata))
			for k, v := range seed.Metadata {
				item.Metadata[k] = v
			}
		}
		s.order = append(s.order, item.ID)
		s.items[item.ID] = item
		out = append(out, item.Clone())
	}

	s.bus.Publish(Event{Type: EventTypeReset, ItemCount: len(out)})
	return out
}

// Get returns a snapshot of one item.
func (s *Store) Get(id string) (models.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return models.WorkItem{}, fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	return item.Clone(), nil
}

// List returns snapshots of all items in segmentation order.
func (s *Store) List() []models.WorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.WorkItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

// Len returns the number of items in the current set.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Transition validates and applies one generation state change and returns the
// updated snapshot. Nothing is mutated when the transition is rejected.
func (s *Store) Transition(id string, next models.GenerationState) (models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return models.WorkItem{}, fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	if !isValidTransition(item.Status, next.Status) {
		return models.WorkItem{}, fmt.Errorf("%w: item %q %s -> %s", ErrInvalidTransition, id, item.Status, next.Status)
	}

	item.Status = next.Status
	item.GeneratedAnswer = ""
	item.Err = nil
	item.Error = ""
	switch next.Status {
	case models.GenerationSucceeded:
		item.GeneratedAnswer = next.Answer
	case models.GenerationFailed:
		item.Err = next.Err
		if item.Err == nil {
			item.Err = errors.New("generation failed")
		}
		item.Error = item.Err.Error()
	}
	item.UpdatedAt = s.now()

	s.bus.Publish(Event{
		Type:       EventTypeItem,
		ItemID:     id,
		ItemStatus: item.Status,
		Message:    item.Error,
	})
	return item.Clone(), nil
}

// isValidTransition enforces the generation state machine edges. Succeeded is terminal;
// in_flight -> idle is cancellation and failed -> in_flight is an explicit retry.
func isValidTransition(from, to models.GenerationStatus) bool {
	switch from {
	case models.GenerationIdle:
		return to == models.GenerationInFlight
	case models.GenerationInFlight:
		return to == models.GenerationSucceeded || to == models.GenerationFailed || to == models.GenerationIdle
	case models.GenerationFailed:
		return to == models.GenerationInFlight
	default:
		return false
	}
}

// assignIDs keeps the segmentation ids where they are usable and falls back to the
// question's position for blank or repeated ones.
func assignIDs(seeds []models.QuestionSeed) []string {
	ids := make([]string, len(seeds))
	seen := make(map[string]bool, len(seeds))
	for i, seed := range seeds {
		id := strings.TrimSpace(seed.ID)
		if id == "" || seen[id] {
			id = fmt.Sprintf("pos-%d", i+1)
			for n := 2; seen[id]; n++ {
				id = fmt.Sprintf("pos-%d-%d", i+1, n)
			}
		}
		seen[id] = true
		ids[i] = id
	}
	return ids
}
