package evaluation

import (
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/answerevaluator/internal/models"
)

// DocumentRegistry tracks the two documents of the current pipeline run. Updates
// tagged with an older run number are ignored.
type DocumentRegistry struct {
	mu   sync.RWMutex
	run  uint64
	docs map[models.DocumentKind]*models.Document
	bus  *EventBus
	now  func() time.Time
}

// NewDocumentRegistry creates an empty registry. bus may be nil.
func NewDocumentRegistry(bus *EventBus) *DocumentRegistry {
	return &DocumentRegistry{
		docs: make(map[models.DocumentKind]*models.Document),
		bus:  bus,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a snapshot of the document of the given kind.
func (r *DocumentRegistry) Get(kind models.DocumentKind) (models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[kind]
	if !ok {
		return models.Document{}, fmt.Errorf("document %q: %w", kind, ErrNotFound)
	}
	return *doc, nil
}

// List returns the current documents, question paper first.
func (r *DocumentRegistry) List() []models.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Document, 0, len(r.docs))
	for _, kind := range []models.DocumentKind{models.KindQuestionPaper, models.KindAnswerScript} {
		if doc, ok := r.docs[kind]; ok {
			out = append(out, *doc)
		}
	}
	return out
}

// reset discards every document and registers the uploads of a new run as pending.
func (r *DocumentRegistry) reset(run uint64, uploads ...models.Upload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.run = run
	r.docs = make(map[models.DocumentKind]*models.Document, len(uploads))
	now := r.now()
	for _, up := range uploads {
		r.docs[up.Kind] = &models.Document{
			Kind:        up.Kind,
			Filename:    up.Filename,
			ContentType: up.ContentType,
			Status:      models.DocumentPending,
			UpdatedAt:   now,
		}
		r.bus.Publish(Event{Type: EventTypeDocument, DocumentKind: up.Kind, DocumentStatus: models.DocumentPending})
	}
}

// transition moves a document along pending -> extracting -> extracted | failed.
func (r *DocumentRegistry) transition(run uint64, kind models.DocumentKind, status models.DocumentStatus, text string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run != r.run {
		return ErrSuperseded
	}
	doc, ok := r.docs[kind]
	if !ok {
		return fmt.Errorf("document %q: %w", kind, ErrNotFound)
	}
	if !isValidDocumentTransition(doc.Status, status) {
		return fmt.Errorf("%w: document %q %s -> %s", ErrInvalidTransition, kind, doc.Status, status)
	}

	doc.Status = status
	doc.UpdatedAt = r.now()
	switch status {
	case models.DocumentExtracted:
		doc.ExtractedText = text
	case models.DocumentFailed:
		if cause != nil {
			doc.Error = cause.Error()
		}
	}

	r.bus.Publish(Event{Type: EventTypeDocument, DocumentKind: kind, DocumentStatus: status, Message: doc.Error})
	return nil
}

func isValidDocumentTransition(from, to models.DocumentStatus) bool {
	switch from {
	case models.DocumentPending:
		return to == models.DocumentExtracting || to == models.DocumentFailed
	case models.DocumentExtracting:
		return to == models.DocumentExtracted || to == models.DocumentFailed
	default:
		return false
	}
}
