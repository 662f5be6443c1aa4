package evaluation

import "errors"

var (
	// ErrUnknownItem is returned when an operation names an item id the store does not hold.
	ErrUnknownItem = errors.New("unknown item")
	// ErrNotFound is returned by store and registry lookups that miss.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a state change violates the item or document lifecycle.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrExtractionFailed wraps a document extraction error reported by a pipeline run.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrSegmentationFailed wraps a question segmentation error reported by a pipeline run.
	ErrSegmentationFailed = errors.New("segmentation failed")

	// ErrCancelled is delivered to subscribers whose request was discarded before it resolved.
	ErrCancelled = errors.New("generation cancelled")
	// ErrDetached is returned by Wait after the subscription was detached.
	ErrDetached = errors.New("subscription detached")
	// ErrSuperseded is returned by a pipeline run that a newer run replaced.
	ErrSuperseded = errors.New("pipeline run superseded")
	// ErrClosed is returned by a coordinator after Close.
	ErrClosed = errors.New("coordinator closed")
)
