package evaluation

import (
	"errors"
	"testing"

	"github.com/Lllllllleong/answerevaluator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDocumentRegistryLifecycle verifies pending -> extracting -> extracted and event publishing.
func TestDocumentRegistryLifecycle(t *testing.T) {
	bus := NewEventBus(10)
	reg := NewDocumentRegistry(bus)
	reg.reset(1, models.Upload{Kind: models.KindAnswerScript, Filename: "as.png"}, models.Upload{Kind: models.KindQuestionPaper, Filename: "qp.pdf"})

	docs := reg.List()
	require.Len(t, docs, 2)
	assert.Equal(t, models.KindQuestionPaper, docs[0].Kind)
	assert.Equal(t, models.DocumentPending, docs[0].Status)

	require.NoError(t, reg.transition(1, models.KindQuestionPaper, models.DocumentExtracting, "", nil))
	require.NoError(t, reg.transition(1, models.KindQuestionPaper, models.DocumentExtracted, "Q1. Define.", nil))

	doc, err := reg.Get(models.KindQuestionPaper)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentExtracted, doc.Status)
	assert.Equal(t, "Q1. Define.", doc.ExtractedText)

	err = reg.transition(1, models.KindQuestionPaper, models.DocumentFailed, "", errors.New("late"))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	events := bus.Since(0)
	require.Len(t, events, 4)
	assert.Equal(t, EventTypeDocument, events[3].Type)
	assert.Equal(t, models.DocumentExtracted, events[3].DocumentStatus)
}

// TestDocumentRegistryIgnoresStaleRuns verifies updates from a replaced run are rejected.
func TestDocumentRegistryIgnoresStaleRuns(t *testing.T) {
	reg := NewDocumentRegistry(nil)
	reg.reset(1, models.Upload{Kind: models.KindQuestionPaper, Filename: "old.pdf"})
	reg.reset(2, models.Upload{Kind: models.KindQuestionPaper, Filename: "new.pdf"})

	err := reg.transition(1, models.KindQuestionPaper, models.DocumentExtracting, "", nil)
	assert.ErrorIs(t, err, ErrSuperseded)

	doc, err := reg.Get(models.KindQuestionPaper)
	require.NoError(t, err)
	assert.Equal(t, "new.pdf", doc.Filename)
	assert.Equal(t, models.DocumentPending, doc.Status)

	_, err = reg.Get(models.KindAnswerScript)
	assert.ErrorIs(t, err, ErrNotFound)
}
