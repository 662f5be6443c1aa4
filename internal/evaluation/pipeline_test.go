package evaluation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/answerevaluator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor returns "text of <filename>" unless an error or a gate is registered
// for the filename.
type fakeExtractor struct {
	mu      sync.Mutex
	errs    map[string]error
	gates   map[string]chan struct{}
	started chan string
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (e *fakeExtractor) ExtractText(ctx context.Context, upload models.Upload) (string, error) {
	e.mu.Lock()
	err := e.errs[upload.Filename]
	gate := e.gates[upload.Filename]
	e.mu.Unlock()
	e.started <- upload.Filename

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "text of " + upload.Filename, nil
}

func (e *fakeExtractor) gate(filename string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.gates[filename] = ch
	return ch
}

type fakeSegmenter struct {
	mu     sync.Mutex
	seeds  []models.QuestionSeed
	err    error
	texts  []string
	called chan struct{}
}

func newFakeSegmenter(seeds []models.QuestionSeed) *fakeSegmenter {
	return &fakeSegmenter{seeds: seeds, called: make(chan struct{}, 16)}
}

func (s *fakeSegmenter) SegmentQuestions(_ context.Context, text string) ([]models.QuestionSeed, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	s.called <- struct{}{}
	return s.seeds, s.err
}

func (s *fakeSegmenter) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type pipelineFixture struct {
	extractor   *fakeExtractor
	segmenter   *fakeSegmenter
	generator   *fakeGenerator
	coordinator *Coordinator
	pipeline    *Pipeline
}

func newPipelineFixture(t *testing.T, seeds []models.QuestionSeed) *pipelineFixture {
	t.Helper()
	bus := NewEventBus(100)
	f := &pipelineFixture{
		extractor: newFakeExtractor(),
		segmenter: newFakeSegmenter(seeds),
		generator: newFakeGenerator(),
	}
	f.coordinator = NewCoordinator(NewStore(bus), f.generator, nil)
	f.pipeline = NewPipeline(f.extractor, f.segmenter, f.coordinator, NewDocumentRegistry(bus), nil)
	t.Cleanup(f.coordinator.Close)
	return f
}

func upload(name string) models.Upload {
	return models.Upload{Filename: name, ContentType: "application/pdf", Data: []byte("%PDF")}
}

func (f *pipelineFixture) run(t *testing.T, qp, as string) (*PipelineResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	return f.pipeline.Run(ctx, upload(qp), upload(as))
}

// TestPipelineRunLoadsQuestions verifies both documents are extracted and the questions stored in order.
func TestPipelineRunLoadsQuestions(t *testing.T) {
	f := newPipelineFixture(t, seeds("1", "2", "3"))

	result, err := f.run(t, "qp.pdf", "as.pdf")
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	assert.Equal(t, "1", result.Items[0].ID)
	assert.NoError(t, result.AnswerScriptErr)

	assert.Equal(t, models.KindQuestionPaper, result.QuestionPaper.Kind)
	assert.Equal(t, models.DocumentExtracted, result.QuestionPaper.Status)
	assert.Equal(t, "text of qp.pdf", result.QuestionPaper.ExtractedText)
	assert.Equal(t, models.DocumentExtracted, result.AnswerScript.Status)
	assert.Equal(t, "text of as.pdf", result.AnswerScript.ExtractedText)

	assert.Equal(t, []string{"text of qp.pdf"}, f.segmenter.calls())
	assert.Equal(t, 3, f.coordinator.Store().Len())

	docs := f.pipeline.Documents().List()
	require.Len(t, docs, 2)
	assert.Equal(t, models.KindQuestionPaper, docs[0].Kind)
}

// TestPipelineQuestionPaperFailureEmptiesStore verifies a failed question paper leaves no items.
func TestPipelineQuestionPaperFailureEmptiesStore(t *testing.T) {
	f := newPipelineFixture(t, seeds("1"))
	f.coordinator.Reset(seeds("old"))

	boom := errors.New("ocr failed")
	f.extractor.errs["qp.pdf"] = boom

	result, err := f.run(t, "qp.pdf", "as.pdf")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.coordinator.Store().Len())
	assert.Empty(t, f.segmenter.calls())

	doc, err := f.pipeline.Documents().Get(models.KindQuestionPaper)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentFailed, doc.Status)
	assert.Equal(t, "ocr failed", doc.Error)
}

// TestPipelineAnswerScriptFailureIsPartial verifies questions survive a failed answer script.
func TestPipelineAnswerScriptFailureIsPartial(t *testing.T) {
	f := newPipelineFixture(t, seeds("1", "2"))
	f.extractor.errs["as.pdf"] = errors.New("unreadable")

	result, err := f.run(t, "qp.pdf", "as.pdf")
	require.NoError(t, err)
	assert.ErrorIs(t, result.AnswerScriptErr, ErrExtractionFailed)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, models.DocumentFailed, result.AnswerScript.Status)
	assert.Equal(t, "unreadable", result.AnswerScript.Error)
	assert.Equal(t, models.DocumentExtracted, result.QuestionPaper.Status)
}

// TestPipelineSegmentationFailure verifies a segmentation error fails the run with an empty store.
func TestPipelineSegmentationFailure(t *testing.T) {
	f := newPipelineFixture(t, nil)
	f.segmenter.err = errors.New("bad json")

	_, err := f.run(t, "qp.pdf", "as.pdf")
	assert.ErrorIs(t, err, ErrSegmentationFailed)
	assert.Equal(t, 0, f.coordinator.Store().Len())
}

// TestPipelineEmptySegmentation verifies zero questions is a successful run.
func TestPipelineEmptySegmentation(t *testing.T) {
	f := newPipelineFixture(t, nil)

	result, err := f.run(t, "qp.pdf", "as.pdf")
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, 0, f.coordinator.Store().Len())
}

// TestPipelineSegmentsBeforeAnswerScriptFinishes verifies segmentation waits only for the question paper.
func TestPipelineSegmentsBeforeAnswerScriptFinishes(t *testing.T) {
	f := newPipelineFixture(t, seeds("1"))
	gate := f.extractor.gate("as.pdf")

	done := make(chan error, 1)
	go func() {
		_, err := f.run(t, "qp.pdf", "as.pdf")
		done <- err
	}()

	select {
	case <-f.segmenter.called:
	case <-time.After(waitTimeout):
		t.Fatal("segmentation did not start while the answer script was still extracting")
	}
	for name := range f.extractor.started {
		if name == "as.pdf" {
			break
		}
	}
	doc, err := f.pipeline.Documents().Get(models.KindAnswerScript)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentExtracting, doc.Status)

	close(gate)
	require.NoError(t, <-done)
}

// TestPipelineQuestionsUsableWhileAnswerScriptExtracts verifies questions can be listed
// and answered before the answer-script extraction returns.
func TestPipelineQuestionsUsableWhileAnswerScriptExtracts(t *testing.T) {
	f := newPipelineFixture(t, seeds("1", "2"))
	gate := f.extractor.gate("as.pdf")

	done := make(chan error, 1)
	go func() {
		_, err := f.run(t, "qp.pdf", "as.pdf")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.coordinator.Store().Len() == 2
	}, waitTimeout, 5*time.Millisecond, "questions were not loaded while the answer script was extracting")

	sub, err := f.coordinator.RequestAnswer("1")
	require.NoError(t, err)
	f.generator.next(t).resolve("early answer", nil)
	answer, err := wait(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "early answer", answer)

	doc, err := f.pipeline.Documents().Get(models.KindAnswerScript)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentExtracting, doc.Status)
	select {
	case err := <-done:
		t.Fatalf("run returned before the answer script finished: %v", err)
	default:
	}

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, models.GenerationSucceeded, status(t, f.coordinator, "1"))
	assert.Equal(t, models.GenerationIdle, status(t, f.coordinator, "2"))
}

// TestPipelineRerunClearsAnswers verifies a new run discards cached answers and live calls.
func TestPipelineRerunClearsAnswers(t *testing.T) {
	f := newPipelineFixture(t, seeds("1", "2"))

	_, err := f.run(t, "qp.pdf", "as.pdf")
	require.NoError(t, err)

	sub, err := f.coordinator.RequestAnswer("1")
	require.NoError(t, err)
	f.generator.next(t).resolve("first answer", nil)
	_, err = wait(t, sub)
	require.NoError(t, err)

	pending, err := f.coordinator.RequestAnswer("2")
	require.NoError(t, err)
	f.generator.next(t)

	result, err := f.run(t, "qp.pdf", "as.pdf")
	require.NoError(t, err)
	for _, item := range result.Items {
		assert.Equal(t, models.GenerationIdle, item.Status)
		assert.Empty(t, item.GeneratedAnswer)
	}
	_, err = wait(t, pending)
	assert.ErrorIs(t, err, ErrCancelled)

	again, err := f.coordinator.RequestAnswer("1")
	require.NoError(t, err)
	f.generator.next(t).resolve("second answer", nil)
	answer, err := wait(t, again)
	require.NoError(t, err)
	assert.Equal(t, "second answer", answer)
}

// TestPipelineSupersededRun verifies an older run cannot overwrite a newer one.
func TestPipelineSupersededRun(t *testing.T) {
	f := newPipelineFixture(t, seeds("1"))
	gate := f.extractor.gate("old-qp.pdf")

	done := make(chan error, 1)
	go func() {
		_, err := f.run(t, "old-qp.pdf", "old-as.pdf")
		done <- err
	}()
	for name := range f.extractor.started {
		if name == "old-qp.pdf" {
			break
		}
	}

	result, err := f.run(t, "new-qp.pdf", "new-as.pdf")
	require.NoError(t, err)
	assert.Len(t, result.Items, 1)

	close(gate)
	assert.ErrorIs(t, <-done, ErrSuperseded)

	doc, err := f.pipeline.Documents().Get(models.KindQuestionPaper)
	require.NoError(t, err)
	assert.Equal(t, "new-qp.pdf", doc.Filename)
	assert.Equal(t, 1, f.coordinator.Store().Len())
}

// TestPipelineQuestionFlow walks the two-question flow end to end: generate, cache, fail, retry.
func TestPipelineQuestionFlow(t *testing.T) {
	f := newPipelineFixture(t, []models.QuestionSeed{
		{ID: "1", Prompt: "Define bandwidth.", Weight: "2"},
		{ID: "2", Prompt: "Explain TCP congestion control.", Weight: "10"},
	})

	result, err := f.run(t, "qp.pdf", "as.pdf")
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	sub1, err := f.coordinator.RequestAnswer("1")
	require.NoError(t, err)
	call1 := f.generator.next(t)
	assert.Equal(t, "Define bandwidth.", call1.prompt)
	assert.Equal(t, "2", call1.weight)
	call1.resolve("Bandwidth is the data rate.", nil)
	_, err = wait(t, sub1)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationSucceeded, status(t, f.coordinator, "1"))
	assert.Equal(t, models.GenerationIdle, status(t, f.coordinator, "2"))
	assert.Equal(t, 1, f.generator.callCount())

	cached, err := f.coordinator.RequestAnswer("1")
	require.NoError(t, err)
	answer, err := wait(t, cached)
	require.NoError(t, err)
	assert.Equal(t, "Bandwidth is the data rate.", answer)

	sub2, err := f.coordinator.RequestAnswer("2")
	require.NoError(t, err)
	f.generator.next(t).resolve("", errors.New("timeout"))
	_, err = wait(t, sub2)
	require.Error(t, err)

	item1, err := f.coordinator.Store().Get("1")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationSucceeded, item1.Status)

	retry, err := f.coordinator.RequestAnswer("2")
	require.NoError(t, err)
	f.generator.next(t).resolve("Slow start, congestion avoidance.", nil)
	answer, err = wait(t, retry)
	require.NoError(t, err)
	assert.Equal(t, "Slow start, congestion avoidance.", answer)
	assert.Equal(t, 3, f.generator.callCount())
}
