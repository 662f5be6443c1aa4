package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/answerevaluator/internal/metrics"
	"github.com/Lllllllleong/answerevaluator/internal/models"
	"golang.org/x/sync/errgroup"
)

// DocumentExtractor turns an uploaded file into text.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, upload models.Upload) (string, error)
}

// QuestionSegmenter splits question-paper text into ordered question seeds.
type QuestionSegmenter interface {
	SegmentQuestions(ctx context.Context, text string) ([]models.QuestionSeed, error)
}

// PipelineResult is the outcome of a successful run. AnswerScriptErr is set when only
// the answer-script extraction failed; the question side is still usable.
type PipelineResult struct {
	QuestionPaper   models.Document   `json:"questionPaper"`
	AnswerScript    models.Document   `json:"answerScript"`
	AnswerScriptErr error             `json:"-"`
	Items           []models.WorkItem `json:"items"`
}

// Pipeline extracts both documents, segments the question paper and loads the
// questions into the store through the coordinator.
type Pipeline struct {
	extractor   DocumentExtractor
	segmenter   QuestionSegmenter
	coordinator *Coordinator
	documents   *DocumentRegistry
	log         *slog.Logger

	mu  sync.Mutex
	run uint64
}

// NewPipeline wires a pipeline. documents may be shared with the presentation layer.
func NewPipeline(extractor DocumentExtractor, segmenter QuestionSegmenter, coordinator *Coordinator, documents *DocumentRegistry, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		extractor:   extractor,
		segmenter:   segmenter,
		coordinator: coordinator,
		documents:   documents,
		log:         log.With("component", "pipeline"),
	}
}

// Documents returns the registry the pipeline reports document state to.
func (p *Pipeline) Documents() *DocumentRegistry {
	return p.documents
}

// Run processes a new pair of uploads. The previous item set, cached answers included,
// is discarded before anything else happens, so a failed run leaves the store empty.
// Both extractions run concurrently; segmentation starts as soon as the question paper
// is extracted and its questions are loaded into the store right away, without waiting
// for the answer script. A failed answer-script extraction is reported in the result
// and does not fail the run.
func (p *Pipeline) Run(ctx context.Context, questionPaper, answerScript models.Upload) (*PipelineResult, error) {
	questionPaper.Kind = models.KindQuestionPaper
	answerScript.Kind = models.KindAnswerScript

	run := p.begin(questionPaper, answerScript)
	logCtx := p.log.With("run", run, "questionPaper", questionPaper.Filename, "answerScript", answerScript.Filename)
	logCtx.Info("Starting document pipeline.")

	var answerErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, answerErr = p.extract(gctx, run, answerScript)
		return nil
	})
	g.Go(func() error {
		text, err := p.extract(gctx, run, questionPaper)
		if err != nil {
			return fmt.Errorf("%w: question paper: %w", ErrExtractionFailed, err)
		}
		seeds, err := p.segmenter.SegmentQuestions(gctx, text)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSegmentationFailed, err)
		}
		return p.load(run, seeds, logCtx)
	})
	err := g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if run != p.run {
		metrics.PipelineRuns.WithLabelValues("superseded").Inc()
		logCtx.Info("Discarding results of superseded run.")
		return nil, ErrSuperseded
	}
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("failed").Inc()
		logCtx.Error("Document pipeline failed.", "error", err)
		return nil, err
	}

	result := &PipelineResult{Items: p.coordinator.Store().List()}
	result.QuestionPaper, _ = p.documents.Get(models.KindQuestionPaper)
	result.AnswerScript, _ = p.documents.Get(models.KindAnswerScript)
	if answerErr != nil {
		result.AnswerScriptErr = fmt.Errorf("%w: answer script: %w", ErrExtractionFailed, answerErr)
		metrics.PipelineRuns.WithLabelValues("partial").Inc()
		logCtx.Warn("Answer script extraction failed; questions remain available.", "error", answerErr)
	} else {
		metrics.PipelineRuns.WithLabelValues("succeeded").Inc()
	}

	logCtx.Info("Document pipeline complete.", "questionCount", len(result.Items))
	return result, nil
}

// load puts the segmented questions into the store unless a newer run has started.
func (p *Pipeline) load(run uint64, seeds []models.QuestionSeed, logCtx *slog.Logger) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if run != p.run {
		return ErrSuperseded
	}
	items := p.coordinator.Reset(seeds)
	if len(items) == 0 {
		logCtx.Warn("Segmentation returned no questions.")
	}
	logCtx.Info("Questions loaded.", "questionCount", len(items))
	return nil
}

// begin starts a new run: it clears the item set, cancelling any generation in flight,
// and registers the uploads as pending documents.
func (p *Pipeline) begin(uploads ...models.Upload) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.run++
	p.coordinator.Reset(nil)
	p.documents.reset(p.run, uploads...)
	return p.run
}

func (p *Pipeline) extract(ctx context.Context, run uint64, upload models.Upload) (string, error) {
	logCtx := p.log.With("run", run, "docType", upload.Kind, "filename", upload.Filename)

	if err := p.documents.transition(run, upload.Kind, models.DocumentExtracting, "", nil); err != nil {
		return "", err
	}
	text, err := p.extractor.ExtractText(ctx, upload)
	if err != nil {
		logCtx.Warn("Document extraction failed.", "error", err)
		if terr := p.documents.transition(run, upload.Kind, models.DocumentFailed, "", err); terr != nil && !errors.Is(terr, ErrSuperseded) {
			logCtx.Error("Failed to record extraction failure.", "error", terr)
		}
		return "", err
	}
	if err := p.documents.transition(run, upload.Kind, models.DocumentExtracted, text, nil); err != nil {
		return "", err
	}
	logCtx.Info("Document extracted.", "chars", len(text))
	return text, nil
}
