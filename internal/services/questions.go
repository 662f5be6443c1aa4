package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/answerevaluator/internal/config"
	"github.com/Lllllllleong/answerevaluator/internal/gcp"
	"github.com/Lllllllleong/answerevaluator/internal/models"
)

// maxQuestionPaperChars bounds the text sent for segmentation.
const maxQuestionPaperChars = 3000

// TextGenerator runs a single prompt against a model.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// QuestionExtractorFunction splits question-paper text into questions.
type QuestionExtractorFunction struct {
	vertexClient *gcp.VertexClient
	generator    TextGenerator
}

// NewQuestionExtractor creates a new QuestionExtractorFunction instance.
func NewQuestionExtractor(ctx context.Context, cfg *config.FunctionConfig) (*QuestionExtractorFunction, error) {
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	return &QuestionExtractorFunction{
		vertexClient: vertexClient,
		generator:    gcp.ModelGenerator{Model: vertexClient.QuestionModel},
	}, nil
}

// Process handles the core logic of segmenting a question paper.
func (f *QuestionExtractorFunction) Process(ctx context.Context, req *models.ExtractQuestionsRequest) (*models.ExtractQuestionsResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: no text provided", ErrEmptyInput)
	}
	text = truncate(text, maxQuestionPaperChars)

	logCtx := slog.With("chars", len(text))
	logCtx.Info("Starting question extraction.")

	raw, err := f.generator.Generate(ctx, gcp.QuestionUserPrompt+text)
	if err != nil {
		logCtx.Error("Call to Vertex AI for question extraction failed", "error", err)
		return nil, err
	}
	if raw == "" {
		err := fmt.Errorf("gemini returned an empty response instead of JSON")
		logCtx.Error("Empty response from Gemini", "error", err)
		return nil, err
	}

	questions, err := parseQuestions(raw)
	if err != nil {
		logCtx.Error("Failed to unmarshal JSON response from Gemini", "error", err, "responseBody", truncate(raw, 500))
		return nil, err
	}
	if len(questions) == 0 {
		logCtx.Warn("Model returned a valid but empty JSON array. No questions found.")
	}

	logCtx.Info("Question extraction complete.", "questionCount", len(questions))
	return &models.ExtractQuestionsResponse{Questions: questions}, nil
}

// Close releases the Vertex AI client.
func (f *QuestionExtractorFunction) Close() error {
	if f.vertexClient != nil {
		return f.vertexClient.Close()
	}
	return nil
}

// parseQuestions accepts a bare JSON array or an object wrapping it in "questions".
// Entries without question text are dropped.
func parseQuestions(raw string) ([]models.Question, error) {
	raw = gcp.StripFences(raw)

	var questions []models.Question
	if strings.HasPrefix(raw, "{") {
		var wrapped models.ExtractQuestionsResponse
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse JSON from model: %w", err)
		}
		questions = wrapped.Questions
	} else if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from model: %w", err)
	}

	kept := make([]models.Question, 0, len(questions))
	for _, q := range questions {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" {
			continue
		}
		kept = append(kept, q)
	}
	return kept, nil
}
