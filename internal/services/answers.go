package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Lllllllleong/answerevaluator/internal/config"
	"github.com/Lllllllleong/answerevaluator/internal/gcp"
	"github.com/Lllllllleong/answerevaluator/internal/models"
)

const (
	defaultMarks = "2"
	// Questions worth at most this many marks get a concise answer.
	conciseMarksLimit = 3
)

// AnswerGeneratorFunction writes the ideal answer for a single question.
type AnswerGeneratorFunction struct {
	vertexClient *gcp.VertexClient
	generator    TextGenerator
}

// NewAnswerGenerator creates a new AnswerGeneratorFunction instance.
func NewAnswerGenerator(ctx context.Context, cfg *config.FunctionConfig) (*AnswerGeneratorFunction, error) {
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	return &AnswerGeneratorFunction{
		vertexClient: vertexClient,
		generator:    gcp.ModelGenerator{Model: vertexClient.AnswerModel},
	}, nil
}

// Process generates the ideal answer for req.
func (f *AnswerGeneratorFunction) Process(ctx context.Context, req *models.GenerateAnswerRequest) (*models.GenerateAnswerResponse, error) {
	question := strings.TrimSpace(req.Text)
	if question == "" {
		return nil, fmt.Errorf("%w: no question text provided", ErrEmptyInput)
	}
	marks := strings.TrimSpace(req.Marks)
	if marks == "" {
		marks = defaultMarks
	}

	logCtx := slog.With("marks", marks)
	logCtx.Info("Generating answer.")

	prompt := gcp.AnswerUserPrompt(question, marks, lengthInstruction(marks))
	answer, err := f.generator.Generate(ctx, prompt)
	if err != nil {
		logCtx.Error("Call to Vertex AI for answer generation failed", "error", err)
		return nil, err
	}
	if answer == "" {
		err := fmt.Errorf("gemini returned an empty answer")
		logCtx.Error("Empty response from Gemini", "error", err)
		return nil, err
	}
	if gcp.IsRefusal(answer) {
		logCtx.Warn("Gemini refused to answer.", "response", truncate(answer, 200))
		return nil, ErrModelRefusal
	}

	logCtx.Info("Answer generated.", "chars", len(answer))
	return &models.GenerateAnswerResponse{IdealAnswer: answer}, nil
}

// Close releases the Vertex AI client.
func (f *AnswerGeneratorFunction) Close() error {
	if f.vertexClient != nil {
		return f.vertexClient.Close()
	}
	return nil
}

// lengthInstruction picks the answer length for a marks value. Marks that are not a
// whole number are treated as the default.
func lengthInstruction(marks string) string {
	n, err := strconv.Atoi(strings.TrimSpace(marks))
	if err != nil {
		n, _ = strconv.Atoi(defaultMarks)
	}
	if n <= conciseMarksLimit {
		return gcp.ConciseAnswerInstruction
	}
	return gcp.DetailedAnswerInstruction
}
