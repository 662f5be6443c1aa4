package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

// --- Transcriber Model Prompts ---
const TranscriberSystemPrompt = "You are a transcription engine for scanned and handwritten exam documents. You output only the text that appears on the page."
const TranscriberUserPrompt = `Transcribe the text from this page.
Output ONLY the text content.
Maintain the original structure (paragraphs, lists, question numbering) as much as possible.
Do not include any introductory or concluding remarks like "Here is the text".
If the page contains diagrams, briefly describe them in [brackets].`

// --- Question Extractor Model Prompts ---
const QuestionSystemPrompt = "You are a specialist exam paper analysis tool. Your task is to split a question paper into its individual questions. You must output your response as a valid JSON array."
const QuestionUserPrompt = `Extract all questions from the following text.
For each question, identify:
- Question Number (id)
- Question Text (question)
- Marks (marks)
- Course Outcome (co) e.g. CO1, CO2 (if present, else predict)
- Bloom's Level (bl) e.g. L1, L2, L3 (if present, else predict)

Keep the questions in the order they appear in the paper.
Return the result ONLY as a VALID JSON list of objects. Do not include any text before or after the JSON array.

Example output format:
[
  {"id": "1", "question": "What is...", "marks": "2", "co": "CO1", "bl": "L1"}
]

Text to process:
`

// --- Answer Generator Model Prompts ---
const AnswerSystemPrompt = "You are an expert evaluator for Computer Networks. You write model answers that examiners grade scripts against."

// ConciseAnswerInstruction and DetailedAnswerInstruction tailor answer length to marks.
const (
	ConciseAnswerInstruction  = "Give a concise, direct answer in 3-5 lines."
	DetailedAnswerInstruction = "Give a detailed, elaborated answer with points, examples, or steps as appropriate."
)

// AnswerUserPrompt builds the generation prompt for one question.
func AnswerUserPrompt(question, marks, lengthInstruction string) string {
	var b strings.Builder
	b.WriteString("Write a perfect technical answer for the following question.\n\n")
	fmt.Fprintf(&b, "Question: %s\nMarks: %s\n\n", question, marks)
	b.WriteString("Instructions:\n")
	fmt.Fprintf(&b, "- %s\n", lengthInstruction)
	b.WriteString("- Include key technical terms.\n")
	b.WriteString("- Use bullet points for readability if needed.\n")
	return b.String()
}

// VertexClient holds all pre-configured generative models for our app.
type VertexClient struct {
	TranscriberModel *genai.GenerativeModel
	QuestionModel    *genai.GenerativeModel
	AnswerModel      *genai.GenerativeModel
	baseClient       *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	transcriberModel := baseClient.GenerativeModel(modelName)
	transcriberModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranscriberSystemPrompt)},
	}
	transcriberModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	questionModel := baseClient.GenerativeModel(modelName)
	questionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(QuestionSystemPrompt)},
	}
	questionModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	answerModel := baseClient.GenerativeModel(modelName)
	answerModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AnswerSystemPrompt)},
	}
	answerModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.4),
	}

	return &VertexClient{
		TranscriberModel: transcriberModel,
		QuestionModel:    questionModel,
		AnswerModel:      answerModel,
		baseClient:       baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ResponseText concatenates the text parts of the first candidate and strips the
// markdown fences models like to wrap output in.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return StripFences(b.String())
}

// StripFences removes a surrounding ```json / ```markdown / ``` fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```markdown", "```"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// IsRefusal reports whether model output reads like a refusal rather than content.
func IsRefusal(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ModelGenerator adapts one configured model to the plain text calls the services make.
type ModelGenerator struct {
	Model *genai.GenerativeModel
}

// Generate sends a single text prompt and returns the cleaned response text.
func (g ModelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.Model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return ResponseText(resp), nil
}

// Transcribe sends one page (a single-page PDF or an image) with the transcription prompt.
func (g ModelGenerator) Transcribe(ctx context.Context, mimeType string, data []byte) (string, error) {
	resp, err := g.Model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(TranscriberUserPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to transcribe with gemini: %w", err)
	}
	return ResponseText(resp), nil
}
