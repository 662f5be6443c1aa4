package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/Lllllllleong/answerevaluator/internal/models"
)

// Operation names used in errors and logs.
const (
	OpExtractDocument  = "extract-document"
	OpExtractQuestions = "extract-questions"
	OpGenerateAnswer   = "generate-answer"
)

const maxErrorBody = 4 << 10

// Config holds the collaborator endpoints and the upper bound of each call.
type Config struct {
	ExtractDocumentURL  string
	ExtractQuestionsURL string
	GenerateAnswerURL   string
	ExtractTimeout      time.Duration
	SegmentTimeout      time.Duration
	GenerateTimeout     time.Duration
}

// Client calls the extract-document, extract-questions and generate-answer services.
// It never retries; every call is bounded by its configured timeout and abandoned as
// soon as the caller's context ends.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a client. A nil httpClient uses a default client without its own timeout,
// the per-call timeouts apply instead.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 5 * time.Minute
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = 2 * time.Minute
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 2 * time.Minute
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// ExtractText uploads a document and returns its extracted text. An empty upload is
// rejected locally as an unsupported format; 415 is the only status mapped to that kind.
func (c *Client) ExtractText(ctx context.Context, upload models.Upload) (string, error) {
	if len(upload.Data) == 0 {
		return "", &Error{Op: OpExtractDocument, Kind: ErrUnsupportedFormat, Err: fmt.Errorf("%s is empty", upload.Kind)}
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(upload.Data)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.Filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", &Error{Op: OpExtractDocument, Kind: ErrTransport, Err: err}
	}
	if _, err := part.Write(upload.Data); err != nil {
		return "", &Error{Op: OpExtractDocument, Kind: ErrTransport, Err: err}
	}
	if err := mw.WriteField("doc_type", string(upload.Kind)); err != nil {
		return "", &Error{Op: OpExtractDocument, Kind: ErrTransport, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &Error{Op: OpExtractDocument, Kind: ErrTransport, Err: err}
	}

	var resp models.ExtractDocumentResponse
	err = c.do(ctx, OpExtractDocument, c.cfg.ExtractDocumentURL, c.cfg.ExtractTimeout, mw.FormDataContentType(), &body, &resp, func(status int) error {
		if status == http.StatusUnsupportedMediaType {
			return ErrUnsupportedFormat
		}
		return ErrServiceFailure
	})
	if err != nil {
		return "", err
	}
	return resp.ExtractedText, nil
}

// SegmentQuestions splits question-paper text into questions in paper order. A valid
// empty list is not an error.
func (c *Client) SegmentQuestions(ctx context.Context, text string) ([]models.QuestionSeed, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Op: OpExtractQuestions, Kind: ErrEmptyInput, Err: errors.New("question paper text is empty")}
	}

	payload, err := json.Marshal(models.ExtractQuestionsRequest{Text: text})
	if err != nil {
		return nil, &Error{Op: OpExtractQuestions, Kind: ErrTransport, Err: err}
	}

	var resp models.ExtractQuestionsResponse
	err = c.do(ctx, OpExtractQuestions, c.cfg.ExtractQuestionsURL, c.cfg.SegmentTimeout, "application/json", bytes.NewReader(payload), &resp, func(status int) error {
		if status == http.StatusBadRequest {
			return ErrEmptyInput
		}
		return ErrServiceFailure
	})
	if err != nil {
		return nil, err
	}

	seeds := make([]models.QuestionSeed, 0, len(resp.Questions))
	for _, q := range resp.Questions {
		seeds = append(seeds, q.Seed())
	}
	return seeds, nil
}

// GenerateAnswer requests the ideal answer for one question.
func (c *Client) GenerateAnswer(ctx context.Context, prompt, weight string) (string, error) {
	payload, err := json.Marshal(models.GenerateAnswerRequest{Text: prompt, Marks: weight})
	if err != nil {
		return "", &Error{Op: OpGenerateAnswer, Kind: ErrTransport, Err: err}
	}

	var resp models.GenerateAnswerResponse
	err = c.do(ctx, OpGenerateAnswer, c.cfg.GenerateAnswerURL, c.cfg.GenerateTimeout, "application/json", bytes.NewReader(payload), &resp, func(int) error {
		return ErrServiceFailure
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.IdealAnswer) == "" {
		return "", &Error{Op: OpGenerateAnswer, Kind: ErrServiceFailure, Err: errors.New("empty ideal_answer")}
	}
	return resp.IdealAnswer, nil
}

// do posts body to url and decodes a 2xx JSON response into out. statusKind maps a
// non-success status to an error kind.
func (c *Client) do(ctx context.Context, op, url string, timeout time.Duration, contentType string, body io.Reader, out any, statusKind func(int) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, body)
	if err != nil {
		return &Error{Op: op, Kind: ErrTransport, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(ctx, callCtx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Kind: statusKind(resp.StatusCode), StatusCode: resp.StatusCode, Err: readDetail(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if callCtx.Err() != nil {
			return classify(ctx, callCtx, op, err)
		}
		return &Error{Op: op, Kind: ErrServiceFailure, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// classify maps a failed round trip to a kind. Cancellation by the caller is returned
// as the context's own error.
func classify(parent, callCtx context.Context, op string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", op, parent.Err())
	}
	var netErr net.Error
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Op: op, Kind: ErrTimeout, Err: err}
	}
	return &Error{Op: op, Kind: ErrTransport, Err: err}
}

func readDetail(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return nil
	}
	var er models.ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Detail != "" {
		return errors.New(er.Detail)
	}
	return errors.New(strings.TrimSpace(string(data)))
}
