package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/answerevaluator/internal/client"
	"github.com/Lllllllleong/answerevaluator/internal/evaluation"
	"github.com/Lllllllleong/answerevaluator/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

const defaultMaxUploadBytes = 32 << 20

// Handler exposes the evaluation workflow over HTTP.
type Handler struct {
	pipeline       *evaluation.Pipeline
	coordinator    *evaluation.Coordinator
	bus            *evaluation.EventBus
	maxUploadBytes int64
	log            *slog.Logger
}

func NewHandler(pipeline *evaluation.Pipeline, coordinator *evaluation.Coordinator, bus *evaluation.EventBus, maxUploadBytes int64, log *slog.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		pipeline:       pipeline,
		coordinator:    coordinator,
		bus:            bus,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

type evaluationResponse struct {
	QuestionPaper     models.Document   `json:"question_paper"`
	AnswerScript      models.Document   `json:"answer_script"`
	AnswerScriptError string            `json:"answer_script_error,omitempty"`
	Questions         []models.WorkItem `json:"questions"`
}

type questionsResponse struct {
	Questions []models.WorkItem `json:"questions"`
}

type documentsResponse struct {
	Documents []models.Document `json:"documents"`
}

type answerResponse struct {
	ID          string `json:"id"`
	IdealAnswer string `json:"ideal_answer"`
}

type cancelResponse struct {
	ID       string `json:"id"`
	Deferred bool   `json:"deferred"`
}

type eventsResponse struct {
	Events  []evaluation.Event `json:"events"`
	LastSeq int64              `json:"last_seq"`
}

type healthResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{Message: "Answer evaluator is running"})
}

// CreateEvaluation runs the document pipeline for a question paper and answer script.
func (h *Handler) CreateEvaluation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.log.Warn("failed to parse upload form", "err", err)
		writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	questionPaper, err := readUpload(r, string(models.KindQuestionPaper))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	answerScript, err := readUpload(r, string(models.KindAnswerScript))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.pipeline.Run(r.Context(), questionPaper, answerScript)
	if err != nil {
		if r.Context().Err() != nil {
			h.log.Info("evaluation request abandoned by client", "err", err)
			return
		}
		writeError(w, r, pipelineStatus(err), err.Error())
		return
	}

	resp := evaluationResponse{
		QuestionPaper: result.QuestionPaper,
		AnswerScript:  result.AnswerScript,
		Questions:     result.Items,
	}
	if result.AnswerScriptErr != nil {
		resp.AnswerScriptError = result.AnswerScriptErr.Error()
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, documentsResponse{Documents: h.pipeline.Documents().List()})
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, questionsResponse{Questions: h.coordinator.Store().List()})
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := h.coordinator.Store().Get(id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	render.JSON(w, r, item)
}

// RequestAnswer returns the ideal answer for a question, starting a generation if
// none is cached or in flight. The request blocks until the generation resolves; a
// client that goes away only detaches from it.
func (h *Handler) RequestAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := h.coordinator.RequestAnswer(id)
	if err != nil {
		writeError(w, r, generationStatus(err), err.Error())
		return
	}

	answer, err := sub.Wait(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.log.Info("answer request detached", "id", id, "err", err)
			return
		}
		h.log.Warn("answer generation failed", "id", id, "err", err)
		writeError(w, r, generationStatus(err), err.Error())
		return
	}
	render.JSON(w, r, answerResponse{ID: id, IdealAnswer: answer})
}

func (h *Handler) CancelAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deferred, err := h.coordinator.Cancel(id)
	if err != nil {
		writeError(w, r, generationStatus(err), err.Error())
		return
	}
	render.JSON(w, r, cancelResponse{ID: id, Deferred: deferred})
}

// Events returns the events published after the since sequence number.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, r, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = v
	}
	events := h.bus.Since(since)
	if events == nil {
		events = []evaluation.Event{}
	}
	render.JSON(w, r, eventsResponse{Events: events, LastSeq: h.bus.LastSeq()})
}

func readUpload(r *http.Request, field string) (models.Upload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return models.Upload{}, fmt.Errorf("%s file is required", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return models.Upload{}, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return models.Upload{
		Kind:        models.DocumentKind(field),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func pipelineStatus(err error) int {
	switch {
	case errors.Is(err, client.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, client.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, evaluation.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, client.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func generationStatus(err error) int {
	switch {
	case errors.Is(err, evaluation.ErrUnknownItem), errors.Is(err, evaluation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, evaluation.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, evaluation.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, client.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	render.Status(r, status)
	render.JSON(w, r, models.ErrorResponse{Detail: detail})
}
