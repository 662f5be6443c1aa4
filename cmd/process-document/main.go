package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/answerevaluator/internal/config"
	"github.com/Lllllllleong/answerevaluator/internal/logger"
	"github.com/Lllllllleong/answerevaluator/internal/models"
	"github.com/Lllllllleong/answerevaluator/internal/services"
)

const maxUploadBytes = 32 << 20

var (
	extractorInstance *services.DocumentExtractorFunction
	once              sync.Once
	initErr           error
)

func init() {
	slog.SetDefault(logger.SetupLogger(logger.EnvProd))

	// "HandleExtractDocument" is the entry point name we'll see in GCP.
	functions.HTTP("HandleExtractDocument", handleExtractDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func handleExtractDocument(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := config.LoadFunctionConfig()
		if err != nil {
			initErr = err
			return
		}
		extractorInstance, initErr = services.NewDocumentExtractor(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := decodeUpload(w, r)
	if err != nil {
		slog.Warn("Could not decode upload", "error", err)
		services.WriteJSON(w, http.StatusBadRequest, models.ErrorResponse{Detail: err.Error()})
		return
	}

	res, err := extractorInstance.Process(r.Context(), req)
	if err != nil {
		// The specific error is already logged inside the Process method.
		services.WriteError(w, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, res)
}

func decodeUpload(w http.ResponseWriter, r *http.Request) (*services.ExtractDocumentRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("could not parse multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	docType := models.DocumentKind(r.FormValue("doc_type"))
	if !docType.Valid() {
		return nil, fmt.Errorf("doc_type must be %q or %q", models.KindQuestionPaper, models.KindAnswerScript)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("file is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("could not read file: %w", err)
	}
	return &services.ExtractDocumentRequest{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		DocType:     string(docType),
		Data:        data,
	}, nil
}
