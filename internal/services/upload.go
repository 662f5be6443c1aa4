package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/answerevaluator/internal/config"
	"github.com/Lllllllleong/answerevaluator/internal/gcp"
	"github.com/Lllllllleong/answerevaluator/internal/models"
)

// GCSEvent is the payload of a storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// UploadExtractorFunction pre-extracts documents dropped into the inbox bucket so a
// later evaluation of the same file hits the extraction cache.
type UploadExtractorFunction struct {
	storageClient *storage.Client
	extractor     *DocumentExtractorFunction
}

// NewUploadExtractor creates the function. The extraction cache must be configured,
// otherwise pre-extraction has no effect.
func NewUploadExtractor(ctx context.Context, cfg *config.FunctionConfig) (*UploadExtractorFunction, error) {
	if cfg.ExtractedTextBucket == "" {
		return nil, fmt.Errorf("EXTRACTED_TEXT_BUCKET environment variable must be set")
	}
	extractor, err := NewDocumentExtractor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &UploadExtractorFunction{storageClient: extractor.storageClient, extractor: extractor}, nil
}

// Process downloads the new object and extracts it. Objects outside the
// question_paper/ and answer_script/ prefixes and unsupported files are skipped
// without error so the event is not redelivered.
func (f *UploadExtractorFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	kind, ok := kindFromObjectName(e.Name)
	if !ok {
		logCtx.Info("Object is not under a known document prefix. Skipping.")
		return nil
	}
	logCtx.Info("Processing new GCS object.", "docType", kind)

	data, err := gcp.ReadGCSObject(ctx, f.storageClient.Bucket(e.Bucket), e.Name)
	if err != nil {
		logCtx.Error("Failed to download object", "error", err)
		return err
	}

	_, err = f.extractor.Process(ctx, &ExtractDocumentRequest{
		Filename:    path.Base(e.Name),
		ContentType: e.ContentType,
		DocType:     string(kind),
		Data:        data,
	})
	if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrEmptyInput) {
		logCtx.Warn("Object cannot be extracted. Skipping.", "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	logCtx.Info("Pre-extraction complete.")
	return nil
}

// Close releases the underlying clients.
func (f *UploadExtractorFunction) Close() error {
	return f.extractor.Close()
}

func kindFromObjectName(name string) (models.DocumentKind, bool) {
	prefix, rest, ok := strings.Cut(name, "/")
	if !ok || rest == "" || strings.HasSuffix(rest, "/") {
		return "", false
	}
	kind := models.DocumentKind(prefix)
	return kind, kind.Valid()
}
