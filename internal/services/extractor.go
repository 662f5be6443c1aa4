package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/answerevaluator/internal/config"
	"github.com/Lllllllleong/answerevaluator/internal/gcp"
	"github.com/Lllllllleong/answerevaluator/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
)

const pdfMIMEType = "application/pdf"

var imageMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// PageTranscriber turns one page, a single-page PDF or an image, into text.
type PageTranscriber interface {
	Transcribe(ctx context.Context, mimeType string, data []byte) (string, error)
}

// ExtractDocumentRequest is one uploaded document.
type ExtractDocumentRequest struct {
	Filename    string
	ContentType string
	DocType     string
	Data        []byte
}

// DocumentExtractorFunction extracts text from uploaded PDFs and images. When a text
// bucket is configured, results are cached by content hash in GCS with a Firestore
// record per extraction.
type DocumentExtractorFunction struct {
	storageClient *storage.Client
	records       *gcp.ExtractionRecords
	transcriber   PageTranscriber
	config        config.FunctionConfig
	// clients owned by the function, closed in order by Close.
	closers []io.Closer
}

// NewDocumentExtractor creates the extractor and its clients.
func NewDocumentExtractor(ctx context.Context, cfg *config.FunctionConfig) (*DocumentExtractorFunction, error) {
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	f := newDocumentExtractor(gcp.ModelGenerator{Model: vertexClient.TranscriberModel}, *cfg)
	f.closers = append(f.closers, vertexClient)

	if cfg.ExtractedTextBucket == "" {
		slog.Warn("EXTRACTED_TEXT_BUCKET not set, extraction results will not be cached.")
		return f, nil
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	f.storageClient = storageClient
	f.closers = append(f.closers, storageClient)

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	f.closers = append(f.closers, firestoreClient)
	f.records = gcp.NewExtractionRecords(firestoreClient, cfg.FirestoreCollection)

	slog.Info("Document extractor initialized.", "textBucket", cfg.ExtractedTextBucket, "collection", cfg.FirestoreCollection)
	return f, nil
}

func newDocumentExtractor(transcriber PageTranscriber, cfg config.FunctionConfig) *DocumentExtractorFunction {
	if cfg.TranscribeConcurrency <= 0 {
		cfg.TranscribeConcurrency = 1
	}
	return &DocumentExtractorFunction{transcriber: transcriber, config: cfg}
}

// Process extracts the text of one document.
func (f *DocumentExtractorFunction) Process(ctx context.Context, req *ExtractDocumentRequest) (*models.ExtractDocumentResponse, error) {
	logCtx := slog.With("filename", req.Filename, "docType", req.DocType)

	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: uploaded file is empty", ErrEmptyInput)
	}
	mimeType, err := detectMIMEType(req.ContentType, req.Filename, req.Data)
	if err != nil {
		logCtx.Warn("Rejected upload.", "contentType", req.ContentType, "error", err)
		return nil, err
	}

	fileHash := hashBytes(req.Data)
	logCtx = logCtx.With("fileHash", fileHash, "mimeType", mimeType)
	logCtx.Info("Starting extraction.", "bytes", len(req.Data))

	if f.records != nil {
		text, ok := f.cachedText(ctx, logCtx, fileHash)
		if ok {
			return f.response(req, text), nil
		}
	}

	var docRef *firestore.DocumentRef
	if f.records != nil {
		docRef, err = f.records.Create(ctx, models.ExtractionRecord{
			FileHash:         fileHash,
			OriginalFilename: req.Filename,
			DocType:          req.DocType,
			ContentType:      mimeType,
			CreatedAt:        time.Now(),
		})
		if err != nil {
			logCtx.Error("Failed to create extraction record", "error", err)
			return nil, err
		}
		logCtx = logCtx.With("documentId", docRef.ID)
	}

	var text string
	var pageCount int
	if mimeType == pdfMIMEType {
		text, pageCount, err = f.extractPDF(ctx, logCtx, req.Data)
	} else {
		pageCount = 1
		text, err = f.transcribe(ctx, mimeType, req.Data)
	}
	if err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to extract text", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, f.handleError(ctx, logCtx, docRef, "no text could be extracted", errors.New("empty transcription"))
	}

	if docRef != nil {
		objectName := fmt.Sprintf("%s/text.md", fileHash)
		bucket := f.storageClient.Bucket(f.config.ExtractedTextBucket)
		if err := gcp.SaveToGCSAtomically(ctx, bucket, objectName, text); err != nil {
			return nil, f.handleError(ctx, logCtx, docRef, "failed to save extracted text", err)
		}
		textURI := fmt.Sprintf("gs://%s/%s", f.config.ExtractedTextBucket, objectName)
		if err := f.records.MarkExtracted(ctx, docRef, pageCount, textURI); err != nil {
			logCtx.Error("Failed to mark record as extracted", "error", err)
		}
	}

	logCtx.Info("Extraction complete.", "pageCount", pageCount, "chars", len(text))
	return f.response(req, text), nil
}

// Close releases the underlying clients.
func (f *DocumentExtractorFunction) Close() error {
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c.Close())
	}
	f.closers = nil
	return errors.Join(errs...)
}

func (f *DocumentExtractorFunction) response(req *ExtractDocumentRequest, text string) *models.ExtractDocumentResponse {
	return &models.ExtractDocumentResponse{
		Filename:      req.Filename,
		DocType:       req.DocType,
		ExtractedText: text,
		Status:        "success",
	}
}

// cachedText returns previously extracted text. Lookup failures are logged and treated
// as a miss.
func (f *DocumentExtractorFunction) cachedText(ctx context.Context, logCtx *slog.Logger, fileHash string) (string, bool) {
	rec, err := f.records.FindExtracted(ctx, fileHash)
	if err != nil {
		logCtx.Warn("Extraction cache lookup failed", "error", err)
		return "", false
	}
	if rec == nil {
		return "", false
	}
	bucket, object, err := gcp.ParseGCSUri(rec.TextGCSUri)
	if err != nil {
		logCtx.Warn("Cached record has a bad text uri", "uri", rec.TextGCSUri, "error", err)
		return "", false
	}
	data, err := gcp.ReadGCSObject(ctx, f.storageClient.Bucket(bucket), object)
	if err != nil {
		logCtx.Warn("Failed to read cached text", "uri", rec.TextGCSUri, "error", err)
		return "", false
	}
	logCtx.Info("Using cached extraction.", "uri", rec.TextGCSUri)
	return string(data), true
}

// extractPDF splits the PDF into single pages and transcribes them concurrently.
// Pages are joined in page order.
func (f *DocumentExtractorFunction) extractPDF(ctx context.Context, logCtx *slog.Logger, data []byte) (string, int, error) {
	tempDir, err := os.MkdirTemp("", "extract-document-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePdfPath, data, 0o600); err != nil {
		return "", 0, fmt.Errorf("failed to write source pdf: %w", err)
	}
	optimizedPdfPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePdfPath, optimizedPdfPath); err != nil {
		return "", 0, fmt.Errorf("%w: invalid PDF: %v", ErrUnsupportedFormat, err)
	}
	pageCount, err := api.PageCountFile(optimizedPdfPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return "", 0, fmt.Errorf("%w: PDF has no pages", ErrEmptyInput)
	}
	if err := api.SplitFile(optimizedPdfPath, tempDir, 1, nil); err != nil {
		return "", 0, fmt.Errorf("failed to split PDF: %w", err)
	}
	logCtx.Info("PDF optimized and split locally.", "pageCount", pageCount)

	splitFileBase := strings.TrimSuffix(optimizedPdfPath, filepath.Ext(optimizedPdfPath))
	pages := make([]string, pageCount)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.config.TranscribeConcurrency)
	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		localSplitFilePath := fmt.Sprintf("%s_%d.pdf", splitFileBase, pageNumber)

		eg.Go(func() error {
			page, err := os.ReadFile(localSplitFilePath)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			text, err := f.transcribe(gctx, pdfMIMEType, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			pages[pageNumber-1] = text
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", pageCount, err
	}
	return joinPages(pages), pageCount, nil
}

func (f *DocumentExtractorFunction) transcribe(ctx context.Context, mimeType string, data []byte) (string, error) {
	text, err := f.transcriber.Transcribe(ctx, mimeType, data)
	if err != nil {
		return "", err
	}
	if gcp.IsRefusal(text) {
		return "", fmt.Errorf("%w: %q", ErrModelRefusal, truncate(text, 200))
	}
	return text, nil
}

func (f *DocumentExtractorFunction) handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	if docRef != nil {
		if err := f.records.MarkFailed(ctx, docRef, fmt.Sprintf("%s: %v", message, originalErr)); err != nil {
			logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
		}
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// detectMIMEType resolves the upload's media type from the declared type, the
// filename and finally the content itself.
func detectMIMEType(declared, filename string, data []byte) (string, error) {
	candidates := []string{declared, mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))), http.DetectContentType(data)}
	for _, c := range candidates {
		mediaType, _, err := mime.ParseMediaType(c)
		if err != nil || mediaType == "application/octet-stream" {
			continue
		}
		if mediaType == "image/jpg" {
			mediaType = "image/jpeg"
		}
		if mediaType == pdfMIMEType || imageMIMETypes[mediaType] {
			return mediaType, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
	return "", ErrUnsupportedFormat
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

func joinPages(pages []string) string {
	kept := make([]string, 0, len(pages))
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
