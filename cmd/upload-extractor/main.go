package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/answerevaluator/internal/config"
	"github.com/Lllllllleong/answerevaluator/internal/logger"
	"github.com/Lllllllleong/answerevaluator/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	uploadExtractorInstance *services.UploadExtractorFunction
	once                    sync.Once
	initErr                 error
)

func init() {
	slog.SetDefault(logger.SetupLogger(logger.EnvProd))

	// Triggered by object finalize events on the inbox bucket.
	functions.CloudEvent("ExtractUploadedDocument", extractUploadedDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func extractUploadedDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		cfg, err := config.LoadFunctionConfig()
		if err != nil {
			initErr = err
			return
		}
		uploadExtractorInstance, initErr = services.NewUploadExtractor(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning an error marks the invocation as failed so the event is retried.
	return uploadExtractorInstance.Process(ctx, gcsEvent)
}
