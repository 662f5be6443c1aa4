package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/answerevaluator/internal/config"
	"github.com/Lllllllleong/answerevaluator/internal/logger"
	"github.com/Lllllllleong/answerevaluator/internal/models"
	"github.com/Lllllllleong/answerevaluator/internal/services"
)

var (
	answerGeneratorInstance *services.AnswerGeneratorFunction
	once                    sync.Once
	initErr                 error
)

func init() {
	slog.SetDefault(logger.SetupLogger(logger.EnvProd))

	functions.HTTP("HandleGenerateAnswer", handleGenerateAnswer)
}

// main is required by the Go Functions Framework.
func main() {}

func handleGenerateAnswer(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := config.LoadFunctionConfig()
		if err != nil {
			initErr = err
			return
		}
		answerGeneratorInstance, initErr = services.NewAnswerGenerator(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.GenerateAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		services.WriteJSON(w, http.StatusBadRequest, models.ErrorResponse{Detail: "could not parse JSON"})
		return
	}

	res, err := answerGeneratorInstance.Process(r.Context(), &req)
	if err != nil {
		services.WriteError(w, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, res)
}
