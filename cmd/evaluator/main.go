package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/answerevaluator/internal/api"
	"github.com/Lllllllleong/answerevaluator/internal/client"
	"github.com/Lllllllleong/answerevaluator/internal/config"
	"github.com/Lllllllleong/answerevaluator/internal/evaluation"
	"github.com/Lllllllleong/answerevaluator/internal/logger"
)

func main() {
	cfg := config.MustLoad()

	log := logger.SetupLogger(cfg.Env)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"env", cfg.Env,
		"addr", cfg.HTTPServer.Address,
		"extract_document_url", cfg.Services.ExtractDocumentURL,
		"extract_questions_url", cfg.Services.ExtractQuestionsURL,
		"generate_answer_url", cfg.Services.GenerateAnswerURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc := client.New(client.Config{
		ExtractDocumentURL:  cfg.Services.ExtractDocumentURL,
		ExtractQuestionsURL: cfg.Services.ExtractQuestionsURL,
		GenerateAnswerURL:   cfg.Services.GenerateAnswerURL,
		ExtractTimeout:      cfg.Services.ExtractTimeout,
		SegmentTimeout:      cfg.Services.SegmentTimeout,
		GenerateTimeout:     cfg.Services.GenerateTimeout,
	}, nil)

	bus := evaluation.NewEventBus(cfg.EventBufferSize)
	store := evaluation.NewStore(bus)
	coordinator := evaluation.NewCoordinator(store, svc, log)
	pipeline := evaluation.NewPipeline(svc, svc, coordinator, evaluation.NewDocumentRegistry(bus), log)

	handler := api.NewHandler(pipeline, coordinator, bus, cfg.MaxUploadBytes, log)
	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		slog.Info("starting evaluator http server", "addr", cfg.HTTPServer.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("evaluator server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down evaluator server")

	// Resolve waiting answer requests before draining connections.
	coordinator.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("evaluator shutdown error", "err", err)
	}
}
