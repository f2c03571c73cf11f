// DevOrchestra API server
// Multi-agent code generation pipeline with live progress streaming
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devorchestra/internal/ai"
	"devorchestra/internal/bus"
	"devorchestra/internal/config"
	"devorchestra/internal/handlers"
	"devorchestra/internal/logging"
	"devorchestra/internal/orchestrator"
	"devorchestra/internal/store"
	"devorchestra/internal/ws"
)

func main() {
	cfg := config.Load()

	logging.Init()
	defer logging.Sync()
	log := logging.WithContext(zap.String("service", "devorchestra"))
	logging.S().Infof("starting in %s mode", cfg.Environment)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	taskStore, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open task store", zap.Error(err))
	}
	defer taskStore.Close()

	statusBus := bus.New(cfg.RedisURL, log)
	defer statusBus.Close()

	hub := ws.NewHub(log)
	go hub.Run()
	defer hub.Shutdown()

	// Without credentials the pipeline still runs end to end on deterministic
	// fallback content.
	var provider ai.Provider
	var gemini *ai.GeminiClient
	if cfg.GeminiAPIKey != "" {
		gemini = ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		provider = gemini
		log.Info("completion provider configured", zap.String("model", cfg.GeminiModel))
	} else {
		log.Warn("GEMINI_API_KEY not set, completions unavailable")
	}

	throttle := ai.NewThrottle(cfg.ThrottleInterval)
	client := ai.NewClient(provider, throttle, ai.ClientConfig{
		MaxAttempts:       cfg.MaxAttempts,
		DefaultRetryDelay: cfg.DefaultRetryDelay,
	}, log)
	log.Info("completion client ready",
		zap.Duration("min_interval", throttle.Interval()),
		zap.Int("max_attempts", cfg.MaxAttempts))

	orch := orchestrator.New(cfg, taskStore, hub, client, statusBus, log)

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.New(orch, taskStore, statusBus, hub, log).Register(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	if gemini != nil {
		usage := gemini.GetUsage()
		log.Info("provider usage",
			zap.Int64("requests", usage.RequestCount),
			zap.Int64("tokens", usage.TotalTokens),
			zap.Int64("errors", usage.ErrorCount))
	}
	log.Info("server stopped")
}
