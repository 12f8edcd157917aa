package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/relaydev/recaptcha-relay/internal/admission"
	"github.com/relaydev/recaptcha-relay/internal/api"
	"github.com/relaydev/recaptcha-relay/internal/browser"
	"github.com/relaydev/recaptcha-relay/internal/config"
	"github.com/relaydev/recaptcha-relay/internal/fallback"
	"github.com/relaydev/recaptcha-relay/internal/issuer"
	"github.com/relaydev/recaptcha-relay/internal/ratelimit"
	"github.com/relaydev/recaptcha-relay/internal/solver"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting reCAPTCHA relay...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Playwright driver and launcher, only when local solving is on
	var launch browser.LaunchFunc
	if cfg.LocalSolverEnabled {
		chromium, err := browser.NewChromium(cfg.Headless)
		if err != nil {
			log.Fatalf("Failed to start playwright: %v", err)
		}
		defer chromium.Stop()
		launch = chromium.Launch
		log.Printf("✓ Playwright driver ready (headless=%v)", cfg.Headless)
	} else {
		log.Println("⚠️ Local solving disabled, all requests go to the fallback provider")
	}

	// Browser supervisor (lazy launch on first request)
	supervisor := browser.NewSupervisor(launch, browser.SupervisorOptions{
		CrashThreshold: cfg.CrashThreshold,
		CrashWindow:    cfg.CrashWindow,
		MaxAttempts:    cfg.RestartMaxAttempts,
		Backoff:        cfg.RestartBackoff,
	})
	defer supervisor.Shutdown()
	log.Println("✓ Browser supervisor initialized")

	// Admission gate
	gate := admission.NewGate(int64(cfg.MaxConcurrency))
	log.Printf("✓ Admission gate initialized (max %d concurrent solves)", cfg.MaxConcurrency)

	// Challenge solver
	recaptcha := solver.New(solver.Options{
		SiteKey:     cfg.SiteKey,
		URLTemplate: cfg.TargetURLTemplate,
		Timeout:     cfg.SolverTimeout,
	})

	// Fallback provider
	dispatcher := fallback.New(cfg.FallbackURL, cfg.FallbackAPIKey, cfg.RequestTimeout)
	if cfg.FallbackEnabled && dispatcher.Enabled() {
		log.Println("✓ Fallback provider configured")
	}

	// Orchestrator
	orchestrator := issuer.New(gate, supervisor, recaptcha, dispatcher, issuer.Options{
		RequestTimeout:  cfg.RequestTimeout,
		LocalEnabled:    cfg.LocalSolverEnabled,
		FallbackEnabled: cfg.FallbackEnabled,
	})

	// Rate limiter
	limiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	log.Printf("✓ Rate limiter initialized (%d req/hour per target)", cfg.RateLimitPerHour)

	// HTTP handlers
	handler := api.NewHandler(orchestrator, supervisor, limiter, cfg.Headless, cfg.LocalSolverEnabled)
	router := handler.SetupRoutes()
	log.Println("✓ HTTP routes configured")

	// Write timeout has to outlive the slowest token issuance.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
		log.Printf("📍 POST /token, GET /health, GET /")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("\n⏳ Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped cleanly")
}
