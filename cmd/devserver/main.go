package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/factory"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/handler"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory(ctx)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	if cfg.IsProduction() {
		util.Warn("The development server is running with ENVIRONMENT=production")
	}

	router := handler.NewRouter(
		handler.NewTriggerHandler(f.CognitoHandler(), util.Get()),
		f.HealthChecks(),
		util.Get(),
	)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		util.Info("Development server started",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down development server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		util.Error("Development server stopped with error", util.ErrorField(err))
		_ = f.Close()
		os.Exit(1)
	}
	util.Info("Development server stopped")
}
