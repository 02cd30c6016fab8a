package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mana-sync-service/internal/logger"
)

const shutdownTimeout = 30 * time.Second

// Serve runs the scheduler and the HTTP API until ctx is cancelled, then
// shuts both down gracefully.
func (a *App) Serve(ctx context.Context) error {
	scheduler := a.Scheduler()
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	serverAddr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           a.Handler(),
		ReadTimeout:       a.Config.Server.GetReadTimeout(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.Config.Server.GetWriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	// Cycles started over HTTP must finish before the store closes.
	if err := a.Manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain sync cycles: %w", err))
	}
	return errors.Join(errs...)
}
