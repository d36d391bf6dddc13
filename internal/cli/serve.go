package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/app"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/config"
)

const (
	lockFileName    = "wavalidator.lock"
	shutdownTimeout = 30 * time.Second
)

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and operator UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cc.cfg, cc.logger, cc.appOptions...)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) error {
	lock, err := acquireLock(lockDir(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("release instance lock failed", zap.Error(err))
		}
	}()

	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("application shutdown incomplete", zap.Error(err))
		}
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Open event streams only end when their request context does.
	srv.RegisterOnShutdown(func() {
		_ = a.Broadcaster.Close(context.Background())
	})
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// lockDir guards the browser profile when a session is used, otherwise the
// local storage directory.
func lockDir(cfg config.Config) string {
	if cfg.Session.Enabled && cfg.Session.UserDataDir != "" {
		return filepath.Dir(filepath.Clean(cfg.Session.UserDataDir))
	}
	if cfg.Storage.BaseDir != "" {
		return cfg.Storage.BaseDir
	}
	return os.TempDir()
}

func acquireLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another wavalidator instance is already using %s", dir)
	}
	return lock, nil
}
