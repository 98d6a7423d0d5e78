package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stackinspector/teo-utils/internal/logging"
)

// startupGrace is how long Start waits for an immediate listen error.
const startupGrace = 200 * time.Millisecond

// Managed runs an http.Server in the background.
type Managed struct {
	server   *http.Server
	logger   *zap.Logger
	errCh    chan error
	startErr error
}

// NewManaged wraps handler in a server listening on addr.
func NewManaged(addr string, handler http.Handler, logger *zap.Logger) *Managed {
	logger = logging.OrNop(logger)
	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)

	return &Managed{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ErrorLog:          errLog,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		logger: logger,
		errCh:  make(chan error, 1),
	}
}

// Start listens in the background and reports a listen error that happens
// within the startup grace period.
func (m *Managed) Start() error {
	go func() {
		err := m.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- err
		}
		close(m.errCh)
	}()

	select {
	case err := <-m.errCh:
		if err != nil {
			m.startErr = err
			return fmt.Errorf("status server failed to start: %w", err)
		}
	case <-time.After(startupGrace):
	}
	m.logger.Info("status server listening", zap.String("addr", m.server.Addr))
	return nil
}

// Shutdown stops the server, waiting for active requests until ctx ends.
func (m *Managed) Shutdown(ctx context.Context) {
	if m.startErr != nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.Error(err))
	}
}
