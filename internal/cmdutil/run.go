package cmdutil

import (
	"context"
	"log/slog"
	"net"
	"os/signal"
	"time"
)

// ShutdownDrain bounds how long Serve is given to return after ctx is
// cancelled, mirroring the teacher's srv.Shutdown(shutdownCtx) 30s budget.
// The services' Serve methods return as soon as their listener is closed;
// connections already accepted are not waited for and keep running in their
// own goroutines until they finish or the process exits.
const ShutdownDrain = 30 * time.Second

// Serve func is the shape every service's front-end Serve method has:
// accept connections on ln until ctx is cancelled.
type Serve func(ctx context.Context, ln net.Listener) error

// RunUntilSignal runs serve against ln until a shutdown signal arrives, then
// cancels the root context and waits up to ShutdownDrain for serve to
// return. Grounded on the teacher's cmd/server/main.go: root context
// cancelled on signal, srv.Shutdown under a bounded context, log lines at
// start/stop.
func RunUntilSignal(serve Serve, ln net.Listener, logger *slog.Logger, serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), ShutdownSignals...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, ln)
	}()

	<-ctx.Done()
	logger.Info(serviceName + ": shutdown signal received, closing listener")

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error(serviceName+": server error", "err", err)
			return err
		}
	case <-time.After(ShutdownDrain):
		logger.Warn(serviceName + ": shutdown drain timed out")
	}

	logger.Info(serviceName + ": stopped")
	return nil
}
