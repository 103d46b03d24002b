package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Wait blocks until a termination signal arrives, then runs stop and
// exits. A second signal terminates immediately without waiting for the
// drain to finish.
func Wait(stop func()) {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	<-ctx.Done()
	cancel()

	zap.L().Info("termination signal received, shutting down")

	force := make(chan os.Signal, 1)
	signal.Notify(force, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-force
		zap.L().Fatal("second signal received, terminating")
	}()

	stop()
	os.Exit(0)
}
