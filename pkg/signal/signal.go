package signal

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

var ErrSignal error = errors.New("received the quit signal")

// SignalHandler blocks until SIGINT or SIGTERM arrives, returning ErrSignal, or until ctx is done, returning nil.
// Run it next to the batch in an errgroup so that a signal cancels the batch context.
func SignalHandler(ctx context.Context) error {
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigint)

	select {
	case <-ctx.Done():
		log.Debug().Msg("signal handler: upstream context done")
	case sig := <-sigint:
		log.Warn().Str("signal", sig.String()).Msg("signal handler: os signal received, canceling batch")
		return ErrSignal
	}
	return nil
}
