package server

import (
	"context"
	"time"
)

// DefaultRestartBackoff is how long Run waits before restarting a listener
// that died unexpectedly.
const DefaultRestartBackoff = 10 * time.Second

// Run serves on address and restarts the listener after a backoff whenever it
// exits with an error, until the context is cancelled. A long-lived receive
// node must survive transient bind failures and listener crashes without
// operator intervention.
func (s *Server) Run(ctx context.Context, address string, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = DefaultRestartBackoff
	}
	logger := s.logger()

	for {
		err := ListenAndServe(ctx, address, s.AETitle, s.Handler,
			WithLogger(logger),
			WithReadTimeout(s.ReadTimeout),
			WithWriteTimeout(s.WriteTimeout))

		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Error("DICOM listener exited, restarting",
			"address", address,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
