package billing

import (
	"log/slog"
	"time"
)

// ServiceOption configures optional service dependencies.
type ServiceOption func(*service)

// WithIdempotencyGuard installs the fast-path replay filter.
func WithIdempotencyGuard(guard IdempotencyGuard) ServiceOption {
	return func(s *service) {
		if guard != nil {
			s.guard = guard
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the reconciler clock. Intended for tests that need
// deterministic timestamps and grace-period decisions.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.rec.now = now
		}
	}
}

// WithIDGenerator overrides history item id generation. Intended for tests.
func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *service) {
		if newID != nil {
			s.rec.newID = newID
		}
	}
}
