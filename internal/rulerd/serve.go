package rulerd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hydraforge/rulerd/internal/transport"
)

// DefaultMaxErrors is the per-process uncaught-error budget before forced
// shutdown.
const DefaultMaxErrors = 10

// ServeOptions configures Serve.
type ServeOptions struct {
	// MaxErrors is the error budget; <= 0 falls back to DefaultMaxErrors.
	MaxErrors int
	Logger    *slog.Logger
}

// Serve runs the application loop: start the transport,
// then loop receiving a message, running it through srv's raw chain, and
// handing the response back to the transport.
//
// Two error sinks:
//   - a validation failure on receive (transport.ErrInvalidMessage) is
//     logged at WARN and the loop continues without counting against the
//     error budget;
//   - any other uncaught error increments a counter; at MaxErrors the
//     loop logs at the CRITICAL-equivalent level, returns a non-nil
//     error (the caller is expected to exit 1), and stops.
//
// ctx cancellation (e.g. from an OS interrupt via signal.NotifyContext)
// causes a clean return with a nil error (exit 0); a failure from
// transport.Start is returned immediately and is fatal to the caller
// (exit 1).
func Serve(ctx context.Context, tr transport.Transport, srv *NameServer, opts ServeOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxErrors := opts.MaxErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}

	if err := tr.Start(ctx); err != nil {
		return err
	}

	raw := srv.RawEntryPoint()
	errCount := 0

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "reason", "context cancelled")
			return nil
		default:
		}

		msg, err := tr.Receive(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Info("shutting down", "reason", "context cancelled")
				return nil
			}
			if errors.Is(err, transport.ErrInvalidMessage) {
				logger.Warn("dropping invalid message", "err", err)
				continue
			}
			if !bumpErrorBudget(&errCount, maxErrors, logger, err) {
				return err
			}
			continue
		}

		reply, err := raw(msg.Packet)
		if err != nil {
			if !bumpErrorBudget(&errCount, maxErrors, logger, err) {
				return err
			}
			continue
		}

		if reply == nil {
			continue
		}
		if err := tr.Send(ctx, msg, reply); err != nil {
			if !bumpErrorBudget(&errCount, maxErrors, logger, err) {
				return err
			}
		}
	}
}

// bumpErrorBudget increments the error counter and reports whether the
// loop should continue (true) or stop because the budget is exhausted
// (false), logging at CRITICAL-equivalent severity in the latter case.
func bumpErrorBudget(count *int, max int, logger *slog.Logger, err error) bool {
	*count++
	if *count < max {
		logger.Error("uncaught transport/handler error", "err", err, "count", *count, "max", max)
		return true
	}
	logger.Error("error budget exhausted, shutting down", "err", err, "count", *count, "max", max)
	return false
}
