package svc

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/grabwell/grabwell/internal/pkg/logger"
	otelpkg "github.com/grabwell/grabwell/internal/pkg/otel"
)

const shutdownTimeout = 10 * time.Second

// Init initializes the service context: signal handling, the OTel providers
// (unless OTEL_DISABLED is set) and the context-scoped logger. The returned
// cancel function flushes the providers.
func Init() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	disabled, _ := strconv.ParseBool(os.Getenv("OTEL_DISABLED"))
	if disabled {
		ctx, _ = logger.Init(ctx, serviceInfo(), nil)
		return ctx, stop
	}

	providers, err := otelpkg.Init(ctx, Name(), Version())
	if err != nil {
		// Observability is best-effort at startup; fall back to stdout logging.
		ctx, _ = logger.Init(ctx, serviceInfo(), nil)
		return ctx, stop
	}

	ctx, _ = logger.Init(ctx, serviceInfo(), providers.Logger)

	cancel := func() {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()

		_ = providers.Shutdown(shutdownCtx)
		stop()
	}

	return ctx, cancel
}

// serviceInfo returns the "name@version" identifier used by the log bridge.
func serviceInfo() string {
	return Name() + "@" + Version()
}
