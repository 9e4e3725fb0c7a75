package logger

import (
	"context"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loggerKey is the key for the logger in the context.
type loggerKey struct{}

// Init initializes a new logger and sets it in the context. When lp is nil
// the OTLP bridge is skipped and logs go to stdout only.
func Init(ctx context.Context, serviceInfo string, lp *sdklog.LoggerProvider) (context.Context, *zap.Logger) {
	stdoutCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		zapcore.InfoLevel,
	)

	var logger *zap.Logger
	if lp != nil {
		logger = zap.New(zapcore.NewTee(
			stdoutCore,
			otelzap.NewCore(serviceInfo, otelzap.WithLoggerProvider(lp)),
		))
	} else {
		logger = zap.New(stdoutCore)
	}

	return context.WithValue(ctx, loggerKey{}, logger), logger
}

// FromContext extracts the logger from the context.
func FromContext(ctx context.Context) *zap.Logger {
	value := ctx.Value(loggerKey{})
	if value == nil {
		return zap.NewNop()
	}

	logger, ok := value.(*zap.Logger)
	if !ok {
		return zap.NewNop()
	}

	return logger
}
