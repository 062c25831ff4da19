package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type invocationKey struct{}

type Logger struct {
	*zap.Logger
}

// NewLogger builds a console logger writing to stderr so command output on
// stdout stays clean.
func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.DisableStacktrace = true

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// NewInvocation tags ctx with a fresh invocation id.
func NewInvocation(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return context.WithValue(ctx, invocationKey{}, id), id
}

func InvocationID(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}

func (l *Logger) WithInvocation(ctx context.Context) *zap.Logger {
	if id := InvocationID(ctx); id != "" {
		return l.With(zap.String("invocation_id", id))
	}
	return l.Logger
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
