package logging

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates the process-wide JSON logger and installs it as zap's global logger. Every log
// message is additionally counted per level in a Prometheus counter, so warn/error bursts of the
// lag check are visible on the metrics endpoint itself.
func NewLogger(cfg Config, metricsNamespace string) *zap.Logger {
	messageCounter := promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "log_messages_total",
		Help:      "Total number of log messages by log level emitted by the lag check.",
	}, []string{"level"})

	// Initialize the counter for every level so that each one exposes 0 on startup
	for _, level := range []zapcore.Level{
		zapcore.DebugLevel,
		zapcore.InfoLevel,
		zapcore.WarnLevel,
		zapcore.ErrorLevel,
		zapcore.FatalLevel,
		zapcore.PanicLevel,
	} {
		messageCounter.WithLabelValues(level.String())
	}

	// Parse log level text to zap.LogLevel. Error check isn't required because the input is already validated.
	level := zap.NewAtomicLevel()
	_ = level.UnmarshalText([]byte(cfg.Level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	)
	core = zapcore.RegisterHooks(core, func(entry zapcore.Entry) error {
		messageCounter.WithLabelValues(entry.Level.String()).Inc()
		return nil
	})

	logger := zap.New(core)
	zap.ReplaceGlobals(logger)

	return logger
}
