// Package logger provides structured logging built on Uber's zap.
//
// The *Logger type satisfies the small Logger interfaces declared by the
// database and uow packages, so those packages never import zap directly.
//
// Basic Usage:
//
//	import "github.com/Aleph-Alpha/sqlscope/v1/logger"
//
//	log := logger.NewLoggerClient(logger.Config{
//		Level:         logger.Info,
//		ServiceName:   "orders",
//		EnableTracing: true,
//	})
//
//	log.Info("Scope entered", nil, map[string]interface{}{
//		"session_id": id,
//	})
//
//	// Trace and span IDs are added when ctx carries an active span.
//	log.ErrorWithContext(ctx, "Commit failed", err, nil)
//
// FX Module Integration:
//
//	app := fx.New(
//		logger.FXModule,
//		fx.Supply(logger.Config{Level: logger.Debug}),
//	)
//
// Configuration:
//
//	ZAP_LOGGER_LEVEL=debug          # debug, info, warning, error
//	LOGGER_SERVICE_NAME=orders      # value of the "service" field
//	LOGGER_ENABLE_TRACING=true      # attach trace_id/span_id in *WithContext methods
//
// Thread Safety:
//
// All methods are safe for concurrent use by multiple goroutines.
package logger
