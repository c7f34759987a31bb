// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components take a *Logger and derive a named child, so every line says
// which part of the agent wrote it:
//
//	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
//	agentLog := logger.Named("agent").With(zap.String("version", version))
//	agentLog.Info("Cache hit", zap.String("url", req.URL.String()))
package logging
