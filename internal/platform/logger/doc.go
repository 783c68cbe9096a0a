// Package logger provides structured logging for the inbox service.
//
// It builds on log/slog with a JSON handler. Loggers travel through
// context.Context so request-scoped attributes (request ID, agent ID) reach the
// store and service layers without extra parameters.
package logger
