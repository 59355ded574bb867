// Package synclog provides the structured logger construction helpers and
// the audit event catalog used across the sync core, so a sync history can
// be reconstructed from typed events without re-deriving it from raw
// envelopes.
package synclog

import "go.uber.org/zap"

// New builds a production zap.Logger suitable for cmd/syncd.
func New() (*zap.Logger, error) {
	return zap.NewProduction()
}

// Nop returns a logger that discards everything, the default for tests and
// for any component constructed without an explicit logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
