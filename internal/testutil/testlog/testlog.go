// Package testlog gives each test a zerolog logger that writes through
// t.Log, so output only shows for failing or verbose tests.
package testlog

import (
	"testing"

	"github.com/echolink/echolink-go/internal/logging"
	"github.com/rs/zerolog"
)

// Start returns a debug-level logger bound to t. ECHOLINK_LOG_LEVEL still
// overrides the level.
func Start(t testing.TB) *zerolog.Logger {
	t.Helper()
	cfg := logging.DefaultConfig(logging.ProfileTest)
	logging.ApplyEnv(&cfg)

	logger := zerolog.New(zerolog.NewTestWriter(t)).
		Level(cfg.Level).
		With().
		Str("test", t.Name()).
		Logger()
	return &logger
}
