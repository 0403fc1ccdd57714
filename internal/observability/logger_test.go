package observability

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/usersim-cli/internal/config"
)

func TestGetLogger_BeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// Must not panic even though nothing was initialized.
	logger.Info("noop")
}

func TestInitialize_OnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "usersim-test",
		LogFile:     filepath.Join(t.TempDir(), "test.log"),
	}
	Initialize(cfg, zapcore.AddSync(&discardSyncer{}))
	first := GetLogger()

	// A second Initialize must be a no-op.
	Initialize(config.LoggerConfig{Level: "error", ServiceName: "other"}, zapcore.AddSync(&discardSyncer{}))
	assert.Same(t, first, GetLogger())
}

func TestInitialize_InvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	Initialize(config.LoggerConfig{Level: "bogus", ServiceName: "usersim-test"}, zapcore.AddSync(&discardSyncer{}))
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel), "debug should be disabled at info level")
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

type discardSyncer struct{}

func (*discardSyncer) Write(p []byte) (int, error) { return len(p), nil }
func (*discardSyncer) Sync() error                 { return nil }
