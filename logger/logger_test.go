package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLogger(t *testing.T) {
	defer func() { Logger = zap.NewNop() }()

	require.Error(t, InitLogger("", "loud"))

	logFile := filepath.Join(t.TempDir(), "logs", "tangle.log")
	require.NoError(t, InitLogger(logFile, "info"))

	Named("test").Info("hello")
	Logger.Debug("filtered out")
	_ = Logger.Sync()

	_, err := os.Stat(filepath.Dir(logFile))
	require.NoError(t, err)
}
